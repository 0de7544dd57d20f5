package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/tokenrelay/internal/profile/domain"
	"gorm.io/gorm"
)

const setBillingCustomerSQL = `UPDATE profiles SET billing_customer_id = ?, updated_at = ? WHERE id = ? AND billing_customer_id IS NULL`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Profile, error) {
	var profile domain.Profile
	err := db.WithContext(ctx).
		Where("id = ?", id).
		Take(&profile).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (r *repo) SetBillingCustomerIfEmpty(ctx context.Context, db *gorm.DB, id, customerID string, at time.Time) (bool, error) {
	result := db.WithContext(ctx).Exec(setBillingCustomerSQL, customerID, at, id)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}
