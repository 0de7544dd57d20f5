package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Profile, error)
	SetBillingCustomerIfEmpty(ctx context.Context, db *gorm.DB, id, customerID string, at time.Time) (bool, error)
}
