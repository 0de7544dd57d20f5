package repository

import (
	"context"

	usagedomain "github.com/smallbiznis/tokenrelay/internal/usage/domain"
	"github.com/smallbiznis/tokenrelay/pkg/db/pagination"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, log *usagedomain.UsageLog) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO usage_logs (id, user_id, model_used, tokens_count, api_request_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		log.ID,
		log.UserID,
		log.ModelUsed,
		log.TokensCount,
		log.APIRequestStatus,
		log.CreatedAt,
	).Error
}

func (r *repo) ListByUser(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*usagedomain.UsageLog, error) {
	var logs []*usagedomain.UsageLog
	err := db.WithContext(ctx).
		Model(&usagedomain.UsageLog{}).
		Where("user_id = ?", userID).
		Order("created_at desc, id desc").
		Offset(page.Offset()).
		Limit(page.Limit).
		Find(&logs).Error
	if err != nil {
		return nil, err
	}
	return logs, nil
}

func (r *repo) CountByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).
		Model(&usagedomain.UsageLog{}).
		Where("user_id = ?", userID).
		Count(&total).Error
	return total, err
}

func (r *repo) SummarizeByUser(ctx context.Context, db *gorm.DB, userID string) (usagedomain.Summary, error) {
	var summary usagedomain.Summary
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(tokens_count), 0) AS total_tokens, COUNT(*) AS requests
		 FROM usage_logs WHERE user_id = ?`,
		userID,
	).Scan(&summary).Error
	return summary, err
}
