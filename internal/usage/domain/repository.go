package domain

import (
	"context"

	"github.com/smallbiznis/tokenrelay/pkg/db/pagination"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, log *UsageLog) error
	ListByUser(ctx context.Context, db *gorm.DB, userID string, page pagination.Pagination) ([]*UsageLog, error)
	CountByUser(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	SummarizeByUser(ctx context.Context, db *gorm.DB, userID string) (Summary, error)
}
