package domain

import (
	"context"
	"errors"

	"github.com/smallbiznis/tokenrelay/pkg/db/pagination"
)

type LogUsageRequest struct {
	UserID      string
	Model       string
	TokensCount int
	StatusCode  int
}

type ListUsageRequest struct {
	UserID string
	Page   int
	Limit  int
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageLogs []UsageLog `json:"usage_logs"`
}

type Service interface {
	LogUsage(context.Context, LogUsageRequest) (UsageLog, error)
	List(context.Context, ListUsageRequest) (ListUsageResponse, error)
	Summary(ctx context.Context, userID string) (Summary, error)
}

var (
	ErrInvalidUsage      = errors.New("invalid_usage")
	ErrInvalidPagination = errors.New("invalid_pagination")
	ErrPersistence       = errors.New("Failed to log usage to database")
	ErrUsageRead         = errors.New("Failed to load usage from database")
)
