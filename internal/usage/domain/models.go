// Package domain contains the usage log model and the usage service contract.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageLog records one completed generation for a caller.
type UsageLog struct {
	ID               snowflake.ID `gorm:"primaryKey;autoIncrement:false" json:"id"`
	UserID           string       `gorm:"type:varchar(36);not null;index:ix_usage_logs_user_created,priority:1" json:"user_id"`
	ModelUsed        string       `gorm:"type:text;not null" json:"model_used"`
	TokensCount      int          `gorm:"not null" json:"tokens_count"`
	APIRequestStatus int          `gorm:"column:api_request_status;not null" json:"api_request_status"`
	CreatedAt        time.Time    `gorm:"not null;index:ix_usage_logs_user_created,priority:2,sort:desc" json:"created_at"`
}

// TableName sets the database table name.
func (UsageLog) TableName() string { return "usage_logs" }

// Summary aggregates a caller's usage.
type Summary struct {
	TotalTokens int64 `json:"total_tokens"`
	Requests    int64 `json:"requests"`
}
