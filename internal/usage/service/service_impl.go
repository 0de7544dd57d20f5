package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/tokenrelay/internal/clock"
	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenrelay/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/tokenrelay/internal/usage/domain"
	"github.com/smallbiznis/tokenrelay/internal/usage/repository"
	"github.com/smallbiznis/tokenrelay/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID   *snowflake.Node
	clock   clock.Clock
	repo    usagedomain.Repository
	metrics *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:   p.GenID,
		clock:   p.Clock,
		repo:    repository.Provide(),
		metrics: p.Metrics,
	}
}

func (s *Service) LogUsage(ctx context.Context, req usagedomain.LogUsageRequest) (usagedomain.UsageLog, error) {
	userID := strings.TrimSpace(req.UserID)
	model := strings.TrimSpace(req.Model)
	if userID == "" || model == "" || req.TokensCount < 0 {
		return usagedomain.UsageLog{}, usagedomain.ErrInvalidUsage
	}
	status := req.StatusCode
	if status == 0 {
		status = http.StatusOK
	}

	record := usagedomain.UsageLog{
		ID:               s.genID.Generate(),
		UserID:           userID,
		ModelUsed:        model,
		TokensCount:      req.TokensCount,
		APIRequestStatus: status,
		CreatedAt:        s.clock.Now(),
	}

	if err := s.repo.Insert(ctx, s.db, &record); err != nil {
		logger.WithContext(ctx, s.log).Error("failed to log usage",
			zap.String("model", model),
			zap.Int("tokens_count", req.TokensCount),
			zap.Error(err),
		)
		return usagedomain.UsageLog{}, usagedomain.ErrPersistence
	}

	s.metrics.RecordUsageLogged(ctx, status)
	return record, nil
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	userID := strings.TrimSpace(req.UserID)
	if userID == "" {
		return usagedomain.ListUsageResponse{}, usagedomain.ErrInvalidUsage
	}
	page, err := pagination.Pagination{Page: req.Page, Limit: req.Limit}.Normalize()
	if err != nil {
		return usagedomain.ListUsageResponse{}, fmt.Errorf("%w: %v", usagedomain.ErrInvalidPagination, err)
	}

	logs, err := s.repo.ListByUser(ctx, s.db, userID, page)
	if err != nil {
		logger.WithContext(ctx, s.log).Error("failed to list usage", zap.Error(err))
		return usagedomain.ListUsageResponse{}, usagedomain.ErrUsageRead
	}
	total, err := s.repo.CountByUser(ctx, s.db, userID)
	if err != nil {
		logger.WithContext(ctx, s.log).Error("failed to count usage", zap.Error(err))
		return usagedomain.ListUsageResponse{}, usagedomain.ErrUsageRead
	}

	items := make([]usagedomain.UsageLog, 0, len(logs))
	for _, l := range logs {
		if l == nil {
			continue
		}
		items = append(items, *l)
	}

	return usagedomain.ListUsageResponse{
		PageInfo: pagination.PageInfo{
			Page:  page.Page,
			Limit: page.Limit,
			Total: total,
		},
		UsageLogs: items,
	}, nil
}

func (s *Service) Summary(ctx context.Context, userID string) (usagedomain.Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return usagedomain.Summary{}, usagedomain.ErrInvalidUsage
	}
	summary, err := s.repo.SummarizeByUser(ctx, s.db, userID)
	if err != nil {
		logger.WithContext(ctx, s.log).Error("failed to summarize usage", zap.Error(err))
		return usagedomain.Summary{}, usagedomain.ErrUsageRead
	}
	return summary, nil
}
