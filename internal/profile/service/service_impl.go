package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/tokenrelay/internal/clock"
	"github.com/smallbiznis/tokenrelay/internal/profile/domain"
	"github.com/smallbiznis/tokenrelay/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	clock clock.Clock
	repo  domain.Repository
}

func New(p Params) domain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("profile.service"),
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) FindByID(ctx context.Context, id string) (*domain.Profile, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, domain.ErrInvalidProfileID
	}
	return s.repo.FindByID(ctx, s.db, id)
}

func (s *Service) SetBillingCustomerIfEmpty(ctx context.Context, id, customerID string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return false, domain.ErrInvalidProfileID
	}
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return false, domain.ErrInvalidCustomerID
	}
	stored, err := s.repo.SetBillingCustomerIfEmpty(ctx, s.db, id, customerID, s.clock.Now())
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			s.log.Error("billing customer already linked to another profile",
				zap.String("profile_id", id),
				zap.String("customer_id", customerID),
			)
			return false, fmt.Errorf("%w: %s", domain.ErrCustomerLinkedElsewhere, customerID)
		}
		return false, err
	}
	return stored, nil
}
