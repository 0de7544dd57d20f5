package service

import (
	"context"
	"errors"
	"strings"
	"time"

	billingdomain "github.com/smallbiznis/tokenrelay/internal/billing/domain"
	"github.com/smallbiznis/tokenrelay/internal/lock"
	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/tokenrelay/internal/observability/metrics"
	profiledomain "github.com/smallbiznis/tokenrelay/internal/profile/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	defaultPollInterval = 250 * time.Millisecond
	defaultPollAttempts = 3
)

type ReporterParams struct {
	fx.In

	Reconciler billingdomain.Reconciler
	Profiles   profiledomain.Service
	Lock       *lock.ProvisionLock `optional:"true"`
	Log        *zap.Logger
	Metrics    *obsmetrics.Metrics `optional:"true"`
}

// UsageReporter resolves the caller's billing customer, provisioning one on
// first use, and reports the generation's tokens against it.
type UsageReporter struct {
	reconciler billingdomain.Reconciler
	profiles   profiledomain.Service
	lock       *lock.ProvisionLock
	log        *zap.Logger
	metrics    *obsmetrics.Metrics

	pollInterval time.Duration
	pollAttempts int
}

func NewUsageReporter(p ReporterParams) *UsageReporter {
	return &UsageReporter{
		reconciler:   p.Reconciler,
		profiles:     p.Profiles,
		lock:         p.Lock,
		log:          p.Log.Named("billing.reporter"),
		metrics:      p.Metrics,
		pollInterval: defaultPollInterval,
		pollAttempts: defaultPollAttempts,
	}
}

func (r *UsageReporter) Report(ctx context.Context, req billingdomain.ReportUsageRequest) error {
	log := logger.WithContext(ctx, r.log)
	if !r.reconciler.Enabled() {
		r.metrics.RecordBillingReport(ctx, billingdomain.OutcomeNotConfigured)
		return nil
	}

	profile, err := r.profiles.FindByID(ctx, req.UserID)
	if err != nil {
		log.Error("failed to load profile", zap.Error(err))
		return err
	}

	customerID := profile.CustomerID()
	if customerID == "" {
		email := strings.TrimSpace(req.Email)
		if email == "" && profile != nil {
			email = profile.Email
		}
		customerID, err = r.resolveCustomer(ctx, req.UserID, email, profile)
		if err != nil {
			r.metrics.RecordBillingReport(ctx, billingdomain.OutcomeProviderError)
			return err
		}
	}
	if customerID == "" {
		log.Warn("no billing customer available, usage not reported")
		r.metrics.RecordBillingReport(ctx, billingdomain.OutcomeNoCustomer)
		return nil
	}

	result, err := r.reconciler.ReportUsage(ctx, customerID, req.Tokens)
	r.metrics.RecordBillingReport(ctx, result.Outcome())
	if !result.Success {
		log.Info("usage not reported",
			zap.String("customer_id", customerID),
			zap.String("reason", result.Reason),
		)
	}
	return err
}

func (r *UsageReporter) resolveCustomer(ctx context.Context, userID, email string, profile *profiledomain.Profile) (string, error) {
	log := logger.WithContext(ctx, r.log)

	token, acquired, err := r.lock.Acquire(ctx, userID)
	if err != nil {
		// Stripe's idempotency key still deduplicates creation.
		log.Warn("provisioning lock unavailable, continuing without it", zap.Error(err))
		acquired = true
	}
	if !acquired {
		customerID, err := r.waitForCustomer(ctx, userID)
		if err != nil || customerID != "" {
			return customerID, err
		}
		log.Info("provisioning still in progress elsewhere, provisioning without the lock")
		return r.provision(ctx, userID, email, profile)
	}
	if token != "" {
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx), userID, token); err != nil {
				log.Warn("failed to release provisioning lock", zap.Error(err))
			}
		}()
		if current, err := r.profiles.FindByID(ctx, userID); err == nil && current.CustomerID() != "" {
			return current.CustomerID(), nil
		}
	}
	return r.provision(ctx, userID, email, profile)
}

// provision finds or creates the Stripe customer and stores it on the
// profile unless another writer got there first.
func (r *UsageReporter) provision(ctx context.Context, userID, email string, profile *profiledomain.Profile) (string, error) {
	log := logger.WithContext(ctx, r.log)

	customerID, err := r.reconciler.EnsureCustomerExists(ctx, email, userID)
	if err != nil || customerID == "" {
		return "", err
	}

	if profile == nil {
		log.Warn("profile row missing, billing customer not persisted", zap.String("customer_id", customerID))
		return customerID, nil
	}

	stored, err := r.profiles.SetBillingCustomerIfEmpty(ctx, userID, customerID)
	if errors.Is(err, profiledomain.ErrCustomerLinkedElsewhere) {
		log.Error("billing customer belongs to another profile, usage not reported",
			zap.String("customer_id", customerID),
		)
		return "", err
	}
	if err != nil {
		log.Error("failed to persist billing customer", zap.String("customer_id", customerID), zap.Error(err))
		return customerID, nil
	}
	if stored {
		return customerID, nil
	}

	current, err := r.profiles.FindByID(ctx, userID)
	if err != nil || current.CustomerID() == "" {
		return customerID, nil
	}
	if winner := current.CustomerID(); winner != customerID {
		log.Warn("billing customer already set by a concurrent request",
			zap.String("customer_id", customerID),
			zap.String("stored_customer_id", winner),
		)
		return winner, nil
	}
	return customerID, nil
}

// waitForCustomer polls the profile while another job holds the
// provisioning lock. It returns "" when the holder has not finished.
func (r *UsageReporter) waitForCustomer(ctx context.Context, userID string) (string, error) {
	for i := 0; i < r.pollAttempts; i++ {
		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", ctx.Err()
		case <-timer.C:
		}
		profile, err := r.profiles.FindByID(ctx, userID)
		if err != nil {
			return "", err
		}
		if id := profile.CustomerID(); id != "" {
			return id, nil
		}
	}
	return "", nil
}
