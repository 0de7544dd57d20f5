package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	billingdomain "github.com/smallbiznis/tokenrelay/internal/billing/domain"
	"github.com/smallbiznis/tokenrelay/internal/billing/stripe"
	"github.com/smallbiznis/tokenrelay/internal/clock"
	"github.com/smallbiznis/tokenrelay/internal/config"
	"github.com/smallbiznis/tokenrelay/internal/observability/logger"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	metadataUserID        = "userId"
	customerIdemPrefix    = "tokenrelay-customer-"
	usageRecordIdemPrefix = "tokenrelay-usage-"
	usageActionIncrement  = "increment"
)

// StripeAPI is the subset of the Stripe client used by the reconciler.
type StripeAPI interface {
	SearchCustomers(ctx context.Context, query string) ([]stripe.Customer, error)
	CreateCustomer(ctx context.Context, email string, metadata map[string]string, idempotencyKey string) (stripe.Customer, error)
	ListSubscriptions(ctx context.Context, customerID, status string, limit int) ([]stripe.Subscription, error)
	CreateUsageRecord(ctx context.Context, itemID string, quantity int64, timestamp time.Time, action, idempotencyKey string) (stripe.UsageRecord, error)
	UpcomingInvoice(ctx context.Context, customerID string) (stripe.Invoice, error)
}

type ReconcilerParams struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
	Stripe StripeAPI
}

type Reconciler struct {
	stripe  StripeAPI
	enabled bool
	clock   clock.Clock
	log     *zap.Logger
}

func NewReconciler(p ReconcilerParams) billingdomain.Reconciler {
	api := p.Stripe
	if api == nil {
		api = stripe.NewClient(p.Config.Stripe.SecretKey, p.Config.Stripe.BaseURL)
	}
	return &Reconciler{
		stripe:  api,
		enabled: p.Config.Stripe.Enabled(),
		clock:   p.Clock,
		log:     p.Log.Named("billing.reconciler"),
	}
}

func (r *Reconciler) Enabled() bool {
	return r != nil && r.enabled
}

func (r *Reconciler) EnsureCustomerExists(ctx context.Context, email, userID string) (string, error) {
	if !r.Enabled() {
		return "", nil
	}
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", nil
	}
	log := logger.WithContext(ctx, r.log)

	query := fmt.Sprintf("metadata['%s']:'%s'", metadataUserID, escapeSearchValue(userID))
	existing, err := r.stripe.SearchCustomers(ctx, query)
	if err != nil {
		log.Error("failed to search billing customers", zap.Error(err))
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ID, nil
	}

	customer, err := r.stripe.CreateCustomer(ctx,
		strings.TrimSpace(email),
		map[string]string{metadataUserID: userID},
		customerIdempotencyKey(userID, email),
	)
	if err != nil {
		log.Error("failed to create billing customer", zap.Error(err))
		return "", err
	}
	log.Info("billing customer created", zap.String("customer_id", customer.ID))
	return customer.ID, nil
}

// customerIdempotencyKey binds the create request to the user and the email
// it carries, so a changed email is a new request to Stripe.
func customerIdempotencyKey(userID, email string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(email))))
	return customerIdemPrefix + userID + "-" + hex.EncodeToString(sum[:8])
}

func (r *Reconciler) ReportUsage(ctx context.Context, customerID string, tokens int) (billingdomain.ReportResult, error) {
	if !r.Enabled() {
		return billingdomain.ReportResult{Reason: billingdomain.ReasonNotConfigured}, nil
	}
	log := logger.WithContext(ctx, r.log).With(zap.String("customer_id", customerID))

	subs, err := r.stripe.ListSubscriptions(ctx, customerID, "active", 1)
	if err != nil {
		log.Error("failed to list subscriptions", zap.Error(err))
		return billingdomain.ReportResult{Reason: billingdomain.ReasonProviderFailure}, err
	}
	if len(subs) == 0 {
		return billingdomain.ReportResult{Reason: billingdomain.ReasonNoSubscription}, nil
	}
	items := subs[0].Items.Data
	if len(items) == 0 {
		log.Warn("active subscription has no items", zap.String("subscription_id", subs[0].ID))
		return billingdomain.ReportResult{Reason: billingdomain.ReasonNoItems}, nil
	}

	itemID := items[0].ID
	now := r.clock.Now()
	if _, err := r.stripe.CreateUsageRecord(ctx, itemID, int64(tokens), now, usageActionIncrement, usageRecordIdemPrefix+ulid.Make().String()); err != nil {
		log.Error("failed to create usage record",
			zap.String("subscription_item_id", itemID),
			zap.Int("tokens", tokens),
			zap.Error(err),
		)
		return billingdomain.ReportResult{Reason: billingdomain.ReasonProviderFailure}, err
	}

	log.Info("usage reported",
		zap.String("subscription_item_id", itemID),
		zap.Int("tokens", tokens),
	)
	return billingdomain.ReportResult{
		Success:            true,
		SubscriptionItemID: itemID,
		ReportedAt:         now,
	}, nil
}

func (r *Reconciler) GetUpcomingInvoice(ctx context.Context, customerID string) (*billingdomain.InvoiceEstimate, error) {
	if !r.Enabled() || strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	invoice, err := r.stripe.UpcomingInvoice(ctx, customerID)
	if err != nil {
		if !errors.Is(err, stripe.ErrNoUpcomingInvoice) {
			logger.WithContext(ctx, r.log).Warn("failed to fetch upcoming invoice",
				zap.String("customer_id", customerID),
				zap.Error(err),
			)
		}
		return nil, nil
	}
	return &billingdomain.InvoiceEstimate{
		EstimatedCost: float64(invoice.AmountDue) / 100,
		Currency:      strings.ToUpper(invoice.Currency),
	}, nil
}

func escapeSearchValue(v string) string {
	return strings.ReplaceAll(v, "'", `\'`)
}
