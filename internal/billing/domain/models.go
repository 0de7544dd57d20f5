package domain

import "time"

const (
	ReasonNotConfigured   = "Billing not configured"
	ReasonNoSubscription  = "No active subscription"
	ReasonNoItems         = "Subscription has no items"
	ReasonProviderFailure = "Billing provider error"
)

// Report outcomes used as metric labels.
const (
	OutcomeReported       = "reported"
	OutcomeNotConfigured  = "not_configured"
	OutcomeNoCustomer     = "no_customer"
	OutcomeNoSubscription = "no_subscription"
	OutcomeNoItems        = "no_items"
	OutcomeProviderError  = "provider_error"
)

// ReportResult describes a usage report attempt. A false Success with a
// Reason is an expected outcome, not an error.
type ReportResult struct {
	Success            bool
	Reason             string
	SubscriptionItemID string
	ReportedAt         time.Time
}

// Outcome maps the result onto a low-cardinality label.
func (r ReportResult) Outcome() string {
	if r.Success {
		return OutcomeReported
	}
	switch r.Reason {
	case ReasonNotConfigured:
		return OutcomeNotConfigured
	case ReasonNoSubscription:
		return OutcomeNoSubscription
	case ReasonNoItems:
		return OutcomeNoItems
	default:
		return OutcomeProviderError
	}
}

// InvoiceEstimate is the provider's upcoming invoice in major currency units.
type InvoiceEstimate struct {
	EstimatedCost float64 `json:"estimatedCost"`
	Currency      string  `json:"currency"`
}

// ReportUsageRequest is the payload of the detached billing job.
type ReportUsageRequest struct {
	UserID string
	Email  string
	Tokens int
}
