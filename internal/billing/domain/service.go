package domain

import "context"

// Reconciler keeps the caller's billing-provider state in step with usage.
// Provider failures never surface to HTTP callers; returned errors exist for
// the background error sink.
type Reconciler interface {
	Enabled() bool
	EnsureCustomerExists(ctx context.Context, email, userID string) (string, error)
	ReportUsage(ctx context.Context, customerID string, tokens int) (ReportResult, error)
	GetUpcomingInvoice(ctx context.Context, customerID string) (*InvoiceEstimate, error)
}

// Reporter runs the post-response provisioning and usage report.
type Reporter interface {
	Report(ctx context.Context, req ReportUsageRequest) error
}
