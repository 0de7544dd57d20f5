// Package stripe is a minimal Stripe REST client covering customers,
// subscriptions, metered usage records and upcoming invoices.
package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.stripe.com"

	// APIVersion is pinned to the last version that serves legacy usage records.
	APIVersion = "2024-06-20"

	codeInvoiceUpcomingNone = "invoice_upcoming_none"
)

var (
	ErrNotConfigured     = errors.New("stripe_not_configured")
	ErrNoUpcomingInvoice = errors.New("stripe_no_upcoming_invoice")
	ErrInvalidResponse   = errors.New("stripe_response_invalid")
)

// Error is a decoded Stripe API error.
type Error struct {
	Status  int
	Type    string
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("stripe %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("stripe %d: %s", e.Status, e.Message)
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type Customer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Metadata map[string]string `json:"metadata"`
}

type SubscriptionItem struct {
	ID    string `json:"id"`
	Price struct {
		ID string `json:"id"`
	} `json:"price"`
}

type Subscription struct {
	ID     string `json:"id"`
	Status string `json:"status"`
	Items  struct {
		Data []SubscriptionItem `json:"data"`
	} `json:"items"`
}

type UsageRecord struct {
	ID               string `json:"id"`
	Quantity         int64  `json:"quantity"`
	Timestamp        int64  `json:"timestamp"`
	SubscriptionItem string `json:"subscription_item"`
}

type Invoice struct {
	ID        string `json:"id"`
	AmountDue int64  `json:"amount_due"`
	Currency  string `json:"currency"`
}

type list[T any] struct {
	Data    []T  `json:"data"`
	HasMore bool `json:"has_more"`
}

type Client struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewClient(apiKey, baseURL string) *Client {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 12 * time.Second},
	}
}

func (c *Client) SearchCustomers(ctx context.Context, query string) ([]Customer, error) {
	params := url.Values{}
	params.Set("query", query)
	var out list[Customer]
	if err := c.do(ctx, http.MethodGet, "/v1/customers/search", params, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) ListCustomers(ctx context.Context, limit int) ([]Customer, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	var out list[Customer]
	if err := c.do(ctx, http.MethodGet, "/v1/customers", params, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) CreateCustomer(ctx context.Context, email string, metadata map[string]string, idempotencyKey string) (Customer, error) {
	values := url.Values{}
	if email != "" {
		values.Set("email", email)
	}
	for k, v := range metadata {
		values.Set("metadata["+k+"]", v)
	}
	var customer Customer
	if err := c.do(ctx, http.MethodPost, "/v1/customers", nil, values, idempotencyKey, &customer); err != nil {
		return Customer{}, err
	}
	if customer.ID == "" {
		return Customer{}, ErrInvalidResponse
	}
	return customer, nil
}

func (c *Client) ListSubscriptions(ctx context.Context, customerID, status string, limit int) ([]Subscription, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	var out list[Subscription]
	if err := c.do(ctx, http.MethodGet, "/v1/subscriptions", params, nil, "", &out); err != nil {
		return nil, err
	}
	return out.Data, nil
}

func (c *Client) CreateUsageRecord(
	ctx context.Context,
	itemID string,
	quantity int64,
	timestamp time.Time,
	action string,
	idempotencyKey string,
) (UsageRecord, error) {
	values := url.Values{}
	values.Set("quantity", strconv.FormatInt(quantity, 10))
	values.Set("timestamp", strconv.FormatInt(timestamp.Unix(), 10))
	if action != "" {
		values.Set("action", action)
	}
	var record UsageRecord
	path := "/v1/subscription_items/" + url.PathEscape(itemID) + "/usage_records"
	if err := c.do(ctx, http.MethodPost, path, nil, values, idempotencyKey, &record); err != nil {
		return UsageRecord{}, err
	}
	return record, nil
}

func (c *Client) UpcomingInvoice(ctx context.Context, customerID string) (Invoice, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	var invoice Invoice
	err := c.do(ctx, http.MethodGet, "/v1/invoices/upcoming", params, nil, "", &invoice)
	if err != nil {
		var stripeErr *Error
		if errors.As(err, &stripeErr) && stripeErr.Status == http.StatusNotFound && stripeErr.Code == codeInvoiceUpcomingNone {
			return Invoice{}, ErrNoUpcomingInvoice
		}
		return Invoice{}, err
	}
	return invoice, nil
}

func (c *Client) do(
	ctx context.Context,
	method string,
	path string,
	query url.Values,
	values url.Values,
	idempotencyKey string,
	out any,
) error {
	if c == nil || c.apiKey == "" {
		return ErrNotConfigured
	}

	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var body io.Reader
	if values != nil {
		body = strings.NewReader(values.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Stripe-Version", APIVersion)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return &Error{Status: resp.StatusCode, Message: "stripe_request_failed"}
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		return &Error{
			Status:  resp.StatusCode,
			Type:    stripeErr.Error.Type,
			Code:    stripeErr.Error.Code,
			Message: message,
		}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return nil
}
