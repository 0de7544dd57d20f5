package domain

import (
	"context"
	"errors"
)

type Service interface {
	// FindByID returns nil, nil when no profile exists.
	FindByID(ctx context.Context, id string) (*Profile, error)
	// SetBillingCustomerIfEmpty stores customerID only when the profile has
	// none yet and reports whether the write happened. It returns
	// ErrCustomerLinkedElsewhere when another profile already owns customerID.
	SetBillingCustomerIfEmpty(ctx context.Context, id, customerID string) (bool, error)
}

var (
	ErrInvalidProfileID  = errors.New("invalid_profile_id")
	ErrInvalidCustomerID = errors.New("invalid_billing_customer_id")
	// ErrCustomerLinkedElsewhere means the billing customer id is already
	// stored on a different profile.
	ErrCustomerLinkedElsewhere = errors.New("billing_customer_linked_to_other_profile")
)
