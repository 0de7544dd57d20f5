package domain

import "time"

// Profile mirrors the identity provider's user profile row.
type Profile struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Email             string    `gorm:"type:text;not null;default:''" json:"email"`
	BillingCustomerID *string   `gorm:"type:varchar(255);uniqueIndex" json:"billing_customer_id,omitempty"`
	IsActive          bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt         time.Time `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Profile) TableName() string { return "profiles" }

// CustomerID returns the billing customer id or "".
func (p *Profile) CustomerID() string {
	if p == nil || p.BillingCustomerID == nil {
		return ""
	}
	return *p.BillingCustomerID
}
