// Package domain holds the records shared by the store, pricing and ledger
// layers. Money is carried as fixed-point decimal strings with four
// fractional digits.
package domain

import "time"

// Payment states. The only allowed transition is pending -> completed.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
)

// OrderStatusPending is the status recorded for a freshly placed order.
const OrderStatusPending = "Pending"

// PaymentMethods lists the accepted mobile-money methods. They are labels only.
var PaymentMethods = []string{"bkash", "nagad", "rocket"}

// User is a storefront customer.
type User struct {
	ID          string  `json:"id"`
	Username    string  `json:"username"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name"`
	Balance     string  `json:"balance"`
	FirebaseUID *string `json:"firebase_uid"`
}

// Service is a catalog entry. Base records hold the ingestion rate; the
// effective view holds the customer-facing rate.
type Service struct {
	ID          int64   `json:"id"`
	Name        string  `json:"name"`
	Category    string  `json:"category"`
	Rate        string  `json:"rate"`
	Min         int64   `json:"min"`
	Max         int64   `json:"max"`
	Description *string `json:"description,omitempty"`
}

// FieldOverride holds admin-set non-price attributes for a service.
type FieldOverride struct {
	Min         *int64  `json:"min,omitempty"`
	Max         *int64  `json:"max,omitempty"`
	Description *string `json:"description,omitempty"`
}

// Merge returns o with every field set in patch replaced.
func (o FieldOverride) Merge(patch FieldOverride) FieldOverride {
	if patch.Min != nil {
		v := *patch.Min
		o.Min = &v
	}
	if patch.Max != nil {
		v := *patch.Max
		o.Max = &v
	}
	if patch.Description != nil {
		v := *patch.Description
		o.Description = &v
	}
	return o
}

// IsZero reports whether no field is overridden.
func (o FieldOverride) IsZero() bool {
	return o.Min == nil && o.Max == nil && o.Description == nil
}

// Order is a customer order forwarded to the upstream panel. Charge is fixed
// at placement time.
type Order struct {
	ID         int64     `json:"id"`
	UserID     *string   `json:"user_id"`
	Service    int64     `json:"service"`
	Link       string    `json:"link"`
	Quantity   int64     `json:"quantity"`
	Status     string    `json:"status"`
	Charge     string    `json:"charge"`
	StartCount *int64    `json:"start_count"`
	Remains    *int64    `json:"remains"`
	CreatedAt  time.Time `json:"created_at"`
}

// Payment is a user-declared top-up awaiting verification.
type Payment struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	Amount        string     `json:"amount"`
	Method        string     `json:"method"`
	TransactionID string     `json:"transaction_id"`
	Status        string     `json:"status"`
	CreatedAt     time.Time  `json:"created_at"`
	CompletedAt   *time.Time `json:"completed_at"`
}

// OrderProgress is the subset of an order that status refreshes may change.
type OrderProgress struct {
	Status     string
	StartCount *int64
	Remains    *int64
}
