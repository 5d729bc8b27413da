package billing

import (
	"context"
	"time"
)

// Provider abstracts the billing system of record. Implementations must
// verify webhook signatures with the provider's library (never custom
// comparison) and keep provider-specific quirks out of the returned
// neutral types.
type Provider interface {
	// CreateCustomer creates a remote customer tagged with the application
	// user ID in its metadata. That tag is the only back-reference from the
	// provider to the application identity.
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)

	// GetCustomer reads a customer back, including the user ID metadata tag.
	GetCustomer(ctx context.Context, customerID string) (*Customer, error)

	// UpdateCustomer repairs customer contact details. Used only by the
	// opportunistic, failure-tolerant secondary step of customer resolution.
	UpdateCustomer(ctx context.Context, customerID string, params CustomerParams) error

	// HasLiveSubscription reports whether the customer has any subscription
	// the provider still considers live (active, trialing, or past due).
	// This is a fresh provider read, never a local-cache check.
	HasLiveSubscription(ctx context.Context, customerID string) (bool, error)

	// CreateSubscription creates a subscription requiring client-side
	// payment confirmation and returns the snapshot including the
	// confirmation secret.
	CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)

	// CancelAtPeriodEnd schedules the subscription to end at period end.
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)

	// Resume clears a scheduled cancellation.
	Resume(ctx context.Context, subscriptionID string) (*Subscription, error)

	// GetSubscription reads the current subscription state.
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)

	// ChangePrice swaps the subscription onto a different price.
	ChangePrice(ctx context.Context, subscriptionID, newPriceID string) (*Subscription, error)

	// DefaultPaymentMethod returns the card summary backing the
	// subscription, or nil when none is attached.
	DefaultPaymentMethod(ctx context.Context, subscriptionID string) (*PaymentMethod, error)

	// ListInvoices returns the customer's most recent invoices.
	ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error)

	// VerifyEvent authenticates and parses a raw webhook delivery.
	// Returns ErrInvalidSignature when verification fails.
	VerifyEvent(payload []byte, signature string) (*Event, error)
}

// CustomerParams carries the application-side identity for a customer.
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}

// Customer is the neutral view of a provider customer.
type Customer struct {
	ID     string
	Email  string
	Name   string
	UserID string // application user ID from metadata, empty if untagged
}

// CreateSubscriptionRequest parameterizes subscription creation.
type CreateSubscriptionRequest struct {
	CustomerID string
	PriceID    string
	TrialDays  int // 0 means no trial
}

// Provider-side subscription statuses. The reconciliation engine maps
// these onto the entitlement statuses; anything it does not recognize
// degrades to canceled.
const (
	SubStatusActive     = "active"
	SubStatusTrialing   = "trialing"
	SubStatusPastDue    = "past_due"
	SubStatusCanceled   = "canceled"
	SubStatusUnpaid     = "unpaid"
	SubStatusIncomplete = "incomplete"
)

// Subscription is the neutral snapshot of a provider subscription. It is
// the authoritative object reconciliation folds into the entitlement
// record.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	PriceID            string
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAt           *time.Time // set while a cancellation is scheduled
	TrialEnd           *time.Time
	ClientSecret       string // payment confirmation secret, creation only
}

// IsTrialing reports whether the provider considers the subscription in trial.
func (s *Subscription) IsTrialing() bool {
	return s.Status == SubStatusTrialing
}

// PaymentMethod is a card summary for display.
type PaymentMethod struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int64  `json:"expMonth"`
	ExpYear  int64  `json:"expYear"`
}

// Invoice is a billing history entry for display.
type Invoice struct {
	ID          string    `json:"id"`
	AmountPaid  int64     `json:"amount"`
	AmountDue   int64     `json:"amountDue"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created"`
	PDFURL      string    `json:"pdfUrl,omitempty"`
	HostedURL   string    `json:"hostedUrl,omitempty"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`
}
