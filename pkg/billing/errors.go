package billing

import "errors"

var (
	ErrMissingAPIKey        = errors.New("billing provider API key is required")
	ErrMissingWebhookSecret = errors.New("billing provider webhook secret is required")

	// ErrInvalidSignature means webhook authentication failed. Callers must
	// reject the delivery without processing and without leaking which part
	// of verification failed.
	ErrInvalidSignature = errors.New("webhook signature verification failed")

	ErrMalformedEvent     = errors.New("malformed webhook event payload")
	ErrCustomerNotFound   = errors.New("billing customer not found")
	ErrNoSubscriptionItem = errors.New("subscription has no line items")
	ErrNoClientSecret     = errors.New("no payment confirmation secret returned")
)
