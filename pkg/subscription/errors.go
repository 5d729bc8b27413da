package subscription

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidState is the category for operations that do not fit the
	// current subscription state. The specific errors below wrap it so
	// transport handlers can map the whole family at once.
	ErrInvalidState = errors.New("invalid subscription state")

	ErrAlreadySubscribed     = fmt.Errorf("%w: a live subscription already exists", ErrInvalidState)
	ErrNoSubscription        = fmt.Errorf("%w: no billing subscription on record", ErrInvalidState)
	ErrNoPendingCancellation = fmt.Errorf("%w: no cancellation is scheduled", ErrInvalidState)
	ErrUnknownPrice          = fmt.Errorf("%w: price is not in the plan catalog", ErrInvalidState)

	// ErrProviderUnavailable marks a transient billing provider failure.
	// No entitlement state was written; the caller may retry.
	ErrProviderUnavailable = errors.New("billing provider unavailable")
)
