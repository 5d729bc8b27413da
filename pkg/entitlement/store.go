package entitlement

import (
	"context"

	"github.com/dmitrymomot/subsync/pkg/plan"
)

// Store persists entitlement records. Mutating methods update exactly the
// named fields (never whole-document replacement) so concurrent writes to
// unrelated parts of the user document are not clobbered, and every write
// advances updatedAt.
type Store interface {
	// Get returns the record for a user, with defaulting applied.
	// Returns ErrRecordNotFound if no record exists.
	Get(ctx context.Context, userID string) (*Record, error)

	// Create initializes the record at signup: free plan, canceled status,
	// trial unused. Returns ErrRecordExists if one already exists.
	Create(ctx context.Context, userID, email, displayName string) (*Record, error)

	// SetBillingCustomerID persists the provider customer reference.
	// Last write wins; duplicate remote customers are a tolerated race.
	SetBillingCustomerID(ctx context.Context, userID, customerID string) error

	// MarkTrialUsed sets hasUsedTrial to true. There is no way back.
	MarkTrialUsed(ctx context.Context, userID string) error

	// ApplySnapshot atomically overwrites the derived subscription fields.
	// It is the reconciliation engine's only write path.
	ApplySnapshot(ctx context.Context, userID string, snap Snapshot) error

	// SetOverride grants or revokes manual access independent of billing.
	SetOverride(ctx context.Context, userID string, enabled bool, reason OverrideReason) error

	// List returns subscriber records matching the filter plus the total
	// count for pagination.
	List(ctx context.Context, filter Filter) ([]Record, int64, error)
}

// Filter narrows the admin subscriber listing. A zero Plan matches any paid
// plan (basic or premium); free-plan users are never listed as subscribers.
type Filter struct {
	Plan   plan.Tier
	Status Status
	Limit  int64
	Offset int64
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// clamp applies listing defaults and bounds.
func (f Filter) clamp() Filter {
	if f.Limit <= 0 {
		f.Limit = defaultListLimit
	}
	if f.Limit > maxListLimit {
		f.Limit = maxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
