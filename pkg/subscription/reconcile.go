package subscription

import (
	"context"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/entitlement"
)

// reconcile overwrites the derived entitlement fields from a provider
// subscription snapshot. It is a full-state overwrite, not an incremental
// apply: writing the same or a staler snapshot twice converges to the
// same record, which is what makes duplicate and out-of-order webhook
// deliveries safe.
func (s *service) reconcile(ctx context.Context, userID string, sub *billing.Subscription) error {
	snap := s.snapshotFor(ctx, userID, sub)
	return s.store.ApplySnapshot(ctx, userID, snap)
}

func (s *service) snapshotFor(ctx context.Context, userID string, sub *billing.Subscription) entitlement.Snapshot {
	tier, known := s.catalog.TierForPrice(sub.PriceID)
	if !known && sub.PriceID != "" {
		s.log.WarnContext(ctx, "subscription price not in catalog, degrading to free",
			"user_id", userID, "subscription_id", sub.ID, "price_id", sub.PriceID)
	}

	status := mapStatus(sub.Status)

	snap := entitlement.Snapshot{
		Plan:                  tier,
		Status:                status,
		BillingSubscriptionID: sub.ID,
		CurrentPeriodStart:    sub.CurrentPeriodStart,
		CurrentPeriodEnd:      sub.CurrentPeriodEnd,
		TrialEnd:              sub.TrialEnd,
	}
	// A scheduled cancellation only makes sense while the subscription is
	// still running; once it has ended, cancelAt is cleared.
	if status == entitlement.StatusActive || status == entitlement.StatusTrial {
		snap.CancelAt = sub.CancelAt
	}
	return snap
}

// mapStatus folds the provider's status enum into the application's.
// Anything unrecognized degrades to canceled so a provider-side schema
// change can reduce access but never grant it.
func mapStatus(providerStatus string) entitlement.Status {
	switch providerStatus {
	case billing.SubStatusActive:
		return entitlement.StatusActive
	case billing.SubStatusTrialing:
		return entitlement.StatusTrial
	case billing.SubStatusPastDue:
		return entitlement.StatusPastDue
	case billing.SubStatusCanceled, billing.SubStatusUnpaid:
		return entitlement.StatusCanceled
	default:
		return entitlement.StatusCanceled
	}
}
