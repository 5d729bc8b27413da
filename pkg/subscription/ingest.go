package subscription

import (
	"context"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

// HandleEvent verifies, deduplicates, and processes a raw webhook
// delivery. A nil return acknowledges the event; billing.ErrInvalidSignature
// rejects it without any state change; any other error asks the provider
// to redeliver.
//
// Unrecognized event kinds and events for customers that cannot be
// resolved to a user are acknowledged without processing, so provider-side
// schema drift never wedges the channel.
func (s *service) HandleEvent(ctx context.Context, payload []byte, signature string) error {
	event, err := s.provider.VerifyEvent(payload, signature)
	if err != nil {
		s.log.WarnContext(ctx, "webhook rejected", "error", err)
		return err
	}

	seen, err := s.dedup.Seen(ctx, event.ID)
	if err != nil {
		// Deduplication is best-effort; reconciliation tolerates replays.
		s.log.WarnContext(ctx, "event dedup check failed, processing anyway",
			"event_id", event.ID, "error", err)
	} else if seen {
		s.log.InfoContext(ctx, "duplicate event suppressed",
			"event_id", event.ID, "event_type", event.ProviderType)
		return nil
	}

	if err := s.processEvent(ctx, event); err != nil {
		// Release the ID so the provider's redelivery is not dropped.
		if ferr := s.dedup.Forget(ctx, event.ID); ferr != nil {
			s.log.WarnContext(ctx, "failed to release event dedup key",
				"event_id", event.ID, "error", ferr)
		}
		return err
	}
	return nil
}

func (s *service) processEvent(ctx context.Context, event *billing.Event) error {
	switch event.Kind {
	case billing.EventSubscriptionCreated:
		// Creation is reconciled synchronously from the mutation response;
		// the event adds nothing.
		s.log.DebugContext(ctx, "subscription created event acknowledged",
			"event_id", event.ID)
		return nil

	case billing.EventSubscriptionUpdated, billing.EventSubscriptionDeleted:
		return s.processSubscriptionEvent(ctx, event)

	case billing.EventInvoicePaid:
		return s.processInvoiceEvent(ctx, event, false)

	case billing.EventInvoicePaymentFailed:
		// No immediate revocation: access persists until period end and
		// the record follows whatever the provider currently reports.
		return s.processInvoiceEvent(ctx, event, true)

	default:
		s.log.DebugContext(ctx, "unhandled event kind acknowledged",
			"event_id", event.ID, "event_type", event.ProviderType)
		return nil
	}
}

// processSubscriptionEvent reconciles from the full subscription object
// embedded in the event payload.
func (s *service) processSubscriptionEvent(ctx context.Context, event *billing.Event) error {
	sub, err := event.Subscription()
	if err != nil {
		s.log.WarnContext(ctx, "unparseable subscription event acknowledged",
			"event_id", event.ID, "event_type", event.ProviderType, "error", err)
		return nil
	}

	userID, err := s.userForCustomer(ctx, event, sub.CustomerID)
	if err != nil {
		return err
	}
	if userID == "" {
		return nil
	}

	if event.Kind == billing.EventSubscriptionDeleted {
		s.log.InfoContext(ctx, "subscription deleted",
			"user_id", userID, "subscription_id", sub.ID)
	}
	return s.reconcile(ctx, userID, sub)
}

// processInvoiceEvent reconciles from a fresh provider read, since invoice
// payloads carry only references rather than the subscription state.
func (s *service) processInvoiceEvent(ctx context.Context, event *billing.Event, paymentFailed bool) error {
	ref, err := event.Invoice()
	if err != nil {
		s.log.WarnContext(ctx, "unparseable invoice event acknowledged",
			"event_id", event.ID, "event_type", event.ProviderType, "error", err)
		return nil
	}
	if ref.SubscriptionID == "" {
		// One-off invoices do not affect entitlement.
		s.log.DebugContext(ctx, "invoice event without subscription acknowledged",
			"event_id", event.ID, "invoice_id", ref.InvoiceID)
		return nil
	}

	userID, err := s.userForCustomer(ctx, event, ref.CustomerID)
	if err != nil {
		return err
	}
	if userID == "" {
		return nil
	}

	if paymentFailed {
		s.log.WarnContext(ctx, "invoice payment failed, access retained until period end",
			"user_id", userID, "subscription_id", ref.SubscriptionID,
			"invoice_id", ref.InvoiceID)
	}

	sub, err := s.provider.GetSubscription(ctx, ref.SubscriptionID)
	if err != nil {
		return s.providerErr("read subscription for invoice event", err)
	}
	return s.reconcile(ctx, userID, sub)
}

// userForCustomer resolves the application user from the provider
// customer's metadata back-reference. An empty ID with a nil error means
// the customer is genuinely unresolvable and the event should be
// acknowledged; a non-nil error means the lookup failed transiently and
// the provider should redeliver.
func (s *service) userForCustomer(ctx context.Context, event *billing.Event, customerID string) (string, error) {
	if customerID == "" {
		s.log.WarnContext(ctx, "event carries no customer reference",
			"event_id", event.ID, "event_type", event.ProviderType)
		return "", nil
	}
	cus, err := s.provider.GetCustomer(ctx, customerID)
	if err != nil {
		if billing.IsUnavailable(err) {
			return "", s.providerErr("resolve event customer", err)
		}
		s.log.WarnContext(ctx, "customer lookup failed for event",
			"event_id", event.ID, "customer_id", customerID, "error", err)
		return "", nil
	}
	if cus.UserID == "" {
		s.log.WarnContext(ctx, "customer has no user reference, event dropped",
			"event_id", event.ID, "customer_id", customerID)
		return "", nil
	}
	return cus.UserID, nil
}
