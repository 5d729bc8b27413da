package subscription_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/entitlement"
	"github.com/dmitrymomot/subsync/pkg/plan"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

// memDeduper is a recording EventDeduper for tests.
type memDeduper struct {
	mu      sync.Mutex
	seen    map[string]bool
	forgets []string
}

func newMemDeduper() *memDeduper {
	return &memDeduper{seen: make(map[string]bool)}
}

func (d *memDeduper) Seen(_ context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[eventID] {
		return true, nil
	}
	d.seen[eventID] = true
	return false, nil
}

func (d *memDeduper) Forget(_ context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, eventID)
	d.forgets = append(d.forgets, eventID)
	return nil
}

func subscriptionEventPayload(subID, customerID, status, priceID string, periodEnd time.Time) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{
		"id": %q,
		"customer": %q,
		"status": %q,
		"items": {"data": [{
			"current_period_start": %d,
			"current_period_end": %d,
			"price": {"id": %q}
		}]}
	}`, subID, customerID, status, periodEnd.Add(-30*24*time.Hour).Unix(), periodEnd.Unix(), priceID))
}

func seedSubscribedUser(store *entitlement.MemoryStore, provider *fakeProvider) {
	provider.addCustomer("cus_1", "u1")
	store.Seed(entitlement.Record{
		UserID: "u1",
		Role:   entitlement.RoleUser,
		Subscription: entitlement.Subscription{
			Plan:                  plan.TierBasic,
			Status:                entitlement.StatusActive,
			BillingCustomerID:     "cus_1",
			BillingSubscriptionID: "sub_1",
		},
	})
}

func TestHandleEventSignature(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	store := entitlement.NewMemoryStore()
	provider := newFakeProvider()
	seedSubscribedUser(store, provider)
	svc := newTestService(t, store, provider)

	before, err := store.Get(ctx, "u1")
	require.NoError(t, err)

	err = svc.HandleEvent(ctx, []byte(`{}`), "bad-signature")
	require.ErrorIs(t, err, billing.ErrInvalidSignature)

	after, err := store.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before.Subscription, after.Subscription)
}

func TestHandleSubscriptionEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("updated reconciles from payload", func(t *testing.T) {
		t.Parallel()

		store := entitlement.NewMemoryStore()
		provider := newFakeProvider()
		seedSubscribedUser(store, provider)
		svc := newTestService(t, store, provider)

		periodEnd := time.Now().UTC().Add(10 * 24 * time.Hour).Truncate(time.Second)
		provider.events["sig-1"] = &billing.Event{
			ID:           "evt_1",
			Kind:         billing.EventSubscriptionUpdated,
			ProviderType: "customer.subscription.updated",
			Payload:      subscriptionEventPayload("sub_1", "cus_1", "past_due", pricePremium, periodEnd),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))

		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, entitlement.StatusPastDue, rec.Subscription.Status)
		assert.Equal(t, plan.TierPremium, rec.Subscription.Plan)
		require.NotNil(t, rec.Subscription.CurrentPeriodEnd)
		assert.Equal(t, periodEnd.Unix(), rec.Subscription.CurrentPeriodEnd.Unix())
	})

	t.Run("duplicate delivery yields identical record", func(t *testing.T) {
		t.Parallel()

		store := entitlement.NewMemoryStore()
		provider := newFakeProvider()
		seedSubscribedUser(store, provider)
		svc := newTestService(t, store, provider)

		periodEnd := time.Now().UTC().Add(10 * 24 * time.Hour)
		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventSubscriptionUpdated,
			Payload: subscriptionEventPayload("sub_1", "cus_1", "active", pricePremium, periodEnd),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))
		first, err := store.Get(ctx, "u1")
		require.NoError(t, err)

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))
		second, err := store.Get(ctx, "u1")
		require.NoError(t, err)

		assert.Equal(t, first.Subscription, second.Subscription)
	})

	t.Run("deduper suppresses redelivery", func(t *testing.T) {
		t.Parallel()

		store := entitlement.NewMemoryStore()
		provider := newFakeProvider()
		seedSubscribedUser(store, provider)
		svc := newTestService(t, store, provider, subscription.WithDeduper(newMemDeduper()))

		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventSubscriptionUpdated,
			Payload: subscriptionEventPayload("sub_1", "cus_1", "active", priceBasic, time.Now().UTC()),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))
		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))
		assert.Equal(t, 1, provider.getCustomerCnt)
	})

	t.Run("deleted cancels entitlement", func(t *testing.T) {
		t.Parallel()

		store := entitlement.NewMemoryStore()
		provider := newFakeProvider()
		seedSubscribedUser(store, provider)
		svc := newTestService(t, store, provider)

		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventSubscriptionDeleted,
			Payload: subscriptionEventPayload("sub_1", "cus_1", "canceled", priceBasic, time.Now().UTC()),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))

		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, entitlement.StatusCanceled, rec.Subscription.Status)
		assert.Nil(t, rec.Subscription.CancelAt)
		assert.False(t, entitlement.HasAccess(rec))
		// The trial flag survives the deletion.
		assert.False(t, rec.Subscription.HasUsedTrial)
	})

	t.Run("unresolvable customer acknowledged without write", func(t *testing.T) {
		t.Parallel()

		store := entitlement.NewMemoryStore()
		provider := newFakeProvider()
		seedSubscribedUser(store, provider)
		provider.addCustomer("cus_orphan", "")
		svc := newTestService(t, store, provider)

		before, err := store.Get(ctx, "u1")
		require.NoError(t, err)

		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventSubscriptionDeleted,
			Payload: subscriptionEventPayload("sub_x", "cus_orphan", "canceled", priceBasic, time.Now().UTC()),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))

		after, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, before.Subscription, after.Subscription)
	})

	t.Run("created event is acknowledged without processing", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		svc := newTestService(t, entitlement.NewMemoryStore(), provider)

		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventSubscriptionCreated,
			Payload: json.RawMessage(`{"id":"sub_1"}`),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))
		assert.Equal(t, 0, provider.getCustomerCnt)
	})

	t.Run("unknown kind acknowledged", func(t *testing.T) {
		t.Parallel()

		provider := newFakeProvider()
		svc := newTestService(t, entitlement.NewMemoryStore(), provider)

		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventUnknown,
			Payload: json.RawMessage(`{}`),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))
	})
}

func TestHandleInvoiceEvents(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	invoicePayload := func(customerID, subID string) json.RawMessage {
		return json.RawMessage(fmt.Sprintf(
			`{"id": "in_1", "customer": %q, "subscription": %q}`, customerID, subID))
	}

	seedWithProviderSub := func(t *testing.T, status string) (*entitlement.MemoryStore, *fakeProvider, subscription.Service) {
		t.Helper()
		store := entitlement.NewMemoryStore()
		provider := newFakeProvider()
		seedSubscribedUser(store, provider)
		start := time.Now().UTC()
		end := start.Add(30 * 24 * time.Hour)
		provider.addSubscription(billing.Subscription{
			ID:                 "sub_1",
			CustomerID:         "cus_1",
			Status:             status,
			PriceID:            priceBasic,
			CurrentPeriodStart: &start,
			CurrentPeriodEnd:   &end,
		})
		return store, provider, newTestService(t, store, provider)
	}

	t.Run("paid reconciles from fresh provider read", func(t *testing.T) {
		t.Parallel()

		store, provider, svc := seedWithProviderSub(t, billing.SubStatusActive)
		// The stored record is stale; the provider is authoritative.
		require.NoError(t, store.ApplySnapshot(ctx, "u1", entitlement.Snapshot{
			Plan:                  plan.TierBasic,
			Status:                entitlement.StatusPastDue,
			BillingSubscriptionID: "sub_1",
		}))

		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventInvoicePaid,
			Payload: invoicePayload("cus_1", "sub_1"),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))

		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, entitlement.StatusActive, rec.Subscription.Status)
	})

	t.Run("payment failed does not revoke access before period end", func(t *testing.T) {
		t.Parallel()

		store, provider, svc := seedWithProviderSub(t, billing.SubStatusActive)
		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventInvoicePaymentFailed,
			Payload: invoicePayload("cus_1", "sub_1"),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))

		rec, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, entitlement.StatusActive, rec.Subscription.Status)
		assert.True(t, entitlement.HasAccess(rec))
	})

	t.Run("one-off invoice acknowledged without write", func(t *testing.T) {
		t.Parallel()

		store, provider, svc := seedWithProviderSub(t, billing.SubStatusActive)
		before, err := store.Get(ctx, "u1")
		require.NoError(t, err)

		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventInvoicePaid,
			Payload: json.RawMessage(`{"id": "in_1", "customer": "cus_1"}`),
		}

		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))

		after, err := store.Get(ctx, "u1")
		require.NoError(t, err)
		assert.Equal(t, before.Subscription, after.Subscription)
	})

	t.Run("transient failure releases dedup key for redelivery", func(t *testing.T) {
		t.Parallel()

		store, provider, _ := seedWithProviderSub(t, billing.SubStatusActive)
		deduper := newMemDeduper()
		svc := newTestService(t, store, provider, subscription.WithDeduper(deduper))

		provider.getSubErr = errors.New("connection reset")
		provider.events["sig-1"] = &billing.Event{
			ID:      "evt_1",
			Kind:    billing.EventInvoicePaid,
			Payload: invoicePayload("cus_1", "sub_1"),
		}

		err := svc.HandleEvent(ctx, []byte(`{}`), "sig-1")
		require.ErrorIs(t, err, subscription.ErrProviderUnavailable)
		assert.Contains(t, deduper.forgets, "evt_1")

		// The redelivery succeeds once the provider recovers.
		provider.getSubErr = nil
		require.NoError(t, svc.HandleEvent(ctx, []byte(`{}`), "sig-1"))
	})
}
