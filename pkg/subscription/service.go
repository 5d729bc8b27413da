package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/entitlement"
	"github.com/dmitrymomot/subsync/pkg/plan"
)

// defaultTrialDays is the fixed trial length attached when a customer is
// trial-eligible.
const defaultTrialDays = 14

// invoiceHistoryLimit bounds the billing history returned by Details.
const invoiceHistoryLimit = 10

// Service is the subscription lifecycle engine. It owns the three
// user-initiated mutations, webhook ingestion, and reconciliation of
// provider state into the entitlement store.
type Service interface {
	ResolveCustomer(ctx context.Context, userID string) (string, error)
	CreateSubscription(ctx context.Context, userID, priceID string) (*CreateResult, error)
	CancelSubscription(ctx context.Context, userID string) (*CancelResult, error)
	ResumeSubscription(ctx context.Context, userID string) (*ResumeResult, error)
	ChangePlan(ctx context.Context, userID, priceID string) (*ChangeResult, error)
	Details(ctx context.Context, userID string) (*Details, error)
	Refresh(ctx context.Context, userID string) error
	SetOverride(ctx context.Context, userID string, enabled bool, reason entitlement.OverrideReason) error
	ListSubscribers(ctx context.Context, filter entitlement.Filter) ([]entitlement.Record, int64, error)
	HandleEvent(ctx context.Context, payload []byte, signature string) error
}

// CreateResult is returned by CreateSubscription. ClientSecret confirms
// the first payment client-side; it is empty for trialing subscriptions
// with no immediate payment due.
type CreateResult struct {
	SubscriptionID string     `json:"subscriptionId"`
	Status         string     `json:"status"`
	IsTrialing     bool       `json:"isTrialing"`
	TrialEnd       *time.Time `json:"trialEnd,omitempty"`
	ClientSecret   string     `json:"clientConfirmationSecret,omitempty"`
}

// CancelResult is returned by CancelSubscription.
type CancelResult struct {
	CancelAt *time.Time `json:"cancelAt"`
}

// ResumeResult is returned by ResumeSubscription.
type ResumeResult struct {
	SubscriptionID   string     `json:"subscriptionId"`
	Status           string     `json:"status"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}

// ChangeResult is returned by ChangePlan.
type ChangeResult struct {
	SubscriptionID   string     `json:"subscriptionId"`
	Status           string     `json:"status"`
	Plan             plan.Tier  `json:"plan"`
	CurrentPeriodEnd *time.Time `json:"currentPeriodEnd,omitempty"`
}

// Details is the read model for the subscription details endpoint.
// PaymentMethod and Invoices are best-effort provider reads; either may be
// absent when the provider is unreachable without failing the response.
type Details struct {
	Plan          plan.Tier              `json:"plan"`
	Status        entitlement.Status     `json:"status"`
	CancelAt      *time.Time             `json:"cancelAt,omitempty"`
	TrialEnd      *time.Time             `json:"trialEnd,omitempty"`
	Summary       entitlement.Summary    `json:"summary"`
	PaymentMethod *billing.PaymentMethod `json:"paymentMethod,omitempty"`
	Invoices      []billing.Invoice      `json:"invoices,omitempty"`
}

type service struct {
	store     entitlement.Store
	provider  billing.Provider
	catalog   *plan.Catalog
	dedup     EventDeduper
	log       *slog.Logger
	trialDays int
	now       func() time.Time
}

// NewService creates the subscription engine. Panics if a required
// dependency is nil to fail fast during initialization.
func NewService(store entitlement.Store, provider billing.Provider, catalog *plan.Catalog, opts ...ServiceOption) Service {
	if store == nil {
		panic("subscription: entitlement.Store is required")
	}
	if provider == nil {
		panic("subscription: billing.Provider is required")
	}
	if catalog == nil {
		panic("subscription: plan.Catalog is required")
	}

	s := &service{
		store:     store,
		provider:  provider,
		catalog:   catalog,
		dedup:     NoopDeduper{},
		log:       slog.Default(),
		trialDays: defaultTrialDays,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ResolveCustomer maps the user to a billing customer, creating one if
// absent. Safe under concurrent calls for the same user: a duplicate
// remote customer is a tolerated race, the last written reference wins
// and the orphan is simply unused.
func (s *service) ResolveCustomer(ctx context.Context, userID string) (string, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return "", err
	}
	return s.resolveCustomer(ctx, rec)
}

func (s *service) resolveCustomer(ctx context.Context, rec *entitlement.Record) (string, error) {
	if id := rec.Subscription.BillingCustomerID; id != "" {
		s.repairCustomer(ctx, id, rec)
		return id, nil
	}

	cus, err := s.provider.CreateCustomer(ctx, billing.CustomerParams{
		UserID: rec.UserID,
		Email:  rec.Email,
		Name:   rec.DisplayName,
	})
	if err != nil {
		return "", s.providerErr("create customer", err)
	}
	if err := s.store.SetBillingCustomerID(ctx, rec.UserID, cus.ID); err != nil {
		return "", err
	}
	return cus.ID, nil
}

// repairCustomer opportunistically syncs contact details onto the remote
// customer. Failures are logged and swallowed; the stored reference stays
// authoritative either way.
func (s *service) repairCustomer(ctx context.Context, customerID string, rec *entitlement.Record) {
	cus, err := s.provider.GetCustomer(ctx, customerID)
	if err != nil {
		s.log.WarnContext(ctx, "customer repair read failed",
			"user_id", rec.UserID, "customer_id", customerID, "error", err)
		return
	}
	if cus.Email == rec.Email && cus.Name == rec.DisplayName {
		return
	}
	if err := s.provider.UpdateCustomer(ctx, customerID, billing.CustomerParams{
		UserID: rec.UserID,
		Email:  rec.Email,
		Name:   rec.DisplayName,
	}); err != nil {
		s.log.WarnContext(ctx, "customer repair update failed",
			"user_id", rec.UserID, "customer_id", customerID, "error", err)
	}
}

// isTrialEligible gates the one-time trial benefit: top tier only, and
// only while the trial flag has never been set.
func (s *service) isTrialEligible(rec *entitlement.Record, tier plan.Tier) bool {
	return tier == plan.TierPremium && !rec.Subscription.HasUsedTrial
}

func (s *service) CreateSubscription(ctx context.Context, userID, priceID string) (*CreateResult, error) {
	tier, ok := s.catalog.TierForPrice(priceID)
	if !ok {
		return nil, ErrUnknownPrice
	}

	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolveCustomer(ctx, rec)
	if err != nil {
		return nil, err
	}

	// The duplicate-subscription check reads the provider, never the local
	// cache, so a stale record cannot allow a double subscription.
	live, err := s.provider.HasLiveSubscription(ctx, customerID)
	if err != nil {
		return nil, s.providerErr("check live subscriptions", err)
	}
	if live {
		return nil, ErrAlreadySubscribed
	}

	trialDays := 0
	if s.isTrialEligible(rec, tier) {
		trialDays = s.trialDays
	}

	sub, err := s.provider.CreateSubscription(ctx, billing.CreateSubscriptionRequest{
		CustomerID: customerID,
		PriceID:    priceID,
		TrialDays:  trialDays,
	})
	if err != nil {
		return nil, s.providerErr("create subscription", err)
	}

	// The trial flag must be set before success is reported, otherwise a
	// client retry after a crash could be granted a second trial.
	if trialDays > 0 {
		if err := s.store.MarkTrialUsed(ctx, userID); err != nil {
			s.log.ErrorContext(ctx, "failed to mark trial used",
				"user_id", userID, "subscription_id", sub.ID, "error", err)
			return nil, err
		}
	}

	if err := s.reconcile(ctx, userID, sub); err != nil {
		// The record converges on the next event delivery or refresh.
		s.log.WarnContext(ctx, "post-create reconciliation failed",
			"user_id", userID, "subscription_id", sub.ID, "error", err)
	}

	return &CreateResult{
		SubscriptionID: sub.ID,
		Status:         sub.Status,
		IsTrialing:     sub.IsTrialing(),
		TrialEnd:       sub.TrialEnd,
		ClientSecret:   sub.ClientSecret,
	}, nil
}

func (s *service) CancelSubscription(ctx context.Context, userID string) (*CancelResult, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	subID := rec.Subscription.BillingSubscriptionID
	if subID == "" {
		return nil, ErrNoSubscription
	}

	sub, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		return nil, s.providerErr("read subscription", err)
	}

	// Canceling an already-canceling subscription is a no-op success.
	if sub.CancelAt == nil {
		sub, err = s.provider.CancelAtPeriodEnd(ctx, subID)
		if err != nil {
			return nil, s.providerErr("cancel subscription", err)
		}
	}

	if err := s.reconcile(ctx, userID, sub); err != nil {
		s.log.WarnContext(ctx, "post-cancel reconciliation failed",
			"user_id", userID, "subscription_id", subID, "error", err)
	}

	return &CancelResult{CancelAt: sub.CancelAt}, nil
}

func (s *service) ResumeSubscription(ctx context.Context, userID string) (*ResumeResult, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	subID := rec.Subscription.BillingSubscriptionID
	if subID == "" {
		return nil, ErrNoSubscription
	}
	if rec.Subscription.CancelAt == nil {
		return nil, ErrNoPendingCancellation
	}

	sub, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		return nil, s.providerErr("read subscription", err)
	}

	// The provider may already have been resumed by an earlier attempt
	// that crashed before reconciling; converge and report success.
	if sub.CancelAt != nil {
		sub, err = s.provider.Resume(ctx, subID)
		if err != nil {
			return nil, s.providerErr("resume subscription", err)
		}
	}

	if err := s.reconcile(ctx, userID, sub); err != nil {
		s.log.WarnContext(ctx, "post-resume reconciliation failed",
			"user_id", userID, "subscription_id", subID, "error", err)
	}

	return &ResumeResult{
		SubscriptionID:   sub.ID,
		Status:           sub.Status,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}

func (s *service) ChangePlan(ctx context.Context, userID, priceID string) (*ChangeResult, error) {
	tier, ok := s.catalog.TierForPrice(priceID)
	if !ok {
		return nil, ErrUnknownPrice
	}

	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	subID := rec.Subscription.BillingSubscriptionID
	if subID == "" {
		return nil, ErrNoSubscription
	}

	sub, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		return nil, s.providerErr("read subscription", err)
	}

	if sub.PriceID != priceID {
		sub, err = s.provider.ChangePrice(ctx, subID, priceID)
		if err != nil {
			return nil, s.providerErr("change price", err)
		}
	}

	if err := s.reconcile(ctx, userID, sub); err != nil {
		s.log.WarnContext(ctx, "post-change reconciliation failed",
			"user_id", userID, "subscription_id", subID, "error", err)
	}

	return &ChangeResult{
		SubscriptionID:   sub.ID,
		Status:           sub.Status,
		Plan:             tier,
		CurrentPeriodEnd: sub.CurrentPeriodEnd,
	}, nil
}

// Details assembles the subscription read model. Provider-side reads
// degrade independently: a failed payment-method or invoice read is
// logged and omitted, never failing the whole response.
func (s *service) Details(ctx context.Context, userID string) (*Details, error) {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	d := &Details{
		Plan:     rec.Subscription.Plan,
		Status:   rec.Subscription.Status,
		CancelAt: rec.Subscription.CancelAt,
		TrialEnd: rec.Subscription.TrialEnd,
		Summary:  entitlement.StatusSummary(rec, s.now()),
	}

	if subID := rec.Subscription.BillingSubscriptionID; subID != "" {
		pm, err := s.provider.DefaultPaymentMethod(ctx, subID)
		if err != nil {
			s.log.WarnContext(ctx, "payment method read failed",
				"user_id", userID, "subscription_id", subID, "error", err)
		} else {
			d.PaymentMethod = pm
		}
	}

	if customerID := rec.Subscription.BillingCustomerID; customerID != "" {
		invoices, err := s.provider.ListInvoices(ctx, customerID, invoiceHistoryLimit)
		if err != nil {
			s.log.WarnContext(ctx, "invoice list read failed",
				"user_id", userID, "customer_id", customerID, "error", err)
		} else {
			d.Invoices = invoices
		}
	}

	return d, nil
}

// Refresh converges the entitlement record from a fresh provider read.
func (s *service) Refresh(ctx context.Context, userID string) error {
	rec, err := s.store.Get(ctx, userID)
	if err != nil {
		return err
	}
	subID := rec.Subscription.BillingSubscriptionID
	if subID == "" {
		return ErrNoSubscription
	}

	sub, err := s.provider.GetSubscription(ctx, subID)
	if err != nil {
		return s.providerErr("read subscription", err)
	}
	return s.reconcile(ctx, userID, sub)
}

func (s *service) SetOverride(ctx context.Context, userID string, enabled bool, reason entitlement.OverrideReason) error {
	if enabled && !entitlement.ValidOverrideReason(reason) {
		return entitlement.ErrInvalidOverrideReason
	}
	return s.store.SetOverride(ctx, userID, enabled, reason)
}

func (s *service) ListSubscribers(ctx context.Context, filter entitlement.Filter) ([]entitlement.Record, int64, error) {
	return s.store.List(ctx, filter)
}

// providerErr classifies a billing provider failure: transient failures
// become the retryable ErrProviderUnavailable, everything else passes
// through for precise handling upstream.
func (s *service) providerErr(op string, err error) error {
	if billing.IsUnavailable(err) {
		return fmt.Errorf("%w: %s: %v", ErrProviderUnavailable, op, err)
	}
	return err
}
