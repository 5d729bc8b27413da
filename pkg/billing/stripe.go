package billing

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"
)

// metadataUserIDKey tags the provider customer with the application user
// identity. Event processing resolves users through this key only.
const metadataUserIDKey = "user_id"

// retryBackoff is the pause before the single fast retry on transport
// failures.
const retryBackoff = 200 * time.Millisecond

// StripeConfig holds configuration for the Stripe billing provider.
type StripeConfig struct {
	APIKey         string        `env:"STRIPE_API_KEY,required"`
	WebhookSecret  string        `env:"STRIPE_WEBHOOK_SECRET,required"`
	RequestTimeout time.Duration `env:"STRIPE_REQUEST_TIMEOUT" envDefault:"15s"`
}

// StripeProvider implements Provider for Stripe. The API client is
// constructed once with an injected key; no package-level SDK state is
// used.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
	timeout       time.Duration
}

// NewStripeProvider creates a Stripe billing provider.
func NewStripeProvider(cfg StripeConfig) (*StripeProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	if cfg.WebhookSecret == "" {
		return nil, ErrMissingWebhookSecret
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	api := &client.API{}
	api.Init(cfg.APIKey, nil)

	return &StripeProvider{
		api:           api,
		webhookSecret: cfg.WebhookSecret,
		timeout:       timeout,
	}, nil
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, cp CustomerParams) (*Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(uuid.NewString()),
		},
	}
	if cp.Email != "" {
		params.Email = stripe.String(cp.Email)
	}
	if cp.Name != "" {
		params.Name = stripe.String(cp.Name)
	}
	params.AddMetadata(metadataUserIDKey, cp.UserID)

	cus, err := withRetry(ctx, func() (*stripe.Customer, error) {
		return p.api.Customers.New(params)
	})
	if err != nil {
		return nil, err
	}
	return fromStripeCustomer(cus), nil
}

func (p *StripeProvider) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	cus, err := withRetry(ctx, func() (*stripe.Customer, error) {
		return p.api.Customers.Get(customerID, params)
	})
	if err != nil {
		if isStripeNotFound(err) {
			return nil, ErrCustomerNotFound
		}
		return nil, err
	}
	if cus.Deleted {
		return nil, ErrCustomerNotFound
	}
	return fromStripeCustomer(cus), nil
}

func (p *StripeProvider) UpdateCustomer(ctx context.Context, customerID string, cp CustomerParams) error {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.CustomerParams{Params: stripe.Params{Context: ctx}}
	if cp.Email != "" {
		params.Email = stripe.String(cp.Email)
	}
	if cp.Name != "" {
		params.Name = stripe.String(cp.Name)
	}
	if cp.UserID != "" {
		params.AddMetadata(metadataUserIDKey, cp.UserID)
	}

	_, err := withRetry(ctx, func() (*stripe.Customer, error) {
		return p.api.Customers.Update(customerID, params)
	})
	return err
}

func (p *StripeProvider) HasLiveSubscription(ctx context.Context, customerID string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Context = ctx

	iter := p.api.Subscriptions.List(params)
	for iter.Next() {
		switch iter.Subscription().Status {
		case stripe.SubscriptionStatusActive,
			stripe.SubscriptionStatusTrialing,
			stripe.SubscriptionStatusPastDue:
			return true, nil
		}
	}
	return false, iter.Err()
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Params: stripe.Params{
			Context:        ctx,
			IdempotencyKey: stripe.String(uuid.NewString()),
		},
		Customer: stripe.String(req.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceID)},
		},
		// The subscription starts incomplete so the client confirms the
		// first payment with the returned secret.
		PaymentBehavior: stripe.String("default_incomplete"),
		PaymentSettings: &stripe.SubscriptionPaymentSettingsParams{
			SaveDefaultPaymentMethod: stripe.String("on_subscription"),
		},
	}
	if req.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	params.AddExpand("latest_invoice.confirmation_secret")

	sub, err := withRetry(ctx, func() (*stripe.Subscription, error) {
		return p.api.Subscriptions.New(params)
	})
	if err != nil {
		return nil, err
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return p.updateSubscription(ctx, subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
}

func (p *StripeProvider) Resume(ctx context.Context, subscriptionID string) (*Subscription, error) {
	return p.updateSubscription(ctx, subscriptionID, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	})
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	sub, err := withRetry(ctx, func() (*stripe.Subscription, error) {
		return p.api.Subscriptions.Get(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) ChangePrice(ctx context.Context, subscriptionID, newPriceID string) (*Subscription, error) {
	current, err := p.rawSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if current.Items == nil || len(current.Items.Data) == 0 {
		return nil, ErrNoSubscriptionItem
	}

	return p.updateSubscription(ctx, subscriptionID, &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(current.Items.Data[0].ID),
				Price: stripe.String(newPriceID),
			},
		},
		ProrationBehavior: stripe.String("always_invoice"),
	})
}

func (p *StripeProvider) DefaultPaymentMethod(ctx context.Context, subscriptionID string) (*PaymentMethod, error) {
	sub, err := p.rawSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.DefaultPaymentMethod == nil || sub.DefaultPaymentMethod.ID == "" {
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.PaymentMethodParams{Params: stripe.Params{Context: ctx}}
	pm, err := withRetry(ctx, func() (*stripe.PaymentMethod, error) {
		return p.api.PaymentMethods.Get(sub.DefaultPaymentMethod.ID, params)
	})
	if err != nil {
		return nil, err
	}
	if pm.Card == nil {
		return nil, nil
	}
	return &PaymentMethod{
		Brand:    string(pm.Card.Brand),
		Last4:    pm.Card.Last4,
		ExpMonth: pm.Card.ExpMonth,
		ExpYear:  pm.Card.ExpYear,
	}, nil
}

func (p *StripeProvider) ListInvoices(ctx context.Context, customerID string, limit int) ([]Invoice, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx
	if limit > 0 {
		params.Limit = stripe.Int64(int64(limit))
	}

	var invoices []Invoice
	iter := p.api.Invoices.List(params)
	for iter.Next() {
		inv := iter.Invoice()
		invoices = append(invoices, Invoice{
			ID:          inv.ID,
			AmountPaid:  inv.AmountPaid,
			AmountDue:   inv.AmountDue,
			Currency:    string(inv.Currency),
			Status:      string(inv.Status),
			CreatedAt:   time.Unix(inv.Created, 0).UTC(),
			PDFURL:      inv.InvoicePDF,
			HostedURL:   inv.HostedInvoiceURL,
			PeriodStart: time.Unix(inv.PeriodStart, 0).UTC(),
			PeriodEnd:   time.Unix(inv.PeriodEnd, 0).UTC(),
		})
	}
	return invoices, iter.Err()
}

// VerifyEvent authenticates the raw delivery against the endpoint secret.
// The body must be the unmodified request payload; re-serialization breaks
// the signature.
func (p *StripeProvider) VerifyEvent(payload []byte, signature string) (*Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}

	return &Event{
		ID:           event.ID,
		Kind:         mapStripeEventType(event.Type),
		ProviderType: string(event.Type),
		Payload:      event.Data.Raw,
	}, nil
}

func (p *StripeProvider) updateSubscription(ctx context.Context, subscriptionID string, params *stripe.SubscriptionParams) (*Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params.Context = ctx
	if params.IdempotencyKey == nil {
		params.IdempotencyKey = stripe.String(uuid.NewString())
	}

	sub, err := withRetry(ctx, func() (*stripe.Subscription, error) {
		return p.api.Subscriptions.Update(subscriptionID, params)
	})
	if err != nil {
		return nil, err
	}
	return fromStripeSubscription(sub), nil
}

func (p *StripeProvider) rawSubscription(ctx context.Context, subscriptionID string) (*stripe.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{Params: stripe.Params{Context: ctx}}
	return withRetry(ctx, func() (*stripe.Subscription, error) {
		return p.api.Subscriptions.Get(subscriptionID, params)
	})
}

func fromStripeCustomer(cus *stripe.Customer) *Customer {
	return &Customer{
		ID:     cus.ID,
		Email:  cus.Email,
		Name:   cus.Name,
		UserID: cus.Metadata[metadataUserIDKey],
	}
}

func fromStripeSubscription(sub *stripe.Subscription) *Subscription {
	snap := &Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		TrialEnd: unixPtr(sub.TrialEnd),
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			snap.PriceID = item.Price.ID
		}
		snap.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		snap.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
	}
	if sub.CancelAt > 0 {
		snap.CancelAt = unixPtr(sub.CancelAt)
	} else if sub.CancelAtPeriodEnd {
		snap.CancelAt = snap.CurrentPeriodEnd
	}
	if sub.LatestInvoice != nil && sub.LatestInvoice.ConfirmationSecret != nil {
		snap.ClientSecret = sub.LatestInvoice.ConfirmationSecret.ClientSecret
	}
	return snap
}

func mapStripeEventType(t stripe.EventType) EventKind {
	switch t {
	case "customer.subscription.created":
		return EventSubscriptionCreated
	case "customer.subscription.updated":
		return EventSubscriptionUpdated
	case "customer.subscription.deleted":
		return EventSubscriptionDeleted
	case "invoice.paid":
		return EventInvoicePaid
	case "invoice.payment_failed":
		return EventInvoicePaymentFailed
	default:
		return EventUnknown
	}
}

// withRetry performs the call with at most one fast retry on transient
// transport failures. Application-level provider errors (4xx) are never
// retried, and a spent context budget is respected.
func withRetry[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	v, err := fn()
	if err == nil || !retryable(err) {
		return v, err
	}

	select {
	case <-ctx.Done():
		return v, err
	case <-time.After(retryBackoff):
	}
	return fn()
}

// isStripeNotFound reports whether the error is a Stripe API 404 for a
// missing resource.
func isStripeNotFound(err error) bool {
	var sErr *stripe.Error
	return errors.As(err, &sErr) && sErr.HTTPStatusCode == 404
}

func retryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return sErr.HTTPStatusCode >= 500
	}
	// Non-API errors are transport failures.
	return true
}

// IsUnavailable reports whether the error is a transient provider failure
// the caller may retry (timeouts, transport errors, provider 5xx).
func IsUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var sErr *stripe.Error
	if errors.As(err, &sErr) {
		return sErr.HTTPStatusCode >= 500
	}
	if errors.Is(err, ErrInvalidSignature) || errors.Is(err, ErrMalformedEvent) ||
		errors.Is(err, ErrCustomerNotFound) || errors.Is(err, ErrNoClientSecret) ||
		errors.Is(err, ErrNoSubscriptionItem) {
		return false
	}
	return true
}
