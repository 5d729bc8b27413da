package subscription_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrymomot/subsync/pkg/billing"
)

// fakeProvider is an in-memory billing.Provider with failure injection.
// It models the provider-side behavior the engine depends on: customer
// metadata back-references, live-subscription checks, and cancel/resume
// as flag flips on a stored subscription.
type fakeProvider struct {
	mu        sync.Mutex
	customers map[string]*billing.Customer
	subs      map[string]*billing.Subscription
	seq       int

	// verified events keyed by signature; anything else is rejected.
	events map[string]*billing.Event

	createCustomerErr  error
	createSubErr       error
	getSubErr          error
	getCustomerErr     error
	updateCustomerErr  error
	paymentMethodErr   error
	listInvoicesErr    error
	paymentMethod      *billing.PaymentMethod
	invoices           []billing.Invoice
	createCustomerCnt  int
	createSubCnt       int
	cancelCnt          int
	resumeCnt          int
	changePriceCnt     int
	updateCustomerCnt  int
	getCustomerCnt     int
	lastTrialDays      int
	subCreationStatus  string // status assigned to non-trial creations
	currentPeriodStart time.Time
	currentPeriodEnd   time.Time
}

func newFakeProvider() *fakeProvider {
	now := time.Now().UTC().Truncate(time.Second)
	return &fakeProvider{
		customers:          make(map[string]*billing.Customer),
		subs:               make(map[string]*billing.Subscription),
		events:             make(map[string]*billing.Event),
		subCreationStatus:  billing.SubStatusIncomplete,
		currentPeriodStart: now,
		currentPeriodEnd:   now.Add(30 * 24 * time.Hour),
	}
}

func (f *fakeProvider) addCustomer(id, userID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.customers[id] = &billing.Customer{ID: id, UserID: userID}
}

func (f *fakeProvider) addSubscription(sub billing.Subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subs[sub.ID] = &sub
}

func (f *fakeProvider) subscription(id string) billing.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.subs[id]
}

func (f *fakeProvider) CreateCustomer(_ context.Context, params billing.CustomerParams) (*billing.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCustomerCnt++
	if f.createCustomerErr != nil {
		return nil, f.createCustomerErr
	}
	f.seq++
	cus := &billing.Customer{
		ID:     fmt.Sprintf("cus_%d", f.seq),
		Email:  params.Email,
		Name:   params.Name,
		UserID: params.UserID,
	}
	f.customers[cus.ID] = cus
	out := *cus
	return &out, nil
}

func (f *fakeProvider) GetCustomer(_ context.Context, customerID string) (*billing.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getCustomerCnt++
	if f.getCustomerErr != nil {
		return nil, f.getCustomerErr
	}
	cus, ok := f.customers[customerID]
	if !ok {
		return nil, billing.ErrCustomerNotFound
	}
	out := *cus
	return &out, nil
}

func (f *fakeProvider) UpdateCustomer(_ context.Context, customerID string, params billing.CustomerParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updateCustomerCnt++
	if f.updateCustomerErr != nil {
		return f.updateCustomerErr
	}
	cus, ok := f.customers[customerID]
	if !ok {
		return billing.ErrCustomerNotFound
	}
	cus.Email = params.Email
	cus.Name = params.Name
	return nil
}

func (f *fakeProvider) HasLiveSubscription(_ context.Context, customerID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.CustomerID != customerID {
			continue
		}
		switch sub.Status {
		case billing.SubStatusActive, billing.SubStatusTrialing, billing.SubStatusPastDue:
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeProvider) CreateSubscription(_ context.Context, req billing.CreateSubscriptionRequest) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createSubCnt++
	f.lastTrialDays = req.TrialDays
	if f.createSubErr != nil {
		return nil, f.createSubErr
	}
	f.seq++
	start := f.currentPeriodStart
	end := f.currentPeriodEnd
	sub := &billing.Subscription{
		ID:                 fmt.Sprintf("sub_%d", f.seq),
		CustomerID:         req.CustomerID,
		Status:             f.subCreationStatus,
		PriceID:            req.PriceID,
		CurrentPeriodStart: &start,
		CurrentPeriodEnd:   &end,
		ClientSecret:       "cs_test_secret",
	}
	if req.TrialDays > 0 {
		sub.Status = billing.SubStatusTrialing
		trialEnd := start.Add(time.Duration(req.TrialDays) * 24 * time.Hour)
		sub.TrialEnd = &trialEnd
		sub.ClientSecret = ""
	}
	f.subs[sub.ID] = sub
	out := *sub
	return &out, nil
}

func (f *fakeProvider) CancelAtPeriodEnd(_ context.Context, subscriptionID string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelCnt++
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	sub.CancelAt = sub.CurrentPeriodEnd
	out := *sub
	return &out, nil
}

func (f *fakeProvider) Resume(_ context.Context, subscriptionID string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeCnt++
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	sub.CancelAt = nil
	out := *sub
	return &out, nil
}

func (f *fakeProvider) GetSubscription(_ context.Context, subscriptionID string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getSubErr != nil {
		return nil, f.getSubErr
	}
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	out := *sub
	return &out, nil
}

func (f *fakeProvider) ChangePrice(_ context.Context, subscriptionID, newPriceID string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changePriceCnt++
	sub, ok := f.subs[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription %s", subscriptionID)
	}
	sub.PriceID = newPriceID
	out := *sub
	return &out, nil
}

func (f *fakeProvider) DefaultPaymentMethod(_ context.Context, _ string) (*billing.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paymentMethodErr != nil {
		return nil, f.paymentMethodErr
	}
	return f.paymentMethod, nil
}

func (f *fakeProvider) ListInvoices(_ context.Context, _ string, _ int) ([]billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listInvoicesErr != nil {
		return nil, f.listInvoicesErr
	}
	return f.invoices, nil
}

func (f *fakeProvider) VerifyEvent(_ []byte, signature string) (*billing.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[signature]
	if !ok {
		return nil, billing.ErrInvalidSignature
	}
	return event, nil
}
