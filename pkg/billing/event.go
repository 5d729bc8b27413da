package billing

import (
	"encoding/json"
	"errors"
	"time"
)

// EventKind is the normalized webhook event kind. Providers deliver many
// more kinds than the engine consumes; everything else maps to
// EventUnknown and is acknowledged without processing.
type EventKind string

const (
	EventSubscriptionCreated  EventKind = "subscription_created"
	EventSubscriptionUpdated  EventKind = "subscription_updated"
	EventSubscriptionDeleted  EventKind = "subscription_deleted"
	EventInvoicePaid          EventKind = "invoice_paid"
	EventInvoicePaymentFailed EventKind = "invoice_payment_failed"
	EventUnknown              EventKind = "unknown"
)

// Event is a verified webhook delivery. ID is the provider-assigned unique
// event identifier used for duplicate suppression.
type Event struct {
	ID           string
	Kind         EventKind
	ProviderType string // original provider event name, for logging
	Payload      json.RawMessage
}

// InvoiceRef identifies the subscription and customer behind an invoice
// event.
type InvoiceRef struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
}

// objectID decodes a provider reference that may arrive as a bare ID
// string or as an expanded object. Webhook payload shapes drift across
// provider API versions; the channel must tolerate that.
type objectID string

func (o *objectID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*o = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*o = objectID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*o = objectID(obj.ID)
	return nil
}

// Invoice extracts the subscription/customer references from an invoice
// event payload. It accepts both the flat subscription reference and the
// nested parent.subscription_details shape of newer provider API versions.
func (e *Event) Invoice() (*InvoiceRef, error) {
	var raw struct {
		ID           objectID `json:"id"`
		Customer     objectID `json:"customer"`
		Subscription objectID `json:"subscription"`
		Parent       struct {
			SubscriptionDetails struct {
				Subscription objectID `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(e.Payload, &raw); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}

	subID := string(raw.Subscription)
	if subID == "" {
		subID = string(raw.Parent.SubscriptionDetails.Subscription)
	}

	return &InvoiceRef{
		InvoiceID:      string(raw.ID),
		CustomerID:     string(raw.Customer),
		SubscriptionID: subID,
	}, nil
}

// Subscription extracts a subscription snapshot from a subscription event
// payload. Period bounds are taken from the first line item when present
// (newer API versions) and from the flat fields otherwise.
func (e *Event) Subscription() (*Subscription, error) {
	var raw struct {
		ID                 objectID `json:"id"`
		Customer           objectID `json:"customer"`
		Status             string   `json:"status"`
		CancelAt           int64    `json:"cancel_at"`
		CancelAtPeriodEnd  bool     `json:"cancel_at_period_end"`
		TrialEnd           int64    `json:"trial_end"`
		CurrentPeriodStart int64    `json:"current_period_start"`
		CurrentPeriodEnd   int64    `json:"current_period_end"`
		Items              struct {
			Data []struct {
				CurrentPeriodStart int64 `json:"current_period_start"`
				CurrentPeriodEnd   int64 `json:"current_period_end"`
				Price              struct {
					ID string `json:"id"`
				} `json:"price"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(e.Payload, &raw); err != nil {
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	if raw.ID == "" {
		return nil, ErrMalformedEvent
	}

	snap := &Subscription{
		ID:                 string(raw.ID),
		CustomerID:         string(raw.Customer),
		Status:             raw.Status,
		CurrentPeriodStart: unixPtr(raw.CurrentPeriodStart),
		CurrentPeriodEnd:   unixPtr(raw.CurrentPeriodEnd),
		TrialEnd:           unixPtr(raw.TrialEnd),
	}
	if len(raw.Items.Data) > 0 {
		item := raw.Items.Data[0]
		snap.PriceID = item.Price.ID
		if item.CurrentPeriodStart > 0 {
			snap.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		}
		if item.CurrentPeriodEnd > 0 {
			snap.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
		}
	}
	if raw.CancelAt > 0 {
		snap.CancelAt = unixPtr(raw.CancelAt)
	} else if raw.CancelAtPeriodEnd {
		snap.CancelAt = snap.CurrentPeriodEnd
	}
	return snap, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
