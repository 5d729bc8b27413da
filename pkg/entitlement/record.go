package entitlement

import (
	"time"

	"github.com/dmitrymomot/subsync/pkg/plan"
)

// Role is the application-level role stored on the user record.
// Admins are fully entitled regardless of billing state.
type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
)

// Status is the application's view of the subscription state,
// derived from the billing provider's status by reconciliation.
type Status string

const (
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusPastDue  Status = "past_due"
	StatusTrial    Status = "trial"
)

// OverrideReason explains a manual entitlement grant.
type OverrideReason string

const (
	OverrideAdmin       OverrideReason = "admin"
	OverrideTrial       OverrideReason = "trial"
	OverridePartner     OverrideReason = "partner"
	OverridePromotional OverrideReason = "promotional"
)

// ValidOverrideReason reports whether r is one of the known reasons.
func ValidOverrideReason(r OverrideReason) bool {
	switch r {
	case OverrideAdmin, OverrideTrial, OverridePartner, OverridePromotional:
		return true
	}
	return false
}

// Subscription is the entitlement half of the user record. Every field except
// HasUsedTrial and the override pair is derived from the billing provider and
// owned by the reconciliation write path.
type Subscription struct {
	Plan                  plan.Tier      `bson:"plan"`
	Status                Status         `bson:"status"`
	BillingCustomerID     string         `bson:"billingCustomerId,omitempty"`
	BillingSubscriptionID string         `bson:"billingSubscriptionId,omitempty"`
	CurrentPeriodStart    *time.Time     `bson:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd      *time.Time     `bson:"currentPeriodEnd,omitempty"`
	CancelAt              *time.Time     `bson:"cancelAt,omitempty"`
	TrialEnd              *time.Time     `bson:"trialEnd,omitempty"`
	HasUsedTrial          bool           `bson:"hasUsedTrial"`
	OverrideAccess        bool           `bson:"overrideAccess"`
	OverrideReason        OverrideReason `bson:"overrideReason,omitempty"`
}

// Record is one user's entitlement record. It is created at signup and kept
// current by reconciliation; it is never deleted while the account exists.
type Record struct {
	UserID       string       `bson:"_id"`
	Email        string       `bson:"email,omitempty"`
	DisplayName  string       `bson:"displayName,omitempty"`
	Role         Role         `bson:"role"`
	Subscription Subscription `bson:"subscription"`
	CreatedAt    time.Time    `bson:"createdAt"`
	UpdatedAt    time.Time    `bson:"updatedAt"`
}

// Snapshot carries the derived subscription fields written by reconciliation.
// It deliberately excludes HasUsedTrial, the override pair, and the customer
// reference: applying a snapshot can never reset the trial flag or revoke a
// manual grant.
type Snapshot struct {
	Plan                  plan.Tier
	Status                Status
	BillingSubscriptionID string
	CurrentPeriodStart    *time.Time
	CurrentPeriodEnd      *time.Time
	CancelAt              *time.Time
	TrialEnd              *time.Time
}

// normalize applies defaulting rules at the store-read boundary so every
// caller operates on a fully populated record instead of re-deriving
// defaults ad hoc.
func normalize(rec *Record) *Record {
	if rec == nil {
		return nil
	}
	switch rec.Role {
	case RoleUser, RoleAdmin, RoleModerator:
	default:
		rec.Role = RoleUser
	}
	rec.Subscription.Plan = plan.ParseTier(string(rec.Subscription.Plan))
	switch rec.Subscription.Status {
	case StatusActive, StatusCanceled, StatusPastDue, StatusTrial:
	default:
		rec.Subscription.Status = StatusCanceled
	}
	return rec
}
