package entitlement

import (
	"fmt"
	"time"

	"github.com/dmitrymomot/subsync/pkg/plan"
)

// UnlimitedDays marks access with no expiry in a Summary.
// A sentinel is used instead of a huge number so JSON consumers can
// distinguish "never expires" from "expires far in the future".
const UnlimitedDays = -1

// expiringSoonWindow is the remaining-days threshold for the renewal nudge.
const expiringSoonWindow = 7

// HasAccess reports whether the record grants access to paid features.
// Admin role and manual overrides short-circuit billing state entirely;
// otherwise a live billing subscription reference is required so a record
// claiming "active" without one never grants access.
func HasAccess(rec *Record) bool {
	if rec == nil {
		return false
	}
	if rec.Role == RoleAdmin {
		return true
	}
	if rec.Subscription.OverrideAccess {
		return true
	}
	return rec.Subscription.Status == StatusActive &&
		rec.Subscription.Plan.Paid() &&
		rec.Subscription.BillingSubscriptionID != ""
}

// HasPlanAccess reports whether the record grants access to features gated
// at the required tier or above.
func HasPlanAccess(rec *Record, required plan.Tier) bool {
	if rec == nil {
		return false
	}
	if rec.Role == RoleAdmin {
		return true
	}
	if rec.Subscription.OverrideAccess {
		return true
	}
	return rec.Subscription.Status == StatusActive &&
		rec.Subscription.Plan.Meets(required)
}

// Summary describes the subscription state for display.
type Summary struct {
	IsActive       bool   `json:"isActive"`
	DaysRemaining  int    `json:"daysRemaining"`
	IsExpiringSoon bool   `json:"isExpiringSoon"`
	Message        string `json:"message"`
}

// StatusSummary computes a display summary of the record at the given time.
func StatusSummary(rec *Record, now time.Time) Summary {
	if rec == nil {
		return Summary{Message: "sign in required"}
	}

	if rec.Role == RoleAdmin || rec.Subscription.OverrideAccess {
		return Summary{
			IsActive:      true,
			DaysRemaining: UnlimitedDays,
			Message:       "unlimited access",
		}
	}

	if rec.Subscription.Plan == plan.TierFree {
		return Summary{Message: "upgrade to unlock paid features"}
	}

	if end := rec.Subscription.CurrentPeriodEnd; end != nil {
		days := daysUntil(now, *end)
		active := rec.Subscription.Status == StatusActive
		msg := "subscription inactive"
		if active {
			msg = fmt.Sprintf("active until %s", end.UTC().Format("2006-01-02"))
		}
		return Summary{
			IsActive:       active,
			DaysRemaining:  days,
			IsExpiringSoon: days > 0 && days <= expiringSoonWindow,
			Message:        msg,
		}
	}

	return Summary{
		IsActive: rec.Subscription.Status == StatusActive,
		Message:  "subscription state unknown",
	}
}

// daysUntil rounds up so a period ending in one hour still counts as one day.
func daysUntil(now, end time.Time) int {
	diff := end.Sub(now)
	if diff <= 0 {
		return 0
	}
	days := int(diff / (24 * time.Hour))
	if diff%(24*time.Hour) != 0 {
		days++
	}
	return days
}
