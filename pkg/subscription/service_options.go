package subscription

import (
	"log/slog"
	"time"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*service)

// WithTrialDays overrides the default trial length attached to
// trial-eligible subscriptions.
func WithTrialDays(days int) ServiceOption {
	return func(s *service) {
		if days > 0 {
			s.trialDays = days
		}
	}
}

// WithLogger sets the structured logger used by the engine.
func WithLogger(log *slog.Logger) ServiceOption {
	return func(s *service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithDeduper sets the webhook event deduplicator. Without one, duplicate
// deliveries are reprocessed, which is safe but wasteful.
func WithDeduper(d EventDeduper) ServiceOption {
	return func(s *service) {
		if d != nil {
			s.dedup = d
		}
	}
}

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *service) {
		if now != nil {
			s.now = now
		}
	}
}
