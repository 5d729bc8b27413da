package entitlement

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dmitrymomot/subsync/pkg/plan"
)

// MemoryStore is an in-memory Store for tests and local development.
// It mirrors the document semantics of the mongo store: field-level
// updates, last write wins.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*Record)}
}

func (s *MemoryStore) Get(ctx context.Context, userID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[userID]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *rec
	return normalize(&cp), nil
}

func (s *MemoryStore) Create(ctx context.Context, userID, email, displayName string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[userID]; ok {
		return nil, ErrRecordExists
	}

	now := time.Now().UTC()
	rec := &Record{
		UserID:      userID,
		Email:       email,
		DisplayName: displayName,
		Role:        RoleUser,
		Subscription: Subscription{
			Plan:   plan.TierFree,
			Status: StatusCanceled,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[userID] = rec

	cp := *rec
	return &cp, nil
}

func (s *MemoryStore) SetBillingCustomerID(ctx context.Context, userID, customerID string) error {
	return s.update(userID, func(rec *Record) {
		rec.Subscription.BillingCustomerID = customerID
	})
}

func (s *MemoryStore) MarkTrialUsed(ctx context.Context, userID string) error {
	return s.update(userID, func(rec *Record) {
		rec.Subscription.HasUsedTrial = true
	})
}

func (s *MemoryStore) ApplySnapshot(ctx context.Context, userID string, snap Snapshot) error {
	return s.update(userID, func(rec *Record) {
		rec.Subscription.Plan = snap.Plan
		rec.Subscription.Status = snap.Status
		rec.Subscription.BillingSubscriptionID = snap.BillingSubscriptionID
		rec.Subscription.CurrentPeriodStart = snap.CurrentPeriodStart
		rec.Subscription.CurrentPeriodEnd = snap.CurrentPeriodEnd
		rec.Subscription.CancelAt = snap.CancelAt
		rec.Subscription.TrialEnd = snap.TrialEnd
	})
}

func (s *MemoryStore) SetOverride(ctx context.Context, userID string, enabled bool, reason OverrideReason) error {
	if enabled && !ValidOverrideReason(reason) {
		return ErrInvalidOverrideReason
	}
	return s.update(userID, func(rec *Record) {
		rec.Subscription.OverrideAccess = enabled
		if enabled {
			rec.Subscription.OverrideReason = reason
		} else {
			rec.Subscription.OverrideReason = ""
		}
	})
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]Record, int64, error) {
	filter = filter.clamp()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Record
	for _, rec := range s.records {
		cp := *rec
		normalize(&cp)
		if filter.Plan != "" {
			if cp.Subscription.Plan != filter.Plan {
				continue
			}
		} else if !cp.Subscription.Plan.Paid() {
			continue
		}
		if filter.Status != "" && cp.Subscription.Status != filter.Status {
			continue
		}
		matched = append(matched, cp)
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := int64(len(matched))
	start := min(filter.Offset, total)
	end := min(start+filter.Limit, total)
	return slices.Clone(matched[start:end]), total, nil
}

// Seed inserts a record verbatim, for test setup.
func (s *MemoryStore) Seed(rec Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.UserID] = &rec
}

func (s *MemoryStore) update(userID string, fn func(*Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[userID]
	if !ok {
		return ErrRecordNotFound
	}
	fn(rec)
	rec.UpdatedAt = time.Now().UTC()
	return nil
}
