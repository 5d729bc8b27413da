package billing

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	billingpkg "github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/entitlement"
	"github.com/dmitrymomot/subsync/pkg/plan"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

// maxWebhookBody caps webhook payloads at 1 MiB; real provider events are
// a few kilobytes.
const maxWebhookBody = 1 << 20

type handlers struct {
	svc subscription.Service
	log *slog.Logger
}

type createRequest struct {
	PriceID string `json:"priceId"`
	// Optional; when present it must match the authenticated caller.
	UserID string `json:"userId,omitempty"`
}

func (h *handlers) createSubscription(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.PriceID == "" {
		writeError(w, http.StatusBadRequest, "priceId is required")
		return
	}
	if req.UserID != "" && req.UserID != identity.UserID {
		writeError(w, http.StatusUnauthorized, "caller identity does not match userId")
		return
	}

	res, err := h.svc.CreateSubscription(r.Context(), identity.UserID, req.PriceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	res, err := h.svc.CancelSubscription(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) resumeSubscription(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	res, err := h.svc.ResumeSubscription(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type changePlanRequest struct {
	PriceID string `json:"priceId"`
}

func (h *handlers) changePlan(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req changePlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.PriceID == "" {
		writeError(w, http.StatusBadRequest, "priceId is required")
		return
	}

	res, err := h.svc.ChangePlan(r.Context(), identity.UserID, req.PriceID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handlers) subscriptionDetails(w http.ResponseWriter, r *http.Request) {
	identity, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	details, err := h.svc.Details(r.Context(), identity.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

type subscriberList struct {
	Subscribers []entitlement.Record `json:"subscribers"`
	Total       int64                `json:"total"`
	Limit       int64                `json:"limit"`
	Offset      int64                `json:"offset"`
}

func (h *handlers) listSubscribers(w http.ResponseWriter, r *http.Request) {
	filter, err := parseSubscriberFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	records, total, err := h.svc.ListSubscribers(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if records == nil {
		records = []entitlement.Record{}
	}
	writeJSON(w, http.StatusOK, subscriberList{
		Subscribers: records,
		Total:       total,
		Limit:       filter.Limit,
		Offset:      filter.Offset,
	})
}

func parseSubscriberFilter(r *http.Request) (entitlement.Filter, error) {
	var filter entitlement.Filter
	q := r.URL.Query()

	if v := q.Get("plan"); v != "" {
		tier := plan.Tier(v)
		if !tier.Valid() {
			return filter, errors.New("invalid plan filter")
		}
		filter.Plan = tier
	}
	if v := q.Get("status"); v != "" {
		switch status := entitlement.Status(v); status {
		case entitlement.StatusActive, entitlement.StatusCanceled,
			entitlement.StatusPastDue, entitlement.StatusTrial:
			filter.Status = status
		default:
			return filter, errors.New("invalid status filter")
		}
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = n
	}
	return filter, nil
}

type overrideRequest struct {
	Enabled bool                       `json:"enabled"`
	Reason  entitlement.OverrideReason `json:"reason"`
}

func (h *handlers) setOverride(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userID is required")
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.svc.SetOverride(r.Context(), userID, req.Enabled, req.Reason); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
}

// webhook receives provider event deliveries. The raw body feeds signature
// verification directly, so it is never parsed or re-serialized first.
// A 200 acknowledges the event; any other status makes the provider retry
// with backoff.
func (h *handlers) webhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable payload")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if err := h.svc.HandleEvent(r.Context(), payload, signature); err != nil {
		if errors.Is(err, billingpkg.ErrInvalidSignature) {
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		h.log.ErrorContext(r.Context(), "webhook processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
