package billing

import (
	"encoding/json"
	"errors"
	"net/http"

	billingpkg "github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/entitlement"
	"github.com/dmitrymomot/subsync/pkg/subscription"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeServiceError maps engine errors onto the HTTP surface. Anything
// unrecognized becomes a generic 500 so internal details and provider
// identifiers never leak to callers.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, subscription.ErrInvalidState),
		errors.Is(err, entitlement.ErrInvalidOverrideReason):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, entitlement.ErrRecordNotFound),
		errors.Is(err, billingpkg.ErrCustomerNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, subscription.ErrProviderUnavailable):
		writeError(w, http.StatusServiceUnavailable, "billing provider unavailable, try again")
	default:
		writeError(w, http.StatusInternalServerError, "something went wrong, try again")
	}
}
