// Package handlers is the HTTP boundary: decode, call a service, encode.
// Field names are the stable contract the client depends on; business rules
// live in the services.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/jdtask/backend/internal/auth"
	"github.com/jdtask/backend/internal/ledger"
	"github.com/jdtask/backend/internal/lifecycle"
	"github.com/jdtask/backend/internal/middleware"
	"github.com/jdtask/backend/internal/models"
	"github.com/jdtask/backend/internal/pricing"
)

// actorFromRequest resolves the bearer identity to a full user row.
func actorFromRequest(r *http.Request, users UserGetter) (*models.User, bool) {
	id, ok := middleware.IdentityFromCtx(r.Context())
	if !ok {
		return nil, false
	}
	u, err := users.GetByID(r.Context(), id.UserID)
	if err != nil {
		return nil, false
	}
	return u, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service sentinels to status codes. Anything unrecognized
// is a 500 and gets logged; expected failures do not.
func writeError(log *slog.Logger, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, lifecycle.ErrValidation),
		errors.Is(err, lifecycle.ErrBatchTooLarge),
		errors.Is(err, pricing.ErrTypeInactive),
		errors.Is(err, pricing.ErrTimeWindow),
		errors.Is(err, pricing.ErrInvalidCount):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ledger.ErrInsufficientBalance):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, lifecycle.ErrNotFound), errors.Is(err, pgx.ErrNoRows):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, lifecycle.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, lifecycle.ErrInvalidTransition):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auth.ErrDuplicateUsername):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, auth.ErrInvalidCredentials):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	default:
		log.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}
