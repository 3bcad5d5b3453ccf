package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jdtask/backend/internal/ledger"
	"github.com/jdtask/backend/internal/models"
)

// LedgerService is the slice of the ledger service the handler uses.
type LedgerService interface {
	Recharge(ctx context.Context, userID uuid.UUID, amount int, remark string) (int, *models.LedgerRecord, error)
	AdminAdjust(ctx context.Context, userID uuid.UUID, delta int, remark string) (int, *models.LedgerRecord, error)
	Verify(ctx context.Context, userID uuid.UUID) (*ledger.VerifyResult, error)
}

// RecordLister pages through the append-only record log.
type RecordLister interface {
	List(ctx context.Context, f ledger.RecordFilter) ([]*models.LedgerRecord, int64, error)
}

type LedgerHandler struct {
	svc     LedgerService
	records RecordLister
	users   UserGetter
	log     *slog.Logger
}

func NewLedgerHandler(svc LedgerService, records RecordLister, users UserGetter, log *slog.Logger) *LedgerHandler {
	if log == nil {
		log = slog.Default()
	}
	return &LedgerHandler{svc: svc, records: records, users: users, log: log}
}

func (h *LedgerHandler) actor(r *http.Request) (*models.User, bool) {
	return actorFromRequest(r, h.users)
}

// Records handles GET /v1/ledger/records. Non-admins only ever see their own
// records regardless of filters.
func (h *LedgerHandler) Records(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	f := ledger.RecordFilter{Kind: q.Get("kind")}
	f.Page, _ = strconv.Atoi(q.Get("page"))
	f.PerPage, _ = strconv.Atoi(q.Get("per_page"))

	if from := q.Get("from"); from != "" {
		t, err := parseDate(from)
		if err != nil {
			http.Error(w, "invalid from date", http.StatusBadRequest)
			return
		}
		f.From = &t
	}
	if to := q.Get("to"); to != "" {
		t, err := parseDate(to)
		if err != nil {
			http.Error(w, "invalid to date", http.StatusBadRequest)
			return
		}
		f.To = &t
	}

	if actor.IsAdmin() && q.Get("user_id") != "" {
		uid, err := uuid.Parse(q.Get("user_id"))
		if err != nil {
			http.Error(w, "invalid user_id", http.StatusBadRequest)
			return
		}
		f.UserID = &uid
	} else if !actor.IsAdmin() {
		f.UserID = &actor.ID
	}

	records, total, err := h.records.List(r.Context(), f)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	if records == nil {
		records = []*models.LedgerRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":   total,
		"records": records,
	})
}

// Balance handles GET /v1/ledger/balance.
func (h *LedgerHandler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":         actor.ID.String(),
		"jingdou_balance": actor.JingdouBalance,
	})
}

type moveRequest struct {
	UserID uuid.UUID `json:"user_id"`
	Amount int       `json:"amount"`
	Remark string    `json:"remark"`
}

// Recharge handles POST /v1/ledger/recharge (admin).
func (h *LedgerHandler) Recharge(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.svc.Recharge)
}

// Adjust handles POST /v1/ledger/adjust (admin). Amount is signed.
func (h *LedgerHandler) Adjust(w http.ResponseWriter, r *http.Request) {
	h.move(w, r, h.svc.AdminAdjust)
}

func (h *LedgerHandler) move(w http.ResponseWriter, r *http.Request, apply func(context.Context, uuid.UUID, int, string) (int, *models.LedgerRecord, error)) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !actor.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.UserID == uuid.Nil {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}
	newBalance, rec, err := apply(r.Context(), req.UserID, req.Amount, req.Remark)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     req.UserID.String(),
		"new_balance": newBalance,
		"record_id":   rec.ID.String(),
	})
}

// Verify handles GET /v1/ledger/verify (admin): replays one user's records
// against the cached balance. A mismatch is reported for out-of-band repair,
// never corrected here.
func (h *LedgerHandler) Verify(w http.ResponseWriter, r *http.Request) {
	actor, ok := h.actor(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !actor.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	uid, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		http.Error(w, "invalid user_id", http.StatusBadRequest)
		return
	}
	res, err := h.svc.Verify(r.Context(), uid)
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	if !res.Consistent {
		h.log.Error("ledger inconsistency detected", "user_id", uid,
			"cached_balance", res.CachedBalance, "record_sum", res.RecordSum)
	}
	writeJSON(w, http.StatusOK, res)
}

// parseDate accepts RFC3339 or a bare YYYY-MM-DD.
func parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", s)
}
