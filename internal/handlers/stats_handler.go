package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/jdtask/backend/internal/stats"
)

// StatsService is the slice of the stats service the handler uses.
type StatsService interface {
	Today(ctx context.Context, mode, taskType string) (*stats.TodayStats, error)
	Pressure(ctx context.Context, mode, taskType string) (*stats.PressureStats, error)
	Finance(ctx context.Context) (*stats.FinanceStats, error)
}

type StatsHandler struct {
	svc   StatsService
	users UserGetter
	log   *slog.Logger
}

func NewStatsHandler(svc StatsService, users UserGetter, log *slog.Logger) *StatsHandler {
	if log == nil {
		log = slog.Default()
	}
	return &StatsHandler{svc: svc, users: users, log: log}
}

func (h *StatsHandler) admin(w http.ResponseWriter, r *http.Request) bool {
	actor, ok := actorFromRequest(r, h.users)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return false
	}
	if !actor.IsAdmin() {
		http.Error(w, "forbidden", http.StatusForbidden)
		return false
	}
	return true
}

// Today handles GET /v1/stats/today (admin).
func (h *StatsHandler) Today(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	q := r.URL.Query()
	out, err := h.svc.Today(r.Context(), q.Get("stat_mode"), q.Get("task_type"))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Pressure handles GET /v1/stats/pressure (admin).
func (h *StatsHandler) Pressure(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	q := r.URL.Query()
	out, err := h.svc.Pressure(r.Context(), q.Get("stat_mode"), q.Get("task_type"))
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Finance handles GET /v1/stats/finance (admin).
func (h *StatsHandler) Finance(w http.ResponseWriter, r *http.Request) {
	if !h.admin(w, r) {
		return
	}
	out, err := h.svc.Finance(r.Context())
	if err != nil {
		writeError(h.log, w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
