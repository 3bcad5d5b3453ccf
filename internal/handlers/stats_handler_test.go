package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/jdtask/backend/internal/middleware"
	"github.com/jdtask/backend/internal/models"
	"github.com/jdtask/backend/internal/stats"
)

type stubStats struct{}

func (stubStats) Today(context.Context, string, string) (*stats.TodayStats, error) {
	return &stats.TodayStats{StatMode: stats.ModeExecute, TotalValue: 70}, nil
}

func (stubStats) Pressure(context.Context, string, string) (*stats.PressureStats, error) {
	return &stats.PressureStats{PressureValue: 1.5, PressureLevel: "medium"}, nil
}

func (stubStats) Finance(context.Context) (*stats.FinanceStats, error) {
	return &stats.FinanceStats{AvgDailyRecharge: 100}, nil
}

func TestStats_AdminOnly(t *testing.T) {
	user := &models.User{ID: uuid.New(), Role: models.RoleCommon}
	admin := &models.User{ID: uuid.New(), Role: models.RoleAdmin}
	users := &stubUsers{users: map[uuid.UUID]*models.User{user.ID: user, admin.ID: admin}}
	validator := &stubValidator{tokens: map[string]middleware.Identity{
		"user-token":  {UserID: user.ID, Role: user.Role},
		"admin-token": {UserID: admin.ID, Role: admin.Role},
	}}
	handler := NewStatsHandler(stubStats{}, users, slog.New(slog.DiscardHandler))

	mux := http.NewServeMux()
	mux.Handle("GET /v1/stats/today", middleware.RequireAuth(validator, http.HandlerFunc(handler.Today)))
	mux.Handle("GET /v1/stats/pressure", middleware.RequireAuth(validator, http.HandlerFunc(handler.Pressure)))
	mux.Handle("GET /v1/stats/finance", middleware.RequireAuth(validator, http.HandlerFunc(handler.Finance)))

	for _, path := range []string{"/v1/stats/today", "/v1/stats/pressure", "/v1/stats/finance"} {
		req := httptest.NewRequest("GET", path, nil)
		req.Header.Set("Authorization", "Bearer user-token")
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusForbidden {
			t.Errorf("%s as common user: got %d, want 403", path, rr.Code)
		}

		req = httptest.NewRequest("GET", path, nil)
		req.Header.Set("Authorization", "Bearer admin-token")
		rr = httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusOK {
			t.Errorf("%s as admin: got %d, want 200", path, rr.Code)
		}
	}
}
