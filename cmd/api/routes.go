package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jdtask/backend/internal/handlers"
	"github.com/jdtask/backend/internal/middleware"
)

func registerRoutes(
	mux *http.ServeMux,
	validator middleware.TokenValidator,
	authHandler *handlers.AuthHandler,
	taskHandler *handlers.TaskHandler,
	ledgerHandler *handlers.LedgerHandler,
	statsHandler *handlers.StatsHandler,
	templateHandler *handlers.TemplateHandler,
) {
	authed := func(h http.HandlerFunc) http.Handler {
		return middleware.RequireAuth(validator, h)
	}

	// Auth (public)
	mux.HandleFunc("POST /v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /v1/auth/login", authHandler.Login)

	// Tasks
	mux.Handle("POST /v1/tasks", authed(taskHandler.Create))
	mux.Handle("POST /v1/tasks/batch", authed(taskHandler.CreateBatch))
	mux.Handle("GET /v1/tasks", authed(taskHandler.List))
	mux.Handle("GET /v1/tasks/{id}", authed(taskHandler.Get))
	mux.Handle("POST /v1/tasks/{id}/cancel", authed(taskHandler.Cancel))
	mux.Handle("PUT /v1/tasks/{id}", authed(taskHandler.Edit))
	mux.Handle("GET /v1/task-types", authed(taskHandler.ListTypes))

	// Execution reports come from devices, not browser sessions, so the
	// endpoint is unauthenticated. Reports are queued and applied async.
	mux.HandleFunc("POST /v1/tasks/{id}/report", taskHandler.Report)

	// Ledger
	mux.Handle("GET /v1/ledger/records", authed(ledgerHandler.Records))
	mux.Handle("GET /v1/ledger/balance", authed(ledgerHandler.Balance))
	mux.Handle("POST /v1/ledger/recharge", authed(ledgerHandler.Recharge))
	mux.Handle("POST /v1/ledger/adjust", authed(ledgerHandler.Adjust))
	mux.Handle("GET /v1/ledger/verify", authed(ledgerHandler.Verify))

	// Stats (admin, enforced in the handlers)
	mux.Handle("GET /v1/stats/today", authed(statsHandler.Today))
	mux.Handle("GET /v1/stats/pressure", authed(statsHandler.Pressure))
	mux.Handle("GET /v1/stats/finance", authed(statsHandler.Finance))

	// Templates
	mux.Handle("GET /v1/templates", authed(templateHandler.List))
	mux.Handle("PUT /v1/templates/{id}/remark", authed(templateHandler.UpdateRemark))
	mux.Handle("POST /v1/templates/rebuild", authed(templateHandler.Rebuild))

	mux.Handle("GET /metrics", promhttp.Handler())
}
