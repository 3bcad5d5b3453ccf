package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/jdtask/backend/internal/auth"
	"github.com/jdtask/backend/internal/config"
	"github.com/jdtask/backend/internal/execution"
	"github.com/jdtask/backend/internal/handlers"
	"github.com/jdtask/backend/internal/ledger"
	"github.com/jdtask/backend/internal/lifecycle"
	"github.com/jdtask/backend/internal/pricing"
	"github.com/jdtask/backend/internal/repository"
	"github.com/jdtask/backend/internal/stats"
	"github.com/jdtask/backend/internal/template"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running, e.g. make dev-up or docker-compose up -d", "error", err)
		os.Exit(1)
	}
	slog.Info("Connected to PostgreSQL")

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		slog.Error("Schema setup failed", "error", err)
		os.Exit(1)
	}

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("Failed to create River migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("River migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("River migrations applied")

	// Repositories
	userRepo := repository.NewUserRepo(pool)
	taskRepo := repository.NewTaskRepo(pool)
	typeRepo := repository.NewTaskTypeRepo(pool)
	ledgerRepo := ledger.NewRepository(pool)
	statsRepo := stats.NewRepository(pool)
	templates := template.NewProjection(pool)

	// Services
	ledgerSvc := ledger.NewService(ledgerRepo)
	lifecycleSvc := lifecycle.NewService(
		taskRepo, typeRepo, ledgerSvc, templates, ledgerRepo,
		pricing.Mode(cfg.Pricing.Mode), cfg.Batch.MaxItems, cfg.ExpireAfter(), logger,
	)
	statsSvc := stats.NewService(statsRepo, cfg.Stats)
	authSvc := auth.NewService(userRepo)

	// River workers: device reports plus the periodic activation/expiry sweep.
	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewReportWorker(lifecycleSvc, logger))
	river.AddWorker(workers, execution.NewSweepWorker(lifecycleSvc, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(cfg.SweepInterval()),
				func() (river.JobArgs, *river.InsertOpts) {
					return execution.SweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}

	enqueueReport := func(ctx context.Context, args execution.ReportProgressArgs) error {
		_, err := riverClient.Insert(ctx, args, nil)
		return err
	}

	// Handlers
	authHandler := handlers.NewAuthHandler(authSvc, logger)
	taskHandler := handlers.NewTaskHandler(lifecycleSvc, userRepo, typeRepo, enqueueReport, logger)
	ledgerHandler := handlers.NewLedgerHandler(ledgerSvc, ledgerRepo, userRepo, logger)
	statsHandler := handlers.NewStatsHandler(statsSvc, userRepo, logger)
	templateHandler := handlers.NewTemplateHandler(templates, userRepo, logger)

	mux := http.NewServeMux()
	registerRoutes(mux, authSvc, authHandler, taskHandler, ledgerHandler, statsHandler, templateHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start River client (processes reports and sweeps)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("River client stopped", "error", err)
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("Starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
