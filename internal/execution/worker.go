// Package execution carries the asynchronous edges of the engine: device
// progress reports arriving out-of-band, and the periodic sweep that
// activates due tasks and settles overdue ones. Both run as River jobs on
// the same Postgres the engine writes to, so report ingestion can enqueue
// transactionally.
package execution

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/jdtask/backend/internal/lifecycle"
	"github.com/jdtask/backend/internal/models"
)

// ReportProgressArgs is one device execution report. Terminal is empty for
// plain progress, or one of completed/partial_completed/failed.
type ReportProgressArgs struct {
	TaskID        uuid.UUID `json:"task_id"`
	ExecutedCount int       `json:"executed_count"`
	Terminal      string    `json:"terminal"`
}

func (ReportProgressArgs) Kind() string { return "task_report" }

// Reporter is the lifecycle contract the report worker needs.
type Reporter interface {
	ApplyReport(ctx context.Context, taskID uuid.UUID, executedCount int, terminal string) (*models.Task, error)
}

type ReportWorker struct {
	river.WorkerDefaults[ReportProgressArgs]
	lifecycle Reporter
	logger    *slog.Logger
}

func NewReportWorker(lc Reporter, logger *slog.Logger) *ReportWorker {
	return &ReportWorker{lifecycle: lc, logger: logger}
}

func (w *ReportWorker) Work(ctx context.Context, job *river.Job[ReportProgressArgs]) error {
	args := job.Args
	task, err := w.lifecycle.ApplyReport(ctx, args.TaskID, args.ExecutedCount, args.Terminal)
	if err != nil {
		// A report for a deleted task or an illegal transition will never
		// succeed on retry; drop it instead of burning attempts.
		if errors.Is(err, lifecycle.ErrNotFound) || errors.Is(err, lifecycle.ErrInvalidTransition) || errors.Is(err, lifecycle.ErrValidation) {
			w.logger.Warn("dropping unprocessable report", "task_id", args.TaskID, "error", err)
			return river.JobCancel(err)
		}
		return err
	}
	w.logger.Debug("report applied", "task_id", task.ID, "executed_count", task.ExecutedCount, "status", task.Status)
	return nil
}

// SweepArgs triggers one activation/expiry pass. Scheduled periodically; the
// unique opt keeps overlapping runs from piling up.
type SweepArgs struct{}

func (SweepArgs) Kind() string { return "task_sweep" }

func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{UniqueOpts: river.UniqueOpts{ByArgs: true}}
}

// Sweeper is the lifecycle contract the sweep worker needs.
type Sweeper interface {
	ActivateDue(ctx context.Context) (int64, error)
	ExpireOverdue(ctx context.Context) (int, error)
}

type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	lifecycle Sweeper
	logger    *slog.Logger
}

func NewSweepWorker(lc Sweeper, logger *slog.Logger) *SweepWorker {
	return &SweepWorker{lifecycle: lc, logger: logger}
}

func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	promoted, err := w.lifecycle.ActivateDue(ctx)
	if err != nil {
		return err
	}
	expired, err := w.lifecycle.ExpireOverdue(ctx)
	if err != nil {
		return err
	}
	if promoted > 0 || expired > 0 {
		w.logger.Info("sweep pass", "promoted", promoted, "expired", expired)
	}
	return nil
}
