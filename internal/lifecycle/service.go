// Package lifecycle owns the task state machine and every operation that
// moves a task between states. All money movement funnels through the ledger
// service inside the same transaction as the task write, so a task row and
// its consume record can never disagree.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jdtask/backend/internal/models"
	"github.com/jdtask/backend/internal/observability"
	"github.com/jdtask/backend/internal/pricing"
	"github.com/jdtask/backend/internal/repository"
)

var (
	// ErrNotFound is returned for an unknown task or task type.
	ErrNotFound = errors.New("not found")
	// ErrForbidden is returned when the actor does not own the task and is
	// not an admin.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidTransition is returned for cancel/edit/report attempts the
	// state machine does not allow.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrValidation wraps malformed-input failures.
	ErrValidation = errors.New("validation failed")
	// ErrBatchTooLarge is returned when a batch exceeds the configured cap.
	ErrBatchTooLarge = errors.New("batch too large")
)

// TaskStore is the task persistence the service needs.
type TaskStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error)
	UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error
	List(ctx context.Context, f repository.TaskFilter) ([]*models.Task, int64, error)
	PromoteDue(ctx context.Context, now time.Time) (int64, error)
	ListOverdue(ctx context.Context, cutoff time.Time) ([]*models.Task, error)
}

// TypeStore resolves pricing configuration.
type TypeStore interface {
	GetByCode(ctx context.Context, code string) (*models.TaskType, error)
}

// Ledger is the money side of every lifecycle operation.
type Ledger interface {
	Apply(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int, kind string, taskID *uuid.UUID, remark string) (int, *models.LedgerRecord, error)
}

// Projection receives successful creations to keep the template read model
// warm. Failures are logged and dropped; the projection is rebuildable.
type Projection interface {
	RecordUse(ctx context.Context, t *models.Task) error
}

// TxBeginner opens the transactions the operations run in.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type Service struct {
	Tasks     TaskStore
	Types     TypeStore
	Ledger    Ledger
	Templates Projection
	DB        TxBeginner

	Mode        pricing.Mode
	MaxBatch    int
	ExpireAfter time.Duration

	Logger *slog.Logger

	now func() time.Time
}

func NewService(tasks TaskStore, types TypeStore, ledger Ledger, templates Projection, db TxBeginner, mode pricing.Mode, maxBatch int, expireAfter time.Duration, logger *slog.Logger) *Service {
	return &Service{
		Tasks:       tasks,
		Types:       types,
		Ledger:      ledger,
		Templates:   templates,
		DB:          db,
		Mode:        mode,
		MaxBatch:    maxBatch,
		ExpireAfter: expireAfter,
		Logger:      logger,
		now:         time.Now,
	}
}

// CreateInput is one task creation request.
type CreateInput struct {
	TaskType     string    `json:"task_type"`
	SKU          string    `json:"sku"`
	ShopName     string    `json:"shop_name"`
	Keyword      string    `json:"keyword"`
	StartTime    time.Time `json:"start_time"`
	ExecuteCount int       `json:"execute_count"`
	Priority     int       `json:"priority"`
	Remark       string    `json:"remark"`
}

func (in *CreateInput) validate() error {
	if in.TaskType == "" {
		return fmt.Errorf("%w: task_type is required", ErrValidation)
	}
	if in.SKU == "" {
		return fmt.Errorf("%w: sku is required", ErrValidation)
	}
	if in.ExecuteCount <= 0 {
		return fmt.Errorf("%w: execute_count must be positive", ErrValidation)
	}
	if in.TaskType == models.TaskTypeSearchBrowse {
		if in.Keyword == "" {
			return fmt.Errorf("%w: keyword is required for %s", ErrValidation, models.TaskTypeSearchBrowse)
		}
		if in.ShopName == "" {
			return fmt.Errorf("%w: shop_name is required for %s", ErrValidation, models.TaskTypeSearchBrowse)
		}
	}
	return nil
}

// Create quotes, debits and inserts one task atomically. Admin actors pay
// nothing and skip the time-window check. The returned record is nil for
// free tasks.
func (s *Service) Create(ctx context.Context, actor *models.User, in CreateInput) (*models.Task, *models.LedgerRecord, error) {
	if err := in.validate(); err != nil {
		return nil, nil, err
	}
	now := s.now()
	startTime := in.StartTime
	if startTime.IsZero() {
		startTime = now
	}

	cfg, err := s.Types.GetByCode(ctx, in.TaskType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, fmt.Errorf("%w: task type %q", ErrNotFound, in.TaskType)
		}
		return nil, nil, err
	}

	price := 0
	if actor.IsAdmin() {
		if !cfg.IsActive {
			return nil, nil, pricing.ErrTypeInactive
		}
	} else {
		price, err = pricing.Quote(cfg, in.ExecuteCount, startTime, s.Mode)
		if err != nil {
			return nil, nil, err
		}
	}

	keyword := ""
	if in.TaskType == models.TaskTypeSearchBrowse {
		keyword = in.Keyword
	}
	task := &models.Task{
		ID:             uuid.New(),
		UserID:         actor.ID,
		TaskType:       in.TaskType,
		SKU:            in.SKU,
		ShopName:       in.ShopName,
		Keyword:        keyword,
		StartTime:      startTime,
		ExecuteCount:   in.ExecuteCount,
		Priority:       in.Priority,
		Status:         models.TaskStatusPending,
		ConsumeJingdou: price,
		Remark:         in.Remark,
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback(ctx)

	if err := s.Tasks.CreateTx(ctx, tx, task); err != nil {
		return nil, nil, err
	}
	var rec *models.LedgerRecord
	if price > 0 {
		_, rec, err = s.Ledger.Apply(ctx, tx, actor.ID, -price, models.LedgerKindConsume, &task.ID, "create task "+in.TaskType+" sku:"+in.SKU)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, nil, err
	}

	observability.TasksCreated.Inc()
	if price > 0 {
		observability.JingdouDebited.Add(float64(price))
	}
	if s.Templates != nil {
		if err := s.Templates.RecordUse(ctx, task); err != nil {
			s.Logger.Warn("template projection update failed", "task_id", task.ID, "error", err)
		}
	}
	return task, rec, nil
}

// BatchFailure describes one rejected batch item.
type BatchFailure struct {
	Index int    `json:"index"`
	SKU   string `json:"sku"`
	Error string `json:"error"`
}

// BatchResult enumerates created and failed items. Partial success is the
// normal outcome, not an error.
type BatchResult struct {
	SuccessCount int            `json:"success_count"`
	FailCount    int            `json:"fail_count"`
	TotalConsume int            `json:"total_consume"`
	Created      []*models.Task `json:"created_tasks"`
	Failed       []BatchFailure `json:"failed_tasks"`
}

// CreateBatch processes items independently and in order. One item's failure
// never rolls back previously committed items.
func (s *Service) CreateBatch(ctx context.Context, actor *models.User, items []CreateInput) (*BatchResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty batch", ErrValidation)
	}
	if len(items) > s.MaxBatch {
		return nil, fmt.Errorf("%w: %d items, cap is %d", ErrBatchTooLarge, len(items), s.MaxBatch)
	}

	res := &BatchResult{Created: []*models.Task{}, Failed: []BatchFailure{}}
	for i, in := range items {
		task, _, err := s.Create(ctx, actor, in)
		if err != nil {
			res.FailCount++
			res.Failed = append(res.Failed, BatchFailure{Index: i, SKU: in.SKU, Error: err.Error()})
			continue
		}
		res.SuccessCount++
		res.TotalConsume += task.ConsumeJingdou
		res.Created = append(res.Created, task)
	}
	return res, nil
}

// refundFor is the proportional refund for the unexecuted remainder of a
// task. Free tasks refund nothing.
func refundFor(t *models.Task) int {
	if t.ConsumeJingdou == 0 || t.ExecuteCount <= 0 {
		return 0
	}
	remaining := t.ExecuteCount - t.ExecutedCount
	if remaining <= 0 {
		return 0
	}
	return t.ConsumeJingdou * remaining / t.ExecuteCount
}

// Cancel refunds the unexecuted remainder and moves the task to cancelled.
// Only tasks that have not started executing can be cancelled.
func (s *Service) Cancel(ctx context.Context, actor *models.User, taskID uuid.UUID) (*models.Task, int, int, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, 0, 0, err
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, 0, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, 0, 0, err
	}
	if task.UserID != actor.ID && !actor.IsAdmin() {
		return nil, 0, 0, ErrForbidden
	}
	now := s.now()
	if !task.Cancellable(now) {
		return nil, 0, 0, fmt.Errorf("%w: cannot cancel %s task", ErrInvalidTransition, task.EffectiveStatus(now))
	}

	refund := refundFor(task)
	newBalance := 0
	if refund > 0 {
		newBalance, _, err = s.Ledger.Apply(ctx, tx, task.UserID, refund, models.LedgerKindRefund, &task.ID, "cancel task sku:"+task.SKU)
		if err != nil {
			return nil, 0, 0, err
		}
	}
	task.Status = models.TaskStatusCancelled
	if err := s.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, 0, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, 0, err
	}

	observability.TasksCancelled.Inc()
	if refund > 0 {
		observability.JingdouCredited.Add(float64(refund))
	}
	return task, refund, newBalance, nil
}

// EditInput carries the optional field changes of an edit. Nil fields are
// left as they are.
type EditInput struct {
	SKU          *string    `json:"sku"`
	ShopName     *string    `json:"shop_name"`
	Keyword      *string    `json:"keyword"`
	StartTime    *time.Time `json:"start_time"`
	ExecuteCount *int       `json:"execute_count"`
	Priority     *int       `json:"priority"`
	Remark       *string    `json:"remark"`
}

// Edit re-quotes the task with its new fields and settles the price delta
// through the ledger before touching the task row. A debit that would go
// negative leaves the task unmodified. The returned int is the signed
// additional jingdou charged (negative when the edit got cheaper).
func (s *Service) Edit(ctx context.Context, actor *models.User, taskID uuid.UUID, in EditInput) (*models.Task, int, error) {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, 0, err
	}
	if task.UserID != actor.ID && !actor.IsAdmin() {
		return nil, 0, ErrForbidden
	}
	now := s.now()
	if !task.Editable(now) {
		return nil, 0, fmt.Errorf("%w: only pending tasks can be edited", ErrInvalidTransition)
	}

	edited := *task
	if in.SKU != nil {
		edited.SKU = *in.SKU
	}
	if in.ShopName != nil {
		edited.ShopName = *in.ShopName
	}
	if in.Keyword != nil {
		edited.Keyword = *in.Keyword
	}
	if in.StartTime != nil {
		edited.StartTime = *in.StartTime
	}
	if in.ExecuteCount != nil {
		edited.ExecuteCount = *in.ExecuteCount
	}
	if in.Priority != nil {
		edited.Priority = *in.Priority
	}
	if in.Remark != nil {
		edited.Remark = *in.Remark
	}
	if edited.SKU == "" {
		return nil, 0, fmt.Errorf("%w: sku is required", ErrValidation)
	}
	if edited.TaskType == models.TaskTypeSearchBrowse && (edited.Keyword == "" || edited.ShopName == "") {
		return nil, 0, fmt.Errorf("%w: keyword and shop_name are required for %s", ErrValidation, models.TaskTypeSearchBrowse)
	}

	cfg, err := s.Types.GetByCode(ctx, edited.TaskType)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, 0, fmt.Errorf("%w: task type %q", ErrNotFound, edited.TaskType)
		}
		return nil, 0, err
	}
	newPrice := 0
	if !actor.IsAdmin() || task.ConsumeJingdou > 0 {
		newPrice, err = pricing.Quote(cfg, edited.ExecuteCount, edited.StartTime, s.Mode)
		if err != nil {
			return nil, 0, err
		}
	}

	delta := newPrice - task.ConsumeJingdou
	if delta > 0 {
		if _, _, err := s.Ledger.Apply(ctx, tx, task.UserID, -delta, models.LedgerKindConsume, &task.ID, "edit task sku:"+edited.SKU); err != nil {
			return nil, 0, err
		}
	} else if delta < 0 {
		if _, _, err := s.Ledger.Apply(ctx, tx, task.UserID, -delta, models.LedgerKindRefund, &task.ID, "edit task sku:"+edited.SKU); err != nil {
			return nil, 0, err
		}
	}

	edited.ConsumeJingdou = newPrice
	if err := s.Tasks.UpdateTx(ctx, tx, &edited); err != nil {
		return nil, 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, 0, err
	}

	if delta > 0 {
		observability.JingdouDebited.Add(float64(delta))
	} else if delta < 0 {
		observability.JingdouCredited.Add(float64(-delta))
	}
	return &edited, delta, nil
}

// ApplyReport applies one device progress report. Reports are idempotent:
// progress that does not advance executed_count is a no-op, and a report
// against a terminal task is dropped. A report against a task that has not
// reached its start time is rejected; devices only ever hold due work, so an
// early report is spurious and must not start the task. Reports never move
// money; refunds for unfinished work belong to the expiry sweep.
func (s *Service) ApplyReport(ctx context.Context, taskID uuid.UUID, executedCount int, terminal string) (*models.Task, error) {
	if terminal != "" {
		switch terminal {
		case models.TaskStatusCompleted, models.TaskStatusPartialCompleted, models.TaskStatusFailed:
		default:
			return nil, fmt.Errorf("%w: %q is not a terminal status", ErrValidation, terminal)
		}
	}

	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, err
	}

	observability.ReportsApplied.Inc()

	if models.IsTerminalStatus(task.Status) {
		return task, nil
	}
	from := task.EffectiveStatus(s.now())
	if from == models.TaskStatusPending {
		return nil, fmt.Errorf("%w: task %s has not reached its start time", ErrInvalidTransition, task.ID)
	}

	changed := false
	if executedCount > task.ExecutedCount {
		if executedCount > task.ExecuteCount {
			executedCount = task.ExecuteCount
		}
		task.ExecutedCount = executedCount
		changed = true
	}
	if terminal != "" {
		if !models.CanTransition(from, terminal) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, terminal)
		}
		task.Status = terminal
		if terminal == models.TaskStatusCompleted {
			task.ExecutedCount = task.ExecuteCount
		}
		changed = true
	} else if task.ExecutedCount > 0 && task.Status != models.TaskStatusRunning {
		task.Status = models.TaskStatusRunning
		changed = true
	}

	if !changed {
		return task, nil
	}
	if err := s.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return task, nil
}

// Get returns one task with ownership enforced for non-admins.
func (s *Service) Get(ctx context.Context, actor *models.User, taskID uuid.UUID) (*models.Task, error) {
	task, err := s.Tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s", ErrNotFound, taskID)
		}
		return nil, err
	}
	if task.UserID != actor.ID && !actor.IsAdmin() {
		return nil, ErrForbidden
	}
	return task, nil
}

// List returns the actor's tasks (or anyone's, for admins) plus a total.
func (s *Service) List(ctx context.Context, actor *models.User, f repository.TaskFilter) ([]*models.Task, int64, error) {
	if !actor.IsAdmin() {
		f.UserID = &actor.ID
	}
	return s.Tasks.List(ctx, f)
}

// ActivateDue promotes stored pending tasks whose start time has arrived.
func (s *Service) ActivateDue(ctx context.Context) (int64, error) {
	return s.Tasks.PromoteDue(ctx, s.now())
}

// ExpireOverdue settles tasks still unfinished ExpireAfter past their start
// time: proportional refund of the unexecuted remainder, then
// partial_completed. Each task settles in its own transaction so one bad row
// cannot stall the sweep.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.ExpireAfter)
	overdue, err := s.Tasks.ListOverdue(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, stale := range overdue {
		if err := s.expireOne(ctx, stale.ID, cutoff); err != nil {
			s.Logger.Error("expire task failed", "task_id", stale.ID, "error", err)
			continue
		}
		settled++
	}
	return settled, nil
}

func (s *Service) expireOne(ctx context.Context, taskID uuid.UUID, cutoff time.Time) error {
	tx, err := s.DB.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	task, err := s.Tasks.GetByIDForUpdate(ctx, tx, taskID)
	if err != nil {
		return err
	}
	// Re-check under the lock: a report or cancel may have settled the task
	// between the sweep query and now.
	if models.IsTerminalStatus(task.Status) || !task.StartTime.Before(cutoff) {
		return nil
	}

	refund := refundFor(task)
	if refund > 0 {
		if _, _, err := s.Ledger.Apply(ctx, tx, task.UserID, refund, models.LedgerKindRefund, &task.ID, fmt.Sprintf("task expired, completed %d/%d", task.ExecutedCount, task.ExecuteCount)); err != nil {
			return err
		}
	}
	task.Status = models.TaskStatusPartialCompleted
	if err := s.Tasks.UpdateTx(ctx, tx, task); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}

	observability.TasksExpired.Inc()
	if refund > 0 {
		observability.JingdouCredited.Add(float64(refund))
	}
	return nil
}
