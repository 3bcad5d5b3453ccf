package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jdtask/backend/internal/ledger"
	"github.com/jdtask/backend/internal/models"
	"github.com/jdtask/backend/internal/pricing"
	"github.com/jdtask/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// In-memory mocks for TaskStore, TypeStore, Ledger and Projection.
// ---------------------------------------------------------------------------

type mockTasks struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*models.Task
}

func newMockTasks() *mockTasks {
	return &mockTasks{tasks: make(map[uuid.UUID]*models.Task)}
}

func (m *mockTasks) CreateTx(_ context.Context, _ pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.CreatedAt = time.Now()
	t.UpdatedAt = t.CreatedAt
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) get(id uuid.UUID) (*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

func (m *mockTasks) GetByID(_ context.Context, id uuid.UUID) (*models.Task, error) {
	return m.get(id)
}

func (m *mockTasks) GetByIDForUpdate(_ context.Context, _ pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return m.get(id)
}

func (m *mockTasks) UpdateTx(_ context.Context, _ pgx.Tx, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return pgx.ErrNoRows
	}
	t.UpdatedAt = time.Now()
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *mockTasks) List(_ context.Context, f repository.TaskFilter) ([]*models.Task, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if f.UserID != nil && t.UserID != *f.UserID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	return out, int64(len(out)), nil
}

func (m *mockTasks) PromoteDue(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, t := range m.tasks {
		if t.Status == models.TaskStatusPending && !now.Before(t.StartTime) {
			t.Status = models.TaskStatusWaiting
			n++
		}
	}
	return n, nil
}

func (m *mockTasks) ListOverdue(_ context.Context, cutoff time.Time) ([]*models.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Task
	for _, t := range m.tasks {
		if (t.Status == models.TaskStatusWaiting || t.Status == models.TaskStatusRunning) &&
			t.ExecutedCount < t.ExecuteCount && t.StartTime.Before(cutoff) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

type mockTypes struct {
	types map[string]*models.TaskType
}

func (m *mockTypes) GetByCode(_ context.Context, code string) (*models.TaskType, error) {
	t, ok := m.types[code]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	cp := *t
	return &cp, nil
}

// mockLedger mirrors the real ledger service: guarded balance movement plus
// an appended record per successful apply.
type mockLedger struct {
	mu       sync.Mutex
	balances map[uuid.UUID]int
	records  []*models.LedgerRecord
}

func newMockLedger() *mockLedger {
	return &mockLedger{balances: make(map[uuid.UUID]int)}
}

func (m *mockLedger) Apply(_ context.Context, _ pgx.Tx, userID uuid.UUID, delta int, kind string, taskID *uuid.UUID, remark string) (int, *models.LedgerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balances[userID]
	if b+delta < 0 {
		return 0, nil, ledger.ErrInsufficientBalance
	}
	m.balances[userID] = b + delta
	rec := &models.LedgerRecord{
		ID: uuid.New(), UserID: userID, TaskID: taskID,
		Kind: kind, Amount: delta, BalanceAfter: b + delta, Remark: remark,
	}
	m.records = append(m.records, rec)
	return b + delta, rec, nil
}

func (m *mockLedger) balance(id uuid.UUID) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[id]
}

func (m *mockLedger) byKind(kind string) []*models.LedgerRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.LedgerRecord
	for _, r := range m.records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

type mockProjection struct {
	mu   sync.Mutex
	uses []*models.Task
}

func (m *mockProjection) RecordUse(_ context.Context, t *models.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.uses = append(m.uses, &cp)
	return nil
}

// noopTx satisfies pgx.Tx; the mocks ignore it.
type noopTx struct{}

func (noopTx) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(context.Context) error          { return nil }
func (noopTx) Rollback(context.Context) error        { return nil }
func (noopTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                         { return pgx.LargeObjects{} }
func (noopTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (noopTx) Query(context.Context, string, ...any) (pgx.Rows, error) { return nil, nil }
func (noopTx) QueryRow(context.Context, string, ...any) pgx.Row        { return nil }
func (noopTx) Conn() *pgx.Conn                                         { return nil }

type mockDB struct{}

func (mockDB) Begin(context.Context) (pgx.Tx, error) { return noopTx{}, nil }

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	svc    *Service
	tasks  *mockTasks
	ledger *mockLedger
	tmpl   *mockProjection
	now    time.Time
	user   *models.User
	admin  *models.User
}

func newFixture(t *testing.T, balance int) *fixture {
	t.Helper()
	now := time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)
	tasks := newMockTasks()
	led := newMockLedger()
	tmpl := &mockProjection{}
	types := &mockTypes{types: map[string]*models.TaskType{
		"browse": {TypeCode: "browse", JingdouPrice: 10, ExecuteMultiplier: 2, IsActive: true},
		models.TaskTypeSearchBrowse: {
			TypeCode: models.TaskTypeSearchBrowse, JingdouPrice: 15, IsActive: true,
		},
		"retired": {TypeCode: "retired", JingdouPrice: 5, IsActive: false},
	}}

	svc := NewService(tasks, types, led, tmpl, mockDB{}, pricing.ModeCount, 100, 24*time.Hour,
		slog.New(slog.DiscardHandler))
	svc.now = func() time.Time { return now }

	user := &models.User{ID: uuid.New(), Username: "buyer", Role: models.RoleCommon}
	admin := &models.User{ID: uuid.New(), Username: "ops", Role: models.RoleAdmin}
	led.balances[user.ID] = balance
	led.balances[admin.ID] = 0

	return &fixture{svc: svc, tasks: tasks, ledger: led, tmpl: tmpl, now: now, user: user, admin: admin}
}

func (f *fixture) createInput() CreateInput {
	return CreateInput{
		TaskType:     "browse",
		SKU:          "100012043978",
		StartTime:    f.now.Add(time.Hour),
		ExecuteCount: 3,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

func TestCreate_DebitsAndCreates(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	task, rec, err := f.svc.Create(ctx, f.user, f.createInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ConsumeJingdou != 30 {
		t.Errorf("consume_jingdou: got %d, want 30", task.ConsumeJingdou)
	}
	if task.Status != models.TaskStatusPending {
		t.Errorf("status: got %s, want pending", task.Status)
	}
	if got := f.ledger.balance(f.user.ID); got != 70 {
		t.Errorf("balance: got %d, want 70", got)
	}
	if rec == nil || rec.Kind != models.LedgerKindConsume || rec.Amount != -30 || rec.BalanceAfter != 70 {
		t.Errorf("consume record: got %+v", rec)
	}
	if rec.TaskID == nil || *rec.TaskID != task.ID {
		t.Error("record should reference the task")
	}
	if len(f.tmpl.uses) != 1 {
		t.Errorf("projection uses: got %d, want 1", len(f.tmpl.uses))
	}
}

func TestCreate_InsufficientBalance(t *testing.T) {
	f := newFixture(t, 5)
	ctx := context.Background()

	in := f.createInput()
	in.ExecuteCount = 1 // price 10 > balance 5
	_, _, err := f.svc.Create(ctx, f.user, in)
	if err != ledger.ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}
	if got := f.ledger.balance(f.user.ID); got != 5 {
		t.Errorf("balance should be unchanged: got %d, want 5", got)
	}
	if len(f.ledger.records) != 0 {
		t.Errorf("no records should exist, got %d", len(f.ledger.records))
	}
}

func TestCreate_InactiveTypeAndWindow(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	in := f.createInput()
	in.TaskType = "retired"
	if _, _, err := f.svc.Create(ctx, f.user, in); err != pricing.ErrTypeInactive {
		t.Errorf("inactive type: expected ErrTypeInactive, got %v", err)
	}

	slotStart, slotEnd := "09:00", "12:00"
	f.svc.Types.(*mockTypes).types["windowed"] = &models.TaskType{
		TypeCode: "windowed", JingdouPrice: 10, IsActive: true,
		TimeSlot1Start: &slotStart, TimeSlot1End: &slotEnd,
	}
	in = f.createInput()
	in.TaskType = "windowed"
	in.StartTime = time.Date(2025, 6, 10, 15, 30, 0, 0, time.UTC)
	if _, _, err := f.svc.Create(ctx, f.user, in); err != pricing.ErrTimeWindow {
		t.Errorf("outside window: expected ErrTimeWindow, got %v", err)
	}
	in.StartTime = time.Date(2025, 6, 10, 10, 30, 0, 0, time.UTC)
	if _, _, err := f.svc.Create(ctx, f.user, in); err != nil {
		t.Errorf("inside window: %v", err)
	}
}

func TestCreate_SearchBrowseValidation(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	in := f.createInput()
	in.TaskType = models.TaskTypeSearchBrowse
	if _, _, err := f.svc.Create(ctx, f.user, in); err == nil {
		t.Error("missing keyword should be rejected")
	}
	in.Keyword = "wireless mouse"
	in.ShopName = "some shop"
	task, _, err := f.svc.Create(ctx, f.user, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.Keyword != "wireless mouse" {
		t.Errorf("keyword: got %q", task.Keyword)
	}

	// Non-search types ignore any keyword sent along.
	in2 := f.createInput()
	in2.Keyword = "ignored"
	task2, _, err := f.svc.Create(ctx, f.user, in2)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task2.Keyword != "" {
		t.Errorf("keyword should be dropped for %s, got %q", task2.TaskType, task2.Keyword)
	}
}

func TestCreate_AdminIsFree(t *testing.T) {
	f := newFixture(t, 0)
	ctx := context.Background()

	task, rec, err := f.svc.Create(ctx, f.admin, f.createInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ConsumeJingdou != 0 {
		t.Errorf("admin task consume_jingdou: got %d, want 0", task.ConsumeJingdou)
	}
	if rec != nil {
		t.Error("free task should not produce a ledger record")
	}
}

func TestCreate_ExecuteModeAppliesMultiplier(t *testing.T) {
	f := newFixture(t, 1000)
	f.svc.Mode = pricing.ModeExecute
	ctx := context.Background()

	task, _, err := f.svc.Create(ctx, f.user, f.createInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// 10 jingdou x 3 executions x multiplier 2.
	if task.ConsumeJingdou != 60 {
		t.Errorf("consume_jingdou: got %d, want 60", task.ConsumeJingdou)
	}
}

// ---------------------------------------------------------------------------
// CreateBatch
// ---------------------------------------------------------------------------

func TestCreateBatch_PartialSuccess(t *testing.T) {
	f := newFixture(t, 25)
	ctx := context.Background()

	one := f.createInput()
	one.ExecuteCount = 1 // 10 each
	items := []CreateInput{one, one, one}
	items[2].SKU = "100099999999"

	res, err := f.svc.CreateBatch(ctx, f.user, items)
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if res.SuccessCount != 2 || res.FailCount != 1 {
		t.Fatalf("counts: got %d/%d, want 2/1", res.SuccessCount, res.FailCount)
	}
	if res.TotalConsume != 20 {
		t.Errorf("total_consume: got %d, want 20", res.TotalConsume)
	}
	if len(res.Failed) != 1 || res.Failed[0].Index != 2 || res.Failed[0].SKU != "100099999999" {
		t.Errorf("failed item: got %+v", res.Failed)
	}
	if !strings.Contains(res.Failed[0].Error, "insufficient") {
		t.Errorf("failure reason: got %q", res.Failed[0].Error)
	}
	// Earlier successes stay committed.
	if got := f.ledger.balance(f.user.ID); got != 5 {
		t.Errorf("balance: got %d, want 5", got)
	}
	if len(res.Created) != 2 {
		t.Errorf("created_tasks: got %d, want 2", len(res.Created))
	}
}

func TestCreateBatch_Cap(t *testing.T) {
	f := newFixture(t, 1000)
	f.svc.MaxBatch = 2
	items := []CreateInput{f.createInput(), f.createInput(), f.createInput()}
	if _, err := f.svc.CreateBatch(context.Background(), f.user, items); err == nil {
		t.Error("oversized batch should be rejected")
	}
}

// ---------------------------------------------------------------------------
// Cancel
// ---------------------------------------------------------------------------

func TestCancel_FullRefund(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	task, _, err := f.svc.Create(ctx, f.user, f.createInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cancelled, refund, newBalance, err := f.svc.Cancel(ctx, f.user, task.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if refund != 30 || newBalance != 100 {
		t.Errorf("refund/balance: got %d/%d, want 30/100", refund, newBalance)
	}
	if cancelled.Status != models.TaskStatusCancelled {
		t.Errorf("status: got %s, want cancelled", cancelled.Status)
	}
	refunds := f.ledger.byKind(models.LedgerKindRefund)
	if len(refunds) != 1 || refunds[0].Amount != 30 {
		t.Errorf("refund record: got %+v", refunds)
	}
}

func TestCancel_RejectedStates(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	in := f.createInput()
	in.StartTime = f.now.Add(-time.Minute)
	task, _, err := f.svc.Create(ctx, f.user, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	// First progress report moves the task to running.
	if _, err := f.svc.ApplyReport(ctx, task.ID, 1, ""); err != nil {
		t.Fatalf("ApplyReport: %v", err)
	}
	if _, _, _, err := f.svc.Cancel(ctx, f.user, task.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("cancel running: expected ErrInvalidTransition, got %v", err)
	}

	other := &models.User{ID: uuid.New(), Role: models.RoleCommon}
	task2, _, _ := f.svc.Create(ctx, f.user, f.createInput())
	if _, _, _, err := f.svc.Cancel(ctx, other, task2.ID); err != ErrForbidden {
		t.Errorf("foreign cancel: expected ErrForbidden, got %v", err)
	}
	if _, _, _, err := f.svc.Cancel(ctx, f.admin, task2.ID); err != nil {
		t.Errorf("admin cancel: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Edit
// ---------------------------------------------------------------------------

func TestEdit_DeltaDebitAndCredit(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	task, _, err := f.svc.Create(ctx, f.user, f.createInput()) // 30, balance 70
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	five := 5
	edited, additional, err := f.svc.Edit(ctx, f.user, task.ID, EditInput{ExecuteCount: &five})
	if err != nil {
		t.Fatalf("Edit up: %v", err)
	}
	if additional != 20 || edited.ConsumeJingdou != 50 {
		t.Errorf("edit up: additional=%d consume=%d, want 20/50", additional, edited.ConsumeJingdou)
	}
	if got := f.ledger.balance(f.user.ID); got != 50 {
		t.Errorf("balance after edit up: got %d, want 50", got)
	}

	two := 2
	edited, additional, err = f.svc.Edit(ctx, f.user, task.ID, EditInput{ExecuteCount: &two})
	if err != nil {
		t.Fatalf("Edit down: %v", err)
	}
	if additional != -30 || edited.ConsumeJingdou != 20 {
		t.Errorf("edit down: additional=%d consume=%d, want -30/20", additional, edited.ConsumeJingdou)
	}
	if got := f.ledger.balance(f.user.ID); got != 80 {
		t.Errorf("balance after edit down: got %d, want 80", got)
	}
}

func TestEdit_InsufficientLeavesTaskUnchanged(t *testing.T) {
	f := newFixture(t, 35)
	ctx := context.Background()

	task, _, err := f.svc.Create(ctx, f.user, f.createInput()) // 30, balance 5
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ten := 10 // would cost 100, delta 70 > balance 5
	if _, _, err := f.svc.Edit(ctx, f.user, task.ID, EditInput{ExecuteCount: &ten}); err != ledger.ErrInsufficientBalance {
		t.Fatalf("expected ErrInsufficientBalance, got: %v", err)
	}
	stored, _ := f.tasks.GetByID(ctx, task.ID)
	if stored.ExecuteCount != 3 || stored.ConsumeJingdou != 30 {
		t.Errorf("task should be unmodified: count=%d consume=%d", stored.ExecuteCount, stored.ConsumeJingdou)
	}
}

func TestEdit_OnlyPending(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	in := f.createInput()
	in.StartTime = f.now.Add(-time.Minute) // effectively waiting already
	task, _, err := f.svc.Create(ctx, f.user, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	five := 5
	if _, _, err := f.svc.Edit(ctx, f.user, task.ID, EditInput{ExecuteCount: &five}); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("edit after start: expected ErrInvalidTransition, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// ApplyReport
// ---------------------------------------------------------------------------

func TestApplyReport_ProgressAndIdempotency(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	in := f.createInput()
	in.StartTime = f.now.Add(-time.Minute)
	task, _, err := f.svc.Create(ctx, f.user, in)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := f.svc.ApplyReport(ctx, task.ID, 2, "")
	if err != nil {
		t.Fatalf("ApplyReport: %v", err)
	}
	if got.ExecutedCount != 2 || got.Status != models.TaskStatusRunning {
		t.Errorf("after progress: executed=%d status=%s", got.ExecutedCount, got.Status)
	}

	// Duplicate report of the same progress is a no-op.
	got, err = f.svc.ApplyReport(ctx, task.ID, 2, "")
	if err != nil {
		t.Fatalf("duplicate report: %v", err)
	}
	if got.ExecutedCount != 2 || got.Status != models.TaskStatusRunning {
		t.Errorf("after duplicate: executed=%d status=%s", got.ExecutedCount, got.Status)
	}

	// Regressing progress is also a no-op.
	got, _ = f.svc.ApplyReport(ctx, task.ID, 1, "")
	if got.ExecutedCount != 2 {
		t.Errorf("regressed report applied: executed=%d", got.ExecutedCount)
	}

	got, err = f.svc.ApplyReport(ctx, task.ID, 3, models.TaskStatusCompleted)
	if err != nil {
		t.Fatalf("terminal report: %v", err)
	}
	if got.Status != models.TaskStatusCompleted || got.ExecutedCount != 3 {
		t.Errorf("after terminal: executed=%d status=%s", got.ExecutedCount, got.Status)
	}

	// Reports after a terminal state are dropped.
	got, err = f.svc.ApplyReport(ctx, task.ID, 3, models.TaskStatusFailed)
	if err != nil {
		t.Fatalf("post-terminal report: %v", err)
	}
	if got.Status != models.TaskStatusCompleted {
		t.Errorf("terminal status changed to %s", got.Status)
	}

	// Reports never move money.
	if got := f.ledger.balance(f.user.ID); got != 70 {
		t.Errorf("balance: got %d, want 70", got)
	}
}

func TestApplyReport_ClampsToExecuteCount(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	in := f.createInput()
	in.StartTime = f.now.Add(-time.Minute)
	task, _, _ := f.svc.Create(ctx, f.user, in)
	got, err := f.svc.ApplyReport(ctx, task.ID, 99, "")
	if err != nil {
		t.Fatalf("ApplyReport: %v", err)
	}
	if got.ExecutedCount != 3 {
		t.Errorf("executed_count should clamp to 3, got %d", got.ExecutedCount)
	}
}

func TestApplyReport_RejectsBeforeStartTime(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	task, _, err := f.svc.Create(ctx, f.user, f.createInput()) // starts now+1h
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, terminal := range []string{"", models.TaskStatusCompleted} {
		if _, err := f.svc.ApplyReport(ctx, task.ID, 1, terminal); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("report (terminal=%q) on not-yet-due task: expected ErrInvalidTransition, got %v", terminal, err)
		}
	}

	// The task is untouched and the user keeps the full cancel refund.
	stored, _ := f.tasks.GetByID(ctx, task.ID)
	if stored.Status != models.TaskStatusPending || stored.ExecutedCount != 0 {
		t.Fatalf("task mutated by early report: status=%s executed=%d", stored.Status, stored.ExecutedCount)
	}
	_, refund, _, err := f.svc.Cancel(ctx, f.user, task.ID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if refund != 30 {
		t.Errorf("refund: got %d, want 30", refund)
	}
}

// ---------------------------------------------------------------------------
// Sweep
// ---------------------------------------------------------------------------

func TestActivateDue(t *testing.T) {
	f := newFixture(t, 1000)
	ctx := context.Background()

	due := f.createInput()
	due.StartTime = f.now.Add(-time.Minute)
	future := f.createInput()

	f.svc.Create(ctx, f.user, due)
	f.svc.Create(ctx, f.user, future)

	n, err := f.svc.ActivateDue(ctx)
	if err != nil {
		t.Fatalf("ActivateDue: %v", err)
	}
	if n != 1 {
		t.Errorf("promoted: got %d, want 1", n)
	}
}

func TestExpireOverdue_ProportionalRefund(t *testing.T) {
	f := newFixture(t, 100)
	ctx := context.Background()

	in := f.createInput()
	in.StartTime = f.now.Add(-25 * time.Hour)
	task, _, err := f.svc.Create(ctx, f.user, in) // consume 30, balance 70
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.svc.ActivateDue(ctx)
	// 1 of 3 executions done before the device went quiet.
	if _, err := f.svc.ApplyReport(ctx, task.ID, 1, ""); err != nil {
		t.Fatalf("ApplyReport: %v", err)
	}

	settled, err := f.svc.ExpireOverdue(ctx)
	if err != nil {
		t.Fatalf("ExpireOverdue: %v", err)
	}
	if settled != 1 {
		t.Fatalf("settled: got %d, want 1", settled)
	}
	stored, _ := f.tasks.GetByID(ctx, task.ID)
	if stored.Status != models.TaskStatusPartialCompleted {
		t.Errorf("status: got %s, want partial_completed", stored.Status)
	}
	// 30 * 2/3 = 20 back.
	if got := f.ledger.balance(f.user.ID); got != 90 {
		t.Errorf("balance: got %d, want 90", got)
	}

	// A second sweep finds nothing.
	settled, _ = f.svc.ExpireOverdue(ctx)
	if settled != 0 {
		t.Errorf("second sweep settled %d tasks", settled)
	}
}
