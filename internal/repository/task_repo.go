package repository

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jdtask/backend/internal/models"
)

const taskColumns = "id, user_id, task_type, sku, shop_name, keyword, start_time, execute_count, executed_count, priority, status, consume_jingdou, remark, created_at, updated_at"

type TaskRepo struct {
	pool *pgxpool.Pool
}

func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	err := row.Scan(&t.ID, &t.UserID, &t.TaskType, &t.SKU, &t.ShopName, &t.Keyword, &t.StartTime, &t.ExecuteCount, &t.ExecutedCount, &t.Priority, &t.Status, &t.ConsumeJingdou, &t.Remark, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateTx inserts the task inside the caller's transaction so the row only
// lands together with its consume ledger record.
func (r *TaskRepo) CreateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		INSERT INTO tasks (id, user_id, task_type, sku, shop_name, keyword, start_time, execute_count, executed_count, priority, status, consume_jingdou, remark)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.TaskType, t.SKU, t.ShopName, t.Keyword, t.StartTime, t.ExecuteCount, t.ExecutedCount, t.Priority, t.Status, t.ConsumeJingdou, t.Remark).Scan(&t.CreatedAt, &t.UpdatedAt)
}

func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	return scanTask(r.pool.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1
	`, id))
}

// GetByIDForUpdate locks the task row for update. Call within a transaction.
func (r *TaskRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Task, error) {
	return scanTask(tx.QueryRow(ctx, `
		SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE
	`, id))
}

func (r *TaskRepo) UpdateTx(ctx context.Context, tx pgx.Tx, t *models.Task) error {
	return tx.QueryRow(ctx, `
		UPDATE tasks SET task_type = $2, sku = $3, shop_name = $4, keyword = $5, start_time = $6, execute_count = $7, executed_count = $8, priority = $9, status = $10, consume_jingdou = $11, remark = $12, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, t.ID, t.TaskType, t.SKU, t.ShopName, t.Keyword, t.StartTime, t.ExecuteCount, t.ExecutedCount, t.Priority, t.Status, t.ConsumeJingdou, t.Remark).Scan(&t.UpdatedAt)
}

// TaskFilter narrows List. Nil/zero fields mean "no constraint".
type TaskFilter struct {
	UserID   *uuid.UUID
	Status   string
	TaskType string
	SKU      string
	Page     int
	PerPage  int
}

// List returns a page of tasks plus the total match count, newest first.
func (r *TaskRepo) List(ctx context.Context, f TaskFilter) ([]*models.Task, int64, error) {
	where := " WHERE 1=1"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.UserID != nil {
		where += " AND user_id = " + arg(*f.UserID)
	}
	if f.Status != "" {
		where += " AND status = " + arg(f.Status)
	}
	if f.TaskType != "" {
		where += " AND task_type = " + arg(f.TaskType)
	}
	if f.SKU != "" {
		where += " AND sku = " + arg(f.SKU)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM tasks"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	query := "SELECT " + taskColumns + " FROM tasks" + where +
		" ORDER BY created_at DESC LIMIT " + arg(perPage) + " OFFSET " + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, err
		}
		list = append(list, t)
	}
	return list, total, rows.Err()
}

// PromoteDue flips every stored pending task whose start time has arrived to
// waiting and returns how many rows moved.
func (r *TaskRepo) PromoteDue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE tasks SET status = $1, updated_at = now()
		WHERE status = $2 AND start_time <= $3
	`, models.TaskStatusWaiting, models.TaskStatusPending, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListOverdue returns unfinished waiting/running tasks whose start time is
// older than cutoff. The expiry sweep settles each one in its own
// transaction. Stored-pending tasks are excluded: PromoteDue moves them to
// waiting long before any expiry cutoff.
func (r *TaskRepo) ListOverdue(ctx context.Context, cutoff time.Time) ([]*models.Task, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE status IN ($1, $2) AND executed_count < execute_count AND start_time < $3
		ORDER BY start_time
	`, models.TaskStatusWaiting, models.TaskStatusRunning, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}
