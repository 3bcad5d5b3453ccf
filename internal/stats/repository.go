package stats

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Tally is one status bucket's raw numbers for a day window.
type Tally struct {
	Count       int64
	ExecuteSum  int64
	ExecutedSum int64
}

// Load is a row count plus a unit sum whose meaning depends on the query:
// unexecuted units for future load, executed units for completed work.
type Load struct {
	Count int64
	Units int64
}

// LowBalanceUser is one row of the finance report's low-balance list.
type LowBalanceUser struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Nickname       string `json:"nickname"`
	JingdouBalance int    `json:"jingdou_balance"`
}

// Repository runs the aggregate queries. Every query is a single consistent
// read; nothing here takes locks or blocks writers.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TodayTallies groups tasks starting in [start, end) by status. An empty
// taskType means all types.
func (r *Repository) TodayTallies(ctx context.Context, start, end time.Time, taskType string) (map[string]Tally, error) {
	query := `
		SELECT status, COUNT(*), COALESCE(SUM(execute_count), 0), COALESCE(SUM(executed_count), 0)
		FROM tasks
		WHERE start_time >= $1 AND start_time < $2
	`
	args := []any{start, end}
	if taskType != "" {
		query += " AND task_type = $3"
		args = append(args, taskType)
	}
	query += " GROUP BY status"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tallies := make(map[string]Tally)
	for rows.Next() {
		var status string
		var t Tally
		if err := rows.Scan(&status, &t.Count, &t.ExecuteSum, &t.ExecutedSum); err != nil {
			return nil, err
		}
		tallies[status] = t
	}
	return tallies, rows.Err()
}

// FutureLoad tallies unfinished tasks starting in [start, end); a nil end
// means no upper bound. Units is the unexecuted remainder: full execute_count
// for pending/waiting tasks, execute_count - executed_count for running ones.
func (r *Repository) FutureLoad(ctx context.Context, start time.Time, end *time.Time, taskType string) (Load, error) {
	query := `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'running' THEN execute_count - executed_count ELSE execute_count END), 0)
		FROM tasks
		WHERE status IN ('pending', 'waiting', 'running') AND start_time >= $1
	`
	args := []any{start}
	if end != nil {
		args = append(args, *end)
		query += " AND start_time < $2"
	}
	if taskType != "" {
		args = append(args, taskType)
		if end != nil {
			query += " AND task_type = $3"
		} else {
			query += " AND task_type = $2"
		}
	}

	var l Load
	err := r.pool.QueryRow(ctx, query, args...).Scan(&l.Count, &l.Units)
	return l, err
}

// CompletedBetween tallies completed tasks starting in [start, end). Units
// is the executed count.
func (r *Repository) CompletedBetween(ctx context.Context, start, end time.Time, taskType string) (Load, error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(executed_count), 0)
		FROM tasks
		WHERE status = 'completed' AND start_time >= $1 AND start_time < $2
	`
	args := []any{start, end}
	if taskType != "" {
		query += " AND task_type = $3"
		args = append(args, taskType)
	}

	var l Load
	err := r.pool.QueryRow(ctx, query, args...).Scan(&l.Count, &l.Units)
	return l, err
}

// KindSumSince sums the absolute amounts of one ledger kind since a point in
// time.
func (r *Repository) KindSumSince(ctx context.Context, since time.Time, kind string) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(ABS(amount)), 0)
		FROM ledger_records
		WHERE created_at >= $1 AND kind = $2
	`, since, kind).Scan(&sum)
	return sum, err
}

// LowBalanceUsers returns the non-admin users under threshold, poorest
// first.
func (r *Repository) LowBalanceUsers(ctx context.Context, threshold, limit int) ([]LowBalanceUser, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, username, nickname, jingdou_balance
		FROM users
		WHERE role != 'admin' AND jingdou_balance < $1
		ORDER BY jingdou_balance ASC
		LIMIT $2
	`, threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := []LowBalanceUser{}
	for rows.Next() {
		var u LowBalanceUser
		if err := rows.Scan(&u.ID, &u.Username, &u.Nickname, &u.JingdouBalance); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
