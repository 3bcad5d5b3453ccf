package ledger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jdtask/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

// ApplyDelta moves the cached balance by delta inside the caller's
// transaction. The WHERE guard rejects any delta that would drive the balance
// negative, and the row lock the UPDATE takes serializes concurrent movement
// for the same user. Zero rows means either a guarded debit or a user that
// does not exist; the cases are told apart so an admin recharge for an
// unknown user surfaces as not-found rather than insufficient balance.
func (r *Repository) ApplyDelta(ctx context.Context, tx pgx.Tx, userID uuid.UUID, delta int) (int, error) {
	var newBalance int
	err := tx.QueryRow(ctx, `
		UPDATE users
		SET jingdou_balance = jingdou_balance + $1
		WHERE id = $2 AND jingdou_balance + $1 >= 0
		RETURNING jingdou_balance
	`, delta, userID).Scan(&newBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, userID).Scan(&exists); err != nil {
			return 0, err
		}
		if !exists {
			return 0, pgx.ErrNoRows
		}
		return 0, ErrInsufficientBalance
	}
	if err != nil {
		return 0, err
	}
	return newBalance, nil
}

// Append inserts a ledger record inside the caller's transaction. Records are
// append-only; there is no update or delete path anywhere in the engine.
func (r *Repository) Append(ctx context.Context, tx pgx.Tx, rec *models.LedgerRecord) error {
	return tx.QueryRow(ctx, `
		INSERT INTO ledger_records (id, user_id, task_id, kind, amount, balance_after, remark)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, rec.ID, rec.UserID, rec.TaskID, rec.Kind, rec.Amount, rec.BalanceAfter, rec.Remark).Scan(&rec.CreatedAt)
}

// RecordFilter narrows List. Nil/zero fields mean "no constraint".
type RecordFilter struct {
	UserID  *uuid.UUID
	Kind    string
	From    *time.Time
	To      *time.Time
	Page    int
	PerPage int
}

// List returns a page of records newest-first plus the total match count.
func (r *Repository) List(ctx context.Context, f RecordFilter) ([]*models.LedgerRecord, int64, error) {
	where := " WHERE 1=1"
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}
	if f.UserID != nil {
		where += " AND user_id = " + arg(*f.UserID)
	}
	if f.Kind != "" {
		where += " AND kind = " + arg(f.Kind)
	}
	if f.From != nil {
		where += " AND created_at >= " + arg(*f.From)
	}
	if f.To != nil {
		where += " AND created_at < " + arg(*f.To)
	}

	var total int64
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM ledger_records"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page, perPage := f.Page, f.PerPage
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}
	query := `
		SELECT id, user_id, task_id, kind, amount, balance_after, remark, created_at
		FROM ledger_records` + where + `
		ORDER BY created_at DESC
		LIMIT ` + arg(perPage) + ` OFFSET ` + arg((page-1)*perPage)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var list []*models.LedgerRecord
	for rows.Next() {
		var rec models.LedgerRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.TaskID, &rec.Kind, &rec.Amount, &rec.BalanceAfter, &rec.Remark, &rec.CreatedAt); err != nil {
			return nil, 0, err
		}
		list = append(list, &rec)
	}
	return list, total, rows.Err()
}

// UserCheck holds the quantities the conservation invariant ties together
// for one user.
type UserCheck struct {
	CachedBalance    int
	RecordSum        int
	LastBalanceAfter int
	RecordCount      int64
}

// Check reads the cached balance and the record aggregates for one user in a
// single repeatable-read transaction so the snapshot is consistent.
func (r *Repository) Check(ctx context.Context, userID uuid.UUID) (*UserCheck, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var c UserCheck
	if err := tx.QueryRow(ctx, `SELECT jingdou_balance FROM users WHERE id = $1`, userID).Scan(&c.CachedBalance); err != nil {
		return nil, err
	}
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0), COUNT(*)
		FROM ledger_records WHERE user_id = $1
	`, userID).Scan(&c.RecordSum, &c.RecordCount)
	if err != nil {
		return nil, err
	}
	if c.RecordCount > 0 {
		err = tx.QueryRow(ctx, `
			SELECT balance_after FROM ledger_records
			WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1
		`, userID).Scan(&c.LastBalanceAfter)
		if err != nil {
			return nil, err
		}
	}
	return &c, tx.Commit(ctx)
}
