// Package template maintains the task-template read model: one row per
// distinct (user, type, sku, shop, keyword) combination a user has created
// tasks with. The projection is derived data. It may lag behind the task
// table and is rebuildable from task history, so writers treat failures as
// log-and-continue.
package template

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jdtask/backend/internal/models"
)

const templateColumns = "id, user_id, task_type, sku, shop_name, keyword, remark, total_created_count, last_used_at, created_at, updated_at"

type Projection struct {
	pool *pgxpool.Pool
}

func NewProjection(pool *pgxpool.Pool) *Projection {
	return &Projection{pool: pool}
}

// RecordUse upserts the template row for a freshly created task, adding its
// execute count to the usage tally.
func (p *Projection) RecordUse(ctx context.Context, t *models.Task) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO task_templates (id, user_id, task_type, sku, shop_name, keyword, remark, total_created_count, last_used_at)
		VALUES ($1, $2, $3, $4, $5, $6, '', $7, now())
		ON CONFLICT (user_id, task_type, sku, shop_name, keyword) DO UPDATE
		SET total_created_count = task_templates.total_created_count + EXCLUDED.total_created_count,
		    last_used_at = now(),
		    updated_at = now()
	`, uuid.New(), t.UserID, t.TaskType, t.SKU, t.ShopName, t.Keyword, t.ExecuteCount)
	return err
}

// List returns a user's templates, most used first.
func (p *Projection) List(ctx context.Context, userID uuid.UUID) ([]*models.TaskTemplate, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+templateColumns+` FROM task_templates
		WHERE user_id = $1
		ORDER BY total_created_count DESC, last_used_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTemplates(rows)
}

// GetByID returns one template row.
func (p *Projection) GetByID(ctx context.Context, id uuid.UUID) (*models.TaskTemplate, error) {
	var t models.TaskTemplate
	err := p.pool.QueryRow(ctx, `
		SELECT `+templateColumns+` FROM task_templates WHERE id = $1
	`, id).Scan(&t.ID, &t.UserID, &t.TaskType, &t.SKU, &t.ShopName, &t.Keyword, &t.Remark, &t.TotalCreatedCount, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// UpdateRemark sets the free-text remark on a template. The remark is the
// only template field users edit directly; everything else is derived.
func (p *Projection) UpdateRemark(ctx context.Context, id, userID uuid.UUID, remark string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE task_templates SET remark = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2
	`, id, userID, remark)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// Rebuild recomputes one user's projection from their task history. This is
// the recovery path when the incremental upserts have drifted.
func (p *Projection) Rebuild(ctx context.Context, userID uuid.UUID) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM task_templates WHERE user_id = $1`, userID); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO task_templates (id, user_id, task_type, sku, shop_name, keyword, remark, total_created_count, last_used_at)
		SELECT gen_random_uuid(), user_id, task_type, sku, shop_name, keyword, '', SUM(execute_count), MAX(created_at)
		FROM tasks
		WHERE user_id = $1
		GROUP BY user_id, task_type, sku, shop_name, keyword
	`, userID)
	if err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func scanTemplates(rows pgx.Rows) ([]*models.TaskTemplate, error) {
	var list []*models.TaskTemplate
	for rows.Next() {
		var t models.TaskTemplate
		if err := rows.Scan(&t.ID, &t.UserID, &t.TaskType, &t.SKU, &t.ShopName, &t.Keyword, &t.Remark, &t.TotalCreatedCount, &t.LastUsedAt, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
