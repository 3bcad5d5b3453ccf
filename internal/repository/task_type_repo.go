package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jdtask/backend/internal/models"
)

const taskTypeColumns = "id, type_code, type_name, jingdou_price, execute_multiplier, is_active, time_slot1_start, time_slot1_end, time_slot2_start, time_slot2_end, is_system_preset, created_at, updated_at"

type TaskTypeRepo struct {
	pool *pgxpool.Pool
}

func NewTaskTypeRepo(pool *pgxpool.Pool) *TaskTypeRepo {
	return &TaskTypeRepo{pool: pool}
}

func (r *TaskTypeRepo) GetByCode(ctx context.Context, code string) (*models.TaskType, error) {
	var t models.TaskType
	err := r.pool.QueryRow(ctx, `
		SELECT `+taskTypeColumns+` FROM task_types WHERE type_code = $1
	`, code).Scan(&t.ID, &t.TypeCode, &t.TypeName, &t.JingdouPrice, &t.ExecuteMultiplier, &t.IsActive, &t.TimeSlot1Start, &t.TimeSlot1End, &t.TimeSlot2Start, &t.TimeSlot2End, &t.IsSystemPreset, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TaskTypeRepo) List(ctx context.Context) ([]*models.TaskType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+taskTypeColumns+` FROM task_types ORDER BY type_code
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.TaskType
	for rows.Next() {
		var t models.TaskType
		if err := rows.Scan(&t.ID, &t.TypeCode, &t.TypeName, &t.JingdouPrice, &t.ExecuteMultiplier, &t.IsActive, &t.TimeSlot1Start, &t.TimeSlot1End, &t.TimeSlot2Start, &t.TimeSlot2End, &t.IsSystemPreset, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
