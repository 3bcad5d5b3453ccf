package models

import (
	"time"

	"github.com/google/uuid"
)

// Task statuses. pending → waiting is time-driven (start_time reached);
// waiting → running is driven by the first device progress report.
const (
	TaskStatusPending          = "pending"
	TaskStatusWaiting          = "waiting"
	TaskStatusRunning          = "running"
	TaskStatusCompleted        = "completed"
	TaskStatusPartialCompleted = "partial_completed"
	TaskStatusFailed           = "failed"
	TaskStatusCancelled        = "cancelled"
)

// TaskTypeSearchBrowse is the only type that searches by keyword; it requires
// keyword and shop_name, every other type ignores them.
const TaskTypeSearchBrowse = "search_browse"

// taskTransitions is the full state machine. Anything not listed is rejected.
var taskTransitions = map[string][]string{
	TaskStatusPending: {TaskStatusWaiting, TaskStatusCancelled},
	TaskStatusWaiting: {TaskStatusRunning, TaskStatusCancelled, TaskStatusCompleted, TaskStatusPartialCompleted, TaskStatusFailed},
	TaskStatusRunning: {TaskStatusCompleted, TaskStatusPartialCompleted, TaskStatusFailed},
}

// CanTransition reports whether from → to is a legal task status change.
func CanTransition(from, to string) bool {
	for _, next := range taskTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminalStatus reports whether no further status change is possible.
func IsTerminalStatus(status string) bool {
	switch status {
	case TaskStatusCompleted, TaskStatusPartialCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

type Task struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	TaskType       string    `json:"task_type"`
	SKU            string    `json:"sku"`
	ShopName       string    `json:"shop_name"`
	Keyword        string    `json:"keyword"`
	StartTime      time.Time `json:"start_time"`
	ExecuteCount   int       `json:"execute_count"`
	ExecutedCount  int       `json:"executed_count"`
	Priority       int       `json:"priority"`
	Status         string    `json:"status"`
	ConsumeJingdou int       `json:"consume_jingdou"`
	Remark         string    `json:"remark"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// EffectiveStatus presents a stored pending task whose start_time has passed
// as waiting, so observers only ever see forward progress even between sweep
// runs.
func (t *Task) EffectiveStatus(now time.Time) string {
	if t.Status == TaskStatusPending && !now.Before(t.StartTime) {
		return TaskStatusWaiting
	}
	return t.Status
}

// Cancellable tasks have not started executing.
func (t *Task) Cancellable(now time.Time) bool {
	s := t.EffectiveStatus(now)
	return s == TaskStatusPending || s == TaskStatusWaiting
}

// Editable tasks have not yet reached their start time.
func (t *Task) Editable(now time.Time) bool {
	return t.EffectiveStatus(now) == TaskStatusPending
}
