package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskTemplate is a derived read model keyed by
// (user_id, task_type, sku, shop_name, keyword). It is rebuilt incrementally
// on task creation and can be recomputed from task history at any time; it is
// never authoritative.
type TaskTemplate struct {
	ID                uuid.UUID `json:"id"`
	UserID            uuid.UUID `json:"user_id"`
	TaskType          string    `json:"task_type"`
	SKU               string    `json:"sku"`
	ShopName          string    `json:"shop_name"`
	Keyword           string    `json:"keyword"`
	Remark            string    `json:"remark"`
	TotalCreatedCount int       `json:"total_created_count"`
	LastUsedAt        time.Time `json:"last_used_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}
