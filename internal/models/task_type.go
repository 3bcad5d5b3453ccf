package models

import (
	"time"

	"github.com/google/uuid"
)

// TaskType is the pricing configuration for one task kind. Edited by the
// admin collaborator only; this engine reads it.
type TaskType struct {
	ID                uuid.UUID `json:"id"`
	TypeCode          string    `json:"type_code"`
	TypeName          string    `json:"type_name"`
	JingdouPrice      int       `json:"jingdou_price"`
	ExecuteMultiplier int       `json:"execute_multiplier"`
	IsActive          bool      `json:"is_active"`
	TimeSlot1Start    *string   `json:"time_slot1_start,omitempty"` // "HH:MM"
	TimeSlot1End      *string   `json:"time_slot1_end,omitempty"`
	TimeSlot2Start    *string   `json:"time_slot2_start,omitempty"`
	TimeSlot2End      *string   `json:"time_slot2_end,omitempty"`
	IsSystemPreset    bool      `json:"is_system_preset"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// HasTimeWindow reports whether the type restricts start times to configured
// slots. Slot 1 must be fully configured for any restriction to apply.
func (t *TaskType) HasTimeWindow() bool {
	return t.TimeSlot1Start != nil && t.TimeSlot1End != nil &&
		*t.TimeSlot1Start != "" && *t.TimeSlot1End != ""
}
