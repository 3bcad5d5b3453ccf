// Package pricing quotes the jingdou cost of a task from its type
// configuration. Quotes are pure and deterministic: the caller snapshots the
// result on the task row, and billing never re-reads pricing config after
// the fact. A task is only re-quoted on an explicit edit.
package pricing

import (
	"errors"
	"time"

	"github.com/jdtask/backend/internal/models"
)

// Mode selects how a quote counts repetitions.
type Mode string

const (
	// ModeCount charges jingdou_price per requested execution.
	ModeCount Mode = "count"
	// ModeExecute additionally applies the type's execute_multiplier,
	// pricing by device executions rather than by task repetitions.
	ModeExecute Mode = "execute"
)

var (
	// ErrTypeInactive is returned when quoting against a disabled task type.
	ErrTypeInactive = errors.New("task type is not active")
	// ErrTimeWindow is returned when the requested start time falls outside
	// the type's configured time slots.
	ErrTimeWindow = errors.New("start time outside allowed time slots")
	// ErrInvalidCount is returned for non-positive execute counts.
	ErrInvalidCount = errors.New("execute count must be positive")
)

// Quote computes the jingdou cost for executeCount repetitions of a task of
// the given type starting at startTime.
func Quote(cfg *models.TaskType, executeCount int, startTime time.Time, mode Mode) (int, error) {
	if executeCount <= 0 {
		return 0, ErrInvalidCount
	}
	if !cfg.IsActive {
		return 0, ErrTypeInactive
	}
	if !EligibleAt(cfg, startTime) {
		return 0, ErrTimeWindow
	}

	price := cfg.JingdouPrice * executeCount
	if mode == ModeExecute {
		multiplier := cfg.ExecuteMultiplier
		if multiplier < 1 {
			multiplier = 1
		}
		price *= multiplier
	}
	return price, nil
}

// EligibleAt reports whether startTime falls inside the type's allowed time
// slots. Types without a configured window accept any start time. Slots are
// inclusive "HH:MM" ranges compared against the wall clock of startTime.
func EligibleAt(cfg *models.TaskType, startTime time.Time) bool {
	if !cfg.HasTimeWindow() {
		return true
	}
	clock := startTime.Format("15:04")
	if clock >= *cfg.TimeSlot1Start && clock <= *cfg.TimeSlot1End {
		return true
	}
	if cfg.TimeSlot2Start != nil && cfg.TimeSlot2End != nil &&
		*cfg.TimeSlot2Start != "" && *cfg.TimeSlot2End != "" {
		if clock >= *cfg.TimeSlot2Start && clock <= *cfg.TimeSlot2End {
			return true
		}
	}
	return false
}

// Window returns the configured slots as "HH:MM-HH:MM" strings for error
// messages and type listings.
func Window(cfg *models.TaskType) []string {
	if !cfg.HasTimeWindow() {
		return nil
	}
	slots := []string{*cfg.TimeSlot1Start + "-" + *cfg.TimeSlot1End}
	if cfg.TimeSlot2Start != nil && cfg.TimeSlot2End != nil &&
		*cfg.TimeSlot2Start != "" && *cfg.TimeSlot2End != "" {
		slots = append(slots, *cfg.TimeSlot2Start+"-"+*cfg.TimeSlot2End)
	}
	return slots
}
