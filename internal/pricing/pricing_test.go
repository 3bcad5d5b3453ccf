package pricing

import (
	"errors"
	"testing"
	"time"

	"github.com/jdtask/backend/internal/models"
)

func strPtr(s string) *string { return &s }

func activeType(price, multiplier int) *models.TaskType {
	return &models.TaskType{
		TypeCode:          "browse",
		JingdouPrice:      price,
		ExecuteMultiplier: multiplier,
		IsActive:          true,
	}
}

func at(clock string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", "2025-06-10 "+clock)
	if err != nil {
		panic(err)
	}
	return t
}

func TestQuote_CountMode(t *testing.T) {
	got, err := Quote(activeType(10, 3), 5, at("14:00"), ModeCount)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if got != 50 {
		t.Errorf("got %d, want 50 (multiplier must not apply in count mode)", got)
	}
}

func TestQuote_ExecuteMode(t *testing.T) {
	got, err := Quote(activeType(10, 3), 5, at("14:00"), ModeExecute)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if got != 150 {
		t.Errorf("got %d, want 150", got)
	}

	// Zero multiplier floors to 1 rather than making the task free.
	got, err = Quote(activeType(10, 0), 5, at("14:00"), ModeExecute)
	if err != nil {
		t.Fatalf("Quote failed: %v", err)
	}
	if got != 50 {
		t.Errorf("got %d, want 50", got)
	}
}

func TestQuote_Rejections(t *testing.T) {
	inactive := activeType(10, 1)
	inactive.IsActive = false

	if _, err := Quote(activeType(10, 1), 0, at("14:00"), ModeCount); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("zero count: got %v, want ErrInvalidCount", err)
	}
	if _, err := Quote(activeType(10, 1), -3, at("14:00"), ModeCount); !errors.Is(err, ErrInvalidCount) {
		t.Errorf("negative count: got %v, want ErrInvalidCount", err)
	}
	if _, err := Quote(inactive, 1, at("14:00"), ModeCount); !errors.Is(err, ErrTypeInactive) {
		t.Errorf("inactive type: got %v, want ErrTypeInactive", err)
	}
}

func TestEligibleAt_Window(t *testing.T) {
	cfg := activeType(10, 1)
	cfg.TimeSlot1Start = strPtr("09:00")
	cfg.TimeSlot1End = strPtr("12:00")
	cfg.TimeSlot2Start = strPtr("14:00")
	cfg.TimeSlot2End = strPtr("18:00")

	cases := []struct {
		clock string
		want  bool
	}{
		{"08:59", false},
		{"09:00", true}, // boundaries are inclusive
		{"12:00", true},
		{"12:01", false},
		{"13:59", false},
		{"14:00", true},
		{"18:00", true},
		{"18:01", false},
	}
	for _, c := range cases {
		if got := EligibleAt(cfg, at(c.clock)); got != c.want {
			t.Errorf("EligibleAt(%s) = %v, want %v", c.clock, got, c.want)
		}
	}

	if _, err := Quote(cfg, 1, at("13:00"), ModeCount); !errors.Is(err, ErrTimeWindow) {
		t.Errorf("out-of-window quote: got %v, want ErrTimeWindow", err)
	}
}

func TestEligibleAt_NoWindow(t *testing.T) {
	if !EligibleAt(activeType(10, 1), at("03:00")) {
		t.Error("type without slots must accept any start time")
	}
}

func TestWindow(t *testing.T) {
	cfg := activeType(10, 1)
	if Window(cfg) != nil {
		t.Error("expected nil window for unrestricted type")
	}

	cfg.TimeSlot1Start = strPtr("09:00")
	cfg.TimeSlot1End = strPtr("12:00")
	slots := Window(cfg)
	if len(slots) != 1 || slots[0] != "09:00-12:00" {
		t.Errorf("got %v, want [09:00-12:00]", slots)
	}
}
