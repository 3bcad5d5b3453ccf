// Package stats computes the dashboard aggregates: today's task buckets,
// future execution pressure, and finance figures. All math lives in pure
// functions over the repository's tallies so the rounding and
// divide-by-zero rules are testable without a database.
package stats

import (
	"context"
	"math"
	"time"

	"github.com/jdtask/backend/internal/config"
	"github.com/jdtask/backend/internal/models"
)

// Stat modes: count tallies task rows, execute tallies execution units.
const (
	ModeCount   = "count"
	ModeExecute = "execute"
)

// Store is the aggregate-query interface the service needs.
type Store interface {
	TodayTallies(ctx context.Context, start, end time.Time, taskType string) (map[string]Tally, error)
	FutureLoad(ctx context.Context, start time.Time, end *time.Time, taskType string) (Load, error)
	CompletedBetween(ctx context.Context, start, end time.Time, taskType string) (Load, error)
	KindSumSince(ctx context.Context, since time.Time, kind string) (int64, error)
	LowBalanceUsers(ctx context.Context, threshold, limit int) ([]LowBalanceUser, error)
}

type Service struct {
	Store Store
	Cfg   config.Stats

	now func() time.Time
}

func NewService(store Store, cfg config.Stats) *Service {
	return &Service{Store: store, Cfg: cfg, now: time.Now}
}

// TodayStats is the status breakdown of tasks starting today.
type TodayStats struct {
	StatMode         string  `json:"stat_mode"`
	TaskType         string  `json:"task_type"`
	TotalTasks       int64   `json:"total_tasks"`
	TotalValue       int64   `json:"total_value"`
	PendingValue     int64   `json:"pending_value"`
	RunningValue     int64   `json:"running_value"`
	CompletedValue   int64   `json:"completed_value"`
	PendingPercent   float64 `json:"pending_percent"`
	RunningPercent   float64 `json:"running_percent"`
	CompletedPercent float64 `json:"completed_percent"`
}

// Today groups today's tasks into pending/running/completed buckets. In
// count mode each bucket counts rows; in execute mode pending counts the
// unexecuted units (waiting tasks in full plus the remainder of running
// ones), running counts units already executed, completed counts the units
// of finished tasks.
func (s *Service) Today(ctx context.Context, mode, taskType string) (*TodayStats, error) {
	if mode != ModeCount {
		mode = ModeExecute
	}
	dayStart := startOfDay(s.now())
	tallies, err := s.Store.TodayTallies(ctx, dayStart, dayStart.Add(24*time.Hour), taskType)
	if err != nil {
		return nil, err
	}

	pending := tallies[models.TaskStatusPending]
	waiting := tallies[models.TaskStatusWaiting]
	running := tallies[models.TaskStatusRunning]
	completed := tallies[models.TaskStatusCompleted]

	out := &TodayStats{StatMode: mode, TaskType: taskType}
	for _, t := range tallies {
		out.TotalTasks += t.Count
	}
	if mode == ModeCount {
		out.PendingValue = pending.Count + waiting.Count
		out.RunningValue = running.Count
		out.CompletedValue = completed.Count
	} else {
		out.PendingValue = pending.ExecuteSum + waiting.ExecuteSum + (running.ExecuteSum - running.ExecutedSum)
		out.RunningValue = running.ExecutedSum
		out.CompletedValue = completed.ExecuteSum
	}
	out.TotalValue = out.PendingValue + out.RunningValue + out.CompletedValue
	out.PendingPercent = percentage(out.PendingValue, out.TotalValue)
	out.RunningPercent = percentage(out.RunningValue, out.TotalValue)
	out.CompletedPercent = percentage(out.CompletedValue, out.TotalValue)
	return out, nil
}

// DayLoad is one day of the future-load series.
type DayLoad struct {
	Day   string `json:"day"`
	Value int64  `json:"value"`
}

// PressureStats relates the queued future work to recent throughput.
type PressureStats struct {
	StatMode           string    `json:"stat_mode"`
	TaskType           string    `json:"task_type"`
	FutureDays         []DayLoad `json:"future_days"`
	TotalFuturePending int64     `json:"total_future_pending"`
	YesterdayCompleted int64     `json:"yesterday_completed"`
	Avg3DaysCompleted  float64   `json:"avg_3days_completed"`
	PressureValue      float64   `json:"pressure_value"`
	PressureLevel      string    `json:"pressure_level"`
}

// Pressure buckets the next 7 days of unfinished work and divides the total
// by the mean daily completions of the preceding 3 days. An idle history
// counts as a throughput of 1 so the ratio stays finite.
func (s *Service) Pressure(ctx context.Context, mode, taskType string) (*PressureStats, error) {
	if mode != ModeCount {
		mode = ModeExecute
	}
	dayStart := startOfDay(s.now())

	out := &PressureStats{StatMode: mode, TaskType: taskType, FutureDays: make([]DayLoad, 0, 7)}
	for i := 0; i < 7; i++ {
		from := dayStart.Add(time.Duration(i) * 24 * time.Hour)
		to := from.Add(24 * time.Hour)
		load, err := s.Store.FutureLoad(ctx, from, &to, taskType)
		if err != nil {
			return nil, err
		}
		out.FutureDays = append(out.FutureDays, DayLoad{Day: from.Format("2006-01-02"), Value: loadValue(load, mode)})
	}

	total, err := s.Store.FutureLoad(ctx, dayStart, nil, taskType)
	if err != nil {
		return nil, err
	}
	out.TotalFuturePending = loadValue(total, mode)

	yesterday, err := s.Store.CompletedBetween(ctx, dayStart.Add(-24*time.Hour), dayStart, taskType)
	if err != nil {
		return nil, err
	}
	out.YesterdayCompleted = loadValue(yesterday, mode)

	last3, err := s.Store.CompletedBetween(ctx, dayStart.Add(-72*time.Hour), dayStart, taskType)
	if err != nil {
		return nil, err
	}
	out.Avg3DaysCompleted = round2(float64(loadValue(last3, mode)) / 3.0)

	out.PressureValue = pressureOf(out.TotalFuturePending, out.Avg3DaysCompleted)
	out.PressureLevel = s.pressureLevel(out.PressureValue)
	return out, nil
}

// FinanceStats is the money dashboard.
type FinanceStats struct {
	AvgDailyRecharge float64          `json:"avg_daily_recharge"`
	AvgDailyConsume  float64          `json:"avg_daily_consume"`
	TodayRecharge    int64            `json:"today_recharge"`
	TodayConsume     int64            `json:"today_consume"`
	LowBalanceUsers  []LowBalanceUser `json:"low_balance_users"`
}

// Finance averages recharge and consume volume over the trailing window and
// lists the users closest to running dry.
func (s *Service) Finance(ctx context.Context) (*FinanceStats, error) {
	dayStart := startOfDay(s.now())
	windowDays := s.Cfg.FinanceWindowDays
	windowStart := dayStart.Add(-time.Duration(windowDays) * 24 * time.Hour)

	windowRecharge, err := s.Store.KindSumSince(ctx, windowStart, models.LedgerKindRecharge)
	if err != nil {
		return nil, err
	}
	windowConsume, err := s.Store.KindSumSince(ctx, windowStart, models.LedgerKindConsume)
	if err != nil {
		return nil, err
	}
	todayRecharge, err := s.Store.KindSumSince(ctx, dayStart, models.LedgerKindRecharge)
	if err != nil {
		return nil, err
	}
	todayConsume, err := s.Store.KindSumSince(ctx, dayStart, models.LedgerKindConsume)
	if err != nil {
		return nil, err
	}
	lowUsers, err := s.Store.LowBalanceUsers(ctx, s.Cfg.LowBalanceThreshold, s.Cfg.LowBalanceLimit)
	if err != nil {
		return nil, err
	}

	return &FinanceStats{
		AvgDailyRecharge: round2(float64(windowRecharge) / float64(windowDays)),
		AvgDailyConsume:  round2(float64(windowConsume) / float64(windowDays)),
		TodayRecharge:    todayRecharge,
		TodayConsume:     todayConsume,
		LowBalanceUsers:  lowUsers,
	}, nil
}

func (s *Service) pressureLevel(value float64) string {
	switch {
	case value < s.Cfg.PressureMedium:
		return "low"
	case value < s.Cfg.PressureHigh:
		return "medium"
	case value < s.Cfg.PressureCritical:
		return "high"
	default:
		return "critical"
	}
}

func loadValue(l Load, mode string) int64 {
	if mode == ModeCount {
		return l.Count
	}
	return l.Units
}

// percentage is part/total as a percent, two decimals, 0 when total is 0.
func percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return round2(float64(part) / float64(total) * 100)
}

// pressureOf divides queued work by recent daily throughput. Only a fully
// idle history substitutes 1 to keep the ratio finite; a fractional average
// divides as-is so near-idle backlogs read as the pressure they are.
func pressureOf(totalFuturePending int64, avgCompleted float64) float64 {
	if avgCompleted == 0 {
		avgCompleted = 1
	}
	return round2(float64(totalFuturePending) / avgCompleted)
}

func round2(x float64) float64 {
	return math.Round(x*100) / 100
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
