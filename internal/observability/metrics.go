// Package observability holds the process-wide Prometheus metrics. Counters
// live here so services can increment them without wiring a registry through
// every constructor; cmd/api serves them on /metrics.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jdtask_tasks_created_total",
		Help: "Tasks successfully created.",
	})
	TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jdtask_tasks_cancelled_total",
		Help: "Tasks cancelled before execution.",
	})
	TasksExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jdtask_tasks_expired_total",
		Help: "Tasks settled as partial_completed by the expiry sweep.",
	})
	ReportsApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jdtask_reports_applied_total",
		Help: "Execution progress reports applied, including idempotent no-ops.",
	})
	JingdouDebited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jdtask_jingdou_debited_total",
		Help: "Jingdou debited across all consume records.",
	})
	JingdouCredited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jdtask_jingdou_credited_total",
		Help: "Jingdou credited across recharge, refund and positive adjustments.",
	})
)
