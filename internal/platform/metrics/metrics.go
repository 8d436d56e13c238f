// Package metrics defines the Prometheus instrumentation for the worker.
// Metrics live on an explicitly constructed registry owned by the composition
// root; there is no process-wide singleton state.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics holds the worker loop's counters and gauges.
type WorkerMetrics struct {
	CyclesTotal         prometheus.Counter
	TasksProcessedTotal prometheus.Counter
	TaskFailuresTotal   *prometheus.CounterVec
	StuckTasksTotal     prometheus.Counter
	TasksDeletedTotal   prometheus.Counter
	CycleErrorsTotal    prometheus.Counter
	PendingBatchSize    prometheus.Gauge
}

// NewWorkerMetrics creates the worker metric set and registers it on the
// given registerer.
func NewWorkerMetrics(reg prometheus.Registerer) *WorkerMetrics {
	m := &WorkerMetrics{
		CyclesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otium",
			Subsystem: "worker",
			Name:      "cycles_total",
			Help:      "Number of completed poll cycles.",
		}),
		TasksProcessedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otium",
			Subsystem: "worker",
			Name:      "tasks_processed_total",
			Help:      "Number of task attempts executed.",
		}),
		TaskFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "otium",
			Subsystem: "worker",
			Name:      "task_failures_total",
			Help:      "Number of failed task attempts by error class.",
		}, []string{"class"}),
		StuckTasksTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otium",
			Subsystem: "worker",
			Name:      "stuck_tasks_total",
			Help:      "Number of stuck tasks force-failed by the cleanup sweep.",
		}),
		TasksDeletedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otium",
			Subsystem: "worker",
			Name:      "tasks_deleted_total",
			Help:      "Number of terminal tasks removed by the retention sweep.",
		}),
		CycleErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "otium",
			Subsystem: "worker",
			Name:      "cycle_errors_total",
			Help:      "Number of cycle-level errors (batch fetch or cleanup failures).",
		}),
		PendingBatchSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "otium",
			Subsystem: "worker",
			Name:      "pending_batch_size",
			Help:      "Size of the most recent pending task batch.",
		}),
	}

	reg.MustRegister(
		m.CyclesTotal,
		m.TasksProcessedTotal,
		m.TaskFailuresTotal,
		m.StuckTasksTotal,
		m.TasksDeletedTotal,
		m.CycleErrorsTotal,
		m.PendingBatchSize,
	)

	return m
}
