// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of items currently waiting in the
	// dispatch queue.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "translate_queue_depth",
			Help: "Number of tasks currently waiting in the dispatch queue",
		},
	)

	// PoolFree tracks the number of idle executor handles in the pool.
	PoolFree = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "translate_executor_pool_free",
			Help: "Number of executor handles currently idle",
		},
	)

	// PoolTotal is the fixed size of the executor pool.
	PoolTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "translate_executor_pool_total",
			Help: "Total number of executor handles in the pool",
		},
	)

	// TasksAdmitted counts tasks admitted by mode (single/stream/batch).
	TasksAdmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translate_tasks_admitted_total",
			Help: "Tasks admitted into the queue",
		},
		[]string{"mode"},
	)

	// TasksTerminal counts tasks reaching a terminal state, by outcome.
	TasksTerminal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translate_tasks_terminal_total",
			Help: "Tasks reaching a terminal state",
		},
		[]string{"status"},
	)

	// TasksReaped counts queued tasks removed because their client
	// disconnected before dispatch.
	TasksReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "translate_tasks_reaped_total",
			Help: "Queued tasks removed because their client disconnected",
		},
	)

	// DispatchWaitDuration tracks time spent between admission and
	// acquiring an executor handle.
	DispatchWaitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "translate_dispatch_wait_duration_seconds",
			Help:    "Time a task spends queued before an executor is acquired",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ExecutorRunDuration tracks time spent inside a single executor
	// invocation, unary or streaming.
	ExecutorRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "translate_executor_run_duration_seconds",
			Help:    "Time spent running a translation inside the executor",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// FramesEmitted counts streaming frames written to clients, by code.
	FramesEmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "translate_frames_emitted_total",
			Help: "Framed progress bytes written to streaming clients",
		},
		[]string{"code"},
	)

	// CircuitBreakerState exposes the executor pool's breaker state as a
	// gauge (0=closed, 1=half-open, 2=open), matching how the circuit
	// breaker's own state machine enumerates it.
	CircuitBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "translate_executor_circuit_breaker_state",
			Help: "Executor pool circuit breaker state: 0=closed, 1=half-open, 2=open",
		},
	)
)
