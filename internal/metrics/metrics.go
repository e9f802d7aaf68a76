package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Task metrics
	TasksAdded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueue_tasks_added_total",
			Help: "Total number of tasks added",
		},
		[]string{"group"},
	)

	TasksCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pueue_tasks_completed_total",
			Help: "Total number of tasks that reached a terminal state",
		},
		[]string{"group", "result"},
	)

	RunningTasks = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pueue_running_tasks",
			Help: "Current number of running tasks per group",
		},
		[]string{"group"},
	)

	// Scheduler metrics
	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pueue_scheduler_tick_duration_seconds",
			Help:    "Duration of one scheduler tick",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~0.2s
		},
	)

	SpawnedTasks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pueue_spawned_tasks_total",
			Help: "Total number of child processes spawned",
		},
	)

	// Session metrics
	SessionsAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pueue_sessions_accepted_total",
			Help: "Total number of accepted client connections",
		},
	)

	SessionsRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pueue_sessions_rejected_total",
			Help: "Total number of connections that failed the handshake",
		},
	)
)
