// Package metrics provides Prometheus metrics for slideforge: task and
// sample outcomes, queue depth, generation stream health, live subscriber
// fan-out, store latency and health checks.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "slideforge"

// ─── Tasks ──────────────────────────────────────────────────────────────────

// TasksSubmitted tracks tasks accepted by the API.
var TasksSubmitted = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_submitted_total",
	Help:      "Total tasks accepted for processing.",
})

// TasksFinished tracks tasks reaching a terminal state, by outcome
// (completed, failed, fallback).
var TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "tasks_finished_total",
	Help:      "Total tasks that reached a terminal state.",
}, []string{"outcome"})

// TasksActive tracks tasks currently being orchestrated.
var TasksActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "tasks_active",
	Help:      "Number of tasks currently being orchestrated.",
})

// TaskDuration tracks wall time from dequeue to terminal state.
var TaskDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "task_duration_seconds",
	Help:      "Time from dequeue to terminal task state.",
	Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
})

// TaskWaitLatency tracks time from submission to dequeue.
var TaskWaitLatency = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "task_wait_seconds",
	Help:      "Time a task spent queued before processing started.",
	Buckets:   []float64{0.01, 0.1, 1, 5, 30, 120, 600},
})

// QueueDepth tracks tasks waiting in the queue.
var QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "queue_depth",
	Help:      "Number of tasks waiting to be processed.",
})

// ─── Samples ────────────────────────────────────────────────────────────────

// SamplesFinished tracks sample outcomes (succeeded, failed).
var SamplesFinished = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "samples_finished_total",
	Help:      "Total sample runs by outcome.",
}, []string{"outcome"})

// ─── Generation Stream ──────────────────────────────────────────────────────

// StreamEvents tracks normalized events by kind.
var StreamEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "stream_events_total",
	Help:      "Normalized generation events by kind.",
}, []string{"kind"})

// StreamMalformed tracks SSE blocks that produced no event.
var StreamMalformed = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "sse_malformed_total",
	Help:      "SSE blocks dropped because they could not be parsed.",
})

// GenerationRequests tracks calls to the generation service by endpoint and
// result (ok, error).
var GenerationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "generation_requests_total",
	Help:      "Requests made to the generation service.",
}, []string{"endpoint", "result"})

// ─── Live Channel ───────────────────────────────────────────────────────────

// HubConnections tracks open live connections.
var HubConnections = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "hub_connections",
	Help:      "Number of open live connections.",
})

// HubSends tracks notification deliveries by result (ok, failed).
var HubSends = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "hub_sends_total",
	Help:      "Notification deliveries to live connections.",
}, []string{"result"})

// ─── Store ──────────────────────────────────────────────────────────────────

// StoreLatency tracks task store operation latency.
var StoreLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: namespace,
	Name:      "store_op_seconds",
	Help:      "Task store operation latency.",
	Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
}, []string{"driver", "op"})

// ─── Health ─────────────────────────────────────────────────────────────────

// HealthCheckStatus tracks health check results (1=healthy, 0=unhealthy).
var HealthCheckStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Name:      "health_check_status",
	Help:      "Health check result per component (1=healthy, 0=unhealthy).",
}, []string{"check"})

// HealthRecoveries tracks auto-recovery attempts.
var HealthRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: namespace,
	Name:      "health_recoveries_total",
	Help:      "Total auto-recovery attempts per check.",
}, []string{"check"})
