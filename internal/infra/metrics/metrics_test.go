package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T) map[string]bool {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	return names
}

func TestTaskMetrics_Registered(t *testing.T) {
	TasksSubmitted.Inc()
	TasksFinished.WithLabelValues("completed").Inc()
	TasksActive.Set(1)
	TaskDuration.Observe(12)
	QueueDepth.Set(2)
	SamplesFinished.WithLabelValues("failed").Inc()

	names := gatheredNames(t)
	for _, name := range []string{
		"slideforge_tasks_submitted_total",
		"slideforge_tasks_finished_total",
		"slideforge_tasks_active",
		"slideforge_task_duration_seconds",
		"slideforge_queue_depth",
		"slideforge_samples_finished_total",
	} {
		assert.True(t, names[name], "metric %q not found", name)
	}
}

func TestStreamMetrics(t *testing.T) {
	before := testutil.ToFloat64(StreamMalformed)
	StreamMalformed.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(StreamMalformed))

	StreamEvents.WithLabelValues("progress").Add(3)
	assert.GreaterOrEqual(t, testutil.ToFloat64(StreamEvents.WithLabelValues("progress")), 3.0)
}

func TestHealthMetrics(t *testing.T) {
	HealthCheckStatus.WithLabelValues("store").Set(1)
	HealthCheckStatus.WithLabelValues("generation").Set(0)
	HealthRecoveries.WithLabelValues("store").Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(HealthCheckStatus.WithLabelValues("store")))
	assert.Equal(t, 0.0, testutil.ToFloat64(HealthCheckStatus.WithLabelValues("generation")))
}
