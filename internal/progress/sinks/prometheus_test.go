package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"magharvest/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	taskID := "0191b2f4-5cde-7000-8000-00000000aaaa"
	batch := []progress.Event{
		{TaskID: taskID, TS: time.Now(), Stage: progress.StageTaskStart, Mode: "incremental"},
		{
			TaskID:  taskID,
			TS:      time.Now().Add(time.Second),
			Stage:   progress.StagePageDone,
			Section: "36_437",
			Threads: 12,
		},
		{
			TaskID:  taskID,
			TS:      time.Now().Add(2 * time.Second),
			Stage:   progress.StageThreadDone,
			Section: "36_437",
			Magnets: 2,
			Dur:     300 * time.Millisecond,
		},
		{
			TaskID:  taskID,
			TS:      time.Now().Add(3 * time.Second),
			Stage:   progress.StageSubmitDone,
			Magnets: 5,
			Failed:  1,
			Dur:     2 * time.Second,
		},
		{TaskID: taskID, TS: time.Now().Add(15 * time.Second), Stage: progress.StageTaskDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("error")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.tasksRunning))

	require.InDelta(t, 1.0, testutil.ToFloat64(sink.pagesFetched.WithLabelValues("36_437")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.threadsFetched.WithLabelValues("36_437")), 1e-9)
	require.InDelta(t, 2.0, testutil.ToFloat64(sink.magnetsExtracted.WithLabelValues("36_437")), 1e-9)
	require.InDelta(t, 5.0, testutil.ToFloat64(sink.magnetsSubmitted.WithLabelValues("success")), 1e-9)
	require.InDelta(t, 1.0, testutil.ToFloat64(sink.magnetsSubmitted.WithLabelValues("failure")), 1e-9)
	require.Equal(t, 1, testutil.CollectAndCount(sink.threadDuration, "magharvest_thread_fetch_duration_seconds"))
}

// TestPrometheusSinkRunningGauge tracks the running gauge across start and error events.
func TestPrometheusSinkRunningGauge(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	a := "0191b2f4-5cde-7000-8000-00000000000a"
	b := "0191b2f4-5cde-7000-8000-00000000000b"
	now := time.Now()

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: a, TS: now, Stage: progress.StageTaskStart},
		{TaskID: b, TS: now, Stage: progress.StageTaskStart},
	}))
	require.Equal(t, 2.0, testutil.ToFloat64(sink.tasksRunning))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: a, TS: now.Add(time.Second), Stage: progress.StageTaskError, Message: "boom"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksRunning))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksCompleted.WithLabelValues("error")))

	// A duplicate terminal event must not drive the gauge negative.
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{TaskID: a, TS: now.Add(2 * time.Second), Stage: progress.StageTaskError, Message: "boom"},
	}))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.tasksRunning))
}
