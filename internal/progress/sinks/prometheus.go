package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"magharvest/internal/progress"
)

// PrometheusSink exports crawl progress metrics via Prometheus. It owns all
// collectors for tasks started/completed/running and per-section page, thread
// and submission counters.
type PrometheusSink struct {
	tasksStarted   prometheus.Counter
	tasksCompleted *prometheus.CounterVec
	tasksRunning   prometheus.Gauge
	taskRuntime    *prometheus.HistogramVec

	pagesFetched      *prometheus.CounterVec
	threadsFetched    *prometheus.CounterVec
	magnetsExtracted  *prometheus.CounterVec
	threadDuration    *prometheus.HistogramVec
	magnetsSubmitted  *prometheus.CounterVec
	submitDuration    prometheus.Histogram

	tracker *taskTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "magharvest_tasks_started_total",
			Help: "Total crawl tasks that have started.",
		}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magharvest_tasks_completed_total",
			Help: "Total crawl tasks completed partitioned by result.",
		}, []string{"result"}),
		tasksRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "magharvest_tasks_running",
			Help: "Current number of running crawl tasks.",
		}),
		taskRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "magharvest_task_runtime_seconds",
			Help:    "Wall time per completed crawl task.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"result"}),
		pagesFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magharvest_pages_fetched_total",
			Help: "Listing pages fetched partitioned by section.",
		}, []string{"section"}),
		threadsFetched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magharvest_threads_fetched_total",
			Help: "Thread pages fetched partitioned by section.",
		}, []string{"section"}),
		magnetsExtracted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magharvest_magnets_extracted_total",
			Help: "Magnet links extracted partitioned by section.",
		}, []string{"section"}),
		threadDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "magharvest_thread_fetch_duration_seconds",
			Help:    "Thread fetch duration partitioned by section.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"section"}),
		magnetsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "magharvest_magnets_submitted_total",
			Help: "Magnet submissions partitioned by result.",
		}, []string{"result"}),
		submitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "magharvest_submit_batch_duration_seconds",
			Help:    "Duration of one submission batch.",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		}),
		tracker: newTaskTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.tasksStarted,
		s.tasksCompleted,
		s.tasksRunning,
		s.taskRuntime,
		s.pagesFetched,
		s.threadsFetched,
		s.magnetsExtracted,
		s.threadDuration,
		s.magnetsSubmitted,
		s.submitDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart, progress.StageTaskDone, progress.StageTaskError:
		s.handleTaskEvent(evt)
	case progress.StagePageDone:
		s.pagesFetched.WithLabelValues(sectionLabel(evt)).Inc()
	case progress.StageThreadDone:
		s.handleThreadEvent(evt)
	case progress.StageSubmitDone:
		s.handleSubmitEvent(evt)
	}
}

func (s *PrometheusSink) handleTaskEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageTaskStart:
		s.tasksStarted.Inc()
		if s.tracker.start(evt.TaskID) {
			s.tasksRunning.Inc()
		}
	case progress.StageTaskDone:
		s.tasksCompleted.WithLabelValues("success").Inc()
		s.observeRuntime(evt, "success")
	case progress.StageTaskError:
		s.tasksCompleted.WithLabelValues("error").Inc()
		s.observeRuntime(evt, "error")
	}
	if evt.Stage != progress.StageTaskStart && s.tracker.complete(evt.TaskID) {
		s.tasksRunning.Dec()
	}
}

func (s *PrometheusSink) observeRuntime(evt progress.Event, label string) {
	if evt.Dur > 0 {
		s.taskRuntime.WithLabelValues(label).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleThreadEvent(evt progress.Event) {
	section := sectionLabel(evt)
	s.threadsFetched.WithLabelValues(section).Inc()
	if evt.Magnets > 0 {
		s.magnetsExtracted.WithLabelValues(section).Add(float64(evt.Magnets))
	}
	if evt.Dur > 0 {
		s.threadDuration.WithLabelValues(section).Observe(evt.Dur.Seconds())
	}
}

func (s *PrometheusSink) handleSubmitEvent(evt progress.Event) {
	if evt.Magnets > 0 {
		s.magnetsSubmitted.WithLabelValues("success").Add(float64(evt.Magnets))
	}
	if evt.Failed > 0 {
		s.magnetsSubmitted.WithLabelValues("failure").Add(float64(evt.Failed))
	}
	if evt.Dur > 0 {
		s.submitDuration.Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

func sectionLabel(evt progress.Event) string {
	if evt.Section == "" {
		return "unknown"
	}
	return evt.Section
}

type taskTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newTaskTracker() *taskTracker {
	return &taskTracker{running: make(map[string]struct{})}
}

func (t *taskTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *taskTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
