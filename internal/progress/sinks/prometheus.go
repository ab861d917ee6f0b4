package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/tickercrawl/internal/progress"
)

// PrometheusSink exports run and per-entity progress via Prometheus.
type PrometheusSink struct {
	runsStarted     prometheus.Counter
	runsRunning     prometheus.Gauge
	runRuntime      prometheus.Histogram
	runEntities     prometheus.Gauge
	entities        *prometheus.CounterVec
	entityRuntime   *prometheus.HistogramVec
	rowsWritten     prometheus.Counter
	lastRunFinished prometheus.Gauge

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickercrawl_progress_runs_started_total",
			Help: "Total crawl runs that have started.",
		}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickercrawl_progress_runs_running",
			Help: "Current number of running crawl runs.",
		}),
		runRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "tickercrawl_progress_run_runtime_seconds",
			Help:    "Wall time per completed crawl run.",
			Buckets: []float64{1, 10, 60, 300, 900, 1800, 3600, 7200},
		}),
		runEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickercrawl_progress_run_entities",
			Help: "Pending entities dispatched by the most recent run.",
		}),
		entities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tickercrawl_progress_entities_total",
			Help: "Entities processed partitioned by result.",
		}, []string{"result"}),
		entityRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tickercrawl_progress_entity_runtime_seconds",
			Help:    "Time to fetch and store one entity partitioned by result.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"result"}),
		rowsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tickercrawl_progress_rows_total",
			Help: "Records written by completed entities.",
		}),
		lastRunFinished: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tickercrawl_progress_last_run_finished_timestamp_seconds",
			Help: "Unix time the most recent run finished.",
		}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsRunning,
		s.runRuntime,
		s.runEntities,
		s.entities,
		s.entityRuntime,
		s.rowsWritten,
		s.lastRunFinished,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		s.runEntities.Set(float64(evt.Rows))
		if s.tracker.start(evt.RunID) {
			s.runsRunning.Inc()
		}
	case progress.StageRunDone:
		if evt.Dur > 0 {
			s.runRuntime.Observe(evt.Dur.Seconds())
		}
		s.lastRunFinished.Set(float64(evt.TS.Unix()))
		if s.tracker.complete(evt.RunID) {
			s.runsRunning.Dec()
		}
	case progress.StageEntityDone:
		s.observeEntity(evt, "done")
		s.rowsWritten.Add(float64(evt.Rows))
	case progress.StageEntityFailed:
		s.observeEntity(evt, "failed")
	case progress.StageEntitySkipped:
		s.entities.WithLabelValues("skipped").Inc()
	}
}

func (s *PrometheusSink) observeEntity(evt progress.Event, result string) {
	s.entities.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.entityRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
