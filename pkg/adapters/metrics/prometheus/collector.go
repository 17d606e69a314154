package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements ports.MetricsCollector using Prometheus
type Collector struct {
	runsStarted        *prometheus.CounterVec
	runsSettled        *prometheus.CounterVec
	runsSkipped        prometheus.Counter
	runDuration        *prometheus.HistogramVec
	derivedConstraints prometheus.Histogram
	activeSessions     prometheus.Gauge
	queueDepth         prometheus.Gauge
	workerPoolIdle     prometheus.Gauge
	workerPoolBusy     prometheus.Gauge
	workerPoolStopped  prometheus.Gauge
}

// NewCollector creates a collector registered with reg.
// Pass prometheus.DefaultRegisterer to expose it on /metrics.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		runsStarted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discover_runs_started_total",
				Help: "Total number of discovery runs started",
			},
			[]string{"algorithm"},
		),
		runsSettled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "discover_runs_settled_total",
				Help: "Total number of discovery runs settled by outcome",
			},
			[]string{"algorithm", "outcome"},
		),
		runsSkipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "discover_runs_skipped_total",
				Help: "Run requests ignored because a run was already loading",
			},
		),
		runDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "discover_run_duration_seconds",
				Help:    "Discovery run duration in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
			},
			[]string{"algorithm", "outcome"},
		),
		derivedConstraints: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "discover_derived_constraints",
				Help:    "Number of derived constraints per run",
				Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
			},
		),
		activeSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "discover_active_sessions",
				Help: "Number of live discovery sessions",
			},
		),
		queueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "discover_queue_depth",
				Help: "Discovery jobs waiting for a worker",
			},
		),
		workerPoolIdle: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "discover_worker_pool_idle",
				Help: "Number of idle workers",
			},
		),
		workerPoolBusy: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "discover_worker_pool_busy",
				Help: "Number of busy workers",
			},
		),
		workerPoolStopped: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "discover_worker_pool_stopped",
				Help: "Number of stopped workers",
			},
		),
	}
}

// RecordRunStarted counts a launched run
func (c *Collector) RecordRunStarted(algorithm string) {
	c.runsStarted.WithLabelValues(algorithm).Inc()
}

// RecordRunSettled counts a settled run and observes its duration
func (c *Collector) RecordRunSettled(algorithm, outcome string, duration time.Duration) {
	c.runsSettled.WithLabelValues(algorithm, outcome).Inc()
	c.runDuration.WithLabelValues(algorithm, outcome).Observe(duration.Seconds())
}

// RecordRunSkipped counts a run request dropped by the loading guard
func (c *Collector) RecordRunSkipped() {
	c.runsSkipped.Inc()
}

// RecordDerivedConstraints observes the derived constraint count of a run
func (c *Collector) RecordDerivedConstraints(count int) {
	c.derivedConstraints.Observe(float64(count))
}

// SetActiveSessions sets the number of live sessions
func (c *Collector) SetActiveSessions(count int) {
	c.activeSessions.Set(float64(count))
}

// SetQueueDepth sets the number of queued discovery jobs
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// RecordWorkerPoolStatus records worker pool status
func (c *Collector) RecordWorkerPoolStatus(idle, busy, stopped int) {
	c.workerPoolIdle.Set(float64(idle))
	c.workerPoolBusy.Set(float64(busy))
	c.workerPoolStopped.Set(float64(stopped))
}
