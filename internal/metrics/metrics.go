// Package metrics exposes ThreatWatch counters in Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threatwatch"

// Metrics holds the registry and every collector registered on it. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	threatsIngested  *prometheus.CounterVec
	noiseDropped     prometheus.Counter
	alertsRaised     *prometheus.CounterVec
	relationships    prometheus.Counter
	patternsDetected *prometheus.CounterVec
	detectorFailures *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	lastRunTimestamp prometheus.Gauge
}

// New creates a registry with all ThreatWatch collectors plus Go runtime
// and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		threatsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_ingested_total",
			Help:      "New threats stored, by source.",
		}, []string{"source"}),
		noiseDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "noise_dropped_total",
			Help:      "Threats dropped by the relevance filter.",
		}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_raised_total",
			Help:      "Alerts created, by category.",
		}, []string{"category"}),
		relationships: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relationships_built_total",
			Help:      "Threat relationships produced by correlation.",
		}),
		patternsDetected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "patterns_detected_total",
			Help:      "Patterns detected, by pattern type.",
		}, []string{"type"}),
		detectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detector_failures_total",
			Help:      "Pattern detectors that failed and were skipped.",
		}, []string{"detector"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "pipeline_step_duration_seconds",
			Help:      "Duration of pipeline steps.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300},
		}, []string{"step"}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time of the last completed pipeline run.",
		}),
	}

	m.registry.MustRegister(
		m.threatsIngested,
		m.noiseDropped,
		m.alertsRaised,
		m.relationships,
		m.patternsDetected,
		m.detectorFailures,
		m.stepDuration,
		m.lastRunTimestamp,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ThreatsIngested(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.threatsIngested.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) NoiseDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.noiseDropped.Add(float64(n))
}

func (m *Metrics) AlertRaised(category string) {
	if m == nil {
		return
	}
	m.alertsRaised.WithLabelValues(category).Inc()
}

func (m *Metrics) RelationshipsBuilt(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relationships.Add(float64(n))
}

func (m *Metrics) PatternDetected(patternType string) {
	if m == nil {
		return
	}
	m.patternsDetected.WithLabelValues(patternType).Inc()
}

func (m *Metrics) DetectorFailed(detector string) {
	if m == nil {
		return
	}
	m.detectorFailures.WithLabelValues(detector).Inc()
}

// ObserveStep records how long a pipeline step took.
func (m *Metrics) ObserveStep(step string, d time.Duration) {
	if m == nil {
		return
	}
	m.stepDuration.WithLabelValues(step).Observe(d.Seconds())
}

// RunCompleted stamps the completion time of a pipeline run.
func (m *Metrics) RunCompleted(at time.Time) {
	if m == nil {
		return
	}
	m.lastRunTimestamp.Set(float64(at.Unix()))
}
