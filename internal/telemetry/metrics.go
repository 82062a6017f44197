// Package telemetry wires Prometheus metrics and OpenTelemetry tracing into
// the persistence, router, and dispatch components.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsClient is the narrow metrics surface components depend on, mirroring
// the shape the circuit breaker and repository layers were written against.
type MetricsClient interface {
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
}

// PrometheusMetrics implements MetricsClient over a prometheus.Registerer.
// Metric descriptors are created lazily and cached by name, since the set of
// label combinations (destination type, dialect, outcome) is not known
// upfront.
type PrometheusMetrics struct {
	registerer prometheus.Registerer
	counters   map[string]*prometheus.CounterVec
	histograms map[string]*prometheus.HistogramVec
	gauges     map[string]*prometheus.GaugeVec
}

// NewPrometheusMetrics builds a MetricsClient registered against reg.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	return &PrometheusMetrics{
		registerer: reg,
		counters:   make(map[string]*prometheus.CounterVec),
		histograms: make(map[string]*prometheus.HistogramVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
	}
}

func (m *PrometheusMetrics) counterVec(name string, labelNames []string) *prometheus.CounterVec {
	if c, ok := m.counters[name]; ok {
		return c
	}
	c := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: name}, labelNames)
	_ = m.registerer.Register(c)
	m.counters[name] = c
	return c
}

func (m *PrometheusMetrics) histogramVec(name string, labelNames []string) *prometheus.HistogramVec {
	if h, ok := m.histograms[name]; ok {
		return h
	}
	h := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: name}, labelNames)
	_ = m.registerer.Register(h)
	m.histograms[name] = h
	return h
}

func (m *PrometheusMetrics) gaugeVec(name string, labelNames []string) *prometheus.GaugeVec {
	if g, ok := m.gauges[name]; ok {
		return g
	}
	g := prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: name, Help: name}, labelNames)
	_ = m.registerer.Register(g)
	m.gauges[name] = g
	return g
}

func labelNames(labels map[string]string) ([]string, prometheus.Labels) {
	names := make([]string, 0, len(labels))
	pl := make(prometheus.Labels, len(labels))
	for k, v := range labels {
		names = append(names, k)
		pl[k] = v
	}
	return names, pl
}

func (m *PrometheusMetrics) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	names, pl := labelNames(labels)
	m.counterVec(name, names).With(pl).Add(value)
}

func (m *PrometheusMetrics) RecordHistogram(name string, value float64, labels map[string]string) {
	names, pl := labelNames(labels)
	m.histogramVec(name, names).With(pl).Observe(value)
}

func (m *PrometheusMetrics) RecordGauge(name string, value float64, labels map[string]string) {
	names, pl := labelNames(labels)
	m.gaugeVec(name, names).With(pl).Set(value)
}

// NopMetrics discards everything. Used in tests and in components run
// without a registry wired in.
type NopMetrics struct{}

func (NopMetrics) IncrementCounterWithLabels(string, float64, map[string]string) {}
func (NopMetrics) RecordHistogram(string, float64, map[string]string)            {}
func (NopMetrics) RecordGauge(string, float64, map[string]string)               {}
