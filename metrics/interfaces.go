// Package metrics records what batch runs did in Prometheus form.
//
// Two registries are provided:
//   - ScrapeRegistry registers with a Prometheus registry and serves /metrics,
//     for the long-running scheduler
//   - PushRegistry buffers samples and sends them to a remote write endpoint
//     in one request, for one-shot CLI runs
//
// NoopRegistry discards everything and is the default for library use.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Gauge is a value that can go up and down.
type Gauge interface {
	Set(float64)
}

// Counter only increases.
type Counter interface {
	Inc()
	// Add panics if v is negative.
	Add(v float64)
}

// GaugeVec is a Gauge partitioned by labels.
type GaugeVec interface {
	With(prometheus.Labels) Gauge
}

// CounterVec is a Counter partitioned by labels.
type CounterVec interface {
	With(prometheus.Labels) Counter
}

// Registry creates metrics. Implementations decide whether they are scraped
// or pushed.
type Registry interface {
	NewGauge(opts prometheus.GaugeOpts) (Gauge, error)
	NewGaugeVec(opts prometheus.GaugeOpts, labels []string) (GaugeVec, error)
	NewCounter(opts prometheus.CounterOpts) (Counter, error)
	NewCounterVec(opts prometheus.CounterOpts, labels []string) (CounterVec, error)
}
