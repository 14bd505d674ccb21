package metrics

import "github.com/prometheus/client_golang/prometheus"

// NoopRegistry creates metrics that drop every update.
type NoopRegistry struct{}

func (NoopRegistry) NewGauge(prometheus.GaugeOpts) (Gauge, error) { return noopMetric{}, nil }

func (NoopRegistry) NewGaugeVec(prometheus.GaugeOpts, []string) (GaugeVec, error) {
	return noopGaugeVec{}, nil
}

func (NoopRegistry) NewCounter(prometheus.CounterOpts) (Counter, error) { return noopMetric{}, nil }

func (NoopRegistry) NewCounterVec(prometheus.CounterOpts, []string) (CounterVec, error) {
	return noopCounterVec{}, nil
}

type noopMetric struct{}

func (noopMetric) Set(float64) {}
func (noopMetric) Inc()        {}
func (noopMetric) Add(float64) {}

type noopGaugeVec struct{}

func (noopGaugeVec) With(prometheus.Labels) Gauge { return noopMetric{} }

type noopCounterVec struct{}

func (noopCounterVec) With(prometheus.Labels) Counter { return noopMetric{} }
