// Package prom exposes the latest training scalars as Prometheus gauges.
package prom

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/crimson-sun/medexpand/internal/output"
)

// Sink keeps one gauge per scalar tag, holding its most recent value, and a
// gauge with the step of the last record.
type Sink struct {
	values *prometheus.GaugeVec
	step   prometheus.Gauge
}

var _ output.Sink = (*Sink)(nil)

// New registers the sink's collectors on reg.
func New(reg prometheus.Registerer) (*Sink, error) {
	s := &Sink{
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "medexpand",
			Subsystem: "train",
			Name:      "scalar",
			Help:      "Most recent value of a training scalar",
		}, []string{"tag"}),
		step: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "medexpand",
			Subsystem: "train",
			Name:      "epoch",
			Help:      "Step of the most recently logged scalar",
		}),
	}
	for _, c := range []prometheus.Collector{s.values, s.step} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("prom output: register: %w", err)
		}
	}
	return s, nil
}

// Scalar sets the gauge for tag.
func (s *Sink) Scalar(tag string, value float64, step int) error {
	s.values.WithLabelValues(tag).Set(value)
	s.step.Set(float64(step))
	return nil
}

// Close is a no-op; the collectors stay registered so the final values can
// still be scraped.
func (s *Sink) Close() error { return nil }
