package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rs/zerolog/log"
)

// Collector records fleet operation metrics on its own registry. A nil
// *Collector is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	operations    *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	units         *prometheus.CounterVec
	compensations *prometheus.CounterVec
}

// NewCollector creates a collector with every metric registered.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flotilla",
				Subsystem: "fleet",
				Name:      "operations_total",
				Help:      "Total number of fleet operations by result",
			},
			[]string{"op", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "flotilla",
				Subsystem: "fleet",
				Name:      "operation_duration_seconds",
				Help:      "Duration of fleet operations in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~7min
			},
			[]string{"op"},
		),
		units: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flotilla",
				Subsystem: "tracker",
				Name:      "units_total",
				Help:      "Asynchronous units joined by the completion tracker, by label and result",
			},
			[]string{"label", "result"},
		),
		compensations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "flotilla",
				Subsystem: "fleet",
				Name:      "compensations_total",
				Help:      "Destroy-on-error compensation attempts by result",
			},
			[]string{"result"},
		),
	}
	c.registry.MustRegister(c.operations, c.duration, c.units, c.compensations)
	return c
}

// Registry exposes the underlying registry, e.g. for promhttp.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// Operations exposes the operation counter for inspection.
func (c *Collector) Operations() *prometheus.CounterVec { return c.operations }

// Compensations exposes the compensation counter for inspection.
func (c *Collector) Compensations() *prometheus.CounterVec { return c.compensations }

// ObserveOperation records one public operation and how long it took.
func (c *Collector) ObserveOperation(op string, started time.Time, err error) {
	if c == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	c.operations.WithLabelValues(op, result).Inc()
	c.duration.WithLabelValues(op).Observe(time.Since(started).Seconds())
}

// ObserveUnits records the outcome of a batch joined under label.
func (c *Collector) ObserveUnits(label string, total, failed int) {
	if c == nil {
		return
	}
	c.units.WithLabelValues(label, "success").Add(float64(total - failed))
	c.units.WithLabelValues(label, "failed").Add(float64(failed))
}

// ObserveCompensation records one compensation decision: destroyed, skipped or failed.
func (c *Collector) ObserveCompensation(result string) {
	if c == nil {
		return
	}
	c.compensations.WithLabelValues(result).Inc()
}

// Push sends the current metrics to a Prometheus Pushgateway under job.
func (c *Collector) Push(ctx context.Context, url, job string) error {
	if c == nil || url == "" {
		return nil
	}
	if job == "" {
		job = "flotilla"
	}
	log.Debug().Str("endpoint", url).Str("job", job).Msg("Pushing fleet metrics")
	if err := push.New(url, job).Gatherer(c.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
