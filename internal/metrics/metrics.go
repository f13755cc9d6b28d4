// Package metrics times processing callbacks and counts job outcomes.
// A Reporter writes to a Sink under a per-worker namespace; the
// Prometheus sink exposes the values for scraping and for the Pushgateway.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metric names written by the Reporter.
const (
	EventSuccess = "success"
	EventFailure = "failure"
	TimerJobTime = "job_time"
)

// Sink receives counter increments and timings for a namespace.
type Sink interface {
	Incr(namespace, name string)
	Timing(namespace, name string, d time.Duration)
}

// PrometheusSink records Reporter output as Prometheus metrics.
type PrometheusSink struct {
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewPrometheusSink registers the sink's collectors on reg. The prefix is
// used as the metric namespace, so two sinks with the same prefix cannot
// share a registerer. Characters not allowed in metric names become "_".
func NewPrometheusSink(reg prometheus.Registerer, prefix string) *PrometheusSink {
	prefix = MetricNamespace(prefix)
	factory := promauto.With(reg)
	return &PrometheusSink{
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: prefix,
				Name:      "events_total",
				Help:      "Total number of job outcomes by worker namespace",
			},
			[]string{"namespace", "event"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: prefix,
				Name:      "duration_seconds",
				Help:      "Processing callback duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"namespace", "timer"},
		),
	}
}

// Incr increments the named event counter.
func (s *PrometheusSink) Incr(namespace, name string) {
	s.events.WithLabelValues(namespace, name).Inc()
}

// Timing observes d on the named timer.
func (s *PrometheusSink) Timing(namespace, name string, d time.Duration) {
	s.duration.WithLabelValues(namespace, name).Observe(d.Seconds())
}

// MetricNamespace turns prefix into a valid Prometheus metric name prefix.
func MetricNamespace(prefix string) string {
	out := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == ':':
			return r
		default:
			return '_'
		}
	}, prefix)
	if out != "" && out[0] >= '0' && out[0] <= '9' {
		out = "_" + out
	}
	return out
}
