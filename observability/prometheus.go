package observability

import (
	"errors"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

// Ensure the Prometheus collectors satisfy the metric interfaces.
var (
	_ MetricFactory = (*PrometheusFactory)(nil)
	_ Counter       = prometheus.Counter(nil)
	_ Histogram     = prometheus.Histogram(nil)
)

// defaultBuckets spans single units up to large minor-unit totals.
var defaultBuckets = prometheus.ExponentialBuckets(1, 10, 10)

// PrometheusFactory is a MetricFactory that registers collectors with a
// Prometheus registerer. Dotted metric names become underscored.
type PrometheusFactory struct {
	reg     prometheus.Registerer
	buckets []float64
}

// PrometheusOption configures a PrometheusFactory.
type PrometheusOption func(*PrometheusFactory)

// WithBuckets overrides the histogram buckets.
func WithBuckets(buckets []float64) PrometheusOption {
	return func(f *PrometheusFactory) { f.buckets = buckets }
}

// NewPrometheusFactory creates a factory that registers with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusFactory(reg prometheus.Registerer, opts ...PrometheusOption) *PrometheusFactory {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := &PrometheusFactory{reg: reg, buckets: defaultBuckets}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Counter implements MetricFactory.
func (f *PrometheusFactory) Counter(name string) Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name: metricName(name),
		Help: name,
	})
	return register(f.reg, c)
}

// Histogram implements MetricFactory.
func (f *PrometheusFactory) Histogram(name string) Histogram {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    metricName(name),
		Help:    name,
		Buckets: f.buckets,
	})
	return register(f.reg, h)
}

// register adds c to reg, reusing the existing collector when one with the
// same descriptor is already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func metricName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}
