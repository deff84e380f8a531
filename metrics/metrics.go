// Package metrics instruments a dispatcher with Prometheus collectors via
// the dispatch hook options.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kessig/switchboard/contract"
	"github.com/kessig/switchboard/dispatch"
)

// Collector holds the dispatcher's Prometheus collectors.
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	failuresTotal    *prometheus.CounterVec
	notFoundTotal    prometheus.Counter
	validationTotal  *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	activeStreams    *prometheus.GaugeVec
	streamDuration   *prometheus.HistogramVec

	registerer prometheus.Registerer
}

func newCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "switchboard",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

func newHistogramVec(name, help string, buckets []float64, labels []string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "switchboard",
			Subsystem: "dispatch",
			Name:      name,
			Help:      help,
			Buckets:   buckets,
		},
		labels,
	)
}

// New creates a Collector. A nil registerer uses the default one.
func New(registerer prometheus.Registerer) *Collector {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &Collector{
		registerer: registerer,
		requestsTotal: newCounterVec("requests_total",
			"Total dispatched requests by endpoint and transport kind",
			[]string{"endpoint", "kind"}),
		failuresTotal: newCounterVec("failures_total",
			"Total handler failures by endpoint",
			[]string{"endpoint"}),
		notFoundTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "switchboard",
			Subsystem: "dispatch",
			Name:      "not_found_total",
			Help:      "Total requests that matched no endpoint",
		}),
		validationTotal: newCounterVec("validation_failures_total",
			"Total requests rejected by request validation",
			[]string{"endpoint", "field"}),
		requestDuration: newHistogramVec("request_duration_seconds",
			"Standard request handling duration",
			prometheus.DefBuckets,
			[]string{"endpoint"}),
		activeStreams: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "switchboard",
			Subsystem: "dispatch",
			Name:      "active_streams",
			Help:      "Currently open streaming connections by endpoint and transport kind",
		}, []string{"endpoint", "kind"}),
		streamDuration: newHistogramVec("stream_duration_seconds",
			"Streaming connection lifetime",
			[]float64{0.1, 1, 10, 60, 300, 1800, 3600},
			[]string{"endpoint", "kind"}),
	}
}

// Register registers the collectors. Safe to call more than once.
func (c *Collector) Register() error {
	collectors := []prometheus.Collector{
		c.requestsTotal,
		c.failuresTotal,
		c.notFoundTotal,
		c.validationTotal,
		c.requestDuration,
		c.activeStreams,
		c.streamDuration,
	}
	for _, col := range collectors {
		if err := c.registerer.Register(col); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}

// Options returns the dispatch options that wire this collector into a
// dispatcher's hooks.
func (c *Collector) Options() []dispatch.Option {
	return []dispatch.Option{
		dispatch.WithOnDispatch(func(ctx context.Context, endpoint string, kind contract.Kind) {
			c.requestsTotal.WithLabelValues(endpoint, kind.String()).Inc()
		}),
		dispatch.WithOnSuccess(func(ctx context.Context, endpoint string, status int, d time.Duration) {
			c.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
		}),
		dispatch.WithOnFailure(func(ctx context.Context, endpoint string, err error, d time.Duration) {
			c.failuresTotal.WithLabelValues(endpoint).Inc()
			c.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
		}),
		dispatch.WithOnNotFound(func(ctx context.Context, method, path string) {
			c.notFoundTotal.Inc()
		}),
		dispatch.WithOnValidationError(func(ctx context.Context, endpoint string, err *dispatch.RequestValidationError) {
			c.validationTotal.WithLabelValues(endpoint, err.Field).Inc()
		}),
		dispatch.WithOnStreamOpen(func(ctx context.Context, endpoint, connID string, kind contract.Kind) {
			c.activeStreams.WithLabelValues(endpoint, kind.String()).Inc()
		}),
		dispatch.WithOnStreamClose(func(ctx context.Context, endpoint, connID string, kind contract.Kind, d time.Duration) {
			c.activeStreams.WithLabelValues(endpoint, kind.String()).Dec()
			c.streamDuration.WithLabelValues(endpoint, kind.String()).Observe(d.Seconds())
		}),
	}
}
