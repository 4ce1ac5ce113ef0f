package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Metrics records the outcome of an index build.
type Metrics interface {
	IncExtensions(action string)
	IncFailures(kind string)
	ObserveVerify(durationSeconds float64)
	SetIndexEntries(n int)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncExtensions(string)  {}
func (Noop) IncFailures(string)    {}
func (Noop) ObserveVerify(float64) {}
func (Noop) SetIndexEntries(int)   {}

// Prom implements Metrics backed by Prometheus collectors registered on the
// default registerer. Building a second Prom with the same namespace reuses
// the collectors already registered.
type Prom struct {
	extensions   *prometheus.CounterVec
	failures     *prometheus.CounterVec
	verify       prometheus.Histogram
	indexEntries prometheus.Gauge
}

func NewProm(namespace string) *Prom {
	return &Prom{
		extensions: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extensions_total",
			Help:      "Extensions reconciled by action",
		}, []string{"action"})),
		failures: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Extensions that failed verification by failure kind",
		}, []string{"kind"})),
		verify: register(prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Time spent verifying one package",
			Buckets:   prometheus.DefBuckets,
		})),
		indexEntries: register(prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_entries",
			Help:      "Entries in the written list.json",
		})),
	}
}

func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (p *Prom) IncExtensions(action string) {
	p.extensions.WithLabelValues(action).Inc()
}

func (p *Prom) IncFailures(kind string) {
	p.failures.WithLabelValues(kind).Inc()
}

func (p *Prom) ObserveVerify(durationSeconds float64) {
	p.verify.Observe(durationSeconds)
}

func (p *Prom) SetIndexEntries(n int) {
	p.indexEntries.Set(float64(n))
}

// WriteTextfile writes everything in the default gatherer to path in the
// node exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// Push sends everything in the default gatherer to a Pushgateway under job.
func Push(ctx context.Context, url, job string) error {
	if err := push.New(url, job).Gatherer(prometheus.DefaultGatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
