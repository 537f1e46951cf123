// Package metrics exports unit-of-work commit activity to Prometheus.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/uow/internal/unitofwork"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "uow"

// Observer implements unitofwork.Observer with Prometheus collectors.
// It is safe to share between units of work.
type Observer struct {
	writes    *prometheus.CounterVec
	commits   *prometheus.CounterVec
	durations *prometheus.HistogramVec
	batch     prometheus.Histogram
}

var _ unitofwork.Observer = (*Observer)(nil)

// Option configures an Observer.
type Option func(*config)

type config struct {
	namespace string
	buckets   []float64
}

// WithNamespace sets the metric name prefix. Default: "uow".
func WithNamespace(ns string) Option {
	return func(c *config) {
		c.namespace = ns
	}
}

// WithDurationBuckets sets the commit duration histogram buckets in seconds.
func WithDurationBuckets(b []float64) Option {
	return func(c *config) {
		c.buckets = b
	}
}

// New creates an Observer and registers its collectors with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, opts ...Option) (*Observer, error) {
	cfg := config{namespace: DefaultNamespace, buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&cfg)
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	o := &Observer{
		writes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "writes_total",
			Help:      "Writes applied to the store during commit, by operation and entity type.",
		}, []string{"op", "type"}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: cfg.namespace,
			Name:      "commits_total",
			Help:      "Finished commits by result and error code.",
		}, []string{"result", "code"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "commit_duration_seconds",
			Help:      "Commit latency by result.",
			Buckets:   cfg.buckets,
		}, []string{"result"}),
		batch: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: cfg.namespace,
			Name:      "commit_batch_size",
			Help:      "Pending writes at the start of each commit.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
	}
	for _, c := range []prometheus.Collector{o.writes, o.commits, o.durations, o.batch} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return o, nil
}

// WriteApplied implements unitofwork.Observer.
func (o *Observer) WriteApplied(op unitofwork.Op, typeName string) {
	o.writes.WithLabelValues(string(op), typeName).Inc()
}

// CommitFinished implements unitofwork.Observer.
func (o *Observer) CommitFinished(elapsed time.Duration, pending unitofwork.Stats, err error) {
	result := "success"
	code := ""
	if err != nil {
		result = "error"
		code = string(unitofwork.CodeOf(err))
		if code == "" {
			code = "UNKNOWN"
		}
	}
	o.commits.WithLabelValues(result, code).Inc()
	o.durations.WithLabelValues(result).Observe(elapsed.Seconds())
	o.batch.Observe(float64(total(pending)))
}

func total(s unitofwork.Stats) int {
	return s.Inserts + s.Updates + s.Deletes + s.CollectionUpdates + s.CollectionDeletions
}
