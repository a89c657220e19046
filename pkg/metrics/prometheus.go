// Package metrics exports query cache activity as Prometheus metrics.
package metrics

import (
	"github.com/illmade-knight/go-querycache/pkg/query"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ensure PrometheusRecorder implements query.Recorder at compile time
var _ query.Recorder = (*PrometheusRecorder)(nil)

const namespace = "querycache"

// PrometheusRecorder counts cache activity. Keys are not used as labels so
// the series count stays fixed however many keys the cache holds.
type PrometheusRecorder struct {
	Hits          prometheus.Counter
	Misses        prometheus.Counter
	Retries       prometheus.Counter
	Failures      prometheus.Counter
	Invalidations *prometheus.CounterVec
}

// NewPrometheusRecorder creates the counters and registers them on reg.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		Hits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hits_total",
			Help:      "Fetches served from a fresh cache entry",
		}),
		Misses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "misses_total",
			Help:      "Fetches that had to call the loader",
		}),
		Retries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Loader attempts that failed and were retried",
		}),
		Failures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Fetches whose final attempt failed",
		}),
		Invalidations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "invalidations_total",
			Help:      "Invalidation calls by scope",
		}, []string{"scope"}),
	}
}

func (r *PrometheusRecorder) Hit(string)     { r.Hits.Inc() }
func (r *PrometheusRecorder) Miss(string)    { r.Misses.Inc() }
func (r *PrometheusRecorder) Retry(string)   { r.Retries.Inc() }
func (r *PrometheusRecorder) Failure(string) { r.Failures.Inc() }

func (r *PrometheusRecorder) Invalidated(all bool) {
	scope := "key"
	if all {
		scope = "all"
	}
	r.Invalidations.WithLabelValues(scope).Inc()
}
