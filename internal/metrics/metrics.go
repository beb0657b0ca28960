// Package metrics exposes pipeline instrumentation via Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	RecordsTotal     *prometheus.CounterVec
	DeadLettersTotal *prometheus.CounterVec
	EmbedRetries     prometheus.Counter
	EmbedDuration    prometheus.Histogram
	PublishDuration  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connect",
			Name:      "records_total",
			Help:      "Records consumed from the source topic, by outcome.",
		}, []string{"outcome"}),
		DeadLettersTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "connect",
			Name:      "dead_letters_total",
			Help:      "Records redirected to the dead letter topic, by kind.",
		}, []string{"kind"}),
		EmbedRetries: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "connect",
			Name:      "embed_retries_total",
			Help:      "Transient embedding failures that were retried.",
		}),
		EmbedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "connect",
			Name:      "embed_duration_seconds",
			Help:      "Latency of embedding calls, successful attempts only.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		PublishDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "connect",
			Name:      "publish_duration_seconds",
			Help:      "Latency of destination topic publishes.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
	}
}
