// Package metrics holds the Prometheus collectors shared by the runner and
// validator loops.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "affine"

// Metrics is a set of collectors bound to one registry.
type Metrics struct {
	Registry *prometheus.Registry

	QueryCount *prometheus.CounterVec
	Score      *prometheus.GaugeVec
	Rank       *prometheus.GaugeVec
	Weight     *prometheus.GaugeVec
	LastSet    prometheus.Gauge
	NResults   prometheus.Gauge
	MaxEnv     *prometheus.GaugeVec
	CacheBytes prometheus.Gauge
	Shards     *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		QueryCount: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qcount",
			Help:      "Inference queries issued per model.",
		}, []string{"model"}),
		Score: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "score",
			Help:      "Accuracy per uid and environment.",
		}, []string{"uid", "env"}),
		Rank: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rank",
			Help:      "Dense rank per uid and environment.",
		}, []string{"uid", "env"}),
		Weight: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "weight",
			Help:      "Weight assigned per uid.",
		}, []string{"uid"}),
		LastSet: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "lastset",
			Help:      "Unix time of the last successful weight submission.",
		}),
		NResults: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "nresults",
			Help:      "Results counted in the last weight computation.",
		}),
		MaxEnv: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "maxenv",
			Help:      "Best accuracy per environment.",
		}, []string{"env"}),
		CacheBytes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cache_bytes",
			Help:      "Bytes held by the local shard cache.",
		}),
		Shards: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "shards_total",
			Help:      "Shards read by the dataset streamer, by outcome.",
		}, []string{"outcome"}),
	}
}

// UID formats a uid label value.
func UID(uid int) string {
	return strconv.Itoa(uid)
}
