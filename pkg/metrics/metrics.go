// Package metrics exposes prometheus collectors for the ingestion pipeline.
//
//	m := metrics.Default()
//	m.PagesFetched.WithLabelValues("data").Inc()
//	m.Records.WithLabelValues("loaded").Add(float64(n))
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "animehub"

// Pipeline groups every collector the pipeline records into.
type Pipeline struct {
	PagesFetched *prometheus.CounterVec // result: data, empty
	Retries      *prometheus.CounterVec // reason: rate_limit, transient
	Records      *prometheus.CounterVec // outcome: fetched, new, valid, loaded, duplicate, failed
	Runs         *prometheus.CounterVec // status: completed, failed
	RunDuration  prometheus.Histogram
	Stage        *prometheus.GaugeVec // stage: 1 for the active stage
	WaitSeconds  prometheus.Counter   // time spent blocked on the rate limiter
}

var (
	defaultOnce sync.Once
	defaultSet  *Pipeline
)

// Default returns collectors registered on the global prometheus registry.
func Default() *Pipeline {
	defaultOnce.Do(func() {
		defaultSet = New(prometheus.DefaultRegisterer)
	})
	return defaultSet
}

// New registers a fresh set of collectors on reg. Tests pass
// prometheus.NewRegistry() to stay isolated.
func New(reg prometheus.Registerer) *Pipeline {
	f := promauto.With(reg)
	return &Pipeline{
		PagesFetched: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "pages_total",
			Help:      "Source API pages fetched, by result.",
		}, []string{"result"}),
		Retries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "retries_total",
			Help:      "Page fetch retries, by reason.",
		}, []string{"reason"}),
		Records: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Records seen by each pipeline stage, by outcome.",
		}, []string{"outcome"}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Pipeline runs, by final status.",
		}, []string{"status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "run_duration_seconds",
			Help:      "Wall time of a whole pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
		}),
		Stage: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage",
			Help:      "1 for the stage the pipeline is currently in.",
		}, []string{"stage"}),
		WaitSeconds: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scraper",
			Name:      "throttle_wait_seconds_total",
			Help:      "Seconds spent waiting on the token bucket.",
		}),
	}
}

// SetStage marks stage as active and clears every other known stage.
func (p *Pipeline) SetStage(stage string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == stage {
			v = 1
		}
		p.Stage.WithLabelValues(s).Set(v)
	}
}
