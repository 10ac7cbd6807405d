package chorus

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector gathers per-run stage timings and aggregates them into the
// summary placed in PipelineResult metadata under "metrics". One Collector
// is created per run when metrics are enabled.
type Collector struct {
	mu        sync.Mutex
	durations map[StageType][]float64 // milliseconds
}

// NewCollector creates an empty per-run metrics collector.
func NewCollector() *Collector {
	return &Collector{
		durations: make(map[StageType][]float64),
	}
}

// RecordDuration records one stage execution time.
func (c *Collector) RecordDuration(stage StageType, d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.durations[stage] = append(c.durations[stage], float64(d)/float64(time.Millisecond))
}

// Summary aggregates recorded durations into <stage>_avg_ms, <stage>_max_ms
// and <stage>_min_ms entries. Stages with no recordings are omitted.
func (c *Collector) Summary() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	summary := make(map[string]float64)
	for _, stage := range StageOrder {
		samples := c.durations[stage]
		if len(samples) == 0 {
			continue
		}

		sum, maxMs, minMs := 0.0, samples[0], samples[0]
		for _, ms := range samples {
			sum += ms
			if ms > maxMs {
				maxMs = ms
			}
			if ms < minMs {
				minMs = ms
			}
		}

		summary[fmt.Sprintf("%s_avg_ms", stage)] = sum / float64(len(samples))
		summary[fmt.Sprintf("%s_max_ms", stage)] = maxMs
		summary[fmt.Sprintf("%s_min_ms", stage)] = minMs
	}
	return summary
}

// MetricsRegistry holds process-wide Prometheus instruments for pipeline
// execution. Unlike Collector, which is per run, one registry aggregates
// across every run that records into it.
type MetricsRegistry struct {
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	StagesExecuted   *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	CacheLookups     *prometheus.CounterVec
}

// DefaultMetricsRegistry is the registry used by pipelines that were not
// given one explicitly.
var DefaultMetricsRegistry *MetricsRegistry

func init() {
	DefaultMetricsRegistry = NewMetricsRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsRegistry creates a metrics registry with the given Prometheus
// registerer.
func NewMetricsRegistry(reg prometheus.Registerer) *MetricsRegistry {
	factory := promauto.With(reg)

	return &MetricsRegistry{
		PipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chorus",
				Subsystem: "pipeline",
				Name:      "runs_total",
				Help:      "Total number of pipeline runs",
			},
			[]string{"status"},
		),

		PipelineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chorus",
				Subsystem: "pipeline",
				Name:      "duration_seconds",
				Help:      "Wall-clock duration of pipeline runs",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"status"},
		),

		StagesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chorus",
				Subsystem: "stage",
				Name:      "executions_total",
				Help:      "Total number of stage executions by terminal status",
			},
			[]string{"stage", "status"},
		),

		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chorus",
				Subsystem: "stage",
				Name:      "duration_seconds",
				Help:      "Wall-clock duration of stage executions",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),

		CacheLookups: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chorus",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Total number of stage cache lookups",
			},
			[]string{"stage", "result"},
		),
	}
}

// observeStage records one terminal stage result.
func (r *MetricsRegistry) observeStage(res StageResult) {
	r.StagesExecuted.WithLabelValues(string(res.StageType), string(res.Status)).Inc()
	if res.Status == StatusCompleted || res.Status == StatusFailed {
		r.StageDuration.WithLabelValues(string(res.StageType)).Observe(res.Duration.Seconds())
	}
}

// observeRun records one finished pipeline run.
func (r *MetricsRegistry) observeRun(result *PipelineResult) {
	status := "completed"
	for _, res := range result.Stages {
		if res.Status == StatusFailed {
			status = "partial_failure"
			break
		}
	}
	r.PipelineRuns.WithLabelValues(status).Inc()
	r.PipelineDuration.WithLabelValues(status).Observe(result.TotalDuration.Seconds())
}

// observeCacheLookup records a stage cache hit or miss.
func (r *MetricsRegistry) observeCacheLookup(stage StageType, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	r.CacheLookups.WithLabelValues(string(stage), result).Inc()
}
