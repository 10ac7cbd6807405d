package chorus

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/zoobzio/capitan"
)

// Option configures optional pipeline collaborators and backends.
type Option func(*ReasoningPipeline)

// WithCompactor provides the compactor used by the compaction stage.
// Without one, compaction passes its inputs through joined.
func WithCompactor(c Compactor) Option {
	return func(p *ReasoningPipeline) { p.compactor = c }
}

// WithReranker provides the reranker used by the reranking stage. Required
// when the configuration enables reranking.
func WithReranker(r Reranker) Option {
	return func(p *ReasoningPipeline) { p.reranker = r }
}

// WithCache provides the cache backend. Required for the persistent and
// redis strategies; for the memory strategy it replaces the default
// MemoryCache.
func WithCache(c Cache) Option {
	return func(p *ReasoningPipeline) { p.cache = c }
}

// WithMetricsRegistry directs Prometheus instrumentation to the given
// registry instead of DefaultMetricsRegistry.
func WithMetricsRegistry(m *MetricsRegistry) Option {
	return func(p *ReasoningPipeline) { p.metrics = m }
}

// ReasoningPipeline orchestrates the five-stage reasoning flow:
// preprocessing, working awareness, compaction, reranking, final response.
// Stages always run in that order; configuration decides which run and
// which are skipped.
//
// A pipeline holds no per-run state, so one instance may serve concurrent
// Process calls.
type ReasoningPipeline struct {
	agent     Agent
	config    *PipelineConfig
	compactor Compactor
	reranker  Reranker
	cache     Cache
	metrics   *MetricsRegistry
}

// NewReasoningPipeline creates a pipeline with the given agent and
// configuration. A nil config means DefaultConfig. A nil agent defers
// resolution to Process, which falls back to the context agent and then the
// global agent.
//
// Construction fails with a ConfigError when the configuration is invalid
// or demands a collaborator that was not provided.
func NewReasoningPipeline(agent Agent, cfg *PipelineConfig, opts ...Option) (*ReasoningPipeline, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &ReasoningPipeline{
		agent:  agent,
		config: cfg,
	}
	for _, opt := range opts {
		opt(p)
	}

	if cfg.EnableReranking && p.reranker == nil {
		return nil, &ConfigError{
			Field:  "enable_reranking",
			Reason: "reranking enabled but no reranker provided; use WithReranker",
		}
	}

	switch cfg.CacheStrategy {
	case CacheNone, "":
		p.cache = nil
	case CacheMemory:
		if p.cache == nil {
			p.cache = NewMemoryCache()
		}
	case CachePersistent, CacheRedis:
		if p.cache == nil {
			return nil, &ConfigError{
				Field:  "cache_strategy",
				Reason: string(cfg.CacheStrategy) + " strategy requires a cache backend; use WithCache",
			}
		}
	}

	if p.metrics == nil {
		p.metrics = DefaultMetricsRegistry
	}

	return p, nil
}

// Config returns the pipeline's configuration.
func (p *ReasoningPipeline) Config() *PipelineConfig {
	return p.config
}

// Process runs the pipeline against a request. One stage failing does not
// stop the run: the failure is recorded in that stage's result and the
// remaining stages execute. The returned result always carries exactly one
// entry per stage, in pipeline order.
func (p *ReasoningPipeline) Process(ctx context.Context, req *PipelineRequest) (*PipelineResult, error) {
	if req == nil || strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	agent, err := ResolveAgent(ctx, p.agent)
	if err != nil {
		return nil, err
	}

	cfg := p.config

	var tracer *Tracer
	var rootSpan *Span
	if cfg.EnableTracing {
		tracer = NewTracer()
		rootSpan = tracer.StartSpan("pipeline", "")
	}

	var collector *Collector
	if cfg.EnableMetrics {
		collector = NewCollector()
	}

	var registry *MetricsRegistry
	if cfg.EnableMetrics {
		registry = p.metrics
	}

	sc := newStageContext(req, p.cache != nil && cfg.cacheEnabled())

	capitan.Emit(ctx, PipelineStarted,
		FieldTraceID.Field(traceID(tracer)),
		FieldPromptSize.Field(len(req.Prompt)),
	)

	start := time.Now()
	for _, stage := range p.stages(agent) {
		runner := newStageRunner(stage, cfg, p.cache, registry)

		var span *Span
		if tracer != nil {
			span = tracer.StartSpan("stage."+string(stage.Type()), rootSpan.SpanID)
		}

		res := runner.execute(ctx, sc)
		sc.appendResult(res)

		if tracer != nil {
			tracer.EndSpan(span, map[string]string{
				"stage":  string(res.StageType),
				"status": string(res.Status),
			})
		}
		if collector != nil && res.Status != StatusSkipped {
			collector.RecordDuration(res.StageType, res.Duration)
		}
		if registry != nil {
			registry.observeStage(res)
		}
	}
	total := time.Since(start)

	stages := sc.PreviousResults()
	result := &PipelineResult{
		FinalResponse: finalResponse(req, stages),
		Stages:        stages,
		TotalDuration: total,
		Request:       req,
		CacheHits:     sc.CacheHits(),
		Timestamp:     time.Now(),
		Metadata:      make(map[string]any),
	}

	if collector != nil {
		result.Metadata["metrics"] = collector.Summary()
	}
	if tracer != nil {
		tracer.EndSpan(rootSpan, map[string]string{"stages": strconv.Itoa(len(stages))})
		result.Metadata["trace_id"] = tracer.TraceID()
		result.Metadata["spans"] = tracer.Spans()
	}
	if registry != nil {
		registry.observeRun(result)
	}

	capitan.Emit(ctx, PipelineCompleted,
		FieldTraceID.Field(traceID(tracer)),
		FieldStageCount.Field(len(stages)),
		FieldCacheHits.Field(result.CacheHits),
		FieldDuration.Field(total),
	)

	return result, nil
}

// ProcessPrompt runs the pipeline for a bare prompt with no context or
// constraints.
func (p *ReasoningPipeline) ProcessPrompt(ctx context.Context, prompt string) (*PipelineResult, error) {
	return p.Process(ctx, &PipelineRequest{Prompt: prompt})
}

// stages builds the per-run stage set in execution order. Stages are cheap
// value objects; constructing them per run keeps the pipeline free of
// per-run state and lets the agent come from the run's context.
func (p *ReasoningPipeline) stages(agent Agent) []Stage {
	cfg := p.config
	return []Stage{
		NewPreprocessingStage(agent, cfg.EnablePreprocessing),
		NewWorkingAwarenessStage(agent, cfg.NumPerspectives, cfg.ParallelExecution, cfg.EnableWorkingAwareness),
		NewCompactionStage(p.compactor, cfg.EnableCompaction),
		NewRerankingStage(p.reranker, cfg.EnableReranking),
		NewFinalResponseStage(agent, cfg.EnableFinalResponse),
	}
}

// finalResponse selects the run's answer: the final-response stage's output
// when it completed, otherwise the output of the last completed stage,
// otherwise the raw prompt.
func finalResponse(req *PipelineRequest, stages []StageResult) string {
	for i := len(stages) - 1; i >= 0; i-- {
		if stages[i].Status == StatusCompleted {
			return stages[i].Output
		}
	}
	return req.Prompt
}

func traceID(t *Tracer) string {
	if t == nil {
		return ""
	}
	return t.TraceID()
}
