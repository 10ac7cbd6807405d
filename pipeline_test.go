package chorus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func testConfig() *PipelineConfig {
	cfg := DefaultConfig()
	cfg.CacheStrategy = CacheNone
	cfg.EnableMetrics = false
	return cfg
}

func TestProcessAllStagesComplete(t *testing.T) {
	p, agent, reranker, err := newTestPipeline(testConfig())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	result, err := p.Process(context.Background(), &PipelineRequest{
		Prompt:  "Why is the sky blue?",
		Context: "Explaining to a curious child",
	})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(result.Stages) != len(StageOrder) {
		t.Fatalf("expected %d stage results, got %d", len(StageOrder), len(result.Stages))
	}
	for i, res := range result.Stages {
		if res.StageType != StageOrder[i] {
			t.Errorf("stage %d: expected type %s, got %s", i, StageOrder[i], res.StageType)
		}
		if res.Status != StatusCompleted {
			t.Errorf("stage %s: expected completed, got %s (error: %s)", res.StageType, res.Status, res.Error)
		}
		if res.Output == "" {
			t.Errorf("stage %s: expected output", res.StageType)
		}
	}

	final := result.Stages[len(result.Stages)-1]
	if result.FinalResponse != final.Output {
		t.Errorf("expected final response from final stage, got %q", result.FinalResponse)
	}

	// Preprocessing, three perspectives, final response.
	if agent.callCount() != 5 {
		t.Errorf("expected 5 agent calls, got %d", agent.callCount())
	}
	if reranker.callCount() != 1 {
		t.Errorf("expected 1 reranker call, got %d", reranker.callCount())
	}
	if result.TotalDuration <= 0 {
		t.Error("expected positive total duration")
	}
	if result.Request == nil || result.Request.Prompt != "Why is the sky blue?" {
		t.Error("expected result to carry the originating request")
	}
}

func TestProcessEmptyPrompt(t *testing.T) {
	p, _, _, err := newTestPipeline(testConfig())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	if _, err := p.Process(context.Background(), &PipelineRequest{Prompt: "   "}); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt for blank prompt, got %v", err)
	}
	if _, err := p.Process(context.Background(), nil); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("expected ErrEmptyPrompt for nil request, got %v", err)
	}
}

func TestDisabledStagesSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.EnablePreprocessing = false
	cfg.EnableWorkingAwareness = false
	cfg.EnableCompaction = false
	cfg.EnableReranking = false
	cfg.EnableFinalResponse = false

	p, agent, reranker, err := newTestPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	result, err := p.Process(context.Background(), &PipelineRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if len(result.Stages) != len(StageOrder) {
		t.Fatalf("expected %d stage results, got %d", len(StageOrder), len(result.Stages))
	}
	for _, res := range result.Stages {
		if res.Status != StatusSkipped {
			t.Errorf("stage %s: expected skipped, got %s", res.StageType, res.Status)
		}
		if res.Output != "" {
			t.Errorf("stage %s: skipped stage must not produce output", res.StageType)
		}
		if res.Duration != 0 {
			t.Errorf("stage %s: skipped stage must report zero duration", res.StageType)
		}
	}

	if result.FinalResponse != "hello" {
		t.Errorf("expected raw prompt passthrough, got %q", result.FinalResponse)
	}
	if agent.callCount() != 0 {
		t.Errorf("skipped stages must not call the agent, got %d calls", agent.callCount())
	}
	if reranker.callCount() != 0 {
		t.Errorf("skipped stages must not call the reranker, got %d calls", reranker.callCount())
	}
}

func TestPreprocessingOnlyPassthrough(t *testing.T) {
	cfg := testConfig()
	cfg.EnableWorkingAwareness = false
	cfg.EnableCompaction = false
	cfg.EnableReranking = false
	cfg.EnableFinalResponse = false

	p, agent, _, err := newTestPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	result, err := p.Process(context.Background(), &PipelineRequest{Prompt: "task"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	if agent.callCount() != 1 {
		t.Fatalf("expected 1 agent call, got %d", agent.callCount())
	}
	pre := result.Stages[0]
	if pre.Status != StatusCompleted {
		t.Fatalf("expected preprocessing completed, got %s", pre.Status)
	}
	if result.FinalResponse != pre.Output {
		t.Errorf("expected final response from last completed stage, got %q", result.FinalResponse)
	}
}

func TestStageFailureDoesNotStopRun(t *testing.T) {
	p, agent, _, err := newTestPipeline(testConfig())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	agent.err = fmt.Errorf("provider unavailable")

	result, err := p.Process(context.Background(), &PipelineRequest{Prompt: "task"})
	if err != nil {
		t.Fatalf("stage failures must not fail the run: %v", err)
	}
	if len(result.Stages) != len(StageOrder) {
		t.Fatalf("expected %d stage results, got %d", len(StageOrder), len(result.Stages))
	}

	want := map[StageType]StageStatus{
		StagePreprocessing:    StatusFailed,
		StageWorkingAwareness: StatusFailed,
		StageCompaction:       StatusCompleted, // placeholder output, no agent involved
		StageReranking:        StatusCompleted, // falls back to the prompt as sole candidate
		StageFinalResponse:    StatusFailed,
	}
	for _, res := range result.Stages {
		if res.Status != want[res.StageType] {
			t.Errorf("stage %s: expected %s, got %s (error: %s)", res.StageType, want[res.StageType], res.Status, res.Error)
		}
		if res.Status == StatusFailed {
			if res.Error == "" {
				t.Errorf("stage %s: failed stage must carry an error message", res.StageType)
			}
			if res.Metadata["error_kind"] != "collaborator" {
				t.Errorf("stage %s: expected collaborator error kind, got %q", res.StageType, res.Metadata["error_kind"])
			}
		}
	}

	// Reranking completed last, so its output is the final response.
	if result.FinalResponse != "task" {
		t.Errorf("expected prompt fallback via reranking, got %q", result.FinalResponse)
	}
}

func TestSequentialRunsWithoutCacheRecompute(t *testing.T) {
	p, agent, _, err := newTestPipeline(testConfig())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	req := &PipelineRequest{Prompt: "repeatable task"}

	first, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	second, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if first.CacheHits != 0 || second.CacheHits != 0 {
		t.Errorf("expected zero cache hits without a cache, got %d and %d", first.CacheHits, second.CacheHits)
	}
	if agent.callCount() != 10 {
		t.Errorf("expected both runs to recompute (10 agent calls), got %d", agent.callCount())
	}
	if first.FinalResponse != second.FinalResponse {
		t.Errorf("identical requests must produce identical responses: %q vs %q", first.FinalResponse, second.FinalResponse)
	}
}

func TestCacheServesRepeatRequests(t *testing.T) {
	cfg := testConfig()
	cfg.CacheStrategy = CacheMemory

	p, agent, _, err := newTestPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	req := &PipelineRequest{Prompt: "cached task", Context: "shared context"}

	first, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if first.CacheHits != 0 {
		t.Errorf("first run must miss, got %d hits", first.CacheHits)
	}
	callsAfterFirst := agent.callCount()

	second, err := p.Process(context.Background(), req)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	// Preprocessing and working awareness are memoized.
	if second.CacheHits != 2 {
		t.Errorf("expected 2 cache hits on repeat, got %d", second.CacheHits)
	}
	// Only the final-response stage needs the agent again.
	if got := agent.callCount() - callsAfterFirst; got != 1 {
		t.Errorf("expected 1 agent call on cached run, got %d", got)
	}
	for _, res := range second.Stages {
		if res.Status != StatusCompleted {
			t.Errorf("stage %s: expected completed on cached run, got %s", res.StageType, res.Status)
		}
	}
}

func TestCacheDistinguishesConstraints(t *testing.T) {
	cfg := testConfig()
	cfg.CacheStrategy = CacheMemory

	p, agent, _, err := newTestPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	first, err := p.Process(context.Background(), &PipelineRequest{
		Prompt:      "translate the document",
		Constraints: []string{"answer in French"},
	})
	if err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	callsAfterFirst := agent.callCount()

	second, err := p.Process(context.Background(), &PipelineRequest{
		Prompt:      "translate the document",
		Constraints: []string{"answer as a haiku"},
	})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if second.CacheHits != 0 {
		t.Errorf("requests with different constraints must not share cache entries, got %d hits", second.CacheHits)
	}
	if got := agent.callCount() - callsAfterFirst; got != 5 {
		t.Errorf("expected full recomputation for changed constraints, got %d agent calls", got)
	}

	// The mock agent echoes its prompt, so constraint text surfaces in the
	// preprocessing output.
	if !strings.Contains(second.Stages[0].Output, "answer as a haiku") {
		t.Errorf("expected second run's own constraints in output, got %q", second.Stages[0].Output)
	}
	if strings.Contains(second.Stages[0].Output, "answer in French") {
		t.Errorf("second run served output generated for the first run's constraints: %q", second.Stages[0].Output)
	}
	if !strings.Contains(first.Stages[0].Output, "answer in French") {
		t.Errorf("expected first run's constraints in its output, got %q", first.Stages[0].Output)
	}
}

func TestCacheDisabledPerStrategy(t *testing.T) {
	cfg := testConfig()
	cfg.CacheStrategy = CacheNone

	p, _, _, err := newTestPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	if p.cache != nil {
		t.Error("expected no cache backend for the none strategy")
	}
}

func TestMetadataCarriesMetricsAndTrace(t *testing.T) {
	cfg := testConfig()
	cfg.EnableMetrics = true
	cfg.EnableTracing = true

	agent := newMockAgent()
	p, err := NewReasoningPipeline(agent, cfg,
		WithReranker(&mockReranker{}),
		WithMetricsRegistry(NewMetricsRegistry(prometheus.NewRegistry())),
	)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	result, err := p.Process(context.Background(), &PipelineRequest{Prompt: "observed task"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	summary, ok := result.Metadata["metrics"].(map[string]float64)
	if !ok {
		t.Fatalf("expected metrics summary in metadata, got %T", result.Metadata["metrics"])
	}
	for _, key := range []string{"preprocessing_avg_ms", "preprocessing_max_ms", "preprocessing_min_ms"} {
		if _, ok := summary[key]; !ok {
			t.Errorf("expected summary key %s", key)
		}
	}

	traceIDValue, ok := result.Metadata["trace_id"].(string)
	if !ok || traceIDValue == "" {
		t.Errorf("expected non-empty trace_id in metadata, got %v", result.Metadata["trace_id"])
	}
	spans, ok := result.Metadata["spans"].([]*Span)
	if !ok || len(spans) != len(StageOrder)+1 {
		t.Errorf("expected root span plus one span per stage, got %v", result.Metadata["spans"])
	}
}

func TestConstructionValidation(t *testing.T) {
	agent := newMockAgent()

	t.Run("reranking without reranker", func(t *testing.T) {
		cfg := testConfig()
		var cfgErr *ConfigError
		if _, err := NewReasoningPipeline(agent, cfg); !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})

	t.Run("persistent cache without backend", func(t *testing.T) {
		cfg := testConfig()
		cfg.EnableReranking = false
		cfg.CacheStrategy = CachePersistent
		var cfgErr *ConfigError
		if _, err := NewReasoningPipeline(agent, cfg); !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})

	t.Run("redis cache with injected backend", func(t *testing.T) {
		cfg := testConfig()
		cfg.EnableReranking = false
		cfg.CacheStrategy = CacheMemory
		if _, err := NewReasoningPipeline(agent, cfg, WithCache(NewMemoryCache())); err != nil {
			t.Fatalf("expected injected cache to satisfy strategy, got %v", err)
		}
	})

	t.Run("invalid perspectives", func(t *testing.T) {
		cfg := testConfig()
		cfg.NumPerspectives = 0
		var cfgErr *ConfigError
		if _, err := NewReasoningPipeline(agent, cfg); !errors.As(err, &cfgErr) {
			t.Fatalf("expected ConfigError, got %v", err)
		}
	})
}

func TestAgentResolutionFromContext(t *testing.T) {
	cfg := testConfig()
	cfg.EnableReranking = false

	p, err := NewReasoningPipeline(nil, cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	if _, err := p.Process(context.Background(), &PipelineRequest{Prompt: "task"}); !errors.Is(err, ErrNoAgent) {
		t.Fatalf("expected ErrNoAgent without any agent, got %v", err)
	}

	agent := newMockAgent()
	ctx := WithAgent(context.Background(), agent)
	result, err := p.Process(ctx, &PipelineRequest{Prompt: "task"})
	if err != nil {
		t.Fatalf("process with context agent failed: %v", err)
	}
	if agent.callCount() == 0 {
		t.Error("expected context agent to be invoked")
	}
	if result.FinalResponse == "" {
		t.Error("expected a final response")
	}
}

func TestCancelledContextFailsStages(t *testing.T) {
	p, agent, _, err := newTestPipeline(testConfig())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Process(ctx, &PipelineRequest{Prompt: "task"})
	if err != nil {
		t.Fatalf("cancellation is localized into stage results, got run error: %v", err)
	}

	for _, res := range result.Stages {
		if res.Status != StatusFailed {
			t.Errorf("stage %s: expected failed under cancelled context, got %s", res.StageType, res.Status)
			continue
		}
		if res.Metadata["error_kind"] != "cancellation" {
			t.Errorf("stage %s: expected cancellation error kind, got %q", res.StageType, res.Metadata["error_kind"])
		}
	}
	if agent.callCount() != 0 {
		t.Errorf("cancelled run must not invoke collaborators, got %d calls", agent.callCount())
	}
	if result.FinalResponse != "task" {
		t.Errorf("expected raw prompt fallback, got %q", result.FinalResponse)
	}
}

func TestStageTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.TimeoutSeconds = 0.05

	p, agent, _, err := newTestPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}
	agent.delay = 200 * time.Millisecond

	result, err := p.Process(context.Background(), &PipelineRequest{Prompt: "slow task"})
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}

	pre := result.Stages[0]
	if pre.Status != StatusFailed {
		t.Fatalf("expected preprocessing to time out, got %s", pre.Status)
	}
	if pre.Error == "" {
		t.Error("expected timeout error message")
	}
}

func TestConcurrentRuns(t *testing.T) {
	cfg := testConfig()
	cfg.CacheStrategy = CacheMemory

	p, _, _, err := newTestPipeline(cfg)
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	const runs = 8
	var wg sync.WaitGroup
	results := make([]*PipelineResult, runs)
	errs := make([]error, runs)

	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = p.Process(context.Background(), &PipelineRequest{
				Prompt: fmt.Sprintf("task %d", i),
			})
		}(i)
	}
	wg.Wait()

	for i := 0; i < runs; i++ {
		if errs[i] != nil {
			t.Errorf("run %d failed: %v", i, errs[i])
			continue
		}
		if len(results[i].Stages) != len(StageOrder) {
			t.Errorf("run %d: expected %d stage results, got %d", i, len(StageOrder), len(results[i].Stages))
		}
		if !strings.Contains(results[i].FinalResponse, "task") {
			t.Errorf("run %d: unexpected final response %q", i, results[i].FinalResponse)
		}
	}
}

func TestProcessPrompt(t *testing.T) {
	p, _, _, err := newTestPipeline(testConfig())
	if err != nil {
		t.Fatalf("failed to create pipeline: %v", err)
	}

	result, err := p.ProcessPrompt(context.Background(), "quick question")
	if err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if result.Request.Prompt != "quick question" {
		t.Errorf("expected request passthrough, got %q", result.Request.Prompt)
	}
}
