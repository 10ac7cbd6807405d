package chorus

import (
	"sync"
	"time"
)

// StageType identifies a pipeline stage. It doubles as the shared-data key
// and the cache-key namespace for that stage.
type StageType string

// The five pipeline stages, in definition order.
const (
	StagePreprocessing    StageType = "preprocessing"
	StageWorkingAwareness StageType = "working_awareness"
	StageCompaction       StageType = "compaction"
	StageReranking        StageType = "reranking"
	StageFinalResponse    StageType = "final_response"
)

// StageOrder is the fixed execution order of the pipeline. Configuration
// enables or disables stages but never reorders them.
var StageOrder = []StageType{
	StagePreprocessing,
	StageWorkingAwareness,
	StageCompaction,
	StageReranking,
	StageFinalResponse,
}

// StageStatus is the execution status of a stage invocation.
// A stage moves pending -> running -> {completed | skipped | failed};
// the three terminal states are the only ones observable in a StageResult.
type StageStatus string

const (
	StatusPending   StageStatus = "pending"
	StatusRunning   StageStatus = "running"
	StatusCompleted StageStatus = "completed"
	StatusFailed    StageStatus = "failed"
	StatusSkipped   StageStatus = "skipped"
)

// PipelineRequest is the input to the reasoning pipeline.
// Treat it as immutable once constructed; the pipeline never modifies it.
type PipelineRequest struct {
	// Prompt is the main reasoning task or question. Required.
	Prompt string

	// Context is optional background context or conversation history.
	Context string

	// Constraints are optional requirements the response must satisfy.
	Constraints []string

	// Metadata carries caller-supplied tracking information.
	Metadata map[string]string

	// MaxTokens bounds generation when > 0.
	MaxTokens int

	// Temperature overrides the per-stage default when > 0.
	Temperature float32
}

// StageResult is the immutable record of one stage invocation.
type StageResult struct {
	// StageType identifies which stage produced this result.
	StageType StageType

	// Status is the terminal status of the invocation.
	Status StageStatus

	// Output is the stage's text output. Present iff Status is completed.
	Output string

	// Duration is the wall-clock time of this stage's execution only.
	// Zero for skipped stages.
	Duration time.Duration

	// Error is the failure message. Present iff Status is failed.
	Error string

	// Metadata carries stage-specific details, such as reranker confidence.
	Metadata map[string]string
}

// PipelineResult is the output of one pipeline run. Constructed once at the
// end of a successful or partially-failed run; immutable thereafter.
type PipelineResult struct {
	// FinalResponse is the synthesized answer. When the final-response stage
	// is disabled this is the output of the last completed stage, falling
	// back to the raw request prompt when nothing completed.
	FinalResponse string

	// Stages holds exactly one result per configured stage, in
	// pipeline-definition order regardless of completion order.
	Stages []StageResult

	// TotalDuration is the wall-clock span from the first stage's start to
	// the last stage's completion.
	TotalDuration time.Duration

	// Request is the originating request.
	Request *PipelineRequest

	// CacheHits counts stage executions served from cache during this run.
	CacheHits int

	// Timestamp is when the run completed.
	Timestamp time.Time

	// Metadata may include "metrics" (map[string]float64 summary) and
	// "trace_id" (string) depending on configuration.
	Metadata map[string]any
}

// StageContext is the shared context threaded through a single pipeline run.
// It owns the originating request, the ordered results of stages already
// executed, and a shared-data map keyed by stage type.
//
// One StageContext is created per run and is exclusively owned by that run.
// Previous results are append-only and appended by the orchestrator alone;
// stages read them but never modify them. Concurrent sub-units within a
// stage never touch shared data directly, so no two concurrent writers race
// on the same key.
type StageContext struct {
	request      *PipelineRequest
	cacheEnabled bool

	mu        sync.RWMutex
	previous  []StageResult
	shared    map[StageType]string
	cacheHits int
}

func newStageContext(req *PipelineRequest, cacheEnabled bool) *StageContext {
	return &StageContext{
		request:      req,
		cacheEnabled: cacheEnabled,
		previous:     make([]StageResult, 0, len(StageOrder)),
		shared:       make(map[StageType]string, len(StageOrder)),
	}
}

// Request returns the originating pipeline request.
func (sc *StageContext) Request() *PipelineRequest {
	return sc.request
}

// CacheEnabled reports whether stages may consult the cache during this run.
func (sc *StageContext) CacheEnabled() bool {
	return sc.cacheEnabled
}

// PreviousResults returns the results of stages already executed, in
// execution order.
func (sc *StageContext) PreviousResults() []StageResult {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	results := make([]StageResult, len(sc.previous))
	copy(results, sc.previous)
	return results
}

// Shared returns the output a stage wrote under its own type key.
func (sc *StageContext) Shared(st StageType) (string, bool) {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	out, ok := sc.shared[st]
	return out, ok
}

// SharedData returns a copy of the shared-data map.
func (sc *StageContext) SharedData() map[StageType]string {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	shared := make(map[StageType]string, len(sc.shared))
	for k, v := range sc.shared {
		shared[k] = v
	}
	return shared
}

// setShared records a stage's output under its own type key. Keys are unique
// per stage type, so a retried stage overwrites its own entry only.
func (sc *StageContext) setShared(st StageType, output string) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.shared[st] = output
}

// appendResult is called by the orchestrator after each stage invocation.
func (sc *StageContext) appendResult(res StageResult) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.previous = append(sc.previous, res)
}

func (sc *StageContext) recordCacheHit() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.cacheHits++
}

// CacheHits returns the number of stage executions served from cache so far.
func (sc *StageContext) CacheHits() int {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.cacheHits
}

// Clone creates an independent copy of the context for isolated processing.
// Required for pipz parallel connectors; modifications to the clone do not
// affect the original.
func (sc *StageContext) Clone() *StageContext {
	sc.mu.RLock()
	defer sc.mu.RUnlock()

	clone := &StageContext{
		request:      sc.request,
		cacheEnabled: sc.cacheEnabled,
		previous:     make([]StageResult, len(sc.previous)),
		shared:       make(map[StageType]string, len(sc.shared)),
		cacheHits:    sc.cacheHits,
	}
	copy(clone.previous, sc.previous)
	for k, v := range sc.shared {
		clone.shared[k] = v
	}
	return clone
}

// Compile-time check: *StageContext must implement pipz.Cloner[*StageContext].
var _ interface{ Clone() *StageContext } = (*StageContext)(nil)
