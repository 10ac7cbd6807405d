// Package chorus provides a staged LLM reasoning pipeline for Go.
//
// chorus processes a request through an ordered sequence of reasoning
// stages, each producing a typed result that downstream stages can read:
//
//  1. Preprocessing - validates and normalizes the input via the agent
//  2. Working Awareness - generates multiple reasoning perspectives,
//     optionally in parallel
//  3. Compaction - consolidates accumulated outputs via a compactor
//  4. Reranking - scores and prioritizes candidate outputs via a reranker
//  5. Final Response - synthesizes everything into a coherent answer
//
// # Pipeline
//
// Use [NewReasoningPipeline] to build a pipeline from an [Agent] and a
// [PipelineConfig], then run requests through it:
//
//	pipeline, err := chorus.NewReasoningPipeline(agent, nil,
//	    chorus.WithCompactor(compactor),
//	    chorus.WithReranker(reranker),
//	)
//	result, err := pipeline.ProcessPrompt(ctx, "Explain recursion")
//	fmt.Println(result.FinalResponse)
//
// Every run returns a [PipelineResult] containing exactly one [StageResult]
// per configured stage, in pipeline-definition order, regardless of enable
// flags or how sub-units were scheduled. A failed stage never aborts the run;
// callers inspect StageResult.Status to detect partial failure.
//
// # Collaborators
//
// The pipeline depends on three external capabilities it does not implement:
//
//   - [Agent] - reasoning: prompt in, text out
//   - [Compactor] - compress accumulated context (optional; absent means
//     pass-through)
//   - [Reranker] - score and order candidate outputs (optional)
//
// zyn-backed implementations are provided ([NewZynAgent], [NewZynCompactor],
// [NewZynReranker]); any implementation of the interfaces works. Agent
// resolution follows the hierarchy: explicit > context ([WithAgent]) >
// global ([SetAgent]).
//
// # Caching
//
// Stages memoize expensive work through a [Cache] with per-entry TTL.
// Three implementations are provided: [MemoryCache] (in-process),
// [RedisCache] (shared across processes), and [SoyCache] (Postgres-backed,
// survives restarts).
//
// # Observability
//
// chorus emits capitan signals throughout execution (PipelineStarted,
// StageCompleted, CacheHit, ...) and records Prometheus metrics via
// [MetricsRegistry]. When tracing is enabled, each run carries a [Tracer]
// whose trace ID surfaces in PipelineResult metadata.
package chorus
