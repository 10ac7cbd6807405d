package chorus

import "github.com/zoobzio/capitan"

// Signal definitions for pipeline events.
// Signals follow the pattern: chorus.<entity>.<event>.
var (
	// Pipeline lifecycle signals.
	PipelineStarted = capitan.NewSignal(
		"chorus.pipeline.started",
		"Pipeline run began with request and trace ID",
	)
	PipelineCompleted = capitan.NewSignal(
		"chorus.pipeline.completed",
		"Pipeline run finished and assembled its result",
	)

	// Stage execution signals.
	StageStarted = capitan.NewSignal(
		"chorus.stage.started",
		"Pipeline stage began execution",
	)
	StageCompleted = capitan.NewSignal(
		"chorus.stage.completed",
		"Pipeline stage finished successfully",
	)
	StageFailed = capitan.NewSignal(
		"chorus.stage.failed",
		"Pipeline stage encountered an error",
	)
	StageSkipped = capitan.NewSignal(
		"chorus.stage.skipped",
		"Pipeline stage was disabled and skipped",
	)

	// Perspective fan-out signals.
	PerspectiveStarted = capitan.NewSignal(
		"chorus.perspective.started",
		"Working-awareness perspective dispatched",
	)
	PerspectiveCompleted = capitan.NewSignal(
		"chorus.perspective.completed",
		"Working-awareness perspective finished",
	)

	// Cache signals.
	CacheHit = capitan.NewSignal(
		"chorus.cache.hit",
		"Stage output served from cache",
	)
	CacheMiss = capitan.NewSignal(
		"chorus.cache.miss",
		"Stage output not found in cache",
	)
	CacheStoreFailed = capitan.NewSignal(
		"chorus.cache.store_failed",
		"Stage output could not be written to cache",
	)
)

// Field keys for chorus event data.
var (
	// Run metadata.
	FieldTraceID    = capitan.NewStringKey("trace_id")
	FieldPromptSize = capitan.NewIntKey("prompt_size")
	FieldStageCount = capitan.NewIntKey("stage_count")

	// Stage metadata.
	FieldStage       = capitan.NewStringKey("stage")
	FieldStatus      = capitan.NewStringKey("status")
	FieldOutputSize  = capitan.NewIntKey("output_size")
	FieldPerspective = capitan.NewIntKey("perspective")
	FieldCacheKey    = capitan.NewStringKey("cache_key")
	FieldCacheHits   = capitan.NewIntKey("cache_hits")

	// Timing.
	FieldDuration = capitan.NewDurationKey("duration")

	// Error information.
	FieldError = capitan.NewErrorKey("error")
)
