package chorus

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"strconv"
	"time"

	"github.com/zoobzio/capitan"
	"github.com/zoobzio/pipz"
)

// Stage is one unit of the reasoning pipeline. Stages are constructed once
// per pipeline and invoked once per run through a stageRunner, which owns
// skipping, caching, retry, timeout, and result bookkeeping; run only
// produces the stage's text output.
type Stage interface {
	// Type identifies the stage. Doubles as its shared-data key.
	Type() StageType

	// Enabled reports whether configuration enabled this stage.
	Enabled() bool

	// run executes the stage against the run's shared context and returns
	// its text output. Implementations read previous outputs through sc but
	// never write shared data; the runner records the output.
	run(ctx context.Context, sc *StageContext) (string, error)
}

// cacheableStages marks stages whose output is a pure function of the
// request. Later stages depend on accumulated shared data, so memoizing them
// by request alone would serve stale results.
var cacheableStages = map[StageType]bool{
	StagePreprocessing:    true,
	StageWorkingAwareness: true,
}

// cacheKey derives the deterministic cache key for a stage invocation.
// Namespaced by stage type so two stages never collide on the same request.
// Every request field that shapes cacheable-stage output feeds the hash,
// length-prefixed so no two field sequences produce the same byte stream.
func cacheKey(st StageType, req *PipelineRequest) string {
	h := sha256.New()
	writeKeyField(h, req.Prompt)
	writeKeyField(h, req.Context)
	writeKeyField(h, strconv.Itoa(len(req.Constraints)))
	for _, constraint := range req.Constraints {
		writeKeyField(h, constraint)
	}
	writeKeyField(h, strconv.Itoa(req.MaxTokens))
	writeKeyField(h, strconv.FormatFloat(float64(req.Temperature), 'g', -1, 32))
	return fmt.Sprintf("%s:%s", st, hex.EncodeToString(h.Sum(nil)))
}

func writeKeyField(h hash.Hash, field string) {
	var length [8]byte
	binary.BigEndian.PutUint64(length[:], uint64(len(field)))
	h.Write(length[:])
	h.Write([]byte(field))
}

// stageRunner wraps a Stage with the policies that apply uniformly to every
// stage: cache consultation, retry, timeout, panic containment, and event
// emission. Failures are localized into the returned StageResult; execute
// never returns an error.
type stageRunner struct {
	stage   Stage
	proc    pipz.Chainable[*StageContext]
	cache   Cache
	ttl     time.Duration
	metrics *MetricsRegistry
}

func newStageRunner(stage Stage, cfg *PipelineConfig, cache Cache, metrics *MetricsRegistry) *stageRunner {
	name := string(stage.Type())

	var proc pipz.Chainable[*StageContext] = pipz.Apply(pipz.NewIdentity(name, ""), func(ctx context.Context, sc *StageContext) (*StageContext, error) {
		output, err := stage.run(ctx, sc)
		if err != nil {
			return sc, err
		}
		sc.setShared(stage.Type(), output)
		return sc, nil
	})

	if cfg.MaxRetries > 0 {
		// MaxRetries counts retries; pipz counts attempts.
		proc = pipz.NewRetry(pipz.NewIdentity(name+"-retry", ""), proc, cfg.MaxRetries+1)
	}
	if cfg.TimeoutSeconds > 0 {
		timeout := time.Duration(cfg.TimeoutSeconds * float64(time.Second))
		proc = pipz.NewTimeout(pipz.NewIdentity(name+"-timeout", ""), proc, timeout)
	}

	return &stageRunner{
		stage:   stage,
		proc:    proc,
		cache:   cache,
		ttl:     time.Duration(cfg.CacheTTLSeconds) * time.Second,
		metrics: metrics,
	}
}

// execute runs the stage once and returns its terminal result. The shared
// context is updated with the stage's output on completion.
func (r *stageRunner) execute(ctx context.Context, sc *StageContext) StageResult {
	st := r.stage.Type()

	if !r.stage.Enabled() {
		capitan.Emit(ctx, StageSkipped, FieldStage.Field(string(st)))
		return StageResult{StageType: st, Status: StatusSkipped}
	}

	// A run cancelled between stages fails the remaining enabled stages
	// without invoking their collaborators.
	if err := ctx.Err(); err != nil {
		return r.failed(ctx, st, 0, err)
	}

	capitan.Emit(ctx, StageStarted, FieldStage.Field(string(st)))
	start := time.Now()

	cacheable := r.cache != nil && sc.CacheEnabled() && cacheableStages[st]
	key := ""
	if cacheable {
		key = cacheKey(st, sc.Request())
		if value, ok := r.lookup(ctx, key); ok {
			sc.setShared(st, value)
			sc.recordCacheHit()
			r.observeCache(st, true)
			capitan.Emit(ctx, CacheHit,
				FieldStage.Field(string(st)),
				FieldCacheKey.Field(key),
			)
			return StageResult{
				StageType: st,
				Status:    StatusCompleted,
				Output:    value,
				Duration:  time.Since(start),
				Metadata:  map[string]string{"cache": "hit"},
			}
		}
		r.observeCache(st, false)
		capitan.Emit(ctx, CacheMiss,
			FieldStage.Field(string(st)),
			FieldCacheKey.Field(key),
		)
	}

	output, err := r.run(ctx, sc)
	duration := time.Since(start)

	if err != nil {
		return r.failed(ctx, st, duration, err)
	}

	if cacheable {
		// A failed write just means the next run recomputes.
		if cerr := r.cache.Set(ctx, key, output, r.ttl); cerr != nil {
			capitan.Error(ctx, CacheStoreFailed,
				FieldStage.Field(string(st)),
				FieldCacheKey.Field(key),
				FieldError.Field(cerr),
			)
		}
	}

	capitan.Emit(ctx, StageCompleted,
		FieldStage.Field(string(st)),
		FieldStatus.Field(string(StatusCompleted)),
		FieldOutputSize.Field(len(output)),
		FieldDuration.Field(duration),
	)

	return StageResult{
		StageType: st,
		Status:    StatusCompleted,
		Output:    output,
		Duration:  duration,
	}
}

// run invokes the wrapped processor, containing panics as errors.
func (r *stageRunner) run(ctx context.Context, sc *StageContext) (output string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("stage %s panicked: %v", r.stage.Type(), p)
		}
	}()

	out, err := r.proc.Process(ctx, sc)
	if err != nil {
		return "", err
	}

	output, _ = out.Shared(r.stage.Type())
	return output, nil
}

func (r *stageRunner) failed(ctx context.Context, st StageType, duration time.Duration, err error) StageResult {
	kind := "collaborator"
	if IsCancellation(err) {
		kind = "cancellation"
	}

	capitan.Error(ctx, StageFailed,
		FieldStage.Field(string(st)),
		FieldStatus.Field(string(StatusFailed)),
		FieldDuration.Field(duration),
		FieldError.Field(err),
	)

	return StageResult{
		StageType: st,
		Status:    StatusFailed,
		Duration:  duration,
		Error:     err.Error(),
		Metadata:  map[string]string{"error_kind": kind},
	}
}

func (r *stageRunner) lookup(ctx context.Context, key string) (string, bool) {
	value, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		// Storage faults degrade to a miss.
		return "", false
	}
	return value, ok
}

func (r *stageRunner) observeCache(st StageType, hit bool) {
	if r.metrics != nil {
		r.metrics.observeCacheLookup(st, hit)
	}
}
