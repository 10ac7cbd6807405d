package chorus

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/zoobzio/capitan"
)

// perspectiveFramings are the reasoning lenses cycled across perspectives.
// With more perspectives than framings, framings repeat in order.
var perspectiveFramings = []string{
	"Reason through this step by step with strict logical rigor. Identify premises, derive conclusions, and flag any gaps",
	"Approach this creatively. Explore unconventional angles, analogies, and alternative framings before settling on an answer",
	"Examine this critically. Challenge assumptions, look for weaknesses and counterexamples, and stress-test the obvious answer",
}

// WorkingAwarenessStage generates multiple independent reasoning
// perspectives on the task and combines them. This is the pipeline's
// fan-out point: with parallel execution enabled the perspectives run
// concurrently, joining before the stage returns.
type WorkingAwarenessStage struct {
	agent        Agent
	perspectives int
	parallel     bool
	enabled      bool
}

// NewWorkingAwarenessStage creates the working-awareness stage with the
// given perspective count.
func NewWorkingAwarenessStage(agent Agent, perspectives int, parallel, enabled bool) *WorkingAwarenessStage {
	return &WorkingAwarenessStage{
		agent:        agent,
		perspectives: perspectives,
		parallel:     parallel,
		enabled:      enabled,
	}
}

// Type implements Stage.
func (s *WorkingAwarenessStage) Type() StageType {
	return StageWorkingAwareness
}

// Enabled implements Stage.
func (s *WorkingAwarenessStage) Enabled() bool {
	return s.enabled
}

func (s *WorkingAwarenessStage) run(ctx context.Context, sc *StageContext) (string, error) {
	req := sc.Request()

	// Work from the refined prompt when preprocessing produced one.
	task := req.Prompt
	if refined, ok := sc.Shared(StagePreprocessing); ok && refined != "" {
		task = refined
	}

	outputs := make([]string, s.perspectives)
	errs := make([]error, s.perspectives)

	if s.parallel {
		var wg sync.WaitGroup
		for i := 0; i < s.perspectives; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				outputs[i], errs[i] = s.perspective(ctx, req, task, i)
			}(i)
		}
		wg.Wait()
	} else {
		for i := 0; i < s.perspectives; i++ {
			outputs[i], errs[i] = s.perspective(ctx, req, task, i)
		}
	}

	// Failed perspectives are dropped; the stage fails only when none
	// succeeded.
	var b strings.Builder
	b.WriteString("Multiple reasoning perspectives:\n")
	completed := 0
	for i, output := range outputs {
		if errs[i] != nil {
			continue
		}
		completed++
		fmt.Fprintf(&b, "\nPerspective %d:\n%s\n", i+1, output)
	}

	if completed == 0 {
		return "", &CollaboratorError{
			Stage: StageWorkingAwareness,
			Err:   fmt.Errorf("all %d perspectives failed: %w", s.perspectives, errs[0]),
		}
	}

	return b.String(), nil
}

// perspective runs one reasoning perspective. Results land in caller-indexed
// slots, so output order follows perspective index regardless of completion
// order.
func (s *WorkingAwarenessStage) perspective(ctx context.Context, req *PipelineRequest, task string, index int) (string, error) {
	capitan.Emit(ctx, PerspectiveStarted, FieldPerspective.Field(index))

	framing := perspectiveFramings[index%len(perspectiveFramings)]
	prompt := fmt.Sprintf("%s.\n\nTask:\n%s", framing, task)

	response, err := s.agent.Execute(ctx, AgentPayload{
		Prompt:      prompt,
		Context:     req.Context,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		capitan.Error(ctx, PerspectiveCompleted,
			FieldPerspective.Field(index),
			FieldError.Field(err),
		)
		return "", err
	}

	capitan.Emit(ctx, PerspectiveCompleted,
		FieldPerspective.Field(index),
		FieldOutputSize.Field(len(response.Text)),
	)
	return response.Text, nil
}
