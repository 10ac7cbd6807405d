package chorus

import (
	"context"
	"strings"
)

// noCompactionInput is emitted when no upstream stage produced anything to
// compact, which keeps the stage completed rather than failed.
const noCompactionInput = "No reasoning outputs available for compaction"

// CompactionStage consolidates the accumulated reasoning outputs into a
// compact representation. The compactor is optional: without one, inputs
// pass through joined but otherwise untouched.
type CompactionStage struct {
	compactor Compactor
	enabled   bool
}

// NewCompactionStage creates the compaction stage. compactor may be nil.
func NewCompactionStage(compactor Compactor, enabled bool) *CompactionStage {
	return &CompactionStage{compactor: compactor, enabled: enabled}
}

// Type implements Stage.
func (s *CompactionStage) Type() StageType {
	return StageCompaction
}

// Enabled implements Stage.
func (s *CompactionStage) Enabled() bool {
	return s.enabled
}

func (s *CompactionStage) run(ctx context.Context, sc *StageContext) (string, error) {
	var inputs []string
	for _, st := range []StageType{StagePreprocessing, StageWorkingAwareness} {
		if output, ok := sc.Shared(st); ok && output != "" {
			inputs = append(inputs, output)
		}
	}

	switch {
	case len(inputs) == 0:
		return noCompactionInput, nil
	case len(inputs) == 1:
		return inputs[0], nil
	}

	if s.compactor == nil {
		return strings.Join(inputs, "\n\n"), nil
	}

	compacted, err := s.compactor.Compact(ctx, inputs)
	if err != nil {
		return "", &CollaboratorError{Stage: StageCompaction, Err: err}
	}
	return compacted, nil
}
