package chorus

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

var perspectiveHeader = regexp.MustCompile(`(?m)^Perspective \d+:$`)

// RerankingStage scores candidate reasoning outputs against the original
// request and selects the best one. Requires a Reranker; a pipeline cannot
// enable this stage without providing one.
type RerankingStage struct {
	reranker Reranker
	enabled  bool
}

// NewRerankingStage creates the reranking stage.
func NewRerankingStage(reranker Reranker, enabled bool) *RerankingStage {
	return &RerankingStage{reranker: reranker, enabled: enabled}
}

// Type implements Stage.
func (s *RerankingStage) Type() StageType {
	return StageReranking
}

// Enabled implements Stage.
func (s *RerankingStage) Enabled() bool {
	return s.enabled
}

func (s *RerankingStage) run(ctx context.Context, sc *StageContext) (string, error) {
	candidates := extractCandidates(sc)
	if len(candidates) == 0 {
		// Nothing upstream to choose between; fall back to the raw prompt
		// as the single candidate so the stage still completes.
		candidates = []string{sc.Request().Prompt}
	}

	ranked, err := s.reranker.Rerank(ctx, sc.Request().Prompt, candidates)
	if err != nil {
		return "", &CollaboratorError{Stage: StageReranking, Err: err}
	}
	if len(ranked) == 0 {
		return "", &CollaboratorError{
			Stage: StageReranking,
			Err:   fmt.Errorf("reranker returned no documents for %d candidates", len(candidates)),
		}
	}

	return ranked[0].Document, nil
}

// extractCandidates assembles the candidate pool for reranking: the
// compaction output, plus the individual working-awareness perspectives
// split back out of their combined form.
func extractCandidates(sc *StageContext) []string {
	var candidates []string

	if compacted, ok := sc.Shared(StageCompaction); ok && compacted != "" && compacted != noCompactionInput {
		candidates = append(candidates, compacted)
	}

	if combined, ok := sc.Shared(StageWorkingAwareness); ok && combined != "" {
		candidates = append(candidates, splitPerspectives(combined)...)
	}

	return candidates
}

// splitPerspectives recovers individual perspective texts from the combined
// working-awareness output. Input without perspective headers is returned
// whole.
func splitPerspectives(combined string) []string {
	parts := perspectiveHeader.Split(combined, -1)
	if len(parts) < 2 {
		return []string{combined}
	}

	// parts[0] is the preamble before the first header.
	var perspectives []string
	for _, part := range parts[1:] {
		if text := strings.TrimSpace(part); text != "" {
			perspectives = append(perspectives, text)
		}
	}
	if len(perspectives) == 0 {
		return []string{combined}
	}
	return perspectives
}
