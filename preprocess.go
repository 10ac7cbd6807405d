package chorus

import (
	"context"
	"strings"
)

// PreprocessingStage normalizes and enriches the raw request before
// reasoning begins. The agent restructures the prompt, folding in context
// and constraints, so later stages work from a well-formed task statement.
type PreprocessingStage struct {
	agent   Agent
	enabled bool
}

// NewPreprocessingStage creates the preprocessing stage.
func NewPreprocessingStage(agent Agent, enabled bool) *PreprocessingStage {
	return &PreprocessingStage{agent: agent, enabled: enabled}
}

// Type implements Stage.
func (s *PreprocessingStage) Type() StageType {
	return StagePreprocessing
}

// Enabled implements Stage.
func (s *PreprocessingStage) Enabled() bool {
	return s.enabled
}

func (s *PreprocessingStage) run(ctx context.Context, sc *StageContext) (string, error) {
	req := sc.Request()

	var b strings.Builder
	b.WriteString("Refine and structure the following reasoning request. ")
	b.WriteString("Clarify the task, resolve ambiguity, and restate it as a precise, self-contained prompt.\n\n")
	b.WriteString("Request:\n")
	b.WriteString(req.Prompt)

	if req.Context != "" {
		b.WriteString("\n\nBackground context:\n")
		b.WriteString(req.Context)
	}

	if len(req.Constraints) > 0 {
		b.WriteString("\n\nConstraints the response must satisfy:\n")
		for _, constraint := range req.Constraints {
			b.WriteString("- ")
			b.WriteString(constraint)
			b.WriteString("\n")
		}
	}

	response, err := s.agent.Execute(ctx, AgentPayload{
		Prompt:      b.String(),
		Context:     req.Context,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", &CollaboratorError{Stage: StagePreprocessing, Err: err}
	}

	return response.Text, nil
}
