package chorus

import (
	"context"
	"fmt"
	"strings"
)

// stagePreviewLimit bounds how much of each upstream output is quoted into
// the synthesis prompt.
const stagePreviewLimit = 500

// FinalResponseStage synthesizes the definitive answer from everything the
// earlier stages produced. It always addresses the original request, using
// upstream outputs as supporting material.
type FinalResponseStage struct {
	agent   Agent
	enabled bool
}

// NewFinalResponseStage creates the final-response stage.
func NewFinalResponseStage(agent Agent, enabled bool) *FinalResponseStage {
	return &FinalResponseStage{agent: agent, enabled: enabled}
}

// Type implements Stage.
func (s *FinalResponseStage) Type() StageType {
	return StageFinalResponse
}

// Enabled implements Stage.
func (s *FinalResponseStage) Enabled() bool {
	return s.enabled
}

func (s *FinalResponseStage) run(ctx context.Context, sc *StageContext) (string, error) {
	req := sc.Request()

	var b strings.Builder
	b.WriteString("Produce the final response to the original request below, ")
	b.WriteString("drawing on the intermediate reasoning where it helps. ")
	b.WriteString("Answer the request directly; do not describe the reasoning process.\n\n")
	b.WriteString("Original request:\n")
	b.WriteString(req.Prompt)

	shared := sc.SharedData()
	for _, st := range StageOrder {
		if st == StageFinalResponse {
			continue
		}
		output, ok := shared[st]
		if !ok || output == "" {
			continue
		}
		fmt.Fprintf(&b, "\n\nIntermediate output (%s):\n%s", st, preview(output))
	}

	if len(req.Constraints) > 0 {
		b.WriteString("\n\nThe response must satisfy:\n")
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
		return "", &CollaboratorError{Stage: StageFinalResponse, Err: err}
	}

	return response.Text, nil
}

func preview(output string) string {
	if len(output) <= stagePreviewLimit {
		return output
	}
	return output[:stagePreviewLimit] + "..."
}
