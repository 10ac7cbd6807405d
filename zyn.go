package chorus

import (
	"context"
	"fmt"
	"strings"

	"github.com/zoobzio/zyn"
)

// Provider defines the interface for LLM providers.
// This matches zyn.Provider interface for compatibility.
type Provider interface {
	Call(ctx context.Context, messages []zyn.Message, temperature float32) (*zyn.ProviderResponse, error)
	Name() string
}

// Default temperatures for the zyn-backed collaborators.
var (
	// DefaultReasoningTemperature is used for agent calls without an
	// explicit temperature. Deterministic for consistent outputs.
	DefaultReasoningTemperature = zyn.DefaultTemperatureDeterministic

	// DefaultRankingTemperature is used by the zyn reranker.
	DefaultRankingTemperature = zyn.DefaultTemperatureAnalytical
)

// ZynAgent implements Agent on top of a zyn Transform synapse.
type ZynAgent struct {
	provider    Provider
	instruction string
}

// NewZynAgent creates an agent backed by the given provider.
func NewZynAgent(provider Provider) *ZynAgent {
	return &ZynAgent{
		provider:    provider,
		instruction: "Carry out the reasoning task described in the input",
	}
}

// WithInstruction overrides the synapse instruction used for every call.
func (a *ZynAgent) WithInstruction(instruction string) *ZynAgent {
	a.instruction = instruction
	return a
}

// Execute implements Agent.
func (a *ZynAgent) Execute(ctx context.Context, payload AgentPayload) (*AgentResponse, error) {
	synapse, err := zyn.Transform(a.instruction, a.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create transform synapse: %w", err)
	}

	temperature := payload.Temperature
	if temperature == 0 {
		temperature = DefaultReasoningTemperature
	}

	text, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.TransformInput{
		Text:        payload.Prompt,
		Context:     payload.Context,
		Temperature: temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("transform synapse execution failed: %w", err)
	}

	return &AgentResponse{Text: text}, nil
}

// Name implements Agent.
func (a *ZynAgent) Name() string {
	return "zyn-" + a.provider.Name()
}

// ZynCompactor implements Compactor by summarizing outputs through a zyn
// Transform synapse.
type ZynCompactor struct {
	provider    Provider
	temperature float32
}

// NewZynCompactor creates a compactor backed by the given provider.
func NewZynCompactor(provider Provider) *ZynCompactor {
	return &ZynCompactor{
		provider:    provider,
		temperature: DefaultReasoningTemperature,
	}
}

// WithTemperature sets the summarization temperature.
func (c *ZynCompactor) WithTemperature(temp float32) *ZynCompactor {
	c.temperature = temp
	return c
}

// Compact implements Compactor.
func (c *ZynCompactor) Compact(ctx context.Context, outputs []string) (string, error) {
	synapse, err := zyn.Transform(
		"Consolidate these reasoning outputs into a single coherent result, removing redundancy while preserving key conclusions and details",
		c.provider,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create transform synapse: %w", err)
	}

	var builder strings.Builder
	for i, output := range outputs {
		if i > 0 {
			builder.WriteString("\n\n")
		}
		builder.WriteString(output)
	}

	compacted, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.TransformInput{
		Text:        builder.String(),
		Style:       "Be concise but complete. Preserve factual details and conclusions needed by downstream reasoning.",
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("transform synapse execution failed: %w", err)
	}

	return compacted, nil
}

// ZynReranker implements Reranker on top of a zyn Ranking synapse. Scores
// are positional: the top-ranked candidate gets 1.0, descending linearly.
type ZynReranker struct {
	provider    Provider
	criteria    string
	temperature float32
}

// NewZynReranker creates a reranker backed by the given provider.
func NewZynReranker(provider Provider) *ZynReranker {
	return &ZynReranker{
		provider:    provider,
		criteria:    "relevance and quality with respect to the query",
		temperature: DefaultRankingTemperature,
	}
}

// WithCriteria overrides the ranking criteria.
func (r *ZynReranker) WithCriteria(criteria string) *ZynReranker {
	r.criteria = criteria
	return r
}

// Rerank implements Reranker.
func (r *ZynReranker) Rerank(ctx context.Context, query string, candidates []string) ([]RankedDocument, error) {
	if len(candidates) == 0 {
		return nil, nil
	}

	synapse, err := zyn.NewRanking(r.criteria, r.provider)
	if err != nil {
		return nil, fmt.Errorf("failed to create ranking synapse: %w", err)
	}

	response, err := synapse.FireWithInput(ctx, zyn.NewSession(), zyn.RankingInput{
		Items:       candidates,
		Context:     query,
		Temperature: r.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("ranking synapse execution failed: %w", err)
	}

	ranked := make([]RankedDocument, len(response.Ranked))
	for i, doc := range response.Ranked {
		ranked[i] = RankedDocument{
			Document: doc,
			Score:    float64(len(response.Ranked)-i) / float64(len(response.Ranked)),
		}
	}
	return ranked, nil
}
