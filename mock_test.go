package chorus

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// mockAgent implements Agent for testing without a provider.
type mockAgent struct {
	name     string
	response string
	err      error
	delay    time.Duration

	mu    sync.Mutex
	calls []AgentPayload
}

func newMockAgent() *mockAgent {
	return &mockAgent{name: "mock"}
}

func (m *mockAgent) Execute(ctx context.Context, payload AgentPayload) (*AgentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, payload)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}

	if m.response != "" {
		return &AgentResponse{Text: m.response}, nil
	}
	return &AgentResponse{Text: "response to: " + payload.Prompt}, nil
}

func (m *mockAgent) Name() string {
	return m.name
}

func (m *mockAgent) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockAgent) payloads() []AgentPayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]AgentPayload, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// mockCompactor implements Compactor with a deterministic join.
type mockCompactor struct {
	err error

	mu    sync.Mutex
	calls [][]string
}

func (m *mockCompactor) Compact(_ context.Context, outputs []string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, outputs)
	m.mu.Unlock()

	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("compacted(%d)", len(outputs)), nil
}

func (m *mockCompactor) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// mockReranker implements Reranker, returning candidates in given order.
type mockReranker struct {
	err error

	mu    sync.Mutex
	calls int
	last  []string
}

func (m *mockReranker) Rerank(_ context.Context, _ string, candidates []string) ([]RankedDocument, error) {
	m.mu.Lock()
	m.calls++
	m.last = candidates
	m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}

	ranked := make([]RankedDocument, len(candidates))
	for i, doc := range candidates {
		ranked[i] = RankedDocument{
			Document: doc,
			Score:    float64(len(candidates)-i) / float64(len(candidates)),
		}
	}
	return ranked, nil
}

func (m *mockReranker) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// newTestPipeline builds a pipeline around the given config with mock
// collaborators and no cache unless the config demands one.
func newTestPipeline(cfg *PipelineConfig) (*ReasoningPipeline, *mockAgent, *mockReranker, error) {
	agent := newMockAgent()
	reranker := &mockReranker{}
	p, err := NewReasoningPipeline(agent, cfg, WithReranker(reranker))
	return p, agent, reranker, err
}
