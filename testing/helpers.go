// Package chorustest provides test utilities for chorus.
package chorustest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/zoobzio/chorus"
)

// MockAgent implements chorus.Agent with scripted responses. Responses are
// consumed in order; when the script runs out the last response repeats.
// With no script, every call echoes the prompt prefixed by the agent name.
type MockAgent struct {
	name      string
	responses []string
	err       error
	delay     time.Duration

	mu    sync.Mutex
	calls []chorus.AgentPayload
}

// NewMockAgent creates a mock agent that echoes prompts.
func NewMockAgent(name string) *MockAgent {
	return &MockAgent{name: name}
}

// WithResponses scripts the responses returned by successive calls.
func (m *MockAgent) WithResponses(responses ...string) *MockAgent {
	m.responses = responses
	return m
}

// WithError makes every call fail with err.
func (m *MockAgent) WithError(err error) *MockAgent {
	m.err = err
	return m
}

// WithDelay makes every call sleep before responding, for exercising
// timeouts and parallel execution.
func (m *MockAgent) WithDelay(d time.Duration) *MockAgent {
	m.delay = d
	return m
}

// Execute implements chorus.Agent.
func (m *MockAgent) Execute(ctx context.Context, payload chorus.AgentPayload) (*chorus.AgentResponse, error) {
	m.mu.Lock()
	m.calls = append(m.calls, payload)
	n := len(m.calls)
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

	if len(m.responses) > 0 {
		idx := n - 1
		if idx >= len(m.responses) {
			idx = len(m.responses) - 1
		}
		return &chorus.AgentResponse{Text: m.responses[idx]}, nil
	}
	return &chorus.AgentResponse{Text: fmt.Sprintf("%s: %s", m.name, payload.Prompt)}, nil
}

// Name implements chorus.Agent.
func (m *MockAgent) Name() string {
	return m.name
}

// Calls returns a snapshot of every payload the agent received.
func (m *MockAgent) Calls() []chorus.AgentPayload {
	m.mu.Lock()
	defer m.mu.Unlock()

	calls := make([]chorus.AgentPayload, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of Execute calls so far.
func (m *MockAgent) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Reset clears the recorded calls.
func (m *MockAgent) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

var _ chorus.Agent = (*MockAgent)(nil)

// MockCompactor implements chorus.Compactor by joining inputs with a marker,
// or failing when scripted to.
type MockCompactor struct {
	err error

	mu    sync.Mutex
	calls [][]string
}

// NewMockCompactor creates a mock compactor.
func NewMockCompactor() *MockCompactor {
	return &MockCompactor{}
}

// WithError makes every call fail with err.
func (m *MockCompactor) WithError(err error) *MockCompactor {
	m.err = err
	return m
}

// Compact implements chorus.Compactor.
func (m *MockCompactor) Compact(ctx context.Context, outputs []string) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, outputs)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return "", err
	}
	if m.err != nil {
		return "", m.err
	}
	return fmt.Sprintf("compacted(%d inputs)", len(outputs)), nil
}

// CallCount returns the number of Compact calls so far.
func (m *MockCompactor) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

var _ chorus.Compactor = (*MockCompactor)(nil)

// MockReranker implements chorus.Reranker by returning candidates in their
// given order with linearly descending scores, or failing when scripted to.
type MockReranker struct {
	err error

	mu    sync.Mutex
	calls int
}

// NewMockReranker creates a mock reranker.
func NewMockReranker() *MockReranker {
	return &MockReranker{}
}

// WithError makes every call fail with err.
func (m *MockReranker) WithError(err error) *MockReranker {
	m.err = err
	return m
}

// Rerank implements chorus.Reranker.
func (m *MockReranker) Rerank(ctx context.Context, query string, candidates []string) ([]chorus.RankedDocument, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.err != nil {
		return nil, m.err
	}

	ranked := make([]chorus.RankedDocument, len(candidates))
	for i, doc := range candidates {
		ranked[i] = chorus.RankedDocument{
			Document: doc,
			Score:    float64(len(candidates)-i) / float64(len(candidates)),
		}
	}
	return ranked, nil
}

// CallCount returns the number of Rerank calls so far.
func (m *MockReranker) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ chorus.Reranker = (*MockReranker)(nil)

// NewTestPipeline creates a pipeline with a mock agent and reranker, all
// stages enabled, and no cache. Returns the pipeline with its mocks for
// call-count assertions.
func NewTestPipeline(t *testing.T) (*chorus.ReasoningPipeline, *MockAgent, *MockReranker) {
	t.Helper()

	agent := NewMockAgent("test-agent")
	reranker := NewMockReranker()

	cfg := chorus.DefaultConfig()
	cfg.CacheStrategy = chorus.CacheNone

	pipeline, err := chorus.NewReasoningPipeline(agent, cfg, chorus.WithReranker(reranker))
	if err != nil {
		t.Fatalf("failed to create test pipeline: %v", err)
	}
	return pipeline, agent, reranker
}

// RequireStageStatus asserts the status of one stage in a result.
func RequireStageStatus(t *testing.T, result *chorus.PipelineResult, st chorus.StageType, want chorus.StageStatus) {
	t.Helper()
	for _, res := range result.Stages {
		if res.StageType != st {
			continue
		}
		if res.Status != want {
			t.Fatalf("expected stage %s status %s, got %s (error: %s)", st, want, res.Status, res.Error)
		}
		return
	}
	t.Fatalf("no result recorded for stage %s", st)
}
