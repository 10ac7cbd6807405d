package chorus

import (
	"context"
	"sync"
)

// AgentPayload is a single reasoning request to an Agent.
type AgentPayload struct {
	// Prompt is the task text.
	Prompt string

	// Context is optional background context.
	Context string

	// MaxTokens bounds generation when > 0.
	MaxTokens int

	// Temperature controls sampling when > 0.
	Temperature float32
}

// AgentResponse is the result of an agent call.
type AgentResponse struct {
	// Text is the generated response.
	Text string
}

// Agent is the reasoning collaborator: generate a response given a prompt
// and context. The pipeline does not retry agent calls internally; retry
// policy, if any, belongs to the implementation.
//
// Implementations must be safe for concurrent use: multiple pipeline runs
// may call Execute simultaneously.
type Agent interface {
	Execute(ctx context.Context, payload AgentPayload) (*AgentResponse, error)
	Name() string
}

// Context key for agent.
type agentKeyType struct{}

var agentKey = agentKeyType{}

// Global agent fallback.
var (
	globalAgent   Agent
	globalAgentMu sync.RWMutex
)

// SetAgent sets the global fallback agent.
// This agent is used when no pipeline-level or context agent is available.
func SetAgent(a Agent) {
	globalAgentMu.Lock()
	defer globalAgentMu.Unlock()
	globalAgent = a
}

// GetAgent returns the global agent, if set.
func GetAgent() Agent {
	globalAgentMu.RLock()
	defer globalAgentMu.RUnlock()
	return globalAgent
}

// WithAgent adds an agent to the context, overriding the global fallback
// for runs that carry this context.
func WithAgent(ctx context.Context, a Agent) context.Context {
	return context.WithValue(ctx, agentKey, a)
}

// AgentFromContext retrieves the agent from context, if present.
func AgentFromContext(ctx context.Context) (Agent, bool) {
	a, ok := ctx.Value(agentKey).(Agent)
	return a, ok
}

// ResolveAgent determines which agent to use based on resolution order:
// 1. Pipeline-level agent (passed as argument)
// 2. Context agent
// 3. Global agent
// 4. ErrNoAgent if none found.
func ResolveAgent(ctx context.Context, pipelineAgent Agent) (Agent, error) {
	if pipelineAgent != nil {
		return pipelineAgent, nil
	}

	if a, ok := AgentFromContext(ctx); ok {
		return a, nil
	}

	globalAgentMu.RLock()
	a := globalAgent
	globalAgentMu.RUnlock()

	if a != nil {
		return a, nil
	}

	return nil, ErrNoAgent
}
