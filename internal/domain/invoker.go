package domain

import "context"

// ToolInvoker executes a named tool. Implementations live outside the core;
// the engine only requires lookup-or-ErrToolNotFound semantics.
type ToolInvoker interface {
	Invoke(ctx context.Context, toolID string, input any) (any, error)
}

// AgentInvoker generates output from a named agent given a prompt and an
// arbitrary context payload. Fails with ErrAgentNotFound for unknown agents.
type AgentInvoker interface {
	Generate(ctx context.Context, agentID, prompt string, taskContext any) (any, error)
}

// Invokers bundles the two external invocation surfaces handed to every step.
type Invokers struct {
	Tools  ToolInvoker
	Agents AgentInvoker
}
