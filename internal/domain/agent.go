package domain

import "context"

// AgentSpec is the per-instance tuning handed to an agent loop factory.
type AgentSpec struct {
	InstanceID  string
	Name        string
	Workspace   string
	Model       string
	Temperature float64
	MaxTokens   int
	ToolServers []string
}

// AgentLoop consumes inbound events for one instance and publishes replies.
// Start must return once the loop is running; Stop lets in-flight work finish.
type AgentLoop interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// AgentLoopFactory builds the agent loop for one instance.
type AgentLoopFactory func(spec AgentSpec, bus EventBus) (AgentLoop, error)

// InstanceStatus is a read-only snapshot of one instance runtime.
type InstanceStatus struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Workspace   string   `json:"workspace"`
	Model       string   `json:"model"`
	ToolServers []string `json:"mcps"`
	Running     bool     `json:"running"`
}
