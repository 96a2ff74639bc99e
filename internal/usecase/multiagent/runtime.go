package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"botgate/internal/domain"
	"botgate/internal/infra/config"
)

// Runtime is one bot personality with its own workspace and agent loop,
// limited to the tool servers it names.
type Runtime struct {
	cfg       config.InstanceConfig
	workspace *Workspace
	bus       domain.EventBus
	loop      domain.AgentLoop
	tools     map[string]config.ToolServerConfig
	toolNames []string
	logger    *slog.Logger

	lifecycle sync.Mutex // serializes Start and Stop
	running   atomic.Bool
}

// NewRuntime resolves the instance's tool servers against pool and builds its
// agent loop. Unknown tool names are logged and skipped. It has no filesystem
// side effects; the workspace is created by Start.
func NewRuntime(cfg config.InstanceConfig, pool *ToolPool, bus domain.EventBus, factory domain.AgentLoopFactory, logger *slog.Logger) (*Runtime, error) {
	if cfg.ID == "" {
		return nil, domain.NewSubSystemError("instance", "NewRuntime", domain.ErrInvalidInput, "empty instance id")
	}
	if bus == nil || factory == nil {
		return nil, domain.NewSubSystemError("instance", "NewRuntime", domain.ErrInvalidInput, "bus and agent factory are required")
	}
	logger = logger.With("instance_id", cfg.ID)

	r := &Runtime{
		cfg:       cfg,
		workspace: NewWorkspace(cfg.Workspace),
		bus:       bus,
		tools:     make(map[string]config.ToolServerConfig, len(cfg.ToolServers)),
		logger:    logger,
	}
	for _, name := range cfg.ToolServers {
		srv, ok := pool.Get(name)
		if !ok {
			logger.Warn("tool server not found, skipping", "tool_server", name)
			continue
		}
		if _, dup := r.tools[name]; dup {
			continue
		}
		r.tools[name] = srv
		r.toolNames = append(r.toolNames, name)
	}

	loop, err := factory(domain.AgentSpec{
		InstanceID:  cfg.ID,
		Name:        cfg.Name,
		Workspace:   cfg.Workspace,
		Model:       cfg.Agent.Model,
		Temperature: cfg.Agent.Temperature,
		MaxTokens:   cfg.Agent.MaxTokens,
		ToolServers: append([]string(nil), r.toolNames...),
	}, bus)
	if err != nil {
		return nil, fmt.Errorf("instance %s: build agent loop: %w", cfg.ID, err)
	}
	r.loop = loop
	return r, nil
}

func (r *Runtime) ID() string { return r.cfg.ID }

// Config returns the instance configuration the runtime was built from.
func (r *Runtime) Config() config.InstanceConfig { return r.cfg }

// Workspace returns the instance's workspace.
func (r *Runtime) Workspace() *Workspace { return r.workspace }

// ToolServers returns the resolved tool-server descriptors keyed by name.
// The map is a copy.
func (r *Runtime) ToolServers() map[string]config.ToolServerConfig {
	out := make(map[string]config.ToolServerConfig, len(r.tools))
	for k, v := range r.tools {
		out[k] = v
	}
	return out
}

func (r *Runtime) IsRunning() bool { return r.running.Load() }

// DisplayName returns the configured name, or the id when none is set.
func (r *Runtime) DisplayName() string {
	if r.cfg.Name != "" {
		return r.cfg.Name
	}
	return r.cfg.ID
}

func (r *Runtime) TelegramToken() string { return r.cfg.Channels.TelegramToken }

func (r *Runtime) AllowFrom() []string { return []string(r.cfg.Channels.TelegramAllowFrom) }

// Start prepares the workspace and starts the agent loop. Starting a running
// runtime is a no-op. On failure the runtime stays stopped.
func (r *Runtime) Start(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if r.running.Load() {
		r.logger.Warn("instance already running")
		return nil
	}
	if err := r.workspace.Ensure(r.cfg.Name, r.cfg.Description); err != nil {
		return fmt.Errorf("instance %s: %w", r.cfg.ID, err)
	}
	if err := r.loop.Start(ctx); err != nil {
		return fmt.Errorf("instance %s: start agent loop: %w", r.cfg.ID, err)
	}
	r.running.Store(true)
	r.logger.Info("instance started",
		"name", r.cfg.Name,
		"workspace", r.cfg.Workspace,
		"tool_servers", len(r.toolNames),
	)
	return nil
}

// Stop stops the agent loop. Stopping a stopped runtime is a no-op. The
// runtime is marked stopped even when the loop reports an error.
func (r *Runtime) Stop(ctx context.Context) error {
	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	if !r.running.Load() {
		return nil
	}
	r.running.Store(false)
	if err := r.loop.Stop(ctx); err != nil {
		r.logger.Error("agent loop stop failed", "error", err)
		return fmt.Errorf("instance %s: stop agent loop: %w", r.cfg.ID, err)
	}
	r.logger.Info("instance stopped")
	return nil
}

// Process publishes one inbound message for this instance. The routing key
// is telegram:{instance}:{conversation}.
func (r *Runtime) Process(ctx context.Context, sender, conversation, content string, media []string, metadata map[string]string) error {
	return r.ProcessMessage(ctx, domain.InboundMessage{
		Channel:        domain.ChannelTelegram,
		SenderID:       sender,
		ConversationID: conversation,
		Content:        content,
		Media:          media,
		Metadata:       metadata,
	})
}

// ProcessMessage publishes msg on the bus after stamping it with this
// instance. A caller-supplied routing key is kept.
func (r *Runtime) ProcessMessage(ctx context.Context, msg domain.InboundMessage) error {
	if !r.IsRunning() {
		return domain.NewSubSystemError("instance", "Runtime.Process", domain.ErrDisabled, r.cfg.ID+" is not running")
	}

	msg.InstanceID = r.cfg.ID
	if msg.Channel == "" {
		msg.Channel = domain.ChannelTelegram
	}
	if msg.RoutingKey == "" {
		msg.RoutingKey = domain.NewRoutingKey(msg.Channel, r.cfg.ID, msg.ConversationID)
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	r.logger.Debug("inbound message",
		"sender_id", msg.SenderID,
		"conversation_id", msg.ConversationID,
		"media", len(msg.Media),
	)
	return r.bus.Publish(ctx, domain.Event{
		Type:       domain.EventMessageInbound,
		InstanceID: r.cfg.ID,
		Timestamp:  msg.Timestamp,
		Inbound:    &msg,
	})
}

var _ domain.ChatEndpoint = (*Runtime)(nil)

// Status returns a snapshot for status listings.
func (r *Runtime) Status() domain.InstanceStatus {
	return domain.InstanceStatus{
		ID:          r.cfg.ID,
		Name:        r.cfg.Name,
		Workspace:   r.cfg.Workspace,
		Model:       r.cfg.Agent.Model,
		ToolServers: append([]string(nil), r.toolNames...),
		Running:     r.IsRunning(),
	}
}
