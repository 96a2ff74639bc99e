package multiagent

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"botgate/internal/domain"
	"botgate/internal/infra/config"
	"botgate/internal/infra/tracer"
)

const (
	defaultStartTimeout = 30 * time.Second
	defaultStopTimeout  = 10 * time.Second
)

// RunningGauge receives the number of running instances after every
// StartAll and StopAll.
type RunningGauge interface {
	SetInstancesRunning(n int)
}

// Deps are the collaborators shared by every runtime.
type Deps struct {
	Bus          domain.EventBus
	AgentFactory domain.AgentLoopFactory
	StartTimeout time.Duration
	StopTimeout  time.Duration
	Gauge        RunningGauge
}

// Orchestrator owns every instance runtime built from one multibot config
// and the tool pool they share.
type Orchestrator struct {
	cfg      *config.MultiBotConfig
	deps     Deps
	pool     *ToolPool
	runtimes map[string]*Runtime
	byToken  map[string]*Runtime
	order    []string
	logger   *slog.Logger
}

// NewOrchestrator builds the tool pool and then one runtime per bot with
// Telegram enabled. Disabled bots and bots whose runtime cannot be built
// are skipped with a log line.
func NewOrchestrator(cfg *config.MultiBotConfig, deps Deps, logger *slog.Logger) *Orchestrator {
	if cfg == nil {
		cfg = &config.MultiBotConfig{}
	}
	if deps.StartTimeout <= 0 {
		deps.StartTimeout = defaultStartTimeout
	}
	if deps.StopTimeout <= 0 {
		deps.StopTimeout = defaultStopTimeout
	}
	logger = logger.With("component", "orchestrator")

	o := &Orchestrator{
		cfg:      cfg,
		deps:     deps,
		pool:     NewToolPool(cfg.ToolServers.Servers),
		runtimes: make(map[string]*Runtime, len(cfg.Bots)),
		byToken:  make(map[string]*Runtime, len(cfg.Bots)),
		logger:   logger,
	}

	for _, bot := range cfg.Bots {
		if !bool(bot.Channels.TelegramEnabled) {
			logger.Warn("bot disabled, skipping", "instance_id", bot.ID)
			continue
		}
		if _, dup := o.runtimes[bot.ID]; dup {
			logger.Warn("duplicate bot id, skipping", "instance_id", bot.ID)
			continue
		}
		if owner, dup := o.byToken[bot.Channels.TelegramToken]; dup {
			logger.Warn("telegram token already used, skipping", "instance_id", bot.ID, "owner", owner.ID())
			continue
		}
		rt, err := NewRuntime(bot, o.pool, deps.Bus, deps.AgentFactory, logger)
		if err != nil {
			logger.Error("create runtime failed", "instance_id", bot.ID, "error", err)
			continue
		}
		o.runtimes[bot.ID] = rt
		o.order = append(o.order, bot.ID)
		if tok := bot.Channels.TelegramToken; tok != "" {
			o.byToken[tok] = rt
		}
	}
	sort.Strings(o.order)

	logger.Info("orchestrator ready", "instances", len(o.runtimes), "tool_servers", o.pool.Len())
	return o
}

// FromConfigFile loads the multibot file at path. A missing file yields an
// empty orchestrator. A file that cannot be loaded also yields an empty
// orchestrator, together with an error wrapping domain.ErrConfigLoad.
func FromConfigFile(path string, deps Deps, logger *slog.Logger) (*Orchestrator, error) {
	cfg, err := config.LoadMultiBot(path)
	if err != nil {
		logger.Error("load multibot config failed", "path", path, "error", err)
		return NewOrchestrator(&config.MultiBotConfig{}, deps, logger),
			fmt.Errorf("%w: %s: %w", domain.ErrConfigLoad, path, err)
	}
	return NewOrchestrator(cfg, deps, logger), nil
}

// Config returns the configuration the orchestrator was built from.
func (o *Orchestrator) Config() *config.MultiBotConfig { return o.cfg }

// Pool returns the shared tool pool.
func (o *Orchestrator) Pool() *ToolPool { return o.pool }

// Get returns the runtime for id.
func (o *Orchestrator) Get(id string) (*Runtime, bool) {
	rt, ok := o.runtimes[id]
	return rt, ok
}

// GetByToken returns the runtime owning a Telegram bot token.
func (o *Orchestrator) GetByToken(token string) (*Runtime, bool) {
	rt, ok := o.byToken[token]
	return rt, ok
}

// Runtimes returns every runtime sorted by id.
func (o *Orchestrator) Runtimes() []*Runtime {
	out := make([]*Runtime, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.runtimes[id])
	}
	return out
}

// Endpoint implements domain.EndpointRegistry.
func (o *Orchestrator) Endpoint(id string) (domain.ChatEndpoint, bool) {
	rt, ok := o.runtimes[id]
	if !ok {
		return nil, false
	}
	return rt, true
}

// Endpoints implements domain.EndpointRegistry.
func (o *Orchestrator) Endpoints() []domain.ChatEndpoint {
	out := make([]domain.ChatEndpoint, 0, len(o.order))
	for _, rt := range o.Runtimes() {
		out = append(out, rt)
	}
	return out
}

var _ domain.EndpointRegistry = (*Orchestrator)(nil)

// Status returns one snapshot per runtime, sorted by id.
func (o *Orchestrator) Status() []domain.InstanceStatus {
	out := make([]domain.InstanceStatus, 0, len(o.order))
	for _, rt := range o.Runtimes() {
		out = append(out, rt.Status())
	}
	return out
}

// StartAll starts every runtime concurrently. Failures are logged and
// reported, never returned as an error.
func (o *Orchestrator) StartAll(ctx context.Context) FanOutReport {
	return o.fanOut(ctx, "multiagent.start_all", "start", o.deps.StartTimeout, func(ctx context.Context, rt *Runtime) error {
		return rt.Start(ctx)
	})
}

// StopAll stops every runtime concurrently, each under its own timeout.
func (o *Orchestrator) StopAll(ctx context.Context) FanOutReport {
	return o.fanOut(ctx, "multiagent.stop_all", "stop", o.deps.StopTimeout, func(ctx context.Context, rt *Runtime) error {
		return rt.Stop(ctx)
	})
}

func (o *Orchestrator) fanOut(ctx context.Context, span, verb string, timeout time.Duration, fn func(context.Context, *Runtime) error) FanOutReport {
	ctx, sp := tracer.StartSpan(ctx, span)
	defer sp.End()

	report := fanOut(ctx, o.order, timeout, func(ctx context.Context, id string) error {
		return fn(ctx, o.runtimes[id])
	})

	failed := report.Failed()
	for _, res := range failed {
		o.logger.Error("instance "+verb+" failed", "instance_id", res.ID, "error", res.Err)
	}
	running := o.runningCount()
	if o.deps.Gauge != nil {
		o.deps.Gauge.SetInstancesRunning(running)
	}

	sp.SetAttributes(
		tracer.IntAttr("instances", len(o.order)),
		tracer.IntAttr("failed", len(failed)),
		tracer.IntAttr("running", running),
	)
	if len(failed) > 0 {
		tracer.RecordError(sp, fmt.Errorf("%d instance(s) failed to %s", len(failed), verb))
	} else {
		tracer.SetOK(sp)
	}
	o.logger.Info("instances "+verb+" complete", "total", len(o.order), "failed", len(failed), "running", running)
	return report
}

func (o *Orchestrator) runningCount() int {
	n := 0
	for _, rt := range o.runtimes {
		if rt.IsRunning() {
			n++
		}
	}
	return n
}
