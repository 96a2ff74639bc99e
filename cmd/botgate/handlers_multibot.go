package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"botgate/internal/adapter/channel"
	"botgate/internal/adapter/llm"
	"botgate/internal/adapter/tool"
	"botgate/internal/infra/config"
	"botgate/internal/infra/metrics"
	"botgate/internal/usecase/agentloop"
	"botgate/internal/usecase/eventbus"
	"botgate/internal/usecase/multiagent"
	"botgate/internal/usecase/scheduling"
)

func runMultibotStart(cmd *cobra.Command, e *env, botsFile string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()

	if _, err := os.Stat(config.ExpandHome(botsFile)); errors.Is(err, fs.ErrNotExist) {
		printFailure(out, "Configuration file not found: %s", botsFile)
		printMuted(out, "\nCreate a multibot config first, then pass it with --bots or set gateway.bots_file.")
		return errReported
	}

	bus := eventbus.New(e.logger, eventbus.WithObserver(e.metrics))
	e.onClose(func(context.Context) error {
		bus.Close()
		return nil
	})

	provider := llm.NewCircuitBreakerProvider(llm.NewOpenAIProvider(e.cfg.LLM, e.logger), e.cfg.LLM.Breaker, e.metrics, e.logger)
	factory := agentloop.NewFactory(provider, agentloop.Options{
		HistoryLimit: e.cfg.LLM.HistoryLimit,
		ReplyTimeout: e.cfg.LLM.RespTimeout,
	}, e.logger)

	orch, err := multiagent.FromConfigFile(botsFile, multiagent.Deps{
		Bus:          bus,
		AgentFactory: factory,
		StartTimeout: e.cfg.Gateway.StartTimeout,
		StopTimeout:  e.cfg.Gateway.StopTimeout,
		Gauge:        e.metrics,
	}, e.logger)
	if err != nil {
		printFailure(out, "Failed to load %s: %v", botsFile, err)
		return errReported
	}
	runtimes := orch.Runtimes()
	if len(runtimes) == 0 {
		printWarning(out, "No enabled bots in %s", botsFile)
		return errReported
	}

	rows := make([][]string, 0, len(runtimes))
	for _, rt := range runtimes {
		st := rt.Status()
		rows = append(rows, []string{st.ID, st.Name, st.Workspace, joinOrDash(st.ToolServers)})
	}
	fmt.Fprintln(out, renderTable("Multi-Bot Gateway", []string{"Bot ID", "Name", "Workspace", "MCPs"}, rows))
	fmt.Fprintln(out, textSuccess.Render(fmt.Sprintf("\nStarting %d bot(s)...\n", len(runtimes))))

	for _, f := range orch.StartAll(ctx).Failed() {
		printFailure(out, "%s failed to start: %v", f.ID, f.Err)
	}

	router := channel.NewTelegramRouter(orch, bus, channel.NewBotFactory(), channel.RouterOptions{
		MediaDir:  e.cfg.Gateway.MediaDir,
		SendRate:  e.cfg.Gateway.SendRate,
		SendBurst: e.cfg.Gateway.SendBurst,
		Observer:  e.metrics,
	}, e.logger)
	if err := router.Start(ctx); err != nil {
		printFailure(out, "Router failed to start: %v", err)
	}

	if e.cfg.Metrics.Enabled {
		if _, err := metrics.Serve(ctx, e.metrics, e.cfg.Metrics, e.logger); err != nil {
			printWarning(out, "Metrics endpoint disabled: %v", err)
		}
	}

	sched, err := startHealthJobs(ctx, e, orch)
	if err != nil {
		printWarning(out, "Health checks disabled: %v", err)
	}

	connected := router.Connections()
	if len(connected) == len(runtimes) {
		printSuccess(out, "All bots started successfully!")
	} else {
		printWarning(out, "%d of %d bots connected to Telegram", len(connected), len(runtimes))
	}
	printMuted(out, "Press Ctrl+C to stop\n")

	<-ctx.Done()

	fmt.Fprintln(out, textWarning.Render("\nStopping all bots..."))
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.Gateway.StopTimeout)
	defer cancel()

	if sched != nil {
		sched.Stop()
	}
	failed := false
	if err := router.Stop(stopCtx); err != nil {
		printWarning(out, "Router stop: %v", err)
		failed = true
	}
	for _, f := range orch.StopAll(stopCtx).Failed() {
		printFailure(out, "%s failed to stop: %v", f.ID, f.Err)
		failed = true
	}
	if failed {
		return errReported
	}
	printSuccess(out, "All bots stopped")
	return nil
}

// startHealthJobs schedules tool-server and memory health checks on
// gateway.health_schedule. An empty schedule disables them.
func startHealthJobs(ctx context.Context, e *env, orch *multiagent.Orchestrator) (*scheduling.Scheduler, error) {
	schedule := e.cfg.Gateway.HealthSchedule
	if schedule == "" {
		return nil, nil
	}

	sched := scheduling.NewScheduler(e.logger)
	var tasks []scheduling.Task

	if servers := healthTargets(orch.Pool().All()); len(servers) > 0 {
		checker := tool.NewHealthChecker(e.logger, tool.WithHealthObserver(e.metrics))
		sched.RegisterAction(scheduling.ActionToolHealth, scheduling.ToolHealthJob(func(ctx context.Context) (int, int) {
			healthy := 0
			for _, r := range checker.CheckAll(ctx, servers) {
				if r.Healthy {
					healthy++
				}
			}
			return healthy, len(servers)
		}))
		tasks = append(tasks, scheduling.Task{Name: "tool-health", Schedule: schedule, Action: scheduling.ActionToolHealth})
	}

	if e.cfg.Memory.Backend != "mem0" || e.cfg.Memory.Mem0.Enabled {
		backend, err := openBackend(e, &memoryFlags{})
		if err != nil {
			return nil, err
		}
		sched.RegisterAction(scheduling.ActionMemoryHealth, scheduling.MemoryHealthJob(backend, e.metrics))
		tasks = append(tasks, scheduling.Task{Name: "memory-health", Schedule: schedule, Action: scheduling.ActionMemoryHealth})
	}

	if len(tasks) == 0 {
		return nil, nil
	}
	for _, t := range tasks {
		if err := sched.AddTask(t); err != nil {
			return nil, err
		}
	}
	if err := sched.Start(ctx); err != nil {
		return nil, err
	}
	return sched, nil
}

// healthTargets keeps the servers with health checks enabled.
func healthTargets(all []config.ToolServerConfig) []config.ToolServerConfig {
	var out []config.ToolServerConfig
	for _, s := range all {
		if s.HealthCheckEnabled {
			out = append(out, s)
		}
	}
	return out
}

func runMultibotStatus(cmd *cobra.Command, e *env, botsFile string, check bool) error {
	out := cmd.OutOrStdout()

	if _, err := os.Stat(config.ExpandHome(botsFile)); errors.Is(err, fs.ErrNotExist) {
		printFailure(out, "Configuration file not found: %s", botsFile)
		return errReported
	}
	cfg, err := config.LoadMultiBot(botsFile)
	if err != nil {
		printFailure(out, "Failed to load %s: %v", botsFile, err)
		return errReported
	}

	rows := make([][]string, 0, len(cfg.Bots))
	for _, b := range cfg.Bots {
		enabled := symbolError
		if bool(b.Channels.TelegramEnabled) {
			enabled = symbolSuccess
		}
		rows = append(rows, []string{b.ID, b.Name, enabled, b.Workspace, joinOrDash(b.ToolServers)})
	}
	fmt.Fprintln(out, renderTable("Multi-Bot Configuration",
		[]string{"Bot ID", "Name", "Telegram Enabled", "Workspace", "MCPs"}, rows))

	servers := cfg.ToolServers.Servers
	if len(servers) == 0 {
		return nil
	}

	headers := []string{"Name", "Type", "Description"}
	var results map[string]tool.HealthResult
	if check {
		headers = append(headers, "Health", "Detail")
		checker := tool.NewHealthChecker(e.logger, tool.WithHealthObserver(e.metrics))
		results = make(map[string]tool.HealthResult)
		for _, r := range checker.CheckAll(cmd.Context(), healthTargets(servers)) {
			results[r.Name] = r
		}
	}

	unhealthy := 0
	rows = make([][]string, 0, len(servers))
	for _, s := range servers {
		row := []string{s.Name, s.Kind, s.Description}
		if check {
			r, checked := results[s.Name]
			switch {
			case !checked:
				row = append(row, "-", "health check disabled")
			case r.Healthy:
				row = append(row, symbolSuccess+" healthy", r.Detail())
			default:
				unhealthy++
				row = append(row, symbolError+" unhealthy", r.Detail())
			}
		}
		rows = append(rows, row)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable("Configured MCPs", headers, rows))

	if unhealthy > 0 {
		printFailure(out, "%d tool server(s) unhealthy", unhealthy)
		return errReported
	}
	return nil
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
