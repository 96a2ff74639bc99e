// Command botgate runs several Telegram bot personalities behind one
// gateway and manages their long-term memory.
//
// Start every enabled bot:
//
//	botgate multibot start --bots ~/.botgate/bots.json
//
// Move memories between stores:
//
//	botgate memory export backup.json --user 42
//	botgate memory import backup.json --user 42 --backend sqlite
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"botgate/internal/domain"
	"botgate/internal/infra/config"
	"botgate/internal/infra/logger"
	"botgate/internal/infra/metrics"
	"botgate/internal/infra/tracer"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// errReported marks a failure that was already printed to the user.
var errReported = errors.New("failure reported")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := buildRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, textError.Render(symbolError+" "+err.Error()))
		}
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:   "botgate",
		Short: "Multi-bot Telegram gateway",
		Long: `botgate runs several independently configured bot personalities at once.
Each bot has its own workspace, tool servers and Telegram token while all of
them share one message bus and one pool of tool servers.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return e.load(cmd.Context())
		},
	}
	root.PersistentFlags().StringVarP(&e.configPath, "config", "c", config.DefaultConfigPath(), "Path to the gateway config file")

	root.AddCommand(
		buildMemoryCmd(e),
		buildMultibotCmd(e),
	)
	return root
}

// env is what every command gets after the gateway config has been loaded.
type env struct {
	configPath string

	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics
	closers []func(context.Context) error
}

func (e *env) load(ctx context.Context) error {
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrConfigLoad, err)
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("%w: logger: %w", domain.ErrConfigLoad, err)
	}
	shutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		closeLog()
		return fmt.Errorf("%w: tracer: %w", domain.ErrConfigLoad, err)
	}

	e.cfg = cfg
	e.logger = log
	e.metrics = metrics.New()
	e.closers = append(e.closers, shutdown, func(context.Context) error { return closeLog() })
	return nil
}

// close runs cleanups in reverse order.
func (e *env) close(ctx context.Context) error {
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	e.closers = nil
	return errors.Join(errs...)
}

func (e *env) onClose(fn func(context.Context) error) {
	e.closers = append(e.closers, fn)
}

// run wraps a command handler so cleanups run even when it fails.
func (e *env) run(fn func(cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := e.close(context.WithoutCancel(cmd.Context())); err == nil {
				err = cerr
			}
		}()
		return fn(cmd, args)
	}
}
