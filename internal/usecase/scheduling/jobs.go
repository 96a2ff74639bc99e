package scheduling

import (
	"context"
	"fmt"

	"botgate/internal/domain"
)

// HealthReporter receives health check outcomes, typically a metrics gauge.
type HealthReporter interface {
	ToolServerHealth(server string, healthy bool)
}

// CheckFunc checks a set of dependencies and returns how many were healthy
// out of how many were checked.
type CheckFunc func(ctx context.Context) (healthy, total int)

// ToolHealthJob wraps check as an action that fails when any tool server is
// down.
func ToolHealthJob(check CheckFunc) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		healthy, total := check(ctx)
		if healthy < total {
			return fmt.Errorf("%w: %d of %d tool servers down", domain.ErrToolServer, total-healthy, total)
		}
		return nil
	}
}

// MemoryHealthJob checks backend and reports it as "memory:<name>".
// reporter may be nil.
func MemoryHealthJob(backend domain.MemoryBackend, reporter HealthReporter) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ok := backend.Health(ctx)
		if reporter != nil {
			reporter.ToolServerHealth("memory:"+backend.Name(), ok)
		}
		if !ok {
			return fmt.Errorf("%w: %s", domain.ErrMemoryUnavailable, backend.Name())
		}
		return nil
	}
}
