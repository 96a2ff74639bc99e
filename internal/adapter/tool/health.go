package tool

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"botgate/internal/domain"
	"botgate/internal/infra/config"
)

const (
	defaultHealthEndpoint = "/health"
	defaultHTTPTimeout    = 5 * time.Second
	defaultCommandTimeout = 15 * time.Second
)

// mcpClient is the part of the mcp-go client a health check needs.
type mcpClient interface {
	Initialize(ctx context.Context, request mcp.InitializeRequest) (*mcp.InitializeResult, error)
	ListTools(ctx context.Context, request mcp.ListToolsRequest) (*mcp.ListToolsResult, error)
	Close() error
}

// dialFunc starts a stdio MCP client for a command server.
type dialFunc func(ctx context.Context, srv config.ToolServerConfig) (mcpClient, error)

// HealthObserver receives every health check outcome.
type HealthObserver interface {
	ToolServerHealth(server string, healthy bool)
}

// HealthResult is the outcome of probing one tool server.
type HealthResult struct {
	Name    string
	Kind    string
	Healthy bool
	// Tools is the number of tools a command server advertised.
	Tools   int
	Latency time.Duration
	Err     error
}

// Detail renders the result for status tables.
func (r HealthResult) Detail() string {
	switch {
	case r.Err != nil:
		return r.Err.Error()
	case r.Kind == config.ToolServerCommand:
		return fmt.Sprintf("%d tools", r.Tools)
	default:
		return "responding"
	}
}

// HealthChecker checks HTTP and command tool servers.
type HealthChecker struct {
	client   *http.Client
	dial     dialFunc
	observer HealthObserver
	logger   *slog.Logger
}

// HealthOption configures a HealthChecker.
type HealthOption func(*HealthChecker)

// WithHealthHTTPClient replaces the HTTP client used for HTTP health checks.
func WithHealthHTTPClient(c *http.Client) HealthOption {
	return func(h *HealthChecker) { h.client = c }
}

// WithHealthObserver reports every health check outcome to o.
func WithHealthObserver(o HealthObserver) HealthOption {
	return func(h *HealthChecker) { h.observer = o }
}

func withDialer(d dialFunc) HealthOption {
	return func(h *HealthChecker) { h.dial = d }
}

// NewHealthChecker creates a checker that launches real MCP subprocesses
// for command servers.
func NewHealthChecker(logger *slog.Logger, opts ...HealthOption) *HealthChecker {
	h := &HealthChecker{
		client: &http.Client{},
		dial:   dialStdio,
		logger: logger.With("component", "tool_health"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func dialStdio(_ context.Context, srv config.ToolServerConfig) (mcpClient, error) {
	c, err := mcpclient.NewStdioMCPClient(srv.Command, envSlice(srv.Env), srv.Args...)
	if err != nil {
		return nil, fmt.Errorf("create stdio client: %w", err)
	}
	return c, nil
}

// Check tests one server. It never panics and never returns an error;
// failures are reported in the result.
func (h *HealthChecker) Check(ctx context.Context, srv config.ToolServerConfig) HealthResult {
	start := time.Now()
	res := HealthResult{Name: srv.Name, Kind: srv.Kind}

	switch srv.Kind {
	case config.ToolServerHTTP:
		res.Err = h.checkHTTP(ctx, srv)
	case config.ToolServerCommand:
		res.Tools, res.Err = h.checkCommand(ctx, srv)
	default:
		res.Err = fmt.Errorf("%w: unknown tool server type %q", domain.ErrInvalidInput, srv.Kind)
	}

	res.Latency = time.Since(start)
	res.Healthy = res.Err == nil
	if res.Err != nil {
		h.logger.Warn("tool server unhealthy", "server", srv.Name, "type", srv.Kind, "error", res.Err)
	} else {
		h.logger.Debug("tool server healthy", "server", srv.Name, "type", srv.Kind, "latency", res.Latency)
	}
	if h.observer != nil {
		h.observer.ToolServerHealth(srv.Name, res.Healthy)
	}
	return res
}

// CheckAll checks every server concurrently. Results keep input order.
func (h *HealthChecker) CheckAll(ctx context.Context, servers []config.ToolServerConfig) []HealthResult {
	results := make([]HealthResult, len(servers))
	var wg sync.WaitGroup
	for i, srv := range servers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = h.Check(ctx, srv)
		}()
	}
	wg.Wait()
	return results
}

func (h *HealthChecker) checkHTTP(ctx context.Context, srv config.ToolServerConfig) error {
	if srv.URL == "" {
		return fmt.Errorf("%w: http server has no url", domain.ErrInvalidInput)
	}
	endpoint := srv.HealthCheckEndpoint
	if endpoint == "" {
		endpoint = defaultHealthEndpoint
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(srv, defaultHTTPTimeout))
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(srv.URL, "/")+endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w: %v", domain.ErrToolServer, domain.ErrTimeout, err)
		}
		return fmt.Errorf("%w: %v", domain.ErrToolServer, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health endpoint returned %d", domain.ErrToolServer, resp.StatusCode)
	}
	return nil
}

func (h *HealthChecker) checkCommand(ctx context.Context, srv config.ToolServerConfig) (int, error) {
	if srv.Command == "" {
		return 0, fmt.Errorf("%w: command server has no command", domain.ErrInvalidInput)
	}
	ctx, cancel := context.WithTimeout(ctx, timeoutOf(srv, defaultCommandTimeout))
	defer cancel()

	c, err := h.dial(ctx, srv)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrToolServer, err)
	}
	defer func() {
		if err := c.Close(); err != nil {
			h.logger.Debug("mcp health check close error", "server", srv.Name, "error", err)
		}
	}()

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "botgate", Version: "1.0.0"}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrToolServer, domain.WrapOp("initialize", err))
	}
	result, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", domain.ErrToolServer, domain.WrapOp("list tools", err))
	}
	return len(result.Tools), nil
}

func timeoutOf(srv config.ToolServerConfig, def time.Duration) time.Duration {
	if srv.HealthCheckTimeout > 0 {
		return time.Duration(srv.HealthCheckTimeout) * time.Second
	}
	return def
}

// envSlice converts a map to KEY=VALUE pairs in key order.
func envSlice(m map[string]string) []string {
	if len(m) == 0 {
		return nil
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}
