// Package agentloop is the LLM-backed agent loop run by every instance. It
// consumes the instance's inbound events from the bus and publishes one
// outbound reply per message.
package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"botgate/internal/domain"
	"botgate/internal/infra/tracer"
)

const (
	maxLLMAttempts = 3
	baseRetryDelay = 500 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

// Options tunes every loop built by a Factory.
type Options struct {
	HistoryLimit int
	// ReplyTimeout bounds one LLM round trip including retries.
	ReplyTimeout time.Duration
}

// NewFactory returns a domain.AgentLoopFactory producing LLM-backed loops
// that share provider.
func NewFactory(provider domain.LLMProvider, opts Options, logger *slog.Logger) domain.AgentLoopFactory {
	return func(spec domain.AgentSpec, bus domain.EventBus) (domain.AgentLoop, error) {
		if provider == nil {
			return nil, fmt.Errorf("agent loop %s: %w: no LLM provider", spec.InstanceID, domain.ErrInvalidInput)
		}
		return New(spec, bus, provider, opts, logger), nil
	}
}

// Loop answers inbound messages for one instance.
type Loop struct {
	spec     domain.AgentSpec
	bus      domain.EventBus
	provider domain.LLMProvider
	context  *ContextBuilder
	history  *History
	opts     Options
	logger   *slog.Logger

	mu        sync.Mutex
	unsub     func()
	stopped   bool
	inflight  sync.WaitGroup
	runCtx    context.Context
	cancelRun context.CancelFunc
}

func New(spec domain.AgentSpec, bus domain.EventBus, provider domain.LLMProvider, opts Options, logger *slog.Logger) *Loop {
	return &Loop{
		spec:     spec,
		bus:      bus,
		provider: provider,
		context:  NewContextBuilder(spec),
		history:  NewHistory(opts.HistoryLimit),
		opts:     opts,
		logger:   logger.With("component", "agent_loop", "instance_id", spec.InstanceID),
	}
}

// Start subscribes to the instance's inbound events.
func (l *Loop) Start(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unsub != nil {
		return nil
	}
	l.stopped = false
	l.runCtx, l.cancelRun = context.WithCancel(context.Background())
	l.unsub = l.bus.Subscribe(domain.EventMessageInbound, l.spec.InstanceID, l.handle)
	l.logger.Debug("agent loop subscribed")
	return nil
}

// Stop unsubscribes and waits for the message being answered, if any.
// Queued messages that have not started are dropped. When ctx expires
// first the in-flight LLM call is cancelled.
func (l *Loop) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.unsub == nil {
		l.mu.Unlock()
		return nil
	}
	l.unsub()
	l.unsub = nil
	l.stopped = true
	cancel := l.cancelRun
	l.mu.Unlock()

	done := make(chan struct{})
	go func() {
		l.inflight.Wait()
		close(done)
	}()

	defer cancel()
	select {
	case <-done:
		l.history.Reset()
		return nil
	case <-ctx.Done():
		return fmt.Errorf("agent loop %s: %w", l.spec.InstanceID, ctx.Err())
	}
}

func (l *Loop) handle(ctx context.Context, event domain.Event) {
	l.mu.Lock()
	if l.stopped || event.Inbound == nil {
		l.mu.Unlock()
		return
	}
	l.inflight.Add(1)
	runCtx := l.runCtx
	l.mu.Unlock()
	defer l.inflight.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()
	if l.opts.ReplyTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, l.opts.ReplyTimeout)
		defer tcancel()
	}

	l.reply(ctx, *event.Inbound)
}

func (l *Loop) reply(ctx context.Context, in domain.InboundMessage) {
	ctx, span := tracer.StartSpan(ctx, "agent.reply")
	defer span.End()
	span.SetAttributes(
		tracer.StringAttr("instance_id", l.spec.InstanceID),
		tracer.StringAttr("routing_key", in.RoutingKey.String()),
	)

	user := domain.Message{Role: domain.RoleUser, Content: in.Content, Timestamp: in.Timestamp}
	req := l.context.Build(l.history.Get(in.RoutingKey), user)

	out := domain.OutboundMessage{
		InstanceID: l.spec.InstanceID,
		RoutingKey: in.RoutingKey,
		ReplyTo:    in.ID,
		Metadata:   map[string]string{"message_id": in.Metadata["message_id"]},
		Timestamp:  time.Now(),
	}

	resp, err := l.chat(ctx, req)
	if err != nil {
		tracer.RecordError(span, err)
		l.logger.Error("agent reply failed", "routing_key", in.RoutingKey, "error", err)
		out.Content = "Sorry, I encountered an error: " + err.Error()
		out.IsError = true
	} else {
		tracer.SetOK(span)
		out.Content = resp.Message.Content
		l.history.Append(in.RoutingKey, user, resp.Message)
	}

	if err := l.bus.Publish(ctx, domain.Event{
		Type:       domain.EventMessageOutbound,
		InstanceID: l.spec.InstanceID,
		Outbound:   &out,
	}); err != nil {
		l.logger.Warn("publish reply failed", "routing_key", in.RoutingKey, "error", err)
	}
}

// chat calls the provider, retrying transient failures with backoff.
func (l *Loop) chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	var lastErr error
	for attempt := 0; attempt < maxLLMAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryBackoff(attempt - 1)):
			case <-ctx.Done():
				return nil, errors.Join(lastErr, ctx.Err())
			}
		}
		resp, err := l.provider.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !domain.IsRetryableError(err) {
			break
		}
		l.logger.Warn("llm call failed, retrying", "attempt", attempt+1, "error", err)
	}
	return nil, lastErr
}

func retryBackoff(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

var _ domain.AgentLoop = (*Loop)(nil)
