package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"botgate/internal/domain"
	"botgate/internal/infra/config"
	"botgate/internal/infra/tracer"
)

const (
	defaultMem0URL     = "http://localhost:8000"
	defaultMem0Timeout = 30 * time.Second
	maxMem0Body        = 8 * 1024 * 1024

	defaultBreakerFailures uint32 = 5
	defaultBreakerTimeout         = 30 * time.Second
	defaultBreakerInterval        = 60 * time.Second
)

// OpObserver is told about the outcome of every backend call.
type OpObserver interface {
	MemoryOp(backend, op string, err error)
}

// Mem0Client talks to a Mem0 server over its REST API.
type Mem0Client struct {
	baseURL    string
	apiKey     string
	collection string
	enabled    bool
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	observer   OpObserver
	logger     *slog.Logger
}

// Mem0Option configures a Mem0Client.
type Mem0Option func(*Mem0Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Mem0Option {
	return func(m *Mem0Client) { m.client = c }
}

// WithOpObserver reports call outcomes to o.
func WithOpObserver(o OpObserver) Mem0Option {
	return func(m *Mem0Client) { m.observer = o }
}

// NewMem0Client creates a client from cfg. Zero values fall back to defaults.
func NewMem0Client(cfg config.Mem0Config, logger *slog.Logger, opts ...Mem0Option) *Mem0Client {
	baseURL := strings.TrimRight(cfg.URL, "/")
	if baseURL == "" {
		baseURL = defaultMem0URL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultMem0Timeout
	}

	m := &Mem0Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		enabled:    cfg.Enabled,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With("component", "memory", "backend", "mem0"),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.breaker = newBreaker("mem0", cfg.Breaker, m.logger)
	return m
}

func newBreaker(name string, cfg config.BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[[]byte] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "memory:" + name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidInput)
		},
	})
}

// Name implements domain.MemoryBackend.
func (m *Mem0Client) Name() string { return "mem0" }

// Collection returns the configured collection name.
func (m *Mem0Client) Collection() string { return m.collection }

// URL returns the server base URL.
func (m *Mem0Client) URL() string { return m.baseURL }

// Store implements domain.MemoryBackend.
func (m *Mem0Client) Store(ctx context.Context, owner, content string, metadata map[string]any) (rec *domain.MemoryRecord, err error) {
	ctx, done := m.begin(ctx, "store", &err)
	defer done()

	if metadata == nil {
		metadata = map[string]any{}
	}
	payload := map[string]any{
		"messages": []map[string]string{{"role": "user", "content": content}},
		"user_id":  owner,
		"metadata": metadata,
	}
	body, err := m.call(ctx, http.MethodPost, "/v1/memories", payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMemoryStore, err)
	}

	rec = &domain.MemoryRecord{Owner: owner, Content: content, Metadata: metadata}
	items, err := decodeResults(body)
	if err != nil {
		return nil, fmt.Errorf("%w: decode response: %w", domain.ErrMemoryStore, err)
	}
	if len(items) > 0 {
		rec.ID = items[0].ID
	}
	return rec, nil
}

// Search implements domain.MemoryBackend.
func (m *Mem0Client) Search(ctx context.Context, owner, query string, limit int, filters map[string]any) (recs []domain.MemoryRecord, err error) {
	ctx, done := m.begin(ctx, "search", &err)
	defer done()
	return m.search(ctx, owner, query, limit, filters)
}

func (m *Mem0Client) search(ctx context.Context, owner, query string, limit int, filters map[string]any) ([]domain.MemoryRecord, error) {
	payload := map[string]any{
		"query":   query,
		"user_id": owner,
		"limit":   limit,
	}
	if len(filters) > 0 {
		payload["filters"] = filters
	}
	body, err := m.call(ctx, http.MethodPost, "/v1/memories/search", payload)
	if err != nil {
		return nil, err
	}
	items, err := decodeResults(body)
	if err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	recs := make([]domain.MemoryRecord, 0, len(items))
	for _, it := range items {
		recs = append(recs, it.record(owner))
	}
	return recs, nil
}

// List returns up to limit records after skipping offset. Mem0 has no list
// endpoint, so this is an empty-query search sliced locally.
func (m *Mem0Client) List(ctx context.Context, owner string, limit, offset int) (recs []domain.MemoryRecord, err error) {
	ctx, done := m.begin(ctx, "list", &err)
	defer done()

	if offset < 0 {
		offset = 0
	}
	all, err := m.search(ctx, owner, "", limit+offset, nil)
	if err != nil {
		return nil, err
	}
	if offset >= len(all) {
		return []domain.MemoryRecord{}, nil
	}
	all = all[offset:]
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Get implements domain.MemoryBackend.
func (m *Mem0Client) Get(ctx context.Context, id string) (rec *domain.MemoryRecord, err error) {
	ctx, done := m.begin(ctx, "get", &err)
	defer done()

	body, err := m.call(ctx, http.MethodGet, "/v1/memories/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	var it mem0Item
	if err := json.Unmarshal(body, &it); err != nil {
		return nil, fmt.Errorf("decode memory %s: %w", id, err)
	}
	r := it.record("")
	return &r, nil
}

// Update implements domain.MemoryBackend.
func (m *Mem0Client) Update(ctx context.Context, id string, content *string, metadata map[string]any) (rec *domain.MemoryRecord, err error) {
	ctx, done := m.begin(ctx, "update", &err)
	defer done()

	payload := map[string]any{}
	if content != nil && *content != "" {
		payload["memory"] = *content
	}
	if len(metadata) > 0 {
		payload["metadata"] = metadata
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: update needs content or metadata", domain.ErrInvalidInput)
	}

	body, err := m.call(ctx, http.MethodPatch, "/v1/memories/"+url.PathEscape(id), payload)
	if err != nil {
		return nil, err
	}
	var it mem0Item
	if len(bytes.TrimSpace(body)) > 0 {
		// Some server versions answer with a bare status message.
		_ = json.Unmarshal(body, &it)
	}
	r := it.record("")
	if r.ID == "" {
		r.ID = id
	}
	if r.Content == "" && content != nil {
		r.Content = *content
	}
	if r.Metadata == nil {
		r.Metadata = metadata
	}
	return &r, nil
}

// Delete implements domain.MemoryBackend. An unknown id reports false.
func (m *Mem0Client) Delete(ctx context.Context, id string) (ok bool, err error) {
	ctx, done := m.begin(ctx, "delete", &err)
	defer done()

	_, err = m.call(ctx, http.MethodDelete, "/v1/memories/"+url.PathEscape(id), nil)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrMemoryDelete, err)
	}
	return true, nil
}

// Health reports whether GET /v1/health answers 200. It bypasses the
// breaker so a health check can observe recovery.
func (m *Mem0Client) Health(ctx context.Context) bool {
	var err error
	ctx, done := m.begin(ctx, "health", &err)
	defer done()

	if !m.enabled {
		err = domain.ErrDisabled
		return false
	}
	_, err = m.do(ctx, http.MethodGet, "/v1/health", nil)
	if err != nil {
		m.logger.Debug("health check failed", "url", m.baseURL, "error", err)
		return false
	}
	return true
}

// begin opens the span for op and returns a closer that records *errp.
func (m *Mem0Client) begin(ctx context.Context, op string, errp *error) (context.Context, func()) {
	ctx, span := tracer.StartSpan(ctx, "memory."+op)
	span.SetAttributes(tracer.StringAttr("memory.backend", "mem0"))
	return ctx, func() {
		if *errp != nil {
			tracer.RecordError(span, *errp)
		} else {
			tracer.SetOK(span)
		}
		span.End()
		if m.observer != nil {
			m.observer.MemoryOp("mem0", op, *errp)
		}
	}
}

// call runs one request through the circuit breaker.
func (m *Mem0Client) call(ctx context.Context, method, path string, payload any) ([]byte, error) {
	if !m.enabled {
		return nil, fmt.Errorf("%w: mem0 backend", domain.ErrDisabled)
	}
	body, err := m.breaker.Execute(func() ([]byte, error) {
		return m.do(ctx, method, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: circuit open: %v", domain.ErrMemoryUnavailable, err)
	}
	return body, err
}

func (m *Mem0Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: encode request: %v", domain.ErrInvalidInput, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, m.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.apiKey != "" {
		req.Header.Set("Authorization", "Token "+m.apiKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrMemoryUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMem0Body))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", domain.ErrNotFound, method, path)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: mem0 returned %d", domain.ErrAuthInvalid, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: mem0 returned 429", domain.ErrRateLimit)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, fmt.Errorf("%w: mem0 returned %d: %s", domain.ErrInvalidInput, resp.StatusCode, truncate(string(body), 200))
	default:
		return nil, fmt.Errorf("%w: mem0 returned %d: %s", domain.ErrMemoryUnavailable, resp.StatusCode, truncate(string(body), 200))
	}
}

// mem0Item is one entry of a Mem0 results array.
type mem0Item struct {
	ID        string          `json:"id"`
	Memory    json.RawMessage `json:"memory"`
	UserID    string          `json:"user_id"`
	Score     float64         `json:"score"`
	Metadata  map[string]any  `json:"metadata"`
	CreatedAt string          `json:"created_at"`
	UpdatedAt string          `json:"updated_at"`
}

func (it mem0Item) record(owner string) domain.MemoryRecord {
	if it.UserID != "" {
		owner = it.UserID
	}
	return domain.MemoryRecord{
		ID:        it.ID,
		Owner:     owner,
		Content:   memoryText(it.Memory),
		Metadata:  it.Metadata,
		Score:     it.Score,
		CreatedAt: parseTime(it.CreatedAt),
		UpdatedAt: parseTime(it.UpdatedAt),
	}
}

// memoryText accepts either a plain string or a message list and returns
// the first message content.
func memoryText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var msgs []struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(raw, &msgs); err == nil && len(msgs) > 0 {
		return msgs[0].Content
	}
	return string(raw)
}

// decodeResults accepts {"results":[...]} or a bare array.
func decodeResults(body []byte) ([]mem0Item, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, nil
	}
	if body[0] == '[' {
		var items []mem0Item
		err := json.Unmarshal(body, &items)
		return items, err
	}
	var wrapped struct {
		Results []mem0Item `json:"results"`
	}
	err := json.Unmarshal(body, &wrapped)
	return wrapped.Results, err
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

var _ domain.MemoryBackend = (*Mem0Client)(nil)
