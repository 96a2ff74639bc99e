package memory

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/domain"
	"botgate/internal/infra/config"
)

type opRecorder struct {
	mu  sync.Mutex
	ops []string
}

func (r *opRecorder) MemoryOp(backend, op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	status := "ok"
	if err != nil {
		status = "error"
	}
	r.ops = append(r.ops, backend+"."+op+":"+status)
}

func newMem0(t *testing.T, h http.HandlerFunc, opts ...Mem0Option) *Mem0Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := config.Mem0Config{URL: srv.URL, APIKey: "secret", Enabled: true}
	return NewMem0Client(cfg, slog.Default(), opts...)
}

func TestMem0Store(t *testing.T) {
	var got map[string]any
	obs := &opRecorder{}
	c := newMem0(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/memories", r.URL.Path)
		assert.Equal(t, "Token secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"results":[{"id":"m-1","memory":"likes tea","event":"ADD"}]}`))
	}, WithOpObserver(obs))

	rec, err := c.Store(context.Background(), "alice", "likes tea", map[string]any{"source": "chat"})
	require.NoError(t, err)
	assert.Equal(t, "m-1", rec.ID)
	assert.Equal(t, "alice", rec.Owner)

	assert.Equal(t, "alice", got["user_id"])
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 1)
	assert.Equal(t, map[string]any{"role": "user", "content": "likes tea"}, msgs[0])
	assert.Equal(t, map[string]any{"source": "chat"}, got["metadata"])
	assert.Equal(t, []string{"mem0.store:ok"}, obs.ops)
}

func TestMem0StoreServerError(t *testing.T) {
	c := newMem0(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	_, err := c.Store(context.Background(), "alice", "x", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryStore)
	assert.ErrorIs(t, err, domain.ErrMemoryUnavailable)
}

func TestMem0SearchAndList(t *testing.T) {
	var queries []map[string]any
	var mu sync.Mutex
	c := newMem0(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/memories/search", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		mu.Lock()
		queries = append(queries, body)
		mu.Unlock()
		w.Write([]byte(`{"results":[
			{"id":"a","memory":"first","score":0.9,"user_id":"alice","created_at":"2024-07-20T01:30:36.275141-07:00"},
			{"id":"b","memory":[{"role":"user","content":"second"}],"score":0.5},
			{"id":"c","memory":"third","score":0.1}
		]}`))
	})

	recs, err := c.Search(context.Background(), "alice", "tea", 5, map[string]any{"tag": "x"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "first", recs[0].Content)
	assert.Equal(t, 0.9, recs[0].Score)
	assert.False(t, recs[0].CreatedAt.IsZero())
	assert.Equal(t, "second", recs[1].Content)
	assert.Equal(t, "alice", recs[1].Owner)

	page, err := c.List(context.Background(), "alice", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "b", page[0].ID)

	empty, err := c.List(context.Background(), "alice", 10, 5)
	require.NoError(t, err)
	assert.Empty(t, empty)

	require.Len(t, queries, 3)
	assert.Equal(t, "tea", queries[0]["query"])
	assert.Equal(t, float64(5), queries[0]["limit"])
	assert.Equal(t, map[string]any{"tag": "x"}, queries[0]["filters"])
	assert.Equal(t, "", queries[1]["query"])
	assert.Equal(t, float64(2), queries[1]["limit"])
	assert.NotContains(t, queries[1], "filters")
}

func TestMem0GetNotFound(t *testing.T) {
	c := newMem0(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/memories/known" {
			w.Write([]byte(`{"id":"known","memory":"hello","metadata":{"k":"v"}}`))
			return
		}
		http.NotFound(w, r)
	})

	rec, err := c.Get(context.Background(), "known")
	require.NoError(t, err)
	assert.Equal(t, "hello", rec.Content)
	assert.Equal(t, map[string]any{"k": "v"}, rec.Metadata)

	_, err = c.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMem0Update(t *testing.T) {
	var body map[string]any
	c := newMem0(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Write([]byte(`{"message":"Memory updated successfully!"}`))
	})

	_, err := c.Update(context.Background(), "m-1", nil, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Nil(t, body, "no request expected")

	content := "new text"
	rec, err := c.Update(context.Background(), "m-1", &content, nil)
	require.NoError(t, err)
	assert.Equal(t, "m-1", rec.ID)
	assert.Equal(t, "new text", rec.Content)
	assert.Equal(t, map[string]any{"memory": "new text"}, body)
}

func TestMem0Delete(t *testing.T) {
	c := newMem0(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		if r.URL.Path == "/v1/memories/gone" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	ok, err := c.Delete(context.Background(), "m-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Delete(context.Background(), "gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMem0Health(t *testing.T) {
	healthy := atomic.Bool{}
	healthy.Store(true)
	c := newMem0(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		if !healthy.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(`{"status":"ok"}`))
	})
	assert.True(t, c.Health(context.Background()))
	healthy.Store(false)
	assert.False(t, c.Health(context.Background()))

	down := NewMem0Client(config.Mem0Config{URL: "http://127.0.0.1:1", Enabled: true}, slog.Default())
	assert.False(t, down.Health(context.Background()))
}

func TestMem0Disabled(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	c := NewMem0Client(config.Mem0Config{URL: srv.URL}, slog.Default())
	_, err := c.Search(context.Background(), "alice", "q", 5, nil)
	assert.ErrorIs(t, err, domain.ErrDisabled)
	assert.False(t, c.Health(context.Background()))
	assert.Zero(t, hits.Load())
}

func TestMem0CircuitOpens(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := config.Mem0Config{
		URL:     srv.URL,
		Enabled: true,
		Breaker: config.BreakerConfig{MaxFailures: 2},
	}
	c := NewMem0Client(cfg, slog.Default())
	for range 2 {
		_, err := c.Search(context.Background(), "alice", "q", 5, nil)
		require.Error(t, err)
	}
	_, err := c.Search(context.Background(), "alice", "q", 5, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMemoryUnavailable)
	assert.Contains(t, err.Error(), "circuit open")
	assert.Equal(t, int32(2), hits.Load())
}

func TestMem0NotFoundDoesNotTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	c := NewMem0Client(config.Mem0Config{URL: srv.URL, Enabled: true, Breaker: config.BreakerConfig{MaxFailures: 1}}, slog.Default())
	for range 3 {
		_, err := c.Get(context.Background(), "x")
		require.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	}
}
