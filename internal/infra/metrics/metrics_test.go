package metrics

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/infra/config"
)

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	m.EventPublished("message.inbound")
	m.Inbound("a", "accepted")
	m.Outbound("a", "ok", time.Millisecond)
	m.MemoryOp("mem0", "store", nil)
	m.ImportItem("success")
	m.LLMRequest("openai", errors.New("x"))
	m.SetInstancesRunning(2)
	m.ToolServerHealth("s", true)
	assert.Nil(t, m.Registry())
}

func TestCountersRecord(t *testing.T) {
	m := New()
	m.MemoryOp("sqlite", "store", nil)
	m.MemoryOp("sqlite", "store", errors.New("disk full"))
	m.MemoryOp("sqlite", "store", nil)
	m.ToolServerHealth("search", true)
	m.SetInstancesRunning(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.MemoryOps.WithLabelValues("sqlite", "store", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MemoryOps.WithLabelValues("sqlite", "store", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolServerUp.WithLabelValues("search")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.InstancesRunning))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.ImportItem("skipped")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `botgate_memory_import_items_total{outcome="skipped"} 1`)
}

func TestServe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := New()
	m.EventPublished("message.outbound")
	addr, err := Serve(ctx, m, config.MetricsConfig{Addr: "127.0.0.1:0", Path: "/metrics"}, slog.Default())
	require.NoError(t, err)

	resp, err := http.Get("http://" + addr.String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.True(t, strings.Contains(string(body), "botgate_bus_events_published_total"))
}
