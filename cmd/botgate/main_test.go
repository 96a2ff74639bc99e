package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"botgate/internal/adapter/memory"
	"botgate/internal/domain"
	"botgate/internal/usecase/transfer"
)

func TestBuildRootCmdIncludesSubcommands(t *testing.T) {
	root := buildRootCmd()
	want := map[string][]string{
		"memory":   {"list", "search", "export", "import", "health"},
		"multibot": {"start", "status"},
	}
	for group, subs := range want {
		cmd, _, err := root.Find([]string{group})
		require.NoError(t, err, group)
		names := map[string]bool{}
		for _, c := range cmd.Commands() {
			names[c.Name()] = true
		}
		for _, s := range subs {
			assert.True(t, names[s], "%s %s not registered", group, s)
		}
	}
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 60))
	assert.Equal(t, "héllo...", truncate("héllo wörld", 5))
	assert.Equal(t, strings.Repeat("x", 60)+"...", truncate(strings.Repeat("x", 61), 60))
}

func TestPrintImportResult(t *testing.T) {
	res := transfer.Result{Total: 10, Success: 3, Failed: 7}
	for i := 0; i < 7; i++ {
		res.Errors = append(res.Errors, transfer.ItemError{Index: i, Err: errors.New("boom")})
	}

	var buf bytes.Buffer
	err := printImportResult(&buf, res, false)
	require.ErrorIs(t, err, errReported)

	out := buf.String()
	assert.Contains(t, out, "Import complete")
	assert.Contains(t, out, "Total: 10")
	assert.Contains(t, out, "Errors: 7")
	assert.Equal(t, maxPrintedErrors, strings.Count(out, ": boom"))
	assert.Contains(t, out, "... and 2 more")
}

func TestPrintImportResultBatchAggregate(t *testing.T) {
	res := transfer.Result{
		Total:   10,
		Success: 4,
		Failed:  6,
		Errors:  []transfer.ItemError{{Index: -1, Batch: 1, Err: errors.New("batch panicked")}},
	}

	var buf bytes.Buffer
	require.ErrorIs(t, printImportResult(&buf, res, false), errReported)

	out := buf.String()
	assert.Contains(t, out, "Errors: 6")
	assert.Contains(t, out, "batch panicked")
	assert.NotContains(t, out, "more")
}

func TestPrintImportResultDryRun(t *testing.T) {
	var buf bytes.Buffer
	err := printImportResult(&buf, transfer.Result{Total: 2, Success: 2}, true)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "Dry run results:")
	assert.NotContains(t, buf.String(), "Errors")
}

// writeConfig writes a gateway config using the sqlite backend in dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`logger:
  level: error
memory:
  backend: sqlite
  sqlite:
    path: %s
gateway:
  bots_file: %s
`, filepath.Join(dir, "memory.db"), filepath.Join(dir, "bots.yaml"))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := buildRootCmd()
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetErr(&buf)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestMemoryImportExportSQLite(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	in := filepath.Join(dir, "in.json")
	require.NoError(t, memory.SaveExportFile(in, []domain.MemoryRecord{
		{Content: "likes green tea", Metadata: map[string]any{"source": "chat"}},
		{Content: "   "},
		{Content: "lives in Hanoi"},
	}))

	out, err := execute(t, "memory", "import", in, "--user", "u42", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Total: 3")
	assert.Contains(t, out, "Success: 2")
	assert.Contains(t, out, "Skipped: 1")

	out, err = execute(t, "memory", "list", "--user", "u42", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "likes green tea")
	assert.Contains(t, out, "Total: 2 memories")

	out, err = execute(t, "memory", "search", "tea", "--user", "u42", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "likes green tea")
	assert.NotContains(t, out, "Hanoi")
	assert.Contains(t, out, "1.00")

	exported := filepath.Join(dir, "out", "export.json")
	out, err = execute(t, "memory", "export", exported, "--user", "u42", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Exported 2 memories")

	recs, err := memory.LoadExportFile(exported)
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	out, err = execute(t, "memory", "health", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "SQLite store is healthy")
}

func TestMemoryImportDryRunStoresNothing(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	in := filepath.Join(dir, "in.json")
	require.NoError(t, memory.SaveExportFile(in, []domain.MemoryRecord{{Content: "a"}, {Content: "b"}}))

	out, err := execute(t, "memory", "import", in, "--user", "u1", "--dry-run", "--sequential", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "Dry run results:")

	out, err = execute(t, "memory", "list", "--user", "u1", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "No memories found.")
}

func TestMemoryImportMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := execute(t, "memory", "import", filepath.Join(dir, "nope.json"), "--user", "u1", "--config", cfg)
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "Export file not found")
}

func TestMemoryImportInvalidFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	in := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(in, []byte("{not json"), 0600))

	out, err := execute(t, "memory", "import", in, "--user", "u1", "--config", cfg)
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "Invalid export file")
}

func TestMemoryUnknownBackend(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := execute(t, "memory", "list", "--user", "u1", "--backend", "redis", "--config", cfg)
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "unknown memory backend")
}

func TestMultibotStatusMissingFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	out, err := execute(t, "multibot", "status", "--config", cfg)
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "Configuration file not found")
}

func TestMultibotStatusWithHealthCheck(t *testing.T) {
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer broken.Close()

	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	bots := fmt.Sprintf(`bots:
  - id: sales
    name: Sales Bot
    channels:
      telegram_enabled: "yes"
      telegram_token: "123:abc"
    workspace: %s
    mcps: [search]
  - id: quiet
    name: Quiet Bot
mcps:
  mcps:
    - name: search
      type: http
      url: %s
    - name: broken
      type: http
      url: %s
`, filepath.Join(dir, "ws"), healthy.URL, broken.URL)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bots.yaml"), []byte(bots), 0600))

	out, err := execute(t, "multibot", "status", "--config", cfg)
	require.NoError(t, err, out)
	assert.Contains(t, out, "sales")
	assert.Contains(t, out, "Quiet Bot")
	assert.Contains(t, out, "search")
	assert.NotContains(t, out, "unhealthy")

	out, err = execute(t, "multibot", "status", "--check", "--config", cfg)
	require.ErrorIs(t, err, errReported)
	assert.Contains(t, out, "✓ healthy")
	assert.Contains(t, out, "✗ unhealthy")
	assert.Contains(t, out, "1 tool server(s) unhealthy")
}
