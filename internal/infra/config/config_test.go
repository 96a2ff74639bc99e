package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
	if cfg.Memory.Backend != "mem0" {
		t.Errorf("Memory.Backend = %q, want mem0", cfg.Memory.Backend)
	}
	if cfg.Memory.Mem0.URL != "http://localhost:8000" {
		t.Errorf("Mem0.URL = %q", cfg.Memory.Mem0.URL)
	}
	if cfg.Memory.Mem0.Timeout != 30*time.Second {
		t.Errorf("Mem0.Timeout = %v, want 30s", cfg.Memory.Mem0.Timeout)
	}
	if !cfg.Memory.Mem0.Enabled {
		t.Error("Mem0.Enabled should default to true")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.StopTimeout != 10*time.Second {
		t.Errorf("expected defaults, got StopTimeout=%v", cfg.Gateway.StopTimeout)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
logger:
  level: "debug"
  format: "json"
memory:
  backend: "sqlite"
  sqlite:
    path: "` + filepath.Join(dir, "mem.db") + `"
gateway:
  bots_file: "` + filepath.Join(dir, "bots.yaml") + `"
  send_rate: 5
  send_burst: 2
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q, want json", cfg.Logger.Format)
	}
	if cfg.Memory.Backend != "sqlite" {
		t.Errorf("Memory.Backend = %q, want sqlite", cfg.Memory.Backend)
	}
	if cfg.Gateway.SendRate != 5 || cfg.Gateway.SendBurst != 2 {
		t.Errorf("send limits = %v/%d", cfg.Gateway.SendRate, cfg.Gateway.SendBurst)
	}
	// Unset fields keep their defaults.
	if cfg.Gateway.StopTimeout != 10*time.Second {
		t.Errorf("StopTimeout = %v", cfg.Gateway.StopTimeout)
	}
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logger:\n  level: info\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected permission error")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("BOTGATE_LOGGER_LEVEL", "debug")
	t.Setenv("BOTGATE_MEMORY_BACKEND", "sqlite")
	t.Setenv("MEM0_URL", "http://mem0.internal:8000")
	t.Setenv("MEM0_TIMEOUT", "12.5")
	t.Setenv("MEM0_ENABLED", "false")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want debug", cfg.Logger.Level)
	}
	if cfg.Memory.Backend != "sqlite" {
		t.Errorf("Memory.Backend = %q", cfg.Memory.Backend)
	}
	if cfg.Memory.Mem0.URL != "http://mem0.internal:8000" {
		t.Errorf("Mem0.URL = %q", cfg.Memory.Mem0.URL)
	}
	if cfg.Memory.Mem0.Timeout != 12500*time.Millisecond {
		t.Errorf("Mem0.Timeout = %v", cfg.Memory.Mem0.Timeout)
	}
	if cfg.Memory.Mem0.Enabled {
		t.Error("Mem0.Enabled should be false")
	}
}

func TestEnvOverridesLegacyAliases(t *testing.T) {
	t.Setenv("MEM0_URL", "")
	t.Setenv("SUPERMEMORY_MCP_URL", "http://legacy:3000")
	t.Setenv("SUPERMEMORY_API_KEY", "legacy-key")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Memory.Mem0.URL != "http://legacy:3000" {
		t.Errorf("Mem0.URL = %q", cfg.Memory.Mem0.URL)
	}
	if cfg.Memory.Mem0.APIKey != "legacy-key" {
		t.Errorf("Mem0.APIKey = %q", cfg.Memory.Mem0.APIKey)
	}
}

func TestParseFlag(t *testing.T) {
	for _, s := range []string{"true", "TRUE", "1", "yes", "On", " on "} {
		if !ParseFlag(s) {
			t.Errorf("ParseFlag(%q) = false", s)
		}
	}
	for _, s := range []string{"", "false", "0", "no", "off", "maybe"} {
		if ParseFlag(s) {
			t.Errorf("ParseFlag(%q) = true", s)
		}
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	if got := ExpandHome("~/x/y"); got != filepath.Join(home, "x", "y") {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("/abs/path"); got != "/abs/path" {
		t.Errorf("ExpandHome = %q", got)
	}
	if got := ExpandHome("~other/x"); got != "~other/x" {
		t.Errorf("ExpandHome = %q", got)
	}
}
