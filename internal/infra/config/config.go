package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the gateway-wide configuration. Per-instance settings live in
// the multibot file referenced by Gateway.BotsFile.
type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Tracer  TracerConfig  `yaml:"tracer"`
	Metrics MetricsConfig `yaml:"metrics"`
	Memory  MemoryConfig  `yaml:"memory"`
	LLM     LLMConfig     `yaml:"llm"`
	Gateway GatewayConfig `yaml:"gateway"`
}

// LoggerConfig configures the slog output.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
	Output string `yaml:"output"` // "stderr", "stdout" or a file path
}

// TracerConfig configures OpenTelemetry.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
	Endpoint string `yaml:"endpoint"`
}

// MetricsConfig configures the Prometheus endpoint served by "multibot start".
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	Path    string `yaml:"path"`
}

// BreakerConfig configures a circuit breaker around a remote dependency.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// MemoryConfig selects and configures the memory backend.
type MemoryConfig struct {
	Backend string       `yaml:"backend"` // "mem0" or "sqlite"
	Mem0    Mem0Config   `yaml:"mem0"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
}

// Mem0Config configures the Mem0 HTTP backend.
type Mem0Config struct {
	URL        string        `yaml:"url"`
	APIKey     string        `yaml:"api_key"`
	Timeout    time.Duration `yaml:"timeout"`
	Enabled    bool          `yaml:"enabled"`
	Collection string        `yaml:"collection"`
	Breaker    BreakerConfig `yaml:"breaker"`
}

// SQLiteConfig configures the local memory backend.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// LLMConfig configures the OpenAI-compatible chat endpoint used by agent loops.
type LLMConfig struct {
	Name         string        `yaml:"name"`
	BaseURL      string        `yaml:"base_url"`
	APIKey       string        `yaml:"api_key"`
	ConnTimeout  time.Duration `yaml:"conn_timeout"`
	RespTimeout  time.Duration `yaml:"resp_timeout"`
	HistoryLimit int           `yaml:"history_limit"`
	Breaker      BreakerConfig `yaml:"breaker"`
}

// GatewayConfig configures the multi-instance runtime.
type GatewayConfig struct {
	BotsFile       string        `yaml:"bots_file"`
	MediaDir       string        `yaml:"media_dir"`
	SendRate       float64       `yaml:"send_rate"` // messages per second per connection
	SendBurst      int           `yaml:"send_burst"`
	StartTimeout   time.Duration `yaml:"start_timeout"`
	StopTimeout    time.Duration `yaml:"stop_timeout"`
	HealthSchedule string        `yaml:"health_schedule"` // cron expression or duration; empty disables
}

// HomeDir returns the state directory $HOME/.botgate.
// Falls back to "./.botgate" if $HOME cannot be determined.
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botgate"
	}
	return filepath.Join(home, ".botgate")
}

// DefaultConfigPath is the gateway config location used when --config is not set.
func DefaultConfigPath() string {
	return filepath.Join(HomeDir(), "config.yaml")
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	home := HomeDir()
	return &Config{
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Exporter: "noop",
		},
		Metrics: MetricsConfig{
			Addr: ":9464",
			Path: "/metrics",
		},
		Memory: MemoryConfig{
			Backend: "mem0",
			Mem0: Mem0Config{
				URL:        "http://localhost:8000",
				Timeout:    30 * time.Second,
				Enabled:    true,
				Collection: "botgate",
			},
			SQLite: SQLiteConfig{
				Path: filepath.Join(home, "data", "memory.db"),
			},
		},
		LLM: LLMConfig{
			Name:         "openai",
			BaseURL:      "https://api.openai.com/v1",
			ConnTimeout:  30 * time.Second,
			RespTimeout:  120 * time.Second,
			HistoryLimit: 20,
		},
		Gateway: GatewayConfig{
			BotsFile:       filepath.Join(home, "bots.json"),
			MediaDir:       filepath.Join(home, "media"),
			SendRate:       25,
			SendBurst:      5,
			StartTimeout:   30 * time.Second,
			StopTimeout:    10 * time.Second,
			HealthSchedule: "@every 5m",
		},
	}
}

// Load reads a YAML config file and applies env var overrides. A missing
// file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := validatePermissions(ExpandHome(path)); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)
	cfg.Gateway.BotsFile = ExpandHome(cfg.Gateway.BotsFile)
	cfg.Gateway.MediaDir = ExpandHome(cfg.Gateway.MediaDir)
	cfg.Memory.SQLite.Path = ExpandHome(cfg.Memory.SQLite.Path)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps BOTGATE_* and MEM0_* env vars to config fields.
// The SUPERMEMORY_* names are accepted as aliases of the MEM0_* ones.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("BOTGATE_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("BOTGATE_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("BOTGATE_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("BOTGATE_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
	if v := os.Getenv("BOTGATE_METRICS_ENABLED"); v == "true" {
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("BOTGATE_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv("BOTGATE_MEMORY_BACKEND"); v != "" {
		cfg.Memory.Backend = v
	}
	if v := os.Getenv("BOTGATE_MEMORY_SQLITE_PATH"); v != "" {
		cfg.Memory.SQLite.Path = v
	}
	if v := os.Getenv("BOTGATE_LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("BOTGATE_LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("BOTGATE_BOTS_FILE"); v != "" {
		cfg.Gateway.BotsFile = v
	}
	if v := os.Getenv("BOTGATE_MEDIA_DIR"); v != "" {
		cfg.Gateway.MediaDir = v
	}
	if v := os.Getenv("BOTGATE_HEALTH_SCHEDULE"); v != "" {
		cfg.Gateway.HealthSchedule = v
	}

	if v := envAlias("MEM0_URL", "SUPERMEMORY_MCP_URL"); v != "" {
		cfg.Memory.Mem0.URL = v
	}
	if v := envAlias("MEM0_API_KEY", "SUPERMEMORY_API_KEY"); v != "" {
		cfg.Memory.Mem0.APIKey = v
	}
	if v := envAlias("MEM0_TIMEOUT", "SUPERMEMORY_TIMEOUT"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			cfg.Memory.Mem0.Timeout = time.Duration(secs * float64(time.Second))
		}
	}
	if v := envAlias("MEM0_ENABLED", "SUPERMEMORY_ENABLED"); v != "" {
		cfg.Memory.Mem0.Enabled = ParseFlag(v)
	}
	if v := os.Getenv("MEM0_COLLECTION"); v != "" {
		cfg.Memory.Mem0.Collection = v
	}
}

// envAlias returns the first non-empty value among the given env var names.
func envAlias(names ...string) string {
	for _, n := range names {
		if v := os.Getenv(n); v != "" {
			return v
		}
	}
	return ""
}

// ParseFlag interprets "true", "1", "yes" and "on" (any case) as true.
func ParseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// splitAndTrim splits s by sep, trims whitespace and drops empty elements.
func splitAndTrim(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// validatePermissions rejects config files writable by group or others.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
