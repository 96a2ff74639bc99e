package config

import (
	"fmt"
	"net/url"
	"strings"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	validateMemory(cfg, ve)
	validateLLM(cfg, ve)
	validateGateway(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateLogger(cfg *Config, ve *ValidationError) {
	switch strings.ToLower(cfg.Logger.Level) {
	case "debug", "info", "warn", "warning", "error", "":
	default:
		ve.Add("logger.level %q is not one of debug, info, warn, error", cfg.Logger.Level)
	}
	switch strings.ToLower(cfg.Logger.Format) {
	case "text", "json", "":
	default:
		ve.Add("logger.format %q is not one of text, json", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if !cfg.Tracer.Enabled {
		return
	}
	switch cfg.Tracer.Exporter {
	case "stdout", "noop", "":
	default:
		ve.Add("tracer.exporter %q is not supported", cfg.Tracer.Exporter)
	}
}

func validateMemory(cfg *Config, ve *ValidationError) {
	switch cfg.Memory.Backend {
	case "mem0":
		if _, err := url.ParseRequestURI(cfg.Memory.Mem0.URL); err != nil {
			ve.Add("memory.mem0.url %q is not a valid URL", cfg.Memory.Mem0.URL)
		}
		if cfg.Memory.Mem0.Timeout <= 0 {
			ve.Add("memory.mem0.timeout must be > 0")
		}
	case "sqlite":
		if cfg.Memory.SQLite.Path == "" {
			ve.Add("memory.sqlite.path is required when memory.backend is sqlite")
		}
	default:
		ve.Add("memory.backend %q is not one of mem0, sqlite", cfg.Memory.Backend)
	}
}

func validateLLM(cfg *Config, ve *ValidationError) {
	if cfg.LLM.BaseURL == "" {
		ve.Add("llm.base_url is required")
	}
	if cfg.LLM.HistoryLimit < 0 {
		ve.Add("llm.history_limit must be >= 0")
	}
}

func validateGateway(cfg *Config, ve *ValidationError) {
	g := cfg.Gateway
	if g.BotsFile == "" {
		ve.Add("gateway.bots_file is required")
	}
	if g.SendRate < 0 {
		ve.Add("gateway.send_rate must be >= 0")
	}
	if g.SendRate > 0 && g.SendBurst <= 0 {
		ve.Add("gateway.send_burst must be > 0 when send_rate is set")
	}
	if g.StopTimeout <= 0 {
		ve.Add("gateway.stop_timeout must be > 0")
	}
}

// ValidateMultiBot checks instance ids, telegram tokens and tool server
// names for uniqueness and tool server kinds for completeness.
func ValidateMultiBot(cfg *MultiBotConfig) error {
	ve := &ValidationError{}

	seenBots := make(map[string]bool, len(cfg.Bots))
	tokenOwner := make(map[string]int, len(cfg.Bots))
	for i, b := range cfg.Bots {
		if tok := b.Channels.TelegramToken; tok != "" {
			if first, dup := tokenOwner[tok]; dup {
				ve.Add("bots[%d].channels.telegram_token duplicates bots[%d]", i, first)
			} else {
				tokenOwner[tok] = i
			}
		}
		if b.ID == "" {
			ve.Add("bots[%d].id is required", i)
			continue
		}
		if strings.ContainsAny(b.ID, `:/\`) || strings.Contains(b.ID, "..") {
			ve.Add("bots[%d].id %q contains invalid characters", i, b.ID)
		}
		if seenBots[b.ID] {
			ve.Add("bots[%d].id %q is duplicated", i, b.ID)
		}
		seenBots[b.ID] = true
		if b.Agent.MaxTokens < 0 {
			ve.Add("bots[%d] (%s): agent.max_tokens must be >= 0", i, b.ID)
		}
	}

	seenTools := make(map[string]bool, len(cfg.ToolServers.Servers))
	for i, s := range cfg.ToolServers.Servers {
		if s.Name == "" {
			ve.Add("mcps[%d].name is required", i)
			continue
		}
		if seenTools[s.Name] {
			ve.Add("mcps[%d].name %q is duplicated", i, s.Name)
		}
		seenTools[s.Name] = true
		switch s.Kind {
		case ToolServerCommand:
			if s.Command == "" {
				ve.Add("mcps[%d] (%s): command is required for type command", i, s.Name)
			}
		case ToolServerHTTP:
			if s.URL == "" {
				ve.Add("mcps[%d] (%s): url is required for type http", i, s.Name)
			}
		default:
			ve.Add("mcps[%d] (%s): type %q is not one of command, http", i, s.Name, s.Kind)
		}
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}
