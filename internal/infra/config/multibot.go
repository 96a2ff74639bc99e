package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Tool server kinds.
const (
	ToolServerCommand = "command"
	ToolServerHTTP    = "http"
)

// Agent tuning defaults applied to instances that omit them.
const (
	DefaultAgentModel       = "zai/glm-4.7"
	DefaultAgentTemperature = 0.7
	DefaultAgentMaxTokens   = 8192
	DefaultWorkspace        = "~/.botgate/workspace"
)

// MultiBotConfig is the declarative description of every instance and the
// shared tool-server pool. Both YAML and JSON documents are accepted.
type MultiBotConfig struct {
	Bots        []InstanceConfig `yaml:"bots" json:"bots"`
	ToolServers ToolServerList   `yaml:"mcps" json:"mcps"`
	Includes    []string         `yaml:"includes,omitempty" json:"includes,omitempty"`
}

// ToolServerList wraps the pool so the file layout reads {"mcps": {"mcps": [...]}}.
type ToolServerList struct {
	Servers []ToolServerConfig `yaml:"mcps" json:"mcps"`
}

// InstanceConfig describes one bot personality.
type InstanceConfig struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description" json:"description"`
	Channels    ChannelConfig `yaml:"channels" json:"channels"`
	Workspace   string        `yaml:"workspace" json:"workspace"`
	Agent       AgentTuning   `yaml:"agent" json:"agent"`
	ToolServers []string      `yaml:"mcps" json:"mcps"`
}

// ChannelConfig holds the chat credentials of one instance.
type ChannelConfig struct {
	TelegramEnabled   FlexBool   `yaml:"telegram_enabled" json:"telegram_enabled"`
	TelegramToken     string     `yaml:"telegram_token" json:"telegram_token"`
	TelegramAllowFrom StringList `yaml:"telegram_allow_from" json:"telegram_allow_from"`
}

// AgentTuning holds per-instance model settings.
type AgentTuning struct {
	Model       string  `yaml:"model" json:"model"`
	Temperature float64 `yaml:"temperature" json:"temperature"`
	MaxTokens   int     `yaml:"max_tokens" json:"max_tokens"`
}

// ToolServerConfig is a shared, read-only tool server descriptor.
type ToolServerConfig struct {
	Name                string            `yaml:"name" json:"name"`
	Kind                string            `yaml:"type" json:"type"`
	Description         string            `yaml:"description" json:"description"`
	Command             string            `yaml:"command" json:"command"`
	Args                []string          `yaml:"args" json:"args"`
	URL                 string            `yaml:"url" json:"url"`
	Env                 map[string]string `yaml:"env" json:"env"`
	HealthCheckEnabled  bool              `yaml:"health_check_enabled" json:"health_check_enabled"`
	HealthCheckEndpoint string            `yaml:"health_check_endpoint" json:"health_check_endpoint"`
	HealthCheckTimeout  int               `yaml:"health_check_timeout" json:"health_check_timeout"` // seconds
}

// UnmarshalYAML fills omitted fields with defaults before decoding.
func (c *InstanceConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain InstanceConfig
	p := plain{
		Workspace: DefaultWorkspace,
		Agent: AgentTuning{
			Model:       DefaultAgentModel,
			Temperature: DefaultAgentTemperature,
			MaxTokens:   DefaultAgentMaxTokens,
		},
	}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*c = InstanceConfig(p)
	return nil
}

// UnmarshalYAML fills omitted fields with defaults before decoding.
func (t *ToolServerConfig) UnmarshalYAML(node *yaml.Node) error {
	type plain ToolServerConfig
	p := plain{
		HealthCheckEnabled:  true,
		HealthCheckEndpoint: "/health",
		HealthCheckTimeout:  5,
	}
	if err := node.Decode(&p); err != nil {
		return err
	}
	*t = ToolServerConfig(p)
	return nil
}

// FlexBool accepts YAML/JSON booleans as well as the strings
// "true", "1", "yes" and "on".
type FlexBool bool

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *FlexBool) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: expected a scalar for a boolean flag", node.Line)
	}
	switch node.Tag {
	case "!!bool":
		var v bool
		if err := node.Decode(&v); err != nil {
			return err
		}
		*b = FlexBool(v)
	case "!!int", "!!float":
		*b = FlexBool(node.Value != "0" && node.Value != "0.0")
	default:
		*b = FlexBool(ParseFlag(node.Value))
	}
	return nil
}

// StringList accepts a sequence, a JSON array encoded as a string, or a
// comma-separated string. Numeric entries are kept in their literal form.
type StringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *StringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		out := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: allow-list entries must be scalars", item.Line)
			}
			out = append(out, strings.TrimSpace(item.Value))
		}
		*l = out
	case yaml.ScalarNode:
		*l = parseListString(node.Value)
	default:
		return fmt.Errorf("line %d: expected a list or a string", node.Line)
	}
	return nil
}

func parseListString(s string) StringList {
	s = strings.TrimSpace(s)
	if s == "" {
		return StringList{}
	}
	if strings.HasPrefix(s, "[") {
		var raw []any
		if err := json.Unmarshal([]byte(s), &raw); err == nil {
			out := make(StringList, 0, len(raw))
			for _, v := range raw {
				switch x := v.(type) {
				case string:
					out = append(out, x)
				case float64:
					out = append(out, strconv.FormatFloat(x, 'f', -1, 64))
				default:
					out = append(out, fmt.Sprint(x))
				}
			}
			return out
		}
	}
	return StringList(splitAndTrim(s, ","))
}

// Bot returns the instance config with the given id.
func (m *MultiBotConfig) Bot(id string) (*InstanceConfig, bool) {
	for i := range m.Bots {
		if m.Bots[i].ID == id {
			return &m.Bots[i], true
		}
	}
	return nil, false
}

// ToolServer returns the tool server descriptor with the given name.
func (m *MultiBotConfig) ToolServer(name string) (*ToolServerConfig, bool) {
	for i := range m.ToolServers.Servers {
		if m.ToolServers.Servers[i].Name == name {
			return &m.ToolServers.Servers[i], true
		}
	}
	return nil, false
}

// LoadMultiBot reads the multibot file at path. A missing file yields an
// empty configuration and no error. Workspaces are resolved to absolute
// paths and the result is validated.
func LoadMultiBot(path string) (*MultiBotConfig, error) {
	path = ExpandHome(path)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &MultiBotConfig{}, nil
		}
		return nil, fmt.Errorf("read multibot config: %w", err)
	}

	cfg := &MultiBotConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse multibot config %s: %w", path, err)
	}

	if len(cfg.Includes) > 0 {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve multibot config path: %w", err)
		}
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}
	}

	if err := cfg.resolveWorkspaces(); err != nil {
		return nil, err
	}
	if err := ValidateMultiBot(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (m *MultiBotConfig) resolveWorkspaces() error {
	for i := range m.Bots {
		ws := m.Bots[i].Workspace
		if ws == "" {
			ws = DefaultWorkspace
		}
		abs, err := filepath.Abs(ExpandHome(ws))
		if err != nil {
			return fmt.Errorf("bot %q: resolve workspace: %w", m.Bots[i].ID, err)
		}
		m.Bots[i].Workspace = abs
	}
	return nil
}

// SaveMultiBot writes cfg as indented JSON, creating parent directories.
func SaveMultiBot(path string, cfg *MultiBotConfig) error {
	path = ExpandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal multibot config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write multibot config: %w", err)
	}
	return nil
}
