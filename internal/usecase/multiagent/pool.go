package multiagent

import (
	"sort"

	"botgate/internal/infra/config"
)

// ToolPool is the shared set of tool-server descriptors. It is built once
// and only read afterwards, so it needs no locking.
type ToolPool struct {
	servers map[string]config.ToolServerConfig
}

// NewToolPool indexes servers by name. Later duplicates are ignored; config
// validation already rejects them.
func NewToolPool(servers []config.ToolServerConfig) *ToolPool {
	p := &ToolPool{servers: make(map[string]config.ToolServerConfig, len(servers))}
	for _, s := range servers {
		if _, dup := p.servers[s.Name]; dup {
			continue
		}
		p.servers[s.Name] = s
	}
	return p
}

// Get returns the descriptor for name.
func (p *ToolPool) Get(name string) (config.ToolServerConfig, bool) {
	if p == nil {
		return config.ToolServerConfig{}, false
	}
	s, ok := p.servers[name]
	return s, ok
}

// All returns every descriptor sorted by name.
func (p *ToolPool) All() []config.ToolServerConfig {
	if p == nil {
		return nil
	}
	out := make([]config.ToolServerConfig, 0, len(p.servers))
	for _, s := range p.servers {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (p *ToolPool) Len() int {
	if p == nil {
		return 0
	}
	return len(p.servers)
}
