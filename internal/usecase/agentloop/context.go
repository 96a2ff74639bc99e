package agentloop

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"botgate/internal/domain"
)

const maxContextFileBytes = 64 * 1024

// ContextBuilder assembles the system prompt for one instance from the
// documents in its workspace.
type ContextBuilder struct {
	spec domain.AgentSpec
}

func NewContextBuilder(spec domain.AgentSpec) *ContextBuilder {
	return &ContextBuilder{spec: spec}
}

// SystemPrompt concatenates SOUL.md, AGENTS.md and memory/MEMORY.md (each
// when present) and lists the tool servers the instance may use. Files are
// re-read on every call so edits apply without a restart.
func (cb *ContextBuilder) SystemPrompt() string {
	var sections []string
	for _, rel := range []string{"SOUL.md", "AGENTS.md", filepath.Join("memory", "MEMORY.md")} {
		text, err := readContextFile(filepath.Join(cb.spec.Workspace, rel))
		if err != nil || text == "" {
			continue
		}
		if rel == filepath.Join("memory", "MEMORY.md") {
			text = "## Long-term Memory\n\n" + text
		}
		sections = append(sections, text)
	}
	if len(sections) == 0 {
		sections = append(sections, fmt.Sprintf("You are %s, a helpful AI assistant.", cb.displayName()))
	}
	if len(cb.spec.ToolServers) > 0 {
		sections = append(sections, "## Tool Servers\n\n- "+strings.Join(cb.spec.ToolServers, "\n- "))
	}
	sections = append(sections, "Current time: "+time.Now().Format(time.RFC1123))
	return strings.Join(sections, "\n\n")
}

// Build returns a chat request of system prompt, history and the new user turn.
func (cb *ContextBuilder) Build(history []domain.Message, user domain.Message) domain.ChatRequest {
	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{
		Role:      domain.RoleSystem,
		Content:   cb.SystemPrompt(),
		Timestamp: time.Now(),
	})
	messages = append(messages, history...)
	messages = append(messages, user)

	return domain.ChatRequest{
		Model:       cb.spec.Model,
		Messages:    messages,
		MaxTokens:   cb.spec.MaxTokens,
		Temperature: cb.spec.Temperature,
	}
}

func (cb *ContextBuilder) displayName() string {
	if cb.spec.Name != "" {
		return cb.spec.Name
	}
	return cb.spec.InstanceID
}

func readContextFile(path string) (string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxContextFileBytes))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// History keeps the most recent turns per conversation.
type History struct {
	mu    sync.Mutex
	limit int
	turns map[domain.RoutingKey][]domain.Message
}

// NewHistory keeps at most limit messages per conversation; limit <= 0
// disables history.
func NewHistory(limit int) *History {
	return &History{limit: limit, turns: make(map[domain.RoutingKey][]domain.Message)}
}

// Get returns a copy of the conversation's messages.
func (h *History) Get(key domain.RoutingKey) []domain.Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Message(nil), h.turns[key]...)
}

// Append records messages and trims to the limit.
func (h *History) Append(key domain.RoutingKey, msgs ...domain.Message) {
	if h.limit <= 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	turns := append(h.turns[key], msgs...)
	if len(turns) > h.limit {
		turns = append([]domain.Message(nil), turns[len(turns)-h.limit:]...)
	}
	h.turns[key] = turns
}

// Reset forgets every conversation.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.turns = make(map[domain.RoutingKey][]domain.Message)
}
