package multiagent

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	soulFile   = "SOUL.md"
	agentsFile = "AGENTS.md"
)

const defaultAgents = `# Agent Instructions

You are a helpful AI assistant.

## Guidelines

- Always explain what you are doing
- Use tools when needed
- Remember important information
`

// Workspace is one instance's private directory.
type Workspace struct {
	root string
}

// NewWorkspace returns a Workspace rooted at dir. Nothing is created yet.
func NewWorkspace(dir string) *Workspace {
	return &Workspace{root: dir}
}

func (w *Workspace) Root() string { return w.root }

// MemoryDir is <root>/memory.
func (w *Workspace) MemoryDir() string { return filepath.Join(w.root, "memory") }

// SkillsDir is <root>/skills.
func (w *Workspace) SkillsDir() string { return filepath.Join(w.root, "skills") }

// Ensure creates the directory layout and writes SOUL.md and AGENTS.md when
// they are missing. Existing files are never overwritten.
func (w *Workspace) Ensure(name, description string) error {
	if w.root == "" {
		return fmt.Errorf("workspace: root must not be empty")
	}
	for _, dir := range []string{w.root, w.MemoryDir(), w.SkillsDir()} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return fmt.Errorf("workspace: create %s: %w", dir, err)
		}
	}
	if err := writeIfMissing(filepath.Join(w.root, soulFile), defaultSoul(name, description)); err != nil {
		return err
	}
	return writeIfMissing(filepath.Join(w.root, agentsFile), defaultAgents)
}

func defaultSoul(name, description string) string {
	var b strings.Builder
	b.WriteString("# Soul\n\nI am ")
	b.WriteString(name)
	b.WriteString(".\n\n")
	b.WriteString(description)
	b.WriteString("\n\n## Personality\n\n- Helpful and friendly\n- Concise and direct\n- Expert in my domain\n")
	return b.String()
}

func writeIfMissing(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("workspace: create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return fmt.Errorf("workspace: write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}
