package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"botgate/internal/domain"
)

// ExportFile is the on-disk format of `memory export` and `memory import`.
type ExportFile struct {
	ExportedAt    string                `json:"exported_at"`
	TotalMemories int                   `json:"total_memories"`
	Memories      []domain.MemoryRecord `json:"memories"`
}

// ParseError reports an export file that is not valid JSON.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse export file %s: %v", e.Path, e.Err)
}

// Unwrap exposes both the category and the decoder error.
func (e *ParseError) Unwrap() []error { return []error{domain.ErrInvalidInput, e.Err} }

// SaveExportFile writes records to path, creating parent directories.
func SaveExportFile(path string, records []domain.MemoryRecord) error {
	if records == nil {
		records = []domain.MemoryRecord{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	data, err := json.MarshalIndent(ExportFile{
		ExportedAt:    time.Now().UTC().Format(time.RFC3339),
		TotalMemories: len(records),
		Memories:      records,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("encode export file: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write export file: %w", err)
	}
	return nil
}

// LoadExportFile reads the memories array of an export file. Other keys are
// ignored and a missing array yields no records.
func LoadExportFile(path string) ([]domain.MemoryRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: export file %s: %w", domain.ErrNotFound, path, err)
		}
		return nil, fmt.Errorf("read export file: %w", err)
	}

	var file struct {
		Memories []exportEntry `json:"memories"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	out := make([]domain.MemoryRecord, len(file.Memories))
	for i, e := range file.Memories {
		out[i] = e.record()
	}
	return out, nil
}

// exportEntry also accepts raw Mem0 results, whose text lives under "memory".
type exportEntry struct {
	domain.MemoryRecord
	Memory json.RawMessage `json:"memory"`
}

func (e exportEntry) record() domain.MemoryRecord {
	rec := e.MemoryRecord
	if rec.Content == "" {
		rec.Content = memoryText(e.Memory)
	}
	return rec
}
