package domain

import (
	"context"
	"time"
)

// MemoryRecord is one stored memory. Owner isolates records between users or
// instances; a backend never returns a record to a different owner.
type MemoryRecord struct {
	ID        string         `json:"id"`
	Owner     string         `json:"user_id,omitempty"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Score     float64        `json:"score,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
	UpdatedAt time.Time      `json:"updated_at,omitzero"`
}

// MemoryBackend is the persistent memory service port.
type MemoryBackend interface {
	Store(ctx context.Context, owner, content string, metadata map[string]any) (*MemoryRecord, error)
	Search(ctx context.Context, owner, query string, limit int, filters map[string]any) ([]MemoryRecord, error)
	// Get returns ErrNotFound when the id is unknown.
	Get(ctx context.Context, id string) (*MemoryRecord, error)
	// Update changes content and/or metadata. Passing neither is ErrInvalidInput.
	Update(ctx context.Context, id string, content *string, metadata map[string]any) (*MemoryRecord, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, owner string, limit, offset int) ([]MemoryRecord, error)
	Health(ctx context.Context) bool
	Name() string
}

// MemoryStorer is the subset of MemoryBackend used by bulk import.
type MemoryStorer interface {
	Store(ctx context.Context, owner, content string, metadata map[string]any) (*MemoryRecord, error)
}
