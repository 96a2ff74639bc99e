package memory

import (
	"context"
	"errors"
	"fmt"

	"botgate/internal/domain"
)

// OwnerScoped binds a backend to one owner. Records of any other owner are
// invisible: Get, Update and Delete treat them as missing.
type OwnerScoped struct {
	inner domain.MemoryBackend
	owner string
}

// NewOwnerScoped scopes inner to owner.
func NewOwnerScoped(inner domain.MemoryBackend, owner string) *OwnerScoped {
	return &OwnerScoped{inner: inner, owner: owner}
}

// Owner returns the bound owner id.
func (o *OwnerScoped) Owner() string { return o.owner }

// Store ignores the owner argument and stores under the bound owner.
func (o *OwnerScoped) Store(ctx context.Context, _ string, content string, metadata map[string]any) (*domain.MemoryRecord, error) {
	return o.inner.Store(ctx, o.owner, content, metadata)
}

func (o *OwnerScoped) Search(ctx context.Context, _ string, query string, limit int, filters map[string]any) ([]domain.MemoryRecord, error) {
	recs, err := o.inner.Search(ctx, o.owner, query, limit, filters)
	if err != nil {
		return nil, err
	}
	return o.filter(recs), nil
}

func (o *OwnerScoped) List(ctx context.Context, _ string, limit, offset int) ([]domain.MemoryRecord, error) {
	recs, err := o.inner.List(ctx, o.owner, limit, offset)
	if err != nil {
		return nil, err
	}
	return o.filter(recs), nil
}

func (o *OwnerScoped) Get(ctx context.Context, id string) (*domain.MemoryRecord, error) {
	rec, err := o.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.owns(rec) {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}
	return rec, nil
}

func (o *OwnerScoped) Update(ctx context.Context, id string, content *string, metadata map[string]any) (*domain.MemoryRecord, error) {
	if _, err := o.Get(ctx, id); err != nil {
		return nil, err
	}
	return o.inner.Update(ctx, id, content, metadata)
}

func (o *OwnerScoped) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := o.Get(ctx, id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return o.inner.Delete(ctx, id)
}

func (o *OwnerScoped) Health(ctx context.Context) bool { return o.inner.Health(ctx) }
func (o *OwnerScoped) Name() string                    { return o.inner.Name() }

// owns accepts records with no owner field, which some Mem0 versions omit
// from single-record responses.
func (o *OwnerScoped) owns(rec *domain.MemoryRecord) bool {
	return rec.Owner == "" || rec.Owner == o.owner
}

func (o *OwnerScoped) filter(recs []domain.MemoryRecord) []domain.MemoryRecord {
	out := make([]domain.MemoryRecord, 0, len(recs))
	for i := range recs {
		if o.owns(&recs[i]) {
			out = append(out, recs[i])
		}
	}
	return out
}

var _ domain.MemoryBackend = (*OwnerScoped)(nil)
