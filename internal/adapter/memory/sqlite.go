package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"botgate/internal/domain"
	"botgate/internal/infra/tracer"
)

// SQLiteBackend is a local memory store. Search is substring matching, so
// every hit scores 1.
type SQLiteBackend struct {
	db       *sql.DB
	path     string
	observer OpObserver
	logger   *slog.Logger
}

// NewSQLiteBackend opens (or creates) the database at path and migrates it.
// observer may be nil.
func NewSQLiteBackend(path string, observer OpObserver, logger *slog.Logger) (*SQLiteBackend, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("create memory db dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// One writer; parallel imports queue on the pool instead of failing with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory db: %w", err)
	}
	return &SQLiteBackend{
		db:       db,
		path:     path,
		observer: observer,
		logger:   logger.With("component", "memory", "backend", "sqlite"),
	}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS memories (
			id         TEXT PRIMARY KEY,
			owner      TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL DEFAULT '{}',
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memories_owner ON memories(owner, created_at);
	`)
	return err
}

// Close closes the underlying database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// Name implements domain.MemoryBackend.
func (s *SQLiteBackend) Name() string { return "sqlite" }

// Path returns the database location.
func (s *SQLiteBackend) Path() string { return s.path }

// Store implements domain.MemoryBackend.
func (s *SQLiteBackend) Store(ctx context.Context, owner, content string, metadata map[string]any) (rec *domain.MemoryRecord, err error) {
	ctx, done := s.begin(ctx, "store", &err)
	defer done()

	if owner == "" {
		return nil, fmt.Errorf("%w: %w: owner is required", domain.ErrMemoryStore, domain.ErrInvalidInput)
	}
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrMemoryStore, err)
	}

	now := time.Now().UTC()
	rec = &domain.MemoryRecord{
		ID:        uuid.NewString(),
		Owner:     owner,
		Content:   content,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO memories (id, owner, content, metadata, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		rec.ID, owner, content, meta, now.Format(timeLayout), now.Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: insert: %w", domain.ErrMemoryStore, err)
	}
	return rec, nil
}

// Search implements domain.MemoryBackend. An empty query matches every
// record of owner. Filters are equality checks against metadata values.
func (s *SQLiteBackend) Search(ctx context.Context, owner, query string, limit int, filters map[string]any) (recs []domain.MemoryRecord, err error) {
	ctx, done := s.begin(ctx, "search", &err)
	defer done()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, content, metadata, created_at, updated_at FROM memories
		 WHERE owner = ? AND content LIKE ? ESCAPE '\'
		 ORDER BY created_at DESC, rowid DESC`,
		owner, "%"+escapeLike(query)+"%",
	)
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	defer rows.Close()

	recs = []domain.MemoryRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if !matchFilters(rec.Metadata, filters) {
			continue
		}
		rec.Score = 1
		recs = append(recs, *rec)
		if limit > 0 && len(recs) >= limit {
			break
		}
	}
	return recs, rows.Err()
}

// List implements domain.MemoryBackend, newest first.
func (s *SQLiteBackend) List(ctx context.Context, owner string, limit, offset int) (recs []domain.MemoryRecord, err error) {
	ctx, done := s.begin(ctx, "list", &err)
	defer done()

	if limit <= 0 {
		limit = -1
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, content, metadata, created_at, updated_at FROM memories
		 WHERE owner = ? ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		owner, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	recs = []domain.MemoryRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Get implements domain.MemoryBackend.
func (s *SQLiteBackend) Get(ctx context.Context, id string) (rec *domain.MemoryRecord, err error) {
	ctx, done := s.begin(ctx, "get", &err)
	defer done()
	return s.get(ctx, id)
}

func (s *SQLiteBackend) get(ctx context.Context, id string) (*domain.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, owner, content, metadata, created_at, updated_at FROM memories WHERE id = ?", id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: memory %s", domain.ErrNotFound, id)
	}
	return rec, err
}

// Update implements domain.MemoryBackend. Metadata, when given, replaces the
// stored map.
func (s *SQLiteBackend) Update(ctx context.Context, id string, content *string, metadata map[string]any) (rec *domain.MemoryRecord, err error) {
	ctx, done := s.begin(ctx, "update", &err)
	defer done()

	hasContent := content != nil && *content != ""
	if !hasContent && len(metadata) == 0 {
		return nil, fmt.Errorf("%w: update needs content or metadata", domain.ErrInvalidInput)
	}

	rec, err = s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if hasContent {
		rec.Content = *content
	}
	if len(metadata) > 0 {
		rec.Metadata = metadata
	}
	meta, err := encodeMetadata(rec.Metadata)
	if err != nil {
		return nil, err
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		"UPDATE memories SET content = ?, metadata = ?, updated_at = ? WHERE id = ?",
		rec.Content, meta, rec.UpdatedAt.Format(timeLayout), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update memory %s: %w", id, err)
	}
	return rec, nil
}

// Delete implements domain.MemoryBackend.
func (s *SQLiteBackend) Delete(ctx context.Context, id string) (ok bool, err error) {
	ctx, done := s.begin(ctx, "delete", &err)
	defer done()

	res, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrMemoryDelete, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrMemoryDelete, err)
	}
	return n > 0, nil
}

// Health implements domain.MemoryBackend.
func (s *SQLiteBackend) Health(ctx context.Context) bool {
	if err := s.db.PingContext(ctx); err != nil {
		s.logger.Debug("health check failed", "path", s.path, "error", err)
		return false
	}
	return true
}

func (s *SQLiteBackend) begin(ctx context.Context, op string, errp *error) (context.Context, func()) {
	ctx, span := tracer.StartSpan(ctx, "memory."+op)
	span.SetAttributes(tracer.StringAttr("memory.backend", "sqlite"))
	return ctx, func() {
		if *errp != nil {
			tracer.RecordError(span, *errp)
		} else {
			tracer.SetOK(span)
		}
		span.End()
		if s.observer != nil {
			s.observer.MemoryOp("sqlite", op, *errp)
		}
	}
}

// timeLayout keeps a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*domain.MemoryRecord, error) {
	var (
		rec                  domain.MemoryRecord
		meta                 string
		createdAt, updatedAt string
	)
	if err := row.Scan(&rec.ID, &rec.Owner, &rec.Content, &meta, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if meta != "" && meta != "{}" {
		if err := json.Unmarshal([]byte(meta), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", rec.ID, err)
		}
	}
	rec.CreatedAt, _ = time.Parse(timeLayout, createdAt)
	rec.UpdatedAt, _ = time.Parse(timeLayout, updatedAt)
	return &rec, nil
}

func encodeMetadata(m map[string]any) (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("%w: encode metadata: %v", domain.ErrInvalidInput, err)
	}
	return string(data), nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// matchFilters compares values by their JSON form so 1 and 1.0 are equal.
func matchFilters(meta, filters map[string]any) bool {
	for k, want := range filters {
		got, ok := meta[k]
		if !ok {
			return false
		}
		a, _ := json.Marshal(got)
		b, _ := json.Marshal(want)
		if string(a) != string(b) {
			return false
		}
	}
	return true
}

var _ domain.MemoryBackend = (*SQLiteBackend)(nil)
