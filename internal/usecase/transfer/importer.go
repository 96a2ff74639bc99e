// Package transfer imports memory records in bulk. Items are validated,
// stored in batches that may run concurrently, and tallied so that
// Success + Skipped + Failed == Total for every run.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"botgate/internal/domain"
	"botgate/internal/infra/tracer"
)

const (
	DefaultBatchSize = 10
	// MaxReportedErrors caps Result.Errors; Result.Failed still counts all.
	MaxReportedErrors = 100
	// defaultMaxBatches bounds how many batches store at the same time.
	defaultMaxBatches = 8
)

// Record is one memory to import.
type Record struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// FromMemoryRecords converts exported records into import records.
func FromMemoryRecords(in []domain.MemoryRecord) []Record {
	out := make([]Record, len(in))
	for i, r := range in {
		out[i] = Record{Content: r.Content, Metadata: r.Metadata}
	}
	return out
}

// ProgressFunc receives the 1-based position of a finished item and the
// total. It is called exactly once per item, never concurrently, but in
// parallel mode not necessarily in position order.
type ProgressFunc func(current, total int)

// Options controls one import run.
type Options struct {
	Owner     string
	BatchSize int
	// Parallel runs batches, and the items within a batch, concurrently.
	Parallel bool
	DryRun   bool
	Progress ProgressFunc
	// MaxBatches bounds concurrently running batches; 0 uses a default.
	MaxBatches int
}

// DefaultOptions mirrors the CLI defaults: batch size 10, parallel.
func DefaultOptions(owner string) Options {
	return Options{Owner: owner, BatchSize: DefaultBatchSize, Parallel: true}
}

// ItemError describes one failure. Index is the item's original position
// (0-based) or -1 for an aggregate entry covering a failed batch.
type ItemError struct {
	Index int
	Batch int
	Err   error
}

func (e ItemError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("batch %d: %v", e.Batch, e.Err)
	}
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

// Result is the tally of one run.
type Result struct {
	Total   int
	Success int
	Skipped int
	Failed  int
	Errors  []ItemError
}

// OK reports whether nothing failed.
func (r Result) OK() bool { return r.Failed == 0 }

// Observer receives one outcome ("success", "skipped" or "failed") per item.
type Observer interface {
	ImportItem(outcome string)
}

// Importer stores records through a domain.MemoryStorer.
type Importer struct {
	store    domain.MemoryStorer
	observer Observer
	logger   *slog.Logger
}

// NewImporter creates an importer. observer may be nil.
func NewImporter(store domain.MemoryStorer, observer Observer, logger *slog.Logger) *Importer {
	return &Importer{store: store, observer: observer, logger: logger.With("component", "transfer")}
}

// Import stores records for opts.Owner. Individual failures never abort the
// run; they are counted and reported in the result. Blank records are
// skipped. A dry run only validates.
func (im *Importer) Import(ctx context.Context, records []Record, opts Options) Result {
	if opts.BatchSize == 0 {
		opts.BatchSize = DefaultBatchSize
	}
	mode := "parallel"
	if opts.DryRun {
		mode = "dry_run"
	} else if !opts.Parallel || opts.BatchSize <= 1 {
		mode = "sequential"
	}

	ctx, span := tracer.StartSpan(ctx, "transfer.import", trace.WithAttributes(
		tracer.StringAttr("owner", opts.Owner),
		tracer.StringAttr("mode", mode),
		tracer.IntAttr("total", len(records)),
		tracer.IntAttr("batch_size", opts.BatchSize),
	))
	defer span.End()

	t := newTally(len(records), opts.Progress, im.observer)
	start := time.Now()

	switch mode {
	case "dry_run":
		for i, rec := range records {
			if blank(rec) {
				t.skip(i)
			} else {
				t.success(i)
			}
		}
	case "sequential":
		for i, rec := range records {
			im.importOne(ctx, t, opts.Owner, i, 0, rec, true)
		}
	default:
		im.importParallel(ctx, t, records, opts)
	}

	res := t.result()
	span.SetAttributes(
		tracer.IntAttr("success", res.Success),
		tracer.IntAttr("skipped", res.Skipped),
		tracer.IntAttr("failed", res.Failed),
	)
	if res.Failed > 0 {
		tracer.RecordError(span, fmt.Errorf("%d of %d items failed", res.Failed, res.Total))
	} else {
		tracer.SetOK(span)
	}
	im.logger.Info("import finished",
		"owner", opts.Owner,
		"mode", mode,
		"total", res.Total,
		"success", res.Success,
		"skipped", res.Skipped,
		"failed", res.Failed,
		"duration", time.Since(start),
	)
	return res
}

func (im *Importer) importParallel(ctx context.Context, t *tally, records []Record, opts Options) {
	maxBatches := opts.MaxBatches
	if maxBatches <= 0 {
		maxBatches = defaultMaxBatches
	}
	sem := make(chan struct{}, maxBatches)

	var wg sync.WaitGroup
	for batch, lo := 0, 0; lo < len(records); batch, lo = batch+1, lo+opts.BatchSize {
		hi := min(lo+opts.BatchSize, len(records))
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			im.importBatch(ctx, t, opts.Owner, batch, lo, records[lo:hi])
		}()
	}
	wg.Wait()
}

// importBatch stores every item of one batch concurrently. A panic in any
// item is not attributed to that item: it fails the batch's unreported items
// with a single aggregate error once the other items have finished.
func (im *Importer) importBatch(ctx context.Context, t *tally, owner string, batch, offset int, items []Record) {
	var (
		wg        sync.WaitGroup
		panicOnce sync.Once
		panicVal  any
	)
	for j, rec := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicVal = r })
				}
			}()
			im.importOne(ctx, t, owner, offset+j, batch, rec, false)
		}()
	}
	wg.Wait()

	if panicVal != nil {
		err := fmt.Errorf("%w: batch panicked: %v", domain.ErrMemoryStore, panicVal)
		n := t.failBatch(batch, offset, len(items), err)
		im.logger.Error("import batch failed", "batch", batch, "items", n, "error", err)
	}
}

// importOne validates and stores one record. With recoverPanic a panicking
// store fails just this item; otherwise the panic reaches importBatch.
func (im *Importer) importOne(ctx context.Context, t *tally, owner string, index, batch int, rec Record, recoverPanic bool) {
	if blank(rec) {
		t.skip(index)
		return
	}
	if err := ctx.Err(); err != nil {
		t.fail(index, batch, err)
		return
	}
	if recoverPanic {
		defer func() {
			if r := recover(); r != nil {
				t.fail(index, batch, fmt.Errorf("%w: store panicked: %v", domain.ErrMemoryStore, r))
			}
		}()
	}
	if _, err := im.store.Store(ctx, owner, rec.Content, rec.Metadata); err != nil {
		t.fail(index, batch, err)
		return
	}
	t.success(index)
}

func blank(r Record) bool {
	return strings.TrimSpace(r.Content) == ""
}
