package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strconv"

	"github.com/spf13/cobra"

	"botgate/internal/adapter/memory"
	"botgate/internal/domain"
	"botgate/internal/usecase/transfer"
)

const maxPrintedErrors = 5

// openBackend builds the selected memory backend and registers its cleanup.
func openBackend(e *env, mf *memoryFlags) (domain.MemoryBackend, error) {
	name := mf.backend
	if name == "" {
		name = e.cfg.Memory.Backend
	}
	switch name {
	case "mem0":
		mcfg := e.cfg.Memory.Mem0
		if mf.url != "" {
			mcfg.URL = mf.url
		}
		if mf.apiKey != "" {
			mcfg.APIKey = mf.apiKey
		}
		return memory.NewMem0Client(mcfg, e.logger, memory.WithOpObserver(e.metrics)), nil
	case "sqlite":
		store, err := memory.NewSQLiteBackend(e.cfg.Memory.SQLite.Path, e.metrics, e.logger)
		if err != nil {
			return nil, err
		}
		e.onClose(func(context.Context) error { return store.Close() })
		return store, nil
	default:
		return nil, fmt.Errorf("%w: unknown memory backend %q", domain.ErrInvalidInput, name)
	}
}

// describe names the backend and where it lives for health output.
func describe(b domain.MemoryBackend) (string, string) {
	switch v := b.(type) {
	case *memory.Mem0Client:
		return "Mem0 server", v.URL()
	case *memory.SQLiteBackend:
		return "SQLite store", v.Path()
	default:
		return b.Name(), ""
	}
}

func runMemoryList(cmd *cobra.Command, e *env, mf *memoryFlags, user string, limit int) error {
	out := cmd.OutOrStdout()
	backend, err := openBackend(e, mf)
	if err != nil {
		printFailure(out, "Failed to open memory backend: %v", err)
		return errReported
	}

	recs, err := backend.List(cmd.Context(), user, limit, 0)
	if err != nil {
		printFailure(out, "Failed to list memories: %v", err)
		return errReported
	}
	if len(recs) == 0 {
		printMuted(out, "No memories found.")
		return nil
	}

	rows := make([][]string, 0, len(recs))
	for i, r := range recs {
		created := ""
		if !r.CreatedAt.IsZero() {
			created = r.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		rows = append(rows, []string{strconv.Itoa(i + 1), r.ID, truncate(r.Content, 60), created})
	}
	fmt.Fprintln(out, renderTable("Memories for "+user, []string{"#", "ID", "Content", "Created"}, rows))
	printMuted(out, "\nTotal: %d memories", len(recs))
	return nil
}

func runMemorySearch(cmd *cobra.Command, e *env, mf *memoryFlags, user, query string, limit int) error {
	out := cmd.OutOrStdout()
	backend, err := openBackend(e, mf)
	if err != nil {
		printFailure(out, "Failed to open memory backend: %v", err)
		return errReported
	}

	recs, err := backend.Search(cmd.Context(), user, query, limit, nil)
	if err != nil {
		printFailure(out, "Search failed: %v", err)
		return errReported
	}
	if len(recs) == 0 {
		printMuted(out, "No memories found for query: '%s'", query)
		return nil
	}

	rows := make([][]string, 0, len(recs))
	for i, r := range recs {
		rows = append(rows, []string{strconv.Itoa(i + 1), fmt.Sprintf("%.2f", r.Score), truncate(r.Content, 80)})
	}
	fmt.Fprintln(out, renderTable(fmt.Sprintf("Search Results: '%s'", query), []string{"#", "Score", "Content"}, rows))
	printMuted(out, "\nFound: %d memories", len(recs))
	return nil
}

func runMemoryExport(cmd *cobra.Command, e *env, mf *memoryFlags, user, output string, limit int) error {
	out := cmd.OutOrStdout()
	backend, err := openBackend(e, mf)
	if err != nil {
		printFailure(out, "Failed to open memory backend: %v", err)
		return errReported
	}

	recs, err := backend.List(cmd.Context(), user, limit, 0)
	if err != nil {
		printFailure(out, "Export failed: %v", err)
		return errReported
	}
	if len(recs) == 0 {
		printMuted(out, "No memories to export.")
		return nil
	}
	if err := memory.SaveExportFile(output, recs); err != nil {
		printFailure(out, "Export failed: %v", err)
		return errReported
	}
	printSuccess(out, "Exported %d memories to %s", len(recs), output)
	return nil
}

func runMemoryImport(cmd *cobra.Command, e *env, mf *memoryFlags, f *importFlags, input string) error {
	out := cmd.OutOrStdout()

	recs, err := memory.LoadExportFile(input)
	if err != nil {
		var perr *memory.ParseError
		switch {
		case errors.Is(err, fs.ErrNotExist):
			printFailure(out, "Export file not found: %s", input)
		case errors.As(err, &perr):
			printFailure(out, "Invalid export file: %v", perr.Err)
		default:
			printFailure(out, "Failed to read export file: %v", err)
		}
		return errReported
	}

	backend, err := openBackend(e, mf)
	if err != nil {
		printFailure(out, "Failed to open memory backend: %v", err)
		return errReported
	}

	done := 0
	opts := transfer.Options{
		Owner:     f.user,
		BatchSize: f.batchSize,
		Parallel:  f.parallel && !f.sequential,
		DryRun:    f.dryRun,
		Progress: func(_, total int) {
			done++
			fmt.Fprintf(out, "\rImporting memories... %d/%d", done, total)
		},
	}
	importer := transfer.NewImporter(backend, e.metrics, e.logger)
	res := importer.Import(cmd.Context(), transfer.FromMemoryRecords(recs), opts)
	if done > 0 {
		fmt.Fprintln(out)
	}

	return printImportResult(out, res, f.dryRun)
}

// printImportResult prints the tally and the first few errors. It returns
// errReported when anything failed.
func printImportResult(w io.Writer, res transfer.Result, dryRun bool) error {
	if dryRun {
		fmt.Fprintln(w, textInfo.Render("Dry run results:"))
	} else {
		printSuccess(w, "Import complete")
	}
	fmt.Fprintf(w, "  Total: %d\n", res.Total)
	fmt.Fprintf(w, "  Success: %d\n", res.Success)
	fmt.Fprintf(w, "  Skipped: %d\n", res.Skipped)

	if res.Failed == 0 {
		return nil
	}
	fmt.Fprintf(w, "  Errors: %d\n", res.Failed)
	for i, ie := range res.Errors {
		if i == maxPrintedErrors {
			break
		}
		fmt.Fprintf(w, "    %s %s\n", textError.Render(symbolError), ie.Error())
	}
	// Errors may be capped or hold batch aggregates, so count entries, not Failed.
	if len(res.Errors) > maxPrintedErrors {
		fmt.Fprintf(w, "    %s\n", textMuted.Render(fmt.Sprintf("... and %d more", len(res.Errors)-maxPrintedErrors)))
	}
	return errReported
}

func runMemoryHealth(cmd *cobra.Command, e *env, mf *memoryFlags) error {
	out := cmd.OutOrStdout()
	backend, err := openBackend(e, mf)
	if err != nil {
		printFailure(out, "Health check failed: %v", err)
		return errReported
	}

	what, where := describe(backend)
	if backend.Health(cmd.Context()) {
		printSuccess(out, "%s is healthy at %s", what, where)
		return nil
	}
	printFailure(out, "%s is not accessible at %s", what, where)
	return errReported
}
