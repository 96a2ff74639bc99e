package main

import (
	"github.com/spf13/cobra"

	"botgate/internal/usecase/transfer"
)

// memoryFlags select and override the backend for every memory subcommand.
type memoryFlags struct {
	backend string
	url     string
	apiKey  string
}

func buildMemoryCmd(e *env) *cobra.Command {
	mf := &memoryFlags{}
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage persistent memory",
		Long: `List, search, export and import long-term memories.

Backends: mem0 (HTTP service) and sqlite (local file). The default comes
from memory.backend in the gateway config.`,
	}
	cmd.PersistentFlags().StringVar(&mf.backend, "backend", "", "Memory backend (mem0, sqlite); defaults to the config value")
	cmd.PersistentFlags().StringVar(&mf.url, "url", "", "Mem0 server URL; overrides the config value")
	cmd.PersistentFlags().StringVar(&mf.apiKey, "api-key", "", "Mem0 API key; overrides the config value")

	cmd.AddCommand(
		buildMemoryListCmd(e, mf),
		buildMemorySearchCmd(e, mf),
		buildMemoryExportCmd(e, mf),
		buildMemoryImportCmd(e, mf),
		buildMemoryHealthCmd(e, mf),
	)
	return cmd
}

func buildMemoryListCmd(e *env, mf *memoryFlags) *cobra.Command {
	var (
		user  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories of a user",
		Args:  cobra.NoArgs,
		RunE: e.run(func(cmd *cobra.Command, _ []string) error {
			return runMemoryList(cmd, e, mf, user, limit)
		}),
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to list memories for")
	cmd.Flags().IntVarP(&limit, "limit", "l", 100, "Maximum number of memories")
	cmd.MarkFlagRequired("user")
	return cmd
}

func buildMemorySearchCmd(e *env, mf *memoryFlags) *cobra.Command {
	var (
		user  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search memories of a user",
		Args:  cobra.ExactArgs(1),
		RunE: e.run(func(cmd *cobra.Command, args []string) error {
			return runMemorySearch(cmd, e, mf, user, args[0], limit)
		}),
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to search memories for")
	cmd.Flags().IntVarP(&limit, "limit", "l", 5, "Maximum number of results")
	cmd.MarkFlagRequired("user")
	return cmd
}

func buildMemoryExportCmd(e *env, mf *memoryFlags) *cobra.Command {
	var (
		user  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "export OUTPUT",
		Short: "Export memories of a user to a JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: e.run(func(cmd *cobra.Command, args []string) error {
			return runMemoryExport(cmd, e, mf, user, args[0], limit)
		}),
	}
	cmd.Flags().StringVarP(&user, "user", "u", "", "User ID to export memories for")
	cmd.Flags().IntVarP(&limit, "limit", "l", 1000, "Maximum number of memories")
	cmd.MarkFlagRequired("user")
	return cmd
}

// importFlags mirror transfer.Options.
type importFlags struct {
	user       string
	batchSize  int
	parallel   bool
	sequential bool
	dryRun     bool
}

func buildMemoryImportCmd(e *env, mf *memoryFlags) *cobra.Command {
	f := &importFlags{}
	cmd := &cobra.Command{
		Use:   "import INPUT",
		Short: "Import memories from a JSON export file",
		Args:  cobra.ExactArgs(1),
		RunE: e.run(func(cmd *cobra.Command, args []string) error {
			return runMemoryImport(cmd, e, mf, f, args[0])
		}),
	}
	cmd.Flags().StringVarP(&f.user, "user", "u", "", "User ID to import memories for")
	cmd.Flags().IntVarP(&f.batchSize, "batch-size", "b", transfer.DefaultBatchSize, "Records per batch")
	cmd.Flags().BoolVar(&f.parallel, "parallel", true, "Import batches concurrently")
	cmd.Flags().BoolVar(&f.sequential, "sequential", false, "Import one record at a time")
	cmd.Flags().BoolVarP(&f.dryRun, "dry-run", "d", false, "Validate without importing")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagsMutuallyExclusive("parallel", "sequential")
	return cmd
}

func buildMemoryHealthCmd(e *env, mf *memoryFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the memory backend is reachable",
		Args:  cobra.NoArgs,
		RunE: e.run(func(cmd *cobra.Command, _ []string) error {
			return runMemoryHealth(cmd, e, mf)
		}),
	}
}
