// Package commands implements the tapestry CLI commands.
package commands

import "github.com/spf13/cobra"

// NewRootCommand builds the tapestry root command with all subcommands.
func NewRootCommand() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "tapestry",
		Short: "Tapestry - personal archive ingestion and memory synthesis",
		Long: `Tapestry ingests personal data archives into normalized threads,
then runs batched LLM pipelines that distill them into dated memories
and refine overlapping memories into a coherent record.

Commands:
  ingest    Import archive files and extract threads
  run       Create and drive memory extraction batches
  refine    Create and drive memory refinement batches
  status    Summarize archives, tasks, batches and memories
  memories  List or search synthesized memories
  report    Render the memory timeline as an HTML chart`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default searches .tapestry.yaml in CWD and $HOME)")

	rootCmd.AddCommand(NewIngestCommand(&configPath))
	rootCmd.AddCommand(NewRunCommand(&configPath))
	rootCmd.AddCommand(NewRefineCommand(&configPath))
	rootCmd.AddCommand(NewStatusCommand(&configPath))
	rootCmd.AddCommand(NewMemoriesCommand(&configPath))
	rootCmd.AddCommand(NewReportCommand(&configPath))

	return rootCmd
}
