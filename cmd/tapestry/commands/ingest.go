package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// IngestCommand imports archive files and runs the ETL tasks their pipes
// discover.
type IngestCommand struct {
	configPath *string
	open       appOpener

	provider string
	skipETL  bool
}

// NewIngestCommand creates the ingest command with production wiring.
func NewIngestCommand(configPath *string) *cobra.Command {
	return newIngestCommandWithDeps(configPath, openApp)
}

func newIngestCommandWithDeps(configPath *string, open appOpener) *cobra.Command {
	ic := &IngestCommand{configPath: configPath, open: open}

	cmd := &cobra.Command{
		Use:   "ingest <file>...",
		Short: "Import archive files and extract threads",
		Args:  cobra.MinimumNArgs(1),
		RunE:  ic.run,
	}

	cmd.Flags().StringVar(&ic.provider, "provider", "chatgpt", "archive provider (selects extraction pipes)")
	cmd.Flags().BoolVar(&ic.skipETL, "import-only", false, "import files without running extraction")

	return cmd
}

func (ic *IngestCommand) run(cmd *cobra.Command, args []string) error {
	app, err := ic.open(*ic.configPath)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context()) //nolint:errcheck // exit path

	archive, err := app.Tap.ImportArchive(cmd.Context(), ic.provider, args)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Imported archive %s (%d files)\n", archive.ID, len(archive.FileKeys))

	if ic.skipETL {
		return nil
	}

	result, err := app.Tap.IngestArchive(cmd.Context(), archive.ID)
	if err != nil {
		return err
	}

	renderResult(cmd.OutOrStdout(), result)

	return nil
}
