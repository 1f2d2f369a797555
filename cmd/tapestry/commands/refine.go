package commands

import (
	"github.com/spf13/cobra"
)

// RefineCommand discovers clusters of overlapping memories and drives
// refinement batches that consolidate them.
type RefineCommand struct {
	configPath *string
	open       appOpener
}

// NewRefineCommand creates the refine command with production wiring.
func NewRefineCommand(configPath *string) *cobra.Command {
	return newRefineCommandWithDeps(configPath, openApp)
}

func newRefineCommandWithDeps(configPath *string, open appOpener) *cobra.Command {
	rc := &RefineCommand{configPath: configPath, open: open}

	return &cobra.Command{
		Use:   "refine",
		Short: "Create and drive memory refinement batches",
		Long: `Finds active memories whose date ranges and embeddings overlap, groups
them into clusters, and drives refinement batches that rewrite each
cluster into consolidated memories. Source memories are superseded, not
deleted.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}
}

func (rc *RefineCommand) run(cmd *cobra.Command, _ []string) error {
	app, err := rc.open(*rc.configPath)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context()) //nolint:errcheck // exit path

	result, err := app.Tap.RunRefinement(cmd.Context())
	if err != nil {
		return err
	}

	renderResult(cmd.OutOrStdout(), result)

	return nil
}
