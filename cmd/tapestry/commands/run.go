package commands

import (
	"github.com/spf13/cobra"
)

// RunCommand creates memory extraction batches for un-batched threads and
// drives every non-terminal memory batch to completion.
type RunCommand struct {
	configPath *string
	open       appOpener
}

// NewRunCommand creates the run command with production wiring.
func NewRunCommand(configPath *string) *cobra.Command {
	return newRunCommandWithDeps(configPath, openApp)
}

func newRunCommandWithDeps(configPath *string, open appOpener) *cobra.Command {
	rc := &RunCommand{configPath: configPath, open: open}

	return &cobra.Command{
		Use:   "run",
		Short: "Create and drive memory extraction batches",
		Long: `Groups un-batched threads into extraction batches and advances every
non-terminal memory batch until it reaches a terminal state. Interrupted
runs resume from the persisted batch state on the next invocation.`,
		Args: cobra.NoArgs,
		RunE: rc.run,
	}
}

func (rc *RunCommand) run(cmd *cobra.Command, _ []string) error {
	app, err := rc.open(*rc.configPath)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context()) //nolint:errcheck // exit path

	result, err := app.Tap.RunMemories(cmd.Context())
	if err != nil {
		return err
	}

	renderResult(cmd.OutOrStdout(), result)

	return nil
}
