package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// defaultReportPath is where the timeline chart lands without --out.
const defaultReportPath = "tapestry_report.html"

// ReportCommand renders the memory timeline chart.
type ReportCommand struct {
	configPath *string
	open       appOpener

	out string
}

// NewReportCommand creates the report command with production wiring.
func NewReportCommand(configPath *string) *cobra.Command {
	return newReportCommandWithDeps(configPath, openApp)
}

func newReportCommandWithDeps(configPath *string, open appOpener) *cobra.Command {
	rc := &ReportCommand{configPath: configPath, open: open}

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Render the memory timeline as an HTML chart",
		Args:  cobra.NoArgs,
		RunE:  rc.run,
	}

	cmd.Flags().StringVar(&rc.out, "out", defaultReportPath, "output HTML file path")

	return cmd
}

func (rc *ReportCommand) run(cmd *cobra.Command, _ []string) error {
	app, err := rc.open(*rc.configPath)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context()) //nolint:errcheck // exit path

	writeErr := app.Tap.WriteReport(cmd.Context(), rc.out)
	if writeErr != nil {
		return writeErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", rc.out)

	return nil
}
