package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tapestry-ai/tapestry/internal/tapestry"
)

// Status output formats.
const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// StatusCommand summarizes the store for the operator.
type StatusCommand struct {
	configPath *string
	open       appOpener

	format string
}

// NewStatusCommand creates the status command with production wiring.
func NewStatusCommand(configPath *string) *cobra.Command {
	return newStatusCommandWithDeps(configPath, openApp)
}

func newStatusCommandWithDeps(configPath *string, open appOpener) *cobra.Command {
	sc := &StatusCommand{configPath: configPath, open: open}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Summarize archives, tasks, batches and memories",
		Args:  cobra.NoArgs,
		RunE:  sc.run,
	}

	cmd.Flags().StringVar(&sc.format, "format", formatTable, "output format: table, json or yaml")

	return cmd
}

func (sc *StatusCommand) run(cmd *cobra.Command, _ []string) error {
	app, err := sc.open(*sc.configPath)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context()) //nolint:errcheck // exit path

	summary, err := app.Tap.Status(cmd.Context())
	if err != nil {
		return err
	}

	return renderSummary(cmd.OutOrStdout(), summary, sc.format)
}

func renderSummary(w io.Writer, summary *tapestry.Summary, format string) error {
	switch format {
	case formatTable:
		renderSummaryTable(w, summary)

		return nil
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")

		return enc.Encode(summary)
	case formatYAML:
		return yaml.NewEncoder(w).Encode(summary)
	default:
		return fmt.Errorf("unknown format %q: want table, json or yaml", format)
	}
}

func renderSummaryTable(w io.Writer, summary *tapestry.Summary) {
	fmt.Fprintf(w, "Archives: %s\n", humanize.Comma(int64(summary.Archives)))
	fmt.Fprintf(w, "Threads:  %s\n", humanize.Comma(int64(summary.Threads)))
	fmt.Fprintf(w, "Memories: %s active, %s superseded\n",
		humanize.Comma(int64(summary.Memories.Active)),
		humanize.Comma(int64(summary.Memories.Superseded)))

	if len(summary.Tasks) > 0 {
		statuses := make([]string, 0, len(summary.Tasks))
		for status := range summary.Tasks {
			statuses = append(statuses, status)
		}

		sort.Strings(statuses)

		fmt.Fprintln(w, "Tasks:")

		for _, status := range statuses {
			fmt.Fprintf(w, "  %s: %d\n", status, summary.Tasks[status])
		}
	}

	if len(summary.Batches) == 0 {
		return
	}

	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.AppendHeader(table.Row{"Batch", "Category", "#", "Status", "Updated"})

	for _, b := range summary.Batches {
		tw.AppendRow(table.Row{b.ID, b.Category, b.BatchNumber, b.Status, humanize.Time(b.UpdatedAt)})
	}

	tw.Render()
}
