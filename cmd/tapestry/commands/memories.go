package commands

import (
	"fmt"
	"io"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tapestry-ai/tapestry/internal/model"
)

// defaultMemoriesLimit caps the listing when --top is not given.
const defaultMemoriesLimit = 10

// MemoriesCommand lists or searches synthesized memories.
type MemoriesCommand struct {
	configPath *string
	open       appOpener

	query string
	top   int
}

// NewMemoriesCommand creates the memories command with production wiring.
func NewMemoriesCommand(configPath *string) *cobra.Command {
	return newMemoriesCommandWithDeps(configPath, openApp)
}

func newMemoriesCommandWithDeps(configPath *string, open appOpener) *cobra.Command {
	mc := &MemoriesCommand{configPath: configPath, open: open}

	cmd := &cobra.Command{
		Use:   "memories",
		Short: "List or search synthesized memories",
		Long: `Lists active memories by recency, or ranks them by embedding
similarity when --query is given.`,
		Args: cobra.NoArgs,
		RunE: mc.run,
	}

	cmd.Flags().StringVar(&mc.query, "query", "", "semantic search query; empty lists by recency")
	cmd.Flags().IntVar(&mc.top, "top", defaultMemoriesLimit, "maximum memories to show")

	return cmd
}

func (mc *MemoriesCommand) run(cmd *cobra.Command, _ []string) error {
	app, err := mc.open(*mc.configPath)
	if err != nil {
		return err
	}
	defer app.Close(cmd.Context()) //nolint:errcheck // exit path

	memories, err := app.Tap.SearchMemories(cmd.Context(), mc.query, mc.top)
	if err != nil {
		return err
	}

	renderMemories(cmd.OutOrStdout(), memories)

	return nil
}

func renderMemories(w io.Writer, memories []*model.Memory) {
	if len(memories) == 0 {
		fmt.Fprintln(w, "No memories found.")

		return
	}

	dateRange := color.New(color.FgCyan, color.Bold).SprintfFunc()

	for _, m := range memories {
		fmt.Fprintf(w, "%s  %s\n",
			dateRange("%s .. %s", m.FromDate.Format(time.DateOnly), m.ToDate.Format(time.DateOnly)),
			m.Content)
	}
}
