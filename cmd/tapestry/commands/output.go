package commands

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/tapestry-ai/tapestry/internal/tapestry"
)

// renderResult prints a run summary, one counter per line, skipping
// zeroes so quiet runs stay quiet.
func renderResult(w io.Writer, result *tapestry.Result) {
	counters := []struct {
		label string
		value int
	}{
		{"Threads created", result.ThreadsCreated},
		{"Tasks completed", result.TasksCompleted},
		{"Tasks failed", result.TasksFailed},
		{"Batches created", result.BatchesCreated},
	}

	printed := false

	for _, c := range counters {
		if c.value == 0 {
			continue
		}

		fmt.Fprintf(w, "%s: %d\n", c.label, c.value)

		printed = true
	}

	if !printed && len(result.Errors) == 0 {
		fmt.Fprintln(w, "Nothing to do.")
	}

	if len(result.Errors) > 0 {
		errLabel := color.New(color.FgRed, color.Bold).Sprint("Errors:")
		fmt.Fprintln(w, errLabel)

		for _, msg := range result.Errors {
			fmt.Fprintf(w, "  - %s\n", msg)
		}
	}
}
