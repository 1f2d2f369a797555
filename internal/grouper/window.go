package grouper

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/tapestry-ai/tapestry/internal/model"
)

// Sentinel errors for window grouper construction.
var (
	// ErrWindowDays indicates a non-positive window length.
	ErrWindowDays = errors.New("window_days must be at least 1")
	// ErrOverlapDays indicates an overlap not smaller than the window.
	ErrOverlapDays = errors.New("overlap_days must be smaller than window_days")
)

// day is one calendar day step.
const day = 24 * time.Hour

// WindowConfig tunes the sliding-window grouper.
type WindowConfig struct {
	// WindowDays is the inclusive window length in days.
	WindowDays int
	// OverlapDays is how many days consecutive windows share.
	OverlapDays int
	// MinMemories and MaxMemories bound how many memories the prompt
	// should request per group. Zero leaves the bound unset.
	MinMemories int
	MaxMemories int
}

// WindowGrouper emits sliding date windows over the thread timeline.
// A thread whose asat date falls into two overlapping windows appears in
// both groups; that overlap is what lets adjacent windows share context.
type WindowGrouper struct {
	cfg WindowConfig
}

// NewWindowGrouper validates the config and creates the grouper.
func NewWindowGrouper(cfg WindowConfig) (*WindowGrouper, error) {
	if cfg.WindowDays < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrWindowDays, cfg.WindowDays)
	}

	if cfg.OverlapDays >= cfg.WindowDays {
		return nil, fmt.Errorf("%w: got overlap %d, window %d", ErrOverlapDays, cfg.OverlapDays, cfg.WindowDays)
	}

	return &WindowGrouper{cfg: cfg}, nil
}

// Config returns the grouper configuration.
func (g *WindowGrouper) Config() WindowConfig {
	return g.cfg
}

// Group implements Grouper. Windows step by window - overlap days from
// the earliest thread date; empty windows are omitted. The group id is
// "{from}/{to}" in ISO dates.
func (g *WindowGrouper) Group(threads []*model.Thread) ([]model.ThreadGroup, error) {
	if len(threads) == 0 {
		return nil, nil
	}

	sorted := make([]*model.Thread, len(threads))
	copy(sorted, threads)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].AsAt.Before(sorted[j].AsAt)
	})

	minDate := dateOf(sorted[0].AsAt)
	maxDate := dateOf(sorted[len(sorted)-1].AsAt)

	step := g.cfg.WindowDays - g.cfg.OverlapDays

	var groups []model.ThreadGroup

	for start := minDate; !start.After(maxDate); start = start.AddDate(0, 0, step) {
		end := start.AddDate(0, 0, g.cfg.WindowDays-1)

		var members []*model.Thread

		for _, thread := range sorted {
			d := dateOf(thread.AsAt)
			if !d.Before(start) && !d.After(end) {
				members = append(members, thread)
			}
		}

		if len(members) > 0 {
			groups = append(groups, model.ThreadGroup{
				GroupID: model.DateOnly(start) + "/" + model.DateOnly(end),
				Threads: members,
			})
		}

		// The timeline is covered once a window reaches the last date;
		// stepping further would only emit trailing sub-windows.
		if !end.Before(maxDate) {
			break
		}
	}

	return groups, nil
}

// dateOf truncates a timestamp to its UTC calendar date.
func dateOf(t time.Time) time.Time {
	year, month, dayOfMonth := t.UTC().Date()

	return time.Date(year, month, dayOfMonth, 0, 0, 0, 0, time.UTC)
}
