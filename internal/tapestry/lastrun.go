package tapestry

import (
	"log/slog"
	"path/filepath"

	"github.com/tapestry-ai/tapestry/pkg/persist"
)

// lastRunBasename names the persisted last-run report next to the store.
const lastRunBasename = "last_run"

// lastRunPersister encodes run reports as lz4-framed compact JSON.
var lastRunPersister = persist.NewPersister[Result](
	lastRunBasename,
	persist.NewLZ4Codec(persist.NewCompactJSONCodec()),
)

// lastRunDir is the directory holding the report: the store's directory.
func (t *Tapestry) lastRunDir() string {
	return filepath.Dir(t.cfg.Store.Path)
}

// saveLastRun persists the run report. Best effort: a failed save is
// logged, never fails the run.
func (t *Tapestry) saveLastRun(result *Result) {
	err := lastRunPersister.Save(t.lastRunDir(), result)
	if err != nil {
		t.logger.Warn("last-run report not saved", slog.String("error", err.Error()))
	}
}

// LastRun loads the most recently persisted run report.
func (t *Tapestry) LastRun() (*Result, error) {
	return lastRunPersister.Load(t.lastRunDir())
}
