package persist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/pkg/persist"
)

type runReport struct {
	ThreadsCreated int      `json:"threads_created"`
	BatchesCreated int      `json:"batches_created"`
	Errors         []string `json:"errors,omitempty"`
}

func TestPersister_RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := persist.NewPersister[runReport]("last_run", persist.NewCompactJSONCodec())

	saved := &runReport{ThreadsCreated: 12, BatchesCreated: 3}
	require.NoError(t, p.Save(dir, saved))

	loaded, err := p.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestPersister_LZ4RoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	codec := persist.NewLZ4Codec(persist.NewCompactJSONCodec())
	p := persist.NewPersister[runReport]("last_run", codec)

	saved := &runReport{ThreadsCreated: 1, Errors: []string{"task t-1 failed"}}
	require.NoError(t, p.Save(dir, saved))

	loaded, err := p.Load(dir)
	require.NoError(t, err)
	assert.Equal(t, saved, loaded)
}

func TestPersister_LoadMissingFile(t *testing.T) {
	t.Parallel()

	p := persist.NewPersister[runReport]("last_run", persist.NewCompactJSONCodec())

	_, err := p.Load(t.TempDir())
	assert.Error(t, err)
}
