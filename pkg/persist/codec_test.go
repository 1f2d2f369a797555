package persist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-ai/tapestry/pkg/persist"
)

type sample struct {
	Name  string   `json:"name"`
	Count int      `json:"count"`
	Tags  []string `json:"tags"`
}

func roundTrip(t *testing.T, codec persist.Codec) {
	t.Helper()

	in := sample{Name: "threads", Count: 42, Tags: []string{"a", "b"}}

	data, err := persist.EncodeBytes(codec, &in)
	require.NoError(t, err)

	var out sample

	err = persist.DecodeBytes(codec, data, &out)
	require.NoError(t, err)

	assert.Equal(t, in, out)
}

func TestJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	roundTrip(t, persist.NewJSONCodec())
}

func TestCompactJSONCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	roundTrip(t, persist.NewCompactJSONCodec())
}

func TestGobCodec_RoundTrip(t *testing.T) {
	t.Parallel()
	roundTrip(t, persist.NewGobCodec())
}

func TestLZ4Codec_RoundTrip(t *testing.T) {
	t.Parallel()
	roundTrip(t, persist.NewLZ4Codec(persist.NewCompactJSONCodec()))
}

func TestLZ4Codec_Extension(t *testing.T) {
	t.Parallel()

	codec := persist.NewLZ4Codec(persist.NewJSONCodec())
	assert.Equal(t, ".json.lz4", codec.Extension())
}

func TestLZ4Codec_CompressesRepetitivePayload(t *testing.T) {
	t.Parallel()

	big := sample{Name: "payload"}
	for range 2000 {
		big.Tags = append(big.Tags, "the same conversation preview text")
	}

	plain, err := persist.EncodeBytes(persist.NewCompactJSONCodec(), &big)
	require.NoError(t, err)

	packed, err := persist.EncodeBytes(persist.NewLZ4Codec(persist.NewCompactJSONCodec()), &big)
	require.NoError(t, err)

	assert.Less(t, len(packed), len(plain)/4)
}

func TestPersister_SaveLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	p := persist.NewPersister[sample]("report", persist.NewJSONCodec())

	in := sample{Name: "run", Count: 7}

	err := p.Save(dir, &in)
	require.NoError(t, err)

	out, err := p.Load(dir)
	require.NoError(t, err)

	assert.Equal(t, in, *out)
}

func TestPersister_LoadMissing(t *testing.T) {
	t.Parallel()

	p := persist.NewPersister[sample]("report", persist.NewJSONCodec())

	_, err := p.Load(t.TempDir())
	assert.Error(t, err)
}
