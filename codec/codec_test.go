package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID    string         `json:"id" msgpack:"id"`
	Score float64        `json:"score" msgpack:"score"`
	Tags  []string       `json:"tags" msgpack:"tags"`
	Attrs map[string]any `json:"attrs" msgpack:"attrs"`
}

func TestCodecs(t *testing.T) {
	in := sample{ID: "a", Score: 0.5, Tags: []string{"x"}, Attrs: map[string]any{"k": "v"}}

	for _, name := range []string{"json", "msgpack"} {
		t.Run(name, func(t *testing.T) {
			c, ok := ByName(name)
			require.True(t, ok)
			assert.Equal(t, name, c.Name())

			var out sample
			require.NoError(t, c.Unmarshal(MustMarshal(c, in), &out))
			assert.Equal(t, in, out)
		})
	}

	_, ok := ByName("gob")
	assert.False(t, ok)
}

func TestCompressRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte(`{"id":"doc","vector":[0.1,0.2,0.3]}`), 200)

	for _, c := range []Compression{CompressionLZ4, CompressionZstd} {
		t.Run(c.String(), func(t *testing.T) {
			packed, err := Compress(c, data)
			require.NoError(t, err)
			assert.True(t, IsCompressed(packed))
			assert.Less(t, len(packed), len(data))

			out, err := Decompress(packed)
			require.NoError(t, err)
			assert.Equal(t, data, out)
		})
	}
}

func TestDecompressPlain(t *testing.T) {
	plain := []byte(`{"version":1}`)

	out, err := Decompress(plain)
	require.NoError(t, err)
	assert.Equal(t, plain, out)

	same, err := Compress(CompressionNone, plain)
	require.NoError(t, err)
	assert.Equal(t, plain, same)
}

func TestDecompressCorrupt(t *testing.T) {
	packed, err := Compress(CompressionZstd, bytes.Repeat([]byte("abc"), 100))
	require.NoError(t, err)

	_, err = Decompress(packed[:len(packed)-4])
	assert.ErrorIs(t, err, ErrCorrupt)

	_, err = Decompress([]byte{'L', 'V', 'C', 9, 1, 0})
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestParseCompression(t *testing.T) {
	c, err := ParseCompression("ZSTD")
	require.NoError(t, err)
	assert.Equal(t, CompressionZstd, c)

	_, err = ParseCompression("brotli")
	assert.Error(t, err)
}
