package bundle

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/codec"
)

func sample() *Bundle {
	b := New()
	b.Collections = []Collection{
		{
			Name:       "docs",
			Dimensions: 3,
			Documents: []Document{
				{ID: "a", Metadata: map[string]any{"lang": "go"}, Vector: []float32{1, 0, 0}},
				{ID: "b", Metadata: map[string]any{"lang": "zig"}},
			},
		},
		{Name: "empty", Dimensions: 8, Documents: []Document{}},
	}

	return b
}

func TestRoundTrip(t *testing.T) {
	for _, c := range []codec.Compression{codec.CompressionNone, codec.CompressionZstd, codec.CompressionLZ4} {
		t.Run(c.String(), func(t *testing.T) {
			data, err := Encode(sample(), c)
			require.NoError(t, err)

			got, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, Version, got.Version)
			assert.Equal(t, 2, got.Len())

			docs := got.Collection("docs")
			require.NotNil(t, docs)
			assert.Equal(t, 3, docs.Dimensions)
			assert.Equal(t, []float32{1, 0, 0}, docs.Documents[0].Vector)
			assert.Nil(t, docs.Documents[1].Vector)
			assert.Equal(t, "zig", docs.Documents[1].Metadata["lang"])
			assert.Nil(t, got.Collection("missing"))
		})
	}
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	data := []byte(`{
		"version": 1,
		"exportedBy": "someone",
		"collections": [
			{"name": "docs", "dimensions": 2, "color": "blue", "documents": [
				{"id": "a", "vector": [0.5, 0.5], "extra": true},
				{"id": "b"}
			]}
		]
	}`)

	b, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Len())
	assert.Nil(t, b.Collections[0].Documents[1].Metadata)
}

func TestDecodeErrors(t *testing.T) {
	tests := map[string]struct {
		data string
		err  error
	}{
		"NotJSON":          {`nope`, ErrInvalid},
		"FutureVersion":    {`{"version": 2, "collections": []}`, ErrUnsupportedVersion},
		"MissingVersion":   {`{"collections": []}`, ErrUnsupportedVersion},
		"NoName":           {`{"version": 1, "collections": [{"dimensions": 2, "documents": []}]}`, ErrInvalid},
		"NoDimensions":     {`{"version": 1, "collections": [{"name": "a", "documents": []}]}`, ErrInvalid},
		"Duplicate":        {`{"version": 1, "collections": [{"name": "a", "dimensions": 1}, {"name": "a", "dimensions": 1}]}`, ErrInvalid},
		"WrongVectorShape": {`{"version": 1, "collections": [{"name": "a", "dimensions": 2, "documents": [{"id": "x", "vector": [1]}]}]}`, ErrInvalid},
		"NoID":             {`{"version": 1, "collections": [{"name": "a", "dimensions": 1, "documents": [{"vector": [1]}]}]}`, ErrInvalid},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(tt.data))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestEncodeFillsVersion(t *testing.T) {
	b := &Bundle{Collections: []Collection{{Name: "a", Dimensions: 1}}}

	data, err := Encode(b, codec.CompressionNone)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"version":1`)
}
