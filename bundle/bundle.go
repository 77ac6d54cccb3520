// Package bundle defines the export/import format: a versioned,
// self-describing snapshot of collections with their documents.
//
// Bundles are JSON. Encode can wrap the JSON in a compression envelope;
// Decode detects the envelope by its magic bytes. Unknown fields are
// ignored so older readers accept newer bundles of the same version.
package bundle

import (
	"errors"
	"fmt"
	"math"

	"github.com/hupe1980/localvec/codec"
)

// Version is the format version written by Encode.
const Version = 1

var (
	// ErrUnsupportedVersion is returned for bundles of an unknown version.
	ErrUnsupportedVersion = errors.New("bundle: unsupported version")

	// ErrInvalid is returned for structurally invalid bundles.
	ErrInvalid = errors.New("bundle: invalid")
)

// Document is one exported document. Vector is omitted for metadata-only
// documents.
type Document struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Vector   []float32      `json:"vector,omitempty"`
}

// Collection is one exported collection.
type Collection struct {
	Name       string     `json:"name"`
	Dimensions int        `json:"dimensions"`
	Documents  []Document `json:"documents"`
}

// Bundle is an export snapshot.
type Bundle struct {
	Version     int          `json:"version"`
	Collections []Collection `json:"collections"`
}

// New returns an empty bundle of the current version.
func New() *Bundle {
	return &Bundle{Version: Version}
}

// Collection returns the collection called name, or nil.
func (b *Bundle) Collection(name string) *Collection {
	for i := range b.Collections {
		if b.Collections[i].Name == name {
			return &b.Collections[i]
		}
	}

	return nil
}

// Len returns the number of documents across collections.
func (b *Bundle) Len() int {
	n := 0
	for _, c := range b.Collections {
		n += len(c.Documents)
	}

	return n
}

// Validate checks version, names and vector shapes.
func (b *Bundle) Validate() error {
	if b.Version < 1 || b.Version > Version {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, b.Version)
	}

	seen := make(map[string]struct{}, len(b.Collections))

	for _, c := range b.Collections {
		if c.Name == "" {
			return fmt.Errorf("%w: collection without name", ErrInvalid)
		}

		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("%w: duplicate collection %q", ErrInvalid, c.Name)
		}

		seen[c.Name] = struct{}{}

		if c.Dimensions <= 0 {
			return fmt.Errorf("%w: collection %q has dimensions %d", ErrInvalid, c.Name, c.Dimensions)
		}

		for _, d := range c.Documents {
			if d.ID == "" {
				return fmt.Errorf("%w: collection %q has a document without id", ErrInvalid, c.Name)
			}

			if d.Vector == nil {
				continue
			}

			if len(d.Vector) != c.Dimensions {
				return fmt.Errorf("%w: document %q has %d dimensions, collection %q has %d",
					ErrInvalid, d.ID, len(d.Vector), c.Name, c.Dimensions)
			}

			for _, f := range d.Vector {
				if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
					return fmt.Errorf("%w: document %q has a non-finite component", ErrInvalid, d.ID)
				}
			}
		}
	}

	return nil
}

// Encode serializes b as JSON wrapped in compression c.
func Encode(b *Bundle, c codec.Compression) ([]byte, error) {
	if b.Version == 0 {
		b.Version = Version
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}

	raw, err := codec.JSON{}.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("bundle: encode: %w", err)
	}

	return codec.Compress(c, raw)
}

// Decode parses and validates a bundle written by Encode.
func Decode(data []byte) (*Bundle, error) {
	raw, err := codec.Decompress(data)
	if err != nil {
		return nil, fmt.Errorf("bundle: decompress: %w", err)
	}

	var b Bundle
	if err := (codec.JSON{}).Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}

	return &b, nil
}
