package blobstore

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("blobstore: not found")

// ErrInvalidName is returned for empty names or names escaping the store root.
var ErrInvalidName = errors.New("blobstore: invalid name")

// Store is a flat namespace of immutable objects.
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under name, replacing any previous object.
	Put(ctx context.Context, name string, data []byte) error
	// Get returns the content of name or ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)
	// Delete removes name. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
	// List returns the sorted names starting with prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// CleanName normalizes name and rejects names that are empty or point
// outside the store root.
func CleanName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidName)
	}

	clean := path.Clean(strings.TrimPrefix(name, "/"))
	if clean == "." || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	return clean, nil
}
