// Package blobstoretest checks that a blobstore.Store implementation
// behaves like the in-memory reference store.
package blobstoretest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/localvec/blobstore"
)

// Run exercises store with the shared behavior every implementation must
// provide. The store must start empty.
func Run(t *testing.T, store blobstore.Store) {
	t.Helper()

	ctx := context.Background()

	t.Run("PutGet", func(t *testing.T) {
		data := []byte("hello world")
		require.NoError(t, store.Put(ctx, "exports/a.bundle", data))

		data[0] = 'H'

		got, err := store.Get(ctx, "exports/a.bundle")
		require.NoError(t, err)
		assert.Equal(t, "hello world", string(got))

		require.NoError(t, store.Put(ctx, "exports/a.bundle", []byte("replaced")))

		got, err = store.Get(ctx, "/exports/a.bundle")
		require.NoError(t, err)
		assert.Equal(t, "replaced", string(got))
	})

	t.Run("Missing", func(t *testing.T) {
		_, err := store.Get(ctx, "nope")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("List", func(t *testing.T) {
		require.NoError(t, store.Put(ctx, "exports/b.bundle", []byte("b")))
		require.NoError(t, store.Put(ctx, "other/c.bundle", []byte("c")))

		names, err := store.List(ctx, "exports/")
		require.NoError(t, err)
		assert.Equal(t, []string{"exports/a.bundle", "exports/b.bundle"}, names)

		all, err := store.List(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"exports/a.bundle", "exports/b.bundle", "other/c.bundle"}, all)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, store.Delete(ctx, "other/c.bundle"))
		require.NoError(t, store.Delete(ctx, "other/c.bundle"))

		_, err := store.Get(ctx, "other/c.bundle")
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("InvalidName", func(t *testing.T) {
		for _, name := range []string{"", "..", "../escape", "/"} {
			err := store.Put(ctx, name, []byte("x"))
			assert.ErrorIs(t, err, blobstore.ErrInvalidName, name)
		}
	})
}
