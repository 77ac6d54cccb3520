//go:build unix

package broadcast

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketFanOut(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := NewSocket(dir)
	require.NoError(t, err)

	defer a.Close()

	b, err := NewSocket(dir)
	require.NoError(t, err)

	defer b.Close()

	assert.NotEqual(t, a.ID(), b.ID())

	fromA, cancelA := a.Subscribe("docs")
	defer cancelA()

	fromB, cancelB := b.Subscribe("docs")
	defer cancelB()

	require.NoError(t, a.Publish(ctx, Event{Type: DocumentDeleted, CollectionID: "docs", DocumentID: "x", Origin: a.ID()}))

	local := receive(t, fromA)
	assert.Equal(t, a.ID(), local.Origin)

	remote := receive(t, fromB)
	assert.Equal(t, DocumentDeleted, remote.Type)
	assert.Equal(t, "x", remote.DocumentID)
	assert.Equal(t, a.ID(), remote.Origin)
}

func TestSocketRemovesStalePeers(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	a, err := NewSocket(dir)
	require.NoError(t, err)

	defer a.Close()

	// A regular file with the socket suffix stands in for a crashed peer.
	stale := filepath.Join(dir, "dead"+socketSuffix)
	require.NoError(t, os.WriteFile(stale, nil, 0o600))

	require.NoError(t, a.Publish(ctx, Event{Type: DocumentAdded, CollectionID: "docs"}))

	_, err = os.Stat(stale)
	assert.True(t, os.IsNotExist(err))
}

func TestSocketCloseUnbinds(t *testing.T) {
	dir := t.TempDir()

	a, err := NewSocket(dir)
	require.NoError(t, err)

	ch, _ := a.Subscribe("")

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	_, ok := <-ch
	assert.False(t, ok)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
