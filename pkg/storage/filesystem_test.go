package storage

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilesystemStoreRoundTrip(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "handle-1", strings.NewReader("document body")))

	reader, err := store.Get(ctx, "handle-1")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "document body", string(data))
}

func TestFilesystemStorePutOverwrites(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "handle-1", strings.NewReader("v1")))
	require.NoError(t, store.Put(ctx, "handle-1", strings.NewReader("v2")))

	reader, err := store.Get(ctx, "handle-1")
	require.NoError(t, err)
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "v2", string(data))
}

func TestFilesystemStoreGetMissing(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Get(context.Background(), "no-such-handle")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFilesystemStoreDeleteIdempotent(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "handle-1", strings.NewReader("x")))
	require.NoError(t, store.Delete(ctx, "handle-1"))

	// Deleting again is a no-op, never an error.
	require.NoError(t, store.Delete(ctx, "handle-1"))

	_, err = store.Get(ctx, "handle-1")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestFilesystemStoreRejectsHostileHandles(t *testing.T) {
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	for _, handle := range []string{"", ".", "..", "../etc/passwd", "a/b", `a\b`} {
		assert.Error(t, store.Put(ctx, handle, strings.NewReader("x")), "handle %q", handle)
		_, err := store.Get(ctx, handle)
		assert.Error(t, err, "handle %q", handle)
		assert.Error(t, store.Delete(ctx, handle), "handle %q", handle)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "h", strings.NewReader("content")))
	assert.True(t, store.Has("h"))
	assert.Equal(t, 1, store.Len())

	reader, err := store.Get(ctx, "h")
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "content", string(data))

	require.NoError(t, store.Delete(ctx, "h"))
	require.NoError(t, store.Delete(ctx, "h"))
	_, err = store.Get(ctx, "h")
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestNewSelectsBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.FilesystemRoot = t.TempDir()

	store, err := New(cfg)
	require.NoError(t, err)
	assert.IsType(t, &FilesystemStore{}, store)

	cfg.Type = "carrier-pigeon"
	_, err = New(cfg)
	assert.Error(t, err)
}
