package blobstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStoreLifecycle(t *testing.T, store BlobStore) {
	ctx := context.Background()
	data := []byte("hello world, this is a snapshot blob")

	w, err := store.Create(ctx, "snapshots/a.hbs")
	require.NoError(t, err)
	n, err := w.Write(data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, w.Sync())
	require.NoError(t, w.Close())

	blob, err := store.Open(ctx, "snapshots/a.hbs")
	require.NoError(t, err)
	defer blob.Close()
	require.Equal(t, int64(len(data)), blob.Size())

	buf := make([]byte, 5)
	n, err = blob.ReadAt(ctx, buf, 6)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "world", string(buf))

	n, err = blob.ReadAt(ctx, make([]byte, 10), int64(len(data))-4)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, 4, n)

	rc, err := blob.ReadRange(ctx, 13, 4)
	require.NoError(t, err)
	part, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "this", string(part))

	all, err := io.ReadAll(NewReader(ctx, blob))
	require.NoError(t, err)
	assert.Equal(t, data, all)

	require.NoError(t, store.Put(ctx, "snapshots/b.hbs", []byte("b")))
	require.NoError(t, store.Put(ctx, "other", []byte("o")))

	names, err := store.List(ctx, "snapshots/")
	require.NoError(t, err)
	assert.Equal(t, []string{"snapshots/a.hbs", "snapshots/b.hbs"}, names)

	got, err := ReadAll(ctx, store, "snapshots/b.hbs")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)

	require.NoError(t, store.Delete(ctx, "snapshots/b.hbs"))
	require.NoError(t, store.Delete(ctx, "snapshots/b.hbs"), "deleting a missing blob")

	_, err = store.Open(ctx, "snapshots/b.hbs")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_Lifecycle(t *testing.T) {
	testStoreLifecycle(t, NewMemoryStore())
}

func TestLocalStore_Lifecycle(t *testing.T) {
	testStoreLifecycle(t, NewLocalStore(t.TempDir()))
}

func TestLocalStore_CreateIsAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewLocalStore(dir)

	w, err := store.Create(ctx, "idx.hbs")
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "idx.hbs"))
	assert.ErrorIs(t, err, os.ErrNotExist, "not visible before Close")

	names, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, names, "temporary files are hidden")

	require.NoError(t, w.Close())
	_, err = w.Write([]byte("more"))
	assert.Error(t, err)

	blob, err := store.Open(ctx, "idx.hbs")
	require.NoError(t, err)
	defer blob.Close()

	m, ok := blob.(Mappable)
	require.True(t, ok)
	b, err := m.Bytes()
	require.NoError(t, err)
	assert.Equal(t, "partial", string(b))
}

func TestLocalStore_ListMissingRoot(t *testing.T) {
	store := NewLocalStore(filepath.Join(t.TempDir(), "missing"))
	names, err := store.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestMemoryStore_OpenKeepsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Put(ctx, "x", []byte("v1")))

	blob, err := store.Open(ctx, "x")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "x", []byte("v2")))

	buf := make([]byte, 2)
	_, err = blob.ReadAt(ctx, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(buf))
}
