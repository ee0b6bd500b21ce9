package blobstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ifs "github.com/hupe1980/hnswbridge/internal/fs"
)

// dirEntries lists every file under root, dot files included.
func dirEntries(t *testing.T, root string) []string {
	t.Helper()
	var names []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, d.Name())
		}
		return nil
	})
	require.NoError(t, err)
	return names
}

func TestLocalStore_Faults(t *testing.T) {
	tests := []struct {
		name  string
		fault ifs.Fault
	}{
		{"write", ifs.Fault{FailAfterBytes: 8}},
		{"sync", ifs.Fault{FailAfterBytes: -1, FailOnSync: true}},
		{"close", ifs.Fault{FailAfterBytes: -1, FailOnClose: true}},
		{"rename", ifs.Fault{FailAfterBytes: -1, FailOnRename: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			root := t.TempDir()

			ffs := ifs.NewFaultyFS(nil)
			ffs.AddRule("broken.snap", tt.fault)
			store := newLocalStore(root, ffs)

			require.NoError(t, store.Put(ctx, "ok.snap", []byte("fine")))

			err := store.Put(ctx, "broken.snap", []byte("this payload is longer than eight bytes"))
			require.ErrorIs(t, err, ifs.ErrInjected)

			names, err := store.List(ctx, "")
			require.NoError(t, err)
			assert.Equal(t, []string{"ok.snap"}, names)
			assert.Equal(t, []string{"ok.snap"}, dirEntries(t, root), "temp file left behind")
		})
	}
}

func TestLocalStore_Abort(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	store := NewLocalStore(root)

	w, err := store.Create(ctx, "partial.snap")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)

	a, ok := w.(Aborter)
	require.True(t, ok)
	require.NoError(t, a.Abort())
	assert.ErrorIs(t, a.Abort(), os.ErrClosed)
	assert.ErrorIs(t, w.Close(), os.ErrClosed)

	_, err = store.Open(ctx, "partial.snap")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, dirEntries(t, root))
}

func TestMemoryStore_Abort(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	w, err := store.Create(ctx, "partial.snap")
	require.NoError(t, err)
	_, err = w.Write([]byte("half"))
	require.NoError(t, err)
	require.NoError(t, w.(Aborter).Abort())

	_, err = store.Open(ctx, "partial.snap")
	assert.ErrorIs(t, err, ErrNotFound)
}
