package blob

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *FilesystemStore {
	t.Helper()
	store, err := NewFilesystemStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func seedBlob(t *testing.T, store *FilesystemStore, container, name string, data []byte) {
	t.Helper()
	dir := filepath.Join(store.baseDir, container)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func TestFilesystemStoreListAndRead(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seedBlob(t, store, "probate", "b.zip", []byte("bbb"))
	seedBlob(t, store, "probate", "a.zip", []byte("aaa"))
	seedBlob(t, store, "divorce", "c.zip", []byte("ccc"))

	containers, err := store.ListContainers(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"divorce", "probate"}, containers)

	blobs, err := store.ListBlobs(ctx, "probate")
	require.NoError(t, err)
	require.Equal(t, []string{"a.zip", "b.zip"}, blobs)

	data, err := store.Read(ctx, "probate", "a.zip")
	require.NoError(t, err)
	require.Equal(t, []byte("aaa"), data)
}

func TestFilesystemStoreListMissingContainer(t *testing.T) {
	store := newTestStore(t)
	blobs, err := store.ListBlobs(context.Background(), "absent")
	require.NoError(t, err)
	require.Empty(t, blobs)
}

func TestFilesystemStoreMove(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBlob(t, store, "probate", "bad.zip", []byte("zzz"))

	require.NoError(t, store.Move(ctx, "probate", "bad.zip", "rejected"))

	exists, err := store.Exists(ctx, "probate", "bad.zip")
	require.NoError(t, err)
	require.False(t, exists)

	data, err := store.Read(ctx, "rejected", "bad.zip")
	require.NoError(t, err)
	require.Equal(t, []byte("zzz"), data)
}

func TestFilesystemStoreDeleteIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	seedBlob(t, store, "probate", "x.zip", []byte("x"))

	require.NoError(t, store.Delete(ctx, "probate", "x.zip"))
	require.NoError(t, store.Delete(ctx, "probate", "x.zip"))
}

func TestFilesystemStoreRejectsTraversal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Read(ctx, "probate", "../escape.zip")
	require.Error(t, err)

	_, err = store.Read(ctx, "../probate", "x.zip")
	require.Error(t, err)
}
