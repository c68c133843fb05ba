package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// stores returns every local implementation, freshly created.
func stores(t *testing.T) map[string]drive.BlobStore {
	t.Helper()
	fsStore, err := NewFileSystemStore(t.TempDir(), nil)
	require.NoError(t, err)
	return map[string]drive.BlobStore{
		"memory":     NewMemoryStore(nil),
		"filesystem": fsStore,
	}
}

func put(t *testing.T, s drive.BlobStore, key, data string) {
	t.Helper()
	require.NoError(t, s.Put(context.Background(), key, strings.NewReader(data), int64(len(data)), "text/plain"))
}

func read(t *testing.T, s drive.BlobStore, key string) string {
	t.Helper()
	rc, err := s.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(data)
}

func TestBlobStore_PutGetStat(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			put(t, s, "content/ab/abc", "hello world")

			assert.Equal(t, "hello world", read(t, s, "content/ab/abc"))

			size, err := s.Stat(ctx, "content/ab/abc")
			require.NoError(t, err)
			assert.Equal(t, int64(11), size)

			ok, err := s.Exists(ctx, "content/ab/abc")
			require.NoError(t, err)
			assert.True(t, ok)
		})
	}
}

func TestBlobStore_PutOverwrites(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, s, "k", "first")
			put(t, s, "k", "second value")
			assert.Equal(t, "second value", read(t, s, "k"))
		})
	}
}

func TestBlobStore_PutSizeMismatch(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			err := s.Put(ctx, "k", strings.NewReader("abc"), 10, "")
			require.Error(t, err)

			ok, err := s.Exists(ctx, "k")
			require.NoError(t, err)
			assert.False(t, ok, "blob stored despite size mismatch")
		})
	}
}

func TestBlobStore_MissingKey(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, err := s.Get(ctx, "nope")
			assert.True(t, errors.Is(err, drive.ErrBlobNotFound), "Get() error = %v", err)

			_, err = s.Stat(ctx, "nope")
			assert.True(t, errors.Is(err, drive.ErrBlobNotFound), "Stat() error = %v", err)

			ok, err := s.Exists(ctx, "nope")
			require.NoError(t, err)
			assert.False(t, ok)

			_, err = s.PresignedURL(ctx, "nope", time.Minute)
			assert.True(t, errors.Is(err, drive.ErrBlobNotFound), "PresignedURL() error = %v", err)
		})
	}
}

func TestBlobStore_DeleteIdempotent(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			put(t, s, "chunks/1/h/0.chunk", "x")

			require.NoError(t, s.Delete(ctx, "chunks/1/h/0.chunk"))
			require.NoError(t, s.Delete(ctx, "chunks/1/h/0.chunk"))

			ok, err := s.Exists(ctx, "chunks/1/h/0.chunk")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestBlobStore_ListByPrefix(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, s, "chunks/1/h/1.chunk", "b")
			put(t, s, "chunks/1/h/0.chunk", "a")
			put(t, s, "chunks/1/other/0.chunk", "c")
			put(t, s, "content/ab/abc", "d")

			keys, err := s.List(context.Background(), "chunks/1/h/")
			require.NoError(t, err)
			assert.Equal(t, []string{"chunks/1/h/0.chunk", "chunks/1/h/1.chunk"}, keys)

			keys, err = s.List(context.Background(), "missing/")
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestBlobStore_Compose(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			put(t, s, "p/0", "hello ")
			put(t, s, "p/1", "composed ")
			put(t, s, "p/2", "world")

			size, err := s.Compose(ctx, []string{"p/0", "p/1", "p/2"}, "merged/out", "text/plain")
			require.NoError(t, err)
			assert.Equal(t, int64(20), size)
			assert.Equal(t, "hello composed world", read(t, s, "merged/out"))
		})
	}
}

func TestBlobStore_ComposeMissingSource(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			put(t, s, "p/0", "a")

			_, err := s.Compose(ctx, []string{"p/0", "p/1"}, "merged/out", "")
			require.Error(t, err)
			assert.True(t, errors.Is(err, drive.ErrBlobNotFound), "Compose() error = %v", err)

			ok, err := s.Exists(ctx, "merged/out")
			require.NoError(t, err)
			assert.False(t, ok, "partial compose target left behind")
		})
	}
}

func TestBlobStore_ComposeNoKeys(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Compose(context.Background(), nil, "merged/out", "")
			assert.Error(t, err)
		})
	}
}

func TestBlobStore_PresignedURL(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			put(t, s, "content/ab/abc", "data")

			u, err := s.PresignedURL(context.Background(), "content/ab/abc", time.Minute)
			require.NoError(t, err)
			assert.Contains(t, u, "content/ab/abc?token=")
		})
	}
}

func TestBlobStore_ValidateSetup(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			assert.NoError(t, s.ValidateSetup(context.Background()))
		})
	}
}

func TestFileSystemStore_RejectsEscapingKeys(t *testing.T) {
	s, err := NewFileSystemStore(t.TempDir(), nil)
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../outside", "a/../../b", "a//b", ".tmp-x"} {
		err := s.Put(context.Background(), key, bytes.NewReader(nil), 0, "")
		assert.Error(t, err, "Put(%q) accepted", key)
	}
}

func TestFileSystemStore_DeletePrunesEmptyDirs(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystemStore(root, nil)
	require.NoError(t, err)
	put(t, s, "chunks/1/h/0.chunk", "x")

	require.NoError(t, s.Delete(context.Background(), "chunks/1/h/0.chunk"))

	keys, err := s.List(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
	assert.NoDirExists(t, root+"/chunks")
	assert.DirExists(t, root)
}

func TestFileSystemStore_ListWalksOnlyPrefixDir(t *testing.T) {
	root := t.TempDir()
	s, err := NewFileSystemStore(root, nil)
	require.NoError(t, err)

	for prefix, want := range map[string]string{
		"":             root,
		"content":      root,
		"chunks/1/h/":  filepath.Join(root, "chunks", "1", "h"),
		"chunks/1/h/0": filepath.Join(root, "chunks", "1", "h"),
		"chunks/1/o":   filepath.Join(root, "chunks", "1"),
	} {
		got, err := s.listRoot(prefix)
		require.NoError(t, err, "listRoot(%q)", prefix)
		assert.Equal(t, want, got, "listRoot(%q)", prefix)
	}

	put(t, s, "chunks/1/h/0.chunk", "a")
	put(t, s, "chunks/1/other/0.chunk", "c")
	keys, err := s.List(context.Background(), "chunks/1/o")
	require.NoError(t, err)
	assert.Equal(t, []string{"chunks/1/other/0.chunk"}, keys)

	_, err = s.List(context.Background(), "../outside/")
	assert.Error(t, err)
}
