package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

const tempPrefix = ".tmp-"

// FileSystemStore is a filesystem-based implementation of drive.BlobStore.
// Keys are slash separated and map to files below root:
//
//	<root>/
//	  content/ab/<hash>
//	  chunks/<owner>/<hash>/<n>.chunk
//	  merged/<owner>/<hash>/<name>
type FileSystemStore struct {
	root   string
	signer *URLSigner
}

// NewFileSystemStore creates a store rooted at root, creating it if needed.
func NewFileSystemStore(root string, signer *URLSigner) (*FileSystemStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating blob root: %w", err)
	}
	if signer == nil {
		signer = randomSigner("file://" + filepath.ToSlash(root))
	}
	return &FileSystemStore{root: root, signer: signer}, nil
}

// path maps key below root, rejecting keys that would escape it.
func (s *FileSystemStore) path(key string) (string, error) {
	if key == "" || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." || strings.HasPrefix(part, tempPrefix) {
			return "", fmt.Errorf("invalid blob key %q", key)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}

func (s *FileSystemStore) Put(ctx context.Context, key string, r io.Reader, size int64, mediaType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	_, err = s.writeFile(dest, func(w io.Writer) (int64, error) {
		return io.Copy(w, r)
	}, size)
	return err
}

func (s *FileSystemStore) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
		}
		return nil, fmt.Errorf("opening blob %s: %w", key, err)
	}
	return f, nil
}

func (s *FileSystemStore) Stat(ctx context.Context, key string) (int64, error) {
	p, err := s.path(key)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return 0, fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
		}
		return 0, fmt.Errorf("stat blob %s: %w", key, err)
	}
	if info.IsDir() {
		return 0, fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
	}
	return info.Size(), nil
}

func (s *FileSystemStore) Delete(ctx context.Context, key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	s.pruneEmpty(filepath.Dir(p))
	return nil
}

func (s *FileSystemStore) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.Stat(ctx, key)
	if errors.Is(err, drive.ErrBlobNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// listRoot is the deepest directory that holds every key starting with prefix.
func (s *FileSystemStore) listRoot(prefix string) (string, error) {
	dir := prefix
	if i := strings.LastIndex(dir, "/"); i >= 0 {
		dir = dir[:i]
	} else {
		dir = ""
	}
	if dir == "" {
		return s.root, nil
	}
	return s.path(dir)
}

func (s *FileSystemStore) List(ctx context.Context, prefix string) ([]string, error) {
	start, err := s.listRoot(prefix)
	if err != nil {
		return nil, fmt.Errorf("listing blobs under %q: %w", prefix, err)
	}
	var keys []string
	err = filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), tempPrefix) {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing blobs under %q: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *FileSystemStore) Compose(ctx context.Context, keys []string, target string, mediaType string) (int64, error) {
	if len(keys) == 0 {
		return 0, fmt.Errorf("compose %s: no source keys", target)
	}
	dest, err := s.path(target)
	if err != nil {
		return 0, err
	}
	sources := make([]string, len(keys))
	for i, k := range keys {
		if sources[i], err = s.path(k); err != nil {
			return 0, err
		}
	}

	return s.writeFile(dest, func(w io.Writer) (int64, error) {
		var total int64
		for i, src := range sources {
			if err := ctx.Err(); err != nil {
				return total, err
			}
			n, err := appendFile(w, src)
			total += n
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return total, fmt.Errorf("source %s: %w", keys[i], drive.ErrBlobNotFound)
				}
				return total, fmt.Errorf("source %s: %w", keys[i], err)
			}
		}
		return total, nil
	}, -1)
}

func appendFile(w io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(w, f)
}

func (s *FileSystemStore) PresignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	ok, err := s.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%s: %w", key, drive.ErrBlobNotFound)
	}
	return s.signer.Sign(key, ttl)
}

// ValidateSetup verifies that root is a writable directory.
func (s *FileSystemStore) ValidateSetup(ctx context.Context) error {
	info, err := os.Stat(s.root)
	if err != nil {
		return fmt.Errorf("blob root not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("blob root is not a directory: %s", s.root)
	}
	f, err := os.CreateTemp(s.root, tempPrefix+"check-*")
	if err != nil {
		return fmt.Errorf("blob root not writable: %w", err)
	}
	f.Close()
	return os.Remove(f.Name())
}

// writeFile fills a temp file next to dest and renames it into place.
// A non-negative expectedSize is checked before the rename.
func (s *FileSystemStore) writeFile(dest string, fill func(io.Writer) (int64, error), expectedSize int64) (int64, error) {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return 0, fmt.Errorf("creating blob directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return 0, fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	written, err := fill(tmp)
	if err != nil {
		tmp.Close()
		return written, fmt.Errorf("writing %s: %w", filepath.Base(dest), err)
	}
	if err := tmp.Close(); err != nil {
		return written, fmt.Errorf("closing temp file: %w", err)
	}
	if expectedSize >= 0 && written != expectedSize {
		return written, fmt.Errorf("size mismatch: expected %d bytes, got %d", expectedSize, written)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return written, fmt.Errorf("renaming temp file: %w", err)
	}
	success = true
	return written, nil
}

// pruneEmpty removes empty directories from dir up to, but not including, root.
func (s *FileSystemStore) pruneEmpty(dir string) {
	for dir != s.root && strings.HasPrefix(dir, s.root) {
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

var _ drive.BlobStore = (*FileSystemStore)(nil)
