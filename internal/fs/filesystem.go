package fs

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// IgnoreFileName is read from the root of every uploaded directory.
const IgnoreFileName = ".driveignore"

// LocalFile is a regular file found below an upload root.
type LocalFile struct {
	Path   string // absolute
	RelDir string // slash-separated directory relative to the root, "" for the root itself
	Name   string
	Size   int64
}

// Walker discovers local files to upload.
type Walker struct {
	ignore []string
}

// NewWalker creates a Walker that skips entries matching patterns in addition
// to the built-in skips and the rules of each root's .driveignore.
func NewWalker(patterns []string) *Walker {
	return &Walker{ignore: patterns}
}

// Resolve returns the absolute form of rawPath after rejecting special files.
func Resolve(rawPath string) (string, os.FileInfo, error) {
	absPath, err := filepath.Abs(rawPath)
	if err != nil {
		return "", nil, fmt.Errorf("resolving absolute path: %w", err)
	}
	info, err := os.Lstat(absPath)
	if err != nil {
		return "", nil, fmt.Errorf("stat path: %w", err)
	}
	mode := info.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return "", nil, fmt.Errorf("symlinks not supported: %s", absPath)
	case mode&os.ModeDevice != 0:
		return "", nil, fmt.Errorf("device files not supported: %s", absPath)
	case mode&os.ModeNamedPipe != 0:
		return "", nil, fmt.Errorf("named pipes not supported: %s", absPath)
	case mode&os.ModeSocket != 0:
		return "", nil, fmt.Errorf("sockets not supported: %s", absPath)
	}
	return absPath, info, nil
}

// Find lists regular files under rawPath. A file path yields itself. For a
// directory, recursive selects the whole tree; otherwise only its direct
// entries. The directory's own name becomes the first RelDir segment.
func (w *Walker) Find(rawPath string, recursive bool) ([]LocalFile, error) {
	root, info, err := Resolve(rawPath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []LocalFile{{Path: root, Name: info.Name(), Size: info.Size()}}, nil
	}

	fileRules, err := ReadSkipFile(filepath.Join(root, IgnoreFileName))
	if err != nil {
		return nil, err
	}
	skip := NewSkipList(w.ignore, fileRules)
	base := filepath.Base(root)

	var files []LocalFile
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skip.Skips(filepath.ToSlash(rel), d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", p, err)
		}
		relDir := filepath.ToSlash(filepath.Join(base, filepath.Dir(rel)))
		files = append(files, LocalFile{Path: p, RelDir: relDir, Name: d.Name(), Size: fi.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking directory: %w", err)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// HashFile returns the hex MD5 of the file at path, the content hash the
// drive deduplicates on.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Chunk is one piece of a local file.
type Chunk struct {
	Index  int
	Offset int64
	Size   int64
}

// SplitChunks divides size bytes into chunkSize pieces. An empty file has no chunks.
func SplitChunks(size, chunkSize int64) []Chunk {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}
	var chunks []Chunk
	for off, i := int64(0), 0; off < size; off, i = off+chunkSize, i+1 {
		n := min(chunkSize, size-off)
		chunks = append(chunks, Chunk{Index: i, Offset: off, Size: n})
	}
	return chunks
}
