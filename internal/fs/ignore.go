package fs

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"strings"
)

// builtinSkips never reach the drive: the ignore file itself, desktop
// metadata files and office lock files.
var builtinSkips = []string{IgnoreFileName, ".DS_Store", "Thumbs.db", "desktop.ini", "~$*"}

// skipRule is one line of a skip list.
//
//	name      matches that name in any folder
//	a/b       matches the drive path a/b below the upload root
//	/name     matches name at the upload root only
//	name/     matches folders only
type skipRule struct {
	glob     string
	anchored bool
	dirOnly  bool
}

func parseSkipRule(line string) (skipRule, bool) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return skipRule{}, false
	}
	var r skipRule
	if strings.HasSuffix(line, "/") {
		r.dirOnly = true
		line = strings.TrimRight(line, "/")
	}
	if strings.Contains(line, "/") {
		r.anchored = true
		line = strings.TrimLeft(line, "/")
	}
	if line == "" {
		return skipRule{}, false
	}
	if _, err := path.Match(line, ""); err != nil {
		return skipRule{}, false
	}
	r.glob = line
	return r, true
}

func (r skipRule) matches(drivePath string, isDir bool) bool {
	if r.dirOnly && !isDir {
		return false
	}
	target := drivePath
	if !r.anchored {
		target = path.Base(drivePath)
	}
	ok, _ := path.Match(r.glob, target)
	return ok
}

// SkipList decides which local entries stay out of an upload. Paths are
// drive paths: slash-separated and relative to the upload root.
type SkipList struct {
	rules []skipRule
}

// NewSkipList compiles the built-in skips plus every given set of lines.
// Blank lines, comments and malformed globs are dropped.
func NewSkipList(sets ...[]string) *SkipList {
	s := &SkipList{}
	add := func(lines []string) {
		for _, line := range lines {
			if r, ok := parseSkipRule(line); ok {
				s.rules = append(s.rules, r)
			}
		}
	}
	add(builtinSkips)
	for _, lines := range sets {
		add(lines)
	}
	return s
}

// Skips reports whether the entry at drivePath is left out.
func (s *SkipList) Skips(drivePath string, isDir bool) bool {
	drivePath = strings.Trim(drivePath, "/")
	if drivePath == "" {
		return false
	}
	for _, r := range s.rules {
		if r.matches(drivePath, isDir) {
			return true
		}
	}
	return false
}

// ReadSkipFile returns the lines of a .driveignore file, or nil when there
// is none.
func ReadSkipFile(name string) ([]string, error) {
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ignore file: %w", err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ignore file: %w", err)
	}
	return lines, nil
}
