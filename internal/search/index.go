// Package search keeps the name index used by "drive search". The index is
// derived data: it can always be rebuilt from the catalog.
package search

import (
	"io"
	"strings"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// Index is a drive.SearchIndex that holds resources.
type Index interface {
	drive.SearchIndex
	io.Closer
}

// matches reports whether n belongs to owner and its name contains keyword,
// ignoring case.
func matches(n drive.NodeSummary, keyword string, owner int64) bool {
	return n.OwnerID == owner && strings.Contains(strings.ToLower(n.Name), keyword)
}

func normalize(keyword string) string {
	return strings.ToLower(strings.TrimSpace(keyword))
}
