package search

import (
	"fmt"

	"github.com/whrgg/cloud-drive-project/internal/config"
)

// NewIndexFromConfig creates an Index based on the search config type.
// Type "none" returns a nil Index.
func NewIndexFromConfig(cfg config.SearchConfig) (Index, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil
	case "memory":
		return NewMemoryIndex(), nil
	case "badger":
		if cfg.Dir == "" {
			return nil, fmt.Errorf("badger search index requires dir to be set")
		}
		idx, err := OpenBadgerIndex(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unknown search index type: %s", cfg.Type)
	}
}
