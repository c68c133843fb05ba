package search

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/whrgg/cloud-drive-project/internal/drive"
)

// Key layout:
//
//	n/<owner:8>/<id:8>  -> JSON NodeSummary
//	o/<id:8>            -> owner:8
//
// Integers are big-endian so one owner's entries share a prefix.
const (
	prefixNode  = 'n'
	prefixOwner = 'o'
)

func keyNode(owner, id int64) []byte {
	k := make([]byte, 0, 17)
	k = append(k, prefixNode)
	k = binary.BigEndian.AppendUint64(k, uint64(owner))
	return binary.BigEndian.AppendUint64(k, uint64(id))
}

func keyOwnerPrefix(owner int64) []byte {
	k := make([]byte, 0, 9)
	k = append(k, prefixNode)
	return binary.BigEndian.AppendUint64(k, uint64(owner))
}

func keyOwnerOf(id int64) []byte {
	k := make([]byte, 0, 9)
	k = append(k, prefixOwner)
	return binary.BigEndian.AppendUint64(k, uint64(id))
}

// BadgerIndex persists the name index in a badger database.
type BadgerIndex struct {
	db *badger.DB
}

// OpenBadgerIndex opens (or creates) an index in dir. An empty dir opens an
// in-memory database.
func OpenBadgerIndex(dir string) (*BadgerIndex, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening search index: %w", err)
	}
	return &BadgerIndex{db: db}, nil
}

func setSummary(set func(k, v []byte) error, n drive.NodeSummary) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encoding node %d: %w", n.ID, err)
	}
	if err := set(keyNode(n.OwnerID, n.ID), data); err != nil {
		return err
	}
	return set(keyOwnerOf(n.ID), binary.BigEndian.AppendUint64(nil, uint64(n.OwnerID)))
}

func (b *BadgerIndex) Index(ctx context.Context, n drive.NodeSummary) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return setSummary(txn.Set, n)
	})
}

func (b *BadgerIndex) Update(ctx context.Context, n drive.NodeSummary) error {
	return b.Index(ctx, n)
}

func (b *BadgerIndex) Delete(ctx context.Context, nodeID int64) error {
	return b.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(keyOwnerOf(nodeID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		var owner int64
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("corrupt owner entry for node %d", nodeID)
			}
			owner = int64(binary.BigEndian.Uint64(val))
			return nil
		}); err != nil {
			return err
		}
		if err := txn.Delete(keyNode(owner, nodeID)); err != nil {
			return err
		}
		return txn.Delete(keyOwnerOf(nodeID))
	})
}

func (b *BadgerIndex) BulkIndex(ctx context.Context, nodes []drive.NodeSummary) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, n := range nodes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := setSummary(wb.Set, n); err != nil {
			return fmt.Errorf("batching node %d: %w", n.ID, err)
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("flushing index batch: %w", err)
	}
	return nil
}

func (b *BadgerIndex) Search(ctx context.Context, keyword string, owner int64) ([]int64, error) {
	keyword = normalize(keyword)
	if keyword == "" {
		return nil, nil
	}

	var ids []int64
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyOwnerPrefix(owner)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var n drive.NodeSummary
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &n)
			}); err != nil {
				return fmt.Errorf("decoding index entry: %w", err)
			}
			if matches(n, keyword, owner) {
				ids = append(ids, n.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("searching index: %w", err)
	}
	return ids, nil
}

func (b *BadgerIndex) Close() error {
	return b.db.Close()
}

var _ Index = (*BadgerIndex)(nil)
