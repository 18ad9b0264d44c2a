// Package badgerstore implements the layerstore.Store capability on top of
// github.com/dgraph-io/badger/v4, the teacher's KV engine. It follows
// internal/keyValStore's badger.DefaultOptions / SyncWrites=false / atomic
// read-write counters discipline, generalized from chunk storage to layer
// storage. Store holds a logrus logger at this lower tier while the higher
// sync-core packages standardize on slog; no Store method writes to it.
package badgerstore

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/layerstore"
)

const keyPrefix = "layer:"

// Store is a badger-backed layerstore.Store.
type Store struct {
	db  *badger.DB
	log *logrus.Logger

	readCounter  uint64
	writeCounter uint64
}

// Open opens (creating if absent) a badger database at dir and wraps it as
// a layerstore.Store.
func Open(dir string, logger *logrus.Logger) (*Store, error) {
	if logger == nil {
		logger = logrus.New()
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", dir, err)
	}

	return &Store{db: db, log: logger}, nil
}

// Close releases the underlying badger database.
func (s *Store) Close() error {
	return s.db.Close()
}

func layerKey(id layerhash.Hash) []byte {
	key := make([]byte, 0, len(keyPrefix)+layerhash.Size)
	key = append(key, keyPrefix...)
	key = append(key, id[:]...)
	return key
}

// encode lays out a stored layer as: 1-byte has-parent flag, 20-byte parent
// (zeroed if absent), payload bytes.
func encode(parent *layerhash.Hash, data []byte) []byte {
	out := make([]byte, 1+layerhash.Size+len(data))
	if parent != nil {
		out[0] = 1
		copy(out[1:1+layerhash.Size], parent[:])
	}
	copy(out[1+layerhash.Size:], data)
	return out
}

func decode(raw []byte) (parent *layerhash.Hash, data []byte, err error) {
	if len(raw) < 1+layerhash.Size {
		return nil, nil, fmt.Errorf("badgerstore: corrupt record: too short")
	}
	hasParent := raw[0] != 0
	data = raw[1+layerhash.Size:]
	if hasParent {
		p, err := layerhash.FromBytes(raw[1 : 1+layerhash.Size])
		if err != nil {
			return nil, nil, err
		}
		parent = &p
	}
	return parent, data, nil
}

func (s *Store) PutLayer(ctx context.Context, id layerhash.Hash, parent *layerhash.Hash, data []byte) (layerstore.PutResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	atomic.AddUint64(&s.writeCounter, 1)

	key := layerKey(id)
	encoded := encode(parent, data)

	result := layerstore.PutOK
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == badger.ErrKeyNotFound:
			return txn.Set(key, encoded)
		case err != nil:
			return err
		}

		existing, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if string(existing) == string(encoded) {
			result = layerstore.PutAlreadyPresent
			return nil
		}
		result = layerstore.PutMismatch
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("badgerstore: put layer %s: %w", id, err)
	}
	return result, nil
}

func (s *Store) GetLayer(ctx context.Context, id layerhash.Hash) (*layerhash.Hash, []byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, false, err
	}
	atomic.AddUint64(&s.readCounter, 1)

	var parent *layerhash.Hash
	var data []byte
	found := false

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(layerKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		parent, data, err = decode(raw)
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return nil, nil, false, fmt.Errorf("badgerstore: get layer %s: %w", id, err)
	}
	return parent, data, found, nil
}

func (s *Store) ParentOf(ctx context.Context, id layerhash.Hash) (*layerhash.Hash, bool, error) {
	parent, _, ok, err := s.GetLayer(ctx, id)
	return parent, ok, err
}

func (s *Store) Exists(ctx context.Context, id layerhash.Hash) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	atomic.AddUint64(&s.readCounter, 1)

	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(layerKey(id))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("badgerstore: exists %s: %w", id, err)
	}
	return found, nil
}

// Sweep deletes layers unreachable from liveRoots, following the teacher's
// OuroborosDB.createGarbageCollection ticker-driven cleanup. It is invoked
// explicitly (no background goroutine here) so callers control cadence.
func (s *Store) Sweep(ctx context.Context, liveRoots []layerhash.Hash) (removed int, err error) {
	live := make(map[layerhash.Hash]struct{}, len(liveRoots))
	queue := append([]layerhash.Hash{}, liveRoots...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, seen := live[id]; seen {
			continue
		}
		live[id] = struct{}{}
		parent, ok, err := s.ParentOf(ctx, id)
		if err != nil {
			return removed, err
		}
		if ok && parent != nil {
			queue = append(queue, *parent)
		}
	}

	var toDelete [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			idHex := key[len(keyPrefix):]
			id, err := layerhash.FromBytes(idHex)
			if err != nil {
				continue
			}
			if _, ok := live[id]; !ok {
				toDelete = append(toDelete, key)
			}
		}
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("badgerstore: sweep scan: %w", err)
	}

	for _, key := range toDelete {
		if err := s.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		}); err != nil {
			return removed, fmt.Errorf("badgerstore: sweep delete: %w", err)
		}
		removed++
	}

	return removed, nil
}

var _ layerstore.Store = (*Store)(nil)
