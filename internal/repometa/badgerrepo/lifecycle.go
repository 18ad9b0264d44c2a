package badgerrepo

import (
	"context"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/i5heu/ouroboros-db/pkg/repometa"
)

const prefixLifecycle = "lifecycle:"

func lifecycleKey(db repometa.DB) []byte {
	return []byte(fmt.Sprintf("%s%s/%s", prefixLifecycle, db.Account, db.Name))
}

// Lifecycle implements syncengine.DBLifecycle on the same badger database a
// Store reads metadata from, generalizing OuroborosDB.go's Start/Close
// discipline to CloneEngine's create_db_unfinalized/finalize_db/
// force_delete_db phases. It lives here, not in pkg/syncengine, because
// force_delete_db needs prefix-scan access to badger's raw key space that
// the repometa.Tx interface deliberately doesn't expose to engine code.
type Lifecycle struct {
	db *badger.DB
}

// NewLifecycle wraps the same badger handle a Store was opened with.
func NewLifecycle(db *badger.DB) *Lifecycle {
	return &Lifecycle{db: db}
}

func (l *Lifecycle) CreateUnfinalized(ctx context.Context, db repometa.DB) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lifecycleKey(db), []byte("unfinalized"))
	})
}

func (l *Lifecycle) Finalize(ctx context.Context, db repometa.DB) error {
	return l.db.Update(func(txn *badger.Txn) error {
		return txn.Set(lifecycleKey(db), []byte("finalized"))
	})
}

// ForceDelete removes every metadata record for db: remotes, repository
// heads, branches, commits, and the lifecycle marker itself. Layer blobs
// are left untouched — they are content-addressed and may be shared with
// other databases, so only a reachability sweep (badgerstore.Sweep), not a
// per-database delete, is safe for them.
func (l *Lifecycle) ForceDelete(ctx context.Context, db repometa.DB) error {
	infix := fmt.Sprintf("%s/%s", db.Account, db.Name)
	prefixes := []string{
		prefixRemote + infix,
		prefixHead + infix,
		prefixBranch + infix,
		prefixCommit + infix,
		string(lifecycleKey(db)),
	}

	return l.db.Update(func(txn *badger.Txn) error {
		for _, prefix := range prefixes {
			it := txn.NewIterator(badger.DefaultIteratorOptions)
			var keys [][]byte
			for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
				key := it.Item().KeyCopy(nil)
				keys = append(keys, key)
			}
			it.Close()
			for _, key := range keys {
				if err := txn.Delete(key); err != nil {
					return fmt.Errorf("badgerrepo: force_delete_db: %w", err)
				}
			}
		}
		return nil
	})
}

