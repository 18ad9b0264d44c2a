// Package badgerrepo implements repometa.Store on badger/v4, keying records
// by prefix the way internal/storage prefixes Event/RootEvent records
// ("RootEvent:<title>:") and reading them back with GetItemsWithPrefix-style
// scans. Commit and branch records are gob-encoded, following
// internal/wal/wal.go and internal/storage/rootEvents.go's own use of
// encoding/gob for structured persistence.
package badgerrepo

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
)

const (
	prefixRemote = "remote:"
	prefixHead   = "head:"
	prefixBranch = "branch:"
	prefixCommit = "commit:"
)

// Store opens transactions against a badger-backed metadata graph.
type Store struct {
	db *badger.DB
}

// Open wraps an already-open badger database as a repometa.Store. The CLI
// and the tests open it as a database of its own, separate from the one
// badgerstore.Open creates for layers.
func Open(db *badger.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Begin(ctx context.Context) (repometa.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &tx{txn: s.db.NewTransaction(true)}, nil
}

type tx struct {
	txn *badger.Txn
}

type remoteRecord struct {
	URL        string
	Type       repometa.RemoteType
	RemoteHead *layerhash.Hash
}

func remoteKey(db repometa.DB, name string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s:%s", prefixRemote, db.Account, db.Name, name))
}

func headKey(db repometa.DB, remoteName string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s:%s", prefixHead, db.Account, db.Name, remoteName))
}

func branchKey(repo repometa.RepoRef, branch string) []byte {
	return []byte(fmt.Sprintf("%s%s/%s:%s:%s", prefixBranch, repo.Database.Account, repo.Database.Name, repo.Repo, branch))
}

func commitKey(repo repometa.RepoRef, id repometa.CommitID) []byte {
	return []byte(fmt.Sprintf("%s%s/%s:%s:%s", prefixCommit, repo.Database.Account, repo.Database.Name, repo.Repo, id.String()))
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(raw []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(raw)).Decode(v)
}

func (t *tx) AddRemote(db repometa.DB, name, url string) error {
	key := remoteKey(db, name)
	if _, err := t.txn.Get(key); err == nil {
		return repometa.ErrRemoteAlreadyExists
	} else if err != badger.ErrKeyNotFound {
		return err
	}

	rec := remoteRecord{URL: url, Type: repometa.RemoteTypeRemote}
	encoded, err := gobEncode(rec)
	if err != nil {
		return err
	}
	return t.txn.Set(key, encoded)
}

func (t *tx) RemoveRemote(db repometa.DB, name string) error {
	if err := t.txn.Delete(remoteKey(db, name)); err != nil {
		return err
	}
	return t.txn.Delete(headKey(db, name))
}

func (t *tx) getRemoteRecord(db repometa.DB, name string) (remoteRecord, bool, error) {
	item, err := t.txn.Get(remoteKey(db, name))
	if err == badger.ErrKeyNotFound {
		return remoteRecord{}, false, nil
	}
	if err != nil {
		return remoteRecord{}, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return remoteRecord{}, false, err
	}
	var rec remoteRecord
	if err := gobDecode(raw, &rec); err != nil {
		return remoteRecord{}, false, err
	}
	return rec, true, nil
}

func (t *tx) RemoteType(db repometa.DB, name string) (repometa.RemoteType, error) {
	rec, ok, err := t.getRemoteRecord(db, name)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("badgerrepo: remote %q not found", name)
	}
	return rec.Type, nil
}

func (t *tx) Remote(db repometa.DB, name string) (repometa.Remote, bool, error) {
	rec, ok, err := t.getRemoteRecord(db, name)
	if err != nil || !ok {
		return repometa.Remote{}, ok, err
	}
	head, err := t.RepositoryHead(db, name)
	if err != nil {
		return repometa.Remote{}, false, err
	}
	return repometa.Remote{Name: name, URL: rec.URL, Type: rec.Type, RemoteHead: head}, true, nil
}

func (t *tx) RepositoryHead(db repometa.DB, remoteName string) (*layerhash.Hash, error) {
	item, err := t.txn.Get(headKey(db, remoteName))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	h, err := layerhash.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *tx) UpdateRepositoryHead(db repometa.DB, remoteName string, id layerhash.Hash) error {
	return t.txn.Set(headKey(db, remoteName), id.Bytes())
}

func (t *tx) InsertRemoteRepository(db repometa.DB, name, url string) error {
	key := remoteKey(db, name)
	if _, err := t.txn.Get(key); err == nil {
		return repometa.ErrRemoteAlreadyExists
	} else if err != badger.ErrKeyNotFound {
		return err
	}
	rec := remoteRecord{URL: url, Type: repometa.RemoteTypeRemote}
	encoded, err := gobEncode(rec)
	if err != nil {
		return err
	}
	return t.txn.Set(key, encoded)
}

func (t *tx) BranchHeadCommit(repo repometa.RepoRef, branch string) (*repometa.CommitID, error) {
	item, err := t.txn.Get(branchKey(repo, branch))
	if err == badger.ErrKeyNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	id, err := layerhash.FromBytes(raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func (t *tx) ResetBranchHead(repo repometa.RepoRef, branch string, commit repometa.CommitID) error {
	return t.txn.Set(branchKey(repo, branch), commit.Bytes())
}

func (t *tx) DeleteBranch(repo repometa.RepoRef, branch string) error {
	return t.txn.Delete(branchKey(repo, branch))
}

type commitRecord struct {
	Author    string
	Message   string
	Timestamp int64
	Parents   []layerhash.Hash
	Layers    map[repometa.GraphName]layerhash.Hash
}

func (t *tx) PutCommit(repo repometa.RepoRef, c repometa.Commit) error {
	rec := commitRecord{
		Author:    c.Author,
		Message:   c.Message,
		Timestamp: c.Timestamp,
		Parents:   c.Parents,
		Layers:    c.Layers,
	}
	encoded, err := gobEncode(rec)
	if err != nil {
		return err
	}
	return t.txn.Set(commitKey(repo, c.ID), encoded)
}

func (t *tx) GetCommit(repo repometa.RepoRef, id repometa.CommitID) (repometa.Commit, bool, error) {
	item, err := t.txn.Get(commitKey(repo, id))
	if err == badger.ErrKeyNotFound {
		return repometa.Commit{}, false, nil
	}
	if err != nil {
		return repometa.Commit{}, false, err
	}
	raw, err := item.ValueCopy(nil)
	if err != nil {
		return repometa.Commit{}, false, err
	}
	var rec commitRecord
	if err := gobDecode(raw, &rec); err != nil {
		return repometa.Commit{}, false, err
	}
	return repometa.Commit{
		ID:        id,
		Author:    rec.Author,
		Message:   rec.Message,
		Timestamp: rec.Timestamp,
		Parents:   rec.Parents,
		Layers:    rec.Layers,
	}, true, nil
}

func (t *tx) HasCommit(repo repometa.RepoRef, id repometa.CommitID) (bool, error) {
	_, err := t.txn.Get(commitKey(repo, id))
	if err == badger.ErrKeyNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (t *tx) Commit() error {
	return t.txn.Commit()
}

func (t *tx) Rollback() error {
	t.txn.Discard()
	return nil
}

var _ repometa.Store = (*Store)(nil)
