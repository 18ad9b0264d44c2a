package badgerrepo_test

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-db/internal/repometa/badgerrepo"
	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
)

func openStore(t *testing.T) *badgerrepo.Store {
	t.Helper()
	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return badgerrepo.Open(db)
}

func testDB() repometa.DB { return repometa.DB{Account: "acme", Name: "graphs"} }

func TestAddRemote_AndDuplicate(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := testDB()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	require.NoError(t, tx.AddRemote(db, "origin", "https://example.test/origin"))
	err = tx.AddRemote(db, "origin", "https://example.test/origin2")
	require.ErrorIs(t, err, repometa.ErrRemoteAlreadyExists)

	require.NoError(t, tx.Commit())
}

func TestRepositoryHead_AbsentThenSet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := testDB()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddRemote(db, "origin", "u"))

	head, err := tx.RepositoryHead(db, "origin")
	require.NoError(t, err)
	require.Nil(t, head)

	id := layerhash.Sum([]byte("layer-1"))
	require.NoError(t, tx.UpdateRepositoryHead(db, "origin", id))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	head2, err := tx2.RepositoryHead(db, "origin")
	require.NoError(t, err)
	require.NotNil(t, head2)
	require.Equal(t, id, *head2)
	require.NoError(t, tx2.Commit())
}

func TestBranchHeadCommit_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	repo := repometa.LocalRepo(testDB())

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	head, err := tx.BranchHeadCommit(repo, "main")
	require.NoError(t, err)
	require.Nil(t, head)

	c1 := layerhash.Sum([]byte("commit-1"))
	require.NoError(t, tx.ResetBranchHead(repo, "main", c1))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	got, err := tx2.BranchHeadCommit(repo, "main")
	require.NoError(t, err)
	require.Equal(t, c1, *got)
	require.NoError(t, tx2.Commit())
}

func TestPutCommit_AndGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	repo := repometa.LocalRepo(testDB())

	tx, err := s.Begin(ctx)
	require.NoError(t, err)

	id := layerhash.Sum([]byte("commit-x"))
	parent := layerhash.Sum([]byte("commit-parent"))
	layer := layerhash.Sum([]byte("layer-instance"))

	c := repometa.Commit{
		ID:        id,
		Author:    "alice",
		Message:   "hello",
		Timestamp: 1234,
		Parents:   []repometa.CommitID{parent},
		Layers:    map[repometa.GraphName]layerhash.Hash{repometa.GraphInstance: layer},
	}
	require.NoError(t, tx.PutCommit(repo, c))
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	got, ok, err := tx2.GetCommit(repo, id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, c.Author, got.Author)
	require.Equal(t, c.Parents, got.Parents)
	require.Equal(t, layer, got.Layers[repometa.GraphInstance])

	has, err := tx2.HasCommit(repo, id)
	require.NoError(t, err)
	require.True(t, has)

	has, err = tx2.HasCommit(repo, parent)
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, tx2.Commit())
}

func TestRollback_DiscardsChanges(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := testDB()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddRemote(db, "origin", "u"))
	require.NoError(t, tx.Rollback())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	_, ok, err := tx2.Remote(db, "origin")
	require.NoError(t, err)
	require.False(t, ok)
	require.NoError(t, tx2.Commit())
}
