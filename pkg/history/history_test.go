package history_test

import (
	"context"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-db/internal/repometa/badgerrepo"
	"github.com/i5heu/ouroboros-db/pkg/history"
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

func putChain(t *testing.T, ctx context.Context, tx repometa.Tx, repo repometa.RepoRef, labels ...string) []repometa.CommitID {
	t.Helper()
	ids := make([]repometa.CommitID, len(labels))
	var parents []repometa.CommitID
	for i, label := range labels {
		id := layerhash.Sum([]byte(label))
		c := repometa.Commit{ID: id, Author: "a", Message: label, Parents: parents}
		require.NoError(t, tx.PutCommit(repo, c))
		ids[i] = id
		parents = []repometa.CommitID{id}
	}
	return ids
}

func TestCopyCommits_CopiesAncestorsOnce(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := repometa.DB{Account: "acme", Name: "graphs"}
	src := repometa.LocalRepo(db)
	dst := repometa.RemoteTrackingRepo(db, "origin")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids := putChain(t, ctx, tx, src, "c1", "c2", "c3")
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, history.CopyCommits(ctx, tx2, src, tx2, dst, ids[2]))
	require.NoError(t, tx2.Commit())

	tx3, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, id := range ids {
		has, err := tx3.HasCommit(dst, id)
		require.NoError(t, err)
		require.True(t, has, "commit %s should be reachable in dst", id)
	}
	require.NoError(t, tx3.Commit())

	// Idempotent: copying again writes nothing new and doesn't error.
	tx4, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, history.CopyCommits(ctx, tx4, src, tx4, dst, ids[2]))
	require.NoError(t, tx4.Commit())
}

func TestCopyCommits_StopsAtExistingAncestor(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := repometa.DB{Account: "acme", Name: "graphs"}
	src := repometa.LocalRepo(db)
	dst := repometa.RemoteTrackingRepo(db, "origin")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids := putChain(t, ctx, tx, src, "c1", "c2", "c3")
	require.NoError(t, tx.Commit())

	// dst already has c1.
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	c1, _, err := tx2.GetCommit(src, ids[0])
	require.NoError(t, err)
	require.NoError(t, tx2.PutCommit(dst, c1))
	require.NoError(t, tx2.Commit())

	tx3, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, history.CopyCommits(ctx, tx3, src, tx3, dst, ids[2]))
	require.NoError(t, tx3.Commit())

	tx4, err := s.Begin(ctx)
	require.NoError(t, err)
	for _, id := range ids {
		has, err := tx4.HasCommit(dst, id)
		require.NoError(t, err)
		require.True(t, has)
	}
	require.NoError(t, tx4.Commit())
}

func TestLinearChain_OldestFirst(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := repometa.DB{Account: "acme", Name: "graphs"}
	repo := repometa.LocalRepo(db)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids := putChain(t, ctx, tx, repo, "c1", "c2", "c3")
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	chain, err := history.LinearChain(ctx, tx2, repo, ids[2], nil)
	require.NoError(t, err)
	require.Equal(t, ids, chain)
	require.NoError(t, tx2.Commit())
}

func TestLinearChain_StopsAtBaseline(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := repometa.DB{Account: "acme", Name: "graphs"}
	repo := repometa.LocalRepo(db)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	ids := putChain(t, ctx, tx, repo, "c1", "c2", "c3")
	require.NoError(t, tx.Commit())

	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	chain, err := history.LinearChain(ctx, tx2, repo, ids[2], &ids[0])
	require.NoError(t, err)
	require.Equal(t, []repometa.CommitID{ids[1], ids[2]}, chain)
	require.NoError(t, tx2.Commit())
}

func TestMRCA_DelegatesAcrossRepos(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	db := repometa.DB{Account: "acme", Name: "graphs"}
	local := repometa.LocalRepo(db)
	remote := repometa.RemoteTrackingRepo(db, "origin")

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	base := putChain(t, ctx, tx, local, "base")
	require.NoError(t, tx.Commit())

	// Build divergent branches manually so parent links are correct.
	tx2, err := s.Begin(ctx)
	require.NoError(t, err)
	a1 := layerhash.Sum([]byte("a1"))
	require.NoError(t, tx2.PutCommit(local, repometa.Commit{ID: a1, Parents: []repometa.CommitID{base[0]}}))
	b1 := layerhash.Sum([]byte("b1"))
	require.NoError(t, tx2.PutCommit(remote, repometa.Commit{ID: b1, Parents: []repometa.CommitID{base[0]}}))
	require.NoError(t, tx2.Commit())

	tx3, err := s.Begin(ctx)
	require.NoError(t, err)
	res, err := history.MRCA(ctx, tx3, local, tx3, remote, a1, b1)
	require.NoError(t, err)
	require.NotNil(t, res.Common)
	require.Equal(t, base[0], *res.Common)
	require.Equal(t, []layerhash.Hash{a1}, res.PathA)
	require.Equal(t, []layerhash.Hash{b1}, res.PathB)
	require.NoError(t, tx3.Commit())
}
