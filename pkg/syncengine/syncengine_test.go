package syncengine_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-db/internal/layerstore/badgerstore"
	"github.com/i5heu/ouroboros-db/internal/repometa/badgerrepo"
	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncengine"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// node bundles a layer store and metadata store the way a single
// OuroborosDB instance would, standing in for one side of a clone/fetch/
// push/pull exchange.
type node struct {
	layers *badgerstore.Store
	meta   *badgerrepo.Store
}

func newNode(t *testing.T) *node {
	t.Helper()
	layers, err := badgerstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = layers.Close() })

	opts := badger.DefaultOptions(t.TempDir())
	opts.Logger = nil
	db, err := badger.Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return &node{layers: layers, meta: badgerrepo.Open(db)}
}

// commitLayer writes content as a new layer atop parent (nil for a root
// layer) and returns its id.
func (n *node) commitLayer(t *testing.T, ctx context.Context, parent *layerhash.Hash, content string) layerhash.Hash {
	t.Helper()
	id := layerhash.Sum([]byte(content))
	_, err := n.layers.PutLayer(ctx, id, parent, []byte(content))
	require.NoError(t, err)
	return id
}

// commit creates a commit on branch pointing one instance layer past the
// branch's current head commit (if any), and resets the branch head.
func (n *node) commit(t *testing.T, ctx context.Context, repo repometa.RepoRef, branch, content string) repometa.CommitID {
	t.Helper()

	tx, err := n.meta.Begin(ctx)
	require.NoError(t, err)

	headCommit, err := tx.BranchHeadCommit(repo, branch)
	require.NoError(t, err)

	var parentLayer *layerhash.Hash
	var parents []repometa.CommitID
	if headCommit != nil {
		prev, ok, err := tx.GetCommit(repo, *headCommit)
		require.NoError(t, err)
		require.True(t, ok)
		layer, ok := syncengine.CommitHeadLayer(prev)
		require.True(t, ok)
		parentLayer = &layer
		parents = []repometa.CommitID{*headCommit}
	}

	layerID := n.commitLayer(t, ctx, parentLayer, content)
	commitID := layerhash.Sum([]byte("commit:" + content))
	c := repometa.Commit{
		ID:      commitID,
		Author:  "tester",
		Message: content,
		Parents: parents,
		Layers:  map[repometa.GraphName]layerhash.Hash{repometa.GraphInstance: layerID},
	}
	require.NoError(t, tx.PutCommit(repo, c))
	require.NoError(t, tx.ResetBranchHead(repo, branch, commitID))
	require.NoError(t, tx.Commit())

	return commitID
}

// bridgeFetch builds a FetchFunc that serves packs from upstream's local
// branch, the way an HTTP /api/pack handler would, alongside the commit
// records and branch head the puller needs to update its remote-tracking
// metadata (see PackResponse's doc comment for why that rides along).
func bridgeFetch(upstream *node, db repometa.DB, branch string) transport.FetchFunc {
	return func(ctx context.Context, remoteURL string, baseline *layerhash.Hash) (transport.PackResponse, error) {
		tx, err := upstream.meta.Begin(ctx)
		if err != nil {
			return transport.PackResponse{}, err
		}
		defer tx.Rollback()

		headCommit, err := tx.BranchHeadCommit(repometa.LocalRepo(db), branch)
		if err != nil {
			return transport.PackResponse{}, err
		}
		if headCommit == nil {
			return transport.PackResponse{Present: false}, nil
		}

		var commits []repometa.Commit
		queue := []repometa.CommitID{*headCommit}
		seen := map[repometa.CommitID]struct{}{}
		for len(queue) > 0 {
			id := queue[0]
			queue = queue[1:]
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			c, ok, err := tx.GetCommit(repometa.LocalRepo(db), id)
			if err != nil || !ok {
				return transport.PackResponse{}, fmt.Errorf("commit %s missing", id)
			}
			commits = append(commits, c)
			queue = append(queue, c.Parents...)
		}

		headCommitRecord, ok, err := tx.GetCommit(repometa.LocalRepo(db), *headCommit)
		if err != nil || !ok {
			return transport.PackResponse{}, fmt.Errorf("head commit missing")
		}
		headLayer, ok := syncengine.CommitHeadLayer(headCommitRecord)
		if !ok {
			return transport.PackResponse{}, fmt.Errorf("head commit has no instance layer")
		}

		payload, present, err := syncengine.BuildPackFromHead(ctx, upstream.layers, headLayer, baseline)
		if err != nil {
			return transport.PackResponse{}, err
		}
		return transport.PackResponse{
			Present:     present,
			Payload:     payload,
			Commits:     commits,
			BranchHeads: map[string]repometa.CommitID{branch: *headCommit},
		}, nil
	}
}

type fakeLifecycle struct {
	created  map[repometa.DB]bool
	finished map[repometa.DB]bool
	deleted  map[repometa.DB]bool
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{created: map[repometa.DB]bool{}, finished: map[repometa.DB]bool{}, deleted: map[repometa.DB]bool{}}
}

func (f *fakeLifecycle) CreateUnfinalized(ctx context.Context, db repometa.DB) error {
	f.created[db] = true
	return nil
}
func (f *fakeLifecycle) Finalize(ctx context.Context, db repometa.DB) error {
	f.finished[db] = true
	return nil
}
func (f *fakeLifecycle) ForceDelete(ctx context.Context, db repometa.DB) error {
	f.deleted[db] = true
	return nil
}
