package syncengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncengine"
)

func TestPullEngine_FastForwardFromScratch(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	upstream := newNode(t)
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "c1")
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "c2")

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")

	fetch := syncengine.NewFetchEngine(local.meta, local.layers, nil)
	pull := syncengine.NewPullEngine(fetch, local.meta, nil)

	res, err := pull.Pull(ctx, db, "main", "origin", "main", nil, bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)
	require.Equal(t, syncengine.PullFastForwarded, res.Outcome)
	require.Len(t, res.Applied, 2)
}

func TestPullEngine_UnchangedWhenBothEmpty(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	upstream := newNode(t)
	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")

	fetch := syncengine.NewFetchEngine(local.meta, local.layers, nil)
	pull := syncengine.NewPullEngine(fetch, local.meta, nil)

	res, err := pull.Pull(ctx, db, "main", "origin", "main", nil, bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)
	require.Equal(t, syncengine.PullUnchanged, res.Outcome)
}

func TestPullEngine_AheadWhenLocalHasUnpushedCommits(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	upstream := newNode(t)
	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")
	local.commit(t, ctx, repometa.LocalRepo(db), "main", "c1")

	fetch := syncengine.NewFetchEngine(local.meta, local.layers, nil)
	pull := syncengine.NewPullEngine(fetch, local.meta, nil)

	res, err := pull.Pull(ctx, db, "main", "origin", "main", nil, bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)
	require.Equal(t, syncengine.PullAhead, res.Outcome)
}

func TestPullEngine_DivergentHistoryRequiresRebase(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	upstream := newNode(t)
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "base")
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "remote-only")

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")

	fetch := syncengine.NewFetchEngine(local.meta, local.layers, nil)
	pull := syncengine.NewPullEngine(fetch, local.meta, nil)

	// First pull brings "base" and "remote-only" in as local's own history.
	_, err := pull.Pull(ctx, db, "main", "origin", "main", nil, bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)

	// Local then diverges with its own commit while upstream also advances.
	local.commit(t, ctx, repometa.LocalRepo(db), "main", "local-only")
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "remote-only-2")

	res, err := pull.Pull(ctx, db, "main", "origin", "main", nil, bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)
	require.Equal(t, syncengine.PullDivergentHistory, res.Outcome)
}
