package syncengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/pack"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncengine"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// bridgePush admits a pushed payload's layers into upstream's store, the
// way an HTTP /api/unpack handler would — the receiver-side commit graph
// is its own concern and outside this engine's scope (the Orchestrator
// exposes unpack as the layer-admission primitive only).
func bridgePush(upstream *node) transport.PushFunc {
	return func(ctx context.Context, remoteURL string, payload pack.Payload) error {
		_, p, err := pack.RepositoryHeadAndPack(payload)
		if err != nil {
			return err
		}
		return syncengine.UnpackInto(ctx, upstream.layers, p)
	}
}

func seedRemoteHead(t *testing.T, ctx context.Context, local *node, db repometa.DB, head layerhash.Hash) {
	t.Helper()
	tx, err := local.meta.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.UpdateRepositoryHead(db, "origin", head))
	require.NoError(t, tx.Commit())
}

func TestPushEngine_RequiresBranch(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")

	engine := syncengine.NewPushEngine(local.meta, local.layers, nil)
	_, err := engine.Push(ctx, db, "", "origin", nil, nil)
	require.Error(t, err)
}

func TestPushEngine_RequiresRepositoryHead(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")
	local.commit(t, ctx, repometa.LocalRepo(db), "main", "c1")

	engine := syncengine.NewPushEngine(local.meta, local.layers, nil)
	_, err := engine.Push(ctx, db, "main", "origin", nil, nil)
	require.Error(t, err)
}

func TestPushEngine_EmptyToEmptyIsNoop(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")
	seedRemoteHead(t, ctx, local, db, layerhash.Sum([]byte("empty-marker")))

	engine := syncengine.NewPushEngine(local.meta, local.layers, nil)
	res, err := engine.Push(ctx, db, "main", "origin", nil, nil)
	require.NoError(t, err)
	require.False(t, res.Changed)
}

func TestPushEngine_NewCommitsPush(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	local := newNode(t)
	upstream := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")
	seedRemoteHead(t, ctx, local, db, layerhash.Sum([]byte("empty-marker")))

	local.commit(t, ctx, repometa.LocalRepo(db), "main", "c1")
	local.commit(t, ctx, repometa.LocalRepo(db), "main", "c2")

	engine := syncengine.NewPushEngine(local.meta, local.layers, nil)
	res, err := engine.Push(ctx, db, "main", "origin", nil, bridgePush(upstream))
	require.NoError(t, err)
	require.True(t, res.Changed)

	exists, err := upstream.layers.Exists(ctx, res.Head)
	require.NoError(t, err)
	require.True(t, exists, "pushed head layer should now exist upstream")
}

func TestPushEngine_UnauthorizedIsRejected(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")
	seedRemoteHead(t, ctx, local, db, layerhash.Sum([]byte("empty-marker")))
	local.commit(t, ctx, repometa.LocalRepo(db), "main", "c1")

	engine := syncengine.NewPushEngine(local.meta, local.layers, nil)
	_, err := engine.Push(ctx, db, "main", "origin", func() error { return context.DeadlineExceeded }, nil)
	require.Error(t, err)
}
