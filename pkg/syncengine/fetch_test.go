package syncengine_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncengine"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

func registerOrigin(t *testing.T, ctx context.Context, local *node, db repometa.DB, url string) {
	t.Helper()
	tx, err := local.meta.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.AddRemote(db, "origin", url))
	require.NoError(t, tx.Commit())
}

func TestFetchEngine_FirstFetchAdvancesHead(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	upstream := newNode(t)
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "c1")
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "c2")

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")

	engine := syncengine.NewFetchEngine(local.meta, local.layers, nil)
	head, advanced, err := engine.Fetch(ctx, db, "origin", bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)
	require.True(t, advanced)
	require.NotNil(t, head)
}

func TestFetchEngine_NoUpdatesReturnsUnchanged(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}

	upstream := newNode(t)
	upstream.commit(t, ctx, repometa.LocalRepo(db), "main", "c1")

	local := newNode(t)
	registerOrigin(t, ctx, local, db, "local://origin")

	engine := syncengine.NewFetchEngine(local.meta, local.layers, nil)
	_, _, err := engine.Fetch(ctx, db, "origin", bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)

	head2, advanced2, err := engine.Fetch(ctx, db, "origin", bridgeFetch(upstream, db, "main"))
	require.NoError(t, err)
	require.False(t, advanced2)
	require.NotNil(t, head2)
}

func TestFetchEngine_UnregisteredRemoteFails(t *testing.T) {
	ctx := context.Background()
	db := repometa.DB{Account: "acme", Name: "graphs"}
	local := newNode(t)

	engine := syncengine.NewFetchEngine(local.meta, local.layers, nil)
	_, _, err := engine.Fetch(ctx, db, "origin", func(ctx context.Context, url string, baseline *layerhash.Hash) (transport.PackResponse, error) {
		t.Fatal("fetch_fn should not be invoked for an unregistered remote")
		return transport.PackResponse{}, nil
	})
	require.Error(t, err)
}
