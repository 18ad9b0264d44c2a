package dag_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/i5heu/ouroboros-db/internal/layerstore/badgerstore"
	"github.com/i5heu/ouroboros-db/pkg/dag"
	"github.com/i5heu/ouroboros-db/pkg/layerhash"
)

func openLayerStore(t *testing.T) *badgerstore.Store {
	t.Helper()
	s, err := badgerstore.Open(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func putChain(t *testing.T, ctx context.Context, s *badgerstore.Store, labels ...string) []layerhash.Hash {
	t.Helper()
	ids := make([]layerhash.Hash, len(labels))
	var parent *layerhash.Hash
	for i, label := range labels {
		id := layerhash.Sum([]byte(label))
		_, err := s.PutLayer(ctx, id, parent, []byte(label))
		require.NoError(t, err)
		ids[i] = id
		p := id
		parent = &p
	}
	return ids
}

func TestChildUntilParents_FullChain(t *testing.T) {
	ctx := context.Background()
	s := openLayerStore(t)
	ids := putChain(t, ctx, s, "base", "mid", "tip")

	w := dag.NewWalker(s)
	chain, err := w.ChildUntilParents(ctx, ids[2], nil)
	require.NoError(t, err)
	require.Equal(t, []layerhash.Hash{ids[2], ids[1], ids[0]}, chain)
}

func TestChildUntilParents_StopsAtBaseline(t *testing.T) {
	ctx := context.Background()
	s := openLayerStore(t)
	ids := putChain(t, ctx, s, "base", "mid", "tip")

	w := dag.NewWalker(s)
	chain, err := w.ChildUntilParents(ctx, ids[2], &ids[0])
	require.NoError(t, err)
	require.Equal(t, []layerhash.Hash{ids[2], ids[1]}, chain)
}

func TestChildUntilParents_BaselineEqualsCurrent(t *testing.T) {
	ctx := context.Background()
	s := openLayerStore(t)
	ids := putChain(t, ctx, s, "base")

	w := dag.NewWalker(s)
	chain, err := w.ChildUntilParents(ctx, ids[0], &ids[0])
	require.NoError(t, err)
	require.Empty(t, chain)
}

func TestChildUntilParents_BaselineAbsentFallsBackToFullChain(t *testing.T) {
	ctx := context.Background()
	s := openLayerStore(t)
	ids := putChain(t, ctx, s, "base", "mid", "tip")
	unrelated := layerhash.Sum([]byte("not-in-chain"))

	w := dag.NewWalker(s)
	chain, err := w.ChildUntilParents(ctx, ids[2], &unrelated)
	require.NoError(t, err)
	require.Equal(t, []layerhash.Hash{ids[2], ids[1], ids[0]}, chain)
}

func linearParents(chain map[layerhash.Hash]layerhash.Hash) dag.ParentsFunc {
	return func(ctx context.Context, id layerhash.Hash) ([]layerhash.Hash, error) {
		parent, ok := chain[id]
		if !ok {
			return nil, nil
		}
		return []layerhash.Hash{parent}, nil
	}
}

func TestMRCA_SameHead(t *testing.T) {
	ctx := context.Background()
	c := layerhash.Sum([]byte("c"))
	res, err := dag.MRCA(ctx, linearParents(nil), linearParents(nil), c, c)
	require.NoError(t, err)
	require.NotNil(t, res.Common)
	require.Equal(t, c, *res.Common)
	require.Empty(t, res.PathA)
	require.Empty(t, res.PathB)
}

func TestMRCA_DivergedBranches(t *testing.T) {
	ctx := context.Background()

	base := layerhash.Sum([]byte("base"))
	a1 := layerhash.Sum([]byte("a1"))
	a2 := layerhash.Sum([]byte("a2"))
	b1 := layerhash.Sum([]byte("b1"))

	parents := map[layerhash.Hash]layerhash.Hash{
		a1: base,
		a2: a1,
		b1: base,
	}

	res, err := dag.MRCA(ctx, linearParents(parents), linearParents(parents), a2, b1)
	require.NoError(t, err)
	require.NotNil(t, res.Common)
	require.Equal(t, base, *res.Common)
	require.Equal(t, []layerhash.Hash{a1, a2}, res.PathA)
	require.Equal(t, []layerhash.Hash{b1}, res.PathB)
}

func TestMRCA_NoCommonHistory(t *testing.T) {
	ctx := context.Background()

	a1 := layerhash.Sum([]byte("a-root"))
	b1 := layerhash.Sum([]byte("b-root"))

	res, err := dag.MRCA(ctx, linearParents(nil), linearParents(nil), a1, b1)
	require.NoError(t, err)
	require.Nil(t, res.Common)
	require.Equal(t, []layerhash.Hash{a1}, res.PathA)
	require.Equal(t, []layerhash.Hash{b1}, res.PathB)
}

func TestMRCA_FastForward(t *testing.T) {
	ctx := context.Background()

	base := layerhash.Sum([]byte("ff-base"))
	child := layerhash.Sum([]byte("ff-child"))

	parents := map[layerhash.Hash]layerhash.Hash{child: base}

	res, err := dag.MRCA(ctx, linearParents(parents), linearParents(parents), base, child)
	require.NoError(t, err)
	require.NotNil(t, res.Common)
	require.Equal(t, base, *res.Common)
	require.Empty(t, res.PathA)
	require.Equal(t, []layerhash.Hash{child}, res.PathB)
}
