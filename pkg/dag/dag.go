// Package dag implements layer-chain ancestry walks and commit-level
// most-recent-common-ancestor analysis, grounded on the parent/child BFS
// style of pkg/index (ChildrenToParents.go, ParentsToChildren.go) and the
// cycle-guarded lineage walk in OuroborosDB.resolveLatestEdit.
package dag

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/layerstore"
)

// Walker walks the layer chain that mirrors a commit chain's head layer.
type Walker struct {
	store layerstore.Store
}

// NewWalker builds a Walker over the given layer store.
func NewWalker(store layerstore.Store) *Walker {
	return &Walker{store: store}
}

// ChildUntilParents returns [current, current.parent, ...], stopping when a
// layer equal to baseline is reached (exclusive — baseline is not included)
// or the chain terminates. A nil baseline returns full history. A baseline
// absent from the chain degrades gracefully to the full chain (required for
// protocol compatibility — see spec's open question on non-existent
// baselines).
func (w *Walker) ChildUntilParents(ctx context.Context, current layerhash.Hash, baseline *layerhash.Hash) ([]layerhash.Hash, error) {
	var out []layerhash.Hash
	cursor := current
	visited := make(map[layerhash.Hash]struct{})

	for {
		if baseline != nil && cursor == *baseline {
			return out, nil
		}
		if _, seen := visited[cursor]; seen {
			return nil, fmt.Errorf("dag: cycle detected at layer %s", cursor)
		}
		visited[cursor] = struct{}{}
		out = append(out, cursor)

		parent, ok, err := w.store.ParentOf(ctx, cursor)
		if err != nil {
			return nil, fmt.Errorf("dag: parent of %s: %w", cursor, err)
		}
		if !ok || parent == nil {
			return out, nil
		}
		cursor = *parent
	}
}

// RepositoryLayerToLayerIDs returns the layer-ids of the layers
// ChildUntilParents would return; layers are addressed by id, so this is
// the same walk surfaced under the spec's second accessor name.
func (w *Walker) RepositoryLayerToLayerIDs(ctx context.Context, layer layerhash.Hash, baseline *layerhash.Hash) ([]layerhash.Hash, error) {
	return w.ChildUntilParents(ctx, layer, baseline)
}

// ParentsFunc looks up a commit's parents, abstracting over which
// repository (local vs remote-tracking) the caller is walking.
type ParentsFunc func(ctx context.Context, id layerhash.Hash) ([]layerhash.Hash, error)

// MRCAResult is the outcome of a most-recent-common-ancestor computation.
type MRCAResult struct {
	Common *layerhash.Hash
	// PathA/PathB are ordered oldest-first: the commits unique to A (resp.
	// B), ready to be applied in that order during a fast-forward.
	PathA []layerhash.Hash
	PathB []layerhash.Hash
}

// MRCA computes the most-recent-common-ancestor between headA (walked via
// parentsA) and headB (walked via parentsB) using a two-sided BFS that
// intersects the visited sets as it grows them; the first commit seen on
// both sides is the MRCA, with ties broken toward the side whose frontier
// was expanded first in that round (A's).
func MRCA(ctx context.Context, parentsA, parentsB ParentsFunc, headA, headB layerhash.Hash) (MRCAResult, error) {
	if headA == headB {
		common := headA
		return MRCAResult{Common: &common}, nil
	}

	visitedA := map[layerhash.Hash]layerhash.Hash{headA: {}} // ancestor -> its BFS child (one step closer to headA)
	visitedB := map[layerhash.Hash]layerhash.Hash{headB: {}}
	firstParentA := map[layerhash.Hash]layerhash.Hash{} // node -> one of its parents (for full-history reconstruction)
	firstParentB := map[layerhash.Hash]layerhash.Hash{}

	frontierA := []layerhash.Hash{headA}
	frontierB := []layerhash.Hash{headB}

	// pathToHead walks forward from mrca, following each ancestor's child
	// pointer, up to and including head. The result is already oldest-first
	// since the walk starts at mrca and ends at head.
	pathToHead := func(visited map[layerhash.Hash]layerhash.Hash, head, mrca layerhash.Hash) []layerhash.Hash {
		var chain []layerhash.Hash
		cursor := mrca
		for cursor != head {
			next, ok := visited[cursor]
			if !ok {
				break
			}
			chain = append(chain, next)
			cursor = next
		}
		return chain
	}

	// fullHistory walks backward from head, following each node's recorded
	// parent, collecting newest-first, then reverses to oldest-first — used
	// when the two sides share no common ancestor.
	fullHistory := func(firstParent map[layerhash.Hash]layerhash.Hash, head layerhash.Hash) []layerhash.Hash {
		var chain []layerhash.Hash
		cursor := head
		for {
			chain = append(chain, cursor)
			next, ok := firstParent[cursor]
			if !ok {
				break
			}
			cursor = next
		}
		for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
			chain[i], chain[j] = chain[j], chain[i]
		}
		return chain
	}

	for len(frontierA) > 0 || len(frontierB) > 0 {
		if len(frontierA) > 0 {
			next, found, err := expand(ctx, parentsA, frontierA, visitedA, firstParentA)
			if err != nil {
				return MRCAResult{}, err
			}
			frontierA = next
			for _, cand := range found {
				if _, ok := visitedB[cand]; ok {
					common := cand
					return MRCAResult{
						Common: &common,
						PathA:  pathToHead(visitedA, headA, common),
						PathB:  pathToHead(visitedB, headB, common),
					}, nil
				}
			}
		}
		if len(frontierB) > 0 {
			next, found, err := expand(ctx, parentsB, frontierB, visitedB, firstParentB)
			if err != nil {
				return MRCAResult{}, err
			}
			frontierB = next
			for _, cand := range found {
				if _, ok := visitedA[cand]; ok {
					common := cand
					return MRCAResult{
						Common: &common,
						PathA:  pathToHead(visitedA, headA, common),
						PathB:  pathToHead(visitedB, headB, common),
					}, nil
				}
			}
		}
	}

	// No common ancestor: both paths are the full reachable histories.
	return MRCAResult{
		Common: nil,
		PathA:  fullHistory(firstParentA, headA),
		PathB:  fullHistory(firstParentB, headB),
	}, nil
}

// expand advances frontier by one BFS level. For each newly discovered
// ancestor p of a frontier node, it records p's child pointer in visited
// (p -> node, one step closer to head) and, the first time node's parent is
// found, records node's parent pointer in firstParent (node -> p, one step
// closer to the root). It returns the set of newly-discovered nodes this
// round (candidates for intersection).
func expand(ctx context.Context, parentsOf ParentsFunc, frontier []layerhash.Hash, visited map[layerhash.Hash]layerhash.Hash, firstParent map[layerhash.Hash]layerhash.Hash) ([]layerhash.Hash, []layerhash.Hash, error) {
	var nextFrontier []layerhash.Hash
	var discovered []layerhash.Hash

	for _, node := range frontier {
		parents, err := parentsOf(ctx, node)
		if err != nil {
			return nil, nil, fmt.Errorf("dag: parents of %s: %w", node, err)
		}
		for _, p := range parents {
			if _, ok := firstParent[node]; !ok {
				firstParent[node] = p
			}
			if _, seen := visited[p]; seen {
				continue
			}
			visited[p] = node
			nextFrontier = append(nextFrontier, p)
			discovered = append(discovered, p)
		}
	}
	return nextFrontier, discovered, nil
}
