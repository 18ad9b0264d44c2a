// Package syncengine implements the four composed synchronization
// operations — fetch, push, pull, clone — over RepoMetadata, LayerStore and
// a Transport capability, following the phase-sequenced saga style of
// OuroborosDB.go's lifecycle methods (explicit setup, I/O, commit, with
// compensation only on named failure kinds).
package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-db/internal/synclog"
	"github.com/i5heu/ouroboros-db/pkg/dag"
	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/layerstore"
	"github.com/i5heu/ouroboros-db/pkg/pack"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncerr"
)

// AuthCheck is invoked before a privileged operation proceeds; a non-nil
// error is reported to the caller as syncerr.KindUnauthorized. Engines
// accept this as a parameter rather than embedding an AuthContext
// implementation, keeping authorization an external collaborator per
// spec's capability-interface architecture.
type AuthCheck func() error

func checkAuth(authz AuthCheck) error {
	if authz == nil {
		return nil
	}
	if err := authz(); err != nil {
		return syncerr.Wrap(syncerr.KindUnauthorized, err, "authorization check failed")
	}
	return nil
}

// commitHeadLayer returns the layer-id that represents a commit's content
// for pack-exchange purposes. The instance graph is the primary content
// graph; schema/inference graphs travel inside the same commit record but
// are not separately packed (spec.md never defines a per-graph transfer
// unit, only a single Layer per commit's "head").
func commitHeadLayer(c repometa.Commit) (layerhash.Hash, bool) {
	l, ok := c.Layers[repometa.GraphInstance]
	return l, ok
}

// buildPackFromHead packs the layer chain rooted at head down to (but
// excluding) baseline. present is false when there is nothing new to send,
// matching "pack(repo, baseline=head(repo)) = none" from spec §8.
func buildPackFromHead(ctx context.Context, layers layerstore.Store, head layerhash.Hash, baseline *layerhash.Hash) (payload pack.Payload, present bool, err error) {
	walker := dag.NewWalker(layers)
	ids, err := walker.ChildUntilParents(ctx, head, baseline)
	if err != nil {
		return nil, false, fmt.Errorf("syncengine: walk layer chain: %w", err)
	}
	if len(ids) == 0 {
		return nil, false, nil
	}

	// ids runs head-first; entries are emitted oldest-first so every parent
	// precedes its child, which UnpackInto requires.
	entries := make([]pack.Entry, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		id := ids[i]
		parent, data, ok, err := layers.GetLayer(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("syncengine: get_layer %s: %w", id, err)
		}
		if !ok {
			return nil, false, syncerr.Internal("layer on walked chain missing from store", map[string]any{"layer_id": id.String()})
		}
		entries = append(entries, pack.Entry{
			LayerID:   id,
			ParentID:  derefOrZero(parent),
			HasParent: parent != nil,
			Bytes:     data,
		})
	}

	built, err := pack.BuildPack(entries)
	if err != nil {
		return nil, false, fmt.Errorf("syncengine: build_pack: %w", err)
	}
	return pack.WrapPayload(head, built), true, nil
}

func derefOrZero(h *layerhash.Hash) layerhash.Hash {
	if h == nil {
		return layerhash.Hash{}
	}
	return *h
}

// unpackInto admits every entry of p into layers, enforcing the topology
// constraint that a parent must already be visible (in the store or
// earlier in this same pack) before its child is admitted.
func unpackInto(ctx context.Context, layers layerstore.Store, p pack.Pack) error {
	entries, err := pack.Iter(p)
	if err != nil {
		return syncerr.Wrap(syncerr.KindRemotePackFailed, err, "decode pack")
	}

	seenInPack := make(map[layerhash.Hash]struct{}, len(entries))
	for _, e := range entries {
		if e.HasParent {
			if _, inPack := seenInPack[e.ParentID]; !inPack {
				exists, err := layers.Exists(ctx, e.ParentID)
				if err != nil {
					return fmt.Errorf("syncengine: exists %s: %w", e.ParentID, err)
				}
				if !exists {
					return syncerr.New(syncerr.KindRemotePackFailed, "missing_parent").WithField("layer_id", e.LayerID.String()).WithField("parent_id", e.ParentID.String())
				}
			}
		}

		var parentPtr *layerhash.Hash
		if e.HasParent {
			p := e.ParentID
			parentPtr = &p
		}
		result, err := layers.PutLayer(ctx, e.LayerID, parentPtr, e.Bytes)
		if err != nil {
			return fmt.Errorf("syncengine: put_layer %s: %w", e.LayerID, err)
		}
		if result == layerstore.PutMismatch {
			return syncerr.New(syncerr.KindRemotePackFailed, "checksum_mismatch").WithField("layer_id", e.LayerID.String())
		}

		seenInPack[e.LayerID] = struct{}{}
	}
	return nil
}

func logOrDefault(l *slog.Logger) *slog.Logger { return synclog.OrDefault(l) }

// BuildPackFromHead packs the layer chain rooted at head down to (but
// excluding) baseline. It is exported for the Orchestrator's pack/unpack
// operations and the HTTP pack endpoint, which build packs the same way a
// FetchEngine's remote side would.
func BuildPackFromHead(ctx context.Context, layers layerstore.Store, head layerhash.Hash, baseline *layerhash.Hash) (pack.Payload, bool, error) {
	return buildPackFromHead(ctx, layers, head, baseline)
}

// UnpackInto admits every entry of p into layers. Exported for the
// Orchestrator's unpack operation, which performs the same admission
// FetchEngine does but outside a fetch.
func UnpackInto(ctx context.Context, layers layerstore.Store, p pack.Pack) error {
	return unpackInto(ctx, layers, p)
}

// CommitHeadLayer returns the layer-id representing c's content for
// pack-exchange purposes.
func CommitHeadLayer(c repometa.Commit) (layerhash.Hash, bool) {
	return commitHeadLayer(c)
}
