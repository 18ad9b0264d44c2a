package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/layerstore"
	"github.com/i5heu/ouroboros-db/pkg/pack"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncerr"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// FetchEngine implements spec §4.6: request a pack relative to the last
// observed remote head, admit it into the layer store, and advance the
// remote-tracking head.
type FetchEngine struct {
	Meta   repometa.Store
	Layers layerstore.Store
	Log    *slog.Logger
}

// NewFetchEngine builds a FetchEngine. A nil logger falls back to
// synclog.Default().
func NewFetchEngine(meta repometa.Store, layers layerstore.Store, logger *slog.Logger) *FetchEngine {
	return &FetchEngine{Meta: meta, Layers: layers, Log: logOrDefault(logger)}
}

// Fetch returns the remote-tracking head after the fetch (nil if the
// remote has never been fetched and remains empty), and whether that head
// advanced.
func (e *FetchEngine) Fetch(ctx context.Context, db repometa.DB, remoteName string, fetchFn transport.FetchFunc) (newHead *layerhash.Hash, headAdvanced bool, err error) {
	tx, err := e.Meta.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("syncengine: begin metadata tx: %w", err)
	}

	remote, ok, err := tx.Remote(db, remoteName)
	if err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("syncengine: load remote %q: %w", remoteName, err)
	}
	if !ok {
		tx.Rollback()
		return nil, false, syncerr.Newf(syncerr.KindNotFound, "remote %q not registered", remoteName)
	}

	cur, err := tx.RepositoryHead(db, remoteName)
	if err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("syncengine: repository_head: %w", err)
	}

	resp, err := fetchFn(ctx, remote.URL, cur)
	if err != nil {
		tx.Rollback()
		if syncerr.KindOf(err) != syncerr.KindUnknown {
			return nil, false, err
		}
		return nil, false, syncerr.Wrap(syncerr.KindNetworkError, err, "fetch_fn failed")
	}

	if !resp.Present {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("syncengine: commit: %w", err)
		}
		e.Log.InfoContext(ctx, "fetch: remote up to date", "remote", remoteName)
		return cur, false, nil
	}

	remoteHead, p, err := pack.RepositoryHeadAndPack(resp.Payload)
	if err != nil {
		tx.Rollback()
		return nil, false, syncerr.Wrap(syncerr.KindRemotePackFailed, err, "decode payload")
	}

	if err := unpackInto(ctx, e.Layers, p); err != nil {
		tx.Rollback()
		return nil, false, err
	}

	remoteTrackingRepo := repometa.RemoteTrackingRepo(db, remoteName)
	for _, c := range resp.Commits {
		if err := tx.PutCommit(remoteTrackingRepo, c); err != nil {
			tx.Rollback()
			return nil, false, fmt.Errorf("syncengine: put_commit %s: %w", c.ID, err)
		}
	}
	for branch, head := range resp.BranchHeads {
		if err := tx.ResetBranchHead(remoteTrackingRepo, branch, head); err != nil {
			tx.Rollback()
			return nil, false, fmt.Errorf("syncengine: reset_branch_head %s: %w", branch, err)
		}
	}

	if err := tx.UpdateRepositoryHead(db, remoteName, remoteHead); err != nil {
		tx.Rollback()
		return nil, false, fmt.Errorf("syncengine: update_repository_head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("syncengine: commit: %w", err)
	}

	advanced := cur == nil || *cur != remoteHead
	e.Log.InfoContext(ctx, "fetch: remote head updated", "remote", remoteName, "head", remoteHead.String(), "advanced", advanced)
	head := remoteHead
	return &head, advanced, nil
}
