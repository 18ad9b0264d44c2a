package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-db/pkg/history"
	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/layerstore"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncerr"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// PushResult is the outcome of PushEngine.Push: the remote-tracking head
// either stayed the same (nothing new to transmit) or moved to a new
// layer.
type PushResult struct {
	Head    layerhash.Hash
	Changed bool
}

// PushEngine implements spec §4.7.
type PushEngine struct {
	Meta   repometa.Store
	Layers layerstore.Store
	Log    *slog.Logger
}

func NewPushEngine(meta repometa.Store, layers layerstore.Store, logger *slog.Logger) *PushEngine {
	return &PushEngine{Meta: meta, Layers: layers, Log: logOrDefault(logger)}
}

func (e *PushEngine) Push(ctx context.Context, db repometa.DB, branch, remoteName string, authz AuthCheck, pushFn transport.PushFunc) (PushResult, error) {
	if branch == "" {
		return PushResult{}, syncerr.New(syncerr.KindPushRequiresBranch, "push target must be a branch")
	}

	tx, err := e.Meta.Begin(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: begin metadata tx: %w", err)
	}

	remote, ok, err := tx.Remote(db, remoteName)
	if err != nil {
		tx.Rollback()
		return PushResult{}, fmt.Errorf("syncengine: load remote %q: %w", remoteName, err)
	}
	if !ok {
		tx.Rollback()
		return PushResult{}, syncerr.Newf(syncerr.KindNotFound, "remote %q not registered", remoteName)
	}
	if remote.Type != repometa.RemoteTypeRemote {
		tx.Rollback()
		return PushResult{}, syncerr.New(syncerr.KindPushAttemptedOnNonRemote, remoteName)
	}

	if err := checkAuth(authz); err != nil {
		tx.Rollback()
		return PushResult{}, err
	}

	previousRemoteHeadLayer, err := tx.RepositoryHead(db, remoteName)
	if err != nil {
		tx.Rollback()
		return PushResult{}, fmt.Errorf("syncengine: repository_head: %w", err)
	}
	if previousRemoteHeadLayer == nil {
		tx.Rollback()
		return PushResult{}, syncerr.New(syncerr.KindPushHasNoRepositoryHead, "fetch before pushing")
	}

	localRepo := repometa.LocalRepo(db)
	remoteTrackingRepo := repometa.RemoteTrackingRepo(db, remoteName)

	localHeadCommit, err := tx.BranchHeadCommit(localRepo, branch)
	if err != nil {
		tx.Rollback()
		return PushResult{}, fmt.Errorf("syncengine: local branch_head_commit: %w", err)
	}
	remoteHeadCommit, err := tx.BranchHeadCommit(remoteTrackingRepo, branch)
	if err != nil {
		tx.Rollback()
		return PushResult{}, fmt.Errorf("syncengine: remote-tracking branch_head_commit: %w", err)
	}

	switch {
	case localHeadCommit == nil && remoteHeadCommit == nil:
		if err := tx.Commit(); err != nil {
			return PushResult{}, fmt.Errorf("syncengine: commit: %w", err)
		}
		return PushResult{Head: *previousRemoteHeadLayer, Changed: false}, nil

	case localHeadCommit == nil && remoteHeadCommit != nil:
		tx.Rollback()
		return PushResult{}, syncerr.New(syncerr.KindRemoteNotEmptyOnLocalEmpty, branch)

	case remoteHeadCommit == nil:
		// First push of this branch: nothing on the remote side to diverge
		// against, so the non-divergence check is trivially satisfied.

	default:
		res, err := history.MRCA(ctx, tx, localRepo, tx, remoteTrackingRepo, *localHeadCommit, *remoteHeadCommit)
		if err != nil {
			tx.Rollback()
			return PushResult{}, fmt.Errorf("syncengine: mrca: %w", err)
		}
		if res.Common == nil {
			tx.Rollback()
			return PushResult{}, syncerr.New(syncerr.KindNoCommonHistory, branch)
		}
		if len(res.PathB) != 0 {
			tx.Rollback()
			return PushResult{}, syncerr.New(syncerr.KindRemoteDiverged, branch).WithField("remote_path", res.PathB)
		}
	}

	if err := history.CopyCommits(ctx, tx, localRepo, tx, remoteTrackingRepo, *localHeadCommit); err != nil {
		tx.Rollback()
		return PushResult{}, err
	}
	if err := tx.ResetBranchHead(remoteTrackingRepo, branch, *localHeadCommit); err != nil {
		tx.Rollback()
		return PushResult{}, fmt.Errorf("syncengine: reset_branch_head: %w", err)
	}

	localHead, ok, err := tx.GetCommit(localRepo, *localHeadCommit)
	if err != nil {
		tx.Rollback()
		return PushResult{}, fmt.Errorf("syncengine: get_commit: %w", err)
	}
	if !ok {
		tx.Rollback()
		return PushResult{}, syncerr.Internal("local head commit vanished mid-push", map[string]any{"commit_id": localHeadCommit.String()})
	}
	newLayer, ok := commitHeadLayer(localHead)
	if !ok {
		tx.Rollback()
		return PushResult{}, syncerr.Internal("local head commit has no instance layer", map[string]any{"commit_id": localHeadCommit.String()})
	}

	// Commit now so the remote-tracking layer is durable before network I/O
	// (spec §5: no metadata transaction stays open across transport I/O).
	if err := tx.Commit(); err != nil {
		return PushResult{}, fmt.Errorf("syncengine: commit: %w", err)
	}

	payload, present, err := buildPackFromHead(ctx, e.Layers, newLayer, previousRemoteHeadLayer)
	if err != nil {
		return PushResult{}, err
	}

	tx2, err := e.Meta.Begin(ctx)
	if err != nil {
		return PushResult{}, fmt.Errorf("syncengine: begin metadata tx: %w", err)
	}

	if !present {
		if err := tx2.UpdateRepositoryHead(db, remoteName, *previousRemoteHeadLayer); err != nil {
			tx2.Rollback()
			return PushResult{}, fmt.Errorf("syncengine: update_repository_head: %w", err)
		}
		if err := tx2.Commit(); err != nil {
			return PushResult{}, fmt.Errorf("syncengine: commit: %w", err)
		}
		return PushResult{Head: *previousRemoteHeadLayer, Changed: false}, nil
	}

	if err := pushFn(ctx, remote.URL, payload); err != nil {
		tx2.Rollback()
		return PushResult{}, syncerr.Wrap(syncerr.KindRemoteUnpackFailed, err, "push_fn failed")
	}

	if err := tx2.UpdateRepositoryHead(db, remoteName, newLayer); err != nil {
		tx2.Rollback()
		return PushResult{}, fmt.Errorf("syncengine: update_repository_head: %w", err)
	}
	if err := tx2.Commit(); err != nil {
		return PushResult{}, fmt.Errorf("syncengine: commit: %w", err)
	}

	e.Log.InfoContext(ctx, "push: remote head advanced", "remote", remoteName, "branch", branch, "head", newLayer.String())
	return PushResult{Head: newLayer, Changed: true}, nil
}
