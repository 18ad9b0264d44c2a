package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-db/pkg/history"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// PullOutcome classifies a pull per the table in spec §4.8.
type PullOutcome int

const (
	PullUnchanged PullOutcome = iota
	PullFastForwarded
	PullAhead
	PullDivergentHistory
	PullNoCommonHistory
)

func (o PullOutcome) String() string {
	switch o {
	case PullUnchanged:
		return "pull_unchanged"
	case PullFastForwarded:
		return "pull_fast_forwarded"
	case PullAhead:
		return "pull_ahead"
	case PullDivergentHistory:
		return "pull_divergent_history"
	case PullNoCommonHistory:
		return "pull_no_common_history"
	default:
		return "unknown"
	}
}

// PullResult is the outcome of PullEngine.Pull.
type PullResult struct {
	Outcome PullOutcome
	Applied []repometa.CommitID // in application order, oldest first
	Common  *repometa.CommitID
}

// PullEngine implements spec §4.8: fetch, then fast-forward the local
// branch, then classify the outcome.
type PullEngine struct {
	Fetch  *FetchEngine
	Meta   repometa.Store
	Log    *slog.Logger
}

func NewPullEngine(fetch *FetchEngine, meta repometa.Store, logger *slog.Logger) *PullEngine {
	return &PullEngine{Fetch: fetch, Meta: meta, Log: logOrDefault(logger)}
}

func (e *PullEngine) Pull(ctx context.Context, db repometa.DB, localBranch, remoteName, remoteBranch string, authz AuthCheck, fetchFn transport.FetchFunc) (PullResult, error) {
	if err := checkAuth(authz); err != nil {
		return PullResult{}, err
	}

	if _, _, err := e.Fetch.Fetch(ctx, db, remoteName, fetchFn); err != nil {
		return PullResult{}, err
	}

	return e.FastForwardBranch(ctx, db, localBranch, remoteName, remoteBranch)
}

// FastForwardBranch advances localBranch to match remoteName's
// remote-tracking copy of remoteBranch. If local has commits the remote
// doesn't, it leaves the branch alone and reports PullDivergentHistory
// (divergent history requiring rebase) with a nil error.
func (e *PullEngine) FastForwardBranch(ctx context.Context, db repometa.DB, localBranch, remoteName, remoteBranch string) (PullResult, error) {
	tx, err := e.Meta.Begin(ctx)
	if err != nil {
		return PullResult{}, fmt.Errorf("syncengine: begin metadata tx: %w", err)
	}

	localRepo := repometa.LocalRepo(db)
	remoteTrackingRepo := repometa.RemoteTrackingRepo(db, remoteName)

	localHeadCommit, err := tx.BranchHeadCommit(localRepo, localBranch)
	if err != nil {
		tx.Rollback()
		return PullResult{}, fmt.Errorf("syncengine: local branch_head_commit: %w", err)
	}
	remoteHeadCommit, err := tx.BranchHeadCommit(remoteTrackingRepo, remoteBranch)
	if err != nil {
		tx.Rollback()
		return PullResult{}, fmt.Errorf("syncengine: remote-tracking branch_head_commit: %w", err)
	}

	if remoteHeadCommit == nil {
		// Remote has nothing to offer on this branch.
		tx.Rollback()
		if localHeadCommit == nil {
			return PullResult{Outcome: PullUnchanged}, nil
		}
		return PullResult{Outcome: PullAhead}, nil
	}

	if localHeadCommit == nil {
		// Unborn local branch: the whole remote-tracking chain fast-forwards in.
		chain, err := history.LinearChain(ctx, tx, remoteTrackingRepo, *remoteHeadCommit, nil)
		if err != nil {
			tx.Rollback()
			return PullResult{}, err
		}
		if err := history.CopyCommits(ctx, tx, remoteTrackingRepo, tx, localRepo, *remoteHeadCommit); err != nil {
			tx.Rollback()
			return PullResult{}, err
		}
		if err := tx.ResetBranchHead(localRepo, localBranch, *remoteHeadCommit); err != nil {
			tx.Rollback()
			return PullResult{}, fmt.Errorf("syncengine: reset_branch_head: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return PullResult{}, fmt.Errorf("syncengine: commit: %w", err)
		}
		e.Log.InfoContext(ctx, "pull: fast-forwarded unborn branch", "branch", localBranch, "applied", len(chain))
		return PullResult{Outcome: PullFastForwarded, Applied: chain, Common: nil}, nil
	}

	res, err := history.MRCA(ctx, tx, localRepo, tx, remoteTrackingRepo, *localHeadCommit, *remoteHeadCommit)
	if err != nil {
		tx.Rollback()
		return PullResult{}, fmt.Errorf("syncengine: mrca: %w", err)
	}

	if res.Common == nil {
		tx.Rollback()
		return PullResult{Outcome: PullNoCommonHistory}, nil
	}

	switch {
	case len(res.PathB) == 0:
		// Remote has nothing local doesn't already have.
		tx.Rollback()
		if len(res.PathA) == 0 {
			return PullResult{Outcome: PullUnchanged, Common: res.Common}, nil
		}
		return PullResult{Outcome: PullAhead, Common: res.Common}, nil

	case len(res.PathA) != 0:
		tx.Rollback()
		return PullResult{Outcome: PullDivergentHistory, Common: res.Common}, nil
	}

	newHead := res.PathB[len(res.PathB)-1]
	if err := history.CopyCommits(ctx, tx, remoteTrackingRepo, tx, localRepo, newHead); err != nil {
		tx.Rollback()
		return PullResult{}, err
	}
	if err := tx.ResetBranchHead(localRepo, localBranch, newHead); err != nil {
		tx.Rollback()
		return PullResult{}, fmt.Errorf("syncengine: reset_branch_head: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return PullResult{}, fmt.Errorf("syncengine: commit: %w", err)
	}

	e.Log.InfoContext(ctx, "pull: fast-forwarded", "branch", localBranch, "applied", len(res.PathB))
	return PullResult{Outcome: PullFastForwarded, Applied: res.PathB, Common: res.Common}, nil
}
