package syncengine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncerr"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// DBLifecycle is the external database-creation capability CloneEngine
// depends on, generalizing OuroborosDB.go's Start/Close discipline to a
// per-database unfinalized/finalized/force-deleted lifecycle. Database
// creation itself (storage allocation, directory layout) is out of scope
// for the sync core.
type DBLifecycle interface {
	CreateUnfinalized(ctx context.Context, db repometa.DB) error
	Finalize(ctx context.Context, db repometa.DB) error
	ForceDelete(ctx context.Context, db repometa.DB) error
}

// CloneEngine implements spec §4.9.
type CloneEngine struct {
	Lifecycle DBLifecycle
	Fetch     *FetchEngine
	Pull      *PullEngine
	Log       *slog.Logger
}

func NewCloneEngine(lifecycle DBLifecycle, fetch *FetchEngine, pull *PullEngine, logger *slog.Logger) *CloneEngine {
	return &CloneEngine{Lifecycle: lifecycle, Fetch: fetch, Pull: pull, Log: logOrDefault(logger)}
}

// isCompensatable reports whether err's kind triggers force-delete cleanup
// (spec §4.9: only remote_pack_failed / remote_pack_unexpected_failure do).
func isCompensatable(err error) bool {
	kind := syncerr.KindOf(err)
	return kind == syncerr.KindRemotePackFailed || kind == syncerr.KindRemotePackUnexpectedFailure
}

func (e *CloneEngine) Clone(ctx context.Context, db repometa.DB, remoteURL string, authz AuthCheck, fetchFn transport.FetchFunc) ([]repometa.CommitID, error) {
	if err := checkAuth(authz); err != nil {
		return nil, err
	}

	if err := e.Lifecycle.CreateUnfinalized(ctx, db); err != nil {
		return nil, fmt.Errorf("syncengine: create_db_unfinalized: %w", err)
	}

	tx, err := e.Fetch.Meta.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("syncengine: begin metadata tx: %w", err)
	}
	if err := tx.InsertRemoteRepository(db, "origin", remoteURL); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("syncengine: insert_remote_repository: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("syncengine: commit: %w", err)
	}

	if _, _, err := e.Fetch.Fetch(ctx, db, "origin", fetchFn); err != nil {
		if isCompensatable(err) {
			if delErr := e.Lifecycle.ForceDelete(ctx, db); delErr != nil {
				e.Log.ErrorContext(ctx, "clone: compensation force_delete_db failed", "error", delErr)
			}
		}
		return nil, err
	}

	// Graph-prefix metadata (spec.md's upstream implementation carries a
	// prefixes map alongside repositories) is not part of this module's
	// data model — spec.md §3 never defines a Prefix entity, so there is
	// nothing to copy here.

	result, err := e.Pull.FastForwardBranch(ctx, db, "main", "origin", "main")
	if err != nil {
		if isCompensatable(err) {
			if delErr := e.Lifecycle.ForceDelete(ctx, db); delErr != nil {
				e.Log.ErrorContext(ctx, "clone: compensation force_delete_db failed", "error", delErr)
			}
		}
		return nil, err
	}

	if err := e.Lifecycle.Finalize(ctx, db); err != nil {
		return nil, fmt.Errorf("syncengine: finalize_db: %w", err)
	}

	e.Log.InfoContext(ctx, "clone: complete", "applied", len(result.Applied))
	return result.Applied, nil
}
