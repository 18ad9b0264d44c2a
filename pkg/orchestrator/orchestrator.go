// Package orchestrator exposes the eight API operations spec §4.10 names —
// bundle, unbundle, pack, unpack, clone, fetch, push, pull — as a single
// facade over pkg/syncengine, the way api/server.go sits in front of
// ouroboros.OuroborosDB rather than exposing its fields directly.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/i5heu/ouroboros-db/internal/synclog"
	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/layerstore"
	"github.com/i5heu/ouroboros-db/pkg/pack"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncengine"
	"github.com/i5heu/ouroboros-db/pkg/syncerr"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// bundleRemote is the synthetic remote bundle/unbundle transact against,
// per spec §4.10.
const bundleRemote = "terminusdb:///bundle"

// Orchestrator wires the four sync engines together behind the
// operation names the HTTP and CLI surfaces call.
type Orchestrator struct {
	Meta      repometa.Store
	Layers    layerstore.Store
	Lifecycle syncengine.DBLifecycle
	Logger    *slog.Logger

	fetch *syncengine.FetchEngine
	push  *syncengine.PushEngine
	pull  *syncengine.PullEngine
	clone *syncengine.CloneEngine
}

// New builds an Orchestrator with the engines it composes already wired.
func New(meta repometa.Store, layers layerstore.Store, lifecycle syncengine.DBLifecycle, logger *slog.Logger) *Orchestrator {
	log := synclog.OrDefault(logger)
	fetch := syncengine.NewFetchEngine(meta, layers, log)
	push := syncengine.NewPushEngine(meta, layers, log)
	pull := syncengine.NewPullEngine(fetch, meta, log)
	clone := syncengine.NewCloneEngine(lifecycle, fetch, pull, log)

	return &Orchestrator{
		Meta: meta, Layers: layers, Lifecycle: lifecycle, Logger: log,
		fetch: fetch, push: push, pull: pull, clone: clone,
	}
}

// Fetch requests a pack from remoteName and admits it.
func (o *Orchestrator) Fetch(ctx context.Context, db repometa.DB, remoteName string, fetchFn transport.FetchFunc) (newHead *layerhash.Hash, headAdvanced bool, err error) {
	return o.fetch.Fetch(ctx, db, remoteName, fetchFn)
}

// Push sends branch's commits to remoteName.
func (o *Orchestrator) Push(ctx context.Context, db repometa.DB, branch, remoteName string, authz syncengine.AuthCheck, pushFn transport.PushFunc) (syncengine.PushResult, error) {
	return o.push.Push(ctx, db, branch, remoteName, authz, pushFn)
}

// Pull fetches then fast-forwards localBranch.
func (o *Orchestrator) Pull(ctx context.Context, db repometa.DB, localBranch, remoteName, remoteBranch string, authz syncengine.AuthCheck, fetchFn transport.FetchFunc) (syncengine.PullResult, error) {
	return o.pull.Pull(ctx, db, localBranch, remoteName, remoteBranch, authz, fetchFn)
}

// Clone bootstraps db from remoteURL.
func (o *Orchestrator) Clone(ctx context.Context, db repometa.DB, remoteURL string, authz syncengine.AuthCheck, fetchFn transport.FetchFunc) ([]repometa.CommitID, error) {
	return o.clone.Clone(ctx, db, remoteURL, authz, fetchFn)
}

// Pack builds a raw pack payload for branch's current head, relative to
// baseline, without touching RepoMetadata — the building block the HTTP
// pack handler and Bundle both use.
func (o *Orchestrator) Pack(ctx context.Context, db repometa.DB, branch string, baseline *layerhash.Hash) (pack.Payload, bool, error) {
	tx, err := o.Meta.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: begin metadata tx: %w", err)
	}
	defer tx.Rollback()

	headCommit, err := tx.BranchHeadCommit(repometa.LocalRepo(db), branch)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: branch_head_commit: %w", err)
	}
	if headCommit == nil {
		return nil, false, nil
	}
	commit, ok, err := tx.GetCommit(repometa.LocalRepo(db), *headCommit)
	if err != nil {
		return nil, false, fmt.Errorf("orchestrator: get_commit: %w", err)
	}
	if !ok {
		return nil, false, syncerr.Internal("branch head commit missing", map[string]any{"commit_id": headCommit.String()})
	}
	headLayer, ok := syncengine.CommitHeadLayer(commit)
	if !ok {
		return nil, false, syncerr.Internal("head commit has no instance layer", map[string]any{"commit_id": headCommit.String()})
	}
	return syncengine.BuildPackFromHead(ctx, o.Layers, headLayer, baseline)
}

// Unpack admits a raw pack payload's layers into the store without
// advancing any branch or remote-tracking head — the building block
// unbundle and the HTTP unpack handler use.
func (o *Orchestrator) Unpack(ctx context.Context, payload pack.Payload) error {
	_, p, err := pack.RepositoryHeadAndPack(payload)
	if err != nil {
		return syncerr.Wrap(syncerr.KindRemotePackFailed, err, "decode payload")
	}
	return syncengine.UnpackInto(ctx, o.Layers, p)
}

// Bundle implements spec §4.10: install a synthetic remote with an empty
// baseline, push branch's history into a capture-to-memory transport, then
// re-wrap the captured layer payload together with branch's full commit
// history into a pack.EncodeBundle envelope. The synthetic remote and its
// remote-tracking branch pointer are removed from RepoMetadata again when
// Bundle returns, so every call starts from an empty baseline.
//
// The commit graph has to travel with the payload for Unbundle to
// reconstruct commits and advance a branch head (see
// transport.PackResponse's doc comment); a bare layer payload round-trips
// no further than pkg/pack's own Pack/Unpack operations.
func (o *Orchestrator) Bundle(ctx context.Context, db repometa.DB, branch string) (pack.Payload, error) {
	mem := &transport.MemoryTransport{}
	if err := o.registerSyntheticRemote(ctx, db); err != nil {
		return nil, err
	}
	defer func() {
		if tx, err := o.Meta.Begin(ctx); err == nil {
			_ = tx.RemoveRemote(db, bundleRemote)
			_ = tx.DeleteBranch(repometa.RemoteTrackingRepo(db, bundleRemote), branch)
			_ = tx.Commit()
		}
	}()
	res, err := o.push.Push(ctx, db, branch, bundleRemote, nil, mem.SendPack)
	if err != nil {
		return nil, err
	}
	if !res.Changed && len(mem.Captured) == 0 {
		return nil, nil
	}

	commits, head, err := o.BranchHistory(ctx, db, branch)
	if err != nil {
		return nil, err
	}
	if head == nil {
		return nil, syncerr.Internal("bundle: branch has no head after a changed push", map[string]any{"branch": branch})
	}
	bundle, err := pack.EncodeBundle(mem.Captured, commits, map[string]repometa.CommitID{branch: *head})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: encode bundle: %w", err)
	}
	return pack.Payload(bundle), nil
}

// Unbundle implements spec §4.10: the symmetric construction atop
// PullEngine, with a fetch function that hands back the supplied bundle
// exactly once.
func (o *Orchestrator) Unbundle(ctx context.Context, db repometa.DB, localBranch string, payload pack.Payload) (syncengine.PullResult, error) {
	if err := o.registerSyntheticRemote(ctx, db); err != nil {
		return syncengine.PullResult{}, err
	}
	mem := &transport.MemoryTransport{Captured: payload}
	return o.pull.Pull(ctx, db, localBranch, bundleRemote, localBranch, nil, mem.RequestPack)
}

// registerSyntheticRemote installs bundleRemote with an empty baseline
// (spec §4.10: "installing a synthetic remote... with empty baseline").
// The zero-value layer hash never occurs as a real content address, so
// recording it as repository_head makes PushEngine treat the whole local
// history as new (dag.Walker's baseline-not-found fallback) without
// special-casing "no baseline yet" inside PushEngine itself.
func (o *Orchestrator) registerSyntheticRemote(ctx context.Context, db repometa.DB) error {
	tx, err := o.Meta.Begin(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: begin metadata tx: %w", err)
	}
	if err := tx.AddRemote(db, bundleRemote, bundleRemote); err != nil && !errors.Is(err, repometa.ErrRemoteAlreadyExists) {
		tx.Rollback()
		return fmt.Errorf("orchestrator: add synthetic remote: %w", err)
	}

	head, err := tx.RepositoryHead(db, bundleRemote)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("orchestrator: repository_head: %w", err)
	}
	if head == nil {
		if err := tx.UpdateRepositoryHead(db, bundleRemote, layerhash.Hash{}); err != nil {
			tx.Rollback()
			return fmt.Errorf("orchestrator: update_repository_head: %w", err)
		}
	}
	return tx.Commit()
}

// CommitCount walks branch's history and counts commits reachable from its
// head — used by the CLI's "log --stats" flag.
func (o *Orchestrator) CommitCount(ctx context.Context, db repometa.DB, branch string) (int, error) {
	tx, err := o.Meta.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: begin metadata tx: %w", err)
	}
	defer tx.Rollback()

	head, err := tx.BranchHeadCommit(repometa.LocalRepo(db), branch)
	if err != nil {
		return 0, fmt.Errorf("orchestrator: branch_head_commit: %w", err)
	}
	if head == nil {
		return 0, nil
	}

	count := 0
	queue := []repometa.CommitID{*head}
	seen := map[repometa.CommitID]struct{}{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c, ok, err := tx.GetCommit(repometa.LocalRepo(db), id)
		if err != nil {
			return 0, fmt.Errorf("orchestrator: get_commit: %w", err)
		}
		if !ok {
			break
		}
		count++
		queue = append(queue, c.Parents...)
	}
	return count, nil
}

// BranchHistory returns every commit reachable from branch's head (for
// embedding in a fetch response's commit graph, see pack.EncodeBundle) and
// the head commit id itself. Returns a nil head when the branch has no
// commits yet. Shares CommitCount's BFS-over-parents walk.
func (o *Orchestrator) BranchHistory(ctx context.Context, db repometa.DB, branch string) ([]repometa.Commit, *repometa.CommitID, error) {
	tx, err := o.Meta.Begin(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: begin metadata tx: %w", err)
	}
	defer tx.Rollback()

	head, err := tx.BranchHeadCommit(repometa.LocalRepo(db), branch)
	if err != nil {
		return nil, nil, fmt.Errorf("orchestrator: branch_head_commit: %w", err)
	}
	if head == nil {
		return nil, nil, nil
	}

	var commits []repometa.Commit
	queue := []repometa.CommitID{*head}
	seen := map[repometa.CommitID]struct{}{}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		c, ok, err := tx.GetCommit(repometa.LocalRepo(db), id)
		if err != nil {
			return nil, nil, fmt.Errorf("orchestrator: get_commit: %w", err)
		}
		if !ok {
			return nil, nil, syncerr.Internal("commit missing from history walk", map[string]any{"commit_id": id.String()})
		}
		commits = append(commits, c)
		queue = append(queue, c.Parents...)
	}
	return commits, head, nil
}

// LogEntry is one line of the "log" CLI command's output (spec §6 lists
// the command but not its format).
type LogEntry struct {
	CommitID  repometa.CommitID
	Author    string
	Timestamp int64 // unix nanoseconds
	Message   string
}

// Log returns branch's history, oldest first, for the CLI's "log"
// subcommand.
func (o *Orchestrator) Log(ctx context.Context, db repometa.DB, branch string) ([]LogEntry, error) {
	tx, err := o.Meta.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: begin metadata tx: %w", err)
	}
	defer tx.Rollback()

	head, err := tx.BranchHeadCommit(repometa.LocalRepo(db), branch)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: branch_head_commit: %w", err)
	}
	if head == nil {
		return nil, nil
	}

	var entries []LogEntry
	cur := *head
	for {
		c, ok, err := tx.GetCommit(repometa.LocalRepo(db), cur)
		if err != nil {
			return nil, fmt.Errorf("orchestrator: get_commit: %w", err)
		}
		if !ok {
			break
		}
		entries = append(entries, LogEntry{CommitID: c.ID, Author: c.Author, Timestamp: c.Timestamp, Message: c.Message})
		if len(c.Parents) == 0 {
			break
		}
		cur = c.Parents[0]
	}

	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
