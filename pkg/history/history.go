// Package history implements commit-level operations over RepoMetadata:
// copying commits between repositories and computing history divergence,
// grounded in pkg/index's parent-pointer walks (ChildrenToParents.go,
// GetDirectParentOfEvent) generalized from single-parent events to
// possibly-merge commits.
package history

import (
	"context"
	"fmt"

	"github.com/i5heu/ouroboros-db/pkg/dag"
	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
)

// CopyCommits copies commit and its ancestors from src to dst, stopping at
// the first ancestor already present in dst. Idempotent: running it twice
// leaves dst unchanged the second time. No new commit ids are invented —
// every copied record is read verbatim from src and written verbatim to
// dst.
func CopyCommits(ctx context.Context, srcTx repometa.Tx, srcRepo repometa.RepoRef, dstTx repometa.Tx, dstRepo repometa.RepoRef, commit repometa.CommitID) error {
	var toCopy []repometa.Commit

	queue := []repometa.CommitID{commit}
	seen := make(map[repometa.CommitID]struct{})

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		id := queue[0]
		queue = queue[1:]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		already, err := dstTx.HasCommit(dstRepo, id)
		if err != nil {
			return fmt.Errorf("history: has_commit %s: %w", id, err)
		}
		if already {
			continue
		}

		c, ok, err := srcTx.GetCommit(srcRepo, id)
		if err != nil {
			return fmt.Errorf("history: get_commit %s: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("history: commit %s missing from source repository", id)
		}

		toCopy = append(toCopy, c)
		queue = append(queue, c.Parents...)
	}

	// Write oldest-unknown-ancestor-first is not required by RepoMetadata
	// (commits are content-addressed, not order-dependent), but writing in
	// reverse discovery order keeps behaviour deterministic for callers that
	// log progress.
	for i := len(toCopy) - 1; i >= 0; i-- {
		if err := dstTx.PutCommit(dstRepo, toCopy[i]); err != nil {
			return fmt.Errorf("history: put_commit %s: %w", toCopy[i].ID, err)
		}
	}

	return nil
}

// LinearChain returns [head, head.parents[0], ...] stopping when a commit
// equal to baseline is reached (exclusive) or the chain terminates, then
// reverses it to oldest-first — the commit-level analogue of
// dag.Walker.ChildUntilParents, used by fast-forward when one side of a
// pull has no prior history to MRCA against. Only the first parent is
// followed: merge ancestry beyond the mainline is out of scope for
// fast-forward (rebase, which would need full merge awareness, is an
// external capability per the spec's non-goals).
func LinearChain(ctx context.Context, tx repometa.Tx, repo repometa.RepoRef, head repometa.CommitID, baseline *repometa.CommitID) ([]repometa.CommitID, error) {
	var chain []repometa.CommitID
	cursor := head
	seen := make(map[repometa.CommitID]struct{})

	for {
		if baseline != nil && cursor == *baseline {
			break
		}
		if _, dup := seen[cursor]; dup {
			return nil, fmt.Errorf("history: cycle detected at commit %s", cursor)
		}
		seen[cursor] = struct{}{}
		chain = append(chain, cursor)

		c, ok, err := tx.GetCommit(repo, cursor)
		if err != nil {
			return nil, fmt.Errorf("history: get_commit %s: %w", cursor, err)
		}
		if !ok || len(c.Parents) == 0 {
			break
		}
		cursor = c.Parents[0]
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}

// MRCA delegates to pkg/dag's two-sided BFS, resolving commit parents
// through the given transactions.
func MRCA(ctx context.Context, repoATx repometa.Tx, repoA repometa.RepoRef, repoBTx repometa.Tx, repoB repometa.RepoRef, headA, headB layerhash.Hash) (dag.MRCAResult, error) {
	parentsOf := func(tx repometa.Tx, repo repometa.RepoRef) dag.ParentsFunc {
		return func(ctx context.Context, id layerhash.Hash) ([]layerhash.Hash, error) {
			c, ok, err := tx.GetCommit(repo, id)
			if err != nil {
				return nil, fmt.Errorf("history: get_commit %s: %w", id, err)
			}
			if !ok {
				return nil, nil
			}
			return c.Parents, nil
		}
	}

	return dag.MRCA(ctx, parentsOf(repoATx, repoA), parentsOf(repoBTx, repoB), headA, headB)
}
