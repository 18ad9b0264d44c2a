// Command reposync is the CLI surface for the sync core (spec §6): bundle,
// unbundle, clone, fetch, push, pull, log — one flag.NewFlagSet per
// subcommand and a switch over os.Args[1], exactly as cmd/cli/main.go does
// for store/retrieve/info/flush.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/i5heu/ouroboros-db/internal/layerstore/badgerstore"
	"github.com/i5heu/ouroboros-db/internal/repometa/badgerrepo"
	"github.com/i5heu/ouroboros-db/internal/synclog"
	"github.com/i5heu/ouroboros-db/pkg/orchestrator"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncerr"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

// Exit codes per spec §6.
const (
	exitSuccess     = 0
	exitUserError   = 1
	exitRemoteError = 2
	exitInternal    = 3
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(exitUserError)
	}

	bundleCmd := flag.NewFlagSet("bundle", flag.ExitOnError)
	bundleOutput := bundleCmd.String("output", "", "output file for the bundle payload")
	bundleCmd.Bool("json", false, "emit JSON envelope")

	unbundleCmd := flag.NewFlagSet("unbundle", flag.ExitOnError)
	unbundleCmd.Bool("json", false, "emit JSON envelope")

	cloneCmd := flag.NewFlagSet("clone", flag.ExitOnError)
	cloneLabel := cloneCmd.String("label", "", "database label")
	cloneComment := cloneCmd.String("comment", "", "database comment")
	clonePublic := cloneCmd.Bool("public", false, "mark database public")
	cloneCmd.Bool("json", false, "emit JSON envelope")

	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	fetchCmd.Bool("json", false, "emit JSON envelope")

	pushCmd := flag.NewFlagSet("push", flag.ExitOnError)
	pushRemote := pushCmd.String("remote", "origin", "remote name")
	pushBranch := pushCmd.String("branch", "main", "branch name")
	pushCmd.Bool("json", false, "emit JSON envelope")

	pullCmd := flag.NewFlagSet("pull", flag.ExitOnError)
	pullRemote := pullCmd.String("remote", "origin", "remote name")
	pullBranch := pullCmd.String("branch", "main", "branch name")
	pullCmd.Bool("json", false, "emit JSON envelope")

	logCmd := flag.NewFlagSet("log", flag.ExitOnError)
	logJSON := logCmd.Bool("json", false, "emit JSON envelope")
	logStats := logCmd.Bool("stats", false, "include commit count")

	for _, fs := range []*flag.FlagSet{bundleCmd, unbundleCmd, cloneCmd, fetchCmd, pushCmd, pullCmd, logCmd} {
		fs.String("data-dir", defaultDataDir(), "badger data directory")
	}

	switch os.Args[1] {
	case "bundle":
		bundleCmd.Parse(os.Args[2:])
		runBundle(bundleCmd, *bundleOutput)
	case "unbundle":
		unbundleCmd.Parse(os.Args[2:])
		runUnbundle(unbundleCmd)
	case "clone":
		cloneCmd.Parse(os.Args[2:])
		runClone(cloneCmd, *cloneLabel, *cloneComment, *clonePublic)
	case "fetch":
		fetchCmd.Parse(os.Args[2:])
		runFetch(fetchCmd)
	case "push":
		pushCmd.Parse(os.Args[2:])
		runPush(pushCmd, *pushRemote, *pushBranch)
	case "pull":
		pullCmd.Parse(os.Args[2:])
		runPull(pullCmd, *pullRemote, *pullBranch)
	case "log":
		logCmd.Parse(os.Args[2:])
		runLog(logCmd, *logJSON, *logStats)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		usage()
		os.Exit(exitUserError)
	}
}

func usage() {
	fmt.Println("Usage: reposync <command> [arguments]")
	fmt.Println("Commands:")
	fmt.Println("  bundle <path> --output <file>")
	fmt.Println("  unbundle <path> <file>")
	fmt.Println("  clone <remote-url> <account>/<db> [--label ...] [--comment ...] [--public]")
	fmt.Println("  fetch <path>")
	fmt.Println("  push <path> [--remote <name>] [--branch <name>]")
	fmt.Println("  pull <path> [--remote <name>] [--branch <name>]")
	fmt.Println("  log <path>")
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".reposync"
	}
	return filepath.Join(home, ".reposync", "data")
}

// envelope mirrors internal/httpapi's JSON response shape (spec §6) for
// the CLI's --json output mode.
type envelope struct {
	Status  string         `json:"api:status"`
	Message string         `json:"api:message"`
	Extra   map[string]any `json:"-"`
}

func (e envelope) MarshalJSON() ([]byte, error) {
	out := map[string]any{"api:status": e.Status, "api:message": e.Message}
	for k, v := range e.Extra {
		out[k] = v
	}
	return json.Marshal(out)
}

func emit(asJSON bool, message string, extra map[string]any) {
	if !asJSON {
		fmt.Println(message)
		return
	}
	b, _ := json.Marshal(envelope{Status: "api:success", Message: message, Extra: extra})
	fmt.Println(string(b))
}

func fail(asJSON bool, err error) {
	kind := syncerr.KindOf(err)
	code := exitInternal
	switch kind {
	case syncerr.KindUnauthorized, syncerr.KindNotFound,
		syncerr.KindPushRequiresBranch, syncerr.KindPushAttemptedOnNonRemote,
		syncerr.KindPushHasNoRepositoryHead, syncerr.KindRemoteNotEmptyOnLocalEmpty:
		code = exitUserError
	case syncerr.KindNetworkError, syncerr.KindRemoteConnectionFailure,
		syncerr.KindRemotePackFailed, syncerr.KindRemotePackUnexpectedFailure,
		syncerr.KindRemoteUnpackFailed, syncerr.KindChecksumMismatch,
		syncerr.KindRemoteDiverged, syncerr.KindNoCommonHistory:
		code = exitRemoteError
	}

	if asJSON {
		b, _ := json.Marshal(envelope{Status: "api:failure", Message: err.Error()})
		fmt.Println(string(b))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(code)
}

// parseDB parses an "<account>/<db>" path argument, per clone's CLI shape.
func parseDB(path string) (repometa.DB, error) {
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return repometa.DB{}, fmt.Errorf("path must be <account>/<db>, got %q", path)
	}
	return repometa.DB{Account: parts[0], Name: parts[1]}, nil
}

type env struct {
	layers *badgerstore.Store
	meta   *badgerrepo.Store
	orch   *orchestrator.Orchestrator
	close  func()
}

func openEnv(dataDir string) (*env, error) {
	layers, err := badgerstore.Open(filepath.Join(dataDir, "layers"), nil)
	if err != nil {
		return nil, fmt.Errorf("open layer store: %w", err)
	}

	opts := badger.DefaultOptions(filepath.Join(dataDir, "meta"))
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		layers.Close()
		return nil, fmt.Errorf("open metadata store: %w", err)
	}

	meta := badgerrepo.Open(db)
	lifecycle := badgerrepo.NewLifecycle(db)
	orch := orchestrator.New(meta, layers, lifecycle, synclog.Default())

	return &env{
		layers: layers,
		meta:   meta,
		orch:   orch,
		close: func() {
			layers.Close()
			db.Close()
		},
	}, nil
}

func dataDirFlag(fs *flag.FlagSet) string {
	if f := fs.Lookup("data-dir"); f != nil {
		return f.Value.String()
	}
	return defaultDataDir()
}

func jsonFlag(fs *flag.FlagSet) bool {
	if f := fs.Lookup("json"); f != nil {
		return f.Value.String() == "true"
	}
	return false
}

func runClone(fs *flag.FlagSet, label, comment string, public bool) {
	asJSON := jsonFlag(fs)
	if fs.NArg() < 2 {
		fmt.Println("Usage: reposync clone <remote-url> <account>/<db>")
		os.Exit(exitUserError)
	}
	remoteURL := fs.Arg(0)
	db, err := parseDB(fs.Arg(1))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "invalid path"))
	}
	// label/comment/public are accepted for CLI compatibility with spec §6's
	// clone syntax but have nowhere to persist: spec.md's data model has no
	// Label/Comment/Public fields on Database.
	e, err := openEnv(dataDirFlag(fs))
	if err != nil {
		fail(asJSON, err)
	}
	defer e.close()

	t := transport.NewHTTPTransport(nil, os.Getenv("REPOSYNC_TOKEN"), os.Getenv("REPOSYNC_PROTOCOL_VERSION"))
	applied, err := e.orch.Clone(context.Background(), db, remoteURL, nil, t.RequestPack)
	if err != nil {
		fail(asJSON, err)
	}
	emit(asJSON, fmt.Sprintf("cloned %d commits", len(applied)), map[string]any{"applied_commits": len(applied)})
}

func runFetch(fs *flag.FlagSet) {
	asJSON := jsonFlag(fs)
	if fs.NArg() < 1 {
		fmt.Println("Usage: reposync fetch <path>")
		os.Exit(exitUserError)
	}
	db, err := parseDB(fs.Arg(0))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "invalid path"))
	}

	e, err := openEnv(dataDirFlag(fs))
	if err != nil {
		fail(asJSON, err)
	}
	defer e.close()

	t := transport.NewHTTPTransport(nil, os.Getenv("REPOSYNC_TOKEN"), os.Getenv("REPOSYNC_PROTOCOL_VERSION"))
	_, advanced, err := e.orch.Fetch(context.Background(), db, "origin", t.RequestPack)
	if err != nil {
		fail(asJSON, err)
	}
	emit(asJSON, "fetch complete", map[string]any{"head_has_updated": advanced})
}

func runPush(fs *flag.FlagSet, remote, branch string) {
	asJSON := jsonFlag(fs)
	if fs.NArg() < 1 {
		fmt.Println("Usage: reposync push <path> [--remote <name>] [--branch <name>]")
		os.Exit(exitUserError)
	}
	db, err := parseDB(fs.Arg(0))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "invalid path"))
	}

	e, err := openEnv(dataDirFlag(fs))
	if err != nil {
		fail(asJSON, err)
	}
	defer e.close()

	t := transport.NewHTTPTransport(nil, os.Getenv("REPOSYNC_TOKEN"), os.Getenv("REPOSYNC_PROTOCOL_VERSION"))
	res, err := e.orch.Push(context.Background(), db, branch, remote, nil, t.SendPack)
	if err != nil {
		fail(asJSON, err)
	}
	emit(asJSON, "push complete", map[string]any{"changed": res.Changed, "head": res.Head.String()})
}

func runPull(fs *flag.FlagSet, remote, branch string) {
	asJSON := jsonFlag(fs)
	if fs.NArg() < 1 {
		fmt.Println("Usage: reposync pull <path> [--remote <name>] [--branch <name>]")
		os.Exit(exitUserError)
	}
	db, err := parseDB(fs.Arg(0))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "invalid path"))
	}

	e, err := openEnv(dataDirFlag(fs))
	if err != nil {
		fail(asJSON, err)
	}
	defer e.close()

	t := transport.NewHTTPTransport(nil, os.Getenv("REPOSYNC_TOKEN"), os.Getenv("REPOSYNC_PROTOCOL_VERSION"))
	res, err := e.orch.Pull(context.Background(), db, branch, remote, branch, nil, t.RequestPack)
	if err != nil {
		fail(asJSON, err)
	}
	emit(asJSON, "pull complete", map[string]any{"pull_status": res.Outcome.String(), "applied_commits": len(res.Applied)})
}

func runBundle(fs *flag.FlagSet, output string) {
	asJSON := jsonFlag(fs)
	if fs.NArg() < 1 || output == "" {
		fmt.Println("Usage: reposync bundle <path> --output <file>")
		os.Exit(exitUserError)
	}
	db, err := parseDB(fs.Arg(0))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "invalid path"))
	}

	e, err := openEnv(dataDirFlag(fs))
	if err != nil {
		fail(asJSON, err)
	}
	defer e.close()

	payload, err := e.orch.Bundle(context.Background(), db, "main")
	if err != nil {
		fail(asJSON, err)
	}
	if err := os.WriteFile(output, payload, 0644); err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindInternal, err, "write bundle file"))
	}
	emit(asJSON, fmt.Sprintf("wrote bundle to %s", output), map[string]any{"bytes": len(payload)})
}

func runUnbundle(fs *flag.FlagSet) {
	asJSON := jsonFlag(fs)
	if fs.NArg() < 2 {
		fmt.Println("Usage: reposync unbundle <path> <file>")
		os.Exit(exitUserError)
	}
	db, err := parseDB(fs.Arg(0))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "invalid path"))
	}
	payload, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "read bundle file"))
	}

	e, err := openEnv(dataDirFlag(fs))
	if err != nil {
		fail(asJSON, err)
	}
	defer e.close()

	res, err := e.orch.Unbundle(context.Background(), db, "main", payload)
	if err != nil {
		fail(asJSON, err)
	}
	emit(asJSON, "unbundle complete", map[string]any{"pull_status": res.Outcome.String()})
}

func runLog(fs *flag.FlagSet, asJSON, withStats bool) {
	if fs.NArg() < 1 {
		fmt.Println("Usage: reposync log <path>")
		os.Exit(exitUserError)
	}
	db, err := parseDB(fs.Arg(0))
	if err != nil {
		fail(asJSON, syncerr.Wrap(syncerr.KindUnauthorized, err, "invalid path"))
	}

	e, err := openEnv(dataDirFlag(fs))
	if err != nil {
		fail(asJSON, err)
	}
	defer e.close()

	ctx := context.Background()
	entries, err := e.orch.Log(ctx, db, "main")
	if err != nil {
		fail(asJSON, err)
	}

	if asJSON {
		type jsonEntry struct {
			CommitID  string `json:"commit_id"`
			Author    string `json:"author"`
			Timestamp int64  `json:"timestamp"`
			Message   string `json:"message"`
		}
		out := make([]jsonEntry, len(entries))
		for i, entry := range entries {
			out[i] = jsonEntry{CommitID: entry.CommitID.String(), Author: entry.Author, Timestamp: entry.Timestamp, Message: entry.Message}
		}
		extra := map[string]any{"commits": out}
		if withStats {
			count, err := e.orch.CommitCount(ctx, db, "main")
			if err == nil {
				extra["commit_count"] = count
			}
		}
		emit(true, "log", extra)
		return
	}

	for _, entry := range entries {
		fmt.Printf("%s  %-20s %-20d %s\n", entry.CommitID.String(), entry.Author, entry.Timestamp, entry.Message)
	}
	if withStats {
		count, err := e.orch.CommitCount(ctx, db, "main")
		if err == nil {
			fmt.Printf("\n%d commits\n", count)
		}
	}
}
