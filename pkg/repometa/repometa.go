// Package repometa defines the RepoMetadata capability: a small
// transactional graph storing remotes, branches (name to commit), the
// repository heads seen per remote, and commit parent links. See
// internal/repometa/badgerrepo for the concrete badger-backed
// implementation.
package repometa

import (
	"context"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
)

// CommitID identifies a commit; commits are content-addressed like layers.
type CommitID = layerhash.Hash

// RemoteType classifies a registered remote.
type RemoteType int

const (
	RemoteTypeLocal RemoteType = iota
	RemoteTypeRemote
)

// GraphName names one of a commit's named graphs.
type GraphName string

const (
	GraphInstance  GraphName = "instance"
	GraphSchema    GraphName = "schema"
	GraphInference GraphName = "inference"
)

// DB identifies an organization/database pair.
type DB struct {
	Account string
	Name    string
}

// RepoRef identifies one repository within a database: the local repository,
// or a remote-tracking repository named after its remote.
type RepoRef struct {
	Database DB
	Repo     string // "local", or a remote name
}

// LocalRepo returns the RepoRef for db's local repository.
func LocalRepo(db DB) RepoRef { return RepoRef{Database: db, Repo: "local"} }

// RemoteTrackingRepo returns the RepoRef for db's tracking copy of remote.
func RemoteTrackingRepo(db DB, remote string) RepoRef { return RepoRef{Database: db, Repo: remote} }

// Commit is an immutable node in the version DAG.
type Commit struct {
	ID        CommitID
	Author    string
	Message   string
	Timestamp int64 // unix nanoseconds
	Parents   []CommitID
	Layers    map[GraphName]layerhash.Hash
}

// Remote is a registered remote repository reference.
type Remote struct {
	Name       string
	URL        string
	Type       RemoteType
	RemoteHead *layerhash.Hash // nil means "never fetched"
}

// ErrRemoteAlreadyExists is returned by AddRemote on a name collision.
var ErrRemoteAlreadyExists = remoteAlreadyExistsError{}

type remoteAlreadyExistsError struct{}

func (remoteAlreadyExistsError) Error() string { return "repometa: remote_already_exists" }

// Store opens transactions against a database's metadata graph.
type Store interface {
	Begin(ctx context.Context) (Tx, error)
}

// Tx is one metadata transaction: either all sub-updates commit, or none do.
type Tx interface {
	AddRemote(db DB, name, url string) error
	RemoveRemote(db DB, name string) error
	RemoteType(db DB, name string) (RemoteType, error)
	Remote(db DB, name string) (Remote, bool, error)

	RepositoryHead(db DB, remoteName string) (*layerhash.Hash, error)
	UpdateRepositoryHead(db DB, remoteName string, id layerhash.Hash) error

	InsertRemoteRepository(db DB, name, url string) error

	BranchHeadCommit(repo RepoRef, branch string) (*CommitID, error)
	ResetBranchHead(repo RepoRef, branch string, commit CommitID) error
	DeleteBranch(repo RepoRef, branch string) error

	PutCommit(repo RepoRef, c Commit) error
	GetCommit(repo RepoRef, id CommitID) (Commit, bool, error)
	HasCommit(repo RepoRef, id CommitID) (bool, error)

	Commit() error
	Rollback() error
}
