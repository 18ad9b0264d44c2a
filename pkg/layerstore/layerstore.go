// Package layerstore defines the LayerStore capability: a content-addressed
// blob store keyed by layer-id, exposing parent pointers. It is an external
// collaborator in spec terms; this package only carries the interface and
// its result type, not a concrete store — see
// internal/layerstore/badgerstore for the badger-backed implementation.
package layerstore

import (
	"context"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
)

// PutResult classifies the outcome of a PutLayer call.
type PutResult int

const (
	// PutOK means the layer was newly written.
	PutOK PutResult = iota
	// PutAlreadyPresent means an identical layer already existed; the put
	// is a no-op (puts are idempotent).
	PutAlreadyPresent
	// PutMismatch means a layer already exists under this id with
	// different parent or bytes — a content-address collision, which
	// should be cryptographically impossible and indicates corruption.
	PutMismatch
)

// Store is the LayerStore capability required by the sync core.
type Store interface {
	// PutLayer persists a layer. Idempotent: writing the same
	// (id, parent, bytes) twice returns PutAlreadyPresent the second time.
	PutLayer(ctx context.Context, id layerhash.Hash, parent *layerhash.Hash, data []byte) (PutResult, error)

	// GetLayer retrieves a layer's parent pointer and bytes. ok is false if
	// the layer is absent.
	GetLayer(ctx context.Context, id layerhash.Hash) (parent *layerhash.Hash, data []byte, ok bool, err error)

	// ParentOf is an O(1) lookup of a layer's parent pointer.
	ParentOf(ctx context.Context, id layerhash.Hash) (parent *layerhash.Hash, ok bool, err error)

	// Exists reports whether a layer is present in the store.
	Exists(ctx context.Context, id layerhash.Hash) (bool, error)
}
