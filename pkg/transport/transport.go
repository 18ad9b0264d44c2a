// Package transport defines the Transport capability that FetchEngine and
// PushEngine invoke for remote I/O, plus three concrete implementations:
// HTTPTransport (real network), LocalTransport (same-process remote, for
// loopback deployments), and MemoryTransport (the
// capture-to-memory adapter bundle/unbundle are built on). This mirrors the
// capability-struct style of pkg/carrier.Carrier: no single interface
// implementation is privileged, callers hold whichever struct fits their
// deployment.
package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/pack"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
)

// PackResponse is the result of requesting a pack from a remote: either no
// update is available (Present == false) or payload carries the remote's
// new layers plus its head hint.
//
// Commits and BranchHeads carry the commit-graph delta alongside the raw
// layer pack. spec.md's FetchEngine is defined purely in terms of layers
// and a single repository_head, but PullEngine's fast-forward operates on
// branch_head_commit — the commit graph has to cross the wire somehow for
// that to work. This module resolves the gap by framing Payload, Commits and
// BranchHeads together into one self-describing bundle (pack.EncodeBundle /
// pack.DecodeBundle) that both HTTPTransport and MemoryTransport ship as the
// bytes on the wire, rather than carrying Commits/BranchHeads only as
// in-process Go fields no real transport populates.
type PackResponse struct {
	Present     bool
	Payload     pack.Payload
	Commits     []repometa.Commit
	BranchHeads map[string]repometa.CommitID
}

// FetchFunc requests a pack from remoteURL relative to baseline (the
// requester's last-known remote head, or nil for full history).
type FetchFunc func(ctx context.Context, remoteURL string, baseline *layerhash.Hash) (PackResponse, error)

// PushFunc transmits payload to remoteURL. A non-2xx HTTP response (or
// equivalent failure in a non-HTTP transport) must be reported as an error
// tagged syncerr.KindRemoteUnpackFailed by the caller.
type PushFunc func(ctx context.Context, remoteURL string, payload pack.Payload) error

// Transport is the capability FetchEngine/PushEngine depend on.
type Transport interface {
	RequestPack(ctx context.Context, remoteURL string, baseline *layerhash.Hash) (PackResponse, error)
	SendPack(ctx context.Context, remoteURL string, payload pack.Payload) error
}

// HTTPTransport implements Transport over the wire protocol from spec §6.
// RequestPack and SendPack both POST to remoteURL exactly as given; no
// /api/pack or /api/unpack path is appended.
type HTTPTransport struct {
	Client      *http.Client
	BearerToken string
	Version     string // sent as TerminusDB-Version
}

// NewHTTPTransport builds an HTTPTransport with a default client when none
// is supplied.
func NewHTTPTransport(client *http.Client, bearerToken, version string) *HTTPTransport {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPTransport{Client: client, BearerToken: bearerToken, Version: version}
}

func (t *HTTPTransport) setHeaders(req *http.Request) {
	if t.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+t.BearerToken)
	}
	if t.Version != "" {
		req.Header.Set("TerminusDB-Version", t.Version)
	}
}

func (t *HTTPTransport) RequestPack(ctx context.Context, remoteURL string, baseline *layerhash.Hash) (PackResponse, error) {
	var body io.Reader
	if baseline != nil {
		body = bytes.NewReader([]byte(fmt.Sprintf(`{"repository_head":%q}`, baseline.String())))
	} else {
		body = bytes.NewReader([]byte(`{}`))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, remoteURL, body)
	if err != nil {
		return PackResponse{}, fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	t.setHeaders(req)

	resp, err := t.Client.Do(req)
	if err != nil {
		return PackResponse{}, fmt.Errorf("transport: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return PackResponse{Present: false}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return PackResponse{}, fmt.Errorf("transport: remote returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return PackResponse{}, fmt.Errorf("transport: read response: %w", err)
	}
	payload, commits, branchHeads, err := pack.DecodeBundle(raw)
	if err != nil {
		return PackResponse{}, fmt.Errorf("transport: decode bundle: %w", err)
	}
	return PackResponse{Present: true, Payload: payload, Commits: commits, BranchHeads: branchHeads}, nil
}

func (t *HTTPTransport) SendPack(ctx context.Context, remoteURL string, payload pack.Payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, remoteURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octets")
	t.setHeaders(req)

	resp, err := t.Client.Do(req)
	if err != nil {
		return fmt.Errorf("transport: network error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("transport: remote unpack failed: status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

var _ Transport = (*HTTPTransport)(nil)

// LocalTransport connects two in-process repositories without HTTP,
// invoking the supplied fetch/push functions directly — used when a
// "remote" is actually another locally-addressable repository context.
type LocalTransport struct {
	Fetch FetchFunc
	Push  PushFunc
}

func (t *LocalTransport) RequestPack(ctx context.Context, remoteURL string, baseline *layerhash.Hash) (PackResponse, error) {
	if t.Fetch == nil {
		return PackResponse{}, fmt.Errorf("transport: local transport has no fetch function")
	}
	return t.Fetch(ctx, remoteURL, baseline)
}

func (t *LocalTransport) SendPack(ctx context.Context, remoteURL string, payload pack.Payload) error {
	if t.Push == nil {
		return fmt.Errorf("transport: local transport has no push function")
	}
	return t.Push(ctx, remoteURL, payload)
}

var _ Transport = (*LocalTransport)(nil)

// MemoryTransport captures one payload to/from memory. It is the adapter
// Orchestrator.Bundle/Unbundle install against the synthetic
// "terminusdb:///bundle" remote (spec §4.10): bundle's push leg writes the
// raw layer payload into Captured via SendPack; Orchestrator.Bundle then
// re-wraps Captured into a full commit-graph bundle (pack.EncodeBundle)
// before handing it to the caller. Unbundle seeds Captured with that bundle
// and RequestPack decodes it exactly once, then reports exhausted.
type MemoryTransport struct {
	Captured pack.Payload
	consumed bool
}

func (t *MemoryTransport) RequestPack(ctx context.Context, remoteURL string, baseline *layerhash.Hash) (PackResponse, error) {
	if t.consumed || len(t.Captured) == 0 {
		return PackResponse{Present: false}, nil
	}
	t.consumed = true
	payload, commits, branchHeads, err := pack.DecodeBundle(t.Captured)
	if err != nil {
		return PackResponse{}, fmt.Errorf("transport: decode bundle: %w", err)
	}
	return PackResponse{Present: true, Payload: payload, Commits: commits, BranchHeads: branchHeads}, nil
}

func (t *MemoryTransport) SendPack(ctx context.Context, remoteURL string, payload pack.Payload) error {
	t.Captured = payload
	return nil
}

var _ Transport = (*MemoryTransport)(nil)
