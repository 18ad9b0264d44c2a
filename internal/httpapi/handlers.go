package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/i5heu/ouroboros-db/pkg/layerhash"
	"github.com/i5heu/ouroboros-db/pkg/pack"
	"github.com/i5heu/ouroboros-db/pkg/repometa"
	"github.com/i5heu/ouroboros-db/pkg/syncerr"
	"github.com/i5heu/ouroboros-db/pkg/transport"
)

const maxJSONBody = 1 << 20 // 1 MiB; pack payloads travel as application/octets, not JSON

func dbFromPath(r *http.Request) repometa.DB {
	return repometa.DB{Account: r.PathValue("org"), Name: r.PathValue("db")}
}

func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxJSONBody))
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, v)
}

// remoteTransport checks that remoteName is registered for db and builds an
// HTTPTransport carrying the request's auth and version headers. It does not
// read the remote's URL; the engines pass that URL to the transport on each
// call.
func (s *Server) remoteTransport(r *http.Request, db repometa.DB, remoteName string) (*transport.HTTPTransport, error) {
	tx, err := s.orch.Meta.Begin(r.Context())
	if err != nil {
		return nil, fmt.Errorf("begin metadata tx: %w", err)
	}
	defer tx.Rollback()

	_, ok, err := tx.Remote(db, remoteName)
	if err != nil {
		return nil, fmt.Errorf("load remote %q: %w", remoteName, err)
	}
	if !ok {
		return nil, syncerr.Newf(syncerr.KindNotFound, "remote %q not registered", remoteName)
	}
	return transport.NewHTTPTransport(nil, r.Header.Get("Authorization"), r.Header.Get("TerminusDB-Version")), nil
}

type packRequest struct {
	RepositoryHead string `json:"repository_head"`
}

func (s *Server) handlePack(w http.ResponseWriter, r *http.Request) {
	var req packRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid json"))
		return
	}

	var baseline *layerhash.Hash
	if req.RepositoryHead != "" {
		h, err := layerhash.Parse(req.RepositoryHead)
		if err != nil {
			writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid repository_head"))
			return
		}
		baseline = &h
	}

	db := dbFromPath(r)
	branch := "main"

	payload, present, err := s.orch.Pack(r.Context(), db, branch, baseline)
	if err != nil {
		writeError(w, err)
		return
	}
	if !present {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	// RequestPack's caller needs the commit graph alongside the raw layer
	// payload to reconstruct commits and advance a branch head (see
	// transport.PackResponse's doc comment), so the response body is a
	// pack.EncodeBundle envelope, not the bare payload.
	commits, head, err := s.orch.BranchHistory(r.Context(), db, branch)
	if err != nil {
		writeError(w, err)
		return
	}
	if head == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	bundle, err := pack.EncodeBundle(payload, commits, map[string]repometa.CommitID{branch: *head})
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindInternal, err, "encode bundle"))
		return
	}

	w.Header().Set("Content-Type", "application/octets")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bundle)
}

type unpackRequest struct {
	ResourceURI string `json:"resource_uri"`
}

func (s *Server) handleUnpack(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Content-Type") == "application/json" {
		var req unpackRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid json"))
			return
		}
		// TUS resumable upload is a capability interface only (spec.md
		// Non-goals); this module doesn't implement a TUS client, so a
		// resource_uri body has nothing to fetch the payload from.
		writeError(w, syncerr.New(syncerr.KindInternal, "unpack via resource_uri requires a TUS-capable deployment"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "read payload"))
		return
	}
	if err := s.orch.Unpack(r.Context(), body); err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "unpacked", nil)
}

type fetchRequest struct {
	RemoteURL string `json:"remote_url"`
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	var req fetchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid json"))
		return
	}

	db := dbFromPath(r)
	t := transport.NewHTTPTransport(nil, r.Header.Get("Authorization"), r.Header.Get("TerminusDB-Version"))
	_, advanced, err := s.orch.Fetch(r.Context(), db, "origin", t.RequestPack)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "fetched", map[string]any{"head_has_updated": advanced})
}

type pushRequest struct {
	RemoteName string `json:"remote_name"`
	Branch     string `json:"branch"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid json"))
		return
	}

	db := dbFromPath(r)
	t, err := s.remoteTransport(r, db, req.RemoteName)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.orch.Push(r.Context(), db, req.Branch, req.RemoteName, nil, t.SendPack)
	if err != nil {
		writeError(w, err)
		return
	}
	status := "same"
	if res.Changed {
		status = "new"
	}
	writeSuccess(w, "pushed", map[string]any{status: true, "head": res.Head.String()})
}

type pullRequest struct {
	RemoteName   string `json:"remote_name"`
	RemoteBranch string `json:"remote_branch"`
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid json"))
		return
	}

	db := dbFromPath(r)
	localBranch := r.PathValue("branch")
	t, err := s.remoteTransport(r, db, req.RemoteName)
	if err != nil {
		writeError(w, err)
		return
	}
	res, err := s.orch.Pull(r.Context(), db, localBranch, req.RemoteName, req.RemoteBranch, nil, t.RequestPack)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "pulled", map[string]any{
		"pull_status":     res.Outcome.String(),
		"applied_commits": commitIDStrings(res.Applied),
	})
}

type cloneRequest struct {
	Label     string `json:"label"`
	Comment   string `json:"comment"`
	RemoteURL string `json:"remote_url"`
}

func (s *Server) handleClone(w http.ResponseWriter, r *http.Request) {
	var req cloneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid json"))
		return
	}

	db := dbFromPath(r)
	t := transport.NewHTTPTransport(nil, r.Header.Get("Authorization"), r.Header.Get("TerminusDB-Version"))
	applied, err := s.orch.Clone(r.Context(), db, req.RemoteURL, nil, t.RequestPack)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "cloned", map[string]any{"applied_commits": commitIDStrings(applied)})
}

type bundleRequest struct {
	Branch string `json:"branch"`
}

func (s *Server) handleBundle(w http.ResponseWriter, r *http.Request) {
	var req bundleRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "invalid json"))
		return
	}
	branch := req.Branch
	if branch == "" {
		branch = "main"
	}

	payload, err := s.orch.Bundle(r.Context(), dbFromPath(r), branch)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(payload) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/octets")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

func (s *Server) handleUnbundle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, syncerr.Wrap(syncerr.KindUnknown, err, "read payload"))
		return
	}
	res, err := s.orch.Unbundle(r.Context(), dbFromPath(r), "main", body)
	if err != nil {
		writeError(w, err)
		return
	}
	writeSuccess(w, "unbundled", map[string]any{"pull_status": res.Outcome.String()})
}

// handleFiles stands in for the TUS resumable-upload endpoint spec §6
// names; full TUS chunking is an external capability (spec.md Non-goals),
// so this reports the gap rather than faking protocol compliance.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusNotImplemented, envelope{
		Status:    "api:failure",
		Message:   "TUS resumable upload is not implemented by this deployment",
		ErrorTerm: "internal_error",
	})
}

func commitIDStrings(ids []repometa.CommitID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
