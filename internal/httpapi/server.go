// Package httpapi exposes Orchestrator over the endpoint table in spec
// §6, wrapping a *http.ServeMux behind a Server struct with functional
// options, following api/server.go's AuthFunc/CORS/slog pattern.
package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/i5heu/ouroboros-db/internal/synclog"
	"github.com/i5heu/ouroboros-db/pkg/orchestrator"
)

type Server struct {
	mux  *http.ServeMux
	orch *orchestrator.Orchestrator
	log  *slog.Logger
	auth AuthFunc
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.log = logger
		}
	}
}

func WithAuth(auth AuthFunc) Option {
	return func(s *Server) {
		if auth != nil {
			s.auth = auth
		}
	}
}

func New(orch *orchestrator.Orchestrator, opts ...Option) *Server {
	s := &Server{
		mux:  http.NewServeMux(),
		orch: orch,
		log:  synclog.Default(),
		auth: defaultAuth,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /api/pack/{org}/{db}", s.handlePack)
	s.mux.HandleFunc("POST /api/unpack/{org}/{db}", s.handleUnpack)
	s.mux.HandleFunc("POST /api/fetch/{org}/{db}", s.handleFetch)
	s.mux.HandleFunc("POST /api/push/{org}/{db}", s.handlePush)
	s.mux.HandleFunc("POST /api/pull/{org}/{db}/local/branch/{branch}", s.handlePull)
	s.mux.HandleFunc("POST /api/clone/{org}/{db}", s.handleClone)
	s.mux.HandleFunc("POST /api/bundle/{org}/{db}", s.handleBundle)
	s.mux.HandleFunc("POST /api/unbundle/{org}/{db}", s.handleUnbundle)
	s.mux.HandleFunc("POST /api/files", s.handleFiles)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		origin = "*"
	} else {
		w.Header().Set("Vary", "Origin")
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)

	allowedHeaders := r.Header.Get("Access-Control-Request-Headers")
	if allowedHeaders == "" {
		allowedHeaders = "Content-Type, Accept, Authorization, TerminusDB-Version"
	}
	w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
	w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := s.auth(r); err != nil {
		s.log.Warn("authentication failed", "error", err)
		writeEnvelope(w, http.StatusUnauthorized, envelope{Status: "api:failure", Message: err.Error(), ErrorTerm: "unauthorized"})
		return
	}

	s.mux.ServeHTTP(w, r)
}
