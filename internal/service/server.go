// Package service exposes the HTTP surface: document ingress, review
// reads, the task intake endpoint the dispatcher calls, and health
// probes. Handlers stay thin; lifecycle policy lives in the pipeline
// package.
package service

import (
	"encoding/json"
	"net/http"

	"github.com/gregorydickson/loan-sub000/internal/blob"
	"github.com/gregorydickson/loan-sub000/internal/logging"
	"github.com/gregorydickson/loan-sub000/internal/pipeline"
	"github.com/gregorydickson/loan-sub000/internal/store"
)

// DefaultMaxUploadBytes caps document uploads at 20 MiB.
const DefaultMaxUploadBytes = 20 << 20

// Server holds the handler dependencies.
type Server struct {
	store      store.Store
	bucket     blob.Bucket
	processor  *pipeline.Processor
	dispatcher Dispatcher
	authToken  string
	maxUpload  int64
	log        *logging.Logger
}

// ServerConfig assembles a Server.
type ServerConfig struct {
	Store      store.Store
	Bucket     blob.Bucket
	Processor  *pipeline.Processor
	Dispatcher Dispatcher
	// AuthToken guards mutating routes with a shared-secret bearer
	// check. Empty disables the check for local development.
	AuthToken      string
	MaxUploadBytes int64
	Log            *logging.Logger
}

// NewServer wires the HTTP layer.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Log == nil {
		cfg.Log = logging.Nop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	return &Server{
		store:      cfg.Store,
		bucket:     cfg.Bucket,
		processor:  cfg.Processor,
		dispatcher: cfg.Dispatcher,
		authToken:  cfg.AuthToken,
		maxUpload:  cfg.MaxUploadBytes,
		log:        cfg.Log,
	}
}

// Handler returns the route table. CORS and h2c wrapping happen in the
// binary's main, not here, so tests hit the routes directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/documents", s.requireAuth(s.handleUploadDocument))
	mux.HandleFunc("GET /v1/documents", s.handleListDocuments)
	mux.HandleFunc("GET /v1/documents/{id}", s.handleGetDocument)
	mux.HandleFunc("DELETE /v1/documents/{id}", s.requireAuth(s.handleDeleteDocument))
	mux.HandleFunc("GET /v1/documents/{id}/borrowers", s.handleListBorrowers)
	mux.HandleFunc("POST /v1/tasks/process", s.requireAuth(s.handleProcessTask))
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ready", s.handleReady)
	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports whether the store and bucket answer at all. The
// probe results are discarded; only transport failures matter.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, _, err := s.store.ListDocuments(ctx, 1, ""); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	if _, err := s.bucket.Exists(ctx, ".ready-probe"); err != nil {
		writeError(w, http.StatusServiceUnavailable, "bucket unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}
