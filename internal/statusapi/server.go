// Package statusapi serves a read-only view of an in-progress run over HTTP.
package statusapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"workshop/internal/ledger"
	"workshop/internal/logging"
	"workshop/internal/workflow"
)

// Source is the live run the server reports on.
type Source interface {
	RunID() string
	Snapshot() []workflow.SlotStatus
}

// ErrorLog is the part of the ledger the server reads.
type ErrorLog interface {
	Entries() []ledger.Entry
}

// SlotsResponse is returned by /api/slots.
type SlotsResponse struct {
	RunID string                `json:"run_id"`
	Slots []workflow.SlotStatus `json:"slots"`
}

// ErrorEntry is one ledger line as JSON.
type ErrorEntry struct {
	Time   time.Time `json:"time"`
	JobID  string    `json:"job_id"`
	Kind   string    `json:"kind"`
	Reason string    `json:"reason"`
}

// ErrorsResponse is returned by /api/errors.
type ErrorsResponse struct {
	RunID  string       `json:"run_id"`
	Total  int          `json:"total"`
	Errors []ErrorEntry `json:"errors"`
}

// Server exposes run status while a run is in progress.
type Server struct {
	bind   string
	source Source
	errors ErrorLog
	logger *slog.Logger

	listener net.Listener
	server   *http.Server
}

// New builds a server bound to bind. It does not listen until Start.
func New(bind string, source Source, errs ErrorLog, logger *slog.Logger) *Server {
	s := &Server{
		bind:   bind,
		source: source,
		errors: errs,
		logger: logging.NewComponentLogger(logger, "status-api"),
	}
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s
}

// Handler returns the routed handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Get("/slots", s.handleSlots)
		r.Get("/slots/{index}", s.handleSlot)
		r.Get("/errors", s.handleErrors)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

// Start listens and serves until ctx is cancelled or Stop is called.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("status api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status api server error", logging.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	s.logger.Info("status api listening",
		logging.String(logging.FieldEventType, "status_api_listening"),
		logging.String("address", listener.Addr().String()),
	)
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down, waiting briefly for in-flight requests.
func (s *Server) Stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSlots(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, SlotsResponse{RunID: s.source.RunID(), Slots: s.source.Snapshot()})
}

func (s *Server) handleSlot(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid slot index")
		return
	}
	for _, slot := range s.source.Snapshot() {
		if slot.Index == index {
			s.writeJSON(w, http.StatusOK, slot)
			return
		}
	}
	s.writeError(w, http.StatusNotFound, "slot not found")
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	entries := s.errors.Entries()
	jobFilter := r.URL.Query().Get("job")
	out := make([]ErrorEntry, 0, len(entries))
	for _, entry := range entries {
		if jobFilter != "" && entry.JobID != jobFilter {
			continue
		}
		out = append(out, ErrorEntry{Time: entry.Time, JobID: entry.JobID, Kind: entry.Kind, Reason: entry.Reason})
	}
	s.writeJSON(w, http.StatusOK, ErrorsResponse{RunID: s.source.RunID(), Total: len(entries), Errors: out})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
