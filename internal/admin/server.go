// Package admin exposes the operational HTTP API: dead-letter inspection
// and replay.
package admin

import (
	"encoding/json"
	"net/http"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/GyanXspy/restaurant-orders/internal/dlq"
)

// Server handles the admin endpoints.
type Server struct {
	deadLetters *dlq.Service
	logger      watermill.LoggerAdapter
}

// NewServer creates a Server.
func NewServer(deadLetters *dlq.Service, logger watermill.LoggerAdapter) (*Server, error) {
	if deadLetters == nil {
		return nil, errors.New("missing dead-letter service")
	}
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	return &Server{
		deadLetters: deadLetters,
		logger:      logger,
	}, nil
}

// Router returns the admin route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)

	r.Route("/admin/dlq", func(r chi.Router) {
		r.Get("/", s.listRecords)
		r.Get("/stats", s.stats)
		r.Post("/{eventID}/replay", s.replay)
		r.Post("/{eventID}/reset", s.reset)
	})

	return r
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	status := dlq.ReplayStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = dlq.StatusPending
	}

	switch status {
	case dlq.StatusPending, dlq.StatusReplayed, dlq.StatusFailed, dlq.StatusSkipped:
	default:
		s.renderError(w, http.StatusBadRequest, errors.Errorf("unknown replay status %q", status))
		return
	}

	records, err := s.deadLetters.ListByStatus(r.Context(), status)
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err)
		return
	}
	if records == nil {
		records = []*dlq.Record{}
	}

	s.renderJSON(w, http.StatusOK, records)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deadLetters.Stats(r.Context())
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err)
		return
	}

	s.renderJSON(w, http.StatusOK, stats)
}

func (s *Server) replay(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	record, err := s.deadLetters.Replay(r.Context(), eventID)
	if errors.Is(err, dlq.ErrRecordNotFound) {
		s.renderError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err)
		return
	}

	s.renderJSON(w, http.StatusOK, record)
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")

	record, err := s.deadLetters.ResetToPending(r.Context(), eventID)
	if errors.Is(err, dlq.ErrRecordNotFound) {
		s.renderError(w, http.StatusNotFound, err)
		return
	}
	if err != nil {
		s.renderError(w, http.StatusInternalServerError, err)
		return
	}

	s.renderJSON(w, http.StatusOK, record)
}

func (s *Server) renderJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Cannot encode admin response", err, nil)
	}
}

func (s *Server) renderError(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("Admin request failed", err, nil)
	}

	s.renderJSON(w, status, map[string]string{"error": err.Error()})
}
