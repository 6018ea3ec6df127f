// Package server exposes the interview dialog over WebSocket plus a small
// read-only HTTP surface for health and session snapshots.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/hireloop/hireloop/internal/models"
	"github.com/hireloop/hireloop/internal/session"
	"github.com/hireloop/hireloop/internal/store"
)

const defaultAddr = ":8080"

// Opts holds server configuration.
type Opts struct {
	Addr string
}

// Option configures Opts.
type Option func(*Opts)

// WithAddr sets the listen address. Defaults to :8080.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// Server wires the orchestrator and store to HTTP and WebSocket endpoints.
type Server struct {
	store store.Store
	orch  *session.Orchestrator
	addr  string
	httpd *http.Server
}

// NewServer creates the HTTP server.
func NewServer(st store.Store, orch *session.Orchestrator, options ...Option) *Server {
	opts := Opts{Addr: defaultAddr}
	for _, opt := range options {
		opt(&opts)
	}
	s := &Server{store: st, orch: orch, addr: opts.Addr}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("/ws/sessions/{id}", s.handleSessionWS)

	s.httpd = &http.Server{
		Addr:              opts.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until the context is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := s.httpd.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpd.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

// sessionSnapshot is the read-only session view returned by the API.
type sessionSnapshot struct {
	Session          *models.Session `json:"session"`
	TotalQuestions   int             `json:"totalQuestions"`
	AnsweredMain     int             `json:"answeredQuestions"`
	RemainingSeconds int             `json:"remainingSeconds"`
	Live             bool            `json:"live"`
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid session ID"))
		return
	}

	sess, err := s.store.GetSession(id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error("session not found"))
			return
		}
		slog.Error("Server.handleGetSession: failed to load session", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to load session"))
		return
	}

	tmpl, err := s.store.GetTemplate(sess.TemplateID)
	if err != nil {
		slog.Error("Server.handleGetSession: failed to load template", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to load session"))
		return
	}
	summaries, err := s.store.GetQASummaries(id)
	if err != nil {
		slog.Error("Server.handleGetSession: failed to load history", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to load session"))
		return
	}

	snapshot := sessionSnapshot{
		Session:          sess,
		TotalQuestions:   len(tmpl.RootQuestions()),
		AnsweredMain:     session.DeriveCursor(summaries),
		RemainingSeconds: session.RemainingSeconds(sess, tmpl, time.Now()),
		Live:             s.orch.Registry().Lookup(id) != nil,
	}
	writeJSONResponse(w, http.StatusOK, models.Success(snapshot))
}
