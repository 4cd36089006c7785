// Package server exposes the streaming API over HTTP: an SSE endpoint that
// opens a session stream, plus health and metrics endpoints.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huangjh/streamagent/internal/channels"
	"github.com/huangjh/streamagent/internal/orchestrator"
)

// Streamer opens a live event channel for one session request. Implemented by
// the orchestrator; narrowed to an interface so handler tests can fake it.
type Streamer interface {
	Stream(ctx context.Context, sessionID, prompt, decision string) (*channels.Channel, error)
}

// Server is the HTTP front end.
type Server struct {
	streamer Streamer
	logger   *slog.Logger
	http     *http.Server
}

// Config configures the Server.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// Streamer handles stream requests (required).
	Streamer Streamer

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// ReadHeaderTimeout guards against slow-header clients. Default 10s.
	ReadHeaderTimeout time.Duration
}

// New creates the Server and its routes.
func New(cfg Config) (*Server, error) {
	if cfg.Streamer == nil {
		return nil, errors.New("server: streamer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ReadHeaderTimeout <= 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}

	s := &Server{
		streamer: cfg.Streamer,
		logger:   cfg.Logger.With("component", "server"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		// No WriteTimeout: SSE streams stay open up to the channel timeout.
	}
	return s, nil
}

// ListenAndServe blocks serving HTTP until Shutdown or a listener error.
func (s *Server) ListenAndServe() error {
	s.logger.Info("listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler returns the route handler, for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// handleStream opens the session's event channel and pumps it to the client
// as Server-Sent Events until the channel completes or the client goes away.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}
	prompt := r.URL.Query().Get("prompt")
	decision := r.URL.Query().Get("decision")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ch, err := s.streamer.Stream(r.Context(), sessionID, prompt, decision)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrSessionBusy):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, orchestrator.ErrInvalidDecision):
			http.Error(w, err.Error(), http.StatusBadRequest)
		default:
			s.logger.Error("stream request failed", "session_id", sessionID, "error", err)
			http.Error(w, "internal error", http.StatusServiceUnavailable)
		}
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case event, open := <-ch.Events():
			if !open {
				return
			}
			if err := writeSSE(w, event); err != nil {
				s.logger.Info("client write failed, closing stream",
					"session_id", sessionID, "error", err)
				ch.CompleteWithError(err)
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			s.logger.Info("client disconnected", "session_id", sessionID)
			ch.CompleteWithError(r.Context().Err())
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprint(w, `{"status":"ok"}`)
}

// writeSSE writes one event in SSE wire format. Multi-line payloads get one
// data: line per line, per the SSE framing rules.
func writeSSE(w http.ResponseWriter, event channels.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Name); err != nil {
		return err
	}
	for _, line := range strings.Split(event.Data, "\n") {
		if _, err := fmt.Fprintf(w, "data: %s\n", line); err != nil {
			return err
		}
	}
	_, err := fmt.Fprint(w, "\n")
	return err
}
