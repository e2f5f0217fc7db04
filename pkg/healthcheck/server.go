package healthcheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/baton-presence/pkg/tracker"
)

const shutdownTimeout = 5 * time.Second

var ErrAlreadyStarted = errors.New("health check server already started")

type Config struct {
	Port        int
	BindAddress string
}

// Report is the body of every endpoint.
type Report struct {
	Status    string `json:"status"`
	State     string `json:"state,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Probe reports the state of the tracking session. *tracker.Tracker satisfies it.
type Probe interface {
	State() tracker.State
	SessionID() string
}

// verdict maps a session state to a response status and code.
type verdict func(tracker.State) (string, int)

func health(state tracker.State) (string, int) {
	switch state {
	case tracker.Running:
		return "healthy", http.StatusOK
	case tracker.Retrying:
		return "degraded", http.StatusOK
	default:
		return "unhealthy", http.StatusServiceUnavailable
	}
}

func readiness(state tracker.State) (string, int) {
	switch state {
	case tracker.Running, tracker.Retrying:
		return "ready", http.StatusOK
	default:
		return "not_ready", http.StatusServiceUnavailable
	}
}

type Server struct {
	cfg   Config
	probe Probe

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

func NewServer(cfg Config, probe Probe) *Server {
	return &Server{
		cfg:   cfg,
		probe: probe,
	}
}

func (s *Server) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", s.report(health))
	mux.Handle("GET /ready", s.report(readiness))
	mux.HandleFunc("GET /live", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, Report{Status: "alive", Timestamp: now()})
	})
	return mux
}

func (s *Server) report(v verdict) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		state := s.probe.State()
		status, code := v(state)
		writeJSON(w, code, Report{
			Status:    status,
			State:     state.String(),
			SessionID: s.probe.SessionID(),
			Timestamp: now(),
		})
	}
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return ErrAlreadyStarted
	}

	l := ctxzap.Extract(ctx)

	addr := net.JoinHostPort(s.cfg.BindAddress, strconv.Itoa(s.cfg.Port))
	listener, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to create health check listener: %w", err)
	}

	srv := &http.Server{
		Handler:           s.handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.listener = listener
	s.server = srv

	go func() {
		l.Info("health check server starting", zap.String("address", listener.Addr().String()))
		if err := srv.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			l.Error("health check server error", zap.Error(err))
		}
	}()

	return nil
}

// Addr returns the address the server listens on, or "" when not started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}

	ctxzap.Extract(ctx).Info("stopping health check server")

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	err := s.server.Shutdown(shutdownCtx)
	s.server = nil
	s.listener = nil
	if err != nil {
		return fmt.Errorf("failed to shutdown health check server: %w", err)
	}
	return nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, code int, body Report) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
