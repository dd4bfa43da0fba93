// Package server is the HTTP control plane: state queries plus runtime
// mutation of the monitored-file set. All bodies are JSON.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/resolvix/collector/internal/config"
	"github.com/resolvix/collector/internal/model"
	"github.com/resolvix/collector/internal/outbox"
	"github.com/resolvix/collector/internal/stream"
	"github.com/resolvix/collector/internal/supervisor"
	"github.com/resolvix/collector/internal/suppress"
	"github.com/resolvix/collector/internal/telemetry"
	"github.com/resolvix/collector/internal/ticket"
)

// DefaultPort is the control plane's listen port.
const DefaultPort = 8754

// DefaultRequestTimeout bounds each handler.
const DefaultRequestTimeout = 15 * time.Second

// Config holds control plane configuration and its collaborators.
type Config struct {
	Port           int
	RequestTimeout time.Duration

	Supervisor *supervisor.Supervisor
	Suppress   *suppress.Engine
	Store      *config.Store
	Collector  *telemetry.Collector
	LogHub     *stream.Hub[stream.EventMessage]
	Outbox     *outbox.Queue
	Tickets    *ticket.Publisher

	NodeIP string
	Log    zerolog.Logger
}

// Server is the control plane.
type Server struct {
	cfg     Config
	srv     *http.Server
	started time.Time
}

// New wires the routes.
func New(cfg Config) *Server {
	if cfg.Port == 0 {
		cfg.Port = DefaultPort
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Server{cfg: cfg, started: time.Now()}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/config", s.handleConfig)
	mux.HandleFunc("POST /api/config/reload", s.handleReload)
	mux.HandleFunc("GET /api/monitored-files", s.handleMonitoredFiles)
	mux.HandleFunc("POST /api/config/monitored_files/add", s.handleAdd)
	mux.HandleFunc("DELETE /api/config/monitored_files/remove", s.handleRemove)
	mux.HandleFunc("GET /api/processes", s.handleProcesses)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := http.TimeoutHandler(s.recoverer(mux), cfg.RequestTimeout, `{"status":"error","message":"request timed out"}`)
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}
	return s
}

// ListenAndServe blocks until Shutdown. A bind failure is returned to
// the caller, which treats it as fatal.
func (s *Server) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ServeOn serves on an existing listener. For testing.
func (s *Server) ServeOn(lis net.Listener) error {
	err := s.srv.Serve(lis)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Handler exposes the route tree. For testing.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Shutdown stops accepting and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// recoverer turns a handler panic into a JSON 500 instead of a dropped
// connection.
func (s *Server) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.cfg.Log.Error().Interface("panic", rec).Str("path", r.URL.Path).Msg("handler panic")
				writeJSON(w, http.StatusInternalServerError, map[string]any{
					"status":  "error",
					"message": fmt.Sprint(rec),
				})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":         "ok",
		"node_ip":        s.cfg.NodeIP,
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"monitored":      len(s.cfg.Supervisor.List()),
		"paused_tailers": s.cfg.Supervisor.PausedLabels(),
		"suppression":    s.cfg.Suppress.Stats(),
	}
	if s.cfg.Outbox != nil {
		status["outbox"] = map[string]any{
			"depth": s.cfg.Outbox.Len(),
			"drops": s.cfg.Outbox.Drops(),
		}
	}
	if s.cfg.Tickets != nil {
		status["ticket_publish_failures"] = s.cfg.Tickets.Failures()
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	f, err := s.cfg.Store.Load()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Supervisor.Reload(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.cfg.Suppress.ForceReload()
	writeJSON(w, http.StatusOK, map[string]bool{"reloaded": true})
}

func (s *Server) handleMonitoredFiles(w http.ResponseWriter, r *http.Request) {
	files := s.cfg.Supervisor.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"files": files,
		"count": len(files),
	})
}

func (s *Server) handleProcesses(w http.ResponseWriter, r *http.Request) {
	var procs []model.ProcessSample
	var ts time.Time
	if snap := s.cfg.Collector.Last(); snap != nil {
		procs = snap.Processes
		ts = snap.Timestamp
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"processes": procs,
		"sampled_at": ts,
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	var recent []stream.EventMessage
	if s.cfg.LogHub != nil {
		recent = s.cfg.LogHub.Ring()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recent":      recent,
		"count":       len(recent),
		"suppression": s.cfg.Suppress.Stats(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": msg})
}
