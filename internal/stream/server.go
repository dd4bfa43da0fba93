package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// DefaultHeartbeatPeriod is the idle keepalive cadence.
const DefaultHeartbeatPeriod = 15 * time.Second

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The daemon has no authenticated origin story; subscribers are
	// expected to be same-host tooling.
	CheckOrigin: func(*http.Request) bool { return true },
}

// LogStreamServer serves the /logs websocket.
type LogStreamServer struct {
	hub       *Hub[EventMessage]
	heartbeat time.Duration
	log       zerolog.Logger
	srv       *http.Server
}

// NewLogStreamServer builds the /logs endpoint around a hub.
func NewLogStreamServer(hub *Hub[EventMessage], port int, heartbeat time.Duration, log zerolog.Logger) *LogStreamServer {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatPeriod
	}
	s := &LogStreamServer{hub: hub, heartbeat: heartbeat, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/logs", s.handle)
	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	return s
}

// ListenAndServe blocks until Shutdown.
func (s *LogStreamServer) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting and closes the listener.
func (s *LogStreamServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *LogStreamServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("logs subscriber upgrade failed")
		return
	}
	sub, replay := s.hub.Subscribe()
	s.log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("logs subscriber connected")

	// Reader: pick up the optional filter message and notice closes.
	go func() {
		defer s.hub.Unsubscribe(sub)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var req SubscribeRequest
			if err := json.Unmarshal(data, &req); err != nil {
				continue
			}
			sub.SetFilter(EventFilter(req))
		}
	}()

	go func() {
		defer conn.Close()
		defer s.hub.Unsubscribe(sub)

		for _, msg := range replay {
			if !sub.wants(msg) {
				continue
			}
			if writeJSON(conn, msg) != nil {
				return
			}
		}

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					// Dropped for falling behind.
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "subscriber too slow"),
						time.Now().Add(time.Second))
					return
				}
				if writeJSON(conn, msg) != nil {
					return
				}
			case <-ticker.C:
				if writeJSON(conn, Heartbeat{Kind: "heartbeat", TS: time.Now().UTC()}) != nil {
					return
				}
			}
		}
	}()
}

// TelemetryStreamServer serves the /telemetry websocket. No replay ring:
// snapshots are small and periodic, a new subscriber just waits for the
// next one.
type TelemetryStreamServer struct {
	hub       *Hub[TelemetryMessage]
	heartbeat time.Duration
	log       zerolog.Logger
	srv       *http.Server
}

// NewTelemetryStreamServer builds the /telemetry endpoint around a hub.
func NewTelemetryStreamServer(hub *Hub[TelemetryMessage], port int, heartbeat time.Duration, log zerolog.Logger) *TelemetryStreamServer {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeatPeriod
	}
	s := &TelemetryStreamServer{hub: hub, heartbeat: heartbeat, log: log}
	mux := http.NewServeMux()
	mux.HandleFunc("/telemetry", s.handle)
	s.srv = &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	return s
}

// ListenAndServe blocks until Shutdown.
func (s *TelemetryStreamServer) ListenAndServe() error {
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops accepting and closes the listener.
func (s *TelemetryStreamServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *TelemetryStreamServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("telemetry subscriber upgrade failed")
		return
	}
	sub, _ := s.hub.Subscribe()

	go func() {
		defer s.hub.Unsubscribe(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	go func() {
		defer conn.Close()
		defer s.hub.Unsubscribe(sub)

		ticker := time.NewTicker(s.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case msg, ok := <-sub.C:
				if !ok {
					return
				}
				if writeJSON(conn, msg) != nil {
					return
				}
			case <-ticker.C:
				if writeJSON(conn, Heartbeat{Kind: "heartbeat", TS: time.Now().UTC()}) != nil {
					return
				}
			}
		}
	}()
}

func writeJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteJSON(v)
}
