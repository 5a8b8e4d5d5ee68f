// Package server exposes the detection state over HTTP and WebSocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/petems/sound-detection/internal/dsp"
	"github.com/petems/sound-detection/internal/state"
)

const (
	writeTimeout      = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// Controller is the part of the app the server drives.
type Controller interface {
	Start(ctx context.Context) error
	Stop() error
	IsMonitoring() bool
	State() *state.Monitor
}

// StateMessage is the JSON form of a snapshot, used by /api/state and the
// WebSocket feed.
type StateMessage struct {
	Type       string    `json:"type"`
	Monitoring bool      `json:"monitoring"`
	Blowing    bool      `json:"blowing"`
	Whistling  bool      `json:"whistling"`
	Seq        uint64    `json:"seq"`
	Levels     []float64 `json:"levels"`
}

type StatusMessage struct {
	Status string `json:"status"`
}

type ErrorMessage struct {
	Error string `json:"error"`
}

// NewStateMessage builds the message for s. With minMax set the levels are
// rescaled to span [0, 1] instead of being divided by their peak.
func NewStateMessage(s state.Snapshot, monitoring, minMax bool) StateMessage {
	levels := s.Levels()
	if minMax {
		levels = dsp.Rescale(levels)
	}
	return StateMessage{
		Type:       "state",
		Monitoring: monitoring,
		Blowing:    s.Blowing,
		Whistling:  s.Whistling,
		Seq:        s.Seq,
		Levels:     levels,
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl    Controller
	metrics http.Handler
	log     zerolog.Logger
}

// New creates a server. metrics may be nil to disable /metrics.
func New(ctrl Controller, metrics http.Handler, log zerolog.Logger) *Server {
	return &Server{ctrl: ctrl, metrics: metrics, log: log}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("GET /api/state", s.handleState)
	mux.HandleFunc("POST /api/monitor/start", s.handleMonitorStart)
	mux.HandleFunc("POST /api/monitor/stop", s.handleMonitorStop)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}

	return corsMiddleware(mux)
}

// Serve listens on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		// Hijacked WebSocket connections are not closed by Shutdown; tie
		// their request contexts to ctx instead.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	minMax := r.URL.Query().Get("scale") == "minmax"
	writeJSON(w, http.StatusOK, NewStateMessage(s.ctrl.State().Snapshot(), s.ctrl.IsMonitoring(), minMax))
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.Start(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorMessage{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, StatusMessage{Status: "monitoring_started"})
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request) {
	_ = s.ctrl.Stop()
	writeJSON(w, http.StatusOK, StatusMessage{Status: "monitoring_stopped"})
}

// handleWebSocket sends the current state, then one message per publish.
// A slow client skips intermediate states rather than holding up others.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Error().Err(err).Msg("websocket accept error")
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	updates, unsubscribe := s.ctrl.State().Subscribe()
	defer unsubscribe()

	// Clients only listen; CloseRead handles control frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())
	log := s.log.With().Str("remote", r.RemoteAddr).Logger()
	log.Debug().Msg("websocket connected")

	minMax := r.URL.Query().Get("scale") == "minmax"
	if err := s.write(ctx, conn, NewStateMessage(s.ctrl.State().Snapshot(), s.ctrl.IsMonitoring(), minMax)); err != nil {
		log.Debug().Err(err).Msg("websocket write error")
		return
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("websocket disconnected")
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if err := s.write(ctx, conn, NewStateMessage(snap, s.ctrl.IsMonitoring(), minMax)); err != nil {
				log.Debug().Err(err).Msg("websocket write error")
				return
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, msg StateMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}
