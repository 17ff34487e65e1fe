// Package httpserver exposes the optional status surface of the daemon:
// health and readiness probes, the latest reading, Prometheus metrics and a
// WebSocket live feed.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/undervolt/railwatch/internal/api"
	"github.com/undervolt/railwatch/internal/config"
	"github.com/undervolt/railwatch/internal/monitor"
	"github.com/undervolt/railwatch/internal/version"
)

const (
	readHeaderTimeout = 5 * time.Second
	wsWriteTimeout    = 3 * time.Second
)

// Server wraps the HTTP surface area of the daemon.
type Server struct {
	cfg        config.Config
	logger     *slog.Logger
	httpServer *http.Server
	monitor    *monitor.Monitor

	requestIDs atomic.Uint64
	wsConnIDs  atomic.Uint64
}

// New builds the status server around the monitor.
func New(cfg config.Config, logger *slog.Logger, mon *monitor.Monitor) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		monitor: mon,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/readyz", s.handleReadyz)
	mux.HandleFunc("/version", s.handleVersion)
	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/ws", s.handleWS)

	if cfg.EnablePrometheus {
		s.registerPrometheus(mux)
	}

	s.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.withRequestLogging(mux),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	return s
}

// Start begins serving HTTP until shutdown is requested.
func (s *Server) Start() error {
	s.logger.Info("listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	s.logger.Info("listener stopped")
	return nil
}

// Shutdown attempts a graceful shutdown within the supplied context.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type readyzResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	info := readyzResponse{Status: "ok"}
	statusCode := http.StatusOK
	switch {
	case s.monitor == nil:
		info = readyzResponse{Status: "degraded", Reason: "monitor_not_configured"}
		statusCode = http.StatusServiceUnavailable
	case !s.monitor.Ready():
		info = readyzResponse{Status: "initializing", Reason: "waiting_for_first_cycle"}
		statusCode = http.StatusServiceUnavailable
	}

	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(info); err != nil {
		logger.Error("failed to encode readyz response", "err", err)
	}
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(version.Current()); err != nil {
		logger.Error("failed to encode version response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

type statusResponse struct {
	Rail            string          `json:"rail"`
	ThresholdVolts  float64         `json:"threshold_v"`
	Reading         monitor.Reading `json:"reading"`
	Cycles          uint64          `json:"cycles"`
	NoReadingCycles uint64          `json:"no_reading_cycles"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.monitor == nil {
		http.Error(w, "monitor unavailable", http.StatusServiceUnavailable)
		return
	}

	reading, ok := s.monitor.Latest()
	if !ok {
		http.Error(w, "no reading available", http.StatusServiceUnavailable)
		return
	}

	stats := s.monitor.CurrentStats()
	response := statusResponse{
		Rail:            s.cfg.RailMarker,
		ThresholdVolts:  s.monitor.Threshold(),
		Reading:         reading,
		Cycles:          stats.Cycles,
		NoReadingCycles: stats.NoReadingCycles,
	}

	logger := s.loggerFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		logger.Error("failed to encode status response", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	reqLogger := s.loggerFromContext(r.Context())
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if s.monitor == nil {
		http.Error(w, "monitor unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		reqLogger.Warn("websocket accept failed", "err", err)
		return
	}
	defer closeWebsocket(reqLogger, conn)

	logger := reqLogger.With("ws_id", s.wsConnIDs.Add(1))

	// CloseRead cancels the context when the client goes away.
	ctx := conn.CloseRead(r.Context())

	hello := api.NewHelloMessage(
		int(s.cfg.SampleInterval/time.Millisecond),
		s.cfg.RailMarker,
		s.monitor.Threshold(),
	)
	if err := writeJSON(ctx, conn, hello); err != nil {
		logger.Debug("websocket hello failed", "err", err)
		return
	}

	readings, unsubscribe := s.monitor.Subscribe()
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case reading, ok := <-readings:
			if !ok {
				return
			}
			if err := writeJSON(ctx, conn, api.NewReadingMessage(reading)); err != nil {
				logger.Debug("websocket write failed", "err", err)
				return
			}
		}
	}
}

func writeJSON(ctx context.Context, conn *websocket.Conn, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
