// Package api exposes the controller over HTTP: a JSON API under /api/v1,
// a WebSocket event stream, and the Prometheus scrape endpoint. Read
// endpoints are open; mutating endpoints sit behind an optional JWT bearer
// guard.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/shizukutanaka/Banto/internal/automation"
	"github.com/shizukutanaka/Banto/internal/common"
	"github.com/shizukutanaka/Banto/internal/engine"
	"github.com/shizukutanaka/Banto/internal/metrics"
	"github.com/shizukutanaka/Banto/internal/mining"
	"github.com/shizukutanaka/Banto/internal/monitoring"
	"github.com/shizukutanaka/Banto/internal/profit"
	"github.com/shizukutanaka/Banto/internal/store"
)

// Config defines the API server configuration
type Config struct {
	Enabled      bool     `yaml:"enabled"`
	Host         string   `yaml:"host"`
	Port         int      `yaml:"port"`
	AllowOrigins []string `yaml:"allow_origins"`
	// JWTSecret guards POST endpoints when set; empty leaves them open
	JWTSecret     string        `yaml:"jwt_secret"`
	StatsInterval time.Duration `yaml:"stats_interval"`
	ReadTimeout   time.Duration `yaml:"read_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

// DefaultConfig returns the API settings used when no configuration file
// overrides them.
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Host:          "127.0.0.1",
		Port:          8080,
		AllowOrigins:  []string{"*"},
		StatsInterval: 5 * time.Second,
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  15 * time.Second,
		IdleTimeout:   60 * time.Second,
	}
}

// Deps are the components the API reads from and commands. Store and
// Exporter may be nil; the endpoints they back degrade gracefully.
type Deps struct {
	Collector *metrics.Collector
	Miner     *mining.Miner
	Switcher  *profit.Switcher
	Scaler    *automation.Scaler
	Alerts    *monitoring.AlertManager
	Recovery  *monitoring.RecoveryManager
	Store     *store.Store
	Exporter  *monitoring.Exporter
	// Stats aggregates component statistics for /stats and the WebSocket
	// stats push
	Stats   func() map[string]interface{}
	Version string
}

// Response is the envelope every JSON endpoint returns
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Time    time.Time   `json:"time"`
}

// Server serves the HTTP API and WebSocket stream
type Server struct {
	logger   *zap.Logger
	config   Config
	deps     Deps
	router   *mux.Router
	server   *http.Server
	hub      *Hub
	upgrader websocket.Upgrader
	started  time.Time
}

// NewServer creates the API server and builds its routes
func NewServer(logger *zap.Logger, config Config, deps Deps) (*Server, error) {
	if deps.Collector == nil || deps.Switcher == nil || deps.Alerts == nil || deps.Recovery == nil {
		return nil, common.ErrNilInput
	}

	s := &Server{
		logger: logger,
		config: config,
		deps:   deps,
		hub:    NewHub(logger),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients send no origin
					return true
				}
				for _, allowed := range config.AllowOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	s.setupRoutes()
	return s, nil
}

// Hub returns the WebSocket fanout, for wiring as an event sink
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins serving. It returns once the listener goroutine is up;
// listen errors are logged, not returned.
func (s *Server) Start() error {
	s.started = time.Now()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	s.logger.Info("API server starting",
		zap.String("addr", s.server.Addr),
		zap.Bool("write_guard", s.config.JWTSecret != ""),
	)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops the server, closing WebSocket clients first
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.closeAll()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// UpdateStats pushes a fresh stats snapshot to WebSocket clients
func (s *Server) UpdateStats(stats map[string]interface{}) {
	s.hub.Broadcast(map[string]interface{}{
		"type": "stats",
		"data": stats,
		"time": time.Now(),
	})
}

// GetStats returns server statistics
func (s *Server) GetStats() map[string]interface{} {
	return map[string]interface{}{
		"addr":       fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		"ws_clients": s.hub.Count(),
	}
}

func (s *Server) setupRoutes() {
	s.router = mux.NewRouter()

	if s.deps.Exporter != nil {
		s.router.Handle("/metrics", s.deps.Exporter.Handler()).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.corsMiddleware)
	api.Use(s.loggingMiddleware)

	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	api.HandleFunc("/profit", s.handleProfit).Methods(http.MethodGet)
	api.HandleFunc("/switches", s.handleSwitches).Methods(http.MethodGet)
	api.HandleFunc("/alerts", s.handleActiveAlerts).Methods(http.MethodGet)
	api.HandleFunc("/alerts/history", s.handleAlertHistory).Methods(http.MethodGet)
	api.HandleFunc("/errors", s.handleErrors).Methods(http.MethodGet)
	api.HandleFunc("/metrics/history", s.handleMetricsHistory).Methods(http.MethodGet)
	api.HandleFunc("/export", s.handleExport).Methods(http.MethodGet)
	api.HandleFunc("/ws", s.handleWebSocket)

	write := s.router.PathPrefix("/api/v1").Subrouter()
	write.Use(s.corsMiddleware)
	write.Use(s.loggingMiddleware)
	write.Use(s.authMiddleware)

	write.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	write.HandleFunc("/alerts/{id}/acknowledge", s.handleAcknowledge).Methods(http.MethodPost)
	write.HandleFunc("/profit/switch", s.handleForceSwitch).Methods(http.MethodPost)
	write.HandleFunc("/errors", s.handleReportError).Methods(http.MethodPost)
}

// Middleware

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" {
			for _, allowed := range s.config.AllowOrigins {
				if allowed == "*" || allowed == origin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("API request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// Read handlers

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"service":        "banto",
		"version":        s.deps.Version,
		"status":         "running",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"algorithm":      s.deps.Switcher.CurrentAlgorithm(),
		"active_alerts":  s.deps.Alerts.ActiveCount(),
	}
	if s.deps.Miner != nil {
		data["mining"] = s.deps.Miner.Running()
		data["hashrate"] = s.deps.Miner.Hashrate()
	}
	if snap := s.deps.Collector.Latest(); snap != nil {
		data["resource_status"] = snap.Status()
		data["cpu_percent"] = snap.CPUPercent
		data["memory_percent"] = snap.MemoryPercent
	}
	s.sendData(w, data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.deps.Stats == nil {
		s.sendData(w, map[string]interface{}{})
		return
	}
	s.sendData(w, s.deps.Stats())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	checks := map[string]bool{"api": true}

	if s.deps.Store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		checks["store"] = s.deps.Store.Ping(ctx) == nil
	}
	if snap := s.deps.Collector.Latest(); snap != nil {
		checks["mining"] = !snap.MiningStopped
		checks["wallet"] = !snap.WalletDisconnected
		checks["pool"] = !snap.PoolDisconnected
	}

	status := "healthy"
	for _, ok := range checks {
		if !ok {
			status = "degraded"
			break
		}
	}
	s.sendData(w, map[string]interface{}{"status": status, "checks": checks})
}

func (s *Server) handleProfit(w http.ResponseWriter, r *http.Request) {
	s.sendData(w, map[string]interface{}{
		"current_algorithm": s.deps.Switcher.CurrentAlgorithm(),
		"estimates":         s.deps.Switcher.Estimates(),
		"stats":             s.deps.Switcher.GetStats(),
	})
}

func (s *Server) handleSwitches(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if s.deps.Store != nil {
		records, err := s.deps.Store.Switches.List(r.Context(), limit)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.sendData(w, records)
		return
	}
	s.sendData(w, s.deps.Switcher.SwitchHistory(limit))
}

func (s *Server) handleActiveAlerts(w http.ResponseWriter, r *http.Request) {
	s.sendData(w, s.deps.Alerts.Active())
}

func (s *Server) handleAlertHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if s.deps.Store != nil {
		alerts, err := s.deps.Store.Alerts.List(r.Context(), r.URL.Query().Get("status"), limit)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.sendData(w, alerts)
		return
	}
	s.sendData(w, s.deps.Alerts.History(limit))
}

func (s *Server) handleErrors(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100)
	if s.deps.Store != nil {
		events, err := s.deps.Store.Errors.List(r.Context(), limit)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.sendData(w, events)
		return
	}
	s.sendData(w, s.deps.Recovery.Errors(limit))
}

func (s *Server) handleMetricsHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 500)
	window := time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			s.sendError(w, http.StatusBadRequest, fmt.Sprintf("invalid window %q", raw))
			return
		}
		window = parsed
	}

	if s.deps.Store != nil {
		samples, err := s.deps.Store.Samples.History(r.Context(), time.Now().Add(-window), limit)
		if err != nil {
			s.sendError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.sendData(w, samples)
		return
	}
	s.sendData(w, s.deps.Collector.History(limit))
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store == nil {
		s.sendError(w, http.StatusServiceUnavailable, "history store disabled")
		return
	}

	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="banto-history-%s.json.gz"`, time.Now().Format("20060102-150405")))

	if err := s.deps.Store.Export(r.Context(), w); err != nil {
		// Headers are out; all we can do is log
		s.logger.Error("History export failed", zap.Error(err))
	}
}

// Write handlers

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title     string                 `json:"title"`
		Message   string                 `json:"message"`
		Severity  string                 `json:"severity"`
		Component string                 `json:"component"`
		Metadata  map[string]interface{} `json:"metadata"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Title == "" {
		s.sendError(w, http.StatusBadRequest, "title is required")
		return
	}
	severity, err := parseSeverity(req.Severity)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	id := s.deps.Alerts.CreateAlert(req.Title, req.Message, severity, req.Component, req.Metadata)
	s.sendData(w, map[string]interface{}{"id": id})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.deps.Alerts.Acknowledge(id); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			s.sendError(w, http.StatusNotFound, fmt.Sprintf("no active alert %q", id))
			return
		}
		s.sendError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sendData(w, map[string]interface{}{"id": id, "acknowledged": true})
}

func (s *Server) handleForceSwitch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Algorithm string `json:"algorithm"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Algorithm == "" {
		s.sendError(w, http.StatusBadRequest, "algorithm is required")
		return
	}

	if err := s.deps.Switcher.ForceSwitch(req.Algorithm); err != nil {
		switch {
		case errors.Is(err, common.ErrUnknownAlgorithm):
			s.sendError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, common.ErrNoChange), errors.Is(err, common.ErrSuppressed):
			s.sendError(w, http.StatusConflict, err.Error())
		default:
			s.sendError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	s.sendData(w, map[string]interface{}{"algorithm": req.Algorithm, "switched": true})
}

func (s *Server) handleReportError(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Component string `json:"component"`
		Message   string `json:"message"`
		Severity  string `json:"severity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Component == "" || req.Message == "" {
		s.sendError(w, http.StatusBadRequest, "component and message are required")
		return
	}
	severity, err := parseSeverity(req.Severity)
	if err != nil {
		s.sendError(w, http.StatusBadRequest, err.Error())
		return
	}

	event := s.deps.Recovery.HandleError(r.Context(), req.Component, errors.New(req.Message), severity)
	s.sendData(w, event)
}

// WebSocket

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("WebSocket upgrade failed", zap.Error(err))
		return
	}

	s.hub.add(conn)
	s.logger.Debug("WebSocket client connected", zap.String("remote", conn.RemoteAddr().String()))

	if s.deps.Stats != nil {
		s.hub.send(conn, map[string]interface{}{
			"type": "stats",
			"data": s.deps.Stats(),
			"time": time.Now(),
		})
	}

	for {
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg["type"] {
		case "ping":
			s.hub.send(conn, map[string]interface{}{"type": "pong", "time": time.Now()})
		case "get_stats":
			if s.deps.Stats != nil {
				s.hub.send(conn, map[string]interface{}{
					"type": "stats",
					"data": s.deps.Stats(),
					"time": time.Now(),
				})
			}
		}
	}

	s.hub.remove(conn)
	conn.Close()
	s.logger.Debug("WebSocket client disconnected", zap.String("remote", conn.RemoteAddr().String()))
}

// Helpers

func (s *Server) sendData(w http.ResponseWriter, data interface{}) {
	s.sendJSON(w, http.StatusOK, Response{Success: true, Data: data, Time: time.Now()})
}

func (s *Server) sendError(w http.ResponseWriter, status int, message string) {
	s.sendJSON(w, status, Response{Success: false, Error: message, Time: time.Now()})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func parseSeverity(raw string) (engine.Severity, error) {
	switch raw {
	case "":
		return engine.SeverityWarning, nil
	case string(engine.SeverityInfo), string(engine.SeverityWarning),
		string(engine.SeverityError), string(engine.SeverityCritical):
		return engine.Severity(raw), nil
	default:
		return "", fmt.Errorf("invalid severity %q", raw)
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
