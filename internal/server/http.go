package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yueh-ai/voice-to-text/internal/config"
	"github.com/yueh-ai/voice-to-text/internal/metrics"
	"github.com/yueh-ai/voice-to-text/internal/session"
)

// HTTPServer provides HTTP API endpoints for monitoring and management.
type HTTPServer struct {
	server   *http.Server
	logger   *slog.Logger
	config   *config.Config
	manager  *session.Manager
	wsServer *WSServer
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new monitoring API server.
func NewHTTPServer(cfg *config.Config, logger *slog.Logger,
	manager *session.Manager, wsServer *WSServer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    cfg,
		manager:   manager,
		wsServer:  wsServer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MonitoringPort),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes.
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	mux.HandleFunc("/sessions", h.withMetrics("/sessions", h.handleSessions))
	mux.HandleFunc("/sessions/", h.withMetrics("/sessions/{id}", h.handleSessionDetail))

	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection.
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server.
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting monitoring API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("Monitoring API server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server.
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping monitoring API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	wsStats := h.wsServer.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "voice-to-text",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"ws_server": map[string]interface{}{
				"status":            "running",
				"connections_total": wsStats.ConnectionsTotal,
			},
			"session_manager": map[string]interface{}{
				"status":          "running",
				"active_sessions": h.manager.ActiveCount(),
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleSessions implements the /sessions endpoint.
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	records := h.manager.ListSessions()

	response := map[string]interface{}{
		"total_sessions": len(records),
		"timestamp":      time.Now().UTC(),
		"sessions":       records,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleSessionDetail implements the /sessions/{id} endpoint. GET returns
// the session record; DELETE force-closes the session.
func (h *HTTPServer) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Path[len("/sessions/"):]
	if sessionID == "" {
		http.Error(w, "Session ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		sess, err := h.manager.GetSession(sessionID)
		if err != nil {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		detail := map[string]interface{}{
			"session":  sess.Record(),
			"detector": sess.DetectorStats(),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(detail)

	case http.MethodDelete:
		if _, err := h.manager.GetSession(sessionID); err != nil {
			http.Error(w, "Session not found", http.StatusNotFound)
			return
		}

		if err := h.manager.CloseSession(r.Context(), sessionID); err != nil {
			h.logger.Error("Force-close failed",
				slog.String("session_id", sessionID),
				slog.String("error", err.Error()),
			)
			http.Error(w, "Failed to close session", http.StatusInternalServerError)
			return
		}

		h.logger.Info("Session force-closed via API",
			slog.String("session_id", sessionID),
		)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "closed", "session_id": sessionID})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleConfig implements the /config endpoint. Secrets are omitted.
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"ws_port":         h.config.Server.WSPort,
			"bind_address":    h.config.Server.BindAddress,
			"monitoring_port": h.config.Server.MonitoringPort,
			"max_chunk_bytes": h.config.Server.MaxChunkBytes,
		},
		"session": map[string]interface{}{
			"max_sessions":        h.config.Session.MaxSessions,
			"global_max_sessions": h.config.Session.GlobalMaxSessions,
			"idle_timeout":        h.config.Session.IdleTimeout,
			"reap_interval":       h.config.Session.ReapInterval,
		},
		"endpointing": map[string]interface{}{
			"sample_rate":      h.config.Endpointing.SampleRate,
			"frame_ms":         h.config.Endpointing.FrameMs,
			"silence_ms":       h.config.Endpointing.SilenceMs,
			"max_buffer_bytes": h.config.Endpointing.MaxBufferBytes,
			"energy_threshold": h.config.Endpointing.EnergyThreshold,
		},
		"asr": map[string]interface{}{
			"mode":           h.config.ASR.Mode,
			"endpoint":       h.config.ASR.Endpoint,
			"timeout":        h.config.ASR.Timeout,
			"max_retries":    h.config.ASR.MaxRetries,
			"max_concurrent": h.config.ASR.MaxConcurrent,
			// API key is intentionally omitted
		},
		"outbound": map[string]interface{}{
			"queue_size":            h.config.Outbound.QueueSize,
			"write_timeout":         h.config.Outbound.WriteTimeout,
			"slow_client_threshold": h.config.Outbound.SlowClientThreshold,
		},
		"store": map[string]interface{}{
			"mode":       h.storeMode(),
			"record_ttl": h.config.Store.RecordTTL,
			// Redis address and password are intentionally omitted
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

func (h *HTTPServer) storeMode() string {
	if h.config.Store.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

// handleStats implements the /stats endpoint.
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	wsStats := h.wsServer.GetStats()
	aggregate := h.manager.AggregateMetrics()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":    uptime.String(),
		"timestamp": time.Now().UTC(),
		"ws": map[string]interface{}{
			"connections_total": wsStats.ConnectionsTotal,
		},
		"sessions": map[string]interface{}{
			"active_count": h.manager.ActiveCount(),
			"owner_id":     h.manager.OwnerID(),
		},
		"audio": aggregate,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleRoot implements the / endpoint with API documentation.
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "voice-to-text monitoring API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"GET /health":           "Service health status",
			"GET /sessions":         "List active sessions on this instance",
			"GET /sessions/{id}":    "Detailed session information",
			"DELETE /sessions/{id}": "Force-close a session",
			"GET /config":           "Service configuration without secrets",
			"GET /stats":            "Aggregated service statistics",
			"GET /metrics":          "Prometheus metrics",
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
