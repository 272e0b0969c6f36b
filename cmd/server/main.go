package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/yueh-ai/voice-to-text/internal/asr"
	"github.com/yueh-ai/voice-to-text/internal/config"
	"github.com/yueh-ai/voice-to-text/internal/metrics"
	"github.com/yueh-ai/voice-to-text/internal/server"
	"github.com/yueh-ai/voice-to-text/internal/session"
	"github.com/yueh-ai/voice-to-text/internal/store"
	"github.com/yueh-ai/voice-to-text/internal/vad"
)

const (
	serviceName    = "voice-to-text"
	serviceVersion = "1.0.0"
)

func main() {
	// A local .env is optional; environment wins either way.
	_ = godotenv.Load()

	configPath := flag.String("config", "", "Path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	logger.Info("Configuration loaded",
		slog.Int("ws_port", cfg.Server.WSPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("max_sessions", cfg.Session.MaxSessions),
		slog.Int("global_max_sessions", cfg.Session.GlobalMaxSessions),
		slog.Int("sample_rate", cfg.Endpointing.SampleRate),
		slog.Int("silence_ms", cfg.Endpointing.SilenceMs),
		slog.String("asr_mode", cfg.ASR.Mode),
		slog.String("store_mode", storeMode(cfg)),
		slog.String("log_level", cfg.Logging.Level),
	)

	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	sessionStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Error("Failed to create session store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		logger.Error("Failed to create transcription engine", slog.String("error", err.Error()))
		os.Exit(1)
	}

	manager := session.NewManager(session.ManagerConfig{
		MaxSessions:       cfg.Session.MaxSessions,
		GlobalMaxSessions: cfg.Session.GlobalMaxSessions,
		IdleTimeout:       cfg.Session.GetIdleTimeout(),
		ReapInterval:      cfg.Session.GetReapInterval(),
		Detector: vad.Config{
			SampleRate:      cfg.Endpointing.SampleRate,
			FrameDuration:   cfg.Endpointing.GetFrameDuration(),
			SilenceDuration: cfg.Endpointing.GetSilenceDuration(),
			MaxBufferBytes:  cfg.Endpointing.MaxBufferBytes,
			EnergyThreshold: cfg.Endpointing.EnergyThreshold,
		},
	}, engine, sessionStore, appMetrics, logger)
	logger.Info("Session manager initialized",
		slog.String("owner_id", manager.OwnerID()),
		slog.Duration("idle_timeout", cfg.Session.GetIdleTimeout()),
	)

	wsServer := server.NewWSServer(cfg, manager, appMetrics, logger)

	var httpServer *server.HTTPServer
	if cfg.Server.MonitoringEnabled {
		httpServer = server.NewHTTPServer(cfg, logger, manager, wsServer, appMetrics)
		logger.Info("Monitoring API server initialized",
			slog.Int("monitoring_port", cfg.Server.MonitoringPort),
		)
	}

	if err := wsServer.Start(); err != nil {
		logger.Error("Failed to start WebSocket server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start monitoring API server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("ws_address", fmt.Sprintf("%s:%d%s", cfg.Server.BindAddress, cfg.Server.WSPort, server.StreamPath)),
	)

	sig := <-sigChan
	logger.Info("Received shutdown signal", slog.String("signal", sig.String()))

	logger.Info("Starting graceful shutdown...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer shutdownCancel()

	// Stop accepting monitoring requests first, then new streams, then drain
	// sessions, then release shared resources.
	if httpServer != nil {
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping monitoring API server", slog.String("error", err.Error()))
		}
	}

	if err := wsServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping WebSocket server", slog.String("error", err.Error()))
	}

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down session manager", slog.String("error", err.Error()))
	}

	if closer, ok := engine.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			logger.Error("Error closing transcription engine", slog.String("error", err.Error()))
		}
	}

	if err := sessionStore.Close(); err != nil {
		logger.Error("Error closing session store", slog.String("error", err.Error()))
	}

	wsStats := wsServer.GetStats()
	logger.Info("Final server statistics",
		slog.Uint64("connections_total", wsStats.ConnectionsTotal),
	)

	logger.Info("Service stopped")
}

// buildStore selects the session store: Redis when an address is configured,
// otherwise in-process memory.
func buildStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	if cfg.Store.RedisAddr == "" {
		return store.NewMemoryStore(0), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return store.NewRedisStore(ctx, store.RedisConfig{
		Addr:     cfg.Store.RedisAddr,
		Password: cfg.Store.RedisPassword,
		DB:       cfg.Store.RedisDB,
		TTL:      cfg.Store.GetRecordTTL(),
	}, logger)
}

// buildEngine selects the transcription engine per configuration.
func buildEngine(cfg *config.Config) (asr.Engine, error) {
	switch cfg.ASR.Mode {
	case "remote":
		return asr.NewRemoteEngine(asr.RemoteConfig{
			Endpoint:      cfg.ASR.Endpoint,
			APIKey:        cfg.ASR.APIKey,
			Timeout:       cfg.ASR.GetTimeout(),
			MaxRetries:    cfg.ASR.MaxRetries,
			MaxConcurrent: cfg.ASR.MaxConcurrent,
		})
	default:
		return asr.NewMockEngine(asr.MockConfig{
			BytesPerWord: cfg.ASR.BytesPerWord,
		}), nil
	}
}

func storeMode(cfg *config.Config) string {
	if cfg.Store.RedisAddr != "" {
		return "redis"
	}
	return "memory"
}

// initLogger creates the structured logger based on configuration.
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
