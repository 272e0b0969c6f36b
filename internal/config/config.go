package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// GATEWAY_SERVER_WS_PORT.
const envPrefix = "GATEWAY"

// Config represents the complete gateway configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"      envconfig:"SERVER"`
	Session     SessionConfig     `yaml:"session"     envconfig:"SESSION"`
	Endpointing EndpointingConfig `yaml:"endpointing" envconfig:"ENDPOINTING"`
	ASR         ASRConfig         `yaml:"asr"         envconfig:"ASR"`
	Outbound    OutboundConfig    `yaml:"outbound"    envconfig:"OUTBOUND"`
	Store       StoreConfig       `yaml:"store"       envconfig:"STORE"`
	Logging     LoggingConfig     `yaml:"logging"     envconfig:"LOGGING"`
}

// ServerConfig contains WebSocket and monitoring server configuration.
type ServerConfig struct {
	WSPort            int    `yaml:"ws_port"            envconfig:"WS_PORT"`
	BindAddress       string `yaml:"bind_address"       envconfig:"BIND_ADDRESS"`
	MonitoringPort    int    `yaml:"monitoring_port"    envconfig:"MONITORING_PORT"`
	MonitoringEnabled bool   `yaml:"monitoring_enabled" envconfig:"MONITORING_ENABLED"`
	MaxChunkBytes     int    `yaml:"max_chunk_bytes"    envconfig:"MAX_CHUNK_BYTES"`
	ShutdownTimeout   int    `yaml:"shutdown_timeout"   envconfig:"SHUTDOWN_TIMEOUT"` // seconds
}

// SessionConfig contains session lifecycle configuration.
type SessionConfig struct {
	MaxSessions       int `yaml:"max_sessions"        envconfig:"MAX_SESSIONS"`
	GlobalMaxSessions int `yaml:"global_max_sessions" envconfig:"GLOBAL_MAX_SESSIONS"`
	IdleTimeout       int `yaml:"idle_timeout"        envconfig:"IDLE_TIMEOUT"`  // seconds
	ReapInterval      int `yaml:"reap_interval"       envconfig:"REAP_INTERVAL"` // seconds
}

// EndpointingConfig contains voice-activity endpointing configuration.
type EndpointingConfig struct {
	SampleRate      int     `yaml:"sample_rate"      envconfig:"SAMPLE_RATE"`
	FrameMs         int     `yaml:"frame_ms"         envconfig:"FRAME_MS"`
	SilenceMs       int     `yaml:"silence_ms"       envconfig:"SILENCE_MS"`
	MaxBufferBytes  int     `yaml:"max_buffer_bytes" envconfig:"MAX_BUFFER_BYTES"`
	EnergyThreshold float64 `yaml:"energy_threshold" envconfig:"ENERGY_THRESHOLD"`
}

// ASRConfig contains transcription engine configuration. Mode selects the
// mock engine or the remote HTTP engine.
type ASRConfig struct {
	Mode          string `yaml:"mode"           envconfig:"MODE"`
	Endpoint      string `yaml:"endpoint"       envconfig:"ENDPOINT"`
	APIKey        string `yaml:"api_key"        envconfig:"API_KEY"`
	Timeout       int    `yaml:"timeout"        envconfig:"TIMEOUT"` // seconds
	MaxRetries    int    `yaml:"max_retries"    envconfig:"MAX_RETRIES"`
	MaxConcurrent int    `yaml:"max_concurrent" envconfig:"MAX_CONCURRENT"`
	BytesPerWord  int    `yaml:"bytes_per_word" envconfig:"BYTES_PER_WORD"`
}

// OutboundConfig contains per-connection outbound queue configuration.
type OutboundConfig struct {
	QueueSize           int `yaml:"queue_size"            envconfig:"QUEUE_SIZE"`
	WriteTimeout        int `yaml:"write_timeout"         envconfig:"WRITE_TIMEOUT"` // seconds
	SlowClientThreshold int `yaml:"slow_client_threshold" envconfig:"SLOW_CLIENT_THRESHOLD"`
}

// StoreConfig contains session store configuration. An empty RedisAddr
// selects the in-process store.
type StoreConfig struct {
	RedisAddr     string `yaml:"redis_addr"     envconfig:"REDIS_ADDR"`
	RedisPassword string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `yaml:"redis_db"       envconfig:"REDIS_DB"`
	RecordTTL     int    `yaml:"record_ttl"     envconfig:"RECORD_TTL"` // seconds
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"  envconfig:"LEVEL"`
	Format string `yaml:"format" envconfig:"FORMAT"`
	Output string `yaml:"output" envconfig:"OUTPUT"`
}

// Default returns the configuration defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			WSPort:            8080,
			BindAddress:       "0.0.0.0",
			MonitoringPort:    9090,
			MonitoringEnabled: true,
			MaxChunkBytes:     1 << 20,
			ShutdownTimeout:   30,
		},
		Session: SessionConfig{
			MaxSessions:       1000,
			GlobalMaxSessions: 0,
			IdleTimeout:       300,
			ReapInterval:      30,
		},
		Endpointing: EndpointingConfig{
			SampleRate:      16000,
			FrameMs:         20,
			SilenceMs:       300,
			MaxBufferBytes:  64 * 1024,
			EnergyThreshold: 500,
		},
		ASR: ASRConfig{
			Mode:          "mock",
			Timeout:       30,
			MaxRetries:    3,
			MaxConcurrent: 10,
			BytesPerWord:  12800,
		},
		Outbound: OutboundConfig{
			QueueSize:           100,
			WriteTimeout:        5,
			SlowClientThreshold: 10,
		},
		Store: StoreConfig{
			RecordTTL: 600,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// Load builds the configuration: defaults, then an optional YAML file, then
// environment variable overrides, then validation.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := envconfig.Process(envPrefix, config); err != nil {
		return nil, fmt.Errorf("failed to process environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs validation of the complete configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}
	if err := c.Endpointing.Validate(); err != nil {
		return fmt.Errorf("endpointing config: %w", err)
	}
	if err := c.ASR.Validate(); err != nil {
		return fmt.Errorf("asr config: %w", err)
	}
	if err := c.Outbound.Validate(); err != nil {
		return fmt.Errorf("outbound config: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store config: %w", err)
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}
	return nil
}

// Validate validates server configuration.
func (s *ServerConfig) Validate() error {
	if s.WSPort < 1 || s.WSPort > 65535 {
		return fmt.Errorf("ws_port must be between 1 and 65535, got %d", s.WSPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.MonitoringEnabled {
		if s.MonitoringPort < 1 || s.MonitoringPort > 65535 {
			return fmt.Errorf("monitoring_port must be between 1 and 65535, got %d", s.MonitoringPort)
		}
		if s.MonitoringPort == s.WSPort {
			return fmt.Errorf("monitoring_port must differ from ws_port, both are %d", s.WSPort)
		}
	}

	if s.MaxChunkBytes < 1024 {
		return fmt.Errorf("max_chunk_bytes must be at least 1024, got %d", s.MaxChunkBytes)
	}

	if s.ShutdownTimeout < 1 {
		return fmt.Errorf("shutdown_timeout must be at least 1 second, got %d", s.ShutdownTimeout)
	}

	return nil
}

// Validate validates session configuration.
func (s *SessionConfig) Validate() error {
	if s.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be at least 1, got %d", s.MaxSessions)
	}

	if s.GlobalMaxSessions < 0 {
		return fmt.Errorf("global_max_sessions cannot be negative, got %d", s.GlobalMaxSessions)
	}

	if s.GlobalMaxSessions > 0 && s.GlobalMaxSessions < s.MaxSessions {
		return fmt.Errorf("global_max_sessions (%d) cannot be below max_sessions (%d)",
			s.GlobalMaxSessions, s.MaxSessions)
	}

	if s.IdleTimeout < 1 {
		return fmt.Errorf("idle_timeout must be at least 1 second, got %d", s.IdleTimeout)
	}

	if s.ReapInterval < 1 {
		return fmt.Errorf("reap_interval must be at least 1 second, got %d", s.ReapInterval)
	}

	return nil
}

// Validate validates endpointing configuration.
func (e *EndpointingConfig) Validate() error {
	if e.SampleRate < 8000 || e.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", e.SampleRate)
	}

	switch e.FrameMs {
	case 10, 20, 30:
	default:
		return fmt.Errorf("frame_ms must be 10, 20 or 30, got %d", e.FrameMs)
	}

	if e.SilenceMs < e.FrameMs {
		return fmt.Errorf("silence_ms (%d) must be at least one frame (%dms)", e.SilenceMs, e.FrameMs)
	}

	if e.MaxBufferBytes < 1024 {
		return fmt.Errorf("max_buffer_bytes must be at least 1024, got %d", e.MaxBufferBytes)
	}

	if e.EnergyThreshold <= 0 {
		return fmt.Errorf("energy_threshold must be positive, got %f", e.EnergyThreshold)
	}

	return nil
}

// Validate validates transcription engine configuration.
func (a *ASRConfig) Validate() error {
	switch a.Mode {
	case "mock":
		if a.BytesPerWord < 1 {
			return fmt.Errorf("bytes_per_word must be at least 1, got %d", a.BytesPerWord)
		}
	case "remote":
		if a.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty in remote mode")
		}
		if a.Timeout < 1 {
			return fmt.Errorf("timeout must be at least 1 second, got %d", a.Timeout)
		}
		if a.MaxRetries < 0 {
			return fmt.Errorf("max_retries cannot be negative, got %d", a.MaxRetries)
		}
		if a.MaxConcurrent < 1 {
			return fmt.Errorf("max_concurrent must be at least 1, got %d", a.MaxConcurrent)
		}
	default:
		return fmt.Errorf("mode must be 'mock' or 'remote', got '%s'", a.Mode)
	}

	return nil
}

// Validate validates outbound queue configuration.
func (o *OutboundConfig) Validate() error {
	if o.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", o.QueueSize)
	}

	if o.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", o.WriteTimeout)
	}

	if o.SlowClientThreshold < 1 {
		return fmt.Errorf("slow_client_threshold must be at least 1, got %d", o.SlowClientThreshold)
	}

	return nil
}

// Validate validates store configuration.
func (s *StoreConfig) Validate() error {
	if s.RedisAddr == "" {
		return nil
	}

	if s.RedisDB < 0 {
		return fmt.Errorf("redis_db cannot be negative, got %d", s.RedisDB)
	}

	if s.RecordTTL < 1 {
		return fmt.Errorf("record_ttl must be at least 1 second, got %d", s.RecordTTL)
	}

	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetIdleTimeout returns the session idle timeout as a time.Duration.
func (s *SessionConfig) GetIdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeout) * time.Second
}

// GetReapInterval returns the reap interval as a time.Duration.
func (s *SessionConfig) GetReapInterval() time.Duration {
	return time.Duration(s.ReapInterval) * time.Second
}

// GetFrameDuration returns the classification frame duration.
func (e *EndpointingConfig) GetFrameDuration() time.Duration {
	return time.Duration(e.FrameMs) * time.Millisecond
}

// GetSilenceDuration returns the endpointing silence threshold.
func (e *EndpointingConfig) GetSilenceDuration() time.Duration {
	return time.Duration(e.SilenceMs) * time.Millisecond
}

// GetTimeout returns the engine request timeout as a time.Duration.
func (a *ASRConfig) GetTimeout() time.Duration {
	return time.Duration(a.Timeout) * time.Second
}

// GetWriteTimeout returns the outbound write timeout as a time.Duration.
func (o *OutboundConfig) GetWriteTimeout() time.Duration {
	return time.Duration(o.WriteTimeout) * time.Second
}

// GetRecordTTL returns the store record TTL as a time.Duration.
func (s *StoreConfig) GetRecordTTL() time.Duration {
	return time.Duration(s.RecordTTL) * time.Second
}

// GetShutdownTimeout returns the graceful shutdown timeout.
func (s *ServerConfig) GetShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownTimeout) * time.Second
}
