package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is the system-wide settings coordinator.
type Config struct {
	HTTP      *HTTPConfig      `json:"http"`
	WebSocket *WebSocketConfig `json:"websocket"`
	Session   *SessionConfig   `json:"session"`
	Archive   *ArchiveConfig   `json:"archive"`
	Pipeline  *PipelineConfig  `json:"pipeline"`
}

// HTTPConfig controls the HTTP listener.
type HTTPConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// WebSocketConfig controls the realtime transport.
type WebSocketConfig struct {
	PingInterval time.Duration `json:"ping_interval"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	BufferSize   int           `json:"buffer_size"`
}

// SessionConfig controls session housekeeping.
type SessionConfig struct {
	IdleTTL       time.Duration `json:"idle_ttl"`
	SweepInterval time.Duration `json:"sweep_interval"`
}

// ArchiveConfig controls the delivery audit database.
type ArchiveConfig struct {
	Path    string        `json:"path"`
	Timeout time.Duration `json:"timeout"`
}

// PipelineConfig controls the external PDF+email service boundary.
type PipelineConfig struct {
	BaseURL        string        `json:"base_url"`
	RequestTimeout time.Duration `json:"request_timeout"`
}

// DefaultConfig returns production-ready defaults. The idle TTL is sized
// for two people filling out an accident form across separate devices.
func DefaultConfig() *Config {
	return &Config{
		HTTP: &HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: &WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			BufferSize:   100,
		},
		Session: &SessionConfig{
			IdleTTL:       2 * time.Hour,
			SweepInterval: 5 * time.Minute,
		},
		Archive: &ArchiveConfig{
			Path:    "./data/tandem.db",
			Timeout: 30 * time.Second,
		},
		Pipeline: &PipelineConfig{
			BaseURL:        "http://localhost:9090",
			RequestTimeout: 30 * time.Second,
		},
	}
}

// Validate prevents invalid system configurations from reaching runtime.
func (c *Config) Validate() error {
	if c.HTTP == nil {
		return fmt.Errorf("HTTP configuration is required")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("HTTP host cannot be empty")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("HTTP port must be between 1 and 65535")
	}
	if c.HTTP.ReadTimeout <= 0 {
		return fmt.Errorf("HTTP read timeout must be positive")
	}
	if c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP write timeout must be positive")
	}

	if c.WebSocket == nil {
		return fmt.Errorf("WebSocket configuration is required")
	}
	if c.WebSocket.PingInterval <= 0 {
		return fmt.Errorf("WebSocket ping interval must be positive")
	}
	if c.WebSocket.ReadTimeout <= 0 {
		return fmt.Errorf("WebSocket read timeout must be positive")
	}
	if c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("WebSocket write timeout must be positive")
	}
	if c.WebSocket.BufferSize <= 0 {
		return fmt.Errorf("WebSocket buffer size must be positive")
	}

	if c.Session == nil {
		return fmt.Errorf("session configuration is required")
	}
	if c.Session.IdleTTL <= 0 {
		return fmt.Errorf("session idle TTL must be positive")
	}
	if c.Session.SweepInterval <= 0 {
		return fmt.Errorf("session sweep interval must be positive")
	}

	if c.Archive == nil {
		return fmt.Errorf("archive configuration is required")
	}
	if c.Archive.Path == "" {
		return fmt.Errorf("archive path cannot be empty")
	}
	if c.Archive.Timeout <= 0 {
		return fmt.Errorf("archive timeout must be positive")
	}

	if c.Pipeline == nil {
		return fmt.Errorf("pipeline configuration is required")
	}
	if c.Pipeline.BaseURL == "" {
		return fmt.Errorf("pipeline base URL cannot be empty")
	}
	if c.Pipeline.RequestTimeout <= 0 {
		return fmt.Errorf("pipeline request timeout must be positive")
	}

	return nil
}

// LoadFromEnv builds a configuration from environment variables over
// defaults. A .env file in the working directory is honored first.
func LoadFromEnv() *Config {
	// Missing .env is the normal case outside local development
	_ = godotenv.Load()

	config := DefaultConfig()

	if host := os.Getenv("TANDEM_HTTP_HOST"); host != "" {
		config.HTTP.Host = host
	}
	if port := os.Getenv("TANDEM_HTTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.HTTP.Port = p
		}
	}
	if readTimeout := os.Getenv("TANDEM_HTTP_READ_TIMEOUT"); readTimeout != "" {
		if timeout, err := time.ParseDuration(readTimeout); err == nil {
			config.HTTP.ReadTimeout = timeout
		}
	}
	if writeTimeout := os.Getenv("TANDEM_HTTP_WRITE_TIMEOUT"); writeTimeout != "" {
		if timeout, err := time.ParseDuration(writeTimeout); err == nil {
			config.HTTP.WriteTimeout = timeout
		}
	}

	if pingInterval := os.Getenv("TANDEM_WEBSOCKET_PING_INTERVAL"); pingInterval != "" {
		if interval, err := time.ParseDuration(pingInterval); err == nil {
			config.WebSocket.PingInterval = interval
		}
	}
	if wsReadTimeout := os.Getenv("TANDEM_WEBSOCKET_READ_TIMEOUT"); wsReadTimeout != "" {
		if timeout, err := time.ParseDuration(wsReadTimeout); err == nil {
			config.WebSocket.ReadTimeout = timeout
		}
	}
	if wsWriteTimeout := os.Getenv("TANDEM_WEBSOCKET_WRITE_TIMEOUT"); wsWriteTimeout != "" {
		if timeout, err := time.ParseDuration(wsWriteTimeout); err == nil {
			config.WebSocket.WriteTimeout = timeout
		}
	}
	if bufferSize := os.Getenv("TANDEM_WEBSOCKET_BUFFER_SIZE"); bufferSize != "" {
		if size, err := strconv.Atoi(bufferSize); err == nil {
			config.WebSocket.BufferSize = size
		}
	}

	if idleTTL := os.Getenv("TANDEM_SESSION_IDLE_TTL"); idleTTL != "" {
		if ttl, err := time.ParseDuration(idleTTL); err == nil {
			config.Session.IdleTTL = ttl
		}
	}
	if sweepInterval := os.Getenv("TANDEM_SESSION_SWEEP_INTERVAL"); sweepInterval != "" {
		if interval, err := time.ParseDuration(sweepInterval); err == nil {
			config.Session.SweepInterval = interval
		}
	}

	if archivePath := os.Getenv("TANDEM_ARCHIVE_PATH"); archivePath != "" {
		config.Archive.Path = archivePath
	}
	if archiveTimeout := os.Getenv("TANDEM_ARCHIVE_TIMEOUT"); archiveTimeout != "" {
		if timeout, err := time.ParseDuration(archiveTimeout); err == nil {
			config.Archive.Timeout = timeout
		}
	}

	if baseURL := os.Getenv("TANDEM_PIPELINE_BASE_URL"); baseURL != "" {
		config.Pipeline.BaseURL = baseURL
	}
	if requestTimeout := os.Getenv("TANDEM_PIPELINE_REQUEST_TIMEOUT"); requestTimeout != "" {
		if timeout, err := time.ParseDuration(requestTimeout); err == nil {
			config.Pipeline.RequestTimeout = timeout
		}
	}

	return config
}

// ConfigFile mirrors Config with string durations for JSON parsing.
type ConfigFile struct {
	HTTP      *HTTPConfigFile      `json:"http"`
	WebSocket *WebSocketConfigFile `json:"websocket"`
	Session   *SessionConfigFile   `json:"session"`
	Archive   *ArchiveConfigFile   `json:"archive"`
	Pipeline  *PipelineConfigFile  `json:"pipeline"`
}

type HTTPConfigFile struct {
	Host         string `json:"host"`
	Port         int    `json:"port"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
}

type WebSocketConfigFile struct {
	PingInterval string `json:"ping_interval"`
	ReadTimeout  string `json:"read_timeout"`
	WriteTimeout string `json:"write_timeout"`
	BufferSize   int    `json:"buffer_size"`
}

type SessionConfigFile struct {
	IdleTTL       string `json:"idle_ttl"`
	SweepInterval string `json:"sweep_interval"`
}

type ArchiveConfigFile struct {
	Path    string `json:"path"`
	Timeout string `json:"timeout"`
}

type PipelineConfigFile struct {
	BaseURL        string `json:"base_url"`
	RequestTimeout string `json:"request_timeout"`
}

// LoadFromFile loads JSON configuration over defaults.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var configFile ConfigFile
	if err := json.Unmarshal(data, &configFile); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if configFile.HTTP != nil {
		if configFile.HTTP.Host != "" {
			config.HTTP.Host = configFile.HTTP.Host
		}
		if configFile.HTTP.Port > 0 {
			config.HTTP.Port = configFile.HTTP.Port
		}
		applyDuration(&config.HTTP.ReadTimeout, configFile.HTTP.ReadTimeout)
		applyDuration(&config.HTTP.WriteTimeout, configFile.HTTP.WriteTimeout)
	}

	if configFile.WebSocket != nil {
		if configFile.WebSocket.BufferSize > 0 {
			config.WebSocket.BufferSize = configFile.WebSocket.BufferSize
		}
		applyDuration(&config.WebSocket.PingInterval, configFile.WebSocket.PingInterval)
		applyDuration(&config.WebSocket.ReadTimeout, configFile.WebSocket.ReadTimeout)
		applyDuration(&config.WebSocket.WriteTimeout, configFile.WebSocket.WriteTimeout)
	}

	if configFile.Session != nil {
		applyDuration(&config.Session.IdleTTL, configFile.Session.IdleTTL)
		applyDuration(&config.Session.SweepInterval, configFile.Session.SweepInterval)
	}

	if configFile.Archive != nil {
		if configFile.Archive.Path != "" {
			config.Archive.Path = configFile.Archive.Path
		}
		applyDuration(&config.Archive.Timeout, configFile.Archive.Timeout)
	}

	if configFile.Pipeline != nil {
		if configFile.Pipeline.BaseURL != "" {
			config.Pipeline.BaseURL = configFile.Pipeline.BaseURL
		}
		applyDuration(&config.Pipeline.RequestTimeout, configFile.Pipeline.RequestTimeout)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence loads configuration: file > environment > defaults.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
		// File errors fall back to environment/defaults
	}

	return config
}

func applyDuration(target *time.Duration, value string) {
	if value == "" {
		return
	}
	if parsed, err := time.ParseDuration(value); err == nil {
		*target = parsed
	}
}
