// Package config provides configuration management for neuroguard.
package config

import (
	"fmt"
	"time"
)

// Config is the global configuration for neuroguard.
type Config struct {
	// App is the application configuration.
	App AppConfig `mapstructure:"app" validate:"required"`

	// Server is the HTTP server configuration.
	Server ServerConfig `mapstructure:"server" validate:"required"`

	// Log is the logging configuration.
	Log LogConfig `mapstructure:"log" validate:"required"`

	// Storage is the record store configuration.
	Storage StorageConfig `mapstructure:"storage"`

	// Completion is the completion collaborator configuration.
	Completion CompletionConfig `mapstructure:"completion"`

	// Interpreter is the pattern interpreter configuration.
	Interpreter InterpreterConfig `mapstructure:"interpreter"`

	// Analysis holds the system analysis thresholds.
	Analysis AnalysisConfig `mapstructure:"analysis"`

	// Events is the record event bus configuration.
	Events EventsConfig `mapstructure:"events"`

	// Metrics is the observability configuration.
	Metrics MetricsConfig `mapstructure:"metrics"`

	// Tracing is the distributed tracing configuration.
	Tracing TracingConfig `mapstructure:"tracing"`
}

// AppConfig holds application metadata and settings.
type AppConfig struct {
	// Name is the application name.
	Name string `mapstructure:"name" validate:"required"`

	// Version is the application version.
	Version string `mapstructure:"version"`

	// Environment is the runtime environment (development, staging, production).
	Environment string `mapstructure:"environment" validate:"env"`

	// Debug enables debug mode with verbose logging.
	Debug bool `mapstructure:"debug"`
}

// ServerConfig holds the HTTP server configuration.
type ServerConfig struct {
	// Host is the bind address.
	Host string `mapstructure:"host" validate:"omitempty,host"`

	// Port is the HTTP API port.
	Port int `mapstructure:"port" validate:"required,min=1,max=65535"`

	// HTTP is the HTTP server configuration.
	HTTP HTTPConfig `mapstructure:"http"`

	// CORS is the CORS configuration.
	CORS CORSConfig `mapstructure:"cors"`

	// WebSocket is the record stream configuration.
	WebSocket WebSocketConfig `mapstructure:"websocket"`
}

// HTTPConfig holds HTTP-specific settings.
type HTTPConfig struct {
	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout time.Duration `mapstructure:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// IdleTimeout is the maximum amount of time to wait for the next request.
	IdleTimeout time.Duration `mapstructure:"idle_timeout"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// RequestTimeout bounds a single API request, collaborator calls included.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	// MaxHeaderBytes limits the size of request headers.
	MaxHeaderBytes int `mapstructure:"max_header_bytes" validate:"min=0"`

	// MaxBodyBytes limits the size of request bodies.
	MaxBodyBytes int64 `mapstructure:"max_body_bytes" validate:"min=0"`
}

// CORSConfig holds CORS settings.
type CORSConfig struct {
	// Enabled enables CORS support.
	Enabled bool `mapstructure:"enabled"`

	// AllowedOrigins is the list of allowed origins.
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	// AllowedMethods is the list of allowed HTTP methods.
	AllowedMethods []string `mapstructure:"allowed_methods"`

	// AllowedHeaders is the list of allowed headers.
	AllowedHeaders []string `mapstructure:"allowed_headers"`

	// MaxAge is the maximum age of CORS preflight cache in seconds.
	MaxAge int `mapstructure:"max_age" validate:"min=0"`
}

// WebSocketConfig holds record stream settings.
type WebSocketConfig struct {
	// Enabled exposes /ws/records.
	Enabled bool `mapstructure:"enabled"`

	// MaxConnections caps concurrent stream clients.
	MaxConnections int `mapstructure:"max_connections" validate:"min=1"`

	// PingInterval is how often idle clients are pinged.
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`

	// Format is the output format (json, text).
	Format string `mapstructure:"format" validate:"oneof=json text"`

	// Output is the output destination (stdout, stderr, or file path).
	Output string `mapstructure:"output"`
}

// StorageConfig holds record store settings.
type StorageConfig struct {
	// Type is the backend (memory, badger, sqlite).
	Type string `mapstructure:"type" validate:"oneof=memory badger sqlite"`

	// Badger is the BadgerDB configuration.
	Badger BadgerConfig `mapstructure:"badger"`

	// SQLite is the SQLite configuration.
	SQLite SQLiteConfig `mapstructure:"sqlite"`
}

// BadgerConfig holds BadgerDB-specific settings.
type BadgerConfig struct {
	// Path is the database directory path.
	Path string `mapstructure:"path"`

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool `mapstructure:"sync_writes"`

	// ValueLogFileSize is the maximum size of value log files in bytes.
	ValueLogFileSize int64 `mapstructure:"value_log_file_size" validate:"min=0"`

	// NumVersionsToKeep is the number of versions to keep per key.
	NumVersionsToKeep int `mapstructure:"num_versions_to_keep" validate:"min=0"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `mapstructure:"path"`

	// BusyTimeout is how long a locked database is retried.
	BusyTimeout time.Duration `mapstructure:"busy_timeout"`
}

// CompletionConfig holds completion collaborator settings.
type CompletionConfig struct {
	// Provider is the collaborator backend (openai, anthropic, none).
	Provider string `mapstructure:"provider" validate:"oneof=openai anthropic none"`

	// Model overrides the provider default model.
	Model string `mapstructure:"model"`

	// BaseURL overrides the provider endpoint.
	BaseURL string `mapstructure:"base_url" validate:"omitempty,url"`

	// APIKey is the provider credential. Prefer the environment variable.
	APIKey string `mapstructure:"api_key"`

	// MaxTokens bounds a single reply.
	MaxTokens int `mapstructure:"max_tokens" validate:"min=0"`

	// Timeout bounds a single collaborator call, retries included.
	Timeout time.Duration `mapstructure:"timeout" validate:"gt=0"`

	// MaxRetries is the number of retries for retryable failures.
	MaxRetries int `mapstructure:"max_retries" validate:"min=0,max=10"`

	// InitialDelay is the first retry backoff.
	InitialDelay time.Duration `mapstructure:"initial_delay"`

	// RateLimit is the sustained call rate per second; 0 disables limiting.
	RateLimit float64 `mapstructure:"rate_limit" validate:"min=0"`

	// Burst is the token bucket size.
	Burst int `mapstructure:"burst" validate:"min=0"`

	// InterpretTemperature is used for pattern interpretation.
	InterpretTemperature float64 `mapstructure:"interpret_temperature" validate:"min=0,max=2"`

	// EthicsTemperature is used for framework scoring.
	EthicsTemperature float64 `mapstructure:"ethics_temperature" validate:"min=0,max=2"`
}

// InterpreterConfig holds pattern interpreter settings.
type InterpreterConfig struct {
	// ContextSize is how many recent interpretations are consulted.
	ContextSize int `mapstructure:"context_size" validate:"min=0,max=50"`

	// MaxPatternLength is the largest accepted pattern, in bytes.
	MaxPatternLength int `mapstructure:"max_pattern_length" validate:"min=1"`

	// MinBits is the shortest bit token decoded with full confidence.
	MinBits int `mapstructure:"min_bits" validate:"min=1"`

	// BurstRunLength is the run of ones that marks a burst.
	BurstRunLength int `mapstructure:"burst_run_length" validate:"min=1"`

	// OscillationRate is the transition rate that marks oscillation.
	OscillationRate float64 `mapstructure:"oscillation_rate" validate:"gte=0,lte=1"`

	// MaxActionLength bounds actions submitted for ethics review, in bytes.
	MaxActionLength int `mapstructure:"max_action_length" validate:"min=1"`
}

// AnalysisConfig holds system analysis thresholds.
type AnalysisConfig struct {
	// ActivationThreshold is exceeded by both endpoints of a safe pattern.
	ActivationThreshold float64 `mapstructure:"activation_threshold" validate:"gte=0,lte=1"`

	// StabilityThreshold is the lowest stable stability index.
	StabilityThreshold float64 `mapstructure:"stability_threshold" validate:"gte=0,lte=1"`
}

// EventsConfig holds record event settings.
type EventsConfig struct {
	// Enabled publishes an event after each append.
	Enabled bool `mapstructure:"enabled"`

	// Type is the transport (memory, redis).
	Type string `mapstructure:"type" validate:"oneof=memory redis"`

	// Redis is the Redis transport configuration.
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig holds Redis-specific settings.
type RedisConfig struct {
	// Address is the Redis server address.
	Address string `mapstructure:"address"`

	// Password is the Redis password.
	Password string `mapstructure:"password"`

	// DB is the Redis database number.
	DB int `mapstructure:"db" validate:"min=0"`

	// ChannelPrefix prefixes every Pub/Sub channel.
	ChannelPrefix string `mapstructure:"channel_prefix"`

	// DialTimeout bounds connection setup.
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
}

// MetricsConfig holds observability settings.
type MetricsConfig struct {
	// Enabled enables metrics collection.
	Enabled bool `mapstructure:"enabled"`

	// Path is the metrics endpoint path.
	Path string `mapstructure:"path"`

	// Port is the dedicated metrics server port. 0 serves metrics on the
	// API server only.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// TracingConfig holds distributed tracing settings.
type TracingConfig struct {
	// Enabled enables distributed tracing.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is the span exporter (otlp).
	Exporter string `mapstructure:"exporter" validate:"omitempty,oneof=otlp"`

	// Endpoint is the collector endpoint.
	Endpoint string `mapstructure:"endpoint"`

	// Timeout bounds a single export.
	Timeout time.Duration `mapstructure:"timeout"`

	// Headers are sent with every export.
	Headers map[string]string `mapstructure:"headers"`

	// Sampler is the sampling strategy (parentbased_traceidratio, always_on, always_off).
	Sampler string `mapstructure:"sampler" validate:"omitempty,oneof=parentbased_traceidratio always_on always_off"`

	// SampleRate is the fraction of traces to sample (0.0-1.0).
	SampleRate float64 `mapstructure:"sample_rate" validate:"min=0,max=1"`
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

// String returns a string representation of the configuration (without sensitive data).
func (c *Config) String() string {
	return fmt.Sprintf("Config{App: %s, Server: :%d, Env: %s, Storage: %s, Completion: %s}",
		c.App.Name, c.Server.Port, c.App.Environment, c.Storage.Type, c.Completion.Provider)
}
