package config

import "time"

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Name:        "neuroguard",
			Version:     "dev",
			Environment: "development",
			Debug:       false,
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
			HTTP: HTTPConfig{
				ReadTimeout:     30 * time.Second,
				WriteTimeout:    90 * time.Second,
				IdleTimeout:     120 * time.Second,
				ShutdownTimeout: 15 * time.Second,
				RequestTimeout:  75 * time.Second,
				MaxHeaderBytes:  1 << 20, // 1MB
				MaxBodyBytes:    1 << 20, // 1MB
			},
			CORS: CORSConfig{
				Enabled:        false,
				AllowedOrigins: []string{"*"},
				AllowedMethods: []string{"GET", "POST", "OPTIONS"},
				AllowedHeaders: []string{"Content-Type", "X-Request-ID"},
				MaxAge:         300,
			},
			WebSocket: WebSocketConfig{
				Enabled:        true,
				MaxConnections: 100,
				PingInterval:   30 * time.Second,
				WriteTimeout:   10 * time.Second,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Storage: StorageConfig{
			Type: "badger",
			Badger: BadgerConfig{
				Path:              "./data/records",
				SyncWrites:        true,
				ValueLogFileSize:  256 << 20, // 256MB
				NumVersionsToKeep: 1,
			},
			SQLite: SQLiteConfig{
				Path:        "./data/records.db",
				BusyTimeout: 5 * time.Second,
			},
		},
		Completion: CompletionConfig{
			Provider:             "none",
			MaxTokens:            1024,
			Timeout:              20 * time.Second,
			MaxRetries:           3,
			InitialDelay:         500 * time.Millisecond,
			RateLimit:            5,
			Burst:                5,
			InterpretTemperature: 0.3,
			EthicsTemperature:    0.2,
		},
		Interpreter: InterpreterConfig{
			ContextSize:      3,
			MaxPatternLength: 4096,
			MinBits:          8,
			BurstRunLength:   2,
			OscillationRate:  0.5,
			MaxActionLength:  4096,
		},
		Analysis: AnalysisConfig{
			ActivationThreshold: 0.5,
			StabilityThreshold:  0.5,
		},
		Events: EventsConfig{
			Enabled: true,
			Type:    "memory",
			Redis: RedisConfig{
				Address:       "localhost:6379",
				Password:      "",
				DB:            0,
				ChannelPrefix: "neuroguard:events:",
				DialTimeout:   5 * time.Second,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
			Port:    0,
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "otlp",
			Endpoint:   "localhost:4317",
			Timeout:    5 * time.Second,
			Sampler:    "parentbased_traceidratio",
			SampleRate: 0.1,
		},
	}
}
