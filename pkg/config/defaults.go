package config

import (
	"time"

	"github.com/marmos91/transit/internal/bytesize"
)

// ApplyDefaults fills in zero-valued fields with sensible defaults after
// loading configuration from file and environment. Zero values are replaced;
// explicitly-set values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyTelemetryDefaults(&cfg.Telemetry)
	applyServerDefaults(&cfg.Server)
	applyRedisDefaults(&cfg.Redis)
	applyTransferDefaults(&cfg.Transfer)

	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyTelemetryDefaults(cfg *TelemetryConfig) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 1.0
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadHeaderTimeout == 0 {
		cfg.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		// Streaming uploads/downloads run well past the usual write deadline,
		// so zero (no write deadline) stays the default.
		cfg.WriteTimeout = 0
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 120 * time.Second
	}
}

func applyRedisDefaults(cfg *RedisConfig) {
	if cfg.URL == "" {
		cfg.URL = "redis://localhost:6379"
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = 32
	}
}

func applyTransferDefaults(cfg *TransferConfig) {
	if cfg.QueueDepth == 0 {
		cfg.QueueDepth = 16
	}
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = 4 << 10
	}
	if cfg.QueueOpTimeout == 0 {
		cfg.QueueOpTimeout = 20 * time.Second
	}
	if cfg.EventTTL == 0 {
		cfg.EventTTL = 300 * time.Second
	}
	if cfg.CleanupLockTTL == 0 {
		cfg.CleanupLockTTL = 60 * time.Second
	}
	if cfg.FinalizeTimeout == 0 {
		cfg.FinalizeTimeout = 30 * time.Second
	}
	if cfg.MaxHTTPUploadSize == 0 {
		cfg.MaxHTTPUploadSize = bytesize.GiB
	}
}

// GetDefaultConfig returns a Config with all defaults applied, used for
// generating a starter config file and in tests.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
