// Package config loads and validates Transit's runtime configuration from a
// YAML file, environment variables, and built-in defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/marmos91/transit/internal/bytesize"
)

// envPrefix is prepended to every internal configuration key when read from
// the environment, e.g. TRANSIT_SERVER_PORT. The three externally-named
// variables in spec section 6 (REDIS_URL, SENTRY_DSN, DEPLOYMENT_ID) are
// bound separately, without the prefix, since they are conventions owned by
// the systems they configure rather than Transit-internal knobs.
// A prefixed variable overrides only a key that the loaded config file
// sets; with no config file, or a file that omits the key, it is ignored.
const envPrefix = "TRANSIT"

// Config is the root configuration object for the Transit relay.
type Config struct {
	Logging         LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Telemetry       TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`
	Server          ServerConfig    `mapstructure:"server" yaml:"server"`
	Redis           RedisConfig     `mapstructure:"redis" yaml:"redis"`
	Transfer        TransferConfig  `mapstructure:"transfer" yaml:"transfer"`
	ShutdownTimeout time.Duration   `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// LoggingConfig configures the structured logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output"`
}

// TelemetryConfig configures OpenTelemetry tracing and Sentry error capture.
type TelemetryConfig struct {
	Enabled      bool    `mapstructure:"enabled" yaml:"enabled"`
	Endpoint     string  `mapstructure:"endpoint" yaml:"endpoint"`
	Insecure     bool    `mapstructure:"insecure" yaml:"insecure"`
	SampleRate   float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
	SentryDSN    string  `mapstructure:"-" yaml:"-"`
	DeploymentID string  `mapstructure:"-" yaml:"-"`
}

// ServerConfig configures the HTTP/WebSocket listener.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
	// ReadHeaderTimeout bounds only the request line/header read, not the
	// body: upload/download handlers stream bodies for as long as a
	// transfer takes, well past any sane header-read deadline.
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout"`
}

// RedisConfig configures the shared backend connection.
type RedisConfig struct {
	URL         string        `mapstructure:"-" yaml:"-"`
	DialTimeout time.Duration `mapstructure:"dial_timeout" yaml:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size" yaml:"pool_size"`
}

// TransferConfig configures the transfer coordinator's knobs.
type TransferConfig struct {
	// QueueDepth is the maximum number of chunks buffered per transfer (spec section 3/9).
	QueueDepth int `mapstructure:"queue_depth" yaml:"queue_depth"`
	// ChunkSize is the size of each chunk read from the upload stream.
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size"`
	// QueueOpTimeout bounds put_chunk/take_chunk (spec section 4.1, default 20s).
	QueueOpTimeout time.Duration `mapstructure:"queue_op_timeout" yaml:"queue_op_timeout"`
	// EventTTL bounds set_event/wait_for_event and most Store keys (spec section 4.1, default 300s).
	EventTTL time.Duration `mapstructure:"event_ttl" yaml:"event_ttl"`
	// CleanupLockTTL bounds the cleanup challenge key (spec section 3, default 60s).
	CleanupLockTTL time.Duration `mapstructure:"cleanup_lock_ttl" yaml:"cleanup_lock_ttl"`
	// FinalizeTimeout bounds Transfer.finalize_download's cleanup call (spec section 4.2, default 30s).
	FinalizeTimeout time.Duration `mapstructure:"finalize_timeout" yaml:"finalize_timeout"`
	// MaxHTTPUploadSize is the single constant spec section 9 calls for (default 1 GiB).
	MaxHTTPUploadSize bytesize.ByteSize `mapstructure:"max_http_upload_size" yaml:"max_http_upload_size"`
}

// Load reads configuration from configPath (if non-empty), overlays
// environment variables, and applies defaults. A missing config file is not
// an error — Transit runs off defaults and the environment alone.
func Load(configPath string) (*Config, error) {
	v := setupViper(configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	bindExternalEnv(&cfg)
	ApplyDefaults(&cfg)

	return &cfg, nil
}

// MustLoad loads configuration and returns a friendly, actionable error if
// it fails, pointing the operator at `transit init`.
func MustLoad(configPath string) (*Config, error) {
	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("%w\n\nRun 'transit init' to generate a starter configuration file", err)
	}
	return cfg, nil
}

func setupViper(configPath string) *viper.Viper {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(getConfigDir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read configuration file: %w", err)
	}
	return nil
}

// bindExternalEnv binds the three environment variables spec.md names
// literally, outside Transit's own TRANSIT_ prefix scheme.
func bindExternalEnv(cfg *Config) {
	cfg.Redis.URL = firstNonEmpty(os.Getenv("REDIS_URL"), cfg.Redis.URL)
	cfg.Telemetry.SentryDSN = os.Getenv("SENTRY_DSN")
	cfg.Telemetry.DeploymentID = os.Getenv("DEPLOYMENT_ID")
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// getConfigDir returns the preferred directory for a config.yaml, honoring
// XDG_CONFIG_HOME and falling back to ~/.config/transit.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "transit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "transit")
}

// GetDefaultConfigPath returns the default config.yaml location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// SaveConfig writes cfg as YAML to path with 0600 permissions.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write configuration file: %w", err)
	}
	return nil
}

// InitConfig writes a default configuration file to the default location.
func InitConfig(force bool) (string, error) {
	return initConfigAt(GetDefaultConfigPath(), force)
}

// InitConfigToPath writes a default configuration file to path.
func InitConfigToPath(path string, force bool) error {
	_, err := initConfigAt(path, force)
	return err
}

func initConfigAt(path string, force bool) (string, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}
	cfg := GetDefaultConfig()
	if err := SaveConfig(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}
