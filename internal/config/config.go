// Package config loads the server's TOML configuration file plus KV_
// environment overrides and applies defaults for everything left unset.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the key-value server.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Frame     FrameConfig     `mapstructure:"frame"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// ServerConfig selects the transport and its listen address.
type ServerConfig struct {
	Protocol string `mapstructure:"protocol"`
	Addr     string `mapstructure:"addr"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
	// MaxSubstreams bounds concurrently served substreams; 0 derives the
	// bound from the container memory limit.
	MaxSubstreams int `mapstructure:"max_substreams"`
	// AcceptRate limits new substreams per second; 0 disables the limiter.
	AcceptRate float64 `mapstructure:"accept_rate"`
}

// StorageConfig selects the backend and, for the disk backends, where it
// keeps its files.
type StorageConfig struct {
	Backend string `mapstructure:"backend"`
	DataDir string `mapstructure:"data_dir"`
}

// BrokerConfig controls pub/sub delivery queues.
type BrokerConfig struct {
	QueueCapacity int `mapstructure:"queue_capacity"`
}

// FrameConfig controls wire-frame compression.
type FrameConfig struct {
	CompressionThreshold int    `mapstructure:"compression_threshold"`
	Algorithm            string `mapstructure:"algorithm"`
}

// LoggingConfig controls zap logger level and optional file rotation.
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
	Path        string `mapstructure:"path"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
}

// TelemetryConfig toggles the tracing exporter and log-file sink.
type TelemetryConfig struct {
	ServiceName   string `mapstructure:"service_name"`
	EnableJaeger  bool   `mapstructure:"enable_jaeger"`
	EnableLogFile bool   `mapstructure:"enable_log_file"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	ListenAddr string `mapstructure:"listen_addr"`
	Endpoint   string `mapstructure:"endpoint"`
}

// Load reads configuration from the named TOML file (or the default search
// paths when path is empty) and from KV_-prefixed environment variables.
func Load(path string) (Config, error) {
	v := viper.New()

	v.SetDefault("server.protocol", "tls")
	v.SetDefault("server.addr", "0.0.0.0:4000")
	v.SetDefault("server.cert_file", "")
	v.SetDefault("server.key_file", "")
	v.SetDefault("server.max_substreams", 0)
	v.SetDefault("server.accept_rate", 0.0)

	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.data_dir", "./data")

	v.SetDefault("broker.queue_capacity", 128)

	v.SetDefault("frame.compression_threshold", 1436)
	v.SetDefault("frame.algorithm", "gzip")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)

	v.SetDefault("telemetry.service_name", "kvserver")
	v.SetDefault("telemetry.enable_jaeger", false)
	v.SetDefault("telemetry.enable_log_file", false)
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.listen_addr", ":9100")
	v.SetDefault("metrics.endpoint", "/metrics")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config read: %w", err)
		}
	} else {
		v.SetConfigName("kv")
		v.SetConfigType("toml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		// Config file is optional when running on pure defaults.
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix("KV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config unmarshal: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}

	if cfg.Broker.QueueCapacity <= 0 {
		cfg.Broker.QueueCapacity = 128
	}
	if cfg.Frame.CompressionThreshold <= 0 {
		cfg.Frame.CompressionThreshold = 1436
	}

	return cfg, nil
}

func (c Config) validate() error {
	switch c.Server.Protocol {
	case "tls", "noise", "quic":
	default:
		return fmt.Errorf("config: unknown protocol %q", c.Server.Protocol)
	}
	switch c.Storage.Backend {
	case "memory", "bbolt", "badger":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Frame.Algorithm {
	case "gzip", "lz4", "zstd":
	default:
		return fmt.Errorf("config: unknown compression algorithm %q", c.Frame.Algorithm)
	}
	return nil
}
