package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures the relay server runtime parameters.
type Config struct {
	HTTPAddress         string        `mapstructure:"http_address"`
	LogLevel            string        `mapstructure:"log_level"`
	LogFormat           string        `mapstructure:"log_format"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
	Admin               AdminConfig   `mapstructure:"admin"`
	Storage             StorageConfig `mapstructure:"storage"`
	Relay               RelayConfig   `mapstructure:"relay"`
}

// AdminConfig describes the operational HTTP endpoint (metrics and
// health probes). An empty address disables it.
type AdminConfig struct {
	Address           string        `mapstructure:"address"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
}

// StorageConfig selects the account-store driver.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RelayConfig tunes the event-stream transport.
type RelayConfig struct {
	// HeartbeatInterval spaces comment frames on idle streams so
	// intermediaries do not time the connection out. Zero disables
	// heartbeats.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

const (
	defaultHTTPAddress         = "0.0.0.0:8000"
	defaultLogLevel            = "info"
	defaultLogFormat           = "json"
	defaultShutdownGracePeriod = 10 * time.Second
	defaultAdminReadHeader     = 5 * time.Second
	defaultStorageDriver       = "memory"
	defaultHeartbeatInterval   = 30 * time.Second
)

// Recognized storage.driver values.
const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

// Load reads configuration from the provided file path (if any) and the
// environment. Environment variables are prefixed with GRIMWIRE_ and can
// override file values.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("GRIMWIRE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("http_address", defaultHTTPAddress)
	v.SetDefault("log_level", defaultLogLevel)
	v.SetDefault("log_format", defaultLogFormat)
	v.SetDefault("shutdown_grace_period", defaultShutdownGracePeriod.String())
	v.SetDefault("admin.address", "")
	v.SetDefault("admin.read_header_timeout", defaultAdminReadHeader.String())
	v.SetDefault("storage.driver", defaultStorageDriver)
	v.SetDefault("storage.dsn", "")
	v.SetDefault("relay.heartbeat_interval", defaultHeartbeatInterval.String())

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Viper leaves durations as strings; normalize them here.
	for _, d := range []struct {
		key  string
		dst  *time.Duration
		dflt time.Duration
	}{
		{"shutdown_grace_period", &cfg.ShutdownGracePeriod, defaultShutdownGracePeriod},
		{"admin.read_header_timeout", &cfg.Admin.ReadHeaderTimeout, defaultAdminReadHeader},
		{"relay.heartbeat_interval", &cfg.Relay.HeartbeatInterval, defaultHeartbeatInterval},
	} {
		if v.IsSet(d.key) {
			dur, err := time.ParseDuration(v.GetString(d.key))
			if err != nil {
				return Config{}, fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = dur
		} else {
			*d.dst = d.dflt
		}
	}

	if cfg.HTTPAddress == "" {
		cfg.HTTPAddress = defaultHTTPAddress
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = defaultLogFormat
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = defaultStorageDriver
	}

	switch cfg.Storage.Driver {
	case StorageDriverMemory:
	case StorageDriverPostgres:
		if cfg.Storage.DSN == "" {
			return Config{}, fmt.Errorf("storage.dsn is required for the %s driver", StorageDriverPostgres)
		}
	default:
		return Config{}, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	return cfg, nil
}
