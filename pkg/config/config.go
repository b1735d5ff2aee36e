// Package config loads and validates the node configuration from YAML,
// environment variables, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/keeperhq/landkit/internal/bytesize"
	"github.com/keeperhq/landkit/pkg/api"
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/syncengine"
)

// Config is the static node configuration.
//
// Land types and their handlers are registered in code; this file tunes the
// runtime around them. Sources in order of precedence:
//  1. Environment variables (LANDKIT_*)
//  2. Configuration file (YAML)
//  3. Default values
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Telemetry controls OpenTelemetry distributed tracing.
	Telemetry TelemetryConfig `mapstructure:"telemetry" yaml:"telemetry"`

	// Listen configures the game WebSocket endpoint.
	Listen ListenConfig `mapstructure:"listen" yaml:"listen"`

	// API configures the admin REST server.
	API api.Config `mapstructure:"api" yaml:"api"`

	// Metrics enables the Prometheus registry, served on the admin API
	// under /metrics.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Cluster configures the multi-node session registry.
	Cluster ClusterConfig `mapstructure:"cluster" yaml:"cluster"`

	// Replay configures tick recording.
	Replay ReplayConfig `mapstructure:"replay" yaml:"replay"`

	// Lands tunes registered land types by name. Types registered in code
	// but absent here run with their compiled-in defaults.
	Lands map[string]LandConfig `mapstructure:"lands" validate:"dive" yaml:"lands,omitempty"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR.
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is text or json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// TelemetryConfig controls OpenTelemetry trace export. Off by default.
type TelemetryConfig struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled"`
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Insecure disables TLS toward the collector. Default: true, for
	// local development.
	Insecure bool `mapstructure:"insecure" yaml:"insecure"`

	// SampleRate is the trace sampling ratio, 0.0 to 1.0.
	SampleRate float64 `mapstructure:"sample_rate" validate:"omitempty,gte=0,lte=1" yaml:"sample_rate"`
}

// ListenConfig configures the player-facing WebSocket listener.
type ListenConfig struct {
	// Port is the listen port. Default: 8080.
	Port int `mapstructure:"port" validate:"min=1,max=65535" yaml:"port"`

	// Path is the WebSocket upgrade path. Default: /connect.
	Path string `mapstructure:"path" validate:"required,startswith=/" yaml:"path"`

	// JoinTimeout closes connections that never complete the join
	// handshake. Default: 10s.
	JoinTimeout time.Duration `mapstructure:"join_timeout" yaml:"join_timeout"`

	// SendQueue is the per-session outbound frame buffer. Default: 64.
	SendQueue int `mapstructure:"send_queue" yaml:"send_queue"`

	// MaxFrameBytes caps inbound frame size. Supports human-readable
	// values like "64Ki" or "1MB". Default: 64Ki.
	MaxFrameBytes bytesize.ByteSize `mapstructure:"max_frame_bytes" yaml:"max_frame_bytes"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false no collectors are registered and the nil-safe
// recorder helpers are no-ops.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ClusterConfig configures the cross-node session registry. When disabled
// the node runs standalone and duplicate joins are only detected locally.
type ClusterConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// NodeID is this node's cluster-unique identity. Default: hostname.
	NodeID string `mapstructure:"node_id" yaml:"node_id"`

	// NATSURL is the NATS server for the kick bus.
	NATSURL string `mapstructure:"nats_url" validate:"required_if=Enabled true" yaml:"nats_url"`

	// LeaseTTL is the session lease lifetime. Default: 30s.
	LeaseTTL time.Duration `mapstructure:"lease_ttl" yaml:"lease_ttl"`

	// HeartbeatInterval refreshes held leases. Default: LeaseTTL / 3.
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" yaml:"heartbeat_interval"`
}

// ReplayConfig configures deterministic tick recording.
type ReplayConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Dir is where finished recordings are written.
	Dir string `mapstructure:"dir" validate:"required_if=Enabled true" yaml:"dir"`
}

// LandConfig tunes one land type. Zero fields fall back to keeper defaults.
type LandConfig struct {
	TickInterval      time.Duration `mapstructure:"tick_interval" yaml:"tick_interval,omitempty"`
	StateSyncInterval time.Duration `mapstructure:"state_sync_interval" yaml:"state_sync_interval,omitempty"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout,omitempty"`
	MaxPlayers        int           `mapstructure:"max_players" validate:"min=0" yaml:"max_players,omitempty"`
	CommandBuffer     int           `mapstructure:"command_buffer" yaml:"command_buffer,omitempty"`
	ResolverTimeout   time.Duration `mapstructure:"resolver_timeout" yaml:"resolver_timeout,omitempty"`

	// DirtyTracking is enabled, disabled, or adaptive.
	DirtyTracking    string `mapstructure:"dirty_tracking" validate:"omitempty,oneof=enabled disabled adaptive" yaml:"dirty_tracking,omitempty"`
	AdaptiveOffAfter int    `mapstructure:"adaptive_off_after" yaml:"adaptive_off_after,omitempty"`
	AdaptiveOnAfter  int    `mapstructure:"adaptive_on_after" yaml:"adaptive_on_after,omitempty"`

	// Seed seeds the injected Rand service. Zero picks the keeper default.
	Seed int64 `mapstructure:"seed" yaml:"seed,omitempty"`

	AllowGuestMode        bool `mapstructure:"allow_guest_mode" yaml:"allow_guest_mode,omitempty"`
	AllowAutoCreateOnJoin bool `mapstructure:"allow_auto_create_on_join" yaml:"allow_auto_create_on_join,omitempty"`
}

// KeeperConfig converts the per-type tuning into a keeper configuration.
func (lc LandConfig) KeeperConfig() keeper.Config {
	return keeper.Config{
		TickInterval:      lc.TickInterval,
		StateSyncInterval: lc.StateSyncInterval,
		IdleTimeout:       lc.IdleTimeout,
		MaxPlayers:        lc.MaxPlayers,
		CommandBuffer:     lc.CommandBuffer,
		ResolverTimeout:   lc.ResolverTimeout,
		DirtyTracking:     syncengine.DirtyTracking(lc.DirtyTracking),
		AdaptiveOffAfter:  lc.AdaptiveOffAfter,
		AdaptiveOnAfter:   lc.AdaptiveOnAfter,
		Seed:              lc.Seed,
	}
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location; a missing file there is
// not an error and yields the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}
	if !found {
		cfg := Default()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration as YAML with owner-only permissions. Config
// files can carry the admin API key and JWT secret.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper wires the LANDKIT_* environment prefix and config file search.
// Example: LANDKIT_LOGGING_LEVEL=DEBUG overrides logging.level.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("LANDKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks combines the custom type hooks for Unmarshal.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

// byteSizeDecodeHook lets config files use human-readable sizes like
// "64Ki", "1MB", or plain byte counts.
func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

// durationDecodeHook lets config files use human-readable durations like
// "50ms", "30s", "5m".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns $XDG_CONFIG_HOME/landkit, falling back to
// ~/.config/landkit, then the current directory.
func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "landkit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "landkit")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}
