package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keeperhq/landkit/pkg/syncengine"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0600))
	return path
}

func TestLoadReturnsDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	require.Equal(t, "INFO", cfg.Logging.Level)
	require.Equal(t, "text", cfg.Logging.Format)
	require.Equal(t, 8080, cfg.Listen.Port)
	require.Equal(t, "/connect", cfg.Listen.Path)
	require.Equal(t, 9090, cfg.API.Port)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	require.False(t, cfg.Metrics.Enabled)
	require.False(t, cfg.Cluster.Enabled)
}

func TestLoadParsesFileWithDurations(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: debug
  format: json
listen:
  port: 7000
metrics:
  enabled: true
replay:
  enabled: true
  dir: /tmp/replays
lands:
  arena:
    tick_interval: 50ms
    state_sync_interval: 100ms
    idle_timeout: 5m
    max_players: 32
    dirty_tracking: adaptive
    allow_guest_mode: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, "DEBUG", cfg.Logging.Level, "level is normalized to uppercase")
	require.Equal(t, "json", cfg.Logging.Format)
	require.Equal(t, 7000, cfg.Listen.Port)
	require.True(t, cfg.Metrics.Enabled)
	require.Equal(t, "/tmp/replays", cfg.Replay.Dir)

	arena, ok := cfg.Lands["arena"]
	require.True(t, ok)
	require.Equal(t, 50*time.Millisecond, arena.TickInterval)
	require.Equal(t, 100*time.Millisecond, arena.StateSyncInterval)
	require.Equal(t, 5*time.Minute, arena.IdleTimeout)
	require.Equal(t, 32, arena.MaxPlayers)
	require.True(t, arena.AllowGuestMode)

	kc := arena.KeeperConfig()
	require.Equal(t, 50*time.Millisecond, kc.TickInterval)
	require.Equal(t, syncengine.DirtyTrackingAdaptive, kc.DirtyTracking)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: info
  format: text
`)
	t.Setenv("LANDKIT_LOGGING_LEVEL", "ERROR")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "ERROR", cfg.Logging.Level)
}

func TestValidateRejectsBadLogLevel(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "VERBOSE"
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "logging.level")
}

func TestValidateRejectsPortClash(t *testing.T) {
	cfg := Default()
	cfg.Listen.Port = 9090
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "must differ")
}

func TestValidateRejectsSyncIntervalWithoutTick(t *testing.T) {
	cfg := Default()
	cfg.Lands = map[string]LandConfig{
		"arena": {StateSyncInterval: 100 * time.Millisecond},
	}
	err := Validate(cfg)
	require.Error(t, err)
	require.Contains(t, err.Error(), "lands.arena")
}

func TestValidateRejectsBadDirtyTracking(t *testing.T) {
	cfg := Default()
	cfg.Lands = map[string]LandConfig{"arena": {DirtyTracking: "sometimes"}}
	require.Error(t, Validate(cfg))
}

func TestSaveRoundTrip(t *testing.T) {
	cfg := Default()
	cfg.Logging.Level = "DEBUG"
	cfg.Listen.Port = 7001
	cfg.Lands = map[string]LandConfig{
		"arena": {TickInterval: 50 * time.Millisecond, MaxPlayers: 8},
	}

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, Save(cfg, path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "DEBUG", loaded.Logging.Level)
	require.Equal(t, 7001, loaded.Listen.Port)
	require.Equal(t, 50*time.Millisecond, loaded.Lands["arena"].TickInterval)
	require.Equal(t, 8, loaded.Lands["arena"].MaxPlayers)
}

func TestWatchDeliversReload(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: info\n")

	reloaded := make(chan *Config, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = Watch(ctx, path, func(cfg *Config) {
			select {
			case reloaded <- cfg:
			default:
			}
		})
	}()

	// Give the watcher a beat to register before rewriting.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\n"), 0600))

	select {
	case cfg := <-reloaded:
		require.Equal(t, "WARN", cfg.Logging.Level)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}

	cancel()
	<-done
}
