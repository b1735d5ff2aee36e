package commands

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/keeperhq/landkit/internal/lands"
	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/internal/telemetry"
	"github.com/keeperhq/landkit/pkg/api"
	"github.com/keeperhq/landkit/pkg/cluster"
	"github.com/keeperhq/landkit/pkg/config"
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/metrics"
	"github.com/keeperhq/landkit/pkg/realm"
	"github.com/keeperhq/landkit/pkg/replay"
	"github.com/keeperhq/landkit/pkg/transport"

	// Import prometheus metrics to register the implementation constructors.
	_ "github.com/keeperhq/landkit/pkg/metrics/prometheus"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the landkit node",
	Long: `Start the landkit node with the specified configuration.

The node serves the player WebSocket endpoint and the admin REST API, and
registers the built-in land types. Use --config to specify a custom
configuration file, or it will use the default location at
$XDG_CONFIG_HOME/landkit/config.yaml.

Examples:
  # Start with default config location
  landkit start

  # Start with custom config file
  landkit start --config /etc/landkit/config.yaml

  # Start with environment variable overrides
  LANDKIT_LOGGING_LEVEL=DEBUG landkit start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "landkit",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(context.Background()); err != nil {
			logger.Error("telemetry shutdown error", logger.KeyError, err)
		}
	}()

	logger.Info("landkit starting", "version", Version,
		"level", cfg.Logging.Level, "source", configSource(GetConfigFile()))

	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("metrics enabled")
	}

	// Replay writers are kept addressable so the admin API can expose
	// in-progress recordings.
	var (
		writerMu sync.Mutex
		writers  = make(map[string]*replay.Writer)
	)

	// The sink factory closes over the adapter, which needs the realm
	// first; the realm never builds keepers before both exist.
	var adapter *transport.Adapter
	realmOpts := realm.Options{
		Metrics: metrics.NewLandMetrics(),
		NewSink: func(landID string) keeper.Sink {
			return adapter.NewSink(landID)
		},
	}
	if cfg.Replay.Enabled {
		realmOpts.NewReplay = func(landID, landType string, seed int64) keeper.ReplaySink {
			w := replay.NewWriter(cfg.Replay.Dir, landID, landType, seed)
			writerMu.Lock()
			writers[landID] = w
			writerMu.Unlock()
			return w
		}
		logger.Info("replay recording enabled", "dir", cfg.Replay.Dir)
	}
	r := realm.New(realmOpts)

	for name, lt := range lands.Builtin() {
		if lc, ok := cfg.Lands[name]; ok {
			lt = overlayLandConfig(lt, lc)
		}
		if err := r.Register(name, lt); err != nil {
			return fmt.Errorf("failed to register land type %q: %w", name, err)
		}
		logger.Info("land type registered", logger.KeyType, name,
			"tickInterval", lt.Config.TickInterval, "maxPlayers", lt.Config.MaxPlayers)
	}

	// Cluster session registry. A nil registry disables coordination.
	var registry *cluster.Registry
	if cfg.Cluster.Enabled {
		nc, err := nats.Connect(cfg.Cluster.NATSURL, nats.Name("landkit-"+cfg.Cluster.NodeID))
		if err != nil {
			return fmt.Errorf("failed to connect to NATS: %w", err)
		}
		defer nc.Close()
		registry = cluster.New(cluster.Config{
			NodeID:            cfg.Cluster.NodeID,
			LeaseTTL:          cfg.Cluster.LeaseTTL,
			HeartbeatInterval: cfg.Cluster.HeartbeatInterval,
		}, cluster.NewMemoryLeaseStore(), cluster.NewNATSKickBus(nc))
		logger.Info("cluster registry enabled", "node", cfg.Cluster.NodeID, "nats", cfg.Cluster.NATSURL)
	}

	adapter = transport.New(r, registry, transport.Config{
		JoinTimeout:    cfg.Listen.JoinTimeout,
		SendQueue:      cfg.Listen.SendQueue,
		MaxFrameBytes:  cfg.Listen.MaxFrameBytes.Int64(),
		SessionMetrics: metrics.NewSessionMetrics(),
		LandMetrics:    metrics.NewLandMetrics(),
	})
	defer adapter.Close()

	if err := registry.Start(adapter.HandleKick); err != nil {
		return fmt.Errorf("failed to start cluster registry: %w", err)
	}
	defer registry.Close()

	apiServer, err := api.NewServer(cfg.API, api.Options{
		Realm:    r,
		Sessions: adapter,
		Version:  Version,
		ReplayRecord: func(landID string) (any, bool) {
			writerMu.Lock()
			w, ok := writers[landID]
			writerMu.Unlock()
			if !ok {
				return nil, false
			}
			return w.Snapshot(), true
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create admin API server: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.Listen.Path, adapter.WebSocketHandler())
	wsServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Listen.Port),
		Handler:     mux,
		ReadTimeout: 0, // WebSocket connections are long-lived
		IdleTimeout: 0,
	}

	serverDone := make(chan error, 2)
	go func() {
		logger.Info("game endpoint listening", "port", cfg.Listen.Port, logger.KeyPath, cfg.Listen.Path)
		if err := wsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverDone <- fmt.Errorf("game endpoint failed: %w", err)
		}
	}()
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			serverDone <- err
		}
	}()

	// Hot-reload the log level on config file changes.
	go func() {
		if err := config.Watch(ctx, GetConfigFile(), func(next *config.Config) {
			logger.SetLevel(next.Logging.Level)
		}); err != nil {
			logger.Warn("config watcher stopped", logger.KeyError, err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("node is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received, initiating graceful shutdown")
	case err := <-serverDone:
		signal.Stop(sigChan)
		logger.Error("server error, shutting down", logger.KeyError, err)
		shutdown(cfg, r, adapter, apiServer, wsServer)
		return err
	}

	shutdown(cfg, r, adapter, apiServer, wsServer)
	cancel()
	logger.Info("node stopped gracefully")
	return nil
}

// shutdown drains in order: stop accepting connections, drain every land
// (flushing replay recordings), close surviving sessions, stop the API.
func shutdown(cfg *config.Config, r *realm.Realm, adapter *transport.Adapter,
	apiServer *api.Server, wsServer *http.Server) {

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("game endpoint shutdown error", logger.KeyError, err)
	}
	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Warn("realm shutdown error", logger.KeyError, err)
	}
	adapter.Close()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("admin API shutdown error", logger.KeyError, err)
	}
}

// overlayLandConfig applies the config file's tuning for one land type on
// top of its compiled-in defaults.
func overlayLandConfig(lt realm.LandType, lc config.LandConfig) realm.LandType {
	kc := lc.KeeperConfig()
	if kc.TickInterval == 0 {
		kc.TickInterval = lt.Config.TickInterval
	}
	if kc.StateSyncInterval == 0 {
		kc.StateSyncInterval = lt.Config.StateSyncInterval
	}
	if kc.IdleTimeout == 0 {
		kc.IdleTimeout = lt.Config.IdleTimeout
	}
	if kc.MaxPlayers == 0 {
		kc.MaxPlayers = lt.Config.MaxPlayers
	}
	if kc.CommandBuffer == 0 {
		kc.CommandBuffer = lt.Config.CommandBuffer
	}
	if kc.ResolverTimeout == 0 {
		kc.ResolverTimeout = lt.Config.ResolverTimeout
	}
	if kc.DirtyTracking == "" {
		kc.DirtyTracking = lt.Config.DirtyTracking
	}
	if kc.Seed == 0 {
		kc.Seed = lt.Config.Seed
	}
	lt.Config = kc
	lt.AllowGuestMode = lc.AllowGuestMode
	lt.AllowAutoCreateOnJoin = lc.AllowAutoCreateOnJoin
	return lt
}

// configSource describes where the configuration came from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if _, err := os.Stat(config.GetDefaultConfigPath()); err == nil {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
