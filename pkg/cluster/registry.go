package cluster

import (
	"context"
	"sync"
	"time"

	"github.com/keeperhq/landkit/internal/logger"
)

// Config tunes the registry.
type Config struct {
	// NodeID is this node's cluster-unique identity.
	NodeID string

	// LeaseTTL is the lease lifetime; abandoned leases expire after it.
	// Default: 30s.
	LeaseTTL time.Duration

	// HeartbeatInterval refreshes held leases. Default: LeaseTTL / 3.
	HeartbeatInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.LeaseTTL / 3
	}
}

// Registry enforces the cluster-wide single-session policy. A nil *Registry
// is valid and disables cluster coordination entirely.
type Registry struct {
	cfg   Config
	store LeaseStore
	bus   KickBus

	mu   sync.Mutex
	held map[string]struct{}

	unsubscribe func() error
	stop        chan struct{}
	wg          sync.WaitGroup
}

// New builds a registry over a lease store and a kick bus.
func New(cfg Config, store LeaseStore, bus KickBus) *Registry {
	cfg.applyDefaults()
	return &Registry{
		cfg:   cfg,
		store: store,
		bus:   bus,
		held:  make(map[string]struct{}),
		stop:  make(chan struct{}),
	}
}

// Start subscribes to this node's kick inbox and begins lease heartbeats.
// onKick runs for every kick addressed to this node.
func (r *Registry) Start(onKick func(Kick)) error {
	if r == nil {
		return nil
	}
	unsub, err := r.bus.Subscribe(r.cfg.NodeID, onKick)
	if err != nil {
		return err
	}
	r.unsubscribe = unsub

	r.wg.Add(1)
	go r.heartbeat()
	return nil
}

// AcquireSession claims the player's lease for this node. If another node
// held it, that node is sent a kick so it closes the replaced session.
func (r *Registry) AcquireSession(ctx context.Context, playerID string) error {
	if r == nil {
		return nil
	}
	prev, err := r.store.Claim(ctx, playerID, r.cfg.NodeID, r.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.held[playerID] = struct{}{}
	r.mu.Unlock()

	if prev != "" && prev != r.cfg.NodeID {
		logger.Info("kicking duplicate session on remote node",
			logger.KeyPlayer, playerID, "node", prev)
		if err := r.bus.Publish(ctx, prev, Kick{
			PlayerID: playerID,
			FromNode: r.cfg.NodeID,
			Reason:   "replaced-by-new-session",
		}); err != nil {
			logger.Warn("kick publish failed",
				logger.KeyPlayer, playerID, logger.KeyError, err.Error())
		}
	}
	return nil
}

// ReleaseSession drops the player's lease if this node still holds it.
func (r *Registry) ReleaseSession(ctx context.Context, playerID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.held, playerID)
	r.mu.Unlock()
	if err := r.store.Release(ctx, playerID, r.cfg.NodeID); err != nil {
		logger.Warn("lease release failed",
			logger.KeyPlayer, playerID, logger.KeyError, err.Error())
	}
}

// Dropped marks a lease as no longer local without touching the store, used
// when this node's session was replaced by a kick: the new node already owns
// the lease.
func (r *Registry) Dropped(playerID string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	delete(r.held, playerID)
	r.mu.Unlock()
}

func (r *Registry) heartbeat() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			r.mu.Lock()
			players := make([]string, 0, len(r.held))
			for p := range r.held {
				players = append(players, p)
			}
			r.mu.Unlock()
			for _, p := range players {
				if err := r.store.Refresh(context.Background(), p, r.cfg.NodeID, r.cfg.LeaseTTL); err != nil {
					logger.Warn("lease refresh failed",
						logger.KeyPlayer, p, logger.KeyError, err.Error())
				}
			}
		case <-r.stop:
			return
		}
	}
}

// Close stops heartbeats and the inbox subscription.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	close(r.stop)
	r.wg.Wait()
	if r.unsubscribe != nil {
		_ = r.unsubscribe()
	}
}
