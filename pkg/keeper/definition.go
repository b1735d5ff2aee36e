package keeper

import (
	"context"
	"time"

	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/syncengine"
)

// ActionHandler processes one typed client action. The returned value is
// delivered to the originator as an actionResponse frame; an error produces
// a single error frame instead. Mutations made before an error stay
// committed, so handlers should validate first and mutate on the success
// path only.
type ActionHandler func(root *state.Container, payload state.Value, ctx *Context) (state.Value, error)

// ClientEventHandler processes one fire-and-forget client event. An error
// produces at most one error frame to the originator.
type ClientEventHandler func(root *state.Container, payload state.Value, ctx *Context) error

// TickHandler runs once per tick after the command drain.
type TickHandler func(root *state.Container, ctx *Context) error

// JoinHandler runs on the keeper loop when a player joins, after the slot is
// assigned. An error fails the join and releases the slot.
type JoinHandler func(root *state.Container, ctx *Context) error

// LeaveHandler runs on the keeper loop when a player leaves.
type LeaveHandler func(root *state.Container, ctx *Context)

// Resolver is an async pre-loader declared for an action type. All resolvers
// of an action run in parallel before its handler; the handler sees their
// outputs in Context.Resolved keyed by resolver name. Resolver outputs never
// enter the state tree.
type Resolver struct {
	Name string
	Load func(ctx context.Context, payload state.Value, kctx *Context) (any, error)
}

// Definition is a land type's template: how to build its initial state and
// which handlers process its traffic. Definitions are shared between keeper
// instances and must not carry per-instance mutable state.
type Definition struct {
	// Type names the land type ("counter", "arena", ...).
	Type string

	// InitialState declares fields and policies and seeds the state tree.
	// It runs on the keeper loop inside a recording scope, so the seeded
	// values form the first patch stream.
	InitialState func(root *state.Container) error

	// Actions maps action type identifiers to handlers.
	Actions map[string]ActionHandler

	// ClientEvents maps client event types to handlers.
	ClientEvents map[string]ClientEventHandler

	// Resolvers maps action types to their pre-loaders.
	Resolvers map[string][]Resolver

	// OnTick is optional.
	OnTick TickHandler

	// OnJoin and OnLeave are optional lifecycle handlers.
	OnJoin  JoinHandler
	OnLeave LeaveHandler

	// Extra services handed to handlers through Context.Services.
	Extra map[string]any
}

// Config tunes one keeper instance.
type Config struct {
	// TickInterval is the simulation cadence. Zero means event-driven: no
	// tick loop runs and sync is triggered by handlers calling SyncNow.
	TickInterval time.Duration

	// StateSyncInterval decouples sync cadence from tick cadence. Zero
	// syncs on every tick.
	StateSyncInterval time.Duration

	// IdleTimeout terminates the keeper after this long with zero joined
	// players. Zero disables idle teardown.
	IdleTimeout time.Duration

	// MaxPlayers caps concurrent joined players. Zero means unbounded.
	MaxPlayers int

	// DirtyTracking selects the sync engine's tracking mode.
	DirtyTracking syncengine.DirtyTracking

	// AdaptiveOffAfter and AdaptiveOnAfter tune the adaptive switch.
	AdaptiveOffAfter int
	AdaptiveOnAfter  int

	// CommandBuffer is the pending-command channel capacity.
	CommandBuffer int

	// ResolverTimeout bounds each action's resolver phase.
	ResolverTimeout time.Duration

	// Seed seeds the injected Rand service. Recorded in the replay header.
	Seed int64
}

// ApplyDefaults fills zero values with production defaults.
func (c *Config) ApplyDefaults() {
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = 256
	}
	if c.ResolverTimeout <= 0 {
		c.ResolverTimeout = 5 * time.Second
	}
	if c.Seed == 0 {
		c.Seed = 1
	}
	if c.DirtyTracking == "" {
		c.DirtyTracking = syncengine.DirtyTrackingEnabled
	}
}
