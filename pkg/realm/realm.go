// Package realm is the process-wide registry of lands: it maps LandIDs to
// running keepers, holds the per-type factories and configuration, routes
// joins (creating keepers on demand) and drives land teardown.
//
// The registry is read-heavy: routing takes the read lock, registration and
// eviction the write lock.
package realm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/uuid"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/metrics"
)

var (
	// ErrUnknownLandType rejects routing to a type nobody registered.
	ErrUnknownLandType = errors.New("unknown land type")

	// ErrLandNotFound rejects routing to a missing instance when
	// auto-create is disallowed for the type.
	ErrLandNotFound = errors.New("land not found")

	// ErrTypeInUse rejects re-registering a land type with different
	// factories while a keeper of that type is alive.
	ErrTypeInUse = errors.New("land type has live keepers")
)

// LandType bundles everything the realm needs to build keepers of one type.
type LandType struct {
	// Definition returns the type's handler and state template. Called
	// once per keeper instance.
	Definition func() *keeper.Definition

	// Config is the keeper configuration for instances of this type.
	Config keeper.Config

	// AllowAutoCreateOnJoin permits Route to build a missing instance.
	AllowAutoCreateOnJoin bool

	// AllowGuestMode permits joins without an authenticated player. The
	// transport adapter consults this before minting a guest session.
	AllowGuestMode bool
}

// Options carries the realm's collaborators, injected into every keeper it
// builds.
type Options struct {
	// NewSink builds the outbound sink for a new keeper. Typically the
	// transport adapter's per-keeper fan-out. Nil keepers run dark.
	NewSink func(landID string) keeper.Sink

	// NewReplay builds the replay sink for a new keeper. Nil disables
	// recording.
	NewReplay func(landID, landType string, seed int64) keeper.ReplaySink

	Metrics metrics.LandMetrics
}

type registeredType struct {
	lt          LandType
	fingerprint uintptr
}

// Realm is the registry.
type Realm struct {
	opts Options

	mu      sync.RWMutex
	types   map[string]registeredType
	keepers map[string]*keeper.Keeper
}

// New creates an empty realm.
func New(opts Options) *Realm {
	return &Realm{
		opts:    opts,
		types:   make(map[string]registeredType),
		keepers: make(map[string]*keeper.Keeper),
	}
}

// Register declares a land type. Registering the same type with the same
// definition factory again is a no-op. Re-registering with a different
// factory succeeds only while no keeper of the type is alive.
func (r *Realm) Register(landType string, lt LandType) error {
	if landType == "" || lt.Definition == nil {
		return fmt.Errorf("realm: land type name and definition factory are required")
	}
	fp := reflect.ValueOf(lt.Definition).Pointer()

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.types[landType]; ok {
		if existing.fingerprint == fp {
			return nil
		}
		for _, k := range r.keepers {
			if k.LandType() == landType {
				return fmt.Errorf("realm: redefining %q: %w", landType, ErrTypeInUse)
			}
		}
	}
	r.types[landType] = registeredType{lt: lt, fingerprint: fp}
	logger.Info("land type registered", logger.KeyType, landType)
	return nil
}

// TypeInfo returns a registered type's settings.
func (r *Realm) TypeInfo(landType string) (LandType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[landType]
	return rt.lt, ok
}

// Route resolves a LandID to its keeper. An id without an instance always
// creates a fresh one with a minted instance id; a concrete id that is not
// live is created when the type allows auto-create on join.
func (r *Realm) Route(id LandID) (*keeper.Keeper, error) {
	r.mu.RLock()
	rt, typeKnown := r.types[id.Type]
	var k *keeper.Keeper
	if id.HasInstance() {
		k = r.keepers[id.String()]
	}
	r.mu.RUnlock()

	if !typeKnown {
		return nil, fmt.Errorf("realm: %q: %w", id.Type, ErrUnknownLandType)
	}
	if k != nil && k.Phase() == keeper.PhaseDraining {
		return nil, fmt.Errorf("realm: %q is draining: %w", id.String(), ErrLandNotFound)
	}
	if k != nil {
		return k, nil
	}

	if !id.HasInstance() {
		id.Instance = uuid.NewString()
	} else if !rt.lt.AllowAutoCreateOnJoin {
		return nil, fmt.Errorf("realm: %q: %w", id.String(), ErrLandNotFound)
	}
	return r.create(id, rt.lt)
}

// create builds, stores and starts a keeper, resolving the race where two
// sessions route to the same missing instance concurrently.
func (r *Realm) create(id LandID, lt LandType) (*keeper.Keeper, error) {
	def := lt.Definition()
	if def == nil {
		return nil, fmt.Errorf("realm: definition factory for %q returned nil", id.Type)
	}
	def.Type = id.Type

	cfg := lt.Config
	cfg.ApplyDefaults()

	opts := keeper.Options{
		Metrics:     r.opts.Metrics,
		OnTerminate: func(landID, reason string) { r.evict(landID) },
	}
	if r.opts.NewSink != nil {
		opts.Sink = r.opts.NewSink(id.String())
	}
	if r.opts.NewReplay != nil {
		opts.Replay = r.opts.NewReplay(id.String(), id.Type, cfg.Seed)
	}

	k, err := keeper.New(id.Instance, def, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("realm: building keeper %q: %w", id.String(), err)
	}

	r.mu.Lock()
	if existing, ok := r.keepers[id.String()]; ok {
		r.mu.Unlock()
		return existing, nil
	}
	r.keepers[id.String()] = k
	r.mu.Unlock()

	k.Start()
	logger.Info("land created", logger.KeyLand, id.String(), logger.KeyType, id.Type)
	return k, nil
}

// Get returns a live keeper without creating one.
func (r *Realm) Get(landID string) (*keeper.Keeper, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.keepers[landID]
	return k, ok
}

// List snapshots the live LandIDs for the admin surface.
func (r *Realm) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.keepers))
	for id := range r.keepers {
		out = append(out, id)
	}
	return out
}

// Remove drains a land and waits for its loop to terminate. New joins fail
// as soon as the keeper leaves the running phase.
func (r *Realm) Remove(ctx context.Context, landID, reason string) error {
	k, ok := r.Get(landID)
	if !ok {
		return fmt.Errorf("realm: %q: %w", landID, ErrLandNotFound)
	}
	k.Drain(reason)
	select {
	case <-k.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown drains every land and waits for all loops to stop.
func (r *Realm) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	keepers := make([]*keeper.Keeper, 0, len(r.keepers))
	for _, k := range r.keepers {
		keepers = append(keepers, k)
	}
	r.mu.RUnlock()

	for _, k := range keepers {
		k.Drain("server-shutdown")
	}
	for _, k := range keepers {
		select {
		case <-k.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// evict drops a terminated keeper from the registry. Runs on the keeper
// goroutine via OnTerminate.
func (r *Realm) evict(landID string) {
	r.mu.Lock()
	delete(r.keepers, landID)
	r.mu.Unlock()
	logger.Info("land evicted", logger.KeyLand, landID)
}
