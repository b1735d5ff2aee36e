// Package keeper implements the Land Keeper: the single-writer loop that
// owns one land's authoritative state, processes its command stream, runs
// its tick schedule and hands tick output to the sync engine.
//
// All state mutation and all user-supplied handlers run on the keeper
// goroutine. Other goroutines interact exclusively through the Submit/Join
// API, which enqueues commands on the keeper's channel.
package keeper

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/metrics"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/syncengine"
	"github.com/keeperhq/landkit/pkg/wire"
)

type playerEntry struct {
	slot      int
	clientID  string
	sessionID string
}

type pendingEvent struct {
	origin string
	target Target
	event  wire.Event
}

// Options carries a keeper's collaborators. Every field is optional.
type Options struct {
	Sink    Sink
	Replay  ReplaySink
	Metrics metrics.LandMetrics

	// OnTerminate runs after the keeper loop has stopped, on the keeper
	// goroutine. The realm uses it to evict the land.
	OnTerminate func(landID, reason string)
}

// Keeper is one land's single-writer loop.
type Keeper struct {
	landType   string
	instanceID string
	landID     string

	def  *Definition
	cfg  Config
	opts Options

	root     *state.Container
	rec      *state.Recorder
	engine   *syncengine.Engine
	services *Services

	commands chan *command
	done     chan struct{}
	drainCh  chan string
	phase    atomic.Int32

	// closedMu serializes submissions against shutdown so no command is
	// ever parked on the channel without an eventual response.
	closedMu sync.RWMutex
	closed   bool

	players map[string]*playerEntry
	slots   []string

	tick          uint64
	pendingEvents []pendingEvent
	syncRequested bool
	lastSync      time.Time
	emptySince    time.Time

	tickActions      []RecordedAction
	tickClientEvents []RecordedClientEvent
	tickLifecycle    []LifecycleEvent

	patchesEmitted uint64
	eventsEmitted  uint64
	lastSyncMode   string
	startedAt      time.Time
}

// New constructs a keeper for one land instance. Call Start to run it.
func New(instanceID string, def *Definition, cfg Config, opts Options) (*Keeper, error) {
	if def == nil || def.Type == "" {
		return nil, fmt.Errorf("keeper: definition with a land type is required")
	}
	cfg.ApplyDefaults()

	k := &Keeper{
		landType:   def.Type,
		instanceID: instanceID,
		landID:     def.Type + ":" + instanceID,
		def:        def,
		cfg:        cfg,
		opts:       opts,
		root:       state.NewContainer(),
		rec:        state.NewRecorder(),
		engine: syncengine.New(syncengine.Config{
			DirtyTracking:    cfg.DirtyTracking,
			AdaptiveOffAfter: cfg.AdaptiveOffAfter,
			AdaptiveOnAfter:  cfg.AdaptiveOnAfter,
		}),
		commands: make(chan *command, cfg.CommandBuffer),
		done:     make(chan struct{}),
		drainCh:  make(chan string, 1),
		players:  make(map[string]*playerEntry),
	}
	k.root.Bind("", k.rec)

	clockInterval := cfg.TickInterval
	if clockInterval <= 0 {
		// Event-driven lands still need a monotonically advancing handler
		// clock; one millisecond per manual sync keeps it deterministic.
		clockInterval = time.Millisecond
	}
	k.services = &Services{
		Clock: &tickClock{interval: clockInterval, tick: &k.tick},
		Rand:  NewSeededRand(cfg.Seed),
		Extra: def.Extra,
	}
	return k, nil
}

// LandID returns "landType:instanceId".
func (k *Keeper) LandID() string { return k.landID }

// LandType returns the land type name.
func (k *Keeper) LandType() string { return k.landType }

// InstanceID returns the instance identifier.
func (k *Keeper) InstanceID() string { return k.instanceID }

// Phase returns the current lifecycle phase.
func (k *Keeper) Phase() Phase { return Phase(k.phase.Load()) }

// Done is closed when the keeper loop has terminated.
func (k *Keeper) Done() <-chan struct{} { return k.done }

// Start launches the keeper goroutine.
func (k *Keeper) Start() {
	k.startedAt = time.Now()
	go k.run()
}

// Drain asks the keeper to stop: pending commands are rejected with a
// shutdown error, replay data is flushed, and all sessions are notified.
// Safe to call more than once.
func (k *Keeper) Drain(reason string) {
	select {
	case k.drainCh <- reason:
	default:
	}
}

// Join binds a player to this keeper and waits for the result.
func (k *Keeper) Join(ctx context.Context, req JoinRequest) (JoinResult, error) {
	reply := make(chan joinReply, 1)
	if err := k.enqueue(&command{kind: cmdJoin, join: &req, joinReply: reply}); err != nil {
		return JoinResult{}, err
	}
	select {
	case r := <-reply:
		return r.result, r.err
	case <-ctx.Done():
		return JoinResult{}, ctx.Err()
	case <-k.done:
		return JoinResult{}, ErrShutdown
	}
}

// Leave detaches a player. Idempotent; a stale sessionID (the player already
// rejoined from elsewhere) is ignored.
func (k *Keeper) Leave(playerID, sessionID string) {
	_ = k.enqueue(&command{kind: cmdLeave, leave: &leaveCmd{playerID: playerID, sessionID: sessionID}})
}

// SubmitAction enqueues an action. The outcome (response or error frame) is
// delivered through the sink; the returned error only covers submission.
func (k *Keeper) SubmitAction(req ActionRequest) error {
	return k.enqueue(&command{kind: cmdAction, action: &req})
}

// SubmitClientEvent enqueues a client event.
func (k *Keeper) SubmitClientEvent(req ClientEventRequest) error {
	return k.enqueue(&command{kind: cmdClientEvent, clientEvent: &req})
}

// RequestResync schedules a fresh firstSync for the player, used by the
// transport after it dropped a sync frame under backpressure. Best effort:
// a full keeper queue simply delays the resync to the next request.
func (k *Keeper) RequestResync(playerID string) {
	_ = k.enqueue(&command{kind: cmdAdmin, admin: &adminCmd{
		fn: func(k *Keeper) {
			if _, ok := k.players[playerID]; !ok {
				return
			}
			k.engine.ResetPlayer(playerID)
			k.syncRequested = true
		},
		reply: make(chan error, 1),
	}})
}

// RootSnapshot returns the unfiltered state snapshot. Only safe from inside
// an Inspect callback or a handler, both of which run on the keeper loop.
func (k *Keeper) RootSnapshot() state.Value {
	return k.root.Snapshot()
}

// Inspect runs fn on the keeper loop with exclusive access to the keeper and
// waits for it. Admin surfaces use it to read state safely.
func (k *Keeper) Inspect(ctx context.Context, fn func(k *Keeper)) error {
	cmd := &command{kind: cmdAdmin, admin: &adminCmd{fn: fn, reply: make(chan error, 1)}}
	if err := k.enqueue(cmd); err != nil {
		return err
	}
	select {
	case err := <-cmd.admin.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-k.done:
		return ErrShutdown
	}
}

// Stats snapshots the keeper's counters via the loop.
func (k *Keeper) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := k.Inspect(ctx, func(k *Keeper) {
		s = Stats{
			LandID:         k.landID,
			LandType:       k.landType,
			InstanceID:     k.instanceID,
			Phase:          k.Phase().String(),
			Tick:           k.tick,
			Players:        len(k.players),
			MaxPlayers:     k.cfg.MaxPlayers,
			QueueDepth:     len(k.commands),
			TrackingActive: k.engine.TrackingActive(),
			LastSyncMode:   k.lastSyncMode,
			PatchesEmitted: k.patchesEmitted,
			EventsEmitted:  k.eventsEmitted,
			StartedAt:      k.startedAt,
		}
	})
	return s, err
}

// enqueue submits a command without blocking the caller on a full buffer.
func (k *Keeper) enqueue(c *command) error {
	k.closedMu.RLock()
	defer k.closedMu.RUnlock()
	if k.closed {
		return ErrShutdown
	}
	select {
	case k.commands <- c:
		return nil
	default:
		return ErrQueueFull
	}
}

func (k *Keeper) run() {
	log := logger.With(logger.KeyLand, k.landID)

	if k.def.InitialState != nil {
		if err := k.def.InitialState(k.root); err != nil {
			log.Error("initial state construction failed", logger.KeyError, err.Error())
			k.finish("initial-state-failed")
			return
		}
	}
	k.phase.Store(int32(PhaseRunning))
	k.emptySince = time.Now()
	k.lastSync = time.Now()
	metrics.LandStarted(k.opts.Metrics, k.landType)
	log.Info("keeper running",
		logger.KeyType, k.landType,
		"tick_interval", k.cfg.TickInterval.String())

	var tickC <-chan time.Time
	if k.cfg.TickInterval > 0 {
		ticker := time.NewTicker(k.cfg.TickInterval)
		defer ticker.Stop()
		tickC = ticker.C
	}

	var idleC <-chan time.Time
	if k.cfg.IdleTimeout > 0 {
		interval := k.cfg.IdleTimeout / 2
		if interval < time.Millisecond {
			interval = k.cfg.IdleTimeout
		}
		idle := time.NewTicker(interval)
		defer idle.Stop()
		idleC = idle.C
	}

	for {
		select {
		case cmd := <-k.commands:
			k.handleCommand(cmd)
			if k.cfg.TickInterval <= 0 && k.syncRequested {
				// Event-driven land: a manual sync request closes a tick.
				k.advanceTick()
			}

		case <-tickC:
			k.drainQueued()
			k.fireOnTick()
			k.advanceTick()

		case <-idleC:
			if len(k.players) == 0 && time.Since(k.emptySince) >= k.cfg.IdleTimeout {
				log.Info("idle timeout reached, terminating",
					logger.KeyDuration, k.cfg.IdleTimeout.Milliseconds())
				k.finish("idle-timeout")
				return
			}

		case reason := <-k.drainCh:
			k.finish(reason)
			return
		}
	}
}

// drainQueued processes every command that arrived before the tick deadline.
func (k *Keeper) drainQueued() {
	for {
		select {
		case cmd := <-k.commands:
			k.handleCommand(cmd)
		default:
			return
		}
	}
}

func (k *Keeper) handleCommand(cmd *command) {
	start := time.Now()
	switch cmd.kind {
	case cmdJoin:
		k.handleJoin(cmd.join, cmd.joinReply)
	case cmdLeave:
		k.handleLeave(cmd.leave)
	case cmdAction:
		k.handleAction(cmd.action)
	case cmdClientEvent:
		k.handleClientEvent(cmd.clientEvent)
	case cmdAdmin:
		cmd.admin.fn(k)
		cmd.admin.reply <- nil
	}
	metrics.ObserveCommand(k.opts.Metrics, k.landType, cmd.kind.String(), time.Since(start))
}

func (k *Keeper) handlerContext(playerID, clientID, sessionID, requestID string) *Context {
	return &Context{
		PlayerID:  playerID,
		ClientID:  clientID,
		SessionID: sessionID,
		RequestID: requestID,
		Tick:      k.tick,
		Services:  k.services,
		Resolved:  make(map[string]any),
		k:         k,
	}
}

func (k *Keeper) handleJoin(req *JoinRequest, reply chan joinReply) {
	if Phase(k.phase.Load()) != PhaseRunning {
		reply <- joinReply{err: ErrShutdown}
		return
	}
	if _, dup := k.players[req.PlayerID]; dup {
		reply <- joinReply{err: ErrAlreadyJoined}
		return
	}
	if k.cfg.MaxPlayers > 0 && len(k.players) >= k.cfg.MaxPlayers {
		reply <- joinReply{err: ErrLandFull}
		return
	}

	slot := k.allocSlot(req.PlayerID)
	entry := &playerEntry{slot: slot, clientID: req.ClientID, sessionID: req.SessionID}
	k.players[req.PlayerID] = entry

	if k.def.OnJoin != nil {
		ctx := k.handlerContext(req.PlayerID, req.ClientID, req.SessionID, req.RequestID)
		if err := k.def.OnJoin(k.root, ctx); err != nil {
			delete(k.players, req.PlayerID)
			k.slots[slot] = ""
			reply <- joinReply{err: err}
			return
		}
	}

	k.engine.AddPlayer(req.PlayerID)
	k.tickLifecycle = append(k.tickLifecycle, LifecycleEvent{
		Kind: "join", PlayerID: req.PlayerID, ClientID: req.ClientID, Slot: slot,
	})
	k.syncRequested = true
	metrics.SetPlayerCount(k.opts.Metrics, k.landType, len(k.players))
	logger.Info("player joined",
		logger.KeyLand, k.landID,
		logger.KeyPlayer, req.PlayerID,
		logger.KeySlot, slot)

	reply <- joinReply{result: JoinResult{PlayerSlot: slot}}
}

func (k *Keeper) handleLeave(cmd *leaveCmd) {
	entry, ok := k.players[cmd.playerID]
	if !ok {
		return
	}
	if cmd.sessionID != "" && entry.sessionID != cmd.sessionID {
		// Stale leave from a session that was already replaced.
		return
	}

	if k.def.OnLeave != nil {
		k.def.OnLeave(k.root, k.handlerContext(cmd.playerID, entry.clientID, entry.sessionID, ""))
	}
	delete(k.players, cmd.playerID)
	k.slots[entry.slot] = ""
	k.engine.RemovePlayer(cmd.playerID)
	k.tickLifecycle = append(k.tickLifecycle, LifecycleEvent{
		Kind: "leave", PlayerID: cmd.playerID, ClientID: entry.clientID, Slot: entry.slot,
	})
	if len(k.players) == 0 {
		k.emptySince = time.Now()
	}
	metrics.SetPlayerCount(k.opts.Metrics, k.landType, len(k.players))
	logger.Info("player left", logger.KeyLand, k.landID, logger.KeyPlayer, cmd.playerID)
}

func (k *Keeper) handleAction(req *ActionRequest) {
	entry, ok := k.players[req.PlayerID]
	if !ok {
		k.deliverError(req.SessionID, errorFrame(req.RequestID, ErrNotJoined))
		return
	}
	handler, ok := k.def.Actions[req.Type]
	if !ok {
		k.deliverError(req.SessionID, errorFrame(req.RequestID,
			fmt.Errorf("%w: %s", ErrUnknownAction, req.Type)))
		return
	}

	ctx := k.handlerContext(req.PlayerID, entry.clientID, req.SessionID, req.RequestID)
	if resolvers := k.def.Resolvers[req.Type]; len(resolvers) > 0 {
		if err := k.runResolvers(resolvers, req.Payload, ctx); err != nil {
			logger.Warn("action resolvers failed",
				logger.KeyLand, k.landID,
				logger.KeyAction, req.Type,
				logger.KeyError, err.Error())
			k.deliverError(req.SessionID, errorFrame(req.RequestID, err))
			return
		}
	}

	// Recorded before the handler runs: mutations made before a handler
	// error are committed, so replay must re-apply the action either way.
	k.tickActions = append(k.tickActions, RecordedAction{
		PlayerID: req.PlayerID, RequestID: req.RequestID, Type: req.Type, Payload: req.Payload,
	})

	res, err := handler(k.root, req.Payload, ctx)
	if err != nil {
		k.deliverError(req.SessionID, errorFrame(req.RequestID, err))
		return
	}
	if k.opts.Sink != nil {
		k.opts.Sink.DeliverActionResponse(req.SessionID, wire.ActionResponse{
			RequestID: req.RequestID, Response: res,
		})
	}
}

func (k *Keeper) handleClientEvent(req *ClientEventRequest) {
	entry, ok := k.players[req.PlayerID]
	if !ok {
		k.deliverError(req.SessionID, errorFrame("", ErrNotJoined))
		return
	}
	handler, ok := k.def.ClientEvents[req.Type]
	if !ok {
		k.deliverError(req.SessionID, errorFrame("",
			fmt.Errorf("%w: %s", ErrUnknownAction, req.Type)))
		return
	}

	k.tickClientEvents = append(k.tickClientEvents, RecordedClientEvent{
		PlayerID: req.PlayerID, Type: req.Type, Payload: req.Payload,
	})

	ctx := k.handlerContext(req.PlayerID, entry.clientID, req.SessionID, "")
	if err := handler(k.root, req.Payload, ctx); err != nil {
		k.deliverError(req.SessionID, errorFrame("", err))
	}
}

// runResolvers executes an action's pre-loaders in parallel. Any failure
// cancels the rest and surfaces as the command's error, wrapped with the
// failing resolver's name.
func (k *Keeper) runResolvers(resolvers []Resolver, payload state.Value, kctx *Context) error {
	ctx, cancel := context.WithTimeout(context.Background(), k.cfg.ResolverTimeout)
	defer cancel()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for _, r := range resolvers {
		r := r
		g.Go(func() error {
			out, err := r.Load(gctx, payload, kctx)
			if err != nil {
				return resolverFailed(r.Name, err)
			}
			mu.Lock()
			kctx.Resolved[r.Name] = out
			mu.Unlock()
			return nil
		})
	}
	return g.Wait()
}

func (k *Keeper) fireOnTick() {
	if k.def.OnTick == nil {
		return
	}
	ctx := k.handlerContext("", "", "", "")
	if err := k.def.OnTick(k.root, ctx); err != nil {
		logger.Error("onTick handler failed",
			logger.KeyLand, k.landID,
			logger.KeyTick, k.tick,
			logger.KeyError, err.Error())
	}
}

// advanceTick closes the current tick: sync if due, deliver events, append
// the replay entry, bump the counter.
func (k *Keeper) advanceTick() {
	start := time.Now()
	tickID := k.tick

	syncDue := k.syncRequested ||
		k.cfg.StateSyncInterval <= 0 ||
		time.Since(k.lastSync) >= k.cfg.StateSyncInterval
	if syncDue {
		k.runSync()
	}
	k.deliverPendingEvents(tickID)
	if k.opts.Sink != nil {
		k.opts.Sink.TickComplete(tickID)
	}

	if k.opts.Replay != nil {
		hash := k.root.Snapshot().Hash()
		k.opts.Replay.RecordTick(tickID, k.tickActions, k.tickClientEvents, k.tickLifecycle, hash)
	}
	k.tickActions = nil
	k.tickClientEvents = nil
	k.tickLifecycle = nil

	k.tick++
	metrics.ObserveTick(k.opts.Metrics, k.landType, time.Since(start))
}

func (k *Keeper) runSync() {
	updates := k.engine.Sync(k.root, k.rec)
	for _, u := range updates {
		if _, ok := k.players[u.PlayerID]; !ok {
			continue
		}
		if k.opts.Sink != nil {
			k.opts.Sink.DeliverUpdate(u.PlayerID, k.tick, u.Update)
		}
		if u.Update.Kind != wire.UpdateNoChange {
			k.patchesEmitted += uint64(len(u.Update.Patches))
			k.lastSyncMode = u.Mode.String()
			metrics.ObserveSync(k.opts.Metrics, k.landType, u.Mode.String(),
				len(u.Update.Patches), syncengine.PayloadSize(u.Update))
		}
	}
	k.syncRequested = false
	k.lastSync = time.Now()
}

// deliverPendingEvents resolves targets and hands each player its events for
// the tick in emission order, one sink call per player.
func (k *Keeper) deliverPendingEvents(tickID uint64) {
	if len(k.pendingEvents) == 0 {
		return
	}
	perPlayer := make(map[string][]wire.Event)
	var order []string
	for _, pe := range k.pendingEvents {
		for _, playerID := range pe.target.recipients(pe.origin, k.players) {
			if _, seen := perPlayer[playerID]; !seen {
				order = append(order, playerID)
			}
			perPlayer[playerID] = append(perPlayer[playerID], pe.event)
		}
	}
	for _, playerID := range order {
		if k.opts.Sink != nil {
			k.opts.Sink.DeliverEvents(playerID, tickID, perPlayer[playerID])
		}
		k.eventsEmitted += uint64(len(perPlayer[playerID]))
	}
	k.pendingEvents = nil
}

func (k *Keeper) allocSlot(playerID string) int {
	for i, owner := range k.slots {
		if owner == "" {
			k.slots[i] = playerID
			return i
		}
	}
	k.slots = append(k.slots, playerID)
	return len(k.slots) - 1
}

func (k *Keeper) deliverError(sessionID string, frame wire.ErrorFrame) {
	if k.opts.Sink != nil {
		k.opts.Sink.DeliverError(sessionID, frame)
	}
}

// finish drains and terminates the keeper. Every command still queued is
// rejected with a shutdown error so no originator is left waiting.
func (k *Keeper) finish(reason string) {
	k.phase.Store(int32(PhaseDraining))

	k.closedMu.Lock()
	k.closed = true
	k.closedMu.Unlock()

	for {
		select {
		case cmd := <-k.commands:
			k.rejectCommand(cmd)
			continue
		default:
		}
		break
	}

	if k.opts.Replay != nil {
		if err := k.opts.Replay.Flush(); err != nil {
			logger.Error("replay flush failed",
				logger.KeyLand, k.landID, logger.KeyError, err.Error())
		}
	}
	if k.opts.Sink != nil {
		k.opts.Sink.KeeperTerminated(reason)
	}
	metrics.LandTerminated(k.opts.Metrics, k.landType)
	metrics.SetPlayerCount(k.opts.Metrics, k.landType, 0)

	k.phase.Store(int32(PhaseTerminated))
	close(k.done)
	logger.Info("keeper terminated", logger.KeyLand, k.landID, "reason", reason)

	if k.opts.OnTerminate != nil {
		k.opts.OnTerminate(k.landID, reason)
	}
}

func (k *Keeper) rejectCommand(cmd *command) {
	switch cmd.kind {
	case cmdJoin:
		cmd.joinReply <- joinReply{err: ErrShutdown}
	case cmdAction:
		k.deliverError(cmd.action.SessionID, errorFrame(cmd.action.RequestID, ErrShutdown))
	case cmdClientEvent:
		k.deliverError(cmd.clientEvent.SessionID, errorFrame("", ErrShutdown))
	case cmdAdmin:
		cmd.admin.reply <- ErrShutdown
	}
}
