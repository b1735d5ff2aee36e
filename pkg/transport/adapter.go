// Package transport adapts framed client connections to the keeper runtime:
// it runs the join handshake (always JSON), negotiates the session encoding,
// fans keeper output out to per-session send queues and enforces the
// single-session-per-player policy together with the cluster registry.
package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/cluster"
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/metrics"
	"github.com/keeperhq/landkit/pkg/realm"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

// PlayerIdentity is a resolved player: who the session speaks for.
type PlayerIdentity struct {
	PlayerID string
	Metadata map[string]any
}

// AuthFunc validates a join token and resolves the player behind it.
type AuthFunc func(ctx context.Context, token string) (PlayerIdentity, error)

// GuestFactory mints an identity for an unauthenticated join. Only consulted
// for land types that allow guest mode.
type GuestFactory func(deviceID string) PlayerIdentity

// DefaultGuestFactory derives a stable guest identity from the device id, or
// a random one when the client sent none.
func DefaultGuestFactory(deviceID string) PlayerIdentity {
	if deviceID == "" {
		deviceID = uuid.NewString()
	}
	return PlayerIdentity{PlayerID: "guest-" + deviceID}
}

// Config tunes the adapter.
type Config struct {
	// JoinTimeout closes sessions that never complete the handshake.
	// Default: 10s.
	JoinTimeout time.Duration

	// SendQueue is the per-session outbound buffer. Default: 64 frames.
	SendQueue int

	// MaxFrameBytes caps inbound frame size on the wire. Zero means no
	// limit.
	MaxFrameBytes int64

	// Auth validates join tokens. Nil trusts the client-sent player id,
	// which is only acceptable for development setups.
	Auth AuthFunc

	// Guests mints guest identities. Nil rejects guest joins.
	Guests GuestFactory

	SessionMetrics metrics.SessionMetrics
	LandMetrics    metrics.LandMetrics
}

func (c *Config) applyDefaults() {
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = 10 * time.Second
	}
	if c.SendQueue <= 0 {
		c.SendQueue = 64
	}
}

// Adapter owns every live session on this node.
type Adapter struct {
	cfg      Config
	realm    *realm.Realm
	registry *cluster.Registry

	mu       sync.RWMutex
	byID     map[string]*Session
	byPlayer map[string]*Session
	fanouts  map[string]*fanout
}

// New builds an adapter over a realm. registry may be nil for single-node
// deployments.
func New(r *realm.Realm, registry *cluster.Registry, cfg Config) *Adapter {
	cfg.applyDefaults()
	return &Adapter{
		cfg:      cfg,
		realm:    r,
		registry: registry,
		byID:     make(map[string]*Session),
		byPlayer: make(map[string]*Session),
		fanouts:  make(map[string]*fanout),
	}
}

// NewSink is the realm's sink factory: one fan-out per keeper.
func (a *Adapter) NewSink(landID string) keeper.Sink {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.fanouts[landID]
	if !ok {
		f = &fanout{a: a, landID: landID, byPlayer: make(map[string]*Session)}
		a.fanouts[landID] = f
	}
	return f
}

// HandleConn runs a new session over the connection. Returns once the read
// and write goroutines are launched.
func (a *Adapter) HandleConn(conn Conn) *Session {
	s := &Session{
		id:   uuid.NewString(),
		conn: conn,
		a:    a,
		send: make(chan queued, a.cfg.SendQueue),
		done: make(chan struct{}),
	}
	s.joinTimer = time.AfterFunc(a.cfg.JoinTimeout, func() {
		if !s.is(stateJoined) {
			logger.Info("join handshake timed out", logger.KeySession, s.id)
			s.close(wire.CloseProtocolViolation)
		}
	})

	a.mu.Lock()
	a.byID[s.id] = s
	a.mu.Unlock()
	metrics.SessionOpened(a.cfg.SessionMetrics)
	logger.Debug("session opened",
		logger.KeySession, s.id,
		logger.KeyClientIP, conn.RemoteAddr())

	go s.writeLoop()
	go s.readLoop()
	return s
}

// HandleKick closes the local session of a player whose lease another node
// took over. Wire it as the registry's kick handler.
func (a *Adapter) HandleKick(k cluster.Kick) {
	a.mu.RLock()
	s := a.byPlayer[k.PlayerID]
	a.mu.RUnlock()
	if s == nil {
		return
	}
	logger.Info("closing session replaced on another node",
		logger.KeyPlayer, k.PlayerID, "node", k.FromNode)
	s.replaced.Store(true)
	s.close(wire.CloseReplacedByNew)
}

// SessionCount returns the number of live sessions.
func (a *Adapter) SessionCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.byID)
}

// Close tears down every session, used at server shutdown.
func (a *Adapter) Close() {
	a.mu.RLock()
	sessions := make([]*Session, 0, len(a.byID))
	for _, s := range a.byID {
		sessions = append(sessions, s)
	}
	a.mu.RUnlock()
	for _, s := range sessions {
		s.close(wire.CloseServerShutdown)
	}
}

// join runs the handshake on the session's read goroutine.
func (a *Adapter) join(s *Session, j *wire.Join) {
	if j.LandType == "" {
		s.queueError(wire.ErrorFrame{
			Code:      wire.ErrCodeInvalidFrame,
			Message:   "join requires a land type",
			RequestID: j.RequestID,
		})
		s.close(wire.CloseProtocolViolation)
		return
	}

	// Unknown encodings downgrade to JSON rather than failing the join.
	enc, ok := wire.ParseEncoding(j.Encoding)
	if !ok {
		logger.Debug("unknown encoding proposed, downgrading to json",
			logger.KeySession, s.id, logger.KeyEncoding, j.Encoding)
		enc = wire.EncodingJSON
	}

	ident, errFrame := a.resolveIdentity(j)
	if errFrame != nil {
		errFrame.RequestID = j.RequestID
		s.queueError(*errFrame)
		s.close(wire.CloseProtocolViolation)
		return
	}

	k, err := a.realm.Route(realm.LandID{Type: j.LandType, Instance: j.LandInstanceID})
	if err != nil {
		s.queueError(wire.ErrorFrame{
			Code:      routeErrorCode(err),
			Message:   err.Error(),
			RequestID: j.RequestID,
		})
		s.close("")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.JoinTimeout)
	defer cancel()
	if err := a.registry.AcquireSession(ctx, ident.PlayerID); err != nil {
		s.queueError(wire.ErrorFrame{
			Code:      wire.ErrCodeInternal,
			Message:   "session registry unavailable",
			RequestID: j.RequestID,
		})
		s.close("")
		return
	}

	// A prior local session for this player is replaced. Its leave reaches
	// the keeper before our join because both go through the same queue.
	a.mu.Lock()
	prev := a.byPlayer[ident.PlayerID]
	a.byPlayer[ident.PlayerID] = s
	a.mu.Unlock()
	if prev != nil && prev != s {
		prev.replaced.Store(true)
		prev.close(wire.CloseReplacedByNew)
	}

	s.playerID = ident.PlayerID
	s.clientID = j.DeviceID
	if s.clientID == "" {
		s.clientID = uuid.NewString()
	}
	s.landID = k.LandID()
	s.landType = k.LandType()
	s.k = k
	s.encoding = enc

	var table *wire.PathTable
	if j.Compression && enc != wire.EncodingJSON {
		table = a.buildPathTable(ctx, k)
	}
	codec, err := wire.ForEncoding(enc, table)
	if err != nil {
		s.queueError(wire.ErrorFrame{
			Code:      wire.ErrCodeInternal,
			Message:   err.Error(),
			RequestID: j.RequestID,
		})
		s.close("")
		return
	}
	s.codec = codec

	// Subscribed before the keeper join so the first sync cannot slip past
	// the fan-out; the pre-join buffer keeps it behind the join response.
	a.subscribe(s.landID, ident.PlayerID, s)

	res, err := k.Join(ctx, keeper.JoinRequest{
		RequestID: j.RequestID,
		PlayerID:  ident.PlayerID,
		ClientID:  s.clientID,
		SessionID: s.id,
		Metadata:  mergeMetadata(ident.Metadata, j.Metadata),
	})
	if err != nil {
		a.unsubscribe(s.landID, ident.PlayerID, s)
		s.queueError(wire.ErrorFrame{
			Code:      keeper.CodeForError(err),
			Message:   err.Error(),
			RequestID: j.RequestID,
		})
		s.close("")
		return
	}

	logger.Info("session joined",
		logger.KeySession, s.id,
		logger.KeyPlayer, ident.PlayerID,
		logger.KeyLand, s.landID,
		logger.KeyEncoding, string(enc))

	s.markJoined(&wire.JoinResponse{
		RequestID:      j.RequestID,
		Success:        true,
		LandType:       k.LandType(),
		LandInstanceID: k.InstanceID(),
		LandID:         k.LandID(),
		PlayerSlot:     res.PlayerSlot,
		Encoding:       enc,
		PathTable:      table.Entries(),
	})
}

// resolveIdentity picks the identity path: token auth, trusted player id, or
// guest mode.
func (a *Adapter) resolveIdentity(j *wire.Join) (PlayerIdentity, *wire.ErrorFrame) {
	switch {
	case a.cfg.Auth != nil && j.Token != "":
		ident, err := a.cfg.Auth(context.Background(), j.Token)
		if err != nil {
			return PlayerIdentity{}, &wire.ErrorFrame{
				Code:    wire.ErrCodeUnauthorized,
				Message: "token rejected",
			}
		}
		return ident, nil

	case a.cfg.Auth != nil && j.PlayerID != "":
		return PlayerIdentity{}, &wire.ErrorFrame{
			Code:    wire.ErrCodeUnauthorized,
			Message: "player id requires a token",
		}

	case j.PlayerID != "":
		return PlayerIdentity{PlayerID: j.PlayerID}, nil

	default:
		lt, ok := a.realm.TypeInfo(j.LandType)
		if !ok {
			return PlayerIdentity{}, &wire.ErrorFrame{
				Code:    wire.ErrCodeLandNotFound,
				Message: "unknown land type " + j.LandType,
			}
		}
		if !lt.AllowGuestMode || a.cfg.Guests == nil {
			return PlayerIdentity{}, &wire.ErrorFrame{
				Code:    wire.ErrCodeUnauthorized,
				Message: "guest joins are not allowed for " + j.LandType,
			}
		}
		return a.cfg.Guests(j.DeviceID), nil
	}
}

// buildPathTable derives the compression table from the land's current state
// shape. A hash collision disables compression for the session.
func (a *Adapter) buildPathTable(ctx context.Context, k *keeper.Keeper) *wire.PathTable {
	var snapshot state.Value
	err := k.Inspect(ctx, func(k *keeper.Keeper) {
		snapshot = k.RootSnapshot()
	})
	if err != nil {
		return nil
	}
	var paths []string
	collectPaths(snapshot, "", &paths)
	table, err := wire.NewPathTable(paths)
	if err != nil {
		logger.Warn("path compression disabled",
			logger.KeyLand, k.LandID(), logger.KeyError, err.Error())
		return nil
	}
	return table
}

func collectPaths(v state.Value, base string, out *[]string) {
	if v.Kind() != state.KindMap {
		return
	}
	for _, key := range v.SortedKeys() {
		child, _ := v.Get(key)
		path := state.JoinPath(base, key)
		*out = append(*out, path)
		collectPaths(child, path, out)
	}
}

func mergeMetadata(a, b map[string]any) map[string]any {
	if len(a) == 0 {
		return b
	}
	out := make(map[string]any, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func routeErrorCode(err error) wire.ErrorCode {
	switch {
	case errors.Is(err, realm.ErrUnknownLandType), errors.Is(err, realm.ErrLandNotFound):
		return wire.ErrCodeLandNotFound
	default:
		return wire.ErrCodeInternal
	}
}

// detach runs once per session from Session.close.
func (a *Adapter) detach(s *Session, code string) {
	a.mu.Lock()
	delete(a.byID, s.id)
	if s.playerID != "" && a.byPlayer[s.playerID] == s {
		delete(a.byPlayer, s.playerID)
	}
	a.mu.Unlock()

	if s.playerID != "" {
		a.unsubscribe(s.landID, s.playerID, s)
		if s.k != nil {
			s.k.Leave(s.playerID, s.id)
		}
		if s.replaced.Load() {
			// The replacing node owns the lease now.
			a.registry.Dropped(s.playerID)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			a.registry.ReleaseSession(ctx, s.playerID)
			cancel()
		}
	}

	reason := code
	if reason == "" {
		reason = "normal"
	}
	metrics.SessionClosed(a.cfg.SessionMetrics, reason)
	logger.Debug("session closed", logger.KeySession, s.id, "reason", reason)
}

func (a *Adapter) subscribe(landID, playerID string, s *Session) {
	a.mu.Lock()
	f, ok := a.fanouts[landID]
	if !ok {
		f = &fanout{a: a, landID: landID, byPlayer: make(map[string]*Session)}
		a.fanouts[landID] = f
	}
	a.mu.Unlock()

	f.mu.Lock()
	f.byPlayer[playerID] = s
	f.mu.Unlock()
}

func (a *Adapter) unsubscribe(landID, playerID string, s *Session) {
	a.mu.RLock()
	f := a.fanouts[landID]
	a.mu.RUnlock()
	if f == nil {
		return
	}
	f.mu.Lock()
	if f.byPlayer[playerID] == s {
		delete(f.byPlayer, playerID)
	}
	f.mu.Unlock()
}

func (a *Adapter) sessionByID(sessionID string) *Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.byID[sessionID]
}

func (a *Adapter) dropFanout(landID string) {
	a.mu.Lock()
	delete(a.fanouts, landID)
	a.mu.Unlock()
}

// fanout is one keeper's Sink: it routes loop deliveries onto session send
// queues without blocking the loop.
type fanout struct {
	a      *Adapter
	landID string

	mu       sync.RWMutex
	byPlayer map[string]*Session
}

var _ keeper.Sink = (*fanout)(nil)

func (f *fanout) session(playerID string) *Session {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.byPlayer[playerID]
}

func (f *fanout) DeliverUpdate(playerID string, tick uint64, update wire.StateUpdate) {
	if s := f.session(playerID); s != nil {
		s.queueUpdate(update)
	}
}

func (f *fanout) DeliverEvents(playerID string, tick uint64, events []wire.Event) {
	if s := f.session(playerID); s != nil {
		s.queueEvents(events)
	}
}

func (f *fanout) DeliverActionResponse(sessionID string, resp wire.ActionResponse) {
	if s := f.a.sessionByID(sessionID); s != nil {
		s.enqueue(queued{
			msg:   &wire.Message{Kind: wire.KindActionResponse, ActionResponse: &resp},
			codec: s.codec,
		})
	}
}

func (f *fanout) DeliverError(sessionID string, frame wire.ErrorFrame) {
	if s := f.a.sessionByID(sessionID); s != nil {
		s.queueError(frame)
	}
}

func (f *fanout) TickComplete(tick uint64) {
	f.mu.RLock()
	sessions := make([]*Session, 0, len(f.byPlayer))
	for _, s := range f.byPlayer {
		sessions = append(sessions, s)
	}
	f.mu.RUnlock()
	for _, s := range sessions {
		s.flushTick()
	}
}

func (f *fanout) KeeperTerminated(reason string) {
	f.mu.Lock()
	sessions := make([]*Session, 0, len(f.byPlayer))
	for _, s := range f.byPlayer {
		sessions = append(sessions, s)
	}
	f.byPlayer = make(map[string]*Session)
	f.mu.Unlock()

	f.a.dropFanout(f.landID)
	for _, s := range sessions {
		s.close(wire.CloseServerShutdown)
	}
}
