package transport

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/keeperhq/landkit/internal/logger"
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/metrics"
	"github.com/keeperhq/landkit/pkg/wire"
)

type sessionState int32

const (
	stateNew sessionState = iota
	stateJoined
	stateClosed
)

// queued is one outbound frame with its delivery class. Sync frames are
// droppable under backpressure; everything else is reliable and kills the
// session if the queue is full.
type queued struct {
	msg       *wire.Message
	codec     wire.Codec
	droppable bool
}

// Session is one client connection's lifecycle: the join handshake, frame
// routing to its keeper and the outbound send queue. The read goroutine owns
// all inbound handling; the write goroutine owns the connection's write side.
type Session struct {
	id   string
	conn Conn
	a    *Adapter

	state atomic.Int32

	// Set during the join handshake, before any frame that uses them is
	// enqueued.
	codec    wire.Codec
	encoding wire.Encoding
	playerID string
	clientID string
	landID   string
	landType string
	k        *keeper.Keeper

	send chan queued
	done chan struct{}
	once sync.Once

	// replaced marks a session closed by a cluster kick: the new holder
	// owns the lease, so teardown must not release it.
	replaced atomic.Bool

	joinTimer *time.Timer

	// mu guards the pre-join buffer and the held-back update of the
	// current tick.
	mu            sync.Mutex
	joinedFlushed bool
	preJoin       []queued
	pendingUpdate *wire.StateUpdate
}

// ID returns the session identifier used in keeper-bound commands.
func (s *Session) ID() string { return s.id }

// PlayerID returns the bound player, empty before a successful join.
func (s *Session) PlayerID() string { return s.playerID }

func (s *Session) is(st sessionState) bool {
	return sessionState(s.state.Load()) == st
}

// enqueue places a frame on the send queue. Frames produced before the join
// response is sent are buffered so the response always goes out first.
func (s *Session) enqueue(q queued) {
	if s.is(stateClosed) {
		return
	}

	s.mu.Lock()
	if !s.joinedFlushed && q.msg.Kind != wire.KindJoinResponse && q.msg.Kind != wire.KindError {
		s.preJoin = append(s.preJoin, q)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.push(q)
}

func (s *Session) push(q queued) {
	select {
	case s.send <- q:
	case <-s.done:
	default:
		if q.droppable {
			metrics.DroppedFrame(s.a.cfg.LandMetrics, s.landType)
			logger.Warn("sync frame dropped under backpressure",
				logger.KeySession, s.id,
				logger.KeyPlayer, s.playerID,
				logger.KeyLand, s.landID)
			if s.k != nil {
				s.k.RequestResync(s.playerID)
			}
			return
		}
		logger.Warn("reliable frame exceeded backpressure, closing session",
			logger.KeySession, s.id,
			logger.KeyPlayer, s.playerID)
		s.close(wire.CloseBackpressure)
	}
}

// markJoined flips the session to joined, sends the join response and flushes
// every frame the keeper delivered during the handshake.
func (s *Session) markJoined(resp *wire.JoinResponse) {
	s.state.Store(int32(stateJoined))
	if s.joinTimer != nil {
		s.joinTimer.Stop()
	}

	s.push(queued{
		msg:   &wire.Message{Kind: wire.KindJoinResponse, JoinResponse: resp},
		codec: &wire.JSONCodec{},
	})

	// The flush happens under the lock so a concurrent keeper delivery
	// cannot slip ahead of frames buffered during the handshake.
	s.mu.Lock()
	s.joinedFlushed = true
	for _, q := range s.preJoin {
		s.push(q)
	}
	s.preJoin = nil
	s.mu.Unlock()
}

// queueUpdate accepts one tick's state update from the keeper. MessagePack
// sessions hold it back until the tick's events are known so both can merge
// into a single frame.
func (s *Session) queueUpdate(update wire.StateUpdate) {
	if update.Kind == wire.UpdateNoChange {
		return
	}
	if s.encoding == wire.EncodingMessagePack {
		s.mu.Lock()
		s.pendingUpdate = &update
		s.mu.Unlock()
		return
	}
	s.enqueue(queued{
		msg:       &wire.Message{Kind: wire.KindStateUpdate, StateUpdate: &update},
		codec:     s.codec,
		droppable: true,
	})
}

// queueEvents accepts one tick's server events. When an update of the same
// tick is pending, events ride inside the merged frame; merged frames carry
// events and are therefore reliable.
func (s *Session) queueEvents(events []wire.Event) {
	if len(events) == 0 {
		return
	}
	if s.encoding == wire.EncodingMessagePack {
		s.mu.Lock()
		update := s.pendingUpdate
		s.pendingUpdate = nil
		s.mu.Unlock()
		if update != nil {
			s.enqueue(queued{
				msg:   &wire.Message{Kind: wire.KindMergedUpdate, StateUpdate: update, Events: events},
				codec: s.codec,
			})
			return
		}
	}
	for _, ev := range events {
		e := ev
		s.enqueue(queued{
			msg:   &wire.Message{Kind: wire.KindEvent, Event: &e},
			codec: s.codec,
		})
	}
}

// flushTick emits a held-back update whose tick ended without events.
func (s *Session) flushTick() {
	s.mu.Lock()
	update := s.pendingUpdate
	s.pendingUpdate = nil
	s.mu.Unlock()
	if update == nil {
		return
	}
	s.enqueue(queued{
		msg:       &wire.Message{Kind: wire.KindStateUpdate, StateUpdate: update},
		codec:     s.codec,
		droppable: true,
	})
}

func (s *Session) queueError(frame wire.ErrorFrame) {
	codec := s.codec
	if codec == nil {
		codec = &wire.JSONCodec{}
	}
	s.enqueue(queued{
		msg:   &wire.Message{Kind: wire.KindError, Error: &frame},
		codec: codec,
	})
}

func (s *Session) readLoop() {
	for {
		data, err := s.conn.ReadFrame()
		if err != nil {
			s.close("")
			return
		}
		s.handleFrame(data)
		if s.is(stateClosed) {
			return
		}
	}
}

func (s *Session) handleFrame(data []byte) {
	switch sessionState(s.state.Load()) {
	case stateNew:
		s.handleHandshakeFrame(data)
	case stateJoined:
		s.handleJoinedFrame(data)
	case stateClosed:
	}
}

// handleHandshakeFrame expects exactly one join frame, always JSON encoded.
func (s *Session) handleHandshakeFrame(data []byte) {
	msg, err := (&wire.JSONCodec{}).Decode(data)
	if err != nil || msg.Kind != wire.KindJoin {
		s.queueError(wire.ErrorFrame{
			Code:    wire.ErrCodeInvalidFrame,
			Message: "expected a join frame",
		})
		s.close(wire.CloseProtocolViolation)
		return
	}
	s.a.join(s, msg.Join)
}

func (s *Session) handleJoinedFrame(data []byte) {
	msg, err := s.codec.Decode(data)
	if err != nil {
		logger.Debug("malformed frame",
			logger.KeySession, s.id,
			logger.KeyError, err.Error())
		s.queueError(wire.ErrorFrame{
			Code:    wire.ErrCodeInvalidFrame,
			Message: "malformed frame",
		})
		return
	}

	switch msg.Kind {
	case wire.KindJoin:
		// One join per session. The session stays usable.
		s.queueError(wire.ErrorFrame{
			Code:      wire.ErrCodeInvalidFrame,
			Message:   "session already joined",
			RequestID: msg.Join.RequestID,
		})

	case wire.KindAction:
		err := s.k.SubmitAction(keeper.ActionRequest{
			PlayerID:  s.playerID,
			ClientID:  s.clientID,
			SessionID: s.id,
			RequestID: msg.Action.RequestID,
			Type:      msg.Action.Type,
			Payload:   msg.Action.Payload,
		})
		if err != nil {
			s.queueError(wire.ErrorFrame{
				Code:      keeper.CodeForError(err),
				Message:   err.Error(),
				RequestID: msg.Action.RequestID,
			})
		}

	case wire.KindEvent:
		if msg.Event.Direction != wire.EventFromClient {
			s.queueError(wire.ErrorFrame{
				Code:    wire.ErrCodeInvalidFrame,
				Message: "event frame must be client-origin",
			})
			return
		}
		err := s.k.SubmitClientEvent(keeper.ClientEventRequest{
			PlayerID:  s.playerID,
			ClientID:  s.clientID,
			SessionID: s.id,
			Type:      msg.Event.Type,
			Payload:   msg.Event.Payload,
		})
		if err != nil {
			s.queueError(wire.ErrorFrame{
				Code:    keeper.CodeForError(err),
				Message: err.Error(),
			})
		}

	case wire.KindActionResponse:
		// Server-initiated actions are not part of the protocol yet.
		logger.Debug("ignoring client actionResponse", logger.KeySession, s.id)

	default:
		s.queueError(wire.ErrorFrame{
			Code:    wire.ErrCodeInvalidFrame,
			Message: "unexpected frame kind " + msg.Kind.String(),
		})
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case q := <-s.send:
			data, err := q.codec.Encode(q.msg)
			if err != nil {
				logger.Error("frame encode failed",
					logger.KeySession, s.id,
					logger.KeyEncoding, string(q.codec.Encoding()),
					logger.KeyError, err.Error())
				continue
			}
			if err := s.conn.WriteFrame(data); err != nil {
				s.close("")
				return
			}
		case <-s.done:
			return
		}
	}
}

// close tears the session down exactly once: connection, keeper membership,
// cluster lease and adapter registration.
func (s *Session) close(code string) {
	s.once.Do(func() {
		s.state.Store(int32(stateClosed))
		if s.joinTimer != nil {
			s.joinTimer.Stop()
		}
		close(s.done)
		_ = s.conn.Close(code)
		s.a.detach(s, code)
	})
}
