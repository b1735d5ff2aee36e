package transport

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/realm"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

// fakeConn is an in-process Conn. The test plays the client: it writes into
// inbound and reads from outbound.
type fakeConn struct {
	inbound  chan []byte
	outbound chan []byte
	done     chan struct{}
	once     sync.Once

	mu   sync.Mutex
	code string
}

func newFakeConn(outboundBuffer int) *fakeConn {
	return &fakeConn{
		inbound:  make(chan []byte, 16),
		outbound: make(chan []byte, outboundBuffer),
		done:     make(chan struct{}),
	}
}

func (c *fakeConn) ReadFrame() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.done:
		return nil, io.EOF
	}
}

func (c *fakeConn) WriteFrame(data []byte) error {
	select {
	case c.outbound <- data:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	}
}

func (c *fakeConn) Close(code string) error {
	c.once.Do(func() {
		c.mu.Lock()
		c.code = code
		c.mu.Unlock()
		close(c.done)
	})
	return nil
}

func (c *fakeConn) RemoteAddr() string { return "pipe" }

func (c *fakeConn) closeCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *fakeConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *fakeConn) send(t *testing.T, codec wire.Codec, msg *wire.Message) {
	t.Helper()
	data, err := codec.Encode(msg)
	require.NoError(t, err)
	select {
	case c.inbound <- data:
	case <-time.After(2 * time.Second):
		t.Fatal("send stalled")
	}
}

func (c *fakeConn) recv(t *testing.T, codec wire.Codec) *wire.Message {
	t.Helper()
	// Buffered frames stay readable after close, so only the deadline
	// aborts the wait.
	select {
	case data := <-c.outbound:
		msg, err := codec.Decode(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no frame within deadline")
	}
	return nil
}

// arenaDef is an event-driven land. shout both mutates state and emits an
// event in the same tick, which is what exercises frame merging.
func arenaDef() *keeper.Definition {
	return &keeper.Definition{
		Type: "arena",
		InitialState: func(root *state.Container) error {
			if err := root.DefineField("count", state.PolicyBroadcast); err != nil {
				return err
			}
			if err := root.DefineField("players", state.PolicyPerPlayer); err != nil {
				return err
			}
			root.SetField("count", 0)
			return nil
		},
		Actions: map[string]keeper.ActionHandler{
			"add": func(root *state.Container, payload state.Value, ctx *keeper.Context) (state.Value, error) {
				n, _ := payload.Get("n")
				cur, _ := root.Field("count")
				next := cur.IntVal() + n.IntVal()
				root.SetField("count", next)
				ctx.SyncNow()
				return state.Int(next), nil
			},
			"shout": func(root *state.Container, payload state.Value, ctx *keeper.Context) (state.Value, error) {
				cur, _ := root.Field("count")
				root.SetField("count", cur.IntVal()+1)
				ctx.SendEvent(keeper.TargetAll(), "shouted", payload)
				ctx.SyncNow()
				return state.Null(), nil
			},
		},
	}
}

func newStack(t *testing.T, cfg Config, lt realm.LandType) *Adapter {
	t.Helper()
	if lt.Definition == nil {
		lt.Definition = arenaDef
	}
	var a *Adapter
	r := realm.New(realm.Options{
		NewSink: func(landID string) keeper.Sink { return a.NewSink(landID) },
	})
	a = New(r, nil, cfg)
	require.NoError(t, r.Register("arena", lt))
	t.Cleanup(func() {
		a.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		require.NoError(t, r.Shutdown(ctx))
	})
	return a
}

func joinFrame(playerID, encoding string) *wire.Message {
	return &wire.Message{Kind: wire.KindJoin, Join: &wire.Join{
		RequestID: "j1",
		LandType:  "arena",
		PlayerID:  playerID,
		Encoding:  encoding,
	}}
}

var jsonCodec = &wire.JSONCodec{}

func TestJoinHandshakeThenActionRoundTrip(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, joinFrame("P1", "json"))

	resp := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindJoinResponse, resp.Kind)
	require.True(t, resp.JoinResponse.Success)
	require.Equal(t, wire.EncodingJSON, resp.JoinResponse.Encoding)
	require.Equal(t, 0, resp.JoinResponse.PlayerSlot)
	require.NotEmpty(t, resp.JoinResponse.LandInstanceID)

	first := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindStateUpdate, first.Kind)
	require.Equal(t, wire.UpdateFirstSync, first.StateUpdate.Kind)
	count, ok := first.StateUpdate.Snapshot.Get("count")
	require.True(t, ok)
	require.True(t, count.Equal(state.Int(0)))

	conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindAction, Action: &wire.Action{
		RequestID: "a1", Type: "add",
		Payload: state.MapValue(map[string]state.Value{"n": state.Int(5)}),
	}})

	ar := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindActionResponse, ar.Kind)
	require.Equal(t, "a1", ar.ActionResponse.RequestID)
	require.True(t, ar.ActionResponse.Response.Equal(state.Int(5)))

	diff := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindStateUpdate, diff.Kind)
	require.Equal(t, wire.UpdateDiff, diff.StateUpdate.Kind)
	require.NotEmpty(t, diff.StateUpdate.Patches)
}

func TestFirstFrameMustBeJoin(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindAction, Action: &wire.Action{
		RequestID: "a1", Type: "add", Payload: state.Null(),
	}})

	errMsg := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindError, errMsg.Kind)
	require.Equal(t, wire.ErrCodeInvalidFrame, errMsg.Error.Code)

	require.Eventually(t, conn.closed, time.Second, time.Millisecond)
	require.Equal(t, wire.CloseProtocolViolation, conn.closeCode())
}

func TestRepeatedJoinIsRejectedButSessionSurvives(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, joinFrame("P1", "json"))
	require.Equal(t, wire.KindJoinResponse, conn.recv(t, jsonCodec).Kind)
	require.Equal(t, wire.KindStateUpdate, conn.recv(t, jsonCodec).Kind)

	conn.send(t, jsonCodec, joinFrame("P1", "json"))
	errMsg := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindError, errMsg.Kind)
	require.Equal(t, wire.ErrCodeInvalidFrame, errMsg.Error.Code)
	require.False(t, conn.closed())

	// The session still routes commands.
	conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindAction, Action: &wire.Action{
		RequestID: "a1", Type: "add",
		Payload: state.MapValue(map[string]state.Value{"n": state.Int(1)}),
	}})
	require.Equal(t, wire.KindActionResponse, conn.recv(t, jsonCodec).Kind)
}

func TestUnknownLandTypeFailsJoin(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindJoin, Join: &wire.Join{
		RequestID: "j1", LandType: "casino", PlayerID: "P1",
	}})

	errMsg := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindError, errMsg.Kind)
	require.Equal(t, wire.ErrCodeLandNotFound, errMsg.Error.Code)
	require.Eventually(t, conn.closed, time.Second, time.Millisecond)
}

func TestUnknownEncodingDowngradesToJSON(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, joinFrame("P1", "protobuf"))
	resp := conn.recv(t, jsonCodec)
	require.True(t, resp.JoinResponse.Success)
	require.Equal(t, wire.EncodingJSON, resp.JoinResponse.Encoding)
}

func TestMessagePackMergesUpdateWithSameTickEvents(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, joinFrame("P1", "messagepack"))
	resp := conn.recv(t, jsonCodec)
	require.True(t, resp.JoinResponse.Success)
	require.Equal(t, wire.EncodingMessagePack, resp.JoinResponse.Encoding)

	mp := &wire.MsgpackCodec{}
	first := conn.recv(t, mp)
	require.Equal(t, wire.KindStateUpdate, first.Kind)
	require.Equal(t, wire.UpdateFirstSync, first.StateUpdate.Kind)

	conn.send(t, mp, &wire.Message{Kind: wire.KindAction, Action: &wire.Action{
		RequestID: "a1", Type: "shout",
		Payload: state.MapValue(map[string]state.Value{"msg": state.String("hi")}),
	}})

	require.Equal(t, wire.KindActionResponse, conn.recv(t, mp).Kind)

	merged := conn.recv(t, mp)
	require.Equal(t, wire.KindMergedUpdate, merged.Kind)
	require.Equal(t, wire.UpdateDiff, merged.StateUpdate.Kind)
	require.Len(t, merged.Events, 1)
	require.Equal(t, "shouted", merged.Events[0].Type)
}

func TestCompressionSendsPathTable(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindJoin, Join: &wire.Join{
		RequestID: "j1", LandType: "arena", PlayerID: "P1",
		Encoding: "oparray", Compression: true,
	}})

	resp := conn.recv(t, jsonCodec)
	require.True(t, resp.JoinResponse.Success)
	require.NotEmpty(t, resp.JoinResponse.PathTable)

	table, err := wire.TableFromEntries(resp.JoinResponse.PathTable)
	require.NoError(t, err)
	_, ok := table.Compress("/count")
	require.True(t, ok, "table should cover the count field")

	// Frames after the handshake decode with the shared table.
	codec := &wire.OpArrayCodec{Table: table}
	first := conn.recv(t, codec)
	require.Equal(t, wire.UpdateFirstSync, first.StateUpdate.Kind)
}

func TestGuestJoinRespectsLandTypePolicy(t *testing.T) {
	a := newStack(t, Config{Guests: DefaultGuestFactory}, realm.LandType{AllowGuestMode: true})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindJoin, Join: &wire.Join{
		RequestID: "j1", LandType: "arena", DeviceID: "dev-7",
	}})
	resp := conn.recv(t, jsonCodec)
	require.True(t, resp.JoinResponse.Success)
}

func TestGuestJoinRejectedWhenDisallowed(t *testing.T) {
	a := newStack(t, Config{Guests: DefaultGuestFactory}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)

	conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindJoin, Join: &wire.Join{
		RequestID: "j1", LandType: "arena", DeviceID: "dev-7",
	}})
	errMsg := conn.recv(t, jsonCodec)
	require.Equal(t, wire.KindError, errMsg.Kind)
	require.Equal(t, wire.ErrCodeUnauthorized, errMsg.Error.Code)
}

func TestAuthenticatedModeRejectsBarePlayerID(t *testing.T) {
	auth := func(_ context.Context, token string) (PlayerIdentity, error) {
		if token == "good" {
			return PlayerIdentity{PlayerID: "P-auth"}, nil
		}
		return PlayerIdentity{}, errors.New("bad token")
	}
	a := newStack(t, Config{Auth: auth}, realm.LandType{})

	conn := newFakeConn(64)
	a.HandleConn(conn)
	conn.send(t, jsonCodec, joinFrame("P1", "json"))
	errMsg := conn.recv(t, jsonCodec)
	require.Equal(t, wire.ErrCodeUnauthorized, errMsg.Error.Code)

	conn2 := newFakeConn(64)
	a.HandleConn(conn2)
	conn2.send(t, jsonCodec, &wire.Message{Kind: wire.KindJoin, Join: &wire.Join{
		RequestID: "j2", LandType: "arena", Token: "good",
	}})
	resp := conn2.recv(t, jsonCodec)
	require.True(t, resp.JoinResponse.Success)
}

func TestSecondLocalSessionReplacesFirst(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})

	conn1 := newFakeConn(64)
	a.HandleConn(conn1)
	conn1.send(t, jsonCodec, joinFrame("P1", "json"))
	require.True(t, conn1.recv(t, jsonCodec).JoinResponse.Success)

	conn2 := newFakeConn(64)
	a.HandleConn(conn2)
	conn2.send(t, jsonCodec, joinFrame("P1", "json"))
	resp := conn2.recv(t, jsonCodec)
	require.True(t, resp.JoinResponse.Success)

	require.Eventually(t, conn1.closed, time.Second, time.Millisecond)
	require.Equal(t, wire.CloseReplacedByNew, conn1.closeCode())

	require.Equal(t, wire.KindStateUpdate, conn2.recv(t, jsonCodec).Kind)
	require.Equal(t, 1, a.SessionCount())
}

func TestReliableBackpressureKillsSession(t *testing.T) {
	a := newStack(t, Config{SendQueue: 1}, realm.LandType{})

	// Unbuffered outbound: the write loop blocks as soon as the test stops
	// reading, so reliable frames pile into the one-slot queue.
	conn := newFakeConn(0)
	a.HandleConn(conn)
	conn.send(t, jsonCodec, joinFrame("P1", "json"))
	require.True(t, conn.recv(t, jsonCodec).JoinResponse.Success)
	require.Equal(t, wire.KindStateUpdate, conn.recv(t, jsonCodec).Kind)

	for i := 0; i < 4; i++ {
		conn.send(t, jsonCodec, &wire.Message{Kind: wire.KindAction, Action: &wire.Action{
			RequestID: "a1", Type: "shout", Payload: state.Null(),
		}})
	}

	require.Eventually(t, conn.closed, 2*time.Second, time.Millisecond)
	require.Equal(t, wire.CloseBackpressure, conn.closeCode())
}

func TestKeeperShutdownClosesSessions(t *testing.T) {
	a := newStack(t, Config{}, realm.LandType{})
	conn := newFakeConn(64)
	a.HandleConn(conn)
	conn.send(t, jsonCodec, joinFrame("P1", "json"))
	resp := conn.recv(t, jsonCodec)
	require.True(t, resp.JoinResponse.Success)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, a.realm.Remove(ctx, resp.JoinResponse.LandID, "admin-remove"))

	require.Eventually(t, conn.closed, time.Second, time.Millisecond)
	require.Equal(t, wire.CloseServerShutdown, conn.closeCode())
}
