package lands

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

func newDriver(t *testing.T, def *keeper.Definition, cfg keeper.Config) *keeper.Driver {
	t.Helper()
	d, err := keeper.NewDriver(def, cfg)
	require.NoError(t, err)
	return d
}

func joinStep(playerID string, slot int) keeper.StepInput {
	return keeper.StepInput{Lifecycle: []keeper.LifecycleEvent{{
		Kind: "join", PlayerID: playerID, ClientID: "c-" + playerID, Slot: slot,
	}}}
}

func action(playerID, actionType string, payload map[string]state.Value) keeper.RecordedAction {
	return keeper.RecordedAction{
		PlayerID: playerID,
		Type:     actionType,
		Payload:  state.MapValue(payload),
	}
}

func handOf(t *testing.T, snap state.Value, playerID string) []state.Value {
	t.Helper()
	hands, ok := snap.Get("hands")
	require.True(t, ok)
	hand, ok := hands.Get(playerID)
	require.True(t, ok)
	return hand.ArrayVal()
}

func scoreOf(t *testing.T, snap state.Value, playerID string) int64 {
	t.Helper()
	scores, ok := snap.Get("scores")
	require.True(t, ok)
	s, ok := scores.Get(playerID)
	require.True(t, ok)
	return s.IntVal()
}

func TestArenaJoinDealsPrivateHand(t *testing.T) {
	d := newDriver(t, NewArena(), keeper.Config{TickInterval: 50 * time.Millisecond, Seed: 7})

	_, err := d.Step(joinStep("P1", 0))
	require.NoError(t, err)

	snap := d.Snapshot()
	hand := handOf(t, snap, "P1")
	require.Len(t, hand, arenaHandSize)
	for _, c := range hand {
		require.GreaterOrEqual(t, c.IntVal(), int64(1))
		require.LessOrEqual(t, c.IntVal(), int64(arenaCardMax))
	}
	require.Equal(t, int64(0), scoreOf(t, snap, "P1"))

	phase, _ := snap.Get("phase")
	require.Equal(t, "lobby", phase.StringVal())
}

func TestArenaPlayScoresAndRedraws(t *testing.T) {
	d := newDriver(t, NewArena(), keeper.Config{TickInterval: 50 * time.Millisecond, Seed: 7})

	_, err := d.Step(joinStep("P1", 0))
	require.NoError(t, err)
	card := handOf(t, d.Snapshot(), "P1")[0]

	res, err := d.Step(keeper.StepInput{Actions: []keeper.RecordedAction{
		action("P1", "play", map[string]state.Value{"card": card}),
	}})
	require.NoError(t, err)

	snap := d.Snapshot()
	want := card.IntVal()
	if card.IntVal() >= arenaCardMax-2 {
		want *= 2
	}
	require.Equal(t, want, scoreOf(t, snap, "P1"))
	require.Len(t, handOf(t, snap, "P1"), arenaHandSize, "played card is replaced")

	phase, _ := snap.Get("phase")
	require.Equal(t, "playing", phase.StringVal())

	var sawPlayed bool
	for _, ev := range res.Events {
		if ev.Type == "cardPlayed" {
			sawPlayed = true
		}
	}
	require.True(t, sawPlayed)
}

func TestArenaPlayRejectsCardNotInHand(t *testing.T) {
	d := newDriver(t, NewArena(), keeper.Config{TickInterval: 50 * time.Millisecond, Seed: 7})

	_, err := d.Step(joinStep("P1", 0))
	require.NoError(t, err)

	_, err = d.Step(keeper.StepInput{Actions: []keeper.RecordedAction{
		action("P1", "play", map[string]state.Value{"card": state.Int(999)}),
	}})
	require.NoError(t, err)
	require.Equal(t, int64(0), scoreOf(t, d.Snapshot(), "P1"), "rejected play must not score")
}

func TestArenaRoundAdvancesWithBonus(t *testing.T) {
	d := newDriver(t, NewArena(), keeper.Config{TickInterval: 50 * time.Millisecond, Seed: 7})

	_, err := d.Step(joinStep("P1", 0))
	require.NoError(t, err)

	var sawRound bool
	for i := 0; i < arenaRoundTicks+1; i++ {
		res, err := d.Step(keeper.StepInput{})
		require.NoError(t, err)
		for _, ev := range res.Events {
			if ev.Type == "roundStarted" {
				sawRound = true
			}
		}
	}
	require.True(t, sawRound)

	snap := d.Snapshot()
	round, _ := snap.Get("round")
	require.Equal(t, int64(2), round.IntVal())
	require.Equal(t, int64(5), scoreOf(t, snap, "P1"), "sole player gets the round bonus")
}

func TestArenaDeterministicAcrossRuns(t *testing.T) {
	run := func() [32]byte {
		d := newDriver(t, NewArena(), keeper.Config{TickInterval: 50 * time.Millisecond, Seed: 42})
		_, err := d.Step(joinStep("P1", 0))
		require.NoError(t, err)
		card := handOf(t, d.Snapshot(), "P1")[1]
		res, err := d.Step(keeper.StepInput{Actions: []keeper.RecordedAction{
			action("P1", "play", map[string]state.Value{"card": card}),
		}})
		require.NoError(t, err)
		return res.Hash
	}
	require.Equal(t, run(), run())
}

func TestLobbyPresenceAndTopic(t *testing.T) {
	d := newDriver(t, NewLobby(), keeper.Config{})

	_, err := d.Step(joinStep("P1", 0))
	require.NoError(t, err)
	_, err = d.Step(joinStep("P2", 1))
	require.NoError(t, err)

	res, err := d.Step(keeper.StepInput{Actions: []keeper.RecordedAction{
		action("P1", "setTopic", map[string]state.Value{"topic": state.String("  release planning ")}),
	}})
	require.NoError(t, err)

	snap := d.Snapshot()
	topic, _ := snap.Get("topic")
	require.Equal(t, "release planning", topic.StringVal(), "topic is trimmed")

	members, _ := snap.Get("members")
	require.Len(t, members.MapVal(), 2)

	var sawTopic bool
	for _, ev := range res.Events {
		if ev.Type == "topicChanged" {
			sawTopic = true
			require.Equal(t, wire.EventFromServer, ev.Direction)
		}
	}
	require.True(t, sawTopic)
}

func TestLobbyChatCountsInternally(t *testing.T) {
	d := newDriver(t, NewLobby(), keeper.Config{})

	_, err := d.Step(joinStep("P1", 0))
	require.NoError(t, err)

	res, err := d.Step(keeper.StepInput{ClientEvents: []keeper.RecordedClientEvent{{
		PlayerID: "P1", Type: "chat",
		Payload: state.MapValue(map[string]state.Value{"text": state.String("hello")}),
	}}})
	require.NoError(t, err)

	var sawChat bool
	for _, ev := range res.Events {
		if ev.Type == "chat" {
			sawChat = true
		}
	}
	require.True(t, sawChat)

	stats, _ := d.Snapshot().Get("stats")
	count, _ := stats.Get("messages")
	require.Equal(t, int64(1), count.IntVal())
}

func TestLobbyLeaveRemovesMember(t *testing.T) {
	d := newDriver(t, NewLobby(), keeper.Config{})

	_, err := d.Step(joinStep("P1", 0))
	require.NoError(t, err)
	_, err = d.Step(keeper.StepInput{Lifecycle: []keeper.LifecycleEvent{{
		Kind: "leave", PlayerID: "P1",
	}}})
	require.NoError(t, err)

	members, _ := d.Snapshot().Get("members")
	require.Empty(t, members.MapVal())
}

func TestBuiltinTypesAreConsistent(t *testing.T) {
	builtin := Builtin()
	defs := Definitions()
	require.Equal(t, len(builtin), len(defs))
	for name, lt := range builtin {
		require.NotNil(t, lt.Definition, name)
		factory, ok := defs[name]
		require.True(t, ok, name)
		require.Equal(t, name, factory().Type)
	}
}
