package lands

import (
	"context"
	"fmt"
	"time"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

const (
	arenaHandSize   = 3
	arenaCardMax    = 10
	arenaRoundTicks = 100
	maxNameLen      = 32
)

// ArenaDefaults is the default tuning for arena instances: a 20Hz tick
// loop with sync every other tick.
func ArenaDefaults() keeper.Config {
	return keeper.Config{
		TickInterval:      50 * time.Millisecond,
		StateSyncInterval: 100 * time.Millisecond,
		IdleTimeout:       5 * time.Minute,
		MaxPlayers:        16,
	}
}

// NewArena builds the arena definition, a small card game. Every player
// holds a private hand; playing a card scores its value times a rarity
// multiplier and draws a replacement. Rounds advance on a tick cadence.
//
// State layout:
//
//	round   broadcast  current round number
//	phase   broadcast  "lobby" until the first play, then "playing"
//	roster  broadcast  playerID -> {name, joinedTick}
//	scores  broadcast  playerID -> score
//	hands   perPlayer  playerID -> [cards], visible only to the owner
func NewArena() *keeper.Definition {
	return &keeper.Definition{
		Type:         "arena",
		InitialState: arenaInitialState,
		Actions: map[string]keeper.ActionHandler{
			"setName": arenaSetName,
			"play":    arenaPlay,
		},
		Resolvers: map[string][]keeper.Resolver{
			"play": {{Name: "multiplier", Load: arenaMultiplier}},
		},
		ClientEvents: map[string]keeper.ClientEventHandler{
			"emote": arenaEmote,
		},
		OnTick:  arenaTick,
		OnJoin:  arenaJoin,
		OnLeave: arenaLeave,
	}
}

func arenaInitialState(root *state.Container) error {
	for name, policy := range map[string]state.SyncPolicy{
		"round":  state.PolicyBroadcast,
		"phase":  state.PolicyBroadcast,
		"roster": state.PolicyBroadcast,
		"scores": state.PolicyBroadcast,
		"hands":  state.PolicyPerPlayer,
	} {
		if err := root.DefineField(name, policy); err != nil {
			return err
		}
	}
	root.SetField("round", 1)
	root.SetField("phase", "lobby")
	return nil
}

func arenaJoin(root *state.Container, ctx *keeper.Context) error {
	root.Map("roster").SetKey(ctx.PlayerID, map[string]any{
		"name":       ctx.PlayerID,
		"joinedTick": ctx.Tick,
	})
	root.Map("scores").SetKey(ctx.PlayerID, 0)

	hand := make([]any, arenaHandSize)
	for i := range hand {
		hand[i] = ctx.Services.Rand.Intn(arenaCardMax) + 1
	}
	root.Map("hands").SetKey(ctx.PlayerID, hand)

	ctx.SendEvent(keeper.TargetOthers(), "playerJoined", map[string]any{
		"player": ctx.PlayerID,
	})
	return nil
}

func arenaLeave(root *state.Container, ctx *keeper.Context) {
	root.Map("roster").DeleteKey(ctx.PlayerID)
	root.Map("scores").DeleteKey(ctx.PlayerID)
	root.Map("hands").DeleteKey(ctx.PlayerID)
	ctx.SendEvent(keeper.TargetOthers(), "playerLeft", map[string]any{
		"player": ctx.PlayerID,
	})
}

func arenaSetName(root *state.Container, payload state.Value, ctx *keeper.Context) (state.Value, error) {
	name, ok := payload.Get("name")
	if !ok || name.Kind() != state.KindString || name.StringVal() == "" {
		return state.Value{}, &keeper.HandlerError{
			Code: wire.ErrCodeInvalidFrame, Message: "name is required",
		}
	}
	if len(name.StringVal()) > maxNameLen {
		return state.Value{}, &keeper.HandlerError{
			Code:    wire.ErrCodeInvalidFrame,
			Message: fmt.Sprintf("name exceeds %d characters", maxNameLen),
		}
	}
	root.Map("roster").Container(ctx.PlayerID).SetField("name", name)
	return name, nil
}

// arenaMultiplier prices the played card before the handler runs. High
// cards are rarer and score double.
func arenaMultiplier(_ context.Context, payload state.Value, _ *keeper.Context) (any, error) {
	card, ok := payload.Get("card")
	if !ok || card.Kind() != state.KindInt {
		return int64(1), nil
	}
	if card.IntVal() >= arenaCardMax-2 {
		return int64(2), nil
	}
	return int64(1), nil
}

func arenaPlay(root *state.Container, payload state.Value, ctx *keeper.Context) (state.Value, error) {
	card, ok := payload.Get("card")
	if !ok || card.Kind() != state.KindInt {
		return state.Value{}, &keeper.HandlerError{
			Code: wire.ErrCodeInvalidFrame, Message: "card is required",
		}
	}

	hands := root.Map("hands")
	handVal, _ := hands.Get(ctx.PlayerID)
	held := handVal.ArrayVal()
	idx := -1
	for i, c := range held {
		if c.Equal(card) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return state.Value{}, &keeper.HandlerError{
			Code: wire.ErrCodeUnknownAction, Message: "card not in hand",
		}
	}

	multiplier := int64(1)
	if m, ok := ctx.Resolved["multiplier"].(int64); ok {
		multiplier = m
	}

	scores := root.Map("scores")
	prev, _ := scores.Get(ctx.PlayerID)
	score := prev.IntVal() + card.IntVal()*multiplier
	scores.SetKey(ctx.PlayerID, score)

	// Replace the played card with a fresh draw.
	next := make([]any, 0, len(held))
	for i, c := range held {
		if i == idx {
			next = append(next, ctx.Services.Rand.Intn(arenaCardMax)+1)
			continue
		}
		next = append(next, c.ToInterface())
	}
	hands.SetKey(ctx.PlayerID, next)
	root.SetField("phase", "playing")

	ctx.SendEvent(keeper.TargetOthers(), "cardPlayed", map[string]any{
		"player": ctx.PlayerID,
		"card":   card.IntVal(),
		"score":  score,
	})
	return state.MapValue(map[string]state.Value{"score": state.Int(score)}), nil
}

func arenaEmote(_ *state.Container, payload state.Value, ctx *keeper.Context) error {
	emote, ok := payload.Get("emote")
	if !ok || emote.Kind() != state.KindString {
		return &keeper.HandlerError{
			Code: wire.ErrCodeInvalidFrame, Message: "emote is required",
		}
	}
	ctx.SendEvent(keeper.TargetOthers(), "emote", map[string]any{
		"player": ctx.PlayerID,
		"emote":  emote.StringVal(),
	})
	return nil
}

func arenaTick(root *state.Container, ctx *keeper.Context) error {
	if ctx.Tick == 0 || ctx.Tick%arenaRoundTicks != 0 {
		return nil
	}
	cur, _ := root.Field("round")
	round := cur.IntVal() + 1
	root.SetField("round", round)

	// A random joined player gets the round bonus.
	roster := root.Map("roster")
	keys := roster.Keys()
	if len(keys) > 0 {
		winner := keys[ctx.Services.Rand.Intn(len(keys))]
		scores := root.Map("scores")
		prev, _ := scores.Get(winner)
		scores.SetKey(winner, prev.IntVal()+5)
		ctx.SendEvent(keeper.TargetAll(), "roundStarted", map[string]any{
			"round": round,
			"bonus": winner,
		})
		return nil
	}
	ctx.SendEvent(keeper.TargetAll(), "roundStarted", map[string]any{"round": round})
	return nil
}
