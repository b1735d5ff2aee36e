package lands

import (
	"strings"
	"time"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

const maxChatLen = 500

// LobbyDefaults is the default tuning for lobby instances. Lobbies are
// event-driven: no tick loop, sync happens when a handler asks for it.
func LobbyDefaults() keeper.Config {
	return keeper.Config{
		IdleTimeout: 10 * time.Minute,
	}
}

// NewLobby builds the lobby definition: presence plus chat. Chat messages
// travel as events and never enter the state tree; only the topic and the
// member roster are synchronized.
//
// State layout:
//
//	topic    broadcast  current room topic
//	members  broadcast  playerID -> {since}
//	stats    internal   message counter, admin-only
func NewLobby() *keeper.Definition {
	return &keeper.Definition{
		Type:         "lobby",
		InitialState: lobbyInitialState,
		Actions: map[string]keeper.ActionHandler{
			"setTopic": lobbySetTopic,
		},
		ClientEvents: map[string]keeper.ClientEventHandler{
			"chat": lobbyChat,
		},
		OnJoin:  lobbyJoin,
		OnLeave: lobbyLeave,
	}
}

func lobbyInitialState(root *state.Container) error {
	for name, policy := range map[string]state.SyncPolicy{
		"topic":   state.PolicyBroadcast,
		"members": state.PolicyBroadcast,
		"stats":   state.PolicyInternal,
	} {
		if err := root.DefineField(name, policy); err != nil {
			return err
		}
	}
	root.SetField("topic", "welcome")
	root.Container("stats").SetField("messages", 0)
	return nil
}

func lobbyJoin(root *state.Container, ctx *keeper.Context) error {
	root.Map("members").SetKey(ctx.PlayerID, map[string]any{"since": ctx.Tick})
	ctx.SendEvent(keeper.TargetOthers(), "memberJoined", map[string]any{
		"player": ctx.PlayerID,
	})
	ctx.SyncNow()
	return nil
}

func lobbyLeave(root *state.Container, ctx *keeper.Context) {
	root.Map("members").DeleteKey(ctx.PlayerID)
	ctx.SendEvent(keeper.TargetOthers(), "memberLeft", map[string]any{
		"player": ctx.PlayerID,
	})
	ctx.SyncNow()
}

func lobbySetTopic(root *state.Container, payload state.Value, ctx *keeper.Context) (state.Value, error) {
	topic, ok := payload.Get("topic")
	if !ok || topic.Kind() != state.KindString {
		return state.Value{}, &keeper.HandlerError{
			Code: wire.ErrCodeInvalidFrame, Message: "topic is required",
		}
	}
	trimmed := strings.TrimSpace(topic.StringVal())
	if trimmed == "" || len(trimmed) > 200 {
		return state.Value{}, &keeper.HandlerError{
			Code: wire.ErrCodeInvalidFrame, Message: "topic must be 1-200 characters",
		}
	}

	prev, _ := root.Field("topic")
	root.SetField("topic", trimmed)
	ctx.SendEvent(keeper.TargetAll(), "topicChanged", map[string]any{
		"topic": trimmed,
		"by":    ctx.PlayerID,
	})
	ctx.SyncNow()
	return prev, nil
}

func lobbyChat(root *state.Container, payload state.Value, ctx *keeper.Context) error {
	text, ok := payload.Get("text")
	if !ok || text.Kind() != state.KindString || text.StringVal() == "" {
		return &keeper.HandlerError{
			Code: wire.ErrCodeInvalidFrame, Message: "text is required",
		}
	}
	if len(text.StringVal()) > maxChatLen {
		return &keeper.HandlerError{
			Code: wire.ErrCodeInvalidFrame, Message: "message too long",
		}
	}

	stats := root.Container("stats")
	count, _ := stats.Field("messages")
	stats.SetField("messages", count.IntVal()+1)

	ctx.SendEvent(keeper.TargetAll(), "chat", map[string]any{
		"from": ctx.PlayerID,
		"text": text.StringVal(),
	})
	return nil
}
