// Package lands holds the land types compiled into the node binary: a
// tick-driven arena and an event-driven lobby. They double as working
// examples for defining land types on top of the keeper API.
package lands

import (
	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/realm"
)

// Builtin returns the built-in land types with their default tuning. The
// start command overlays file configuration on top before registering.
func Builtin() map[string]realm.LandType {
	return map[string]realm.LandType{
		"arena": {
			Definition:            NewArena,
			Config:                ArenaDefaults(),
			AllowAutoCreateOnJoin: true,
			AllowGuestMode:        true,
		},
		"lobby": {
			Definition:            NewLobby,
			Config:                LobbyDefaults(),
			AllowAutoCreateOnJoin: true,
			AllowGuestMode:        true,
		},
	}
}

// Definitions returns the definition factory per built-in type, keyed the
// way recordings name their land type. The verify command uses this to
// rebuild a land for replay.
func Definitions() map[string]func() *keeper.Definition {
	return map[string]func() *keeper.Definition{
		"arena": NewArena,
		"lobby": NewLobby,
	}
}
