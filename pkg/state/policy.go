package state

// SyncPolicy governs who may observe a field or container element.
//
// The policy propagates by containment: everything below a per-player map
// entry is per-player for that entry's key, and everything below an internal
// field stays internal, regardless of the child's own annotation.
type SyncPolicy int

const (
	// PolicyBroadcast makes the field visible to every joined player.
	PolicyBroadcast SyncPolicy = iota

	// PolicyPerPlayer makes a map's entries visible only to the player whose
	// PlayerID equals the entry key.
	PolicyPerPlayer

	// PolicyInternal keeps the field server-side. It is filtered out of
	// every sync stream unconditionally, but still enters the canonical
	// state hash.
	PolicyInternal
)

func (p SyncPolicy) String() string {
	switch p {
	case PolicyBroadcast:
		return "broadcast"
	case PolicyPerPlayer:
		return "perPlayer"
	case PolicyInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Scope is the visibility attached to a recorded patch: the effective policy
// after containment propagation, plus the enclosing per-player key when the
// policy is PolicyPerPlayer.
type Scope struct {
	Policy    SyncPolicy
	PlayerKey string
}

// VisibleTo reports whether a patch with this scope may be delivered to the
// given player.
func (s Scope) VisibleTo(playerID string) bool {
	switch s.Policy {
	case PolicyBroadcast:
		return true
	case PolicyPerPlayer:
		return s.PlayerKey == playerID
	default:
		return false
	}
}

// child derives the scope of a child element. A parent scope that is already
// per-player or internal wins over the child's own policy.
func (s Scope) child(policy SyncPolicy, mapKey string) Scope {
	switch s.Policy {
	case PolicyInternal:
		return s
	case PolicyPerPlayer:
		if policy == PolicyInternal {
			return Scope{Policy: PolicyInternal}
		}
		return s
	default:
		switch policy {
		case PolicyPerPlayer:
			return Scope{Policy: PolicyPerPlayer, PlayerKey: mapKey}
		default:
			return Scope{Policy: policy}
		}
	}
}
