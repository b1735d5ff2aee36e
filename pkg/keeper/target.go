package keeper

// Target selects the recipients of a server-emitted event.
type Target struct {
	kind targetKind
	ids  []string
}

type targetKind int

const (
	targetAll targetKind = iota
	targetPlayer
	targetOthers
	targetList
)

// TargetAll fans the event out to every joined player.
func TargetAll() Target { return Target{kind: targetAll} }

// TargetPlayer addresses a single player.
func TargetPlayer(playerID string) Target {
	return Target{kind: targetPlayer, ids: []string{playerID}}
}

// TargetOthers addresses every joined player except the emitting command's
// originator. From a system context (onTick) it is equivalent to TargetAll.
func TargetOthers() Target { return Target{kind: targetOthers} }

// TargetList addresses an explicit player list. Unknown players are skipped.
func TargetList(playerIDs ...string) Target {
	return Target{kind: targetList, ids: playerIDs}
}

// recipients resolves the target against the joined-player set. joined is
// consulted so events never reach players who left before delivery.
func (t Target) recipients(origin string, joined map[string]*playerEntry) []string {
	switch t.kind {
	case targetPlayer, targetList:
		out := make([]string, 0, len(t.ids))
		for _, id := range t.ids {
			if _, ok := joined[id]; ok {
				out = append(out, id)
			}
		}
		return out
	case targetOthers:
		out := make([]string, 0, len(joined))
		for id := range joined {
			if id != origin {
				out = append(out, id)
			}
		}
		return out
	default:
		out := make([]string, 0, len(joined))
		for id := range joined {
			out = append(out, id)
		}
		return out
	}
}
