package keeper

import "time"

// Phase is the keeper lifecycle state. It is readable from any goroutine.
type Phase int32

const (
	PhaseInitializing Phase = iota
	PhaseRunning
	PhaseDraining
	PhaseTerminated
)

func (p Phase) String() string {
	switch p {
	case PhaseInitializing:
		return "initializing"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Stats is a point-in-time snapshot of one keeper, served by the admin API
// and exported as metrics.
type Stats struct {
	LandID     string    `json:"landID"`
	LandType   string    `json:"landType"`
	InstanceID string    `json:"instanceID"`
	Phase      string    `json:"phase"`
	Tick       uint64    `json:"tick"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"maxPlayers,omitempty"`
	QueueDepth int       `json:"queueDepth"`

	// TrackingActive reports whether the sync engine's incremental path is
	// currently in use (false when disabled or adaptively switched off).
	TrackingActive bool `json:"trackingActive"`

	LastSyncMode   string    `json:"lastSyncMode,omitempty"`
	PatchesEmitted uint64    `json:"patchesEmitted"`
	EventsEmitted  uint64    `json:"eventsEmitted"`
	StartedAt      time.Time `json:"startedAt"`
}
