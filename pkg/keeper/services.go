package keeper

import (
	"math/rand"
	"time"
)

// Clock is the only time source handlers may read. The keeper injects a
// tick-derived clock so replayed runs observe identical timestamps.
type Clock interface {
	Now() time.Time
}

// Rand is the only randomness source handlers may use. The keeper injects a
// seeded generator; the seed is part of the replay record.
type Rand interface {
	Int63n(n int64) int64
	Intn(n int) int
	Float64() float64
}

// Services are the non-state collaborators injected into every handler
// context. Extra carries host-supplied services by name; anything
// non-deterministic in Extra must be swappable for a playback stub by the
// replay verifier.
type Services struct {
	Clock Clock
	Rand  Rand
	Extra map[string]any
}

// tickClock derives time from the keeper's tick counter: tick N reads as
// base + N*interval. Identical across original runs and replays.
type tickClock struct {
	base     time.Time
	interval time.Duration
	tick     *uint64
}

func (c *tickClock) Now() time.Time {
	return c.base.Add(time.Duration(*c.tick) * c.interval)
}

// seededRand wraps math/rand with an explicit seed. Handlers get stream
// determinism as long as they draw in a deterministic order, which the
// single-writer loop guarantees.
type seededRand struct {
	r *rand.Rand
}

// NewSeededRand returns a deterministic Rand for the given seed.
func NewSeededRand(seed int64) Rand {
	return &seededRand{r: rand.New(rand.NewSource(seed))}
}

func (s *seededRand) Int63n(n int64) int64 { return s.r.Int63n(n) }
func (s *seededRand) Intn(n int) int       { return s.r.Intn(n) }
func (s *seededRand) Float64() float64     { return s.r.Float64() }
