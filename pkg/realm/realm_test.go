package realm_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/keeperhq/landkit/pkg/keeper"
	"github.com/keeperhq/landkit/pkg/realm"
	"github.com/keeperhq/landkit/pkg/state"
)

func TestParseLandID(t *testing.T) {
	tests := []struct {
		in       string
		typ      string
		instance string
	}{
		{"counter:inst-a", "counter", "inst-a"},
		{"counter", "counter", ""},
		{"counter:", "counter", ""},
		{"a:b:c", "a", "b:c"},
		{"", "", ""},
	}
	for _, tt := range tests {
		id := realm.ParseLandID(tt.in)
		require.Equal(t, tt.typ, id.Type, "input %q", tt.in)
		require.Equal(t, tt.instance, id.Instance, "input %q", tt.in)
	}
}

func counterFactory() *keeper.Definition {
	return &keeper.Definition{
		Type: "counter",
		InitialState: func(root *state.Container) error {
			if err := root.DefineField("count", state.PolicyBroadcast); err != nil {
				return err
			}
			root.SetField("count", 0)
			return nil
		},
	}
}

func newRealm(t *testing.T) *realm.Realm {
	t.Helper()
	r := realm.New(realm.Options{})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.Shutdown(ctx)
	})
	return r
}

func TestRegisterIdempotence(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register("counter", realm.LandType{Definition: counterFactory}))
	require.NoError(t, r.Register("counter", realm.LandType{Definition: counterFactory}),
		"same factory again is a no-op")

	// Different factory while no keeper is alive: allowed.
	other := func() *keeper.Definition { return counterFactory() }
	require.NoError(t, r.Register("counter", realm.LandType{
		Definition:            other,
		AllowAutoCreateOnJoin: true,
	}))

	_, err := r.Route(realm.LandID{Type: "counter", Instance: "inst-a"})
	require.NoError(t, err)

	// Different factory with a live keeper: rejected.
	err = r.Register("counter", realm.LandType{Definition: counterFactory})
	require.ErrorIs(t, err, realm.ErrTypeInUse)

	// Same factory again stays a no-op even with a live keeper.
	require.NoError(t, r.Register("counter", realm.LandType{Definition: other}))
}

func TestRouteMintsInstanceWhenMissing(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register("counter", realm.LandType{Definition: counterFactory}))

	k, err := r.Route(realm.LandID{Type: "counter"})
	require.NoError(t, err)
	require.NotEmpty(t, k.InstanceID())
	require.Equal(t, "counter", k.LandType())

	// A second typed-only route creates a distinct instance.
	k2, err := r.Route(realm.LandID{Type: "counter"})
	require.NoError(t, err)
	require.NotEqual(t, k.InstanceID(), k2.InstanceID())
	require.Len(t, r.List(), 2)
}

func TestRouteErrors(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register("counter", realm.LandType{Definition: counterFactory}))

	_, err := r.Route(realm.LandID{Type: "unknown", Instance: "x"})
	require.ErrorIs(t, err, realm.ErrUnknownLandType)

	_, err = r.Route(realm.LandID{Type: "counter", Instance: "missing"})
	require.ErrorIs(t, err, realm.ErrLandNotFound,
		"auto-create disallowed for this type")
}

func TestRouteReturnsExistingKeeper(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register("counter", realm.LandType{
		Definition:            counterFactory,
		AllowAutoCreateOnJoin: true,
	}))

	id := realm.LandID{Type: "counter", Instance: "room-42"}
	k1, err := r.Route(id)
	require.NoError(t, err)
	k2, err := r.Route(id)
	require.NoError(t, err)
	require.Same(t, k1, k2)
}

func TestRemoveDrainsAndRecreatesFresh(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register("counter", realm.LandType{
		Definition:            counterFactory,
		AllowAutoCreateOnJoin: true,
	}))

	id := realm.LandID{Type: "counter", Instance: "room-42"}
	k1, err := r.Route(id)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, r.Remove(ctx, id.String(), "admin"))
	require.Equal(t, keeper.PhaseTerminated, k1.Phase())

	require.Eventually(t, func() bool {
		_, live := r.Get(id.String())
		return !live
	}, time.Second, time.Millisecond)

	// A subsequent route builds a fresh keeper with the initial state.
	k2, err := r.Route(id)
	require.NoError(t, err)
	require.NotSame(t, k1, k2)
	require.Equal(t, keeper.PhaseRunning, waitRunning(t, k2))
}

func waitRunning(t *testing.T, k *keeper.Keeper) keeper.Phase {
	t.Helper()
	require.Eventually(t, func() bool {
		return k.Phase() == keeper.PhaseRunning
	}, time.Second, time.Millisecond)
	return k.Phase()
}

func TestIdleKeeperIsEvicted(t *testing.T) {
	r := newRealm(t)
	require.NoError(t, r.Register("counter", realm.LandType{
		Definition:            counterFactory,
		AllowAutoCreateOnJoin: true,
		Config:                keeper.Config{IdleTimeout: 20 * time.Millisecond},
	}))

	id := realm.LandID{Type: "counter", Instance: "ephemeral"}
	_, err := r.Route(id)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, live := r.Get(id.String())
		return !live
	}, 2*time.Second, 5*time.Millisecond, "idle keeper should terminate and be evicted")
}

func TestRemoveUnknownLand(t *testing.T) {
	r := newRealm(t)
	err := r.Remove(context.Background(), "counter:nope", "admin")
	require.ErrorIs(t, err, realm.ErrLandNotFound)
}
