package syncengine

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keeperhq/landkit/pkg/state"
	"github.com/keeperhq/landkit/pkg/wire"
)

func newRoot(t *testing.T) (*state.Container, *state.Recorder) {
	t.Helper()
	root := state.NewContainer()
	rec := state.NewRecorder()
	root.Bind("", rec)
	require.NoError(t, root.DefineField("count", state.PolicyBroadcast))
	require.NoError(t, root.DefineField("inventories", state.PolicyPerPlayer))
	require.NoError(t, root.DefineField("secrets", state.PolicyInternal))
	return root, rec
}

func byPlayer(ups []PlayerUpdate) map[string]PlayerUpdate {
	m := make(map[string]PlayerUpdate, len(ups))
	for _, u := range ups {
		m[u.PlayerID] = u
	}
	return m
}

func TestFirstSyncThenIncremental(t *testing.T) {
	root, rec := newRoot(t)
	root.SetField("count", 0)

	e := New(Config{})
	e.AddPlayer("P1")

	ups := byPlayer(e.Sync(root, rec))
	first := ups["P1"].Update
	require.Equal(t, wire.UpdateFirstSync, first.Kind)
	count, ok := first.Snapshot.Get("count")
	require.True(t, ok)
	require.True(t, state.Int(0).Equal(count))
	_, hasSecrets := first.Snapshot.Get("secrets")
	require.False(t, hasSecrets, "internal fields never reach a client snapshot")

	root.SetField("count", 1)
	ups = byPlayer(e.Sync(root, rec))
	u := ups["P1"]
	require.Equal(t, ModeIncremental, u.Mode)
	require.Equal(t, wire.UpdateDiff, u.Update.Kind)
	require.Len(t, u.Update.Patches, 1)
	require.Equal(t, "/count", u.Update.Patches[0].Path)
	require.True(t, state.Int(1).Equal(u.Update.Patches[0].Value))

	// Quiet tick.
	ups = byPlayer(e.Sync(root, rec))
	require.Equal(t, wire.UpdateNoChange, ups["P1"].Update.Kind)
}

func TestPerPlayerPatchesStayPrivate(t *testing.T) {
	root, rec := newRoot(t)
	root.SetField("count", 0)

	e := New(Config{})
	e.AddPlayer("P1")
	e.AddPlayer("P2")
	e.Sync(root, rec)

	inv := root.Map("inventories")
	inv.Container("P1").SetField("gold", 10)

	ups := byPlayer(e.Sync(root, rec))
	p1 := ups["P1"].Update
	require.Equal(t, wire.UpdateDiff, p1.Kind)
	require.NotEmpty(t, p1.Patches)
	for _, p := range p1.Patches {
		require.Contains(t, p.Path, "/inventories/P1")
	}
	require.Equal(t, wire.UpdateNoChange, ups["P2"].Update.Kind,
		"another player's per-player mutation must not leak")
}

func TestIncrementalStreamMatchesSnapshot(t *testing.T) {
	root, rec := newRoot(t)
	root.SetField("count", 0)

	e := New(Config{})
	e.AddPlayer("P1")
	first := byPlayer(e.Sync(root, rec))["P1"].Update
	client := first.Snapshot

	root.SetField("count", 1)
	inv := root.Map("inventories")
	inv.Container("P1").SetField("gold", 5)
	inv.Container("P2").SetField("gold", 7)
	root.Container("secrets").SetField("seed", 42)

	u := byPlayer(e.Sync(root, rec))["P1"].Update
	require.Equal(t, wire.UpdateDiff, u.Kind)
	client = state.ApplyPatches(client, u.Patches)

	want := root.SnapshotFor("P1", state.Scope{})
	require.True(t, want.Equal(client),
		"replaying the visible patch stream must reproduce the filtered snapshot:\n got %v\nwant %v",
		client.ToInterface(), want.ToInterface())
}

func TestUncoveredDirtyFallsBackToDirtyDiff(t *testing.T) {
	root, rec := newRoot(t)
	root.SetField("count", 0)

	e := New(Config{})
	e.AddPlayer("P1")
	e.Sync(root, rec)

	// Mutations whose patches were lost: drain the recorder behind the
	// engine's back so dirty bits remain without covering patches.
	root.SetField("count", 9)
	rec.Clear()

	u := byPlayer(e.Sync(root, rec))["P1"]
	require.Equal(t, ModeDirtyDiff, u.Mode)
	require.Equal(t, wire.UpdateDiff, u.Update.Kind)
	require.Len(t, u.Update.Patches, 1)
	require.Equal(t, "/count", u.Update.Patches[0].Path)
	require.True(t, state.Int(9).Equal(u.Update.Patches[0].Value))
}

func TestDisabledTrackingUsesFullDiff(t *testing.T) {
	root, rec := newRoot(t)
	root.SetField("count", 0)

	e := New(Config{DirtyTracking: DirtyTrackingDisabled})
	require.False(t, e.TrackingActive())
	e.AddPlayer("P1")
	e.Sync(root, rec)

	root.SetField("count", 3)
	u := byPlayer(e.Sync(root, rec))["P1"]
	require.Equal(t, ModeFullDiff, u.Mode)
	require.Equal(t, wire.UpdateDiff, u.Update.Kind)
	require.Len(t, u.Update.Patches, 1)
	require.Equal(t, "/count", u.Update.Patches[0].Path)
}

func TestDesyncRecoveryIsDiffAgainstBaseline(t *testing.T) {
	root, rec := newRoot(t)
	root.SetField("count", 0)

	e := New(Config{})
	e.AddPlayer("P1")
	e.Sync(root, rec)

	root.SetField("count", 5)
	e.MarkDesynced("P1")
	u := byPlayer(e.Sync(root, rec))["P1"].Update
	require.Equal(t, wire.UpdateDiff, u.Kind)
	require.True(t, u.Snapshot.IsNull(), "recovery reuses the client baseline, no snapshot resend")
	require.Len(t, u.Patches, 1)
	require.Equal(t, "/count", u.Patches[0].Path)
}

func TestRemovePlayerDropsView(t *testing.T) {
	root, rec := newRoot(t)
	e := New(Config{})
	e.AddPlayer("P1")
	e.AddPlayer("P2")
	e.RemovePlayer("P2")

	ups := e.Sync(root, rec)
	require.Len(t, ups, 1)
	require.Equal(t, "P1", ups[0].PlayerID)
}

func TestAdaptiveSwitchDisablesAndRestoresTracking(t *testing.T) {
	root, rec := newRoot(t)
	root.SetField("count", 0)

	e := New(Config{
		DirtyTracking:    DirtyTrackingAdaptive,
		AdaptiveOffAfter: 2,
		AdaptiveOnAfter:  2,
	})
	e.AddPlayer("P1")
	e.Sync(root, rec) // primes the adaptive baseline
	require.True(t, e.TrackingActive())

	// Redundant churn: many writes to the same field make the patch stream
	// far larger than the structural diff.
	for tick := 0; tick < 2; tick++ {
		for i := 0; i < 50; i++ {
			root.SetField("count", i)
		}
		e.Sync(root, rec)
	}
	require.False(t, e.TrackingActive(), "churn should disable dirty tracking")

	// Single writes per tick: patch stream no larger than the diff.
	for tick := 0; tick < 2; tick++ {
		root.SetField("count", 100+tick)
		e.Sync(root, rec)
	}
	require.True(t, e.TrackingActive(), "tight patch streams should restore tracking")
}

func TestMapEntryRemovalReachesOnlyOwner(t *testing.T) {
	root, rec := newRoot(t)
	e := New(Config{})
	inv := root.Map("inventories")
	inv.Container("P1").SetField("gold", 1)
	inv.Container("P2").SetField("gold", 2)

	e.AddPlayer("P1")
	e.AddPlayer("P2")
	e.Sync(root, rec)

	root.Map("inventories").DeleteKey("P2")
	ups := byPlayer(e.Sync(root, rec))
	require.Equal(t, wire.UpdateNoChange, ups["P1"].Update.Kind)

	p2 := ups["P2"].Update
	require.Equal(t, wire.UpdateDiff, p2.Kind)
	require.Len(t, p2.Patches, 1)
	require.Equal(t, "/inventories/P2", p2.Patches[0].Path)
	require.Equal(t, state.OpRemove, p2.Patches[0].Op)
}
