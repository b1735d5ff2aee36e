package cluster

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryLeaseClaimReportsPreviousHolder(t *testing.T) {
	s := NewMemoryLeaseStore()
	ctx := context.Background()

	prev, err := s.Claim(ctx, "P1", "node-a", time.Minute)
	require.NoError(t, err)
	require.Empty(t, prev, "fresh lease has no previous holder")

	prev, err = s.Claim(ctx, "P1", "node-b", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "node-a", prev)

	// Re-claiming your own lease is a refresh, not a takeover.
	prev, err = s.Claim(ctx, "P1", "node-b", time.Minute)
	require.NoError(t, err)
	require.Empty(t, prev)
}

func TestMemoryLeaseReleaseIsConditional(t *testing.T) {
	s := NewMemoryLeaseStore()
	ctx := context.Background()

	_, err := s.Claim(ctx, "P1", "node-a", time.Minute)
	require.NoError(t, err)
	_, err = s.Claim(ctx, "P1", "node-b", time.Minute)
	require.NoError(t, err)

	// node-a lost the lease; its release must not evict node-b's claim.
	require.NoError(t, s.Release(ctx, "P1", "node-a"))
	prev, err := s.Claim(ctx, "P1", "node-c", time.Minute)
	require.NoError(t, err)
	require.Equal(t, "node-b", prev)
}

func TestMemoryLeaseExpires(t *testing.T) {
	s := NewMemoryLeaseStore()
	ctx := context.Background()

	_, err := s.Claim(ctx, "P1", "node-a", 10*time.Millisecond)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		prev, err := s.Claim(ctx, "P1", "node-b", time.Minute)
		return err == nil && prev == ""
	}, time.Second, 5*time.Millisecond, "expired lease should look free")
}

// chanBus is an in-process KickBus for tests.
type chanBus struct {
	mu       sync.Mutex
	handlers map[string]func(Kick)
}

func newChanBus() *chanBus {
	return &chanBus{handlers: make(map[string]func(Kick))}
}

func (b *chanBus) Publish(_ context.Context, targetNode string, kick Kick) error {
	b.mu.Lock()
	h := b.handlers[targetNode]
	b.mu.Unlock()
	if h != nil {
		h(kick)
	}
	return nil
}

func (b *chanBus) Subscribe(nodeID string, handler func(Kick)) (func() error, error) {
	b.mu.Lock()
	b.handlers[nodeID] = handler
	b.mu.Unlock()
	return func() error {
		b.mu.Lock()
		delete(b.handlers, nodeID)
		b.mu.Unlock()
		return nil
	}, nil
}

func TestDuplicateJoinKicksPriorNode(t *testing.T) {
	store := NewMemoryLeaseStore()
	bus := newChanBus()

	kicksA := make(chan Kick, 1)
	nodeA := New(Config{NodeID: "node-a"}, store, bus)
	require.NoError(t, nodeA.Start(func(k Kick) { kicksA <- k }))
	defer nodeA.Close()

	nodeB := New(Config{NodeID: "node-b"}, store, bus)
	require.NoError(t, nodeB.Start(func(Kick) {}))
	defer nodeB.Close()

	ctx := context.Background()
	require.NoError(t, nodeA.AcquireSession(ctx, "P1"))
	require.NoError(t, nodeB.AcquireSession(ctx, "P1"))

	select {
	case k := <-kicksA:
		require.Equal(t, "P1", k.PlayerID)
		require.Equal(t, "node-b", k.FromNode)
		require.Equal(t, "replaced-by-new-session", k.Reason)
	case <-time.After(time.Second):
		t.Fatal("node-a never received the kick")
	}
}

func TestNilRegistryIsInert(t *testing.T) {
	var r *Registry
	require.NoError(t, r.Start(nil))
	require.NoError(t, r.AcquireSession(context.Background(), "P1"))
	r.ReleaseSession(context.Background(), "P1")
	r.Dropped("P1")
	r.Close()
}
