// Package cluster implements the optional multi-node session registry: a
// PlayerID to node lease table plus a kick bus. Together they preserve the
// single-session policy across API nodes behind a load balancer. Single-node
// deployments run with a nil *Registry, which disables everything.
package cluster

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// LeaseStore is the shared PlayerID to nodeID table. Implementations must
// provide atomic conditional-write semantics: Claim takes over the lease and
// reports the previous holder in one step.
type LeaseStore interface {
	// Claim binds playerID to nodeID with the given TTL and returns the
	// node that held the lease before, or "" when it was free.
	Claim(ctx context.Context, playerID, nodeID string, ttl time.Duration) (prev string, err error)

	// Refresh extends the lease, failing silently if the holder changed.
	Refresh(ctx context.Context, playerID, nodeID string, ttl time.Duration) error

	// Release drops the lease if nodeID still holds it.
	Release(ctx context.Context, playerID, nodeID string) error
}

// MemoryLeaseStore is the in-process LeaseStore with TTL expiry. It backs
// single-process tests and deployments where the table is colocated; the
// interface boundary is where a shared store (Redis, NATS KV) plugs in.
type MemoryLeaseStore struct {
	mu sync.Mutex
	c  *gocache.Cache
}

// NewMemoryLeaseStore creates a store that expires abandoned leases.
func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{
		c: gocache.New(gocache.NoExpiration, time.Minute),
	}
}

// Claim implements LeaseStore.
func (s *MemoryLeaseStore) Claim(_ context.Context, playerID, nodeID string, ttl time.Duration) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := ""
	if v, ok := s.c.Get(playerID); ok {
		prev = v.(string)
	}
	s.c.Set(playerID, nodeID, ttl)
	if prev == nodeID {
		return "", nil
	}
	return prev, nil
}

// Refresh implements LeaseStore.
func (s *MemoryLeaseStore) Refresh(_ context.Context, playerID, nodeID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.c.Get(playerID); !ok || v.(string) != nodeID {
		return nil
	}
	s.c.Set(playerID, nodeID, ttl)
	return nil
}

// Release implements LeaseStore.
func (s *MemoryLeaseStore) Release(_ context.Context, playerID, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.c.Get(playerID); !ok || v.(string) != nodeID {
		return nil
	}
	s.c.Delete(playerID)
	return nil
}
