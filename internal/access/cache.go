package access

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"fieldsync-server/internal/model"
)

// ErrFetchFailed wraps a failed permission fetch. Callers must treat the
// item as unauthorized, never fail open.
var ErrFetchFailed = errors.New("permission fetch failed")

// Fetcher is the privileged collaborator call behind a cache miss.
type Fetcher interface {
	AccessRows(ctx context.Context, userID int64) ([]model.AccessRow, error)
}

const (
	DefaultCapacity = 100
	evictBatch      = 50
)

// Cache keeps one snapshot per user in insertion order. When the store
// grows past capacity the oldest 50 entries are dropped wholesale; cheap
// bookkeeping beats temporal precision here because snapshots rebuild in
// one fetch. Concurrent first requests for the same user share a single
// in-flight fetch.
type Cache struct {
	fetcher  Fetcher
	capacity int

	mu       sync.Mutex
	order    []int64
	entries  map[int64]*Snapshot
	inflight map[int64]*pendingFetch
}

type pendingFetch struct {
	done chan struct{}
	snap *Snapshot
	err  error
}

func NewCache(fetcher Fetcher, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		fetcher:  fetcher,
		capacity: capacity,
		entries:  make(map[int64]*Snapshot),
		inflight: make(map[int64]*pendingFetch),
	}
}

// Get returns the cached snapshot for the user, fetching and converting
// the flat access rows on miss.
func (c *Cache) Get(ctx context.Context, userID int64) (*Snapshot, error) {
	c.mu.Lock()
	if snap, ok := c.entries[userID]; ok {
		c.mu.Unlock()
		return snap, nil
	}
	if pending, ok := c.inflight[userID]; ok {
		c.mu.Unlock()
		select {
		case <-pending.done:
			return pending.snap, pending.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	pending := &pendingFetch{done: make(chan struct{})}
	c.inflight[userID] = pending
	c.mu.Unlock()

	rows, err := c.fetcher.AccessRows(ctx, userID)
	if err != nil {
		pending.err = fmt.Errorf("%w: %v", ErrFetchFailed, err)
	} else {
		pending.snap = FromRows(rows)
	}

	c.mu.Lock()
	delete(c.inflight, userID)
	if pending.err == nil {
		c.storeLocked(userID, pending.snap)
	}
	c.mu.Unlock()
	close(pending.done)

	return pending.snap, pending.err
}

func (c *Cache) storeLocked(userID int64, snap *Snapshot) {
	if _, ok := c.entries[userID]; !ok {
		c.order = append(c.order, userID)
	}
	c.entries[userID] = snap
	if len(c.order) > c.capacity {
		drop := evictBatch
		if drop > len(c.order) {
			drop = len(c.order)
		}
		for _, id := range c.order[:drop] {
			delete(c.entries, id)
		}
		c.order = append([]int64(nil), c.order[drop:]...)
	}
}

// Reset clears every cached snapshot. Must run whenever the access table
// itself is mutated so no principal observes a stale grant.
func (c *Cache) Reset() {
	c.mu.Lock()
	c.entries = make(map[int64]*Snapshot)
	c.order = nil
	c.mu.Unlock()
}

// Len reports the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Contains reports whether a snapshot for the user is currently cached.
func (c *Cache) Contains(userID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[userID]
	return ok
}
