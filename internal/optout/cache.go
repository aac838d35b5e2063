package optout

import (
	"context"
	"fmt"
	"hash/maphash"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

const (
	shardCount = 16

	minCapacity = 16
	maxCapacity = 16384
)

// Persister is the durable side of the cache. *store.Store implements it.
type Persister interface {
	Lookup(ctx context.Context, id uuid.UUID) (bool, error)
	Save(ctx context.Context, id uuid.UUID, excluded bool) error
}

// Cache holds the ids of active players who are excluded. It is safe for
// concurrent use. Reads take a per-shard read lock and never touch the
// store.
//
// Direct writes and deactivations win over activation loads still in
// flight: a load only applies its result if no write or deactivation for
// that id happened since it was scheduled. Persisted writes for one id may
// still land in the store out of issue order.
type Cache struct {
	store  Persister
	sched  Scheduler
	logger *slog.Logger

	seed    maphash.Seed
	shards  [shardCount]shard
	tickets atomic.Uint64
}

type shard struct {
	mu       sync.RWMutex
	excluded map[uuid.UUID]struct{}
	// loads maps an id to the ticket of its pending activation load.
	loads map[uuid.UUID]uint64
}

// InitialCapacity sizes the cache for a quarter of maxPopulation opting
// out, clamped to [16, 16384].
func InitialCapacity(maxPopulation int) int {
	return min(max(minCapacity, maxPopulation/4), maxCapacity)
}

// New returns an empty cache persisting through store and running I/O on
// sched. maxPopulation is the expected peak number of active players.
func New(store Persister, sched Scheduler, logger *slog.Logger, maxPopulation int) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if sched == nil {
		return nil, fmt.Errorf("scheduler is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if maxPopulation <= 0 {
		return nil, fmt.Errorf("maxPopulation must be positive, got: %d", maxPopulation)
	}

	capacity := InitialCapacity(maxPopulation)
	perShard := (capacity + shardCount - 1) / shardCount

	c := &Cache{
		store:  store,
		sched:  sched,
		logger: logger,
		seed:   maphash.MakeSeed(),
	}
	for i := range c.shards {
		c.shards[i].excluded = make(map[uuid.UUID]struct{}, perShard)
		c.shards[i].loads = make(map[uuid.UUID]uint64)
	}

	logger.Debug("opt-out cache initialized", "capacity", capacity, "shards", shardCount)
	return c, nil
}

func (c *Cache) shard(id uuid.UUID) *shard {
	return &c.shards[maphash.Comparable(c.seed, id)%shardCount]
}

// IsExcluded reports whether id is an active, excluded player.
func (c *Cache) IsExcluded(id uuid.UUID) bool {
	if id == uuid.Nil {
		c.logger.Warn("attempted to check opt-out status with nil id")
		return false
	}
	sh := c.shard(id)
	sh.mu.RLock()
	_, ok := sh.excluded[id]
	sh.mu.RUnlock()
	return ok
}

// SetExcluded updates the cache immediately and persists asynchronously.
// A failed persist is logged and the cache keeps the new value.
func (c *Cache) SetExcluded(id uuid.UUID, excluded bool) {
	if id == uuid.Nil {
		c.logger.Warn("attempted to set opt-out status with nil id")
		return
	}
	sh := c.shard(id)
	sh.mu.Lock()
	sh.apply(id, excluded)
	sh.mu.Unlock()

	c.persist(id, excluded)
}

// Toggle flips the cached value for id, persists it and returns it. The
// flip is atomic with respect to other writes for the same id.
func (c *Cache) Toggle(id uuid.UUID) bool {
	if id == uuid.Nil {
		c.logger.Warn("attempted to toggle opt-out status with nil id")
		return false
	}
	sh := c.shard(id)
	sh.mu.Lock()
	_, was := sh.excluded[id]
	next := !was
	sh.apply(id, next)
	sh.mu.Unlock()

	c.persist(id, next)
	return next
}

// OnActivate loads the stored preference for id in the background. Until
// the load completes the player reads as not excluded.
func (c *Cache) OnActivate(id uuid.UUID) {
	if id == uuid.Nil {
		c.logger.Warn("attempted to activate nil id")
		return
	}
	ticket := c.tickets.Add(1)
	sh := c.shard(id)
	sh.mu.Lock()
	sh.loads[id] = ticket
	sh.mu.Unlock()

	c.sched.Go(func() {
		excluded, err := c.store.Lookup(context.Background(), id)
		if err != nil {
			sh.finishLoad(id, ticket, false)
			c.logger.Warn("failed to load opt-out status", "playerId", id, "error", err)
			return
		}
		if !sh.finishLoad(id, ticket, excluded) {
			c.logger.Debug("discarded stale opt-out load", "playerId", id, "excluded", excluded)
			return
		}
		c.logger.Debug("player activated", "playerId", id, "excluded", excluded)
	})
}

// OnDeactivate evicts id. The store is left untouched.
func (c *Cache) OnDeactivate(id uuid.UUID) {
	if id == uuid.Nil {
		c.logger.Warn("attempted to deactivate nil id")
		return
	}
	sh := c.shard(id)
	sh.mu.Lock()
	delete(sh.loads, id)
	_, was := sh.excluded[id]
	delete(sh.excluded, id)
	sh.mu.Unlock()

	if was {
		c.logger.Debug("player deactivated, removed from cache", "playerId", id)
	}
}

// Size returns the number of cached excluded players.
func (c *Cache) Size() int {
	n := 0
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.RLock()
		n += len(sh.excluded)
		sh.mu.RUnlock()
	}
	return n
}

// Shutdown empties the cache. Loads still in flight are discarded.
func (c *Cache) Shutdown() {
	for i := range c.shards {
		sh := &c.shards[i]
		sh.mu.Lock()
		clear(sh.excluded)
		clear(sh.loads)
		sh.mu.Unlock()
	}
	c.logger.Info("opt-out cache shut down, cache cleared")
}

func (c *Cache) persist(id uuid.UUID, excluded bool) {
	c.sched.Go(func() {
		if err := c.store.Save(context.Background(), id, excluded); err != nil {
			c.logger.Warn("failed to write opt-out status", "playerId", id, "excluded", excluded, "error", err)
			return
		}
		c.logger.Debug("opt-out status persisted", "playerId", id, "excluded", excluded)
	})
}

// apply sets membership and cancels any pending load. Caller holds mu.
func (sh *shard) apply(id uuid.UUID, excluded bool) {
	delete(sh.loads, id)
	sh.setMember(id, excluded)
}

// setMember is the only writer of sh.excluded outside eviction. Caller holds mu.
func (sh *shard) setMember(id uuid.UUID, excluded bool) {
	if excluded {
		sh.excluded[id] = struct{}{}
	} else {
		delete(sh.excluded, id)
	}
}

// finishLoad applies a load result if ticket is still current for id.
func (sh *shard) finishLoad(id uuid.UUID, ticket uint64, excluded bool) bool {
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if sh.loads[id] != ticket {
		return false
	}
	delete(sh.loads, id)
	// A load that found nothing leaves membership alone.
	if excluded {
		sh.setMember(id, true)
	}
	return true
}
