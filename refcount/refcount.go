// Package refcount implements the two-level distributed reference count:
// local_holders per DRef on every worker, owner_populations per DRef on the
// owner only. See RefCounter for the on_materialize/on_drop/ref_at_owner/
// unref_at_owner protocol.
package refcount

import (
	"context"
	"sync"

	"xiaoshiai.cn/mempool/collections"
	"xiaoshiai.cn/mempool/log"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

// Notifier delivers ref/unref notifications to a DRef's owner when the
// owner is a different worker. Implementations must not block the caller
// of OnMaterialize/OnDrop on delivery — spec.md requires these be
// best-effort fire-and-forget: a failed notification is dropped, never
// retried.
type Notifier interface {
	NotifyRefAtOwner(ctx context.Context, dref ref.DRef, from ref.WorkerID)
	NotifyUnrefAtOwner(ctx context.Context, dref ref.DRef, from ref.WorkerID)
}

// Destroyer destroys the RefState for a local id once its owner-side
// population drops to zero. pool.Pool (backed by datastore+spill) supplies
// this.
type Destroyer interface {
	Destroy(id ref.LocalID) error
}

// RefCounter is the per-worker instance of the two-level protocol. Self is
// this worker's id: materializations of DRefs this worker itself owns are
// handled by calling RefAtOwner/UnrefAtOwner directly rather than through
// Notifier, per spec.md's "direct call if self" rule.
type RefCounter struct {
	self      ref.WorkerID
	notifier  Notifier
	destroyer Destroyer

	mu               sync.Mutex
	localHolders     map[ref.DRefKey]int
	ownerPopulations map[ref.DRefKey]collections.Set[ref.WorkerID]
}

func New(self ref.WorkerID, notifier Notifier, destroyer Destroyer) *RefCounter {
	return &RefCounter{
		self:             self,
		notifier:         notifier,
		destroyer:        destroyer,
		localHolders:     map[ref.DRefKey]int{},
		ownerPopulations: map[ref.DRefKey]collections.Set[ref.WorkerID]{},
	}
}

// OnMaterialize is called whenever a DRef becomes live on this worker:
// on construction from put, or on deserialization via ref.Registry. Only
// the first materialization of a given DRef on this worker notifies the
// owner — further local duplication is free.
func (c *RefCounter) OnMaterialize(ctx context.Context, dref ref.DRef) {
	key := dref.Key()

	c.mu.Lock()
	count, existed := c.localHolders[key]
	c.localHolders[key] = count + 1
	c.mu.Unlock()

	if existed {
		return
	}
	log.V(2).Info("first sight of ref on worker", "ref", log.Ref(dref.Owner, dref.ID), "worker", c.self)
	if dref.Owner == c.self {
		c.RefAtOwner(dref, c.self)
		return
	}
	go c.notifier.NotifyRefAtOwner(ctx, dref, c.self)
}

// OnDrop is called when a materialization is finalized. It is an error to
// drop a DRef that was never materialized here — a bug in finalizer
// wiring, not a race to paper over.
func (c *RefCounter) OnDrop(ctx context.Context, dref ref.DRef) error {
	key := dref.Key()

	c.mu.Lock()
	count, ok := c.localHolders[key]
	if !ok {
		c.mu.Unlock()
		return poolerrors.NewPreconditionViolation("unref without a prior ref for " + key.String())
	}
	count--
	lastDisappearance := count <= 0
	if lastDisappearance {
		delete(c.localHolders, key)
	} else {
		c.localHolders[key] = count
	}
	c.mu.Unlock()

	if !lastDisappearance {
		return nil
	}
	log.V(2).Info("last disappearance of ref on worker", "ref", log.Ref(dref.Owner, dref.ID), "worker", c.self)
	if dref.Owner == c.self {
		c.UnrefAtOwner(dref, c.self)
		return nil
	}
	go c.notifier.NotifyUnrefAtOwner(ctx, dref, c.self)
	return nil
}

// RefAtOwner runs on the owner, invoked directly for self-materializations
// or by the transport server handling a remote NotifyRefAtOwner. It counts
// distinct workers, not materializations: a worker already present in the
// population contributes nothing on a repeat call, which is what makes
// idempotent reconciliation (see pool.Reconcile) safe.
func (c *RefCounter) RefAtOwner(dref ref.DRef, from ref.WorkerID) {
	key := dref.Key()
	c.mu.Lock()
	set, ok := c.ownerPopulations[key]
	if !ok {
		set = collections.New[ref.WorkerID]()
		c.ownerPopulations[key] = set
	}
	set.Insert(from)
	c.mu.Unlock()
}

// UnrefAtOwner runs on the owner. When the population set empties, the
// RefState is destroyed.
func (c *RefCounter) UnrefAtOwner(dref ref.DRef, from ref.WorkerID) {
	key := dref.Key()
	c.mu.Lock()
	set, ok := c.ownerPopulations[key]
	empty := false
	if ok {
		set.Delete(from)
		empty = len(set) == 0
		if empty {
			delete(c.ownerPopulations, key)
		}
	}
	c.mu.Unlock()

	if !ok || !empty {
		return
	}
	if err := c.destroyer.Destroy(dref.ID); err != nil {
		log.Error(err, "destroy on zero population failed", "ref", log.Ref(dref.Owner, dref.ID))
	}
}

// LocalHolders returns the current local holder count for a DRef, for
// tests. Zero means not held here.
func (c *RefCounter) LocalHolders(dref ref.DRef) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.localHolders[dref.Key()]
}

// OwnerPopulation returns the number of distinct workers currently holding
// dref, valid only when queried on the owner.
func (c *RefCounter) OwnerPopulation(dref ref.DRef) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ownerPopulations[dref.Key()])
}

// Stats reports advisory counts for pool.Stats.
func (c *RefCounter) Stats() (localHeld, ownedLive int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.localHolders), len(c.ownerPopulations)
}

// Forget discards key's bookkeeping outright, without running Destroyer and
// without requiring the population to be empty first — used by pool.Delete
// to force-destroy a DRef regardless of its reference count. Any other
// worker still holding this DRef locally is left with a now-dangling
// reference; that is the explicit risk an operator accepts by calling
// Delete instead of closing every outstanding Handle.
func (c *RefCounter) Forget(key ref.DRefKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.localHolders, key)
	delete(c.ownerPopulations, key)
}

// LocalKeys returns the identity of every DRef currently materialized on
// this worker, for pool.Reconcile's idempotent heartbeat re-announcement.
func (c *RefCounter) LocalKeys() []ref.DRefKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]ref.DRefKey, 0, len(c.localHolders))
	for k := range c.localHolders {
		keys = append(keys, k)
	}
	return keys
}
