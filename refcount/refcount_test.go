package refcount_test

import (
	"context"
	"sync"
	"testing"

	"xiaoshiai.cn/mempool/ref"
	"xiaoshiai.cn/mempool/refcount"
)

// cluster wires N in-process RefCounters together with a notifier that
// delivers ref/unref messages synchronously (via a WaitGroup, since the
// real OnMaterialize/OnDrop dispatch notifications from a goroutine).
type cluster struct {
	wg        sync.WaitGroup
	counters  map[ref.WorkerID]*refcount.RefCounter
	destroyed []ref.LocalID
	mu        sync.Mutex
}

func newCluster(workers ...ref.WorkerID) *cluster {
	c := &cluster{counters: map[ref.WorkerID]*refcount.RefCounter{}}
	for _, w := range workers {
		c.counters[w] = refcount.New(w, c, c)
	}
	return c
}

func (c *cluster) NotifyRefAtOwner(ctx context.Context, d ref.DRef, from ref.WorkerID) {
	defer c.wg.Done()
	c.counters[d.Owner].RefAtOwner(d, from)
}

func (c *cluster) NotifyUnrefAtOwner(ctx context.Context, d ref.DRef, from ref.WorkerID) {
	defer c.wg.Done()
	c.counters[d.Owner].UnrefAtOwner(d, from)
}

func (c *cluster) Destroy(id ref.LocalID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.destroyed = append(c.destroyed, id)
	return nil
}

func (c *cluster) materialize(worker ref.WorkerID, d ref.DRef) {
	if d.Owner != worker {
		c.wg.Add(1)
	}
	c.counters[worker].OnMaterialize(context.Background(), d)
	c.wg.Wait()
}

func (c *cluster) drop(worker ref.WorkerID, d ref.DRef) {
	if d.Owner != worker {
		c.wg.Add(1)
	}
	if err := c.counters[worker].OnDrop(context.Background(), d); err != nil {
		panic(err)
	}
	c.wg.Wait()
}

// S1 — local put/get: materializing and counting on the owner itself.
func TestLocalPutGet(t *testing.T) {
	c := newCluster(1)
	d := ref.DRef{Owner: 1, ID: 1, Size: 5}
	c.materialize(1, d)

	if got := c.counters[1].LocalHolders(d); got != 1 {
		t.Fatalf("local_holders = %d, want 1", got)
	}
	if got := c.counters[1].OwnerPopulation(d); got != 1 {
		t.Fatalf("owner_populations = %d, want 1", got)
	}
}

// S2 — cross-worker fan-out: put on 1, held on 2 and 3, drop in sequence.
func TestCrossWorkerFanOut(t *testing.T) {
	c := newCluster(1, 2, 3)
	d := ref.DRef{Owner: 1, ID: 1, Size: 5}

	c.materialize(1, d)
	c.materialize(2, d)
	c.materialize(3, d)
	if got := c.counters[1].OwnerPopulation(d); got != 3 {
		t.Fatalf("owner_populations = %d, want 3", got)
	}

	c.drop(2, d)
	if got := c.counters[1].OwnerPopulation(d); got != 2 {
		t.Fatalf("owner_populations after drop(2) = %d, want 2", got)
	}

	c.drop(3, d)
	if got := c.counters[1].OwnerPopulation(d); got != 1 {
		t.Fatalf("owner_populations after drop(3) = %d, want 1", got)
	}

	c.drop(1, d)
	if got := c.counters[1].OwnerPopulation(d); got != 0 {
		t.Fatalf("owner_populations after drop(1) = %d, want 0", got)
	}
	if len(c.destroyed) != 1 || c.destroyed[0] != d.ID {
		t.Fatalf("expected destroy(%d), got %v", d.ID, c.destroyed)
	}
}

// S3 — local duplication does not fan out: 100 local materializations on
// worker 2 must only ever send one ref_at_owner to worker 1.
func TestLocalDuplicationDoesNotFanOut(t *testing.T) {
	c := newCluster(1, 2)
	d := ref.DRef{Owner: 1, ID: 1, Size: 5}

	c.materialize(1, d)
	c.materialize(2, d)
	for i := 0; i < 99; i++ {
		// Further materializations on worker 2 must not call the notifier;
		// if they did, its wg.Done() would panic on a negative WaitGroup
		// counter since no Add(1) was issued for them.
		c.counters[2].OnMaterialize(context.Background(), d)
	}

	if got := c.counters[1].OwnerPopulation(d); got != 2 {
		t.Fatalf("owner_populations = %d, want 2", got)
	}
	if got := c.counters[2].LocalHolders(d); got != 100 {
		t.Fatalf("local_holders on worker 2 = %d, want 100", got)
	}
}

func TestOnDropWithoutMaterializeIsPreconditionViolation(t *testing.T) {
	c := newCluster(1)
	d := ref.DRef{Owner: 1, ID: 9}
	err := c.counters[1].OnDrop(context.Background(), d)
	if err == nil {
		t.Fatalf("expected precondition violation")
	}
}
