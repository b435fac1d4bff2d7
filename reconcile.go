package mempool

import (
	"context"

	"golang.org/x/sync/errgroup"

	"xiaoshiai.cn/mempool/ref"
)

// Reconcile re-announces every DRef this worker currently holds to its
// owner, fanned out concurrently via errgroup, one goroutine per held DRef. It
// is a supplemented mitigation for spec.md §9's open question about lost
// ref notifications: RefAtOwner's owner-population set-insert is
// idempotent, so re-sending a ref this worker never actually lost is
// harmless, while re-sending one whose original notification was dropped
// repairs the leak. It is not a substitute for delivery guarantees — a
// worker that never calls Reconcile still leaks exactly as before.
func (p *Pool) Reconcile(ctx context.Context) error {
	keys := p.rc.LocalKeys()
	g, gctx := errgroup.WithContext(ctx)
	for _, k := range keys {
		k := k
		g.Go(func() error {
			dref := ref.DRef{Owner: k.Owner, ID: k.ID}
			if k.Owner == p.self {
				p.rc.RefAtOwner(dref, p.self)
				return nil
			}
			p.client.NotifyRefAtOwner(gctx, dref, p.self)
			return nil
		})
	}
	return g.Wait()
}

// Cleanup destroys every RefState this worker owns and removes its
// on-disk session directory. Intended for orderly shutdown, not for
// reclaiming refs this worker merely holds but does not own — those
// belong to their owner and are unaffected.
func (p *Pool) Cleanup(ctx context.Context) error {
	return p.sp.Cleanup()
}

// Stats reports advisory, non-authoritative counts for monitoring — no
// Prometheus registry, just a plain snapshot struct per spec.md's
// Non-goals around metrics/observability.
type Stats struct {
	// LocalHeld is the number of distinct DRefs materialized on this
	// worker right now, owned here or elsewhere.
	LocalHeld int
	// OwnedLive is the number of DRefs this worker owns that some worker
	// (possibly only itself) is still holding.
	OwnedLive int
	// WhoHasReadFiles is the number of distinct files with at least one
	// known reader in the advisory who_has_read registry.
	WhoHasReadFiles int
}

// ListSpilled returns every file path found under this worker's spill
// session directory, read straight from disk rather than the DataStore —
// a diagnostics view, not part of the dereference path.
func (p *Pool) ListSpilled() ([]string, error) {
	return p.sp.ListSpilled()
}

func (p *Pool) Stats() Stats {
	localHeld, ownedLive := p.rc.Stats()
	return Stats{
		LocalHeld:       localHeld,
		OwnedLive:       ownedLive,
		WhoHasReadFiles: p.whoRead.fileCount(),
	}
}
