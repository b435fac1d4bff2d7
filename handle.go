package mempool

import (
	"context"
	"sync/atomic"

	"xiaoshiai.cn/mempool/ref"
)

// Handle pairs a DRef with the scoped owner spec.md §9 recommends in place
// of relying on garbage-collection timing: Go has no reliable finalizers,
// so the caller that receives a Handle from Put is responsible for a
// deterministic Close, typically via defer. Close is idempotent — calling
// it twice is safe and only unrefs once.
type Handle struct {
	pool   *Pool
	dref   ref.DRef
	closed atomic.Bool
}

// DRef returns the underlying distributed reference, e.g. to hand to
// another worker so it can materialize its own Handle on arrival.
func (h *Handle) DRef() ref.DRef { return h.dref }

// Get decodes this handle's payload into out.
func (h *Handle) Get(ctx context.Context, out any) error {
	return h.pool.Get(ctx, h.dref, out)
}

// GetBytes returns this handle's payload without decoding it.
func (h *Handle) GetBytes(ctx context.Context) ([]byte, error) {
	return h.pool.GetBytes(ctx, h.dref)
}

// SetDestroyOnEvict toggles whether this ref is a candidate for the
// eviction policy, forwarding to the owner if it lives elsewhere.
func (h *Handle) SetDestroyOnEvict(ctx context.Context, flag bool) error {
	return h.pool.SetDestroyOnEvict(ctx, h.dref, flag)
}

// MoveToDisk, CopyToDisk, SaveToDisk, DeleteFromDisk forward to the owner
// worker's spill manager for this handle's ref.
func (h *Handle) MoveToDisk(ctx context.Context, path string) (ref.FRef, error) {
	return h.pool.MoveToDisk(ctx, h.dref, path, false)
}

func (h *Handle) CopyToDisk(ctx context.Context, path string) (ref.FRef, error) {
	return h.pool.MoveToDisk(ctx, h.dref, path, true)
}

func (h *Handle) SaveToDisk(ctx context.Context, path string) (ref.FRef, error) {
	return h.pool.SaveToDisk(ctx, h.dref, path)
}

// Delete force-destroys the underlying DRef regardless of its current
// reference count (see Pool.Delete) and marks this handle closed, so a
// later Close is a no-op rather than attempting an ordinary unref against
// bookkeeping that Delete already discarded.
func (h *Handle) Delete(ctx context.Context) error {
	h.closed.Store(true)
	return h.pool.Delete(ctx, h.dref)
}

// Close releases this worker's materialization of the DRef, notifying the
// owner (directly if local, via fire-and-forget RPC otherwise) once this
// was the last local holder. Safe to call more than once.
func (h *Handle) Close(ctx context.Context) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	return h.pool.rc.OnDrop(ctx, h.dref)
}
