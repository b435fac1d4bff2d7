package mempool

import (
	"context"
	"fmt"

	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

// Put encodes value and inserts it as a new, locally-owned DRef, returning
// a Handle the caller must Close when done with it.
func (p *Pool) Put(ctx context.Context, value any, destroyOnEvict bool) (*Handle, error) {
	data, err := p.ser.Encode(value)
	if err != nil {
		return nil, poolerrors.NewIOError("encode payload", err)
	}
	dref, err := p.putBytes(ctx, data, "", int64(len(data)), destroyOnEvict)
	if err != nil {
		return nil, err
	}
	return &Handle{pool: p, dref: dref}, nil
}

// PutAt is Put with an explicit owner — spec.md §6's `put(value, owner)`
// form. A local owner is identical to Put; a remote owner is forwarded via
// RemotePut, and since the returned DRef arrives over the wire as a
// hook-free rawDRef rather than a ref.DRef (see transport/wire.go), this
// worker's own local materialization is registered explicitly rather than
// relying on a decode-time side effect.
func (p *Pool) PutAt(ctx context.Context, value any, owner ref.WorkerID, destroyOnEvict bool) (*Handle, error) {
	if owner == p.self {
		return p.Put(ctx, value, destroyOnEvict)
	}
	data, err := p.ser.Encode(value)
	if err != nil {
		return nil, poolerrors.NewIOError("encode payload", err)
	}
	dref, err := p.client.RemotePut(ctx, owner, data, "", int64(len(data)), destroyOnEvict)
	if err != nil {
		return nil, err
	}
	p.rc.OnMaterialize(ctx, dref)
	return &Handle{pool: p, dref: dref}, nil
}

// Wrap builds a Handle for a DRef received from elsewhere (e.g. embedded
// in a message this worker decoded), without performing a new put. The
// DRef's own CBOR decode hook already materialized it via OnConstruct;
// Wrap simply gives the caller a deterministic Close for that
// materialization.
func (p *Pool) Wrap(dref ref.DRef) *Handle {
	return &Handle{pool: p, dref: dref}
}

// Get dereferences dref — locally, remotely, or by following a spilled
// file's FRef as needed — and decodes the result into out.
func (p *Pool) Get(ctx context.Context, dref ref.DRef, out any) error {
	data, err := p.GetBytes(ctx, dref)
	if err != nil {
		return err
	}
	return p.ser.Decode(data, out)
}

// GetBytes is Get without decoding, for callers that already have the
// wire bytes they want (e.g. forwarding data on to a third party).
func (p *Pool) GetBytes(ctx context.Context, dref ref.DRef) ([]byte, error) {
	return p.dr.GetDRef(ctx, dref)
}

// GetFile dereferences an FRef directly, decoding the result into out.
// Ordinarily a caller only ever sees an FRef nested inside a DRef
// dereference (handled transparently by Get); GetFile exists for callers
// that already hold a bare FRef, e.g. one returned by MoveToDisk or
// SaveToDisk.
func (p *Pool) GetFile(ctx context.Context, fref ref.FRef, out any) error {
	data, err := p.dr.GetFRef(ctx, fref)
	if err != nil {
		return err
	}
	return p.ser.Decode(data, out)
}

// SetDestroyOnEvict toggles dref's eviction-policy candidacy, forwarding
// to the owner worker if this worker does not own it.
func (p *Pool) SetDestroyOnEvict(ctx context.Context, dref ref.DRef, flag bool) error {
	if dref.Owner == p.self {
		return p.sp.SetDestroyOnEvict(dref.ID, flag)
	}
	return p.client.SetDestroyOnEvictRemote(ctx, dref.Owner, dref.ID, flag)
}

// MoveToDisk spills dref to path (the owner's default path if empty);
// keepInMemory true is the copy_to_disk variant.
func (p *Pool) MoveToDisk(ctx context.Context, dref ref.DRef, path string, keepInMemory bool) (ref.FRef, error) {
	if dref.Owner == p.self {
		return p.sp.MoveToDisk(dref.ID, path, keepInMemory)
	}
	return p.client.MoveToDiskRemote(ctx, dref.Owner, dref.ID, path, keepInMemory)
}

// SaveToDisk writes a snapshot of dref's payload to path without altering
// its RefState — plain user-visible persistence, not spill bookkeeping.
func (p *Pool) SaveToDisk(ctx context.Context, dref ref.DRef, path string) (ref.FRef, error) {
	if dref.Owner == p.self {
		return p.sp.SaveToDisk(dref.ID, path)
	}
	return p.client.SaveToDiskRemote(ctx, dref.Owner, dref.ID, path)
}

// Delete force-destroys dref regardless of its current reference count,
// bypassing the ordinary Handle.Close unref protocol entirely. Idempotent:
// deleting an already-absent DRef is a no-op. Any other worker still
// holding a Handle onto dref is left with a now-dangling reference — Delete
// is for an operator who has already established no one else needs it, not
// a substitute for closing outstanding Handles.
func (p *Pool) Delete(ctx context.Context, dref ref.DRef) error {
	if dref.Owner == p.self {
		p.rc.Forget(dref.Key())
		return p.Destroy(dref.ID)
	}
	return p.client.DeleteRemote(ctx, dref.Owner, dref.ID)
}

// DeleteFile removes fref's underlying file and evicts any cached
// file_to_dref entry for it, so a later dereference of the same FRef fails
// outright instead of serving a stale cached DRef. Idempotent: deleting an
// already-absent file is a no-op (DeleteFromDisk's own contract).
func (p *Pool) DeleteFile(ctx context.Context, fref ref.FRef) error {
	p.dr.EvictFile(fref.File)
	if fref.Host == p.selfHost {
		return p.sp.DeleteFromDisk(fref.File)
	}
	worker, ok, err := p.resolver.WorkerAt(ctx, fref.Host)
	if err != nil {
		return err
	}
	if !ok {
		return poolerrors.NewTransportError(fmt.Errorf("no worker known at host %s", fref.Host))
	}
	return p.client.DeleteFromDiskRemote(ctx, worker, fref.File)
}

// DeleteFromDisk removes a file previously produced by MoveToDisk or
// SaveToDisk. owner identifies which worker hosts it — callers normally
// get this from the FRef.Host by resolving it through the locality
// resolver first; DeleteFromDisk takes an explicit owner instead because
// deletion is host-addressed, not worker-addressed, and the caller is
// expected to already know which worker to ask.
func (p *Pool) DeleteFromDisk(ctx context.Context, owner ref.WorkerID, path string) error {
	if owner == p.self {
		return p.sp.DeleteFromDisk(path)
	}
	return p.client.DeleteFromDiskRemote(ctx, owner, path)
}
