// Package deref implements the dereference protocol for both reference
// kinds: local/remote/spilled DRefs, and locality-routed FRefs with their
// file_to_dref cache.
package deref

import (
	"context"
	"sync"

	"xiaoshiai.cn/mempool/locality"
	"xiaoshiai.cn/mempool/log"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

// LocalStore is the local half of _get_local: lazy-restore-aware lookup of
// a payload this worker owns. pool.Pool implements this by combining
// datastore.DataStore and spill.Manager.
type LocalStore interface {
	GetLocal(ctx context.Context, id ref.LocalID, remote bool) (data []byte, fref *ref.FRef, err error)
}

// RemoteFetcher issues the blocking peer RPCs a dereference may need:
// fetching a DRef owned elsewhere, and reading the raw bytes of a file
// hosted on another worker (the FRef locality-routing path).
type RemoteFetcher interface {
	GetLocal(ctx context.Context, owner ref.WorkerID, id ref.LocalID) (data []byte, fref *ref.FRef, err error)
	FetchFile(ctx context.Context, worker ref.WorkerID, path string) ([]byte, error)
}

// FileReader reads a file this worker itself hosts, addressed by path
// rather than LocalID — the self-host half of an FRef dereference, where
// no RPC is needed. pool.Pool implements this via spill.Manager.ReadFileAt.
type FileReader interface {
	ReadFile(ctx context.Context, path string) ([]byte, error)
}

// Materializer inserts a payload freshly read from an FRef's file into the
// local pool, producing a new, locally-owned DRef — the "insert the
// materialized payload into the local pool via put(..., file=r.file,
// size=r.size)" step of spec.md §4.4. pool.Pool implements this.
type Materializer interface {
	PutFromFile(ctx context.Context, data []byte, file string, size int64) (ref.DRef, error)
}

// WhoHasReadReporter optionally tells the coordinator which DRef was
// materialized from which file, for the advisory who_has_read registry
// (spec.md §3). Nil disables the report.
type WhoHasReadReporter interface {
	NotifyWhoHasRead(ctx context.Context, file string, dref ref.DRef)
}

// Engine is the per-worker dereference dispatcher.
type Engine struct {
	self       ref.WorkerID
	local      LocalStore
	remote     RemoteFetcher
	fileReader FileReader
	resolver   *locality.Resolver
	put        Materializer
	whoRead    WhoHasReadReporter
	selfHost   string

	mu         sync.Mutex
	fileToDRef map[string]ref.DRef
}

type Options struct {
	Self       ref.WorkerID
	SelfHost   string
	Local      LocalStore
	Remote     RemoteFetcher
	FileReader FileReader
	Resolver   *locality.Resolver
	Put        Materializer
	WhoRead    WhoHasReadReporter // nil disables who_has_read reporting
}

func New(opts Options) *Engine {
	return &Engine{
		self:       opts.Self,
		selfHost:   opts.SelfHost,
		local:      opts.Local,
		remote:     opts.Remote,
		fileReader: opts.FileReader,
		resolver:   opts.Resolver,
		put:        opts.Put,
		whoRead:    opts.WhoRead,
		fileToDRef: map[string]ref.DRef{},
	}
}

// GetDRef dereferences r, transparently performing a lazy local restore, a
// blocking remote fetch, or following the remote's returned FRef to the
// file-serving peer.
func (e *Engine) GetDRef(ctx context.Context, r ref.DRef) ([]byte, error) {
	if r.Owner == e.self {
		data, fref, err := e.local.GetLocal(ctx, r.ID, false)
		if err != nil {
			return nil, err
		}
		if fref != nil {
			// LocalStore never returns an FRef for remote=false; guard
			// against a misbehaving implementation rather than silently
			// dropping data.
			return nil, poolerrors.NewPreconditionViolation("local dereference returned a file reference instead of data")
		}
		return data, nil
	}

	data, fref, err := e.remote.GetLocal(ctx, r.Owner, r.ID)
	if err != nil {
		return nil, err
	}
	if fref == nil {
		return data, nil
	}
	return e.GetFRef(ctx, *fref)
}

// GetFRef dereferences r, consulting the file_to_dref cache first, then
// the locality resolver to pick a worker able to read the file.
func (e *Engine) GetFRef(ctx context.Context, r ref.FRef) ([]byte, error) {
	if dref, ok := e.cachedDRef(r.File); ok {
		return e.GetDRef(ctx, dref)
	}

	data, err := e.readFileBytes(ctx, r)
	if err != nil {
		return nil, err
	}

	dref, err := e.put.PutFromFile(ctx, data, r.File, r.Size)
	if err != nil {
		return nil, err
	}
	e.cacheDRef(r.File, dref)
	if e.whoRead != nil {
		e.whoRead.NotifyWhoHasRead(ctx, r.File, dref)
	}
	return data, nil
}

func (e *Engine) readFileBytes(ctx context.Context, r ref.FRef) ([]byte, error) {
	if r.Host == e.selfHost {
		return e.fileReader.ReadFile(ctx, r.File)
	}

	worker, ok, err := e.resolver.WorkerAt(ctx, r.Host)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, poolerrors.NewTransportError(errNoWorkerAt(r.Host))
	}
	return e.remote.FetchFile(ctx, worker, r.File)
}

func (e *Engine) cachedDRef(file string) (ref.DRef, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	d, ok := e.fileToDRef[file]
	return d, ok
}

func (e *Engine) cacheDRef(file string, dref ref.DRef) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fileToDRef[file] = dref
	log.V(2).Info("cached file_to_dref", "file", file, "ref", log.Ref(dref.Owner, dref.ID))
}

// EvictFile drops file's cached file_to_dref entry, if any. Used by
// pool.DeleteFile when removing the underlying file so a later GetFRef
// is forced to treat it as gone rather than serving a stale cached DRef.
func (e *Engine) EvictFile(file string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.fileToDRef, file)
}

type errNoWorkerAt string

func (e errNoWorkerAt) Error() string {
	return "no worker known at host " + string(e)
}
