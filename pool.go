// Package mempool implements a distributed, reference-counted in-memory
// object pool with optional disk spill. A Pool is one worker's view of
// the cluster: it holds payloads locally, tracks which other workers are
// holding a reference to data it owns, and transparently fetches or
// restores a payload wherever it actually lives.
//
// There is no cmd/ here — mempool is a library, used the way the teacher
// uses its own service packages: callers build an Options, call Serve (to
// also accept peer RPCs) or Dial (to act purely as a client), and wire the
// result into their own process.
package mempool

import (
	"context"
	"fmt"
	stdnet "net"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"xiaoshiai.cn/mempool/datastore"
	"xiaoshiai.cn/mempool/deref"
	"xiaoshiai.cn/mempool/fs"
	"xiaoshiai.cn/mempool/locality"
	netutil "xiaoshiai.cn/mempool/net"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
	"xiaoshiai.cn/mempool/refcount"
	"xiaoshiai.cn/mempool/serialize"
	"xiaoshiai.cn/mempool/spill"
	"xiaoshiai.cn/mempool/transport"
)

// Pool is one worker's handle onto the cluster. It implements
// transport.Backend (answering peer RPCs), ref.Registry (tracking DRefs
// that arrive over the wire inside a decoded struct), refcount.Destroyer
// and deref's LocalStore/FileReader/Materializer/WhoHasReadReporter
// collaborators, composing datastore, refcount, spill,
// locality and deref the way the teacher composes its own service
// packages out of smaller collaborators.
type Pool struct {
	self     ref.WorkerID
	selfHost string
	session  string

	ds       *datastore.DataStore
	rc       *refcount.RefCounter
	sp       *spill.Manager
	resolver *locality.Resolver
	dr       *deref.Engine
	ser      serialize.Serializer
	client   *transport.Client

	peerAddrs map[ref.WorkerID]string
	whoRead   *whoHasReadRegistry
	opts      *Options

	nextID *idCounter
}

// New wires every collaborator package into a single Pool per opts. It
// does not start a peer RPC listener — see Serve.
func New(opts *Options) (*Pool, error) {
	if opts == nil {
		opts = NewOptions()
	}
	peers, err := parsePeers(opts.Peers)
	if err != nil {
		return nil, err
	}
	self := ref.WorkerID(opts.Self)
	if _, ok := peers[self]; len(peers) > 0 && !ok {
		return nil, poolerrors.NewPreconditionViolation(fmt.Sprintf("self id %d not present in peers", self))
	}

	session := opts.Session
	if session == "" {
		session = uuid.NewString()
	}

	selfHost := opts.SelfHost
	if selfHost == "" {
		selfHost = deriveHost(peers[self], opts.Listen)
	}

	rootFS, err := (&fs.OSFileSystem{}).Sub(opts.SpillDir)
	if err != nil {
		return nil, poolerrors.NewIOError("root spill filesystem", err)
	}

	ds := datastore.New(self)
	client := transport.NewClient(self, peers)

	p := &Pool{
		self:      self,
		selfHost:  selfHost,
		session:   session,
		ds:        ds,
		client:    client,
		peerAddrs: peers,
		whoRead:   newWhoHasReadRegistry(),
		opts:      opts,
		nextID:    newIDCounter(),
	}

	var policy spill.Policy
	if opts.MaxMemSize > 0 {
		policy = spill.NewLRUPolicy(opts.MaxMemSize, p.onEvict)
	}
	p.sp = spill.New(spill.Options{
		Owner:       self,
		Session:     session,
		SelfHost:    selfHost,
		FS:          rootFS,
		DataStore:   ds,
		Policy:      policy,
		SpillToDisk: opts.SpillToDisk,
	})

	p.rc = refcount.New(self, client, p)
	p.resolver = locality.New(client, opts.EnableRandomFRefServe)

	derefOpts := deref.Options{
		Self:       self,
		SelfHost:   selfHost,
		Local:      p,
		Remote:     client,
		FileReader: p,
		Resolver:   p.resolver,
		Put:        p,
	}
	if opts.EnableWhoHasRead {
		derefOpts.WhoRead = p
	}
	p.dr = deref.New(derefOpts)
	p.ser = serialize.NewCBOR()

	ref.SetActiveRegistry(p)
	return p, nil
}

// onEvict is the LRU policy's eviction callback: spill to disk if enabled,
// otherwise destroy the entry outright (spec.md §4.6's "no spilling"
// configuration means destroy_on_evict entries are simply freed).
func (p *Pool) onEvict(id ref.LocalID, size int64) {
	if p.sp.SpillToDiskEnabled() {
		if _, err := p.sp.MoveToDisk(id, "", false); err != nil {
			_ = p.sp.Destroy(id)
			return
		}
		// Spilled, not destroyed: no longer a resident-memory eviction
		// candidate, so drop it from the policy's own bookkeeping too.
		p.sp.Forget(id)
		return
	}
	_ = p.sp.Destroy(id)
}

func parsePeers(raw []string) (map[ref.WorkerID]string, error) {
	peers := make(map[ref.WorkerID]string, len(raw))
	for _, entry := range raw {
		idStr, addr, ok := strings.Cut(entry, "=")
		if !ok {
			return nil, poolerrors.NewPreconditionViolation("peer entry must be id=host:port: " + entry)
		}
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			return nil, poolerrors.NewPreconditionViolation("invalid peer id in " + entry)
		}
		peers[ref.WorkerID(id)] = addr
	}
	return peers, nil
}

// deriveHost falls back to the configured peer address for self, or the
// bind address, when SelfHost is left empty. Only a literal IP is
// normalized through netutil — a DNS name is passed through unchanged.
func deriveHost(selfAddr, listen string) string {
	addr := selfAddr
	if addr == "" {
		addr = listen
	}
	host, _ := netutil.SplitHostPort(addr)
	if ip := stdnet.ParseIP(host); ip != nil {
		if fam := netutil.IPFamilyOf(ip); fam != netutil.IPFamilyUnknown {
			return ip.String()
		}
	}
	return host
}

// GetLocal implements both transport.Backend (answering a peer's RPC,
// remote=true) and deref.LocalStore (the lazy-restore-aware local lookup,
// remote=false). When a remote peer asks for data we have spilled, we
// hand back the FRef as-is rather than restoring it into our own memory
// on their behalf — the caller's locality resolver decides who reads it.
func (p *Pool) GetLocal(ctx context.Context, id ref.LocalID, remote bool) ([]byte, *ref.FRef, error) {
	snap, ok := p.ds.Lookup(id)
	if !ok {
		return nil, nil, poolerrors.NewMissingRef(p.self, id)
	}
	if remote && !snap.HasData && snap.HasFile {
		fref := ref.FRef{Host: p.selfHost, File: snap.File, Size: snap.Size}
		return nil, &fref, nil
	}
	data, err := p.sp.RestoreLocal(id)
	if err != nil {
		return nil, nil, err
	}
	return data, nil, nil
}

// putBytes is the single insertion path shared by Put, PutFromFile and
// RemotePut: allocate a local id, make room via the eviction policy for
// destroy_on_evict entries, insert the RefState, and materialize the
// resulting DRef.
func (p *Pool) putBytes(ctx context.Context, data []byte, file string, size int64, destroyOnEvict bool) (ref.DRef, error) {
	if destroyOnEvict {
		p.sp.Free(size)
	}
	id := p.nextID.next()
	if err := p.ds.Insert(id, size, data, file, destroyOnEvict); err != nil {
		return ref.DRef{}, err
	}
	if destroyOnEvict {
		p.sp.Touch(id, size)
	}
	dref := ref.DRef{Owner: p.self, ID: id, Size: size}
	p.rc.OnMaterialize(ctx, dref)
	return dref, nil
}

// RemotePut implements transport.Backend: a peer forwarding a put to this
// worker as owner.
func (p *Pool) RemotePut(ctx context.Context, data []byte, file string, size int64, destroyOnEvict bool) (ref.DRef, error) {
	return p.putBytes(ctx, data, file, size, destroyOnEvict)
}

// PutFromFile implements deref.Materializer: insert a payload freshly read
// from an FRef's file as a new, locally-owned DRef.
func (p *Pool) PutFromFile(ctx context.Context, data []byte, file string, size int64) (ref.DRef, error) {
	return p.putBytes(ctx, data, file, size, false)
}

func (p *Pool) RemoteSetDestroyOnEvict(ctx context.Context, id ref.LocalID, flag bool) error {
	return p.sp.SetDestroyOnEvict(id, flag)
}

func (p *Pool) RemoteMoveToDisk(ctx context.Context, id ref.LocalID, path string, keepInMemory bool) (ref.FRef, error) {
	return p.sp.MoveToDisk(id, path, keepInMemory)
}

func (p *Pool) RemoteSaveToDisk(ctx context.Context, id ref.LocalID, path string) (ref.FRef, error) {
	return p.sp.SaveToDisk(id, path)
}

func (p *Pool) RemoteDeleteFromDisk(ctx context.Context, path string) error {
	return p.sp.DeleteFromDisk(path)
}

// FetchFile implements transport.Backend: answer a peer's request for the
// raw bytes of a file we host.
func (p *Pool) FetchFile(ctx context.Context, path string) ([]byte, error) {
	return p.sp.ReadFileAt(path)
}

// ReadFile implements deref.FileReader: the self-host half of an FRef
// dereference, where the file lives on this worker and no RPC is needed.
func (p *Pool) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return p.sp.ReadFileAt(path)
}

// GetWrkrIPs implements transport.Backend's coordinator-only topology RPC,
// derived from the static peer list
// rather than a separate membership protocol — every worker already
// knows every other worker's configured address.
func (p *Pool) GetWrkrIPs(ctx context.Context) (map[string][]ref.WorkerID, error) {
	topo := map[string][]ref.WorkerID{}
	for id, addr := range p.peerAddrs {
		host, _ := netutil.SplitHostPort(addr)
		topo[host] = append(topo[host], id)
	}
	return topo, nil
}

// ExternalIP implements transport.Backend's loopback-reconciliation query:
// this worker's own externally reachable host, as derived in New.
func (p *Pool) ExternalIP(ctx context.Context) (string, error) {
	return p.selfHost, nil
}

// RefAtOwner/UnrefAtOwner implement transport.Backend, delivering a peer's
// async ref/unref notification straight to the refcount owner-side state.
func (p *Pool) RefAtOwner(dref ref.DRef, from ref.WorkerID)   { p.rc.RefAtOwner(dref, from) }
func (p *Pool) UnrefAtOwner(dref ref.DRef, from ref.WorkerID) { p.rc.UnrefAtOwner(dref, from) }

// RecordWhoHasRead implements transport.Backend: advisory bookkeeping
// only, a no-op when disabled.
func (p *Pool) RecordWhoHasRead(file string, dref ref.DRef) {
	if !p.opts.EnableWhoHasRead {
		return
	}
	p.whoRead.record(file, dref)
}

// NotifyWhoHasRead implements deref.WhoHasReadReporter: the coordinator
// (worker 1 by convention) records the materialization directly when it is
// this worker; any other worker sends it a fire-and-forget notification.
func (p *Pool) NotifyWhoHasRead(ctx context.Context, file string, dref ref.DRef) {
	if p.self == 1 {
		p.RecordWhoHasRead(file, dref)
		return
	}
	go p.client.NotifyWhoHasRead(ctx, file, dref)
}

// WhoHasRead reports the DRefs known to have been materialized from file.
// Advisory and best-effort: a lost notification (spec.md §9) simply never
// appears here.
func (p *Pool) WhoHasRead(file string) []ref.DRefKey {
	return p.whoRead.readers(file)
}

// OnConstruct implements ref.Registry: invoked synchronously from a DRef's
// CBOR decode hook whenever one arrives embedded in a message this worker
// deserializes, with no context available to thread through.
func (p *Pool) OnConstruct(d ref.DRef) {
	p.rc.OnMaterialize(context.Background(), d)
}

// Destroy implements refcount.Destroyer: called once a DRef's owner-side
// population reaches zero. It removes the RefState (and any spilled file)
// and prunes the who_has_read registry of all trace of this DRef.
func (p *Pool) Destroy(id ref.LocalID) error {
	if err := p.sp.Destroy(id); err != nil {
		return err
	}
	p.whoRead.prune(ref.DRefKey{Owner: p.self, ID: id})
	return nil
}

// RemoteDelete implements transport.Backend: a peer forcing destruction of
// id on this worker regardless of the owner-side population, per Delete.
func (p *Pool) RemoteDelete(ctx context.Context, id ref.LocalID) error {
	p.rc.Forget(ref.DRefKey{Owner: p.self, ID: id})
	return p.Destroy(id)
}

// Self returns this worker's id.
func (p *Pool) Self() ref.WorkerID { return p.self }

// Close tears down the client's cached peer connections. It does not
// touch the DataStore or spilled files — see Cleanup for that.
func (p *Pool) Close() error {
	p.client.Close()
	return nil
}
