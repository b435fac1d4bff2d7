// Package ref defines the two reference value types exchanged between
// workers: DRef (a distributed, reference-counted handle to an in-process
// payload) and FRef (a file-backed handle, not reference-counted).
package ref

import (
	"fmt"
	"sync/atomic"

	"github.com/fxamacker/cbor/v2"
)

// WorkerID identifies a worker process in the cluster. Worker id 1 is the
// coordinator by convention.
type WorkerID uint32

// LocalID identifies a DRef within its owner's DataStore.
type LocalID uint64

// DRef is a distributed handle: (owner, id) is its identity, Size is an
// advisory byte footprint. All fields are immutable once constructed.
type DRef struct {
	Owner WorkerID
	ID    LocalID
	Size  int64
}

// Key returns the map key used by counters and the data store.
func (d DRef) Key() DRefKey {
	return DRefKey{Owner: d.Owner, ID: d.ID}
}

func (d DRef) String() string {
	return fmt.Sprintf("dref(%d,%d)", d.Owner, d.ID)
}

// DRefKey is the comparable identity of a DRef, used as a map key.
type DRefKey struct {
	Owner WorkerID
	ID    LocalID
}

func (k DRefKey) String() string {
	return fmt.Sprintf("(%d,%d)", k.Owner, k.ID)
}

// FRef is a file-backed handle: (host, file) is its identity. FRefs are
// plain values — the pool never reference-counts them, the file lives
// until someone deletes it explicitly.
type FRef struct {
	Host string
	File string
	Size int64
}

func (f FRef) Key() FRefKey {
	return FRefKey{Host: f.Host, File: f.File}
}

func (f FRef) String() string {
	return fmt.Sprintf("fref(%s,%s)", f.Host, f.File)
}

type FRefKey struct {
	Host string
	File string
}

// Registry is the hook invoked whenever a DRef is materialized, including
// when the default byte decoding reconstructs one at a new destination.
// pool.Pool implements this; see SetActiveRegistry.
type Registry interface {
	OnConstruct(d DRef)
}

// activeRegistry is the one deliberate package-level global in this module:
// CBOR's decode path has no way to thread a caller-supplied context through
// UnmarshalCBOR, so a DRef arriving over the wire has no other way to reach
// the pool that should track it. Every other component takes an explicit
// handle; this is the single exception, scoped to the process-wide pool
// singleton a real deployment runs.
var activeRegistry atomic.Value // registryBox

// registryBox gives every Store the same concrete type, as atomic.Value
// requires, whichever Registry implementation is installed.
type registryBox struct{ r Registry }

// SetActiveRegistry installs the registry invoked by DRef's CBOR decode
// hook. A pool calls this once during construction. Passing nil disables
// the hook (decode no longer calls OnConstruct), which tests use to decode
// values without a live pool.
func SetActiveRegistry(r Registry) {
	activeRegistry.Store(registryBox{r: r})
}

type nilRegistry struct{}

func (*nilRegistry) OnConstruct(DRef) {}

func currentRegistry() Registry {
	box, _ := activeRegistry.Load().(registryBox)
	if box.r == nil {
		return (*nilRegistry)(nil)
	}
	return box.r
}

// rawDRef is the wire shape of a DRef: no methods, so encoding it never
// recurses into MarshalCBOR/UnmarshalCBOR.
type rawDRef struct {
	Owner WorkerID
	ID    LocalID
	Size  int64
}

var (
	_ cbor.Marshaler   = DRef{}
	_ cbor.Unmarshaler = (*DRef)(nil)
)

// MarshalCBOR encodes a DRef as a plain value — no hook fires on encode,
// only on decode (a ref fans out when it is constructed somewhere new, not
// when it is serialized at its source).
func (d DRef) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(rawDRef{Owner: d.Owner, ID: d.ID, Size: d.Size})
}

// UnmarshalCBOR reconstructs the DRef from wire bytes without going through
// any pool constructor, then explicitly registers it with the active
// registry — the serialization hook described by the distributed refcount
// protocol: a DRef fanning out through message passing is tracked wherever
// it lands.
func (d *DRef) UnmarshalCBOR(data []byte) error {
	var raw rawDRef
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return err
	}
	d.Owner, d.ID, d.Size = raw.Owner, raw.ID, raw.Size
	currentRegistry().OnConstruct(*d)
	return nil
}
