// Package datastore holds the per-worker map from local id to RefState.
// Every mutation goes through a named entry point — MarkSpilled,
// EvictMemory, RestoreMemory, SetDestroyOnEvict — so no other package can
// reach in and corrupt the invariant that a live entry always has data or
// a file present.
package datastore

import (
	"sync"

	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

type entry struct {
	size           int64
	data           []byte
	file           string
	destroyOnEvict bool
}

func (e *entry) hasData() bool { return e.data != nil }
func (e *entry) hasFile() bool { return e.file != "" }

// Snapshot is a read-only copy of a RefState taken under the store's lock.
// It is safe to read after the call returns; mutating it has no effect on
// the stored entry.
type Snapshot struct {
	Size           int64
	Data           []byte
	File           string
	HasData        bool
	HasFile        bool
	DestroyOnEvict bool
}

// DataStore is the per-worker RefState map. Owner identifies which worker
// this store belongs to, used only to produce readable missing-ref errors.
type DataStore struct {
	owner ref.WorkerID

	mu    sync.Mutex
	items map[ref.LocalID]*entry
}

func New(owner ref.WorkerID) *DataStore {
	return &DataStore{owner: owner, items: map[ref.LocalID]*entry{}}
}

func (ds *DataStore) missing(id ref.LocalID) error {
	return poolerrors.NewMissingRef(ds.owner, id)
}

// Insert creates a new RefState. At least one of data/file must be
// non-empty, matching the "at least one present while live" invariant.
func (ds *DataStore) Insert(id ref.LocalID, size int64, data []byte, file string, destroyOnEvict bool) error {
	if len(data) == 0 && file == "" {
		return poolerrors.NewPreconditionViolation("refstate must have data or file present on insert")
	}
	ds.mu.Lock()
	defer ds.mu.Unlock()
	ds.items[id] = &entry{size: size, data: data, file: file, destroyOnEvict: destroyOnEvict}
	return nil
}

// Lookup returns a snapshot of the RefState, or ok=false if absent.
func (ds *DataStore) Lookup(id ref.LocalID) (Snapshot, bool) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	e, ok := ds.items[id]
	if !ok {
		return Snapshot{}, false
	}
	return snapshotOf(e), true
}

func snapshotOf(e *entry) Snapshot {
	return Snapshot{
		Size:           e.size,
		Data:           e.data,
		File:           e.file,
		HasData:        e.hasData(),
		HasFile:        e.hasFile(),
		DestroyOnEvict: e.destroyOnEvict,
	}
}

// Remove deletes the entry unconditionally. Idempotent: removing an absent
// id is a no-op, matching the double-delete handling spec.md requires.
func (ds *DataStore) Remove(id ref.LocalID) {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	delete(ds.items, id)
}

// Keys returns every local id currently live. Order is unspecified.
func (ds *DataStore) Keys() []ref.LocalID {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	keys := make([]ref.LocalID, 0, len(ds.items))
	for id := range ds.items {
		keys = append(keys, id)
	}
	return keys
}

// MarkSpilled records that the payload has been written to file. If
// keepInMemory is false, the in-memory copy is dropped (the move_to_disk
// path); if true, both copies remain (copy_to_disk).
func (ds *DataStore) MarkSpilled(id ref.LocalID, file string, keepInMemory bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	e, ok := ds.items[id]
	if !ok {
		return ds.missing(id)
	}
	e.file = file
	if !keepInMemory {
		e.data = nil
	}
	return nil
}

// EvictMemory drops the in-memory copy of an already-spilled entry; the
// file must already be present.
func (ds *DataStore) EvictMemory(id ref.LocalID) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	e, ok := ds.items[id]
	if !ok {
		return ds.missing(id)
	}
	if !e.hasFile() {
		return poolerrors.NewPreconditionViolation("cannot evict memory for a refstate with no file copy")
	}
	e.data = nil
	return nil
}

// RestoreMemory repopulates the in-memory copy after a disk read. A
// concurrent second restore is not an error — last writer wins, which is
// acceptable because the payload is logically immutable.
func (ds *DataStore) RestoreMemory(id ref.LocalID, data []byte) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	e, ok := ds.items[id]
	if !ok {
		return ds.missing(id)
	}
	e.data = data
	return nil
}

// SetDestroyOnEvict updates the eviction policy bit for id.
func (ds *DataStore) SetDestroyOnEvict(id ref.LocalID, flag bool) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	e, ok := ds.items[id]
	if !ok {
		return ds.missing(id)
	}
	e.destroyOnEvict = flag
	return nil
}
