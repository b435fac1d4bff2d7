// Package spill moves payloads between memory and local disk, and is the
// default destination for the LRU eviction policy's evicted entries.
package spill

import (
	"fmt"
	"io"
	gofs "io/fs"
	"os"
	"path"

	"xiaoshiai.cn/mempool/datastore"
	"xiaoshiai.cn/mempool/fs"
	"xiaoshiai.cn/mempool/log"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
	"xiaoshiai.cn/mempool/units"
)

// Manager implements move/copy/save/delete between the DataStore and local
// disk, via the injected fs.FileSystem so tests can substitute an
// in-memory filesystem.
type Manager struct {
	owner      ref.WorkerID
	session    string
	selfHost   string
	fsys       fs.FileSystem
	ds         *datastore.DataStore
	policy     Policy
	spillToDisk bool
}

type Options struct {
	Owner       ref.WorkerID
	Session     string
	SelfHost    string
	FS          fs.FileSystem
	DataStore   *datastore.DataStore
	Policy      Policy // nil defaults to NullPolicy
	SpillToDisk bool
}

func New(opts Options) *Manager {
	policy := opts.Policy
	if policy == nil {
		policy = NullPolicy{}
	}
	return &Manager{
		owner:       opts.Owner,
		session:     opts.Session,
		selfHost:    opts.SelfHost,
		fsys:        opts.FS,
		ds:          opts.DataStore,
		policy:      policy,
		spillToDisk: opts.SpillToDisk,
	}
}

// SessionDir is the directory all of this worker's spilled files live
// under: .mempool/<session>-<owner>/
func (m *Manager) SessionDir() string {
	return fmt.Sprintf(".mempool/%s-%d", m.session, m.owner)
}

// DefaultPath is .mempool/<session>-<owner>/<id>.
func (m *Manager) DefaultPath(id ref.LocalID) string {
	return path.Join(m.SessionDir(), fmt.Sprintf("%d", id))
}

func (m *Manager) bytesFor(id ref.LocalID, snap datastore.Snapshot) ([]byte, error) {
	if snap.HasData {
		return snap.Data, nil
	}
	if snap.HasFile {
		f, err := fs.Open(m.fsys, snap.File)
		if err != nil {
			return nil, poolerrors.NewIOError("read existing spill file", err)
		}
		defer f.Close()
		buf := make([]byte, snap.Size)
		if _, err := io.ReadFull(f, buf); err != nil {
			return nil, poolerrors.NewIOError("read existing spill file", err)
		}
		return buf, nil
	}
	return nil, poolerrors.NewPreconditionViolation("refstate has neither data nor file")
}

func (m *Manager) writeFile(path string, data []byte) error {
	if err := m.fsys.MkdirAll(dirOf(path), fs.ModePerm); err != nil {
		return poolerrors.NewIOError("mkdir spill parent", err)
	}
	f, err := fs.Create(m.fsys, path)
	if err != nil {
		return poolerrors.NewIOError("create spill file", err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return poolerrors.NewIOError("write spill file", err)
	}
	return nil
}

func dirOf(p string) string {
	return path.Dir(p)
}

// ReadFileAt reads the raw bytes of a file this worker hosts, addressed
// directly by path rather than by LocalID — used to answer a peer's
// FetchFile RPC and to serve the self-host half of an FRef dereference.
func (m *Manager) ReadFileAt(path string) ([]byte, error) {
	f, err := fs.Open(m.fsys, path)
	if err != nil {
		return nil, poolerrors.NewIOError("read file", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, poolerrors.NewIOError("read file", err)
	}
	return data, nil
}

// RestoreLocal implements the local half of _get_local's lazy-restore
// path: if already in memory, return it; otherwise read the spilled file
// outside any lock and reinstall it via DataStore.RestoreMemory. A
// concurrent second restore re-reads the same bytes rather than racing —
// acceptable because the payload is logically immutable. The eviction
// policy is touched only for destroy_on_evict entries.
func (m *Manager) RestoreLocal(id ref.LocalID) ([]byte, error) {
	snap, ok := m.ds.Lookup(id)
	if !ok {
		return nil, poolerrors.NewMissingRef(m.owner, id)
	}
	if snap.HasData {
		if snap.DestroyOnEvict {
			m.policy.Touch(id, snap.Size)
		}
		return snap.Data, nil
	}
	data, err := m.bytesFor(id, snap)
	if err != nil {
		return nil, err
	}
	if err := m.ds.RestoreMemory(id, data); err != nil {
		return nil, err
	}
	if snap.DestroyOnEvict {
		m.policy.Touch(id, snap.Size)
	}
	log.V(2).Info("restored ref from disk", "ref", log.Ref(m.owner, id))
	return data, nil
}

// MoveToDisk writes the payload to path (default path if empty), sets
// state.file, and — unless keepInMemory — clears state.data. If the
// destination already exists on disk, it is not rewritten.
func (m *Manager) MoveToDisk(id ref.LocalID, destPath string, keepInMemory bool) (ref.FRef, error) {
	snap, ok := m.ds.Lookup(id)
	if !ok {
		return ref.FRef{}, poolerrors.NewMissingRef(m.owner, id)
	}
	if destPath == "" {
		destPath = m.DefaultPath(id)
	}
	if _, err := m.fsys.Stat(destPath); err == nil {
		if err := m.ds.MarkSpilled(id, destPath, keepInMemory); err != nil {
			return ref.FRef{}, err
		}
		return ref.FRef{Host: m.selfHost, File: destPath, Size: snap.Size}, nil
	}
	data, err := m.bytesFor(id, snap)
	if err != nil {
		return ref.FRef{}, err
	}
	if err := m.writeFile(destPath, data); err != nil {
		return ref.FRef{}, err
	}
	if err := m.ds.MarkSpilled(id, destPath, keepInMemory); err != nil {
		return ref.FRef{}, err
	}
	log.V(1).Info("moved ref to disk", "ref", log.Ref(m.owner, id), "path", destPath, "size", units.HumanSize(float64(snap.Size)))
	return ref.FRef{Host: m.selfHost, File: destPath, Size: snap.Size}, nil
}

// CopyToDisk is MoveToDisk with keepInMemory=true.
func (m *Manager) CopyToDisk(id ref.LocalID, destPath string) (ref.FRef, error) {
	return m.MoveToDisk(id, destPath, true)
}

// SaveToDisk writes a serialized copy to destPath without touching
// RefState at all — deliberately, per spec.md §9: size accounting and
// `state.file` are not altered, this is for user-visible persistence only.
func (m *Manager) SaveToDisk(id ref.LocalID, destPath string) (ref.FRef, error) {
	snap, ok := m.ds.Lookup(id)
	if !ok {
		return ref.FRef{}, poolerrors.NewMissingRef(m.owner, id)
	}
	data, err := m.bytesFor(id, snap)
	if err != nil {
		return ref.FRef{}, err
	}
	if err := m.writeFile(destPath, data); err != nil {
		return ref.FRef{}, err
	}
	return ref.FRef{Host: m.selfHost, File: destPath, Size: snap.Size}, nil
}

// DeleteFromDisk removes a file. Idempotent: removing a file that does not
// exist is not an error.
func (m *Manager) DeleteFromDisk(path string) error {
	if err := m.fsys.Remove(path); err != nil {
		if isNotExist(err) {
			return nil
		}
		return poolerrors.NewIOError("delete spill file", err)
	}
	return nil
}

// SetDestroyOnEvict updates the policy bit on the RefState.
func (m *Manager) SetDestroyOnEvict(id ref.LocalID, flag bool) error {
	return m.ds.SetDestroyOnEvict(id, flag)
}

// Touch records an access for the eviction policy — called by Put after
// inserting an entry with destroy_on_evict set. RestoreLocal touches the
// policy itself, likewise only for destroy_on_evict entries.
func (m *Manager) Touch(id ref.LocalID, size int64) {
	m.policy.Touch(id, size)
}

// Free asks the eviction policy to make room for size bytes before a new
// allocation — called by Put before inserting a destroy_on_evict entry.
func (m *Manager) Free(size int64) {
	m.policy.Free(size)
}

// Forget drops id from the eviction policy's bookkeeping without
// destroying it — called after successfully spilling an evicted id to
// disk, since it is no longer a resident-memory eviction candidate.
func (m *Manager) Forget(id ref.LocalID) {
	m.policy.Forget(id)
}

// Destroy implements refcount.Destroyer: invoked when a DRef's owner-side
// population reaches zero. It best-effort removes any on-disk file, clears
// the DataStore entry, and forgets the id from the eviction policy.
// Idempotent — destroying an already-absent id is a no-op.
func (m *Manager) Destroy(id ref.LocalID) error {
	snap, ok := m.ds.Lookup(id)
	if !ok {
		return nil
	}
	if snap.HasFile {
		if err := m.fsys.Remove(snap.File); err != nil && !isNotExist(err) {
			log.Error(err, "best-effort file removal failed on destroy", "ref", log.Ref(m.owner, id), "file", snap.File)
		}
	}
	m.ds.Remove(id)
	m.policy.Forget(id)
	log.V(1).Info("destroyed ref", "ref", log.Ref(m.owner, id))
	return nil
}

// Cleanup destroys every id this worker holds and removes its session
// directory entirely.
func (m *Manager) Cleanup() error {
	for _, id := range m.ds.Keys() {
		if err := m.Destroy(id); err != nil {
			return err
		}
	}
	if err := m.fsys.RemoveAll(m.SessionDir()); err != nil {
		return poolerrors.NewIOError("remove session directory", err)
	}
	return nil
}

// ListSpilled walks the session directory and returns every file path
// found under it, for a diagnostics dump alongside pool.Stats — it reads
// the filesystem directly rather than the DataStore, so it also surfaces
// orphaned files a crash left behind between a completed write and its
// MarkSpilled bookkeeping.
func (m *Manager) ListSpilled() ([]string, error) {
	var paths []string
	err := fs.WalkDir(m.fsys, m.SessionDir(), func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if isNotExist(err) {
				return gofs.SkipAll
			}
			return err
		}
		if d != nil && !d.IsDir() {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, poolerrors.NewIOError("list spilled files", err)
	}
	return paths, nil
}

// SpillToDiskEnabled reports whether an entry evicted by the eviction
// policy is moved to disk instead of destroyed. Only destroy_on_evict
// entries are tracked by the policy; entries without destroy_on_evict are
// never spilled under memory pressure, whatever this flag says.
func (m *Manager) SpillToDiskEnabled() bool {
	return m.spillToDisk
}

func isNotExist(err error) bool {
	return os.IsNotExist(err)
}
