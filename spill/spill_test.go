package spill_test

import (
	"io"
	gofs "io/fs"
	"os"
	"sync"
	"testing"

	"xiaoshiai.cn/mempool/datastore"
	"xiaoshiai.cn/mempool/fs"
	"xiaoshiai.cn/mempool/ref"
	"xiaoshiai.cn/mempool/spill"
)

// memFS is a minimal in-memory fs.FileSystem sufficient to exercise the
// spill manager without touching real disk.
type memFS struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemFS() *memFS { return &memFS{files: map[string][]byte{}} }

func (m *memFS) ReadDir(name string) ([]fs.DirEntry, error) { return nil, fs.ErrNotSupported }
func (m *memFS) Sub(dir string) (fs.FileSystem, error)      { return m, nil }

func (m *memFS) OpenFile(name string, flag int, perm fs.FileMode) (fs.File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if flag&fs.O_CREATE != 0 {
		m.files[name] = []byte{}
		return &memFile{fs: m, name: name}, nil
	}
	data, ok := m.files[name]
	if !ok {
		return nil, &gofs.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
	}
	return &memFile{fs: m, name: name, readBuf: append([]byte(nil), data...)}, nil
}

func (m *memFS) Stat(name string) (fs.FileInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return nil, &gofs.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}
	return nil, nil
}

func (m *memFS) Rename(oldpath, newpath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[newpath] = m.files[oldpath]
	delete(m.files, oldpath)
	return nil
}

func (m *memFS) Remove(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.files[name]; !ok {
		return &gofs.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}
	delete(m.files, name)
	return nil
}

func (m *memFS) RemoveAll(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.files {
		delete(m.files, k)
	}
	return nil
}

func (m *memFS) MkdirAll(name string, perm fs.FileMode) error { return nil }
func (m *memFS) Lstat(name string) (fs.FileInfo, error)       { return m.Stat(name) }
func (m *memFS) Symlink(target, link string) error            { return fs.ErrNotSupported }
func (m *memFS) Readlink(link string) (string, error)         { return "", fs.ErrNotSupported }

type memFile struct {
	fs      *memFS
	name    string
	readBuf []byte
	pos     int
}

func (f *memFile) Read(p []byte) (int, error) {
	if f.pos >= len(f.readBuf) {
		return 0, io.EOF
	}
	n := copy(p, f.readBuf[f.pos:])
	f.pos += n
	return n, nil
}

func (f *memFile) Write(p []byte) (int, error) {
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()
	f.fs.files[f.name] = append(f.fs.files[f.name], p...)
	return len(p), nil
}

func (f *memFile) Close() error                                 { return nil }
func (f *memFile) Seek(offset int64, whence int) (int64, error) { return 0, nil }

func newManager(t *testing.T, ds *datastore.DataStore, mfs *memFS) *spill.Manager {
	t.Helper()
	return spill.New(spill.Options{
		Owner:    1,
		Session:  "sess",
		SelfHost: "10.0.0.1",
		FS:       mfs,
		DataStore: ds,
	})
}

func TestMoveToDiskClearsMemoryByDefault(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)

	fref, err := m.MoveToDisk(1, "", false)
	if err != nil {
		t.Fatalf("MoveToDisk: %v", err)
	}
	if fref.Host != "10.0.0.1" || fref.Size != 3 {
		t.Fatalf("unexpected fref: %+v", fref)
	}
	snap, _ := ds.Lookup(1)
	if snap.HasData {
		t.Fatalf("expected data cleared after move")
	}
	if !snap.HasFile {
		t.Fatalf("expected file set after move")
	}
}

func TestCopyToDiskKeepsMemory(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)

	if _, err := m.CopyToDisk(1, "custom/path"); err != nil {
		t.Fatalf("CopyToDisk: %v", err)
	}
	snap, _ := ds.Lookup(1)
	if !snap.HasData || !snap.HasFile {
		t.Fatalf("expected both present after copy: %+v", snap)
	}
}

func TestSaveToDiskDoesNotMutateRefState(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)

	before, _ := ds.Lookup(1)
	if _, err := m.SaveToDisk(1, "snapshot/path"); err != nil {
		t.Fatalf("SaveToDisk: %v", err)
	}
	after, _ := ds.Lookup(1)
	if after.HasFile != before.HasFile || after.File != before.File {
		t.Fatalf("SaveToDisk must not alter state.file: before=%+v after=%+v", before, after)
	}
}

func TestDestroyRemovesFileAndEntry(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)
	fref, _ := m.MoveToDisk(1, "", false)

	if err := m.Destroy(1); err != nil {
		t.Fatalf("Destroy: %v", err)
	}
	if _, ok := ds.Lookup(1); ok {
		t.Fatalf("expected entry removed")
	}
	if _, ok := mfs.files[fref.File]; ok {
		t.Fatalf("expected file removed")
	}
}

func TestDestroyIsIdempotent(t *testing.T) {
	ds := datastore.New(1)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)
	if err := m.Destroy(42); err != nil {
		t.Fatalf("destroying absent id must be a no-op, got %v", err)
	}
}

func TestDeleteFromDiskIsIdempotent(t *testing.T) {
	ds := datastore.New(1)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)
	if err := m.DeleteFromDisk("never/existed"); err != nil {
		t.Fatalf("deleting a missing file must not error, got %v", err)
	}
}

func TestRestoreLocalReadsSpilledFile(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)
	if _, err := m.MoveToDisk(1, "", false); err != nil {
		t.Fatalf("MoveToDisk: %v", err)
	}

	data, err := m.RestoreLocal(1)
	if err != nil {
		t.Fatalf("RestoreLocal: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("got %q", data)
	}
	snap, _ := ds.Lookup(1)
	if !snap.HasData {
		t.Fatalf("expected data reinstalled after restore")
	}
}

func TestReadFileAt(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)
	fref, err := m.MoveToDisk(1, "", false)
	if err != nil {
		t.Fatalf("MoveToDisk: %v", err)
	}

	data, err := m.ReadFileAt(fref.File)
	if err != nil {
		t.Fatalf("ReadFileAt: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("got %q", data)
	}
}

// ListSpilled walks real directories (Stat+ReadDir over actual
// subdirectories), which the flat memFS fake above does not model. It is
// exercised against the real OS filesystem instead.
func TestListSpilledFindsFilesOnDisk(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	_ = ds.Insert(2, 3, []byte("def"), "", false)
	m := spill.New(spill.Options{
		Owner:     1,
		Session:   "sess",
		SelfHost:  "10.0.0.1",
		FS:        &fs.OSFileSystem{},
		DataStore: ds,
	})
	t.Chdir(t.TempDir())
	if _, err := m.MoveToDisk(1, "", false); err != nil {
		t.Fatalf("MoveToDisk 1: %v", err)
	}
	if _, err := m.MoveToDisk(2, "", false); err != nil {
		t.Fatalf("MoveToDisk 2: %v", err)
	}

	paths, err := m.ListSpilled()
	if err != nil {
		t.Fatalf("ListSpilled: %v", err)
	}
	if len(paths) != 2 {
		t.Fatalf("expected 2 spilled files, got %v", paths)
	}
}

func TestListSpilledEmptyDirIsNotAnError(t *testing.T) {
	ds := datastore.New(1)
	m := spill.New(spill.Options{
		Owner:     1,
		Session:   "sess",
		SelfHost:  "10.0.0.1",
		FS:        &fs.OSFileSystem{},
		DataStore: ds,
	})
	t.Chdir(t.TempDir())

	paths, err := m.ListSpilled()
	if err != nil {
		t.Fatalf("ListSpilled on empty session dir: %v", err)
	}
	if len(paths) != 0 {
		t.Fatalf("expected no files, got %v", paths)
	}
}

func TestRestoreLocalAlreadyInMemory(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	mfs := newMemFS()
	m := newManager(t, ds, mfs)

	data, err := m.RestoreLocal(1)
	if err != nil {
		t.Fatalf("RestoreLocal: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("got %q", data)
	}
}
