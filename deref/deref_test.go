package deref_test

import (
	"context"
	"testing"

	"xiaoshiai.cn/mempool/deref"
	"xiaoshiai.cn/mempool/locality"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

type fakeLocal struct {
	data map[ref.LocalID][]byte
	fref map[ref.LocalID]ref.FRef
}

func (f *fakeLocal) GetLocal(ctx context.Context, id ref.LocalID, remote bool) ([]byte, *ref.FRef, error) {
	if d, ok := f.data[id]; ok {
		return d, nil, nil
	}
	if fr, ok := f.fref[id]; ok {
		c := fr
		return nil, &c, nil
	}
	return nil, nil, poolerrors.NewMissingRef(1, id)
}

type fakeRemote struct {
	data  map[ref.LocalID][]byte
	fref  map[ref.LocalID]ref.FRef
	files map[string][]byte
}

func (f *fakeRemote) GetLocal(ctx context.Context, owner ref.WorkerID, id ref.LocalID) ([]byte, *ref.FRef, error) {
	if d, ok := f.data[id]; ok {
		return d, nil, nil
	}
	if fr, ok := f.fref[id]; ok {
		c := fr
		return nil, &c, nil
	}
	return nil, nil, poolerrors.NewMissingRef(owner, id)
}

func (f *fakeRemote) FetchFile(ctx context.Context, worker ref.WorkerID, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, poolerrors.NewIOError("fetch file", errNotFound{})
	}
	return data, nil
}

type errNotFound struct{}

func (errNotFound) Error() string { return "not found" }

type fakeFileReader struct {
	files map[string][]byte
}

func (f *fakeFileReader) ReadFile(ctx context.Context, path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, poolerrors.NewIOError("read file", errNotFound{})
	}
	return data, nil
}

type fakeMaterializer struct {
	next ref.LocalID
}

func (m *fakeMaterializer) PutFromFile(ctx context.Context, data []byte, file string, size int64) (ref.DRef, error) {
	m.next++
	return ref.DRef{Owner: 1, ID: m.next, Size: size}, nil
}

type fakeWhoHasRead struct {
	calls int
}

func (w *fakeWhoHasRead) NotifyWhoHasRead(ctx context.Context, file string, dref ref.DRef) {
	w.calls++
}

type fakeTopology struct {
	topo map[string][]ref.WorkerID
}

func (f *fakeTopology) GetWrkrIPs(ctx context.Context) (map[string][]ref.WorkerID, error) {
	return f.topo, nil
}

func (f *fakeTopology) AskExternalIP(ctx context.Context, worker ref.WorkerID) (string, error) {
	return "", nil
}

func TestGetDRefLocal(t *testing.T) {
	local := &fakeLocal{data: map[ref.LocalID][]byte{1: []byte("abc")}}
	e := deref.New(deref.Options{Self: 1, Local: local})

	data, err := e.GetDRef(context.Background(), ref.DRef{Owner: 1, ID: 1, Size: 3})
	if err != nil {
		t.Fatalf("GetDRef: %v", err)
	}
	if string(data) != "abc" {
		t.Fatalf("got %q", data)
	}
}

func TestGetDRefRemoteInMemory(t *testing.T) {
	remote := &fakeRemote{data: map[ref.LocalID][]byte{5: []byte("xyz")}}
	e := deref.New(deref.Options{Self: 1, Remote: remote})

	data, err := e.GetDRef(context.Background(), ref.DRef{Owner: 2, ID: 5, Size: 3})
	if err != nil {
		t.Fatalf("GetDRef: %v", err)
	}
	if string(data) != "xyz" {
		t.Fatalf("got %q", data)
	}
}

func TestGetDRefRemoteSpilledFollowsFRefSelfHost(t *testing.T) {
	remote := &fakeRemote{fref: map[ref.LocalID]ref.FRef{5: {Host: "10.0.0.1", File: "f1", Size: 3}}}
	files := &fakeFileReader{files: map[string][]byte{"f1": []byte("on-disk")}}
	mat := &fakeMaterializer{}
	who := &fakeWhoHasRead{}

	e := deref.New(deref.Options{
		Self:       1,
		SelfHost:   "10.0.0.1",
		Remote:     remote,
		FileReader: files,
		Put:        mat,
		WhoRead:    who,
	})

	data, err := e.GetDRef(context.Background(), ref.DRef{Owner: 2, ID: 5, Size: 3})
	if err != nil {
		t.Fatalf("GetDRef: %v", err)
	}
	if string(data) != "on-disk" {
		t.Fatalf("got %q", data)
	}
	if who.calls != 1 {
		t.Fatalf("expected who_has_read reported once, got %d", who.calls)
	}
}

func TestGetFRefCacheHitAvoidsRefetch(t *testing.T) {
	remote := &fakeRemote{data: map[ref.LocalID][]byte{1: []byte("cached")}}
	local := &fakeLocal{data: map[ref.LocalID][]byte{1: []byte("cached")}}
	files := &fakeFileReader{files: map[string][]byte{"f1": []byte("on-disk")}}
	mat := &fakeMaterializer{}

	e := deref.New(deref.Options{Self: 1, SelfHost: "10.0.0.1", Local: local, Remote: remote, FileReader: files, Put: mat})

	fr := ref.FRef{Host: "10.0.0.1", File: "f1", Size: 6}
	data, err := e.GetFRef(context.Background(), fr)
	if err != nil {
		t.Fatalf("GetFRef first call: %v", err)
	}
	if string(data) != "on-disk" {
		t.Fatalf("got %q", data)
	}

	// Second call must hit the file_to_dref cache and dereference the
	// cached DRef instead of re-reading the file.
	files.files["f1"] = nil // poison the file read path
	data, err = e.GetFRef(context.Background(), fr)
	if err != nil {
		t.Fatalf("GetFRef second call: %v", err)
	}
	if string(data) != "cached" {
		t.Fatalf("expected cache hit to dereference the cached DRef, got %q", data)
	}
}

func TestGetFRefRemoteHostRoutesThroughLocality(t *testing.T) {
	local := &fakeLocal{}
	remote := &fakeRemote{files: map[string][]byte{"f2": []byte("remote-bytes")}}
	mat := &fakeMaterializer{}

	topo := &fakeTopology{topo: map[string][]ref.WorkerID{"10.0.0.2": {3}}}
	resolver := locality.New(topo, false)

	e := deref.New(deref.Options{Self: 1, SelfHost: "10.0.0.1", Local: local, Remote: remote, Resolver: resolver, Put: mat})

	data, err := e.GetFRef(context.Background(), ref.FRef{Host: "10.0.0.2", File: "f2", Size: 12})
	if err != nil {
		t.Fatalf("GetFRef: %v", err)
	}
	if string(data) != "remote-bytes" {
		t.Fatalf("got %q", data)
	}
}

func TestGetDRefMissingPropagates(t *testing.T) {
	local := &fakeLocal{data: map[ref.LocalID][]byte{}}
	e := deref.New(deref.Options{Self: 1, Local: local})

	_, err := e.GetDRef(context.Background(), ref.DRef{Owner: 1, ID: 404})
	if !poolerrors.IsMissingRef(err) {
		t.Fatalf("expected MissingRef, got %v", err)
	}
}
