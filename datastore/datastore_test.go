package datastore_test

import (
	"testing"

	"xiaoshiai.cn/mempool/datastore"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
)

func TestInsertRequiresDataOrFile(t *testing.T) {
	ds := datastore.New(1)
	if err := ds.Insert(1, 10, nil, "", false); err == nil {
		t.Fatalf("expected error inserting empty refstate")
	}
}

func TestLookupMissing(t *testing.T) {
	ds := datastore.New(1)
	if _, ok := ds.Lookup(99); ok {
		t.Fatalf("expected miss")
	}
}

func TestMoveToDiskClearsData(t *testing.T) {
	ds := datastore.New(1)
	if err := ds.Insert(1, 3, []byte("abc"), "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ds.MarkSpilled(1, "/tmp/x", false); err != nil {
		t.Fatalf("mark spilled: %v", err)
	}
	snap, ok := ds.Lookup(1)
	if !ok {
		t.Fatalf("expected present")
	}
	if snap.HasData || !snap.HasFile || snap.File != "/tmp/x" {
		t.Fatalf("unexpected snapshot after move: %+v", snap)
	}
}

func TestCopyToDiskKeepsData(t *testing.T) {
	ds := datastore.New(1)
	if err := ds.Insert(1, 3, []byte("abc"), "", false); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := ds.MarkSpilled(1, "/tmp/x", true); err != nil {
		t.Fatalf("mark spilled: %v", err)
	}
	snap, _ := ds.Lookup(1)
	if !snap.HasData || !snap.HasFile {
		t.Fatalf("expected both data and file present: %+v", snap)
	}
}

func TestEvictMemoryRequiresFile(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "", false)
	if err := ds.EvictMemory(1); !poolerrors.IsPreconditionViolation(err) {
		t.Fatalf("expected precondition violation, got %v", err)
	}
}

func TestRestoreMemory(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 3, []byte("abc"), "/tmp/x", false)
	_ = ds.MarkSpilled(1, "/tmp/x", false)
	if err := ds.RestoreMemory(1, []byte("abc")); err != nil {
		t.Fatalf("restore: %v", err)
	}
	snap, _ := ds.Lookup(1)
	if !snap.HasData {
		t.Fatalf("expected data restored")
	}
}

func TestSetDestroyOnEvictMissing(t *testing.T) {
	ds := datastore.New(1)
	if err := ds.SetDestroyOnEvict(ref.LocalID(5), true); !poolerrors.IsMissingRef(err) {
		t.Fatalf("expected missing-ref, got %v", err)
	}
}

func TestRemoveIsIdempotent(t *testing.T) {
	ds := datastore.New(1)
	ds.Remove(123) // absent id, must not panic
	_ = ds.Insert(1, 1, []byte("a"), "", false)
	ds.Remove(1)
	ds.Remove(1)
	if _, ok := ds.Lookup(1); ok {
		t.Fatalf("expected removed")
	}
}

func TestKeys(t *testing.T) {
	ds := datastore.New(1)
	_ = ds.Insert(1, 1, []byte("a"), "", false)
	_ = ds.Insert(2, 1, []byte("b"), "", false)
	keys := ds.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(keys))
	}
}
