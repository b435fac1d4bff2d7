package transport_test

import (
	"context"
	"testing"
	"time"

	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
	"xiaoshiai.cn/mempool/transport"
)

func TestClientSetDestroyOnEvictRemote(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})

	if err := client.SetDestroyOnEvictRemote(context.Background(), 1, 1, true); err != nil {
		t.Fatalf("SetDestroyOnEvictRemote: %v", err)
	}
}

func TestClientMoveToDiskRemote(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})

	fref, err := client.MoveToDiskRemote(context.Background(), 1, 1, "some/path", false)
	if err != nil {
		t.Fatalf("MoveToDiskRemote: %v", err)
	}
	if fref.File != "some/path" {
		t.Fatalf("unexpected fref: %+v", fref)
	}
}

func TestClientSaveToDiskRemote(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})

	fref, err := client.SaveToDiskRemote(context.Background(), 1, 1, "snap/path")
	if err != nil {
		t.Fatalf("SaveToDiskRemote: %v", err)
	}
	if fref.File != "snap/path" {
		t.Fatalf("unexpected fref: %+v", fref)
	}
}

func TestClientDeleteFromDiskRemote(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})

	if err := client.DeleteFromDiskRemote(context.Background(), 1, "some/path"); err != nil {
		t.Fatalf("DeleteFromDiskRemote: %v", err)
	}
}

func TestClientDeleteRemote(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})

	if err := client.DeleteRemote(context.Background(), 1, 1); err != nil {
		t.Fatalf("DeleteRemote: %v", err)
	}
	if _, _, err := client.GetLocal(context.Background(), 1, 1); !poolerrors.IsMissingRef(err) {
		t.Fatalf("expected MissingRef after DeleteRemote, got %v", err)
	}
}

func TestClientAskExternalIP(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})

	ip, err := client.AskExternalIP(context.Background(), 1)
	if err != nil {
		t.Fatalf("AskExternalIP: %v", err)
	}
	if ip != "10.0.0.1" {
		t.Fatalf("got %q", ip)
	}
}

// TestNotifyDeliversRefAtOwner exercises the websocket notification path
// end to end: a client's fire-and-forget NotifyRefAtOwner reaches the
// server's backend asynchronously, so the assertion polls briefly rather
// than requiring synchronous delivery.
func TestNotifyDeliversRefAtOwner(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})
	defer client.Close()

	dref := ref.DRef{Owner: 1, ID: 7, Size: 3}
	client.NotifyRefAtOwner(context.Background(), dref, 2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(backend.notified) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(backend.notified) != 1 || backend.notified[0] != dref {
		t.Fatalf("expected notification to be delivered, got %+v", backend.notified)
	}
}

func TestNotifyDeliversUnrefAtOwner(t *testing.T) {
	backend := newFakeBackend()
	_, addr := newTestServer(t, backend)
	client := transport.NewClient(2, map[ref.WorkerID]string{1: addr})
	defer client.Close()

	dref := ref.DRef{Owner: 1, ID: 9, Size: 3}
	client.NotifyUnrefAtOwner(context.Background(), dref, 2)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(backend.unnotified) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(backend.unnotified) != 1 || backend.unnotified[0] != dref {
		t.Fatalf("expected unref notification to be delivered, got %+v", backend.unnotified)
	}
}

func TestClientDoUnknownWorkerIsTransportError(t *testing.T) {
	client := transport.NewClient(2, map[ref.WorkerID]string{})
	_, err := client.MoveToDiskRemote(context.Background(), 99, 1, "", false)
	if !poolerrors.IsTransportError(err) {
		t.Fatalf("expected TransportError, got %v", err)
	}
}
