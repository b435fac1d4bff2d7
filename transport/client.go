package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/http2"

	"xiaoshiai.cn/mempool/log"
	"xiaoshiai.cn/mempool/poolerrors"
	"xiaoshiai.cn/mempool/ref"
	"xiaoshiai.cn/mempool/retry"
)

// Client is the blocking RPC client used by deref.Engine, spill
// forwarders, and locality.Resolver, plus the fire-and-forget websocket
// notifier consumed by refcount.RefCounter. One Client is shared by a
// worker for every peer it talks to.
type Client struct {
	self  ref.WorkerID
	http  *http.Client
	peers map[ref.WorkerID]string // worker id -> host:port

	mu      sync.Mutex
	wsConns map[ref.WorkerID]wsConn
}

// NewClient builds a client whose underlying transport speaks HTTP/2
// cleartext (h2c) to every peer — matching the server side, which serves
// plain HTTP/2 without TLS.
func NewClient(self ref.WorkerID, peers map[ref.WorkerID]string) *Client {
	return &Client{
		self: self,
		http: &http.Client{
			Transport: &http2.Transport{
				// AllowHTTP plus a DialTLSContext that dials a plain TCP
				// connection is the standard trick for speaking h2c as a
				// client: net/http2 still calls this hook by name, but
				// with no TLS handshake performed.
				AllowHTTP: true,
				DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, network, addr)
				},
			},
		},
		peers:   peers,
		wsConns: map[ref.WorkerID]wsConn{},
	}
}

func (c *Client) addrFor(w ref.WorkerID) (string, error) {
	addr, ok := c.peers[w]
	if !ok {
		return "", poolerrors.NewTransportError(fmt.Errorf("no known address for worker %d", w))
	}
	return addr, nil
}

// do POSTs req to path on worker's peer address and decodes the response,
// retrying every failed attempt with the teacher's exponential Backoff
// until one succeeds or ctx is done. A ctx with no deadline and no
// cancellation retries indefinitely, so callers should set one. Do not use
// this for notification delivery.
func (c *Client) do(ctx context.Context, worker ref.WorkerID, path string, req, resp any) error {
	addr, err := c.addrFor(worker)
	if err != nil {
		return err
	}
	body, err := encode(req)
	if err != nil {
		return poolerrors.NewTransportError(err)
	}
	url := "http://" + addr + path

	return retry.BackOff(ctx, retry.DefaultBackoff, func(ctx context.Context) error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return poolerrors.NewTransportError(err)
		}
		httpReq.Header.Set("Content-Type", "application/cbor")
		httpResp, err := c.http.Do(httpReq)
		if err != nil {
			return poolerrors.NewTransportError(err)
		}
		defer httpResp.Body.Close()
		data, err := io.ReadAll(httpResp.Body)
		if err != nil {
			return poolerrors.NewTransportError(err)
		}
		if err := decode(data, resp); err != nil {
			return poolerrors.NewTransportError(err)
		}
		return nil
	})
}

// GetLocal issues the blocking remote fetch deref.Engine needs for a DRef
// not owned by this worker.
func (c *Client) GetLocal(ctx context.Context, owner ref.WorkerID, id ref.LocalID) (data []byte, fref *ref.FRef, err error) {
	var resp getLocalResponse
	if err := c.do(ctx, owner, "/getlocal", getLocalRequest{Owner: owner, ID: id, Remote: true}, &resp); err != nil {
		return nil, nil, err
	}
	if resp.Err != nil {
		return nil, nil, resp.Err
	}
	if resp.IsFile {
		return nil, &resp.FRef, nil
	}
	return resp.Data, nil, nil
}

// RemotePut forwards a put to a specific owner worker.
func (c *Client) RemotePut(ctx context.Context, owner ref.WorkerID, data []byte, file string, size int64, destroyOnEvict bool) (ref.DRef, error) {
	var resp putResponse
	req := putRequest{Data: data, File: file, Size: size, DestroyOnEvict: destroyOnEvict}
	if err := c.do(ctx, owner, "/put", req, &resp); err != nil {
		return ref.DRef{}, err
	}
	return resp.DRef.dref(), errorOf(resp.Err)
}

func (c *Client) SetDestroyOnEvictRemote(ctx context.Context, owner ref.WorkerID, id ref.LocalID, flag bool) error {
	var resp statusOnlyResponse
	if err := c.do(ctx, owner, "/destroyonevict", setDestroyOnEvictRequest{ID: id, Flag: flag}, &resp); err != nil {
		return err
	}
	return errorOf(resp.Err)
}

func (c *Client) MoveToDiskRemote(ctx context.Context, owner ref.WorkerID, id ref.LocalID, path string, keepInMemory bool) (ref.FRef, error) {
	var resp frefResponse
	req := diskPathRequest{ID: id, Path: path, KeepInMemory: keepInMemory}
	if err := c.do(ctx, owner, "/movetodisk", req, &resp); err != nil {
		return ref.FRef{}, err
	}
	return resp.FRef, errorOf(resp.Err)
}

func (c *Client) SaveToDiskRemote(ctx context.Context, owner ref.WorkerID, id ref.LocalID, path string) (ref.FRef, error) {
	var resp frefResponse
	req := diskPathRequest{ID: id, Path: path}
	if err := c.do(ctx, owner, "/savetodisk", req, &resp); err != nil {
		return ref.FRef{}, err
	}
	return resp.FRef, errorOf(resp.Err)
}

func (c *Client) DeleteFromDiskRemote(ctx context.Context, owner ref.WorkerID, path string) error {
	var resp statusOnlyResponse
	if err := c.do(ctx, owner, "/deletefromdisk", deleteFromDiskRequest{Path: path}, &resp); err != nil {
		return err
	}
	return errorOf(resp.Err)
}

// DeleteRemote forces a force-destroy at owner regardless of that worker's
// refcount, for pool.Delete's cross-worker case.
func (c *Client) DeleteRemote(ctx context.Context, owner ref.WorkerID, id ref.LocalID) error {
	var resp statusOnlyResponse
	if err := c.do(ctx, owner, "/delete", deleteRequest{ID: id}, &resp); err != nil {
		return err
	}
	return errorOf(resp.Err)
}

// GetWrkrIPs implements locality.TopologyClient, routed to the
// coordinator (worker id 1 by convention).
func (c *Client) GetWrkrIPs(ctx context.Context) (map[string][]ref.WorkerID, error) {
	var resp wrkrIPsResponse
	if err := c.do(ctx, coordinatorID, "/wrkrips", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.Topology, errorOf(resp.Err)
}

// AskExternalIP implements locality.TopologyClient's loopback
// reconciliation query.
func (c *Client) AskExternalIP(ctx context.Context, worker ref.WorkerID) (string, error) {
	var resp externalIPResponse
	if err := c.do(ctx, worker, "/externalip", externalIPRequest{Worker: worker}, &resp); err != nil {
		return "", err
	}
	return resp.IP, errorOf(resp.Err)
}

// FetchFile asks worker to read and return the raw bytes of a spilled
// file it hosts — the FRef dereference path's remote-deserialize step.
func (c *Client) FetchFile(ctx context.Context, worker ref.WorkerID, path string) ([]byte, error) {
	var resp fetchFileResponse
	if err := c.do(ctx, worker, "/fetchfile", fetchFileRequest{Path: path}, &resp); err != nil {
		return nil, err
	}
	return resp.Data, errorOf(resp.Err)
}

const coordinatorID = ref.WorkerID(1)

// wsConnFor lazily dials and caches a persistent notification connection
// to worker. A dial failure is returned to the caller, who (per
// refcount.Notifier's contract) must drop the notification rather than
// retry it.
func (c *Client) wsConnFor(worker ref.WorkerID) (wsConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.wsConns[worker]; ok {
		return conn, nil
	}
	addr, err := c.addrFor(worker)
	if err != nil {
		return nil, err
	}
	conn, err := dialWS("ws://" + addr + "/notify")
	if err != nil {
		return nil, err
	}
	c.wsConns[worker] = conn
	return conn, nil
}

func (c *Client) dropWSConn(worker ref.WorkerID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if conn, ok := c.wsConns[worker]; ok {
		conn.Close()
		delete(c.wsConns, worker)
	}
}

// NotifyRefAtOwner implements refcount.Notifier: best-effort, no retry. A
// failure is logged and dropped, per spec.md §7 — a lost first-sight
// notification is a permanent leak the operator must detect independently
// (see pool.Reconcile for a mitigation, not a fix).
func (c *Client) NotifyRefAtOwner(ctx context.Context, dref ref.DRef, from ref.WorkerID) {
	c.sendNotify(dref.Owner, refNotifyFrame{Kind: "ref", DRef: rawOf(dref), From: from})
}

func (c *Client) NotifyUnrefAtOwner(ctx context.Context, dref ref.DRef, from ref.WorkerID) {
	c.sendNotify(dref.Owner, refNotifyFrame{Kind: "unref", DRef: rawOf(dref), From: from})
}

// NotifyWhoHasRead tells the coordinator that dref was materialized from
// file — advisory debugging state, dropped silently on failure exactly
// like ref/unref notifications.
func (c *Client) NotifyWhoHasRead(ctx context.Context, file string, dref ref.DRef) {
	c.sendNotify(coordinatorID, refNotifyFrame{Kind: "whohasread", DRef: rawOf(dref), File: file})
}

func (c *Client) sendNotify(owner ref.WorkerID, frame refNotifyFrame) {
	conn, err := c.wsConnFor(owner)
	if err != nil {
		log.Error(err, "dropping ref notification: could not reach owner", "owner", owner)
		return
	}
	data, err := encode(frame)
	if err != nil {
		log.Error(err, "dropping ref notification: encode failed")
		return
	}
	if err := conn.WriteMessage(data); err != nil {
		log.Error(err, "dropping ref notification: write failed", "owner", owner)
		c.dropWSConn(owner)
	}
}

// Close tears down every cached websocket connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for w, conn := range c.wsConns {
		conn.Close()
		delete(c.wsConns, w)
	}
}
