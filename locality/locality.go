// Package locality resolves which workers share a given host, used to
// route FRef dereferences to a peer that can actually read the file.
package locality

import (
	"context"
	"fmt"
	"sync"

	"xiaoshiai.cn/mempool/collections"
	"xiaoshiai.cn/mempool/log"
	xrand "xiaoshiai.cn/mempool/rand"
	"xiaoshiai.cn/mempool/ref"
)

const loopback = "127.0.0.1"

// TopologyClient answers the two RPCs the resolver needs from the
// coordinator: the full ip -> worker-ids map, and (for loopback
// reconciliation only) a specific worker's externally reachable address.
type TopologyClient interface {
	GetWrkrIPs(ctx context.Context) (map[string][]ref.WorkerID, error)
	AskExternalIP(ctx context.Context, worker ref.WorkerID) (string, error)
}

// Resolver maps an IP to the worker ids co-located with it. It is
// populated lazily on first use and cached thereafter.
type Resolver struct {
	client           TopologyClient
	randomFRefServe bool

	mu        sync.Mutex
	populated bool
	byIP      map[string]collections.Set[ref.WorkerID]
}

func New(client TopologyClient, randomFRefServe bool) *Resolver {
	return &Resolver{client: client, randomFRefServe: randomFRefServe}
}

func (r *Resolver) ensurePopulated(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.populated {
		return nil
	}
	topo, err := r.client.GetWrkrIPs(ctx)
	if err != nil {
		return err
	}
	byIP := buildTopology(topo, r.randomFRefServe)
	if err := reconcileLoopback(ctx, byIP, r.client.AskExternalIP); err != nil {
		return err
	}
	r.byIP = byIP
	r.populated = true
	return nil
}

// buildTopology applies the candidate-selection construction rule: every
// IP keeps all its workers when randomFRefServe is enabled, otherwise only
// the lowest worker id (deterministic selection).
func buildTopology(topo map[string][]ref.WorkerID, randomFRefServe bool) map[string]collections.Set[ref.WorkerID] {
	byIP := make(map[string]collections.Set[ref.WorkerID], len(topo))
	for ip, workers := range topo {
		if len(workers) == 0 {
			continue
		}
		if randomFRefServe {
			byIP[ip] = collections.New(workers...)
			continue
		}
		lowest := workers[0]
		for _, w := range workers[1:] {
			if w < lowest {
				lowest = w
			}
		}
		byIP[ip] = collections.New(lowest)
	}
	return byIP
}

// reconcileLoopback implements the loopback-reconciliation construction
// rule: if 127.0.0.1 has workers and more than one IP key exists overall,
// resolve the real external IP of one of those loopback workers and merge
// the loopback bucket into it, then drop the loopback key. This prevents
// co-located workers that bound to loopback from looking unreachable.
func reconcileLoopback(ctx context.Context, byIP map[string]collections.Set[ref.WorkerID], askExternalIP func(context.Context, ref.WorkerID) (string, error)) error {
	loop, ok := byIP[loopback]
	if !ok || len(byIP) <= 1 {
		return nil
	}
	var any ref.WorkerID
	for w := range loop {
		any = w
		break
	}
	externalIP, err := askExternalIP(ctx, any)
	if err != nil {
		return fmt.Errorf("resolve external ip for loopback worker %d: %w", any, err)
	}
	if externalIP == "" || externalIP == loopback {
		return nil
	}
	target, ok := byIP[externalIP]
	if !ok {
		target = collections.New[ref.WorkerID]()
		byIP[externalIP] = target
	}
	for w := range loop {
		target.Insert(w)
	}
	delete(byIP, loopback)
	return nil
}

// WorkersAt returns the worker ids co-located with ip.
func (r *Resolver) WorkersAt(ctx context.Context, ip string) ([]ref.WorkerID, error) {
	if err := r.ensurePopulated(ctx); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.byIP[ip]
	if !ok {
		return nil, nil
	}
	workers := make([]ref.WorkerID, 0, len(set))
	for w := range set {
		workers = append(workers, w)
	}
	return workers, nil
}

// WorkerAt picks one worker co-located with ip, uniformly at random.
func (r *Resolver) WorkerAt(ctx context.Context, ip string) (ref.WorkerID, bool, error) {
	workers, err := r.WorkersAt(ctx, ip)
	if err != nil {
		return 0, false, err
	}
	if len(workers) == 0 {
		return 0, false, nil
	}
	idx := xrand.IntN(len(workers))
	return workers[idx], true, nil
}

// Invalidate forces the next WorkersAt/WorkerAt call to re-query the
// coordinator. Used after topology changes (e.g. a peer recovers from
// loopback-only binding).
func (r *Resolver) Invalidate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.populated = false
	r.byIP = nil
	log.V(2).Info("locality cache invalidated")
}
