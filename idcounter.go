package mempool

import (
	"sync/atomic"

	"xiaoshiai.cn/mempool/ref"
)

// idCounter hands out this worker's local ids, monotonically increasing
// and never reused even after the referenced entry is destroyed — reusing
// a LocalID would let a stale DRef held by some far-off peer silently
// resolve to unrelated data.
type idCounter struct {
	n atomic.Uint64
}

func newIDCounter() *idCounter {
	return &idCounter{}
}

func (c *idCounter) next() ref.LocalID {
	return ref.LocalID(c.n.Add(1))
}
