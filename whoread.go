package mempool

import (
	"sync"

	"xiaoshiai.cn/mempool/collections"
	"xiaoshiai.cn/mempool/ref"
)

// whoHasReadRegistry is the coordinator-side advisory index of which DRef
// was materialized from which file. Unlike the original design (spec.md
// §9 open question: "never pruned, the registry only grows"), entries are
// removed the moment their DRef is destroyed, via the reverse byDRef
// index — bounding the registry to currently-live refs instead of
// growing for the lifetime of the process.
type whoHasReadRegistry struct {
	mu     sync.Mutex
	byFile map[string]collections.Set[ref.DRefKey]
	byDRef map[ref.DRefKey]collections.Set[string]
}

func newWhoHasReadRegistry() *whoHasReadRegistry {
	return &whoHasReadRegistry{
		byFile: map[string]collections.Set[ref.DRefKey]{},
		byDRef: map[ref.DRefKey]collections.Set[string]{},
	}
}

func (w *whoHasReadRegistry) record(file string, dref ref.DRef) {
	key := dref.Key()
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.byFile[file] == nil {
		w.byFile[file] = collections.New[ref.DRefKey]()
	}
	w.byFile[file].Insert(key)
	if w.byDRef[key] == nil {
		w.byDRef[key] = collections.New[string]()
	}
	w.byDRef[key].Insert(file)
}

// prune removes every trace of key, called when its owner-side population
// reaches zero and the RefState is destroyed.
func (w *whoHasReadRegistry) prune(key ref.DRefKey) {
	w.mu.Lock()
	defer w.mu.Unlock()
	files, ok := w.byDRef[key]
	if !ok {
		return
	}
	for file := range files {
		if set, ok := w.byFile[file]; ok {
			set.Delete(key)
			if len(set) == 0 {
				delete(w.byFile, file)
			}
		}
	}
	delete(w.byDRef, key)
}

// readers returns the DRefs known to have been materialized from file.
func (w *whoHasReadRegistry) readers(file string) []ref.DRefKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	set, ok := w.byFile[file]
	if !ok {
		return nil
	}
	return set.UnsortedList()
}

func (w *whoHasReadRegistry) fileCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.byFile)
}
