package turbotask

import (
	"sync"

	"go.uber.org/atomic"
)

// TaskId, ScopeId and JobId are dense, non-zero integer handles. Zero is
// reserved as the "no id" sentinel so a zero-valued struct never aliases a
// live entity.
type TaskId uint64

// ScopeId identifies a Scope.
type ScopeId uint64

// JobId identifies a queued background job.
type JobId uint64

// idFactory allocates strictly increasing non-zero ids and accepts ids back
// for reuse via a LIFO free list. A reused id must never be observable by
// code still holding the prior value associated with it, so callers only
// return an id once its prior owner is fully torn down. The only caller
// that releases ids is Backend.runBackendJob, for job ids; scope ids are
// never released.
type idFactory struct {
	mu      sync.Mutex
	next    atomic.Uint64
	free    []uint64
	freeCap int
}

func newIdFactory() *idFactory {
	f := &idFactory{freeCap: 4096}
	f.next.Store(1)
	return f
}

// alloc returns a fresh or recycled id, never zero.
func (f *idFactory) alloc() uint64 {
	f.mu.Lock()
	if n := len(f.free); n > 0 {
		id := f.free[n-1]
		f.free = f.free[:n-1]
		f.mu.Unlock()
		return id
	}
	f.mu.Unlock()
	return f.next.Add(1) - 1
}

// release returns id to the free list for future reuse. Callers must
// guarantee nothing still references id at the moment of the call.
func (f *idFactory) release(id uint64) {
	if id == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.free) >= f.freeCap {
		// Free list is bounded; drop the id rather than grow unbounded.
		// The allocator keeps monotonically increasing instead.
		return
	}
	f.free = append(f.free, id)
}
