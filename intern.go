package turbotask

import "sync"

// internTable is the content-addressed map from persistent task identity to
// TaskId. It is safe for concurrent use; every lookup-or-insert runs under
// one mutex (see getOrAllocate).
type internTable struct {
	mu    sync.Mutex
	byKey map[persistentIdentity]TaskId
}

func newInternTable() *internTable {
	return &internTable{byKey: make(map[persistentIdentity]TaskId)}
}

// getOrAllocate returns the existing TaskId for key, or calls alloc to mint
// one and installs it. The whole check-then-insert runs under t.mu, so
// unlike a lock-free concurrent map there is no contended loser that needs
// to hand its freshly allocated id back — uniqueness holds by construction
// rather than by a release-on-conflict path.
func (t *internTable) getOrAllocate(key persistentIdentity, alloc func() TaskId) (id TaskId, created bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.byKey[key]; ok {
		return existing, false
	}
	id = alloc()
	t.byKey[key] = id
	return id, true
}

func (t *internTable) remove(key persistentIdentity) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byKey, key)
}
