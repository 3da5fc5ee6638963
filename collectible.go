package turbotask

import "sync"

// TraitTypeId is an opaque trait tag assigned by the host at registration
// time. No runtime
// reflection is required: it is just a uint32 the host chooses to mean
// "this collectible is an instance of trait X".
type TraitTypeId uint32

type collectibleKey struct {
	trait TraitTypeId
	key   any
}

// collectibleSet holds the emitted/unemitted multisets for one scope,
// keyed by trait.
type collectibleSet struct {
	mu       sync.Mutex
	emitted  map[collectibleKey]int
	unemitted map[collectibleKey]int
	readers  map[TraitTypeId]map[TaskId]struct{}
	waiters  map[TraitTypeId][]chan struct{}
}

func newCollectibleSet() *collectibleSet {
	return &collectibleSet{
		emitted:   make(map[collectibleKey]int),
		unemitted: make(map[collectibleKey]int),
		readers:   make(map[TraitTypeId]map[TaskId]struct{}),
		waiters:   make(map[TraitTypeId][]chan struct{}),
	}
}

func (c *collectibleSet) emit(trait TraitTypeId, value RawRef) {
	c.mu.Lock()
	k := collectibleKey{trait, identityKeyOf(value)}
	c.emitted[k]++
	toWake := c.waiters[trait]
	delete(c.waiters, trait)
	c.mu.Unlock()
	wake(toWake)
}

func (c *collectibleSet) unemit(trait TraitTypeId, value RawRef) {
	c.mu.Lock()
	k := collectibleKey{trait, identityKeyOf(value)}
	c.unemitted[k]++
	toWake := c.waiters[trait]
	delete(c.waiters, trait)
	c.mu.Unlock()
	wake(toWake)
}

// net returns the signed emitted-minus-unemitted count for every distinct
// value of trait recorded directly on this scope.
func (c *collectibleSet) net(trait TraitTypeId) map[any]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[any]int)
	for k, n := range c.emitted {
		if k.trait == trait {
			out[k.key] += n
		}
	}
	for k, n := range c.unemitted {
		if k.trait == trait {
			out[k.key] -= n
		}
	}
	return out
}

func (c *collectibleSet) trackReader(trait TraitTypeId, reader TaskId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.readers[trait]
	if !ok {
		m = make(map[TaskId]struct{})
		c.readers[trait] = m
	}
	m[reader] = struct{}{}
}

// identityKeyOf extracts the comparable key callers must have supplied via
// NewRawRef so it can be used as a collectible multiset key. Collectible
// values are expected to carry a comparable key; an
// uncomparable key panics at the map insertion in emit/unemit, the same way
// a bad map key would anywhere else in Go.
func identityKeyOf(v RawRef) any {
	return v.key
}

func wake(chs []chan struct{}) {
	for _, ch := range chs {
		close(ch)
	}
}
