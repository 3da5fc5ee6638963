package turbotask

import "sync"

// outputState distinguishes the three states an OutputSlot can hold.
type outputState int

const (
	outputEmpty outputState = iota
	outputValue
	outputError
)

// outputSlot is a task's final result holder: Empty, Value(RawRef), or
// Error(kind). It keeps a reader set used to mark dependents dirty when its
// value changes identity, and a wait/notify event so readers can suspend
// until a value is produced.
type outputSlot struct {
	mu      sync.Mutex
	state   outputState
	value   RawRef
	errVal  error
	readers map[TaskId]struct{}
	waiters []chan struct{}
}

func newOutputSlot() *outputSlot {
	return &outputSlot{readers: make(map[TaskId]struct{})}
}

// outputWait is returned by read/readUntracked when no value is present
// yet; the caller suspends on ready until it is closed.
type outputWait struct {
	ready <-chan struct{}
}

// read installs reader in the slot's reader set (whether or not a value is
// present yet) and returns either the current state or a wait handle.
func (o *outputSlot) read(reader TaskId) (RawRef, error, *outputWait, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readers[reader] = struct{}{}
	return o.snapshotLocked()
}

// readUntracked is identical to read but does not install reader.
func (o *outputSlot) readUntracked() (RawRef, error, *outputWait, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// trackRead installs reader without reading the current value.
func (o *outputSlot) trackRead(reader TaskId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.readers[reader] = struct{}{}
}

func (o *outputSlot) snapshotLocked() (RawRef, error, *outputWait, bool) {
	switch o.state {
	case outputValue:
		return o.value, nil, nil, true
	case outputError:
		return RawRef{}, o.errVal, nil, true
	default:
		ch := make(chan struct{})
		o.waiters = append(o.waiters, ch)
		// Callers only need a channel that closes on the next
		// set/setError, so we hand back a read-only view of the one we
		// just queued.
		return RawRef{}, nil, &outputWait{ready: ch}, false
	}
}

// set replaces the current value. If the new value's identity differs from
// the old one, every existing reader is marked dirty and waiters are woken;
// the reader set is cleared. If the identity is unchanged, the reader set
// is retained and nobody is dirtied.
//
// invalidate is called, with the lock released, once per reader that must
// be marked dirty.
func (o *outputSlot) set(v RawRef, invalidate func(TaskId)) {
	o.mu.Lock()
	prevState := o.state
	prev := o.value
	changed := prevState != outputValue || !sameIdentity(prev, v)

	o.state = outputValue
	o.value = v
	o.errVal = nil

	var toDirty []TaskId
	var toWake []chan struct{}
	if changed {
		for r := range o.readers {
			toDirty = append(toDirty, r)
		}
		o.readers = make(map[TaskId]struct{})
	}
	toWake, o.waiters = o.waiters, nil
	o.mu.Unlock()

	for _, ch := range toWake {
		close(ch)
	}
	if invalidate != nil {
		for _, r := range toDirty {
			invalidate(r)
		}
	}
}

// setError stores an error value. If the new error's identity key differs
// from the previous one, every existing reader is marked dirty and the
// reader set is cleared; if the identity is unchanged, the reader set is
// retained and nobody is dirtied, mirroring set()'s treatment of values.
// Errors without an identityKey (not *TaskFailureError) are always treated
// as changed, since there is no basis for comparison.
func (o *outputSlot) setError(err error, invalidate func(TaskId)) {
	o.mu.Lock()
	prevState := o.state
	prev := o.errVal
	changed := prevState != outputError || !sameErrorIdentity(prev, err)

	o.state = outputError
	o.errVal = err
	o.value = RawRef{}

	var toDirty []TaskId
	if changed {
		for r := range o.readers {
			toDirty = append(toDirty, r)
		}
		o.readers = make(map[TaskId]struct{})
	}
	toWake := o.waiters
	o.waiters = nil
	o.mu.Unlock()

	for _, ch := range toWake {
		close(ch)
	}
	if invalidate != nil {
		for _, r := range toDirty {
			invalidate(r)
		}
	}
}

// removeReader drops reader from the slot's reader set, used when a task's
// dependency set no longer includes this slot.
func (o *outputSlot) removeReader(reader TaskId) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.readers, reader)
}
