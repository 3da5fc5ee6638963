package turbotask

import (
	"context"
	"sync"
)

// TaskState is the task's state machine:
//
//	Scheduled -> InProgress -> Done | Dirty
type TaskState int

const (
	// TaskScheduled: enqueued for execution; output may be stale or absent.
	TaskScheduled TaskState = iota
	// TaskInProgress: currently executing under a cancellation epoch.
	TaskInProgress
	// TaskDone: output present, dependencies recorded.
	TaskDone
	// TaskDirty: needs re-execution.
	TaskDirty
)

func (s TaskState) String() string {
	switch s {
	case TaskScheduled:
		return "Scheduled"
	case TaskInProgress:
		return "InProgress"
	case TaskDone:
		return "Done"
	case TaskDirty:
		return "Dirty"
	default:
		return "Unknown"
	}
}

// persistentIdentity is a persistent task's interned identity: a
// (function_id, args) tuple. args is pre-serialized by the
// host into a comparable key so the intern table can use it directly as a
// map key.
type persistentIdentity struct {
	functionID uint32
	argsKey    string
}

// PersistentIdentity is the host-facing constructor for persistentIdentity.
func PersistentIdentity(functionID uint32, argsKey string) persistentIdentity {
	return persistentIdentity{functionID: functionID, argsKey: argsKey}
}

// taskFn is the function a task executes; transient tasks carry a closure
// directly, persistent tasks carry the function registered for their
// functionID (looked up by the host before calling GetOrCreatePersistentTask).
type taskFn func(ctx context.Context, rc *RunContext) (RawRef, error)

// Task is a unit of cached computation.
type Task struct {
	id TaskId

	mu    sync.Mutex
	state TaskState
	epoch uint64 // cancellation tag, bumped each time execute() starts a run

	persistent *persistentIdentity // nil for transient tasks
	fn         taskFn

	output *outputSlot
	cells  *cellStore

	deps map[dependency]struct{} // dependency set recorded at last completion

	scopeRefs map[ScopeId]int     // ref-counted scope membership (multiple connect paths)
	children  map[TaskId]struct{} // tasks connected as children by any execution; never cleared

	tags *tagStore

	// redirtiedDuringExecution is set by invalidate() if it fires while the
	// task is InProgress; it drives the Done-vs-Scheduled transition at
	// execution_completed.
	redirtiedDuringExecution bool

	// activeRecorder is the in-flight execution's dependency recorder, set
	// by execute() and consumed by executionCompleted(). It is nil outside
	// of an InProgress window.
	activeRecorder *recorder
}

func newTask(id TaskId, persistent *persistentIdentity, fn taskFn) *Task {
	return &Task{
		id:         id,
		state:      TaskScheduled,
		persistent: persistent,
		fn:         fn,
		output:     newOutputSlot(),
		cells:      newCellStore(),
		deps:       make(map[dependency]struct{}),
		scopeRefs:  make(map[ScopeId]int),
		children:   make(map[TaskId]struct{}),
		tags:       newTagStore(),
	}
}

func (t *Task) tagStore() *tagStore { return t.tags }

// execute moves a Scheduled task to InProgress and returns the spec the
// runtime should drive. Any other state returns nil.
func (t *Task) execute(b *Backend, rt Runtime) *TaskExecutionSpec {
	t.mu.Lock()
	if t.state != TaskScheduled {
		t.mu.Unlock()
		return nil
	}
	t.state = TaskInProgress
	t.epoch++
	epoch := t.epoch
	t.redirtiedDuringExecution = false
	rec := newRecorder()
	t.activeRecorder = rec
	fn := t.fn
	t.mu.Unlock()

	t.cells.beginExecution()

	run := func(ctx context.Context, _ *RunContext) (RawRef, error) {
		rc := &RunContext{backend: b, runtime: rt, task: t.id, rec: rec}
		return fn(ctx, rc)
	}

	return &TaskExecutionSpec{Task: t.id, Epoch: epoch, Run: run}
}

// executionResult records the produced value or error from the execution
// tagged with epoch. A stale epoch (superseded by a later invalidate+
// re-execute) is silently discarded.
func (t *Task) executionResult(value RawRef, err error, epoch uint64, b *Backend, rt Runtime) {
	t.mu.Lock()
	if t.state != TaskInProgress || t.epoch != epoch {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	readers := func(r TaskId) { b.invalidateTask(r, rt) }
	if err != nil {
		t.output.setError(err, readers)
	} else {
		t.output.set(value, readers)
	}
}

// executionCompleted finalizes state for the execution tagged with epoch:
// it diffs the dependency set, installs/removes readers, drops stale
// cells, and transitions to Done or back to Scheduled.
// It reports whether the task should be rescheduled immediately.
func (t *Task) executionCompleted(epoch uint64, b *Backend, rt Runtime) (shouldReschedule bool) {
	t.mu.Lock()
	if t.state != TaskInProgress || t.epoch != epoch {
		// Stale completion: discard it, leave state untouched.
		t.mu.Unlock()
		return false
	}

	rec := t.activeRecorder
	t.activeRecorder = nil
	oldDeps := t.deps
	newDeps := rec.snapshot()
	t.deps = newDeps

	redirtied := t.redirtiedDuringExecution
	scopes := make([]ScopeId, 0, len(t.scopeRefs))
	for s := range t.scopeRefs {
		scopes = append(scopes, s)
	}

	if redirtied {
		t.state = TaskScheduled
	} else {
		t.state = TaskDone
	}
	t.mu.Unlock()

	t.cells.releaseUnassigned(func(r TaskId) { b.invalidateTask(r, rt) })

	// Dependency diffing: removals first, then additions.
	for d := range oldDeps {
		if _, stillThere := newDeps[d]; !stillThere {
			b.removeDependencyReader(d, t.id)
		}
	}
	for d := range newDeps {
		if _, wasThere := oldDeps[d]; !wasThere {
			b.installDependencyReader(d, t.id)
		}
	}

	for _, s := range scopes {
		b.taskBecameDone(s, t.id, !redirtied)
	}

	return redirtied
}

// invalidate moves a Done task to Dirty. If the task belongs to any active
// scope it is immediately transitioned to Scheduled for the runtime to pick
// up; otherwise it waits.
func (t *Task) invalidate(b *Backend, rt Runtime) {
	t.mu.Lock()
	switch t.state {
	case TaskDone:
		t.state = TaskDirty
	case TaskInProgress:
		// Already counted as not-Done in every owning scope's unfinished
		// counter; just tag the running execution for redirty so
		// executionCompleted reschedules instead of marking Done.
		t.redirtiedDuringExecution = true
		t.mu.Unlock()
		return
	case TaskDirty, TaskScheduled:
		t.mu.Unlock()
		return
	}
	isActiveInAny := b.anyActiveScope(t.scopeListLocked())
	if isActiveInAny {
		t.state = TaskScheduled
	}
	scopes := t.scopeListLocked()
	t.mu.Unlock()

	b.scopesIncrementUnfinished(scopes)
	b.markDirtyInScopes(scopes, t.id, true)

	if t.state == TaskScheduled {
		b.scheduleTask(t.id, rt)
	}
}

// scopeList returns a snapshot of the scopes t belongs to, locking t.mu.
func (t *Task) scopeList() []ScopeId {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.scopeListLocked()
}

func (t *Task) scopeListLocked() []ScopeId {
	out := make([]ScopeId, 0, len(t.scopeRefs))
	for s := range t.scopeRefs {
		out = append(out, s)
	}
	return out
}

// addScopeRef records one more membership path through scope s.
func (t *Task) addScopeRef(s ScopeId) (firstRef bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.scopeRefs[s]
	t.scopeRefs[s] = n + 1
	return n == 0
}

// removeScopeRef removes one membership path through scope s, returning
// true if that was the last path (the task actually left the scope).
func (t *Task) removeScopeRef(s ScopeId) (left bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.scopeRefs[s]
	if !ok {
		return false
	}
	if n <= 1 {
		delete(t.scopeRefs, s)
		return true
	}
	t.scopeRefs[s] = n - 1
	return false
}

func (t *Task) isDone() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state == TaskDone
}

func (t *Task) currentState() TaskState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// addChild records child in this task's child set for the execution in
// progress.
func (t *Task) addChild(child TaskId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.children[child] = struct{}{}
}
