package turbotask

import (
	"context"
	"sync"
)

// Backend is the thin facade owning every Task, Scope, and background job,
// plus the persistent-task intern table. It exposes the engine's entire
// public surface to the host runtime; nothing outside this file (and
// runtime.go's RunContext, which only calls back into it) is meant to be
// used directly by a host.
type Backend struct {
	scopeIds *idFactory
	jobIds   *idFactory

	tasks  *slotStore[*Task]
	scopes *slotStore[*Scope]
	jobs   *slotStore[backendJob]

	intern *internTable

	initialScope ScopeId

	statsMu  sync.Mutex
	recorder StatsRecorder
}

// NewBackend creates a Backend with its initial scope already allocated at
// construction time. Roots belong to this scope for their entire life
// unless explicitly moved.
func NewBackend() *Backend {
	b := &Backend{
		scopeIds: newIdFactory(),
		jobIds:   newIdFactory(),
		tasks:    newSlotStore[*Task](),
		scopes:   newSlotStore[*Scope](),
		jobs:     newSlotStore[backendJob](),
		intern:   newInternTable(),
	}
	b.initialScope = ScopeId(b.scopeIds.alloc())
	b.scopes.insert(uint64(b.initialScope), newScope(b.initialScope))
	return b
}

// SetStatsRecorder installs the hook invoked on task execution completion
// when the host's StatsType() is above StatsNone.
func (b *Backend) SetStatsRecorder(r StatsRecorder) {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	b.recorder = r
}

func (b *Backend) statsRecorder() StatsRecorder {
	b.statsMu.Lock()
	defer b.statsMu.Unlock()
	return b.recorder
}

// InitialScope returns the root scope every transient/root task belongs to
// until moved elsewhere.
func (b *Backend) InitialScope() ScopeId { return b.initialScope }

func (b *Backend) mustTask(id TaskId) *Task {
	t, ok := b.tasks.get(uint64(id))
	if !ok {
		return nil
	}
	return t
}

func (b *Backend) mustScope(id ScopeId) *Scope {
	s, ok := b.scopes.get(uint64(id))
	if !ok {
		return nil
	}
	return s
}

// NewScope allocates a fresh, inactive scope with no members.
func (b *Backend) NewScope() ScopeId {
	id := ScopeId(b.scopeIds.alloc())
	b.scopes.insert(uint64(id), newScope(id))
	return id
}

// --- Task creation -------------------------------------------------------

// GetOrCreatePersistentTask interns (function, args) and returns its
// TaskId, creating a fresh Task on first sight and connecting it as a
// child of parent. fn is the function the host has already resolved for
// identity.functionID.
func (b *Backend) GetOrCreatePersistentTask(identity persistentIdentity, parent TaskId, fn func(ctx context.Context, rc *RunContext) (RawRef, error), rt Runtime) TaskId {
	id, created := b.intern.getOrAllocate(identity, func() TaskId {
		return TaskId(rt.GetFreshTaskId())
	})
	if created {
		tk := newTask(id, &identity, fn)
		b.tasks.insert(uint64(id), tk)
	}
	b.connectChild(parent, id, rt)
	return id
}

// CreateTransientTask allocates a task for a host-supplied closure (roots,
// one-shot tasks) and adds it to the initial scope.
func (b *Backend) CreateTransientTask(fn func(ctx context.Context, rc *RunContext) (RawRef, error), rt Runtime) TaskId {
	return b.createTransientTask(fn, rt)
}

func (b *Backend) createTransientTask(fn taskFn, rt Runtime) TaskId {
	id := TaskId(rt.GetFreshTaskId())
	tk := newTask(id, nil, fn)
	b.tasks.insert(uint64(id), tk)
	b.addTaskToScope(id, b.initialScope, tk.currentState() == TaskScheduled, rt)
	return id
}

// --- Execution lifecycle --------------------------------------------------

// TryStartTaskExecution dispatches to Task.execute.
func (b *Backend) TryStartTaskExecution(id TaskId, rt Runtime) *TaskExecutionSpec {
	tk := b.mustTask(id)
	if tk == nil {
		return nil
	}
	return tk.execute(b, rt)
}

// TaskExecutionResult records the produced value/error for the execution
// tagged with epoch.
func (b *Backend) TaskExecutionResult(id TaskId, value RawRef, err error, epoch uint64, rt Runtime) {
	tk := b.mustTask(id)
	if tk == nil {
		return
	}
	tk.executionResult(value, err, epoch, b, rt)
}

// TaskExecutionCompleted finalizes the execution tagged with epoch and
// returns whether the task must be rescheduled immediately.
func (b *Backend) TaskExecutionCompleted(id TaskId, epoch uint64, rt Runtime) (shouldReschedule bool) {
	tk := b.mustTask(id)
	if tk == nil {
		return false
	}
	should := tk.executionCompleted(epoch, b, rt)
	if should {
		b.scheduleTask(id, rt)
	}
	if rec := b.statsRecorder(); rec != nil && rt.StatsType() != StatsNone {
		rec.RecordExecution(id, should)
	}
	return should
}

func (b *Backend) scheduleTask(id TaskId, rt Runtime) {
	tk := b.mustTask(id)
	if tk == nil {
		return
	}
	// A Dirty task picked up for scheduling becomes Scheduled first, so
	// execute can start it.
	tk.mu.Lock()
	if tk.state == TaskDirty {
		tk.state = TaskScheduled
	}
	tk.mu.Unlock()
	spec := tk.execute(b, rt)
	if spec != nil {
		rt.Schedule(spec)
	}
}

// --- Reads ----------------------------------------------------------------

// TryReadTaskOutput installs reader on task's output slot and returns its
// value, error, or a wait handle.
// When stronglyConsistent is set it additionally waits for every scope task
// belongs to to reach unfinished==0.
func (b *Backend) TryReadTaskOutput(task, reader TaskId, stronglyConsistent bool, rt Runtime) (RawRef, error, *outputWait) {
	v, err, wait, _ := b.tryReadTaskOutput(task, reader, stronglyConsistent, rt)
	return v, err, wait
}

func (b *Backend) tryReadTaskOutput(task, reader TaskId, stronglyConsistent bool, rt Runtime) (RawRef, error, *outputWait, bool) {
	if task == reader {
		return RawRef{}, &ReadOwnOutputError{Task: reader}, nil, true
	}
	tk := b.mustTask(task)
	if tk == nil {
		return RawRef{}, ErrSlotNotFound, nil, true
	}
	v, err, wait, ready := tk.output.read(reader)
	if !ready {
		return v, err, wait, false
	}
	if stronglyConsistent {
		if w, readyErr := b.waitStronglyConsistent(tk, reader); w != nil || readyErr != nil {
			return RawRef{}, readyErr, w, readyErr != nil
		}
	}
	return v, err, nil, true
}

// TryReadTaskOutputUntracked is TryReadTaskOutput without installing the
// reader.
func (b *Backend) TryReadTaskOutputUntracked(task TaskId) (RawRef, error, *outputWait) {
	tk := b.mustTask(task)
	if tk == nil {
		return RawRef{}, ErrSlotNotFound, nil
	}
	v, err, wait, _ := tk.output.readUntracked()
	return v, err, wait
}

func (b *Backend) waitStronglyConsistent(tk *Task, reader TaskId) (*outputWait, error) {
	scopes := tk.scopeList()
	readerTask := b.mustTask(reader)
	for _, s := range scopes {
		sc := b.mustScope(s)
		if sc == nil {
			continue
		}
		w, zero := sc.waitForZero()
		if zero {
			continue
		}
		// Only a genuine cycle if the wait just installed would actually
		// block on a scope the reader itself is a member of: the reader
		// counts toward that scope's unfinished tasks, so it could never
		// reach zero while the reader is still running. A scope already at zero never
		// blocks, so membership there is irrelevant.
		if readerTask != nil && readerTask.belongsToScope(s) {
			return nil, &CycleError{Reader: reader, Scope: s}
		}
		return w, nil
	}
	return nil, nil
}

// TryReadTaskCell installs reader on cell (typ, idx) of task and returns
// its value or a wait handle.
func (b *Backend) TryReadTaskCell(task TaskId, typ CellTypeId, idx int, reader TaskId) (RawRef, *outputWait) {
	return b.tryReadTaskCell(task, typ, idx, reader)
}

func (b *Backend) tryReadTaskCell(task TaskId, typ CellTypeId, idx int, reader TaskId) (RawRef, *outputWait) {
	tk := b.mustTask(task)
	if tk == nil {
		return RawRef{}, nil
	}
	v, wait, ready := tk.cells.read(typ, idx, reader)
	if !ready {
		return v, wait
	}
	return v, nil
}

// TryReadTaskCellUntracked reads without installing the reader.
func (b *Backend) TryReadTaskCellUntracked(task TaskId, typ CellTypeId, idx int) (RawRef, bool) {
	tk := b.mustTask(task)
	if tk == nil {
		return RawRef{}, false
	}
	return tk.cells.readUntracked(typ, idx)
}

// UpdateTaskCell assigns content into task's cell (typ, idx) — normally
// only called by the task's own running execution via RunContext.UpdateCell.
func (b *Backend) UpdateTaskCell(task TaskId, typ CellTypeId, idx int, content RawRef, rt Runtime) {
	b.updateTaskCell(task, typ, idx, content, rt)
}

func (b *Backend) updateTaskCell(task TaskId, typ CellTypeId, idx int, content RawRef, rt Runtime) {
	tk := b.mustTask(task)
	if tk == nil {
		return
	}
	tk.cells.update(typ, idx, content, func(r TaskId) { b.invalidateTask(r, rt) })
}

// --- Invalidation ----------------------------------------------------------

// InvalidateTask moves task from Done to Dirty, scheduling it immediately
// if it is in any active scope.
func (b *Backend) InvalidateTask(id TaskId, rt Runtime) {
	b.invalidateTask(id, rt)
}

// InvalidateTasks invalidates every id in ids.
func (b *Backend) InvalidateTasks(ids []TaskId, rt Runtime) {
	for _, id := range ids {
		b.invalidateTask(id, rt)
	}
}

func (b *Backend) invalidateTask(id TaskId, rt Runtime) {
	tk := b.mustTask(id)
	if tk == nil {
		return
	}
	tk.invalidate(b, rt)
}

// --- Dependency bookkeeping (called from Task.executionCompleted) --------

func (b *Backend) installDependencyReader(d dependency, reader TaskId) {
	switch d.kind {
	case depTaskOutput:
		if tk := b.mustTask(d.task); tk != nil {
			tk.output.trackRead(reader)
		}
	case depTaskCell:
		if tk := b.mustTask(d.task); tk != nil {
			tk.cells.trackReader(d.typ, d.index, reader)
		}
	}
}

func (b *Backend) removeDependencyReader(d dependency, reader TaskId) {
	switch d.kind {
	case depTaskOutput:
		if tk := b.mustTask(d.task); tk != nil {
			tk.output.removeReader(reader)
		}
	case depTaskCell:
		if tk := b.mustTask(d.task); tk != nil {
			tk.cells.removeReader(d.typ, d.index, reader)
		}
	}
}

// --- Scope membership ------------------------------------------------------

// addTaskToScope registers t as a direct member of s, propagating
// activation if s is active and t is dirty (mirrors connectChild's
// per-scope bookkeeping).
func (b *Backend) addTaskToScope(t TaskId, s ScopeId, dirty bool, rt Runtime) {
	sc := b.mustScope(s)
	if sc == nil {
		return
	}
	tk := b.mustTask(t)
	firstRef := tk != nil && tk.addScopeRef(s)
	if !firstRef {
		return
	}
	sc.addTask(t, dirty)
	if !tk.isDone() {
		sc.addUnfinished(1)
	}
	if dirty && sc.isActive() {
		b.scheduleTask(t, rt)
	}
	b.maybeMergeScope(sc)
}

// scopeMergeThreshold is the aggregation hint value at which a scope would
// become a merge candidate, mirroring the original's aggregation-number
// heuristic.
const scopeMergeThreshold = 64

// maybeMergeScope bumps sc's aggregation hint and checks it against
// scopeMergeThreshold. It is a documented no-op placeholder: merging a hot
// task's scopes into a parent is a pure optimization the engine does not
// implement, since a partial merge would risk violating the ref-counted
// membership invariant that Scope.addTask/removeTask depend on.
func (b *Backend) maybeMergeScope(sc *Scope) {
	if sc == nil {
		return
	}
	if hint := sc.bumpAggregation(); hint < scopeMergeThreshold {
		return
	}
}

// removeTaskFromScope removes one membership path of t through s, used by
// the RemoveFromScope/RemoveFromScopes background jobs.
func (b *Backend) removeTaskFromScope(t TaskId, s ScopeId) {
	sc := b.mustScope(s)
	tk := b.mustTask(t)
	if sc == nil || tk == nil {
		return
	}
	if !tk.removeScopeRef(s) {
		return
	}
	left := sc.removeTask(t)
	if left && !tk.isDone() {
		sc.addUnfinished(-1)
	}
}

// connectChild adds child to parent's child set and, for every scope
// parent belongs to, adds child to that scope too.
func (b *Backend) connectChild(parent, child TaskId, rt Runtime) {
	pt := b.mustTask(parent)
	ct := b.mustTask(child)
	if pt == nil || ct == nil {
		return
	}
	pt.addChild(child)
	dirty := ct.currentState() != TaskDone
	for _, s := range pt.scopeList() {
		b.addTaskToScope(child, s, dirty, rt)
	}
}

// AddChildScope links child under parent, propagating activation into
// child if parent is currently active.
func (b *Backend) AddChildScope(parent, child ScopeId, rt Runtime) {
	ps := b.mustScope(parent)
	cs := b.mustScope(child)
	if ps == nil || cs == nil {
		return
	}
	needsActivation := ps.addChildScope(child)
	cs.addParentScope(parent)
	if needsActivation {
		b.drainActivationQueue([]ScopeId{child}, 1, rt)
	}
}

// RemoveChildScope unlinks child from parent.
func (b *Backend) RemoveChildScope(parent, child ScopeId) {
	if ps := b.mustScope(parent); ps != nil {
		ps.removeChildScope(child)
	}
	if cs := b.mustScope(child); cs != nil {
		cs.removeParentScope(parent)
	}
}

// --- Activation --------------------------------------------------------

// IncrementActive raises scope's activation ref count by by, scheduling
// any dirty direct tasks and propagating the increment to child scopes —
// inline if there are few, as a background job if there are many.
func (b *Backend) IncrementActive(scope ScopeId, by int64, rt Runtime) {
	sc := b.mustScope(scope)
	if sc == nil {
		return
	}
	dirty, children, became := sc.incrementActive(by)
	if !became {
		return
	}
	for _, t := range dirty {
		b.scheduleTask(t, rt)
	}
	if len(children) > jobBatchSize {
		b.enqueueJob(backendJob{kind: jobPropagateActivate, queue: children, by: by}, rt)
	} else if len(children) > 0 {
		b.drainActivationQueue(children, by, rt)
	}
}

// DecrementActive is symmetric with IncrementActive but never schedules
// tasks.
func (b *Backend) DecrementActive(scope ScopeId, by int64, rt Runtime) {
	sc := b.mustScope(scope)
	if sc == nil {
		return
	}
	children, became := sc.decrementActive(by)
	if !became {
		return
	}
	if len(children) > jobBatchSize {
		b.enqueueJob(backendJob{kind: jobPropagateDeactivate, queue: children, by: by}, rt)
	} else if len(children) > 0 {
		b.drainDeactivationQueue(children, by, rt)
	}
}

// --- Collectibles --------------------------------------------------------

// EmitCollectible adds value to trait's multiset in every scope task
// belongs to. Collectibles bubble upward at read time, so emitting only
// needs to touch the task's direct scopes.
func (b *Backend) EmitCollectible(trait TraitTypeId, value RawRef, task TaskId) {
	b.emitCollectible(trait, value, task)
}

func (b *Backend) emitCollectible(trait TraitTypeId, value RawRef, task TaskId) {
	tk := b.mustTask(task)
	if tk == nil {
		return
	}
	for _, s := range tk.scopeList() {
		if sc := b.mustScope(s); sc != nil {
			sc.collectibles.emit(trait, value)
		}
	}
}

// UnemitCollectible is the inverse of EmitCollectible.
func (b *Backend) UnemitCollectible(trait TraitTypeId, value RawRef, task TaskId) {
	b.unemitCollectible(trait, value, task)
}

func (b *Backend) unemitCollectible(trait TraitTypeId, value RawRef, task TaskId) {
	tk := b.mustTask(task)
	if tk == nil {
		return
	}
	for _, s := range tk.scopeList() {
		if sc := b.mustScope(s); sc != nil {
			sc.collectibles.unemit(trait, value)
		}
	}
}

// TryReadTaskCollectibles walks scope and every ancestor, combining
// emitted/unemitted multisets, recording reader against each scope visited.
func (b *Backend) TryReadTaskCollectibles(scope ScopeId, trait TraitTypeId, reader TaskId) map[any]int {
	total := make(map[any]int)
	visited := make(map[ScopeId]struct{})
	queue := []ScopeId{scope}
	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if _, seen := visited[s]; seen {
			continue
		}
		visited[s] = struct{}{}
		sc := b.mustScope(s)
		if sc == nil {
			continue
		}
		sc.collectibles.trackReader(trait, reader)
		for k, n := range sc.collectibles.net(trait) {
			total[k] += n
		}
		queue = append(queue, sc.parentList()...)
	}
	for k, n := range total {
		if n == 0 {
			delete(total, k)
		}
	}
	return total
}

// --- helpers used by Task ------------------------------------------------

func (b *Backend) anyActiveScope(scopes []ScopeId) bool {
	for _, s := range scopes {
		if sc := b.mustScope(s); sc != nil && sc.isActive() {
			return true
		}
	}
	return false
}

func (b *Backend) scopesIncrementUnfinished(scopes []ScopeId) {
	for _, s := range scopes {
		if sc := b.mustScope(s); sc != nil {
			sc.addUnfinished(1)
		}
	}
}

func (b *Backend) markDirtyInScopes(scopes []ScopeId, task TaskId, dirty bool) {
	for _, s := range scopes {
		if sc := b.mustScope(s); sc != nil {
			sc.markDirty(task, dirty)
		}
	}
}

// taskBecameDone updates scope s's unfinished counter when task transitions
// out of InProgress: wasDone indicates the new state is Done (vs
// rescheduled), so unfinished should drop by one only in that case.
func (b *Backend) taskBecameDone(s ScopeId, task TaskId, wasDone bool) {
	sc := b.mustScope(s)
	if sc == nil {
		return
	}
	sc.markDirty(task, !wasDone)
	if wasDone {
		sc.addUnfinished(-1)
	}
}

// Children returns a snapshot of the tasks t has connected as children in
// any of its executions (the set is never cleared) — used by diagnostics
// (internal/debug), not by the engine itself.
func (b *Backend) Children(t TaskId) []TaskId {
	tk := b.mustTask(t)
	if tk == nil {
		return nil
	}
	tk.mu.Lock()
	defer tk.mu.Unlock()
	out := make([]TaskId, 0, len(tk.children))
	for c := range tk.children {
		out = append(out, c)
	}
	return out
}

// State returns task's current state, or TaskDone if task does not exist.
// Used by diagnostics only.
func (b *Backend) State(t TaskId) TaskState {
	tk := b.mustTask(t)
	if tk == nil {
		return TaskDone
	}
	return tk.currentState()
}

// belongsToScope reports whether t is currently a member of s.
func (t *Task) belongsToScope(s ScopeId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.scopeRefs[s]
	return ok
}
