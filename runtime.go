package turbotask

import "context"

// StatsLevel is the host's chosen detail level for stats collection,
// returned by Runtime.StatsType.
type StatsLevel int

const (
	StatsNone StatsLevel = iota
	StatsEssential
	StatsFull
)

// Runtime is the minimal surface the engine requires of its host scheduler.
// The engine never spawns goroutines or blocks on I/O itself; every
// suspension point and every unit of execution is handed to the host
// through this interface.
type Runtime interface {
	// GetFreshTaskId allocates a TaskId for a new task the Backend is about
	// to create (transient or persistent).
	GetFreshTaskId() TaskId
	// ReuseTaskId returns id to the allocator once its owner is retired.
	ReuseTaskId(id TaskId)
	// Schedule enqueues spec for execution. The host is expected to run
	// spec.Run on its own goroutine pool and report back via
	// Backend.TaskExecutionResult / Backend.TaskExecutionCompleted.
	Schedule(spec *TaskExecutionSpec)
	// ScheduleBackendForegroundJob enqueues a maintenance job; the host
	// must eventually call Backend.RunBackendJob(id, rt).
	ScheduleBackendForegroundJob(id JobId)
	// StatsType returns the detail level the host wants Backend to record
	// at.
	StatsType() StatsLevel
}

// TaskExecutionSpec is what Backend.TryStartTaskExecution hands back to the
// runtime: a self-contained unit the host drives to completion and reports
// back.
type TaskExecutionSpec struct {
	Task  TaskId
	Epoch uint64
	// Run invokes the task's function with a fresh RunContext. The host
	// runs this on its own goroutine/coroutine and is responsible for
	// calling Backend.TaskExecutionResult with whatever it returns, then
	// Backend.TaskExecutionCompleted.
	Run func(ctx context.Context, rc *RunContext) (RawRef, error)
}

// RunContext is the task-local dependency recorder made concrete:
// every read of another task's output or cell performed through it is
// appended to the recorder backing this execution, so the dependency set
// installed at completion reflects exactly what was observed.
type RunContext struct {
	backend *Backend
	runtime Runtime
	task    TaskId
	rec     *recorder
}

// Self returns the id of the task currently executing.
func (rc *RunContext) Self() TaskId { return rc.task }

// ReadOutput reads another task's output, recording the dependency.
// Reading rc.Self() is a caller bug and returns ReadOwnOutputError.
func (rc *RunContext) ReadOutput(other TaskId) (RawRef, error, *outputWait) {
	if other == rc.task {
		return RawRef{}, &ReadOwnOutputError{Task: rc.task}, nil
	}
	v, err, wait, _ := rc.backend.tryReadTaskOutput(other, rc.task, false, rc.runtime)
	if wait == nil {
		rc.rec.recordOutput(other)
	}
	return v, err, wait
}

// ReadOutputStronglyConsistent is ReadOutput but waits for other's entire
// transitive subgraph to reach unfinished==0 before returning.
func (rc *RunContext) ReadOutputStronglyConsistent(other TaskId) (RawRef, error, *outputWait) {
	if other == rc.task {
		return RawRef{}, &ReadOwnOutputError{Task: rc.task}, nil
	}
	v, err, wait, _ := rc.backend.tryReadTaskOutput(other, rc.task, true, rc.runtime)
	if wait == nil {
		rc.rec.recordOutput(other)
	}
	return v, err, wait
}

// ReadCell reads cell (typ, idx) of another task, recording the dependency.
// A task reading one of its own cells is neither recorded nor left in the
// cell's reader set.
func (rc *RunContext) ReadCell(other TaskId, typ CellTypeId, idx int) (RawRef, *outputWait) {
	v, wait := rc.backend.tryReadTaskCell(other, typ, idx, rc.task)
	if other == rc.task {
		rc.backend.removeDependencyReader(dependency{kind: depTaskCell, task: other, typ: typ, index: idx}, rc.task)
		return v, wait
	}
	if wait == nil {
		rc.rec.recordCell(other, typ, idx)
	}
	return v, wait
}

// UpdateCell assigns content into one of the current task's own cells.
func (rc *RunContext) UpdateCell(typ CellTypeId, idx int, content RawRef) {
	rc.backend.updateTaskCell(rc.task, typ, idx, content, rc.runtime)
}

// Spawn creates a transient child task connected to the current task: the
// child inherits the current task's scope membership.
func (rc *RunContext) Spawn(fn func(ctx context.Context, rc *RunContext) (RawRef, error)) TaskId {
	child := rc.backend.createTransientTask(fn, rc.runtime)
	rc.backend.connectChild(rc.task, child, rc.runtime)
	return child
}

// Emit emits a collectible visible to this task's owning scopes and their
// ancestors.
func (rc *RunContext) Emit(trait TraitTypeId, value RawRef) {
	rc.backend.emitCollectible(trait, value, rc.task)
}

// Unemit is the inverse of Emit.
func (rc *RunContext) Unemit(trait TraitTypeId, value RawRef) {
	rc.backend.unemitCollectible(trait, value, rc.task)
}
