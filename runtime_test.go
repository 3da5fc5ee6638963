package turbotask

import (
	"context"
	"sync"
)

// testRuntime is a synchronous Runtime: Schedule and
// ScheduleBackendForegroundJob run inline on the calling goroutine instead of
// fanning out to a pool, so tests can assert on backend state immediately
// after driving it rather than polling. internal/runtimeref is the
// concurrent, library-backed Runtime a real host uses.
type testRuntime struct {
	mu      sync.Mutex
	nextID  uint64
	backend *Backend
	stats   StatsLevel
}

func newTestRuntime() *testRuntime {
	return &testRuntime{nextID: 1}
}

func (r *testRuntime) GetFreshTaskId() TaskId {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return TaskId(id)
}

func (r *testRuntime) ReuseTaskId(TaskId) {}

func (r *testRuntime) Schedule(spec *TaskExecutionSpec) {
	value, err := spec.Run(context.Background(), nil)
	r.backend.TaskExecutionResult(spec.Task, value, err, spec.Epoch, r)
	r.backend.TaskExecutionCompleted(spec.Task, spec.Epoch, r)
}

func (r *testRuntime) ScheduleBackendForegroundJob(id JobId) {
	r.backend.RunBackendJob(id, r)
}

func (r *testRuntime) StatsType() StatsLevel { return r.stats }

// newTestBackend returns a Backend wired to a synchronous testRuntime ready
// to drive it.
func newTestBackend() (*Backend, *testRuntime) {
	b := NewBackend()
	rt := newTestRuntime()
	rt.backend = b
	return b, rt
}
