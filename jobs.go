package turbotask

// jobBatchSize bounds how many scopes one drainActivationQueue /
// drainDeactivationQueue pass (inline or as a PropagateActivate /
// PropagateDeactivate job) processes before re-enqueuing the remainder as a
// new job, keeping any one background job's latency bounded.
const jobBatchSize = 100

type jobKind int

const (
	jobRemoveFromScope jobKind = iota
	jobRemoveFromScopes
	jobScheduleWhenDirty
	jobPropagateActivate
	jobPropagateDeactivate
)

// backendJob is one of the well-typed background jobs the engine enqueues.
// Large scope add/remove traversals are split across multiple backendJob
// invocations instead of being done inline under a scope lock.
type backendJob struct {
	kind jobKind

	tasks  []TaskId
	scope  ScopeId
	scopes []ScopeId

	// queue is the remaining work for propagateActivate/Deactivate jobs: a
	// FIFO of scopes still waiting to receive the activation delta.
	queue []ScopeId
	by    int64
}

// RunBackendJob is the host-facing entry point a Runtime calls once it has
// dequeued id from wherever ScheduleBackendForegroundJob told it to enqueue
// it.
func (b *Backend) RunBackendJob(id JobId, rt Runtime) {
	b.runBackendJob(id, rt)
}

func (b *Backend) runBackendJob(id JobId, rt Runtime) {
	jv, ok := b.jobs.take(uint64(id))
	b.jobIds.release(uint64(id))
	if !ok {
		return
	}
	job := jv

	switch job.kind {
	case jobRemoveFromScope:
		for _, t := range job.tasks {
			b.removeTaskFromScope(t, job.scope)
		}
	case jobRemoveFromScopes:
		for _, t := range job.tasks {
			for _, s := range job.scopes {
				b.removeTaskFromScope(t, s)
			}
		}
	case jobScheduleWhenDirty:
		for _, t := range job.tasks {
			if tk := b.mustTask(t); tk != nil && tk.currentState() == TaskDirty {
				b.scheduleTask(t, rt)
			}
		}
	case jobPropagateActivate:
		b.drainActivationQueue(job.queue, job.by, rt)
	case jobPropagateDeactivate:
		b.drainDeactivationQueue(job.queue, job.by, rt)
	}
}

// enqueueJob allocates a JobId, stores job, and asks the runtime to
// schedule it.
func (b *Backend) enqueueJob(job backendJob, rt Runtime) {
	id := JobId(b.jobIds.alloc())
	b.jobs.insert(uint64(id), job)
	rt.ScheduleBackendForegroundJob(id)
}

// drainActivationQueue processes up to jobBatchSize scopes from queue,
// incrementing their activation by `by` and scheduling any dirty direct
// tasks it uncovers; if work remains it re-enqueues the rest as a new job
// instead of recursing further.
func (b *Backend) drainActivationQueue(queue []ScopeId, by int64, rt Runtime) {
	i := 0
	for ; i < len(queue) && i < jobBatchSize; i++ {
		sid := queue[i]
		sc := b.mustScope(sid)
		if sc == nil {
			continue
		}
		dirty, children, became := sc.incrementActive(by)
		if became {
			for _, t := range dirty {
				b.scheduleTask(t, rt)
			}
			queue = append(queue, children...)
		}
	}
	if i < len(queue) {
		b.enqueueJob(backendJob{kind: jobPropagateActivate, queue: queue[i:], by: by}, rt)
	}
}

func (b *Backend) drainDeactivationQueue(queue []ScopeId, by int64, rt Runtime) {
	i := 0
	for ; i < len(queue) && i < jobBatchSize; i++ {
		sid := queue[i]
		sc := b.mustScope(sid)
		if sc == nil {
			continue
		}
		children, became := sc.decrementActive(by)
		if became {
			queue = append(queue, children...)
		}
	}
	if i < len(queue) {
		b.enqueueJob(backendJob{kind: jobPropagateDeactivate, queue: queue[i:], by: by}, rt)
	}
}
