// Package runtimeref is a reference host implementing turbotask.Runtime: it
// drives scheduled task executions on a bounded goroutine pool, recovers
// panics as task failures, and stamps every run with a build id for log
// correlation.
package runtimeref

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/sync/semaphore"

	turbotask "github.com/turbopack-go/turbotask"
)

// Config controls concurrency and logging for a Runtime.
type Config struct {
	// MaxConcurrentExecutions bounds how many task executions run at once.
	// Zero means unbounded.
	MaxConcurrentExecutions int64
	Logger                  zerolog.Logger
	Stats                   turbotask.StatsLevel
}

// Runtime is the reference turbotask.Runtime implementation: one goroutine
// per background job, and one goroutine per TaskExecutionSpec with the
// number of concurrently running executions bounded by a semaphore.
type Runtime struct {
	backend *turbotask.Backend
	logger  zerolog.Logger
	sem     *semaphore.Weighted
	stats   turbotask.StatsLevel
	buildID string

	idMu sync.Mutex
	next uint64

	wg sync.WaitGroup
}

// New wires a Runtime to backend. The returned Runtime must be passed as
// the rt argument to every Backend call the host makes.
func New(backend *turbotask.Backend, cfg Config) *Runtime {
	var sem *semaphore.Weighted
	if cfg.MaxConcurrentExecutions > 0 {
		sem = semaphore.NewWeighted(cfg.MaxConcurrentExecutions)
	}
	buildID := uuid.NewString()
	logger := cfg.Logger.With().Str("build_id", buildID).Logger()
	return &Runtime{
		backend: backend,
		logger:  logger,
		sem:     sem,
		stats:   cfg.Stats,
		buildID: buildID,
	}
}

// BuildID returns the correlation id stamped on every log line this
// Runtime emits.
func (r *Runtime) BuildID() string { return r.buildID }

func (r *Runtime) GetFreshTaskId() turbotask.TaskId {
	r.idMu.Lock()
	defer r.idMu.Unlock()
	r.next++
	return turbotask.TaskId(r.next)
}

func (r *Runtime) ReuseTaskId(turbotask.TaskId) {
	// The reference host never recycles TaskIds: GetFreshTaskId keeps
	// counting upward. Nothing to do here.
}

// Schedule runs spec.Run on a pooled goroutine, bounded by the configured
// semaphore, recovering any panic as a task failure instead of crashing.
func (r *Runtime) Schedule(spec *turbotask.TaskExecutionSpec) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx := context.Background()
		if r.sem != nil {
			if err := r.sem.Acquire(ctx, 1); err != nil {
				r.backend.TaskExecutionResult(spec.Task, turbotask.RawRef{}, err, spec.Epoch, r)
				r.backend.TaskExecutionCompleted(spec.Task, spec.Epoch, r)
				return
			}
			defer r.sem.Release(1)
		}

		var (
			value  turbotask.RawRef
			runErr error
		)
		var catcher panics.Catcher
		catcher.Try(func() {
			value, runErr = spec.Run(ctx, nil)
		})
		if recovered := catcher.Recovered(); recovered != nil {
			runErr = &turbotask.TaskFailureError{Task: spec.Task, Reason: recovered.AsError()}
			r.logger.Error().
				Uint64("task", uint64(spec.Task)).
				Interface("panic", recovered.Value).
				Msg("task execution panicked")
		} else if runErr != nil {
			r.logger.Warn().
				Uint64("task", uint64(spec.Task)).
				Err(runErr).
				Msg("task execution failed")
		} else {
			r.logger.Debug().
				Uint64("task", uint64(spec.Task)).
				Msg("task execution completed")
		}

		r.backend.TaskExecutionResult(spec.Task, value, runErr, spec.Epoch, r)
		r.backend.TaskExecutionCompleted(spec.Task, spec.Epoch, r)
	}()
}

// ScheduleBackendForegroundJob runs the job on a new goroutine tracked by
// Wait, not on the calling goroutine. Jobs do not acquire the execution
// semaphore.
func (r *Runtime) ScheduleBackendForegroundJob(id turbotask.JobId) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.backend.RunBackendJob(id, r)
	}()
}

func (r *Runtime) StatsType() turbotask.StatsLevel { return r.stats }

// Wait blocks until every execution and background job dispatched so far
// has completed. Intended for tests and CLI one-shot runs, not for a
// long-lived server loop.
func (r *Runtime) Wait() {
	r.wg.Wait()
}
