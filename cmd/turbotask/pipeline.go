package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	turbotask "github.com/turbopack-go/turbotask"
	"github.com/turbopack-go/turbotask/internal/runtimeref"
	"github.com/turbopack-go/turbotask/internal/tasks"
)

// pipeline bundles the engine handles a command needs after a run, so
// graph/stats commands can inspect what just happened.
type pipeline struct {
	backend *turbotask.Backend
	rt      *runtimeref.Runtime
	root    turbotask.TaskId
	execIDs []turbotask.TaskId
}

// runPipeline loads the workspace manifest at path, registers one ExecTask
// per manifest entry as a child of the manifest-parsing task, activates the
// initial scope, and waits for everything to settle.
func runPipeline(path string, stats turbotask.StatsLevel) (*pipeline, error) {
	return runPipelineWithRecorder(path, stats, nil)
}

// runPipelineWithRecorder is runPipeline plus a StatsRecorder installed
// before the manifest task is scheduled, so every execution in the run is
// captured (the stats command needs counts for the whole pipeline, not just
// what happens after it looks).
func runPipelineWithRecorder(path string, stats turbotask.StatsLevel, recorder turbotask.StatsRecorder) (*pipeline, error) {
	backend := turbotask.NewBackend()
	if recorder != nil {
		backend.SetStatsRecorder(recorder)
	}
	rt := runtimeref.New(backend, runtimeref.Config{
		MaxConcurrentExecutions: 8,
		Logger:                  zerolog.Nop(),
		Stats:                   stats,
	})

	manifestFn := tasks.NewWorkspaceManifestTask(path)
	root := backend.CreateTransientTask(manifestFn, rt)
	backend.IncrementActive(backend.InitialScope(), 1, rt)
	rt.Wait()

	manifestValue, err, wait := backend.TryReadTaskOutputUntracked(root)
	if wait != nil {
		return nil, fmt.Errorf("manifest task did not settle")
	}
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	manifest, ok := manifestValue.Value.(tasks.PipelineManifest)
	if !ok {
		return nil, fmt.Errorf("manifest task produced unexpected type %T", manifestValue.Value)
	}

	turbotask.SetTaskTag(backend, root, turbotask.NameTag, "manifest")

	p := &pipeline{backend: backend, rt: rt, root: root}
	for i, entry := range manifest.Tasks {
		identity := turbotask.PersistentIdentity(1, fmt.Sprintf("%s#%d", entry.Name, i))
		execFn := execTaskFn(entry.Command)
		id := backend.GetOrCreatePersistentTask(identity, root, execFn, rt)
		turbotask.SetTaskTag(backend, id, turbotask.NameTag, entry.Name)
		p.execIDs = append(p.execIDs, id)
	}
	rt.Wait()

	return p, nil
}

func execTaskFn(command string) func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
	return tasks.NewExecTask(command)
}
