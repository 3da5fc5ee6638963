package tasks

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	turbotask "github.com/turbopack-go/turbotask"
)

// syncRuntime runs everything inline on the calling goroutine, matching the
// root package's own test harness, so these task functions can be exercised
// without pulling in the full concurrent runtimeref.Runtime.
type syncRuntime struct {
	mu      sync.Mutex
	nextID  uint64
	backend *turbotask.Backend
}

func newSyncBackend() (*turbotask.Backend, *syncRuntime) {
	b := turbotask.NewBackend()
	rt := &syncRuntime{nextID: 1, backend: b}
	return b, rt
}

func (r *syncRuntime) GetFreshTaskId() turbotask.TaskId {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	return turbotask.TaskId(id)
}

func (r *syncRuntime) ReuseTaskId(turbotask.TaskId) {}

func (r *syncRuntime) Schedule(spec *turbotask.TaskExecutionSpec) {
	value, err := spec.Run(context.Background(), nil)
	r.backend.TaskExecutionResult(spec.Task, value, err, spec.Epoch, r)
	r.backend.TaskExecutionCompleted(spec.Task, spec.Epoch, r)
}

func (r *syncRuntime) ScheduleBackendForegroundJob(id turbotask.JobId) {
	r.backend.RunBackendJob(id, r)
}

func (r *syncRuntime) StatsType() turbotask.StatsLevel { return turbotask.StatsNone }

func TestExecTaskCapturesStdoutAndExitCode(t *testing.T) {
	b, rt := newSyncBackend()
	id := b.CreateTransientTask(NewExecTask("echo hello"), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	v, err, wait := b.TryReadTaskOutputUntracked(id)
	if err != nil || wait != nil {
		t.Fatalf("expected ready value, got err=%v wait=%v", err, wait)
	}
	result, ok := v.Value.(ExecResult)
	if !ok {
		t.Fatalf("expected ExecResult, got %T", v.Value)
	}
	if result.Stdout != "hello\n" {
		t.Fatalf("stdout = %q, want %q", result.Stdout, "hello\n")
	}
	if result.ExitCode != 0 {
		t.Fatalf("exit code = %d, want 0", result.ExitCode)
	}
}

func TestExecTaskNonZeroExitDoesNotError(t *testing.T) {
	b, rt := newSyncBackend()
	id := b.CreateTransientTask(NewExecTask("sh -c 'exit 3'"), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	v, err, wait := b.TryReadTaskOutputUntracked(id)
	if err != nil || wait != nil {
		t.Fatalf("expected ready value, got err=%v wait=%v", err, wait)
	}
	result := v.Value.(ExecResult)
	if result.ExitCode != 3 {
		t.Fatalf("exit code = %d, want 3", result.ExitCode)
	}
}

func TestExecTaskRejectsEmptyCommand(t *testing.T) {
	b, rt := newSyncBackend()
	id := b.CreateTransientTask(NewExecTask("   "), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	_, err, _ := b.TryReadTaskOutputUntracked(id)
	if err == nil {
		t.Fatalf("expected error for empty command")
	}
}

func TestFileHashTaskSameContentSameKey(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(pathA, []byte("same bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathB, []byte("same bytes"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, rt := newSyncBackend()
	idA := b.CreateTransientTask(NewFileHashTask(pathA), rt)
	idB := b.CreateTransientTask(NewFileHashTask(pathB), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	va, _, _ := b.TryReadTaskOutputUntracked(idA)
	vb, _, _ := b.TryReadTaskOutputUntracked(idB)
	if va.Value != vb.Value {
		t.Fatalf("expected identical hashes for identical content, got %v and %v", va.Value, vb.Value)
	}
}

func TestFileHashTaskMissingFileErrors(t *testing.T) {
	b, rt := newSyncBackend()
	id := b.CreateTransientTask(NewFileHashTask(filepath.Join(t.TempDir(), "missing")), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	_, err, _ := b.TryReadTaskOutputUntracked(id)
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestWorkspaceManifestTaskParsesYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turbotask.yaml")
	contents := "tasks:\n  - name: build\n    command: go build ./...\n    inputs: [\"go.mod\"]\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	b, rt := newSyncBackend()
	id := b.CreateTransientTask(NewWorkspaceManifestTask(path), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	v, err, wait := b.TryReadTaskOutputUntracked(id)
	if err != nil || wait != nil {
		t.Fatalf("expected ready value, got err=%v wait=%v", err, wait)
	}
	manifest := v.Value.(PipelineManifest)
	if len(manifest.Tasks) != 1 || manifest.Tasks[0].Name != "build" {
		t.Fatalf("unexpected manifest: %+v", manifest)
	}
}

func TestWorkspaceManifestTaskUnchangedContentShortCircuits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "turbotask.yaml")
	if err := os.WriteFile(path, []byte("tasks: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	b, rt := newSyncBackend()
	// Activate first so producer settles before reader is created and
	// reader's first run sees a ready value.
	b.IncrementActive(b.InitialScope(), 1, rt)
	producer := b.CreateTransientTask(NewWorkspaceManifestTask(path), rt)

	readerRuns := 0
	b.CreateTransientTask(func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		readerRuns++
		_, _, _ = rc.ReadOutput(producer)
		return turbotask.NewRawRef("r", "r"), nil
	}, rt)

	if readerRuns != 1 {
		t.Fatalf("expected one initial run, got %d", readerRuns)
	}

	// Rewrite the same bytes (only mtime changes) and invalidate: content
	// hash key is unchanged, so the reader must not re-execute.
	if err := os.WriteFile(path, []byte("tasks: []\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	b.InvalidateTask(producer, rt)
	if readerRuns != 1 {
		t.Fatalf("expected reader not to rerun on unchanged content, got %d runs", readerRuns)
	}
}

func TestModuleTransformTaskReadsSourceCell(t *testing.T) {
	b, rt := newSyncBackend()
	const sourceCellType turbotask.CellTypeId = 1

	source := b.CreateTransientTask(func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		rc.UpdateCell(sourceCellType, 0, turbotask.NewRawRef("src", "const x = 1"))
		return turbotask.NewRawRef("source", "source"), nil
	}, rt)

	id := b.CreateTransientTask(NewModuleTransformTask("mod.js", source, sourceCellType), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	v, err, wait := b.TryReadTaskOutputUntracked(id)
	if err != nil || wait != nil {
		t.Fatalf("expected ready value, got err=%v wait=%v", err, wait)
	}
	result := v.Value.(ModuleTransformResult)
	if result.Output != "const x = 1" {
		t.Fatalf("output = %q, want passthrough of source cell", result.Output)
	}
}

func TestCSSTaskReadsSourceCell(t *testing.T) {
	b, rt := newSyncBackend()
	const sourceCellType turbotask.CellTypeId = 2

	source := b.CreateTransientTask(func(ctx context.Context, rc *turbotask.RunContext) (turbotask.RawRef, error) {
		rc.UpdateCell(sourceCellType, 0, turbotask.NewRawRef("css", "body{}"))
		return turbotask.NewRawRef("source", "source"), nil
	}, rt)

	id := b.CreateTransientTask(NewCSSTask("app.css", source, sourceCellType), rt)
	b.IncrementActive(b.InitialScope(), 1, rt)

	v, err, wait := b.TryReadTaskOutputUntracked(id)
	if err != nil || wait != nil {
		t.Fatalf("expected ready value, got err=%v wait=%v", err, wait)
	}
	result := v.Value.(CSSResult)
	if result.Output != "body{}" {
		t.Fatalf("output = %q, want passthrough of source cell", result.Output)
	}
}
