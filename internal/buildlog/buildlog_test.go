package buildlog

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	turbotask "github.com/turbopack-go/turbotask"
)

func openTest(t *testing.T) *Log {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build.db")
	l, err := Open(path, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func identityOf(functionID uint32, argsKey string) func(turbotask.TaskId) (uint32, string, bool) {
	return func(turbotask.TaskId) (uint32, string, bool) {
		return functionID, argsKey, true
	}
}

func TestOpenRunsMigrations(t *testing.T) {
	l := openTest(t)
	n, err := l.FailuresByIdentity(1, "anything")
	if err != nil {
		t.Fatalf("expected migrated executions table to be queryable, got %v", err)
	}
	if n != 0 {
		t.Fatalf("expected zero failures on a fresh log, got %d", n)
	}
}

func TestRecordExecutionSkipsUnidentifiedTasks(t *testing.T) {
	l := openTest(t)
	r := NewRecorder(l, func(turbotask.TaskId) (uint32, string, bool) { return 0, "", false })

	r.RecordExecution(turbotask.TaskId(1), false)

	n, err := l.FailuresByIdentity(0, "")
	if err != nil {
		t.Fatalf("count failures: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no rows written for an unresolvable identity, got %d", n)
	}
}

func TestRecordFailureIncrementsFailuresByIdentity(t *testing.T) {
	l := openTest(t)
	r := NewRecorder(l, identityOf(7, "args-x"))

	r.RecordFailure(turbotask.TaskId(1), errors.New("boom"))
	r.RecordFailure(turbotask.TaskId(2), errors.New("boom again"))

	n, err := l.FailuresByIdentity(7, "args-x")
	if err != nil {
		t.Fatalf("count failures: %v", err)
	}
	if n != 2 {
		t.Fatalf("failures = %d, want 2", n)
	}
}

func TestRecordFailureDoesNotAffectOtherIdentities(t *testing.T) {
	l := openTest(t)
	r := NewRecorder(l, identityOf(1, "a"))
	r.RecordFailure(turbotask.TaskId(1), errors.New("boom"))

	n, err := l.FailuresByIdentity(1, "b")
	if err != nil {
		t.Fatalf("count failures: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected failures scoped to exact identity, got %d", n)
	}
}

func TestRecordExecutionDoesNotCountAsFailure(t *testing.T) {
	l := openTest(t)
	r := NewRecorder(l, identityOf(3, "args"))
	r.RecordExecution(turbotask.TaskId(1), false)
	r.RecordExecution(turbotask.TaskId(2), true)

	n, err := l.FailuresByIdentity(3, "args")
	if err != nil {
		t.Fatalf("count failures: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected successful/rescheduled executions not to count as failures, got %d", n)
	}
}
