package turbotask

import "testing"

func TestScopeAddTaskRefCounting(t *testing.T) {
	s := newScope(1)
	first := s.addTask(10, false)
	if !first {
		t.Fatalf("expected first addTask to report firstRef")
	}
	second := s.addTask(10, false)
	if second {
		t.Fatalf("expected second addTask (same path) to not report firstRef")
	}

	leftFirst := s.removeTask(10)
	if leftFirst {
		t.Fatalf("task had two ref paths, first removeTask should not evict")
	}
	leftSecond := s.removeTask(10)
	if !leftSecond {
		t.Fatalf("second removeTask should evict the task")
	}
}

func TestScopeIncrementActiveReturnsDirtyAndChildren(t *testing.T) {
	s := newScope(1)
	s.addTask(10, true)
	s.addChildScope(2)

	dirty, children, became := s.incrementActive(1)
	if !became {
		t.Fatalf("expected became active")
	}
	if len(dirty) != 1 || dirty[0] != 10 {
		t.Fatalf("expected dirty task 10, got %v", dirty)
	}
	if len(children) != 1 || children[0] != 2 {
		t.Fatalf("expected child scope 2, got %v", children)
	}

	_, _, becameAgain := s.incrementActive(1)
	if becameAgain {
		t.Fatalf("second increment should not report becameActive again")
	}
}

func TestScopeDecrementActiveNeverSchedulesButReportsChildren(t *testing.T) {
	s := newScope(1)
	s.addChildScope(2)
	s.incrementActive(1)

	children, became := s.decrementActive(1)
	if !became {
		t.Fatalf("expected became inactive")
	}
	if len(children) != 1 || children[0] != 2 {
		t.Fatalf("expected child scope reported, got %v", children)
	}
	if s.isActive() {
		t.Fatalf("scope should be inactive")
	}
}

func TestScopeWaitForZeroImmediateWhenAlreadyZero(t *testing.T) {
	s := newScope(1)
	wait, zero := s.waitForZero()
	if !zero || wait != nil {
		t.Fatalf("expected immediate zero, got zero=%v wait=%v", zero, wait)
	}
}

func TestScopeWaitForZeroWakesOnTransition(t *testing.T) {
	s := newScope(1)
	s.addUnfinished(1)

	wait, zero := s.waitForZero()
	if zero || wait == nil {
		t.Fatalf("expected a pending wait handle")
	}
	select {
	case <-wait.ready:
		t.Fatalf("should not be ready yet")
	default:
	}

	s.addUnfinished(-1)
	select {
	case <-wait.ready:
	default:
		t.Fatalf("expected wait handle closed once unfinished hits zero")
	}
}

func TestScopeMarkDirtyAddsAndRemoves(t *testing.T) {
	s := newScope(1)
	s.addTask(10, false)
	s.markDirty(10, true)
	if _, ok := s.dirtyTasks[10]; !ok {
		t.Fatalf("expected task marked dirty")
	}
	s.markDirty(10, false)
	if _, ok := s.dirtyTasks[10]; ok {
		t.Fatalf("expected task no longer dirty")
	}
}

func TestScopeParentChildLinking(t *testing.T) {
	parent := newScope(1)
	child := newScope(2)

	needsActivation := parent.addChildScope(2)
	if needsActivation {
		t.Fatalf("inactive parent should not need activation propagation")
	}
	child.addParentScope(1)

	parents := child.parentList()
	if len(parents) != 1 || parents[0] != 1 {
		t.Fatalf("expected parent list [1], got %v", parents)
	}

	parent.removeChildScope(2)
	child.removeParentScope(1)
	if len(child.parentList()) != 0 {
		t.Fatalf("expected empty parent list after removal")
	}
}
