package turbotask

import "testing"

func TestCellStoreReadBeforeUpdateWaits(t *testing.T) {
	s := newCellStore()
	_, wait, ready := s.read(1, 0, 5)
	if ready || wait == nil {
		t.Fatalf("expected cell to be unready with a wait handle")
	}
	s.update(1, 0, NewRawRef("a", "va"), nil)
	select {
	case <-wait.ready:
	default:
		t.Fatalf("wait handle should be closed after update")
	}
}

func TestCellStoreUpdateSameIdentityNoDirty(t *testing.T) {
	s := newCellStore()
	s.update(1, 0, NewRawRef("a", "va"), nil)
	s.read(1, 0, 5)

	var dirtied []TaskId
	s.update(1, 0, NewRawRef("a", "va-2"), func(r TaskId) { dirtied = append(dirtied, r) })
	if len(dirtied) != 0 {
		t.Fatalf("same identity update should not dirty, got %v", dirtied)
	}
}

func TestCellStoreUpdateDifferentIdentityDirties(t *testing.T) {
	s := newCellStore()
	s.update(1, 0, NewRawRef("a", "va"), nil)
	s.read(1, 0, 5)

	var dirtied []TaskId
	s.update(1, 0, NewRawRef("b", "vb"), func(r TaskId) { dirtied = append(dirtied, r) })
	if len(dirtied) != 1 || dirtied[0] != 5 {
		t.Fatalf("expected reader 5 dirtied, got %v", dirtied)
	}
}

func TestCellStoreReleaseUnassignedDropsStaleCells(t *testing.T) {
	s := newCellStore()
	s.beginExecution()
	s.update(1, 0, NewRawRef("a", "va"), nil)
	s.read(1, 0, 5)

	// Next execution never writes cell (1, 0) again.
	s.beginExecution()
	var dirtied []TaskId
	s.releaseUnassigned(func(r TaskId) { dirtied = append(dirtied, r) })

	if len(dirtied) != 1 || dirtied[0] != 5 {
		t.Fatalf("expected reader of dropped cell dirtied, got %v", dirtied)
	}
	if _, ok := s.readUntracked(1, 0); ok {
		t.Fatalf("cell should be gone after release")
	}
}

func TestCellStoreReleaseUnassignedKeepsReassignedCells(t *testing.T) {
	s := newCellStore()
	s.beginExecution()
	s.update(1, 0, NewRawRef("a", "va"), nil)

	s.beginExecution()
	s.update(1, 0, NewRawRef("a", "va"), nil) // reassigned this run

	var dirtied []TaskId
	s.releaseUnassigned(func(r TaskId) { dirtied = append(dirtied, r) })
	if len(dirtied) != 0 {
		t.Fatalf("reassigned cell should not be released, got dirtied=%v", dirtied)
	}
	if _, ok := s.readUntracked(1, 0); !ok {
		t.Fatalf("reassigned cell should still be present")
	}
}

func TestCellStoreTrackReaderThenRemove(t *testing.T) {
	s := newCellStore()
	s.update(1, 0, NewRawRef("a", "va"), nil)
	s.trackReader(1, 0, 9)
	s.removeReader(1, 0, 9)

	var dirtied []TaskId
	s.update(1, 0, NewRawRef("b", "vb"), func(r TaskId) { dirtied = append(dirtied, r) })
	if len(dirtied) != 0 {
		t.Fatalf("removed reader should not be dirtied, got %v", dirtied)
	}
}
