package storage

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "starstep.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunAndOperationLifecycle(t *testing.T) {
	s := newTestStore(t)

	if err := s.RecordRunStart(RunRecord{ID: "run-1", Instructions: "steps.yaml", InputPath: "/in", OutputPath: "/out"}); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	for i, name := range []string{"Custom onCalibrationEnd step(s)", "onCalibrationEnd #1: IntegerResample"} {
		rec := OperationRecord{ID: name, RunID: "run-1", Seq: i, Name: name, Kind: "custom", Status: "pending"}
		if err := s.RecordOperationQueued(rec); err != nil {
			t.Fatalf("RecordOperationQueued: %v", err)
		}
	}
	id := "onCalibrationEnd #1: IntegerResample"
	if err := s.RecordOperationStart(id); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFrameResult(FrameRecord{OperationID: id, Source: "/in/a.fits", Output: "/out/a.fits", Status: "succeeded", StepCode: 2001000}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordFrameResult(FrameRecord{OperationID: id, Source: "/in/b.fits", Status: "failed"}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordOperationResult(id, "done", "1 succeeded, 1 failed", map[string]any{"succeeded": 1}, ""); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordRunResult("run-1", "done", 4096); err != nil {
		t.Fatal(err)
	}

	runs, err := s.RecentRuns(5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("RecentRuns = %v, %v", runs, err)
	}
	if runs[0].Status != "done" || runs[0].RequiredBytes != 4096 || runs[0].CompletedAt == nil {
		t.Fatalf("unexpected run %+v", runs[0])
	}

	ops, err := s.RunOperations("run-1")
	if err != nil || len(ops) != 2 {
		t.Fatalf("RunOperations = %v, %v", ops, err)
	}
	if ops[1].Status != "done" || ops[1].Message != "1 succeeded, 1 failed" || ops[1].StartedAt == nil {
		t.Fatalf("unexpected operation %+v", ops[1])
	}
	if ops[0].Status != "pending" {
		t.Fatalf("first operation should still be pending, got %s", ops[0].Status)
	}

	frames, err := s.OperationFrames(id)
	if err != nil || len(frames) != 2 || frames[0].StepCode != 2001000 || frames[1].Output != "" {
		t.Fatalf("OperationFrames = %+v, %v", frames, err)
	}

	meta, err := s.OperationMeta(id)
	if err != nil || meta["succeeded"] != float64(1) {
		t.Fatalf("OperationMeta = %v, %v", meta, err)
	}
}

func TestRecordMasterFileReplaces(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordMasterFile("run-1", 2, "MASTER_LIGHT_REGULAR", "/a.fits"); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordMasterFile("run-1", 2, "MASTER_LIGHT_REGULAR", "/b.fits"); err != nil {
		t.Fatal(err)
	}
	var path string
	if err := s.DB.QueryRow(`SELECT path FROM master_files WHERE run_id='run-1' AND group_index=2;`).Scan(&path); err != nil {
		t.Fatal(err)
	}
	if path != "/b.fits" {
		t.Fatalf("expected latest path, got %s", path)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordOperationStart("x"); err != nil {
		t.Fatalf("nil store should ignore writes: %v", err)
	}
	if _, err := s.RecentRuns(1); err == nil {
		t.Fatalf("nil store should refuse reads")
	}
}
