package store

import (
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
)

func newTestLedger(t *testing.T, completedEnabled, failedEnabled bool) (*Ledger, *sql.DB) {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return NewLedger(db, completedEnabled, failedEnabled), db
}

func TestRecordSuccessAndIsCompleted(t *testing.T) {
	ledger, _ := newTestLedger(t, true, true)

	meta := SuccessMeta{Provider: "qobuz", ItemID: "42", Quality: "flac", Kind: "audio", Path: "/music/a.flac"}
	if err := ledger.RecordSuccess("task-a", meta); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	done, err := ledger.IsCompleted("task-a")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if !done {
		t.Error("Expected task-a to be completed")
	}

	done, err = ledger.IsCompleted("task-b")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if done {
		t.Error("Expected task-b to not be completed")
	}
}

func TestRecordFailureAndList(t *testing.T) {
	ledger, _ := newTestLedger(t, true, true)

	meta := FailureMeta{
		Provider: "tidal", ItemID: "99", Quality: "lossless", Kind: "audio",
		ErrorKind: "not_found", Message: "track removed from catalog",
	}
	if err := ledger.RecordFailure("task-x", meta); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	failed, err := ledger.IsFailed("task-x")
	if err != nil {
		t.Fatalf("IsFailed failed: %v", err)
	}
	if !failed {
		t.Error("Expected task-x to be failed")
	}

	records, err := ledger.ListFailed()
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected 1 failure record, got %d", len(records))
	}
	r := records[0]
	if r.TaskID != "task-x" || r.Provider != "tidal" || r.ItemID != "99" || r.ErrorKind != "not_found" {
		t.Errorf("Unexpected record: %+v", r)
	}
	// The record must carry enough to rebuild the task for repair.
	if r.Quality != "lossless" || r.Kind != "audio" {
		t.Errorf("Failure record lost task metadata: %+v", r)
	}
}

func TestSuccessClearsFailureRecord(t *testing.T) {
	ledger, _ := newTestLedger(t, true, true)

	if err := ledger.RecordFailure("task-r", FailureMeta{Provider: "deezer", ItemID: "7", Quality: "mp3", Kind: "audio", ErrorKind: "transient"}); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}
	if err := ledger.RecordSuccess("task-r", SuccessMeta{Provider: "deezer", ItemID: "7", Quality: "mp3", Kind: "audio"}); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	failed, err := ledger.IsFailed("task-r")
	if err != nil {
		t.Fatalf("IsFailed failed: %v", err)
	}
	if failed {
		t.Error("Expected success to clear the failure record")
	}

	done, _ := ledger.IsCompleted("task-r")
	if !done {
		t.Error("Expected task-r to be completed")
	}
}

func TestRepeatedFailureUpdatesRecord(t *testing.T) {
	ledger, _ := newTestLedger(t, true, true)

	ledger.RecordFailure("task-u", FailureMeta{Provider: "qobuz", ItemID: "1", Quality: "flac", Kind: "audio", ErrorKind: "transient", Message: "first"})
	ledger.RecordFailure("task-u", FailureMeta{Provider: "qobuz", ItemID: "1", Quality: "flac", Kind: "audio", ErrorKind: "auth", Message: "second"})

	records, err := ledger.ListFailed()
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Expected a single record after repeated failure, got %d", len(records))
	}
	if records[0].ErrorKind != "auth" || records[0].Message != "second" {
		t.Errorf("Expected latest failure to win, got %+v", records[0])
	}
}

func TestClearFailureIsIdempotent(t *testing.T) {
	ledger, _ := newTestLedger(t, true, true)

	if err := ledger.ClearFailure("never-existed"); err != nil {
		t.Errorf("ClearFailure on absent row errored: %v", err)
	}
}

func TestDisabledCompletedTable(t *testing.T) {
	ledger, _ := newTestLedger(t, false, true)

	if err := ledger.RecordSuccess("task-d", SuccessMeta{Provider: "qobuz", ItemID: "5", Quality: "flac", Kind: "audio"}); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}

	done, err := ledger.IsCompleted("task-d")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if done {
		t.Error("Disabled completed table must never report completion")
	}
}

func TestDisabledFailedTable(t *testing.T) {
	ledger, _ := newTestLedger(t, true, false)

	if err := ledger.RecordFailure("task-f", FailureMeta{Provider: "tidal", ItemID: "3", Quality: "high", Kind: "audio", ErrorKind: "transient"}); err != nil {
		t.Fatalf("RecordFailure failed: %v", err)
	}

	records, err := ledger.ListFailed()
	if err != nil {
		t.Fatalf("ListFailed failed: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Disabled failed table must record nothing, got %d rows", len(records))
	}
}

func TestConcurrentWritersDisjointKeys(t *testing.T) {
	ledger, _ := newTestLedger(t, true, true)

	const writers = 16
	var wg sync.WaitGroup
	errs := make(chan error, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := string(rune('a' + n))
			errs <- ledger.RecordSuccess("task-"+id, SuccessMeta{Provider: "deezer", ItemID: id, Quality: "mp3", Kind: "audio"})
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent write failed: %v", err)
		}
	}

	n, err := ledger.CountCompleted()
	if err != nil {
		t.Fatalf("CountCompleted failed: %v", err)
	}
	if n != writers {
		t.Errorf("Expected %d completed records, got %d", writers, n)
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.db")

	db, err := InitDB(path)
	if err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}
	ledger := NewLedger(db, true, true)
	if err := ledger.RecordSuccess("task-p", SuccessMeta{Provider: "qobuz", ItemID: "11", Quality: "flac", Kind: "audio"}); err != nil {
		t.Fatalf("RecordSuccess failed: %v", err)
	}
	db.Close()

	db2, err := InitDB(path)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer db2.Close()

	done, err := NewLedger(db2, true, true).IsCompleted("task-p")
	if err != nil {
		t.Fatalf("IsCompleted failed: %v", err)
	}
	if !done {
		t.Error("Completed record did not survive reopen")
	}
}
