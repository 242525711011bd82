package store

import (
	"database/sql"
	"fmt"
	"sync"
	"time"
)

// Record is one row of the completed or failed table. For failed rows,
// Provider/ItemID/Quality/Kind carry enough to rebuild the original task.
type Record struct {
	TaskID    string
	Provider  string
	ItemID    string
	Quality   string
	Kind      string
	Path      string
	ErrorKind string
	Message   string
	Timestamp time.Time
}

// SuccessMeta is the metadata persisted alongside a completed task.
type SuccessMeta struct {
	Provider string
	ItemID   string
	Quality  string
	Kind     string
	Path     string
}

// FailureMeta is the metadata persisted alongside a failed task.
type FailureMeta struct {
	Provider  string
	ItemID    string
	Quality   string
	Kind      string
	ErrorKind string
	Message   string
}

// Ledger is the durable dedup and retry record, backed by two sqlite tables.
// Either table can be disabled: a disabled completed table reports nothing as
// completed, a disabled failed table records no failures. Writes are
// serialized by an internal mutex on top of the single sqlite connection.
type Ledger struct {
	db               *sql.DB
	mu               sync.Mutex
	completedEnabled bool
	failedEnabled    bool
}

// NewLedger creates a ledger over db with the given table toggles.
func NewLedger(db *sql.DB, completedEnabled, failedEnabled bool) *Ledger {
	return &Ledger{
		db:               db,
		completedEnabled: completedEnabled,
		failedEnabled:    failedEnabled,
	}
}

// IsCompleted reports whether taskID has a durable success record.
func (l *Ledger) IsCompleted(taskID string) (bool, error) {
	if !l.completedEnabled {
		return false, nil
	}

	var n int
	err := l.db.QueryRow(
		"SELECT COUNT(1) FROM completed_downloads WHERE task_id = ?", taskID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query completed table: %w", err)
	}
	return n > 0, nil
}

// IsFailed reports whether taskID has a failure record awaiting repair.
func (l *Ledger) IsFailed(taskID string) (bool, error) {
	if !l.failedEnabled {
		return false, nil
	}

	var n int
	err := l.db.QueryRow(
		"SELECT COUNT(1) FROM failed_downloads WHERE task_id = ?", taskID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query failed table: %w", err)
	}
	return n > 0, nil
}

// RecordSuccess durably marks taskID completed and removes any stale failure
// record in the same transaction, so a repaired task leaves the failed table
// the moment it succeeds.
func (l *Ledger) RecordSuccess(taskID string, meta SuccessMeta) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	tx, err := l.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if l.completedEnabled {
		_, err = tx.Exec(`
			INSERT INTO completed_downloads (task_id, provider, item_id, quality, kind, path, completed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(task_id) DO UPDATE SET path = excluded.path, completed_at = excluded.completed_at
		`, taskID, meta.Provider, meta.ItemID, meta.Quality, meta.Kind, meta.Path, time.Now())
		if err != nil {
			return fmt.Errorf("failed to record success: %w", err)
		}
	}

	if l.failedEnabled {
		if _, err := tx.Exec("DELETE FROM failed_downloads WHERE task_id = ?", taskID); err != nil {
			return fmt.Errorf("failed to clear failure record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit success record: %w", err)
	}
	return nil
}

// RecordFailure durably records a failed task for later repair.
func (l *Ledger) RecordFailure(taskID string, meta FailureMeta) error {
	if !l.failedEnabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO failed_downloads (task_id, provider, item_id, quality, kind, error_kind, message, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			error_kind = excluded.error_kind,
			message = excluded.message,
			failed_at = excluded.failed_at
	`, taskID, meta.Provider, meta.ItemID, meta.Quality, meta.Kind, meta.ErrorKind, meta.Message, time.Now())
	if err != nil {
		return fmt.Errorf("failed to record failure: %w", err)
	}
	return nil
}

// ClearFailure removes taskID from the failed table. Clearing an absent row
// is not an error.
func (l *Ledger) ClearFailure(taskID string) error {
	if !l.failedEnabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, err := l.db.Exec("DELETE FROM failed_downloads WHERE task_id = ?", taskID); err != nil {
		return fmt.Errorf("failed to clear failure record: %w", err)
	}
	return nil
}

// ListFailed returns every failure record, oldest first.
func (l *Ledger) ListFailed() ([]Record, error) {
	if !l.failedEnabled {
		return nil, nil
	}

	rows, err := l.db.Query(`
		SELECT task_id, provider, item_id, quality, kind, error_kind, message, failed_at
		FROM failed_downloads
		ORDER BY failed_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list failures: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var message sql.NullString
		if err := rows.Scan(&r.TaskID, &r.Provider, &r.ItemID, &r.Quality, &r.Kind, &r.ErrorKind, &message, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan failure record: %w", err)
		}
		r.Message = message.String
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate failures: %w", err)
	}
	return records, nil
}

// CountCompleted returns the number of completed records.
func (l *Ledger) CountCompleted() (int, error) {
	if !l.completedEnabled {
		return 0, nil
	}
	var n int
	if err := l.db.QueryRow("SELECT COUNT(1) FROM completed_downloads").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count completed: %w", err)
	}
	return n, nil
}
