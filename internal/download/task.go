// Package download runs the core pipeline: a worker pool that fetches media
// items under per-provider rate limits, finalizes files atomically, and keeps
// a durable ledger of outcomes, plus the orchestrator that turns batches of
// resolved items into batch summaries.
package download

import (
	"fmt"
	"hash/fnv"
	"io"
	"strings"
	"time"

	apperrors "github.com/ripstream/ripstream/internal/errors"
	"github.com/ripstream/ripstream/internal/provider"
	"github.com/ripstream/ripstream/internal/store"
)

// Status is the terminal state of one task.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Task is one unit of download work. Its ID is derived from the identity
// triple (provider, item, quality), so the same item at the same quality
// always maps to the same ledger row.
type Task struct {
	ID   string
	Item provider.Item
}

// NewTask builds the task for an item.
func NewTask(item provider.Item) Task {
	return Task{ID: taskID(item), Item: item}
}

// TaskFromRecord rebuilds a task from a failure record so repair can re-run
// it under its original ledger identity.
func TaskFromRecord(rec store.Record) Task {
	return Task{
		ID: rec.TaskID,
		Item: provider.Item{
			Provider: provider.Source(rec.Provider),
			ID:       rec.ItemID,
			Quality:  rec.Quality,
			Kind:     provider.MediaKind(rec.Kind),
		},
	}
}

// taskID hashes the identity triple with FNV-64a. Title or artwork changes
// upstream do not change the identity.
func taskID(item provider.Item) string {
	h := fnv.New64a()
	io.WriteString(h, string(item.Provider))
	io.WriteString(h, "|")
	io.WriteString(h, item.ID)
	io.WriteString(h, "|")
	io.WriteString(h, item.Quality)
	return fmt.Sprintf("%016x", h.Sum64())
}

// Outcome is the result of running one task.
type Outcome struct {
	TaskID    string
	Item      provider.Item
	Status    Status
	Path      string // destination path when completed
	ErrorKind apperrors.Kind
	Err       error
	Bytes     int64
	Duration  time.Duration
}

// BatchSummary aggregates the outcomes of one batch.
type BatchSummary struct {
	Completed int
	Skipped   int
	Failed    int
	// AuthFailed is set when any task in the batch failed with an auth error,
	// signalling that credentials need attention before retrying.
	AuthFailed bool
}

// Total returns the number of tasks in the batch.
func (s BatchSummary) Total() int {
	return s.Completed + s.Skipped + s.Failed
}

// extFor picks the destination file extension from the item's kind and
// quality label.
func extFor(item provider.Item) string {
	if item.Kind == provider.KindVideo {
		return ".mp4"
	}
	q := strings.ToLower(item.Quality)
	switch {
	case strings.Contains(q, "flac") || q == "lossless" || strings.Contains(q, "hires"):
		return ".flac"
	default:
		return ".mp3"
	}
}

// sanitizeFileName strips characters that are unsafe in file names.
func sanitizeFileName(name string) string {
	replacer := strings.NewReplacer(
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "'",
		"<", "(",
		">", ")",
		"|", "-",
		"\x00", "",
	)
	cleaned := strings.TrimSpace(replacer.Replace(name))
	if cleaned == "" {
		return "untitled"
	}
	return cleaned
}

// fileName builds the destination file name for an item.
func fileName(item provider.Item) string {
	base := item.Label()
	if base == "" {
		base = string(item.Provider) + "_" + item.ID
	}
	return sanitizeFileName(base) + extFor(item)
}
