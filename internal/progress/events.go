package progress

// EventType discriminates the progress event variants.
type EventType string

const (
	EventStarted      EventType = "started"
	EventProgress     EventType = "progress"
	EventFinished     EventType = "finished"
	EventBatchSummary EventType = "batch_summary"
)

// Event is a tagged progress notification. Only the fields for its Type are
// meaningful. Events for a single task arrive in causal order (started,
// progress, finished); events across tasks interleave arbitrarily.
type Event struct {
	Type   EventType
	TaskID string

	// Started
	Label string

	// Progress
	Bytes int64
	Total int64
	Rate  float64 // bytes per second

	// Finished
	Status string

	// BatchSummary
	Completed int
	Skipped   int
	Failed    int
}

// Started builds a task-start event.
func Started(taskID, label string) Event {
	return Event{Type: EventStarted, TaskID: taskID, Label: label}
}

// Progressed builds a throughput event.
func Progressed(taskID string, bytes, total int64, rate float64) Event {
	return Event{Type: EventProgress, TaskID: taskID, Bytes: bytes, Total: total, Rate: rate}
}

// Finished builds a task-end event.
func Finished(taskID, status string) Event {
	return Event{Type: EventFinished, TaskID: taskID, Status: status}
}

// Summary builds a batch summary event.
func Summary(completed, skipped, failed int) Event {
	return Event{Type: EventBatchSummary, Completed: completed, Skipped: skipped, Failed: failed}
}
