package download

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/ripstream/ripstream/internal/errors"
	"github.com/ripstream/ripstream/internal/progress"
	"github.com/ripstream/ripstream/internal/provider"
	"github.com/ripstream/ripstream/internal/store"
)

// Orchestrator turns batches of resolved items into pool runs and batch
// summaries. It owns nothing long-lived itself; construction wires it to the
// pool, ledger and bus that the process already runs.
type Orchestrator struct {
	pool   *Pool
	ledger *store.Ledger
	bus    *progress.Bus
	logger *zap.Logger
}

// NewOrchestrator creates an orchestrator over an existing pool.
func NewOrchestrator(pool *Pool, ledger *store.Ledger, bus *progress.Bus, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{pool: pool, ledger: ledger, bus: bus, logger: logger}
}

// Download runs one batch of items and returns its summary. Failures are
// aggregated, never returned as an error; the error covers only conditions
// that prevented the batch from running at all.
func (o *Orchestrator) Download(ctx context.Context, items []provider.Item) (BatchSummary, error) {
	tasks := make([]Task, len(items))
	for i, item := range items {
		tasks[i] = NewTask(item)
	}
	return o.run(ctx, tasks), nil
}

// Repair re-runs every task in the failed ledger. Tasks that succeed leave
// the failed table; tasks completed since their failure was recorded are
// skipped like any other duplicate.
func (o *Orchestrator) Repair(ctx context.Context) (BatchSummary, error) {
	records, err := o.ledger.ListFailed()
	if err != nil {
		return BatchSummary{}, err
	}
	if len(records) == 0 {
		o.logger.Info("no failed downloads to repair")
		return BatchSummary{}, nil
	}

	o.logger.Info("repairing failed downloads", zap.Int("count", len(records)))
	tasks := make([]Task, len(records))
	for i, rec := range records {
		tasks[i] = TaskFromRecord(rec)
	}
	return o.run(ctx, tasks), nil
}

// run executes the tasks, tallies outcomes and publishes the batch summary.
func (o *Orchestrator) run(ctx context.Context, tasks []Task) BatchSummary {
	outcomes := o.pool.Run(ctx, tasks)

	var summary BatchSummary
	for _, outcome := range outcomes {
		switch outcome.Status {
		case StatusCompleted:
			summary.Completed++
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
			if outcome.ErrorKind == apperrors.KindAuth {
				summary.AuthFailed = true
			}
		}
	}

	if o.bus != nil {
		o.bus.Publish(progress.Summary(summary.Completed, summary.Skipped, summary.Failed))
	}
	o.logger.Info("batch finished",
		zap.Int("completed", summary.Completed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Bool("auth_failed", summary.AuthFailed),
	)
	return summary
}
