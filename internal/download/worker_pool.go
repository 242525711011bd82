package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/ripstream/ripstream/internal/errors"
	"github.com/ripstream/ripstream/internal/monitoring"
	"github.com/ripstream/ripstream/internal/network"
	"github.com/ripstream/ripstream/internal/postprocess"
	"github.com/ripstream/ripstream/internal/progress"
	"github.com/ripstream/ripstream/internal/provider"
	"github.com/ripstream/ripstream/internal/ratelimit"
	"github.com/ripstream/ripstream/internal/store"
)

// progressMinInterval and progressMinDelta throttle progress events: one is
// published when either a second has passed or the task advanced 5%.
const (
	progressMinInterval = time.Second
	progressMinDelta    = 0.05
)

// PoolConfig wires a worker pool.
type PoolConfig struct {
	// Concurrency bounds simultaneously running tasks. Zero or negative
	// means no bound beyond the batch size.
	Concurrency int
	// DownloadDir is the root of the destination tree.
	DownloadDir string
	// Force re-downloads items the ledger already marks completed.
	Force bool

	Registry  *provider.Registry
	Gate      *ratelimit.Gate
	Ledger    *store.Ledger
	Bus       *progress.Bus
	Processor postprocess.Processor
	Retry     apperrors.RetryConfig
	Logger    *zap.Logger
}

// Pool executes download tasks with bounded concurrency. Each task runs the
// same pipeline: ledger check, rate limit grant, fetch to a temp file,
// postprocess, atomic rename, ledger write.
type Pool struct {
	cfg PoolConfig
}

// NewPool creates a pool. Registry, Gate and Ledger are required.
func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Registry == nil {
		return nil, fmt.Errorf("pool requires a provider registry")
	}
	if cfg.Gate == nil {
		return nil, fmt.Errorf("pool requires a rate limit gate")
	}
	if cfg.Ledger == nil {
		return nil, fmt.Errorf("pool requires a ledger")
	}
	if cfg.DownloadDir == "" {
		return nil, fmt.Errorf("pool requires a download directory")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Retry.MaxRetries == 0 && cfg.Retry.Retryable == nil {
		cfg.Retry = apperrors.DefaultRetryConfig()
	}
	return &Pool{cfg: cfg}, nil
}

// Run executes all tasks and returns one outcome per task, in task order.
// Individual failures never abort the batch; a cancelled ctx stops granting
// new work and surfaces as failed outcomes.
func (p *Pool) Run(ctx context.Context, tasks []Task) []Outcome {
	outcomes := make([]Outcome, len(tasks))

	var sem chan struct{}
	if p.cfg.Concurrency > 0 {
		sem = make(chan struct{}, p.cfg.Concurrency)
	}

	var wg sync.WaitGroup
	for i, task := range tasks {
		if sem != nil {
			sem <- struct{}{}
		}
		wg.Add(1)
		go func(i int, task Task) {
			defer wg.Done()
			if sem != nil {
				defer func() { <-sem }()
			}
			outcomes[i] = p.runTask(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return outcomes
}

// runTask executes one task through the full pipeline. A panic anywhere in
// the pipeline becomes a failed outcome instead of taking down siblings.
func (p *Pool) runTask(ctx context.Context, task Task) (outcome Outcome) {
	start := time.Now()
	outcome = Outcome{TaskID: task.ID, Item: task.Item}

	// Tracks whether the active-downloads gauge was incremented, so a panic
	// after the start marker still balances the metrics.
	var started bool
	defer func() {
		if r := recover(); r != nil {
			p.cfg.Logger.Error("task panicked",
				zap.String("task_id", task.ID),
				zap.Any("panic", r),
			)
			err := fmt.Errorf("task panic: %v", r)
			if started {
				monitoring.RecordDownloadFailed(string(task.Item.Provider), string(apperrors.KindOf(err)))
			}
			outcome = p.failTask(task, err, time.Since(start))
		}
	}()

	if !p.cfg.Force {
		done, err := p.cfg.Ledger.IsCompleted(task.ID)
		if err != nil {
			return p.failTask(task, apperrors.NewFileSystemError("ledger lookup", err), time.Since(start))
		}
		if done {
			monitoring.RecordDownloadSkipped(string(task.Item.Provider))
			p.publish(progress.Finished(task.ID, string(StatusSkipped)))
			outcome.Status = StatusSkipped
			outcome.Duration = time.Since(start)
			return outcome
		}
	}

	monitoring.RecordDownloadStart()
	started = true
	p.publish(progress.Started(task.ID, task.Item.Label()))

	path, bytes, err := p.download(ctx, task)
	duration := time.Since(start)
	if err != nil {
		monitoring.RecordDownloadFailed(string(task.Item.Provider), string(apperrors.KindOf(err)))
		failed := p.failTask(task, err, duration)
		failed.Bytes = bytes
		return failed
	}

	meta := store.SuccessMeta{
		Provider: string(task.Item.Provider),
		ItemID:   task.Item.ID,
		Quality:  task.Item.Quality,
		Kind:     string(task.Item.Kind),
		Path:     path,
	}
	if err := p.cfg.Ledger.RecordSuccess(task.ID, meta); err != nil {
		// The file is in place; a ledger write failure must not report the
		// download as failed, only log it. The next run will re-verify.
		p.cfg.Logger.Error("failed to record success",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	monitoring.RecordDownloadComplete(string(task.Item.Provider), duration, bytes)
	p.publish(progress.Finished(task.ID, string(StatusCompleted)))

	outcome.Status = StatusCompleted
	outcome.Path = path
	outcome.Bytes = bytes
	outcome.Duration = duration
	return outcome
}

// failTask records a failure in the ledger and builds the failed outcome.
func (p *Pool) failTask(task Task, err error, duration time.Duration) Outcome {
	kind := apperrors.KindOf(err)

	meta := store.FailureMeta{
		Provider:  string(task.Item.Provider),
		ItemID:    task.Item.ID,
		Quality:   task.Item.Quality,
		Kind:      string(task.Item.Kind),
		ErrorKind: string(kind),
		Message:   err.Error(),
	}
	if lerr := p.cfg.Ledger.RecordFailure(task.ID, meta); lerr != nil {
		p.cfg.Logger.Error("failed to record failure",
			zap.String("task_id", task.ID),
			zap.Error(lerr),
		)
	}

	p.cfg.Logger.Warn("task failed",
		zap.String("task_id", task.ID),
		zap.String("provider", string(task.Item.Provider)),
		zap.String("kind", string(kind)),
		zap.Error(err),
	)
	p.publish(progress.Finished(task.ID, string(StatusFailed)))

	return Outcome{
		TaskID:    task.ID,
		Item:      task.Item,
		Status:    StatusFailed,
		ErrorKind: kind,
		Err:       err,
		Duration:  duration,
	}
}

// download fetches the item into a temp file, postprocesses it, and moves it
// to its destination atomically. The destination path never exists in a
// partial state; a crash leaves only the temp file behind.
func (p *Pool) download(ctx context.Context, task Task) (string, int64, error) {
	fetcher, err := p.cfg.Registry.Fetcher(task.Item.Provider)
	if err != nil {
		return "", 0, apperrors.NewValidationError(err.Error())
	}

	destDir := filepath.Join(p.cfg.DownloadDir, string(task.Item.Provider))
	destPath := filepath.Join(destDir, fileName(task.Item))
	tempPath := filepath.Join(destDir, "."+task.ID+".part")

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", 0, apperrors.NewFileSystemError("create download directory", err)
	}

	// Every fetch attempt consumes its own gate grant, so a retry after a
	// provider 429 waits behind the window like a fresh request.
	var written int64
	err = apperrors.RetryWithBackoff(ctx, p.cfg.Retry, func() error {
		gateStart := time.Now()
		if err := p.cfg.Gate.Acquire(ctx, string(task.Item.Provider)); err != nil {
			return apperrors.NewTransientError("rate limit wait cancelled", err)
		}
		monitoring.RecordRateLimitWait(string(task.Item.Provider), time.Since(gateStart))

		n, ferr := p.fetchToTemp(ctx, fetcher, task, tempPath)
		written = n
		return ferr
	})
	if err != nil {
		// The temp file stays for a future resume.
		return "", written, err
	}

	finalPath := tempPath
	if p.cfg.Processor != nil {
		processed, err := p.cfg.Processor.Process(ctx, tempPath, task.Item)
		if err != nil {
			if apperrors.KindOf(err) == apperrors.KindUnknown {
				err = apperrors.NewPostprocessError("postprocess", err)
			}
			return "", written, err
		}
		finalPath = processed
	}

	if err := os.Rename(finalPath, destPath); err != nil {
		return "", written, apperrors.NewFileSystemError("finalize download", err)
	}
	return destPath, written, nil
}

// fetchToTemp streams the item into tempPath. When a previous attempt left
// bytes behind and the fetcher supports ranges, it resumes from the existing
// offset instead of starting over.
func (p *Pool) fetchToTemp(ctx context.Context, fetcher provider.Fetcher, task Task, tempPath string) (int64, error) {
	var offset int64
	ranger, canResume := fetcher.(provider.RangeFetcher)
	if canResume {
		if info, err := os.Stat(tempPath); err == nil {
			offset = info.Size()
		}
	}

	var body io.ReadCloser
	var total int64
	var err error
	if offset > 0 {
		body, total, err = ranger.FetchRange(ctx, task.Item.ID, task.Item.Quality, offset)
		if err != nil && errors.Is(err, provider.ErrResumeNotSupported) {
			// The partial file can never be completed with range requests.
			// Discard it and restart this attempt from zero, or every retry
			// would stat the same temp file and hit the same wall.
			if rmErr := os.Remove(tempPath); rmErr != nil && !os.IsNotExist(rmErr) {
				return 0, apperrors.NewFileSystemError("discard stale temp file", rmErr)
			}
			offset = 0
			body, total, err = fetcher.Fetch(ctx, task.Item.ID, task.Item.Quality)
		}
	} else {
		body, total, err = fetcher.Fetch(ctx, task.Item.ID, task.Item.Quality)
	}
	if err != nil {
		return 0, err
	}
	defer body.Close()

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	file, err := os.OpenFile(tempPath, flags, 0644)
	if err != nil {
		return 0, apperrors.NewFileSystemError("open temp file", err)
	}

	throttle := newProgressThrottle(p, task.ID, offset, total)
	written, copyErr := network.CopyWithProgress(file, body, throttle.onWrite)
	if err := file.Close(); err != nil && copyErr == nil {
		copyErr = apperrors.NewFileSystemError("close temp file", err)
	}

	done := offset + written
	if copyErr != nil {
		if ctx.Err() != nil {
			return done, ctx.Err()
		}
		if apperrors.KindOf(copyErr) == apperrors.KindUnknown {
			copyErr = apperrors.NewTransientError("stream interrupted", copyErr)
		}
		return done, copyErr
	}
	if total >= 0 && done < total {
		return done, apperrors.NewTransientError(
			fmt.Sprintf("short read: got %d of %d bytes", done, total), nil)
	}
	return done, nil
}

// progressThrottle turns raw write callbacks into rate-limited progress
// events.
type progressThrottle struct {
	pool    *Pool
	taskID  string
	offset  int64
	total   int64
	started time.Time
	lastAt  time.Time
	lastPct float64
}

func newProgressThrottle(pool *Pool, taskID string, offset, total int64) *progressThrottle {
	now := time.Now()
	return &progressThrottle{
		pool:    pool,
		taskID:  taskID,
		offset:  offset,
		total:   total,
		started: now,
		lastAt:  now,
	}
}

func (t *progressThrottle) onWrite(written int64) {
	now := time.Now()
	done := t.offset + written

	var pct float64
	if t.total > 0 {
		pct = float64(done) / float64(t.total)
	}

	if now.Sub(t.lastAt) < progressMinInterval && pct-t.lastPct < progressMinDelta {
		return
	}
	t.lastAt = now
	t.lastPct = pct

	elapsed := now.Sub(t.started).Seconds()
	var rate float64
	if elapsed > 0 {
		rate = float64(written) / elapsed
	}
	t.pool.publish(progress.Progressed(t.taskID, done, t.total, rate))
}

// publish sends an event when a bus is attached.
func (p *Pool) publish(event progress.Event) {
	if p.cfg.Bus != nil {
		p.cfg.Bus.Publish(event)
	}
}
