package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Processor executes a claimed job. The returned value is stored as the job
// result; a returned error fails the job.
type Processor interface {
	Process(ctx context.Context, job *Job) (any, error)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, job *Job) (any, error)

func (f ProcessorFunc) Process(ctx context.Context, job *Job) (any, error) { return f(ctx, job) }

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	// Concurrency is the number of jobs processed at the same time.
	Concurrency int
	// LockDuration is how long a job may go without progress before it stalls.
	LockDuration time.Duration
	// StalledInterval is how often expired locks are checked.
	StalledInterval time.Duration
	// MaxStalledCount is how many times a job may stall and be retried.
	MaxStalledCount int
	// PollInterval is the wait between claims when the queue is empty.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// DefaultWorkerOptions returns the options used for reindex jobs.
func DefaultWorkerOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:     2,
		LockDuration:    time.Hour,
		StalledInterval: 5 * time.Minute,
		MaxStalledCount: 1,
		PollInterval:    time.Second,
	}
}

func (o WorkerOptions) withDefaults() WorkerOptions {
	d := DefaultWorkerOptions()
	if o.Concurrency <= 0 {
		o.Concurrency = d.Concurrency
	}
	if o.LockDuration <= 0 {
		o.LockDuration = d.LockDuration
	}
	if o.StalledInterval <= 0 {
		o.StalledInterval = d.StalledInterval
	}
	if o.MaxStalledCount < 0 {
		o.MaxStalledCount = d.MaxStalledCount
	}
	if o.PollInterval <= 0 {
		o.PollInterval = d.PollInterval
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Worker consumes jobs of one name from a queue.
type Worker struct {
	queue *SQLiteQueue
	name  string
	proc  Processor
	opts  WorkerOptions
}

// NewWorker creates a worker for jobs named name.
func NewWorker(queue *SQLiteQueue, name string, proc Processor, opts WorkerOptions) *Worker {
	return &Worker{queue: queue, name: name, proc: proc, opts: opts.withDefaults()}
}

// Run processes jobs until ctx is cancelled, then waits for in-flight jobs
// to return. Jobs interrupted by shutdown are released back to the queue.
func (w *Worker) Run(ctx context.Context) error {
	w.opts.Logger.Info("Job worker started", "job", w.name, "concurrency", w.opts.Concurrency)

	// Locks left behind by a previous process are recovered before claiming.
	w.checkStalled(ctx)

	var wg sync.WaitGroup
	wg.Add(w.opts.Concurrency + 1)
	go func() {
		defer wg.Done()
		w.stallLoop(ctx)
	}()
	for i := 0; i < w.opts.Concurrency; i++ {
		go func() {
			defer wg.Done()
			w.claimLoop(ctx)
		}()
	}
	wg.Wait()

	w.opts.Logger.Info("Job worker stopped", "job", w.name)
	return nil
}

func (w *Worker) stallLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StalledInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.checkStalled(ctx)
		}
	}
}

func (w *Worker) checkStalled(ctx context.Context) {
	requeued, failed, err := w.queue.recoverStalled(ctx, w.name, w.opts.MaxStalledCount)
	if err != nil {
		if ctx.Err() == nil {
			w.opts.Logger.Error("Stall check failed", "job", w.name, "error", err)
		}
		return
	}
	if requeued > 0 || failed > 0 {
		w.opts.Logger.Warn("Recovered stalled jobs", "job", w.name, "requeued", requeued, "failed", failed)
	}
}

func (w *Worker) claimLoop(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := w.queue.claim(ctx, w.name, w.opts.LockDuration)
		if err != nil && ctx.Err() == nil {
			w.opts.Logger.Error("Failed to claim job", "job", w.name, "error", err)
		}
		if job == nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.opts.PollInterval):
			}
			continue
		}
		w.process(ctx, job)
	}
}

func (w *Worker) process(ctx context.Context, job *Job) {
	logger := w.opts.Logger.With("job", w.name, "job_id", job.ID, "attempt", job.Attempts)
	logger.Info("Job started")
	start := time.Now()

	result, err := w.invoke(ctx, job)

	// Bookkeeping must land even when the worker is shutting down.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err != nil && ctx.Err() != nil {
		if rerr := w.queue.release(bctx, job.ID, job.token); rerr != nil {
			logger.Warn("Failed to release interrupted job", "error", rerr)
			return
		}
		logger.Info("Job interrupted by shutdown, returned to queue")
		return
	}

	if err != nil {
		if ferr := w.queue.fail(bctx, job.ID, job.token, err.Error()); ferr != nil {
			logger.Warn("Failed to record job failure", "reason", err, "error", ferr)
			return
		}
		logger.Error("Job failed", "error", err, "duration", time.Since(start))
		return
	}

	payload, merr := json.Marshal(result)
	if merr != nil {
		payload = nil
		logger.Warn("Job result is not serializable", "error", merr)
	}
	if cerr := w.queue.complete(bctx, job.ID, job.token, payload); cerr != nil {
		if errors.Is(cerr, ErrLockLost) {
			logger.Warn("Job lock lost, discarding result")
			return
		}
		logger.Error("Failed to record job completion", "error", cerr)
		return
	}
	logger.Info("Job completed", "duration", time.Since(start))
}

func (w *Worker) invoke(ctx context.Context, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.proc.Process(ctx, job)
}
