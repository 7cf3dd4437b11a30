package jobs

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	_ "modernc.org/sqlite"
)

const testJob = "test-job"

func newQueue(t *testing.T) *SQLiteQueue {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })

	q, err := NewSQLiteQueue(db)
	require.NoError(t, err)
	return q
}

func fastOptions() WorkerOptions {
	return WorkerOptions{
		Concurrency:     2,
		LockDuration:    time.Minute,
		StalledInterval: time.Hour,
		MaxStalledCount: 1,
		PollInterval:    5 * time.Millisecond,
	}
}

// runWorker starts w and returns a function that stops it and waits for Run to return.
func runWorker(t *testing.T, w *Worker) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func waitForState(t *testing.T, q *SQLiteQueue, id string, want State) *Record {
	t.Helper()
	var rec *Record
	require.Eventually(t, func() bool {
		var err error
		rec, err = q.Get(context.Background(), id)
		return err == nil && rec.State == want
	}, 5*time.Second, 5*time.Millisecond)
	return rec
}

func TestQueue_AddAndGet(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()

	rec, err := q.Add(ctx, testJob, map[string]any{"entityType": "all"})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	got, err := q.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.State)
	assert.JSONEq(t, `{"entityType":"all"}`, string(got.Data))

	_, err = q.Get(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownJob)

	list, err := q.List(ctx, testJob, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestWorker_CompletesJob(t *testing.T) {
	q := newQueue(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	proc := ProcessorFunc(func(ctx context.Context, job *Job) (any, error) {
		var p struct {
			Name string `json:"name"`
		}
		if err := job.Decode(&p); err != nil {
			return nil, err
		}
		if err := job.UpdateProgress(ctx, 50); err != nil {
			return nil, err
		}
		if err := job.Log(ctx, "hello "+p.Name); err != nil {
			return nil, err
		}
		return map[string]int{"total": 3}, nil
	})

	rec, err := q.Add(context.Background(), testJob, map[string]string{"name": "world"})
	require.NoError(t, err)

	stop := runWorker(t, NewWorker(q, testJob, proc, fastOptions()))
	got := waitForState(t, q, rec.ID, StateCompleted)
	stop()

	assert.Equal(t, 50, got.Progress)
	assert.Equal(t, []string{"hello world"}, got.Logs)
	assert.JSONEq(t, `{"total":3}`, string(got.Result))
	assert.Equal(t, 1, got.Attempts)
	assert.NotNil(t, got.FinishedAt)
}

func TestWorker_FailsJob(t *testing.T) {
	q := newQueue(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	proc := ProcessorFunc(func(ctx context.Context, job *Job) (any, error) {
		var p struct {
			Panic bool `json:"panic"`
		}
		_ = job.Decode(&p)
		if p.Panic {
			panic("boom")
		}
		return nil, errors.New("search is not configured")
	})

	failing, err := q.Add(context.Background(), testJob, map[string]bool{"panic": false})
	require.NoError(t, err)
	panicking, err := q.Add(context.Background(), testJob, map[string]bool{"panic": true})
	require.NoError(t, err)

	stop := runWorker(t, NewWorker(q, testJob, proc, fastOptions()))
	a := waitForState(t, q, failing.ID, StateFailed)
	b := waitForState(t, q, panicking.ID, StateFailed)
	stop()

	assert.Equal(t, "search is not configured", a.Error)
	assert.Contains(t, b.Error, "job panicked: boom")
}

func TestWorker_RunsJobsConcurrently(t *testing.T) {
	q := newQueue(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	started := make(chan string, 2)
	release := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, job *Job) (any, error) {
		started <- job.ID
		<-release
		return nil, nil
	})

	a, err := q.Add(context.Background(), testJob, nil)
	require.NoError(t, err)
	b, err := q.Add(context.Background(), testJob, nil)
	require.NoError(t, err)

	stop := runWorker(t, NewWorker(q, testJob, proc, fastOptions()))
	seen := map[string]bool{}
	for range 2 {
		select {
		case id := <-started:
			seen[id] = true
		case <-time.After(5 * time.Second):
			t.Fatal("jobs were not processed concurrently")
		}
	}
	close(release)
	waitForState(t, q, a.ID, StateCompleted)
	waitForState(t, q, b.ID, StateCompleted)
	stop()

	assert.True(t, seen[a.ID] && seen[b.ID])
}

func TestWorker_ShutdownReleasesInterruptedJob(t *testing.T) {
	q := newQueue(t)
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var once sync.Once
	running := make(chan struct{})
	proc := ProcessorFunc(func(ctx context.Context, job *Job) (any, error) {
		once.Do(func() { close(running) })
		<-ctx.Done()
		return nil, ctx.Err()
	})

	rec, err := q.Add(context.Background(), testJob, nil)
	require.NoError(t, err)

	stop := runWorker(t, NewWorker(q, testJob, proc, fastOptions()))
	<-running
	stop()

	got, err := q.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, got.State)
	assert.Zero(t, got.StalledCount)
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestQueue_StalledJobIsRetriedOnceThenFailed(t *testing.T) {
	q := newQueue(t)
	c := &clock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	q.now = c.now
	ctx := context.Background()

	rec, err := q.Add(ctx, testJob, nil)
	require.NoError(t, err)

	first, err := q.claim(ctx, testJob, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, first)

	// Progress keeps the lock alive.
	c.advance(50 * time.Minute)
	require.NoError(t, first.UpdateProgress(ctx, 20))
	c.advance(50 * time.Minute)
	requeued, failed, err := q.recoverStalled(ctx, testJob, 1)
	require.NoError(t, err)
	assert.Zero(t, requeued+failed)

	c.advance(11 * time.Minute)
	requeued, failed, err = q.recoverStalled(ctx, testJob, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)
	assert.Zero(t, failed)

	// The stalled holder can no longer report or complete.
	assert.ErrorIs(t, first.Log(ctx, "late"), ErrLockLost)
	assert.ErrorIs(t, q.complete(ctx, first.ID, first.token, nil), ErrLockLost)

	second, err := q.claim(ctx, testJob, time.Hour)
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.Equal(t, 2, second.Attempts)
	assert.NotEqual(t, first.token, second.token)

	c.advance(2 * time.Hour)
	requeued, failed, err = q.recoverStalled(ctx, testJob, 1)
	require.NoError(t, err)
	assert.Zero(t, requeued)
	assert.Equal(t, int64(1), failed)

	got, err := q.Get(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFailed, got.State)
	assert.Equal(t, StalledReason, got.Error)
	assert.Equal(t, 1, got.StalledCount)

	none, err := q.claim(ctx, testJob, time.Hour)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestQueue_ClaimIsScopedByName(t *testing.T) {
	q := newQueue(t)
	ctx := context.Background()
	_, err := q.Add(ctx, "other", nil)
	require.NoError(t, err)

	job, err := q.claim(ctx, testJob, time.Minute)
	require.NoError(t, err)
	assert.Nil(t, job)
}
