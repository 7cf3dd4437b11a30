package reindex

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testplanit/searchsync/internal/builder"
	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/indexsync"
	"github.com/testplanit/searchsync/internal/jobs"
	"github.com/testplanit/searchsync/internal/schema"
	"github.com/testplanit/searchsync/internal/search"
	"github.com/testplanit/searchsync/internal/store"
)

type recorder struct {
	mu       sync.Mutex
	progress []int
	logs     []string
	failAt   int
}

func (r *recorder) UpdateProgress(_ context.Context, pct int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, pct)
	if r.failAt > 0 && len(r.progress) == r.failAt {
		return errors.New("lock lost")
	}
	return nil
}

func (r *recorder) Log(_ context.Context, msg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logs = append(r.logs, msg)
	return nil
}

type env struct {
	store   *store.SQLite
	backend *search.Bleve
	orch    *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	b, err := search.NewBleve("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	registry := schema.NewRegistry(b, s, nil)
	syncer := indexsync.New(builder.New(s, builder.Options{}), registry, indexsync.Options{})
	return &env{store: s, backend: b, orch: NewOrchestrator(s, syncer, registry, nil)}
}

func (e *env) put(t *testing.T, ents ...domain.Entity) {
	t.Helper()
	for _, ent := range ents {
		require.NoError(t, e.store.Upsert(context.Background(), ent))
	}
}

func (e *env) count(t *testing.T, kind domain.EntityKind) int64 {
	t.Helper()
	n, err := e.backend.Count(context.Background(), schema.IndexName(kind))
	require.NoError(t, err)
	return n
}

func assertProgress(t *testing.T, progress []int) {
	t.Helper()
	require.NotEmpty(t, progress)
	last := 0
	for i, pct := range progress[:len(progress)-1] {
		assert.GreaterOrEqual(t, pct, 10, "call %d", i)
		assert.LessOrEqual(t, pct, 90, "call %d", i)
		assert.GreaterOrEqual(t, pct, last, "call %d went backwards", i)
		last = pct
	}
	assert.Equal(t, 100, progress[len(progress)-1])
}

func TestProgress(t *testing.T) {
	tests := []struct {
		processed, total int64
		want             int
	}{
		{0, 100, 10},
		{50, 100, 50},
		{100, 100, 90},
		{150, 100, 90},
		{1, 3, 36},
		{5, 0, 10},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Progress(tt.processed, tt.total), "%d/%d", tt.processed, tt.total)
	}
}

func TestRun_AllKindsBatchesRepositoryCases(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Project{ID: 1, Name: "Alpha"}, &domain.Project{ID: 2, Name: "Beta"})
	for i := int64(1); i <= 250; i++ {
		e.put(t, &domain.RepositoryCase{ID: i, ProjectID: 1, Name: "case"})
	}
	e.put(t,
		&domain.RepositoryCase{ID: 251, ProjectID: 2, Name: "archived", IsArchived: true},
		&domain.TestRun{ID: 1, ProjectID: 2, Name: "Nightly"},
		&domain.Milestone{ID: 1, ProjectID: 1, Name: "v1"},
	)

	rec := &recorder{}
	res, err := e.orch.Run(context.Background(), Payload{EntityType: "all"}, rec)
	require.NoError(t, err)

	assert.Equal(t, 250, res.Counts[domain.KindRepositoryCase])
	assert.Equal(t, 1, res.Counts[domain.KindTestRun])
	assert.Equal(t, 1, res.Counts[domain.KindMilestone])
	assert.Equal(t, 2, res.Counts[domain.KindProject])
	assert.Equal(t, 0, res.Counts[domain.KindSession])
	assert.Equal(t, 254, res.Total)
	assert.Zero(t, res.Failed)

	assert.Equal(t, int64(250), e.count(t, domain.KindRepositoryCase))
	assert.Equal(t, int64(2), e.count(t, domain.KindProject))
	assertProgress(t, rec.progress)
	assert.Contains(t, rec.logs, "Found 254 documents to index")
	assert.Contains(t, rec.logs, `Indexed 250 repository cases for project "Alpha"`)
}

func TestRun_SingleKindForOneProject(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Project{ID: 1, Name: "Alpha"}, &domain.Project{ID: 2, Name: "Beta"})
	e.put(t,
		&domain.Session{ID: 1, ProjectID: 1, Name: "explore"},
		&domain.Session{ID: 2, ProjectID: 2, Name: "other"},
	)

	pid := int64(1)
	rec := &recorder{}
	res, err := e.orch.Run(context.Background(), Payload{EntityType: string(domain.KindSession), ProjectID: &pid}, rec)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Total)
	assert.Len(t, res.Counts, 1)
	assert.Equal(t, int64(1), e.count(t, domain.KindSession))
	assertProgress(t, rec.progress)
}

func TestRun_UnknownProject(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Project{ID: 9, Name: "Gone", IsDeleted: true})

	for _, id := range []int64{9, 404} {
		pid := id
		_, err := e.orch.Run(context.Background(), Payload{ProjectID: &pid}, &recorder{})
		assert.ErrorIs(t, err, ErrProjectNotFound)
	}
}

func TestRun_UnknownEntityType(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.Run(context.Background(), Payload{EntityType: "widgets"}, &recorder{})
	assert.ErrorIs(t, err, domain.ErrUnknownEntityKind)
}

func TestRun_SearchDisabled(t *testing.T) {
	s, err := store.Open("")
	require.NoError(t, err)
	defer s.Close()

	registry := schema.NewRegistry(nil, s, nil)
	syncer := indexsync.New(builder.New(s, builder.Options{}), registry, indexsync.Options{})
	rec := &recorder{}
	_, err = NewOrchestrator(s, syncer, registry, nil).Run(context.Background(), Payload{}, rec)

	assert.ErrorIs(t, err, ErrSearchDisabled)
	assert.Empty(t, rec.progress)
}

func TestRun_ReporterFailureAbortsRun(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Project{ID: 1, Name: "Alpha"}, &domain.Project{ID: 2, Name: "Beta"})

	rec := &recorder{failAt: 2}
	_, err := e.orch.Run(context.Background(), Payload{EntityType: string(domain.KindProject)}, rec)
	require.Error(t, err)
	assert.Len(t, rec.progress, 2)
	assert.NotContains(t, rec.progress, 100)
}

func TestRun_CancelledContext(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Project{ID: 1, Name: "Alpha"})
	for i := int64(1); i <= 5; i++ {
		e.put(t, &domain.RepositoryCase{ID: i, ProjectID: 1, Name: "case"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	rec := &cancelOnFirstProgress{recorder: &recorder{}, cancel: cancel}
	_, err := e.orch.Run(ctx, Payload{EntityType: string(domain.KindRepositoryCase)}, rec)
	assert.ErrorIs(t, err, context.Canceled)
}

type cancelOnFirstProgress struct {
	*recorder
	cancel context.CancelFunc
}

func (c *cancelOnFirstProgress) UpdateProgress(ctx context.Context, pct int) error {
	c.cancel()
	return c.recorder.UpdateProgress(ctx, pct)
}

func TestProcessor_RunsQueuedReindex(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Project{ID: 1, Name: "Alpha"}, &domain.TestRun{ID: 4, ProjectID: 1, Name: "Nightly"})

	q, err := jobs.NewSQLiteQueue(e.store.DB())
	require.NoError(t, err)
	rec, err := q.Add(context.Background(), JobName, Payload{EntityType: "all"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w := jobs.NewWorker(q, JobName, Processor(e.orch), jobs.WorkerOptions{PollInterval: 5 * time.Millisecond})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	var got *jobs.Record
	require.Eventually(t, func() bool {
		got, err = q.Get(context.Background(), rec.ID)
		return err == nil && got.State == jobs.StateCompleted
	}, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, 100, got.Progress)
	assert.Contains(t, got.Logs, "Reindex completed: 2 documents indexed")
	assert.JSONEq(t, `{"counts":{"repository_case":0,"shared_step":0,"test_run":1,"session":0,"issue":0,"milestone":0,"project":1},"total":2,"failed":0}`, string(got.Result))
}
