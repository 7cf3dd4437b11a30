package indexsync

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testplanit/searchsync/internal/builder"
	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/schema"
	"github.com/testplanit/searchsync/internal/search"
	"github.com/testplanit/searchsync/internal/store"
)

// faultyBackend wraps the in-memory backend and injects failures.
type faultyBackend struct {
	*search.Bleve
	reject   map[string]bool
	writeErr error
}

func (f *faultyBackend) IndexDocument(ctx context.Context, index, id string, doc any) error {
	if f.writeErr != nil {
		return f.writeErr
	}
	return f.Bleve.IndexDocument(ctx, index, id, doc)
}

func (f *faultyBackend) DeleteDocument(ctx context.Context, index, id string) (bool, error) {
	if f.writeErr != nil {
		return false, f.writeErr
	}
	return f.Bleve.DeleteDocument(ctx, index, id)
}

func (f *faultyBackend) Bulk(ctx context.Context, index string, ops []search.BulkOperation) (*search.BulkResponse, error) {
	if f.writeErr != nil {
		return nil, f.writeErr
	}
	var accepted []search.BulkOperation
	for _, op := range ops {
		if !f.reject[op.ID] {
			accepted = append(accepted, op)
		}
	}
	inner, err := f.Bleve.Bulk(ctx, index, accepted)
	if err != nil {
		return nil, err
	}
	out := &search.BulkResponse{Errors: inner.Errors}
	next := 0
	for _, op := range ops {
		if f.reject[op.ID] {
			out.Errors = true
			out.Items = append(out.Items, search.BulkItem{
				ID: op.ID, Action: op.Action, Status: http.StatusBadRequest,
				Error: &search.BulkItemError{Type: "mapper_parsing_exception", Reason: "failed to parse"},
			})
			continue
		}
		out.Items = append(out.Items, inner.Items[next])
		next++
	}
	return out, nil
}

type env struct {
	store   *store.SQLite
	backend *faultyBackend
	syncer  *Syncer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	b, err := search.NewBleve("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })

	backend := &faultyBackend{Bleve: b, reject: map[string]bool{}}
	registry := schema.NewRegistry(backend, s, nil)
	return &env{
		store:   s,
		backend: backend,
		syncer:  New(builder.New(s, builder.Options{}), registry, Options{}),
	}
}

func (e *env) put(t *testing.T, ent domain.Entity) {
	t.Helper()
	require.NoError(t, e.store.Upsert(context.Background(), ent))
}

func (e *env) indexed(t *testing.T, kind domain.EntityKind, id string) bool {
	t.Helper()
	ok, err := e.backend.DocumentExists(context.Background(), schema.IndexName(kind), id)
	require.NoError(t, err)
	return ok
}

func (e *env) count(t *testing.T, kind domain.EntityKind) int64 {
	t.Helper()
	n, err := e.backend.Count(context.Background(), schema.IndexName(kind))
	require.NoError(t, err)
	return n
}

func TestSync_IsIdempotent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, &domain.TestRun{ID: 1, ProjectID: 1, Name: "Nightly"})

	assert.True(t, e.syncer.Sync(ctx, domain.KindTestRun, 1))
	assert.True(t, e.syncer.Sync(ctx, domain.KindTestRun, 1))

	assert.Equal(t, int64(1), e.count(t, domain.KindTestRun))
	assert.Equal(t, int64(2), e.syncer.Stats().Synced)
}

func TestSync_ArchivedCaseIsRemoved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	c := &domain.RepositoryCase{ID: 7, ProjectID: 1, Name: "Login"}
	e.put(t, c)
	require.True(t, e.syncer.Sync(ctx, domain.KindRepositoryCase, 7))
	require.True(t, e.indexed(t, domain.KindRepositoryCase, "7"))

	c.IsArchived = true
	e.put(t, c)
	assert.True(t, e.syncer.Sync(ctx, domain.KindRepositoryCase, 7))
	assert.False(t, e.indexed(t, domain.KindRepositoryCase, "7"))
}

func TestSync_MissingEntityDeletesAndTolerantOfAbsence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	assert.True(t, e.syncer.Sync(ctx, domain.KindMilestone, 404), "already absent is not a failure")

	e.put(t, &domain.Milestone{ID: 2, ProjectID: 1, Name: "v1"})
	require.True(t, e.syncer.Sync(ctx, domain.KindMilestone, 2))
	require.NoError(t, e.store.Delete(ctx, domain.KindMilestone, 2))

	assert.True(t, e.syncer.Sync(ctx, domain.KindMilestone, 2))
	assert.False(t, e.indexed(t, domain.KindMilestone, "2"))
	assert.Equal(t, int64(2), e.syncer.Stats().Deleted)
}

func TestSync_SoftDeletedEntityIsRemoved(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	p := &domain.Project{ID: 3, Name: "Old"}
	e.put(t, p)
	require.True(t, e.syncer.Sync(ctx, domain.KindProject, 3))

	p.IsDeleted = true
	e.put(t, p)
	assert.True(t, e.syncer.Sync(ctx, domain.KindProject, 3))
	assert.False(t, e.indexed(t, domain.KindProject, "3"))
}

func TestSync_OrphanIssueIsSkipped(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Issue{ID: 1, Name: "BUG-1"})

	assert.True(t, e.syncer.Sync(context.Background(), domain.KindIssue, 1))
	assert.False(t, e.indexed(t, domain.KindIssue, "1"))
	assert.Equal(t, int64(1), e.syncer.Stats().Skipped)
}

func TestSync_BackendErrorReturnsFalse(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, &domain.Session{ID: 1, ProjectID: 1, Name: "s"})
	e.backend.writeErr = errors.New("cluster unavailable")

	assert.NotPanics(t, func() {
		assert.False(t, e.syncer.Sync(ctx, domain.KindSession, 1))
	})
	require.NoError(t, e.store.Delete(ctx, domain.KindSession, 1))
	assert.False(t, e.syncer.Sync(ctx, domain.KindSession, 1), "delete of a gone entity fails too")
	assert.Equal(t, int64(2), e.syncer.Stats().Failed)
}

func TestSync_DisabledSearch(t *testing.T) {
	s, err := store.Open("")
	require.NoError(t, err)
	defer s.Close()

	syncer := New(builder.New(s, builder.Options{}), schema.NewRegistry(nil, s, nil), Options{})
	assert.False(t, syncer.Enabled())
	assert.False(t, syncer.Sync(context.Background(), domain.KindProject, 1))

	res := syncer.BulkSync(context.Background(), domain.KindProject, []int64{1})
	assert.ErrorIs(t, res.RequestErr, search.ErrDisabled)
	assert.False(t, res.OK())
	assert.Equal(t, Stats{}, syncer.Stats())
}

func TestBulkSync_PartialFailure(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	for i := int64(1); i <= 3; i++ {
		e.put(t, &domain.RepositoryCase{ID: i, ProjectID: 1, Name: "case"})
	}
	e.backend.reject["2"] = true

	res := e.syncer.BulkSync(ctx, domain.KindRepositoryCase, []int64{1, 2, 3})
	assert.False(t, res.OK())
	assert.NoError(t, res.RequestErr)
	assert.Equal(t, 2, res.Indexed)
	assert.Equal(t, 1, res.Failed)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, int64(2), res.Failures[0].ID)
	assert.Equal(t, "failed to parse", res.Failures[0].Reason)

	assert.True(t, e.indexed(t, domain.KindRepositoryCase, "1"))
	assert.False(t, e.indexed(t, domain.KindRepositoryCase, "2"))
	assert.True(t, e.indexed(t, domain.KindRepositoryCase, "3"))
}

func TestBulkSync_MixedOutcomes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.put(t, &domain.Issue{ID: 1, Name: "linked", Project: &domain.ProjectRef{ID: 1, Name: "P"}})
	e.put(t, &domain.Issue{ID: 2, Name: "orphan"})

	res := e.syncer.BulkSync(ctx, domain.KindIssue, []int64{1, 2, 3})
	assert.True(t, res.OK())
	assert.Equal(t, 1, res.Indexed)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, 1, res.Deleted, "missing entity becomes a delete directive")
	assert.Equal(t, 3, res.Processed())
}

func TestBulkSync_RequestFailure(t *testing.T) {
	e := newEnv(t)
	e.put(t, &domain.Project{ID: 1, Name: "P"})
	e.put(t, &domain.Project{ID: 2, Name: "Q"})
	require.True(t, e.syncer.registry.EnsureIndex(context.Background(), domain.KindProject))
	e.backend.writeErr = errors.New("timeout")

	res := e.syncer.BulkSync(context.Background(), domain.KindProject, []int64{1, 2})
	assert.False(t, res.OK())
	assert.Error(t, res.RequestErr)
	assert.Equal(t, 2, res.Failed)
}

func TestBulkSync_Empty(t *testing.T) {
	e := newEnv(t)
	res := e.syncer.BulkSync(context.Background(), domain.KindProject, nil)
	assert.True(t, res.OK())
	assert.Zero(t, res.Processed())
}
