// Package reindex rebuilds search indices from the store as a background job.
package reindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/indexsync"
	"github.com/testplanit/searchsync/internal/schema"
	"github.com/testplanit/searchsync/internal/store"
)

const (
	// JobName is the queue name reindex jobs are submitted under.
	JobName = "elasticsearch-reindex"

	// RepositoryCaseBatchSize is the number of repository cases per bulk request.
	RepositoryCaseBatchSize = 100

	countConcurrency = 4
)

var (
	// ErrSearchDisabled fails a reindex when no search backend is configured.
	ErrSearchDisabled = errors.New("search is not configured")
	// ErrProjectNotFound fails a reindex scoped to a missing or deleted project.
	ErrProjectNotFound = errors.New("project not found")
)

// Payload is the job payload of a reindex.
type Payload struct {
	// EntityType is "all" (or empty) or a single entity kind.
	EntityType string `json:"entityType"`
	// ProjectID scopes the run to one project.
	ProjectID *int64 `json:"projectId,omitempty"`
}

// Reporter receives job progress and log lines.
type Reporter interface {
	UpdateProgress(ctx context.Context, percent int) error
	Log(ctx context.Context, message string) error
}

// Result summarizes a completed reindex.
type Result struct {
	Counts map[domain.EntityKind]int `json:"counts"`
	Total  int                       `json:"total"`
	Failed int                       `json:"failed"`
}

// Orchestrator runs reindex jobs.
type Orchestrator struct {
	reader   store.Reader
	syncer   *indexsync.Syncer
	registry *schema.Registry
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(reader store.Reader, syncer *indexsync.Syncer, registry *schema.Registry, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{reader: reader, syncer: syncer, registry: registry, logger: logger}
}

func filterFor(kind domain.EntityKind, projectID int64) store.Filter {
	return store.Filter{ProjectID: projectID, ExcludeArchived: kind == domain.KindRepositoryCase}
}

// Run reindexes the requested kinds for the requested projects. Any store or
// reporter error aborts the run; rejected documents are logged and counted.
func (o *Orchestrator) Run(ctx context.Context, p Payload, rep Reporter) (*Result, error) {
	res, err := o.run(ctx, p, rep)
	if err != nil {
		o.logger.Error("Reindex failed", "entity_type", p.EntityType, "error", err)
		_ = rep.Log(ctx, fmt.Sprintf("Reindex failed: %v", err))
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) run(ctx context.Context, p Payload, rep Reporter) (*Result, error) {
	kinds, err := domain.SelectKinds(p.EntityType)
	if err != nil {
		return nil, err
	}
	if !o.syncer.Enabled() {
		return nil, ErrSearchDisabled
	}

	projects, err := o.projects(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	if err := rep.Log(ctx, fmt.Sprintf("Starting reindex of %s across %d project(s)", selectorLabel(p.EntityType), len(projects))); err != nil {
		return nil, err
	}

	counts, total, err := o.count(ctx, projects, kinds)
	if err != nil {
		return nil, err
	}
	if err := rep.Log(ctx, fmt.Sprintf("Found %d documents to index", total)); err != nil {
		return nil, err
	}

	for _, kind := range kinds {
		if kind == domain.KindRepositoryCase {
			if !o.registry.EnsureIndex(ctx, kind) {
				return nil, fmt.Errorf("failed to prepare index %s", schema.IndexName(kind))
			}
		}
	}

	t := &tracker{reporter: rep, total: total}
	if err := t.advance(ctx, 0); err != nil {
		return nil, err
	}

	result := &Result{Counts: make(map[domain.EntityKind]int, len(kinds))}
	for _, kind := range kinds {
		result.Counts[kind] = 0
	}

	for pi, project := range projects {
		if err := rep.Log(ctx, fmt.Sprintf("Indexing project %q (%d)", project.Name, project.ID)); err != nil {
			return nil, err
		}
		for ki, kind := range kinds {
			if counts[pi][ki] == 0 {
				continue
			}
			indexed, failed, err := o.indexKind(ctx, t, project, kind, counts[pi][ki])
			if err != nil {
				return nil, err
			}
			result.Counts[kind] += indexed
			result.Total += indexed
			result.Failed += failed
			msg := fmt.Sprintf("Indexed %d %s for project %q", indexed, kind.Label(), project.Name)
			if failed > 0 {
				msg += fmt.Sprintf(" (%d failed)", failed)
			}
			if err := rep.Log(ctx, msg); err != nil {
				return nil, err
			}
		}
	}

	if err := rep.UpdateProgress(ctx, progressDone); err != nil {
		return nil, err
	}
	if err := rep.Log(ctx, fmt.Sprintf("Reindex completed: %d documents indexed", result.Total)); err != nil {
		return nil, err
	}
	o.logger.Info("Reindex completed", "entity_type", p.EntityType, "total", result.Total, "failed", result.Failed)
	return result, nil
}

func (o *Orchestrator) projects(ctx context.Context, projectID *int64) ([]*domain.Project, error) {
	if projectID == nil {
		return o.reader.ListProjects(ctx)
	}
	project, err := store.Getter[*domain.Project](ctx, o.reader, domain.KindProject, *projectID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && project.IsDeleted) {
		return nil, fmt.Errorf("%w: %d", ErrProjectNotFound, *projectID)
	}
	if err != nil {
		return nil, err
	}
	return []*domain.Project{project}, nil
}

// count returns per-project, per-kind document counts and their sum.
func (o *Orchestrator) count(ctx context.Context, projects []*domain.Project, kinds []domain.EntityKind) ([][]int64, int64, error) {
	counts := make([][]int64, len(projects))
	for i := range counts {
		counts[i] = make([]int64, len(kinds))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(countConcurrency)
	for pi, project := range projects {
		for ki, kind := range kinds {
			if kind == domain.KindProject {
				counts[pi][ki] = 1
				continue
			}
			g.Go(func() error {
				n, err := o.reader.Count(gctx, kind, filterFor(kind, project.ID))
				if err != nil {
					return fmt.Errorf("count %s for project %d: %w", kind, project.ID, err)
				}
				counts[pi][ki] = n
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var total int64
	for _, row := range counts {
		for _, n := range row {
			total += n
		}
	}
	return counts, total, nil
}

func (o *Orchestrator) indexKind(ctx context.Context, t *tracker, project *domain.Project, kind domain.EntityKind, expected int64) (indexed, failed int, err error) {
	apply := func(ids []int64) error {
		res := o.syncer.BulkSync(ctx, kind, ids)
		if errors.Is(res.RequestErr, context.Canceled) || errors.Is(res.RequestErr, context.DeadlineExceeded) {
			return res.RequestErr
		}
		indexed += res.Indexed
		failed += res.Failed
		return t.advance(ctx, len(ids))
	}

	switch kind {
	case domain.KindProject:
		return indexed, failed, apply([]int64{project.ID})

	case domain.KindRepositoryCase:
		f := filterFor(kind, project.ID)
		for offset := 0; int64(offset) < expected; offset += RepositoryCaseBatchSize {
			ids, err := o.reader.ListIDs(ctx, kind, f, store.Page{Offset: offset, Limit: RepositoryCaseBatchSize})
			if err != nil {
				return indexed, failed, fmt.Errorf("list %s for project %d: %w", kind, project.ID, err)
			}
			if len(ids) == 0 {
				break
			}
			if err := apply(ids); err != nil {
				return indexed, failed, err
			}
		}
		return indexed, failed, nil
	}

	ids, err := o.reader.ListIDs(ctx, kind, filterFor(kind, project.ID), store.Page{})
	if err != nil {
		return indexed, failed, fmt.Errorf("list %s for project %d: %w", kind, project.ID, err)
	}
	return indexed, failed, apply(ids)
}

func selectorLabel(entityType string) string {
	kinds, err := domain.SelectKinds(entityType)
	if err != nil || len(kinds) != 1 {
		return "all entity types"
	}
	return kinds[0].Label()
}
