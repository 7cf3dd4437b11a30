// Package indexsync keeps search documents in step with source entities.
//
// Sync functions never return errors: failures are logged and reported as a
// false result so that callers on the write path are never failed by search.
package indexsync

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/testplanit/searchsync/internal/builder"
	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/schema"
	"github.com/testplanit/searchsync/internal/search"
)

// Options configures a Syncer.
type Options struct {
	Logger *slog.Logger
}

// Stats counts sync outcomes since the Syncer was created.
type Stats struct {
	Synced  int64 `json:"synced"`
	Deleted int64 `json:"deleted"`
	Skipped int64 `json:"skipped"`
	Failed  int64 `json:"failed"`
}

// Syncer writes built documents to their kind's index.
type Syncer struct {
	builder  *builder.Builder
	registry *schema.Registry
	logger   *slog.Logger

	synced  atomic.Int64
	deleted atomic.Int64
	skipped atomic.Int64
	failed  atomic.Int64
}

// New creates a Syncer.
func New(b *builder.Builder, registry *schema.Registry, opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Syncer{builder: b, registry: registry, logger: opts.Logger}
}

// Enabled reports whether a search backend is configured.
func (s *Syncer) Enabled() bool {
	return s.registry.Enabled()
}

// Stats returns a snapshot of the outcome counters.
func (s *Syncer) Stats() Stats {
	return Stats{
		Synced:  s.synced.Load(),
		Deleted: s.deleted.Load(),
		Skipped: s.skipped.Load(),
		Failed:  s.failed.Load(),
	}
}

// shouldDelete reports whether doc must be removed from the index rather than written.
func shouldDelete(doc domain.Document) bool {
	if doc == nil {
		return true
	}
	rc, ok := doc.(*domain.RepositoryCaseDocument)
	return ok && rc.IsArchived
}

func skipReason(doc domain.Document) string {
	if sk, ok := doc.(domain.Skippable); ok {
		return sk.SkipReason()
	}
	return ""
}

// Sync rebuilds the document of one entity and replaces it in the index, or
// deletes it when the entity is gone or archived. It returns false when search
// is disabled or any step failed.
func (s *Syncer) Sync(ctx context.Context, kind domain.EntityKind, id int64) bool {
	if !s.registry.Enabled() {
		s.logger.Debug("Search disabled, skipping sync", "entity_kind", kind, "entity_id", id)
		return false
	}
	if !s.registry.EnsureIndex(ctx, kind) {
		s.failed.Add(1)
		return false
	}

	backend := s.registry.Backend()
	index := schema.IndexName(kind)
	docID := domain.DocumentID(id)

	doc, err := s.builder.Build(ctx, kind, id)
	if err != nil {
		s.failed.Add(1)
		s.logger.Error("Failed to build document", "entity_kind", kind, "entity_id", id, "error", err)
		return false
	}

	if shouldDelete(doc) {
		found, err := backend.DeleteDocument(ctx, index, docID)
		if err != nil {
			s.failIndexWrite(kind, err)
			s.logger.Error("Failed to delete document", "entity_kind", kind, "entity_id", id, "index", index, "error", err)
			return false
		}
		s.deleted.Add(1)
		s.logger.Debug("Removed document", "entity_kind", kind, "entity_id", id, "was_present", found)
		return true
	}

	if reason := skipReason(doc); reason != "" {
		s.skipped.Add(1)
		s.logger.Info("Skipping document", "entity_kind", kind, "entity_id", id, "reason", reason)
		return true
	}

	if err := backend.IndexDocument(ctx, index, doc.DocumentID(), doc); err != nil {
		s.failIndexWrite(kind, err)
		s.logger.Error("Failed to index document", "entity_kind", kind, "entity_id", id, "index", index, "error", err)
		return false
	}
	s.synced.Add(1)
	s.logger.Debug("Indexed document", "entity_kind", kind, "entity_id", id, "index", index)
	return true
}

func (s *Syncer) failIndexWrite(kind domain.EntityKind, err error) {
	s.failed.Add(1)
	if errors.Is(err, search.ErrIndexNotFound) {
		s.registry.Forget(kind)
	}
}
