package indexsync

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/schema"
	"github.com/testplanit/searchsync/internal/search"
)

// Failure describes one entity that was not written.
type Failure struct {
	ID     int64
	Type   string
	Reason string
}

// BulkResult is the outcome of one BulkSync call.
type BulkResult struct {
	Indexed int
	Deleted int
	// Skipped counts entities left out of the request: unindexable documents
	// and entities whose projection could not be built.
	Skipped     int
	BuildErrors int
	// Failed counts items the backend rejected.
	Failed   int
	Failures []Failure
	// RequestErr is set when the bulk request itself failed or could not be sent.
	RequestErr error
}

// OK reports whether every item sent was accepted.
func (r BulkResult) OK() bool {
	return r.RequestErr == nil && r.Failed == 0
}

// Processed is the number of entities accounted for.
func (r BulkResult) Processed() int {
	return r.Indexed + r.Deleted + r.Skipped + r.Failed
}

// BulkSync builds the documents of ids with a pass-scoped cached builder and
// writes them in a single bulk request, in input order. Entities that fail to
// build are logged and left out; items the backend rejects are logged one by
// one without affecting the accepted ones.
func (s *Syncer) BulkSync(ctx context.Context, kind domain.EntityKind, ids []int64) BulkResult {
	var res BulkResult
	if len(ids) == 0 {
		return res
	}
	if !s.registry.Enabled() {
		res.RequestErr = search.ErrDisabled
		return res
	}
	if !s.registry.EnsureIndex(ctx, kind) {
		res.RequestErr = fmt.Errorf("index for %s is unavailable", kind)
		res.Failed = len(ids)
		s.failed.Add(int64(len(ids)))
		return res
	}

	index := schema.IndexName(kind)
	b := s.builder.Cached()
	ops := make([]search.BulkOperation, 0, len(ids))

	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			res.RequestErr = err
			return res
		}
		doc, err := b.Build(ctx, kind, id)
		if err != nil {
			res.Skipped++
			res.BuildErrors++
			s.skipped.Add(1)
			s.logger.Warn("Failed to build document, excluding from bulk request",
				"entity_kind", kind, "entity_id", id, "reason", "build_failed", "error", err)
			continue
		}
		if shouldDelete(doc) {
			ops = append(ops, search.BulkOperation{Action: search.ActionDelete, ID: domain.DocumentID(id)})
			continue
		}
		if reason := skipReason(doc); reason != "" {
			res.Skipped++
			s.skipped.Add(1)
			s.logger.Info("Skipping document", "entity_kind", kind, "entity_id", id, "reason", reason)
			continue
		}
		ops = append(ops, search.BulkOperation{Action: search.ActionIndex, ID: doc.DocumentID(), Document: doc})
	}

	if len(ops) == 0 {
		return res
	}

	resp, err := s.registry.Backend().Bulk(ctx, index, ops)
	if err != nil {
		if errors.Is(err, search.ErrIndexNotFound) {
			s.registry.Forget(kind)
		}
		s.failed.Add(int64(len(ops)))
		res.RequestErr = err
		res.Failed += len(ops)
		s.logger.Error("Bulk request failed", "entity_kind", kind, "index", index, "documents", len(ops), "error", err)
		return res
	}

	for _, item := range resp.Items {
		if item.Failed() {
			res.Failed++
			s.failed.Add(1)
			id, _ := strconv.ParseInt(item.ID, 10, 64)
			res.Failures = append(res.Failures, Failure{ID: id, Type: item.Error.Type, Reason: item.Error.Reason})
			s.logger.Error("Document rejected by search backend",
				"entity_kind", kind, "entity_id", item.ID, "index", index,
				"error_type", item.Error.Type, "reason", item.Error.Reason)
			continue
		}
		if item.Action == search.ActionDelete {
			res.Deleted++
			s.deleted.Add(1)
		} else {
			res.Indexed++
			s.synced.Add(1)
		}
	}
	return res
}
