// Package schema owns the fixed index name and mapping of every entity kind
// and creates missing indices on demand.
package schema

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/search"
	"github.com/testplanit/searchsync/internal/store"
)

// ReplicasConfigKey is the runtime configuration key holding the replica
// count applied to newly created indices.
const ReplicasConfigKey = "elasticsearch_replicas"

const indexPrefix = "testplanit-"

var indexNames = map[domain.EntityKind]string{
	domain.KindRepositoryCase: indexPrefix + "repository-cases",
	domain.KindSharedStep:     indexPrefix + "shared-steps",
	domain.KindTestRun:        indexPrefix + "test-runs",
	domain.KindSession:        indexPrefix + "sessions",
	domain.KindIssue:          indexPrefix + "issues",
	domain.KindMilestone:      indexPrefix + "milestones",
	domain.KindProject:        indexPrefix + "projects",
}

// IndexName returns the index holding documents of kind.
func IndexName(kind domain.EntityKind) string {
	return indexNames[kind]
}

// Mapping returns the field mapping of kind's index.
func Mapping(kind domain.EntityKind) map[string]search.Field {
	return mappingFor(kind)
}

// Registry creates indices with the fixed settings and mappings.
type Registry struct {
	backend search.Backend
	config  store.ConfigReader
	logger  *slog.Logger

	mu      sync.Mutex
	ensured map[domain.EntityKind]bool
}

// NewRegistry creates a registry. A nil backend means search is disabled.
func NewRegistry(backend search.Backend, config store.ConfigReader, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		backend: backend,
		config:  config,
		logger:  logger,
		ensured: make(map[domain.EntityKind]bool),
	}
}

// Backend returns the underlying backend, or nil when search is disabled.
func (r *Registry) Backend() search.Backend { return r.backend }

// Enabled reports whether a search backend is configured.
func (r *Registry) Enabled() bool { return r.backend != nil }

// Replicas reads the configured replica count. Unset, malformed or
// unreadable values yield 0 so that indexing is never blocked.
func (r *Registry) Replicas(ctx context.Context) int {
	if r.config == nil {
		return 0
	}
	raw, ok, err := r.config.ConfigValue(ctx, ReplicasConfigKey)
	if err != nil {
		r.logger.Warn("Failed to read replica setting, using 0", "key", ReplicasConfigKey, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n < 0 {
		r.logger.Warn("Invalid replica setting, using 0", "key", ReplicasConfigKey, "value", raw)
		return 0
	}
	return n
}

// Definition returns the full create-index definition of kind.
func (r *Registry) Definition(ctx context.Context, kind domain.EntityKind) search.IndexDefinition {
	return search.IndexDefinition{
		Name:       IndexName(kind),
		Shards:     1,
		Replicas:   r.Replicas(ctx),
		Analyzer:   search.Analyzer{Type: "standard", Stopwords: "_english_"},
		Properties: Mapping(kind),
	}
}

// EnsureIndex makes sure kind's index exists. An existing index is left
// untouched, so replica changes only affect indices created afterwards.
// It returns false when search is disabled or the backend fails.
func (r *Registry) EnsureIndex(ctx context.Context, kind domain.EntityKind) bool {
	if r.backend == nil {
		return false
	}
	if !kind.Valid() {
		r.logger.Error("Cannot ensure index for unknown kind", "entity_kind", kind)
		return false
	}

	r.mu.Lock()
	done := r.ensured[kind]
	r.mu.Unlock()
	if done {
		return true
	}

	name := IndexName(kind)
	exists, err := r.backend.IndexExists(ctx, name)
	if err != nil {
		r.logger.Error("Failed to check index", "index", name, "error", err)
		return false
	}
	if !exists {
		def := r.Definition(ctx, kind)
		if err := r.backend.CreateIndex(ctx, def); err != nil {
			r.logger.Error("Failed to create index", "index", name, "error", err)
			return false
		}
		r.logger.Info("Created search index", "index", name, "replicas", def.Replicas, "backend", r.backend.Name())
	}

	r.mu.Lock()
	r.ensured[kind] = true
	r.mu.Unlock()
	return true
}

// Forget drops the cached existence of kind's index, e.g. after a write
// reported the index missing.
func (r *Registry) Forget(kind domain.EntityKind) {
	r.mu.Lock()
	delete(r.ensured, kind)
	r.mu.Unlock()
}
