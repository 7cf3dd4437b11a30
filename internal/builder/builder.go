// Package builder turns source entities into search documents.
//
// Every builder fetches the entity with the relations its document needs and
// flattens them. A nil document means the entity is gone (or soft-deleted) and
// the caller must delete it from the index instead of writing it.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/testplanit/searchsync/internal/customfield"
	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/richtext"
	"github.com/testplanit/searchsync/internal/store"
)

const (
	// SharedStepIDFactor spaces synthetic ids of expanded shared steps:
	// item i of step s gets id s*SharedStepIDFactor + i.
	SharedStepIDFactor = 1000

	// DefaultCacheSize is the capacity of each relation cache of a cached builder.
	DefaultCacheSize = 1024

	maxFolderDepth = 256
)

// Options configures a Builder.
type Options struct {
	Logger    *slog.Logger
	CacheSize int
}

// Builder builds search documents from store entities.
type Builder struct {
	reader    store.Reader
	logger    *slog.Logger
	cacheSize int

	// Relation caches; nil on the base builder so single syncs always read fresh state.
	folders *lru.Cache[int64, *domain.Folder]
	groups  *lru.Cache[int64, *domain.SharedStepGroup]
}

// New creates a builder reading from r.
func New(r store.Reader, opts Options) *Builder {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = DefaultCacheSize
	}
	return &Builder{reader: r, logger: opts.Logger, cacheSize: opts.CacheSize}
}

// Cached returns a builder sharing b's store that memoizes folders and shared
// step groups. It is meant to live for one bulk pass.
func (b *Builder) Cached() *Builder {
	folders, _ := lru.New[int64, *domain.Folder](b.cacheSize)
	groups, _ := lru.New[int64, *domain.SharedStepGroup](b.cacheSize)
	return &Builder{
		reader:    b.reader,
		logger:    b.logger,
		cacheSize: b.cacheSize,
		folders:   folders,
		groups:    groups,
	}
}

// Build loads the entity and builds its document. It returns (nil, nil) when
// the entity does not exist or is soft-deleted.
func (b *Builder) Build(ctx context.Context, kind domain.EntityKind, id int64) (domain.Document, error) {
	e, err := b.reader.Get(ctx, kind, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %d: %w", kind, id, err)
	}
	if e.Deleted() {
		return nil, nil
	}
	return b.BuildEntity(ctx, e)
}

// BuildEntity builds the document of an already loaded entity.
func (b *Builder) BuildEntity(ctx context.Context, e domain.Entity) (domain.Document, error) {
	switch v := e.(type) {
	case *domain.RepositoryCase:
		d, err := b.BuildRepositoryCase(ctx, v)
		return asDocument(d, err)
	case *domain.SharedStepGroup:
		d, err := b.BuildSharedStepGroup(ctx, v)
		return asDocument(d, err)
	case *domain.TestRun:
		d, err := b.BuildTestRun(ctx, v)
		return asDocument(d, err)
	case *domain.Session:
		d, err := b.BuildSession(ctx, v)
		return asDocument(d, err)
	case *domain.Issue:
		d, err := b.BuildIssue(ctx, v)
		return asDocument(d, err)
	case *domain.Milestone:
		d, err := b.BuildMilestone(ctx, v)
		return asDocument(d, err)
	case *domain.Project:
		d, err := b.BuildProject(ctx, v)
		return asDocument(d, err)
	}
	return nil, fmt.Errorf("%w: %T", domain.ErrUnknownEntityKind, e)
}

// asDocument keeps a failed build from surfacing as a non-nil interface
// holding a nil pointer.
func asDocument[T domain.Document](d T, err error) (domain.Document, error) {
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (b *Builder) folder(ctx context.Context, id int64) (*domain.Folder, error) {
	if b.folders != nil {
		if f, ok := b.folders.Get(id); ok {
			return f, nil
		}
	}
	f, err := b.reader.GetFolder(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.folders != nil {
		b.folders.Add(id, f)
	}
	return f, nil
}

func (b *Builder) sharedStepGroup(ctx context.Context, id int64) (*domain.SharedStepGroup, error) {
	if b.groups != nil {
		if g, ok := b.groups.Get(id); ok {
			return g, nil
		}
	}
	g, err := store.Getter[*domain.SharedStepGroup](ctx, b.reader, domain.KindSharedStep, id)
	if err != nil {
		return nil, err
	}
	if b.groups != nil {
		b.groups.Add(id, g)
	}
	return g, nil
}

// FolderPath joins folder names from the root down to folderID with "/".
// A nil folder yields "/". A cycle or a missing ancestor ends the walk with a
// warning; the names collected so far are kept.
func (b *Builder) FolderPath(ctx context.Context, folderID *int64) (string, error) {
	if folderID == nil {
		return "/", nil
	}

	var names []string
	seen := make(map[int64]bool)
	next := folderID
	for next != nil {
		id := *next
		if seen[id] || len(names) >= maxFolderDepth {
			b.logger.Warn("Folder chain does not terminate, truncating path",
				"folder_id", *folderID, "at_folder_id", id, "reason", "folder_cycle")
			break
		}
		seen[id] = true

		f, err := b.folder(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			b.logger.Warn("Folder missing from chain, truncating path",
				"folder_id", *folderID, "at_folder_id", id, "reason", "folder_missing")
			break
		}
		if err != nil {
			return "", fmt.Errorf("load folder %d: %w", id, err)
		}
		names = append(names, f.Name)
		next = f.ParentID
	}

	slices.Reverse(names)
	return "/" + strings.Join(names, "/"), nil
}

func tagDocuments(tags []domain.Tag) []domain.TagDocument {
	out := make([]domain.TagDocument, 0, len(tags))
	for _, t := range tags {
		out = append(out, domain.TagDocument{ID: t.ID, Name: t.Name})
	}
	return out
}

func tagNames(tags []domain.TagDocument) []string {
	names := make([]string, 0, len(tags))
	for _, t := range tags {
		names = append(names, t.Name)
	}
	return names
}

func (b *Builder) customFields(kind domain.EntityKind, id int64, values []domain.CustomFieldValue) []domain.CustomFieldDocument {
	return customfield.BuildDocuments(values, b.logger, "entity_kind", kind, "entity_id", id)
}

func named(ref *domain.NamedRef) (*int64, string) {
	if ref == nil || ref.ID == 0 {
		return nil, ""
	}
	id := ref.ID
	return &id, ref.Name
}

func searchable(parts ...[]string) string {
	var flat []string
	for _, p := range parts {
		flat = append(flat, p...)
	}
	return richtext.Join(flat...)
}
