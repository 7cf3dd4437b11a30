// Package store is the system of record the sync engine reads entities from.
package store

import (
	"context"
	"errors"

	"github.com/testplanit/searchsync/internal/domain"
)

// ErrNotFound is returned when an entity, folder or project does not exist.
var ErrNotFound = errors.New("not found")

// Filter narrows Count and ListIDs. Soft-deleted entities are always excluded.
type Filter struct {
	// ProjectID restricts results to one project; 0 means every project.
	ProjectID int64
	// ExcludeArchived drops archived repository cases.
	ExcludeArchived bool
}

// Page is an offset window over an id-ordered listing.
type Page struct {
	Offset int
	// Limit caps the result; 0 means unbounded.
	Limit int
}

// Reader is the read side of the store.
type Reader interface {
	// Get returns the entity with its relation graph, including soft-deleted
	// entities. It returns ErrNotFound when no row exists.
	Get(ctx context.Context, kind domain.EntityKind, id int64) (domain.Entity, error)
	GetFolder(ctx context.Context, id int64) (*domain.Folder, error)
	Count(ctx context.Context, kind domain.EntityKind, f Filter) (int64, error)
	// ListIDs returns entity ids in ascending order.
	ListIDs(ctx context.Context, kind domain.EntityKind, f Filter, p Page) ([]int64, error)
	// ListProjects returns every live project ordered by id.
	ListProjects(ctx context.Context) ([]*domain.Project, error)
}

// ConfigReader reads runtime configuration values.
type ConfigReader interface {
	// ConfigValue reports ok=false when the key is unset.
	ConfigValue(ctx context.Context, key string) (value string, ok bool, err error)
}

// Mutator is the write side of the store.
type Mutator interface {
	// Create stores a new entity, assigning its id when it is zero.
	Create(ctx context.Context, e domain.Entity) error
	// Update replaces an existing entity; it returns ErrNotFound when absent.
	Update(ctx context.Context, e domain.Entity) error
	Upsert(ctx context.Context, e domain.Entity) error
	// Delete removes the row. Deleting an absent entity returns ErrNotFound.
	Delete(ctx context.Context, kind domain.EntityKind, id int64) error
}

// Getter fetches and type-asserts an entity.
func Getter[T domain.Entity](ctx context.Context, r Reader, kind domain.EntityKind, id int64) (T, error) {
	var zero T
	e, err := r.Get(ctx, kind, id)
	if err != nil {
		return zero, err
	}
	t, ok := e.(T)
	if !ok {
		return zero, ErrNotFound
	}
	return t, nil
}
