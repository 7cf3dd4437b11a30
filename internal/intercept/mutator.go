package intercept

import (
	"context"

	"github.com/testplanit/searchsync/internal/domain"
	"github.com/testplanit/searchsync/internal/store"
)

type mutator struct {
	next   store.Mutator
	outbox *Outbox
}

// Wrap returns a Mutator that enqueues a sync for every write next accepts.
// Failed writes enqueue nothing; sync problems never reach the caller.
func Wrap(next store.Mutator, outbox *Outbox) store.Mutator {
	return &mutator{next: next, outbox: outbox}
}

func (m *mutator) written(e domain.Entity) {
	m.outbox.Enqueue(Event{Kind: e.Kind(), ID: e.EntityID()})
}

func (m *mutator) Create(ctx context.Context, e domain.Entity) error {
	if err := m.next.Create(ctx, e); err != nil {
		return err
	}
	m.written(e)
	return nil
}

func (m *mutator) Update(ctx context.Context, e domain.Entity) error {
	if err := m.next.Update(ctx, e); err != nil {
		return err
	}
	m.written(e)
	return nil
}

func (m *mutator) Upsert(ctx context.Context, e domain.Entity) error {
	if err := m.next.Upsert(ctx, e); err != nil {
		return err
	}
	m.written(e)
	return nil
}

func (m *mutator) Delete(ctx context.Context, kind domain.EntityKind, id int64) error {
	if err := m.next.Delete(ctx, kind, id); err != nil {
		return err
	}
	// The sync finds the entity gone and removes its document. Reading the
	// store keeps a later re-create from being undone by this event.
	m.outbox.Enqueue(Event{Kind: kind, ID: id})
	return nil
}
