// Package intercept turns successful store writes into asynchronous index syncs.
package intercept

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/testplanit/searchsync/internal/domain"
)

// Event asks for one entity's document to be rebuilt from the store. Events
// for the same entity are interchangeable, which lets the outbox merge them.
type Event struct {
	Kind domain.EntityKind
	ID   int64
}

// Syncer is the part of indexsync.Syncer the outbox drives.
type Syncer interface {
	Sync(ctx context.Context, kind domain.EntityKind, id int64) bool
}

// Options configures an Outbox.
type Options struct {
	// QueueSize is the backlog above which a warning is logged. Events are
	// never dropped while the outbox is open.
	QueueSize int
	// Workers is the number of goroutines applying events.
	Workers int
	// Timeout bounds a single sync.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Outbox is an in-process queue of sync events. Enqueue never blocks, and
// sync outcomes never reach the code that enqueued the event.
//
// An entity is queued at most once and synced by at most one worker at a
// time. An event that arrives while its entity is being synced schedules one
// more sync after the current one, so the last sync always reads the store
// after the last write.
type Outbox struct {
	syncer Syncer
	opts   Options

	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Event
	queued   map[Event]struct{}
	inflight map[Event]bool // true when a rerun was requested
	started  bool
	closed   bool
	backlog  bool
	wg       sync.WaitGroup

	applied   atomic.Int64
	failed    atomic.Int64
	coalesced atomic.Int64
	dropped   atomic.Int64
}

// NewOutbox creates an outbox. Call Start before events are applied.
func NewOutbox(syncer Syncer, opts Options) *Outbox {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	o := &Outbox{
		syncer:   syncer,
		opts:     opts,
		queued:   make(map[Event]struct{}),
		inflight: make(map[Event]bool),
	}
	o.cond = sync.NewCond(&o.mu)
	return o
}

// Start launches the workers. Syncs run detached from ctx cancellation, each
// under its own timeout; stop the workers with Close.
func (o *Outbox) Start(ctx context.Context) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started || o.closed {
		return
	}
	o.started = true
	base := context.WithoutCancel(ctx)
	o.wg.Add(o.opts.Workers)
	for i := 0; i < o.opts.Workers; i++ {
		go o.run(base)
	}
}

// Enqueue schedules a sync of ev's entity. It reports false only when the
// outbox is closed.
func (o *Outbox) Enqueue(ev Event) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		o.dropped.Add(1)
		o.opts.Logger.Warn("Sync outbox closed, dropping event", "entity_kind", ev.Kind, "entity_id", ev.ID)
		return false
	}
	if rerun, ok := o.inflight[ev]; ok {
		if rerun {
			o.coalesced.Add(1)
		}
		o.inflight[ev] = true
		return true
	}
	if _, ok := o.queued[ev]; ok {
		o.coalesced.Add(1)
		return true
	}
	o.push(ev)
	return true
}

// push appends ev to the queue. mu must be held.
func (o *Outbox) push(ev Event) {
	o.queued[ev] = struct{}{}
	o.queue = append(o.queue, ev)
	if !o.backlog && len(o.queue) > o.opts.QueueSize {
		o.backlog = true
		o.opts.Logger.Warn("Sync outbox backlog above queue size",
			"pending", len(o.queue), "queue_size", o.opts.QueueSize)
	}
	o.cond.Signal()
}

// next blocks until an event is available, or returns false once the outbox
// is closed and empty.
func (o *Outbox) next() (Event, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for len(o.queue) == 0 {
		if o.closed {
			return Event{}, false
		}
		o.cond.Wait()
	}
	ev := o.queue[0]
	o.queue[0] = Event{}
	o.queue = o.queue[1:]
	delete(o.queued, ev)
	o.inflight[ev] = false
	if o.backlog && len(o.queue) <= o.opts.QueueSize/2 {
		o.backlog = false
		o.opts.Logger.Info("Sync outbox backlog cleared", "pending", len(o.queue))
	}
	return ev, true
}

func (o *Outbox) done(ev Event) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rerun := o.inflight[ev]
	delete(o.inflight, ev)
	if rerun {
		o.push(ev)
	}
}

func (o *Outbox) run(base context.Context) {
	defer o.wg.Done()
	for {
		ev, ok := o.next()
		if !ok {
			return
		}
		o.apply(base, ev)
		o.done(ev)
	}
}

func (o *Outbox) apply(base context.Context, ev Event) {
	ctx, cancel := context.WithTimeout(base, o.opts.Timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			o.failed.Add(1)
			o.opts.Logger.Error("Sync panicked", "entity_kind", ev.Kind, "entity_id", ev.ID, "panic", r)
		}
	}()

	if o.syncer.Sync(ctx, ev.Kind, ev.ID) {
		o.applied.Add(1)
		return
	}
	o.failed.Add(1)
	o.opts.Logger.Debug("Sync did not complete", "entity_kind", ev.Kind, "entity_id", ev.ID)
}

// Close stops accepting events and waits, bounded by ctx, for queued events
// to be applied.
func (o *Outbox) Close(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	o.cond.Broadcast()
	started := o.started
	o.mu.Unlock()

	if !started {
		return nil
	}
	finished := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OutboxStats counts event outcomes.
type OutboxStats struct {
	Applied   int64 `json:"applied"`
	Failed    int64 `json:"failed"`
	Coalesced int64 `json:"coalesced"`
	// Dropped counts events refused after Close.
	Dropped int64 `json:"dropped"`
	Pending int   `json:"pending"`
}

// Stats returns a snapshot of the outbox counters.
func (o *Outbox) Stats() OutboxStats {
	o.mu.Lock()
	pending := len(o.queue)
	o.mu.Unlock()
	return OutboxStats{
		Applied:   o.applied.Load(),
		Failed:    o.failed.Load(),
		Coalesced: o.coalesced.Load(),
		Dropped:   o.dropped.Load(),
		Pending:   pending,
	}
}
