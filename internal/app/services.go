package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/testplanit/searchsync/internal/builder"
	"github.com/testplanit/searchsync/internal/config"
	"github.com/testplanit/searchsync/internal/indexsync"
	"github.com/testplanit/searchsync/internal/intercept"
	"github.com/testplanit/searchsync/internal/jobs"
	"github.com/testplanit/searchsync/internal/reindex"
	"github.com/testplanit/searchsync/internal/schema"
	"github.com/testplanit/searchsync/internal/search"
	"github.com/testplanit/searchsync/internal/store"
)

// Services holds the long-lived components of the process.
type Services struct {
	Store        *store.SQLite
	Backend      search.Backend // nil when search is disabled
	Registry     *schema.Registry
	Syncer       *indexsync.Syncer
	Outbox       *intercept.Outbox
	Mutator      store.Mutator // store writes that also enqueue index syncs
	Queue        *jobs.SQLiteQueue
	Orchestrator *reindex.Orchestrator
	Worker       *jobs.Worker

	logger *slog.Logger

	mu         sync.Mutex
	stopWorker context.CancelFunc
	workerDone chan struct{}
}

// NewSearchBackend creates the configured backend. It returns a nil backend
// when the elasticsearch backend has no URL.
func NewSearchBackend(s config.SearchSettings, logger *slog.Logger) (search.Backend, error) {
	switch s.Backend {
	case config.SearchBackendBleve:
		return search.NewBleve(s.BleveDir, logger)
	case config.SearchBackendElasticsearch, "":
		es, err := search.NewElasticsearch(search.ElasticsearchConfig{
			URL:            s.URL,
			Username:       s.Username,
			Password:       s.Password,
			APIKey:         s.APIKey,
			RequestTimeout: s.RequestTimeout,
			MaxRetries:     s.MaxRetries,
		}, logger)
		if errors.Is(err, search.ErrDisabled) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return es, nil
	default:
		return nil, fmt.Errorf("unknown search backend: %s", s.Backend)
	}
}

// NewServices opens the store and search backend and wires the sync and
// reindex components on top of them.
func NewServices(settings *config.Settings, logger *slog.Logger) (*Services, error) {
	if logger == nil {
		logger = slog.Default()
	}

	st, err := store.Open(settings.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	backend, err := NewSearchBackend(settings.Search, logger)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("failed to create search backend: %w", err)
	}

	queue, err := jobs.NewSQLiteQueue(st.DB())
	if err != nil {
		if backend != nil {
			_ = backend.Close()
		}
		_ = st.Close()
		return nil, fmt.Errorf("failed to create job queue: %w", err)
	}

	registry := schema.NewRegistry(backend, st, logger)
	syncer := indexsync.New(builder.New(st, builder.Options{Logger: logger}), registry, indexsync.Options{Logger: logger})
	outbox := intercept.NewOutbox(syncer, intercept.Options{
		QueueSize: settings.Sync.QueueSize,
		Workers:   settings.Sync.Workers,
		Timeout:   settings.Sync.Timeout,
		Logger:    logger,
	})
	orchestrator := reindex.NewOrchestrator(st, syncer, registry, logger)
	worker := jobs.NewWorker(queue, reindex.JobName, reindex.Processor(orchestrator), jobs.WorkerOptions{
		Concurrency:     settings.Worker.Concurrency,
		LockDuration:    settings.Worker.LockDuration,
		StalledInterval: settings.Worker.StalledInterval,
		MaxStalledCount: settings.Worker.MaxStalledCount,
		PollInterval:    settings.Worker.PollInterval,
		Logger:          logger,
	})

	if backend == nil {
		logger.Warn("Search is not configured; index sync and reindex jobs are disabled")
	} else {
		logger.Info("Search backend ready", "backend", backend.Name())
	}

	return &Services{
		Store:        st,
		Backend:      backend,
		Registry:     registry,
		Syncer:       syncer,
		Outbox:       outbox,
		Mutator:      intercept.Wrap(st, outbox),
		Queue:        queue,
		Orchestrator: orchestrator,
		Worker:       worker,
		logger:       logger,
	}, nil
}

// Start launches the outbox workers and the reindex job worker.
func (s *Services) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopWorker != nil {
		return
	}

	s.Outbox.Start(ctx)

	workerCtx, cancel := context.WithCancel(ctx)
	s.stopWorker = cancel
	s.workerDone = make(chan struct{})
	go func() {
		defer close(s.workerDone)
		if err := s.Worker.Run(workerCtx); err != nil {
			s.logger.Error("Job worker failed", "error", err)
		}
	}()
}

// Ready reports whether the store answers queries.
func (s *Services) Ready(ctx context.Context) error {
	if err := s.Store.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	return nil
}

// Close stops the workers, drains the outbox and releases the backend and store.
func (s *Services) Close(ctx context.Context) error {
	s.mu.Lock()
	stop, done := s.stopWorker, s.workerDone
	s.stopWorker = nil
	s.mu.Unlock()

	var errs []error
	if stop != nil {
		stop()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("job worker did not stop: %w", ctx.Err()))
		}
	}
	if err := s.Outbox.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("sync outbox did not drain: %w", err))
	}
	if s.Backend != nil {
		if err := s.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close search backend: %w", err))
		}
	}
	if err := s.Store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close store: %w", err))
	}
	return errors.Join(errs...)
}

// shutdownTimeout bounds Close when called from cleanup hooks.
const shutdownTimeout = 30 * time.Second

func (s *Services) closeWithTimeout() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Close(ctx); err != nil {
		s.logger.Error("Failed to shut down services", "error", err)
	}
}
