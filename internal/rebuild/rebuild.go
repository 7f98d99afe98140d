// Package rebuild drives the fetch, chunk, embed and index pipeline as a
// single-flight background job and publishes its progress.
//
// States move IDLE -> FETCHING -> EMBEDDING_INDEXING -> DONE -> IDLE. On any
// error the run passes through FAILED straight back to IDLE, keeping the
// failure message so pollers can still read it. Status is held
// behind an atomic pointer so readers never wait on a running rebuild; all
// writes go through the coordinator's mutex.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/newsrag/pkg/models"
)

// ErrAlreadyInProgress is returned when a rebuild is requested while one is running.
var ErrAlreadyInProgress = errors.New("index rebuild already in progress")

const DefaultGrace = 5 * time.Second

type State string

const (
	StateIdle     State = "IDLE"
	StateFetching State = "FETCHING"
	StateIndexing State = "EMBEDDING_INDEXING"
	StateDone     State = "DONE"
)

// Source yields the articles to index.
type Source interface {
	FetchAll(ctx context.Context) ([]models.Article, error)
}

// Splitter turns articles into chunks.
type Splitter interface {
	SplitAll(articles []models.Article) []models.Chunk
}

// Builder replaces the index contents.
type Builder interface {
	Build(ctx context.Context, chunks []models.Chunk) (models.IndexStats, error)
}

// Locker extends single-flight across processes.
type Locker interface {
	Acquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
	Extend(ctx context.Context) error
}

type Coordinator struct {
	source  Source
	chunker Splitter
	index   Builder
	locker  Locker
	grace   time.Duration
	spawn   func(func())

	mu     sync.Mutex
	status atomic.Pointer[models.RebuildStatus]
}

type Option func(*Coordinator)

// WithLocker guards every run with l in addition to the in-process check.
func WithLocker(l Locker) Option {
	return func(c *Coordinator) { c.locker = l }
}

// WithGrace sets how long a finished run stays visible before the status resets.
func WithGrace(d time.Duration) Option {
	return func(c *Coordinator) { c.grace = d }
}

// WithScheduler replaces the function used to start background runs.
func WithScheduler(spawn func(func())) Option {
	return func(c *Coordinator) { c.spawn = spawn }
}

func New(source Source, chunker Splitter, index Builder, opts ...Option) *Coordinator {
	c := &Coordinator{
		source:  source,
		chunker: chunker,
		index:   index,
		grace:   DefaultGrace,
		spawn:   func(f func()) { go f() },
	}
	for _, opt := range opts {
		opt(c)
	}
	c.status.Store(&models.RebuildStatus{State: string(StateIdle), Message: "Index not rebuilt yet"})
	return c
}

// Status returns a snapshot of the current rebuild status.
func (c *Coordinator) Status() models.RebuildStatus {
	return *c.status.Load()
}

// Start claims the coordinator and runs the rebuild in the background. The run
// outlives ctx; its outcome is only reported through Status.
func (c *Coordinator) Start(ctx context.Context) (string, error) {
	runID, err := c.claim(ctx)
	if err != nil {
		return "", err
	}
	runCtx := context.WithoutCancel(ctx)
	c.spawn(func() {
		_, _ = c.execute(runCtx, runID)
	})
	return runID, nil
}

// Run claims the coordinator and rebuilds synchronously.
func (c *Coordinator) Run(ctx context.Context) (models.IndexStats, error) {
	runID, err := c.claim(ctx)
	if err != nil {
		return models.IndexStats{}, err
	}
	return c.execute(ctx, runID)
}

// claim performs the IDLE -> FETCHING transition, or fails if a run is active.
func (c *Coordinator) claim(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status.Load().InProgress {
		return "", ErrAlreadyInProgress
	}
	if c.locker != nil {
		ok, err := c.locker.Acquire(ctx)
		if err != nil {
			return "", fmt.Errorf("acquire rebuild lock: %w", err)
		}
		if !ok {
			return "", ErrAlreadyInProgress
		}
	}

	runID := uuid.NewString()
	c.status.Store(&models.RebuildStatus{
		InProgress: true,
		Progress:   0,
		Message:    "Starting index rebuild...",
		State:      string(StateFetching),
		RunID:      runID,
	})
	return runID, nil
}

func (c *Coordinator) execute(ctx context.Context, runID string) (models.IndexStats, error) {
	logger := log.With().Str("run_id", runID).Logger()
	start := time.Now()
	if c.locker != nil {
		defer func() {
			if err := c.locker.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn().Err(err).Msg("failed to release rebuild lock")
			}
		}()
	}

	c.update(runID, func(s *models.RebuildStatus) {
		s.Progress = 10
		s.Message = "Fetching RSS feeds..."
	})
	logger.Info().Msg("index rebuild started")

	articles, err := c.source.FetchAll(ctx)
	if err != nil {
		return models.IndexStats{}, c.fail(runID, fmt.Errorf("fetch articles: %w", err))
	}
	logger.Info().Int("articles", len(articles)).Msg("fetched articles")

	n := len(articles)
	c.update(runID, func(s *models.RebuildStatus) {
		s.State = string(StateIndexing)
		s.Progress = 40
		s.Message = fmt.Sprintf("Processing %d articles...", n)
		s.Articles = &n
	})
	if c.locker != nil {
		if err := c.locker.Extend(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to extend rebuild lock")
		}
	}

	chunks := c.chunker.SplitAll(articles)
	stats, err := c.index.Build(ctx, chunks)
	if err != nil {
		return models.IndexStats{}, c.fail(runID, err)
	}
	c.update(runID, func(s *models.RebuildStatus) {
		s.Progress = 90
		s.Message = fmt.Sprintf("Indexed %d chunks", stats.Chunks)
	})

	chunkCount := stats.Chunks
	c.update(runID, func(s *models.RebuildStatus) {
		s.State = string(StateDone)
		s.Progress = 100
		s.Message = "Rebuild completed successfully"
		s.Chunks = &chunkCount
	})
	logger.Info().
		Int("articles", n).
		Int("chunks", chunkCount).
		Dur("dur", time.Since(start)).
		Msg("index rebuild completed")

	if c.grace > 0 {
		time.AfterFunc(c.grace, func() { c.reset(runID) })
	} else {
		c.reset(runID)
	}
	return stats, nil
}

// update applies fn to a copy of the status of run runID and publishes it.
// Progress never moves backwards.
func (c *Coordinator) update(runID string, fn func(*models.RebuildStatus)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.status.Load()
	if cur.RunID != runID {
		return
	}
	next := *cur
	fn(&next)
	next.Progress = min(max(next.Progress, cur.Progress), 100)
	c.status.Store(&next)
}

// fail records err and returns to IDLE immediately.
func (c *Coordinator) fail(runID string, err error) error {
	log.Error().Err(err).Str("run_id", runID).Msg("index rebuild failed")
	c.update(runID, func(s *models.RebuildStatus) {
		s.InProgress = false
		s.State = string(StateIdle)
		s.Message = "Rebuild failed: " + err.Error()
	})
	return err
}

// reset ends the grace window of a completed run.
func (c *Coordinator) reset(runID string) {
	c.update(runID, func(s *models.RebuildStatus) {
		s.InProgress = false
		s.State = string(StateIdle)
	})
}
