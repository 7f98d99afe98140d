// Package app builds the shared object graph used by both binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/newsrag/internal/ai"
	"github.com/seanblong/newsrag/internal/answer"
	"github.com/seanblong/newsrag/internal/chunker"
	"github.com/seanblong/newsrag/internal/config"
	"github.com/seanblong/newsrag/internal/feeds"
	"github.com/seanblong/newsrag/internal/index"
	"github.com/seanblong/newsrag/internal/lock"
	"github.com/seanblong/newsrag/internal/query"
	"github.com/seanblong/newsrag/internal/rebuild"
	"github.com/seanblong/newsrag/internal/store"
)

type App struct {
	Config  config.Specification
	Index   *index.Index
	Source  feeds.Source
	Query   *query.Service
	Rebuild *rebuild.Coordinator

	store store.IndexStore
	redis *redis.Client
}

// NewLogger returns a timestamped logger at level and installs it as the
// global logger used by library packages.
func NewLogger(level string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Logger{}, fmt.Errorf("invalid log level '%s': %w", level, err)
	}
	if w == nil {
		w = os.Stdout
	}
	logger := zerolog.New(w).Level(lvl).With().Timestamp().Logger()
	log.Logger = logger
	return logger, nil
}

// ClientConfig maps configuration onto an AI client config for provider.
func ClientConfig(cfg config.Specification, provider ai.Provider) *ai.ClientConfig {
	return &ai.ClientConfig{
		APIKey:        cfg.APIKey,
		BaseURL:       cfg.BaseURL,
		EmbedModel:    cfg.EmbedModel,
		GenerateModel: cfg.GenerateModel,
		Dim:           cfg.Dim,
		ProjectID:     cfg.ProjectID,
		Location:      cfg.Location,
		Provider:      provider,
	}
}

// New wires every component from cfg and loads any persisted index.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{Config: cfg}

	embedProvider, err := ai.ParseProvider(cfg.Provider)
	if err != nil {
		return nil, err
	}
	embedder, err := ai.NewEmbedder(ctx, ClientConfig(cfg, embedProvider))
	if err != nil {
		return nil, fmt.Errorf("embedding provider: %w", err)
	}
	genProvider, err := ai.ParseProvider(cfg.Generator)
	if err != nil {
		return nil, err
	}
	generator, err := ai.NewGenerator(ctx, ClientConfig(cfg, genProvider))
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	log.Info().
		Str("provider", string(embedProvider)).
		Str("generator", string(genProvider)).
		Int("embedding_dim", embedder.Dim()).
		Msg("AI clients initialized")

	kind := strings.ToLower(cfg.Index.Store)
	location := cfg.Index.Path
	if kind == store.KindPostgres {
		location = cfg.Index.Database
	}
	a.store, err = store.Open(ctx, kind, location)
	if err != nil {
		return nil, fmt.Errorf("open index store: %w", err)
	}

	a.Index = index.New(embedder,
		index.WithStore(a.store),
		index.WithBatchSize(cfg.BatchSize),
		index.WithWorkers(cfg.EmbedWorkers),
	)
	if ok, err := a.Index.Load(ctx); err != nil {
		log.Warn().Err(err).Msg("could not load persisted index, starting without one")
	} else if !ok {
		log.Info().Msg("no persisted index, rebuild required")
	}

	a.Source = newSource(cfg)

	opts := []rebuild.Option{rebuild.WithGrace(cfg.Index.StatusGrace)}
	if strings.EqualFold(cfg.Lock.Backend, "redis") {
		a.redis, err = lock.Dial(ctx, cfg.Lock.RedisURL)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		opts = append(opts, rebuild.WithLocker(lock.NewRedisLock(a.redis, "rebuild", cfg.Lock.TTL)))
	}
	ch := chunker.New(chunker.WithChunkSize(cfg.Index.ChunkSize), chunker.WithOverlap(cfg.Index.ChunkOverlap))
	a.Rebuild = rebuild.New(a.Source, ch, a.Index, opts...)

	synth := answer.New(generator, cfg.Answer.MaxTokens, cfg.Answer.Temperature)
	a.Query = query.NewService(a.Index, synth, cfg.Answer.TopK, a.Source.Sources())
	return a, nil
}

func newSource(cfg config.Specification) feeds.Source {
	rss := feeds.NewRSSSource(feeds.RSSConfig{
		Feeds:            cfg.Fetch.Feeds,
		ItemLimit:        cfg.Fetch.ItemLimit,
		MinContentLength: cfg.Fetch.MinContentLength,
		Timeout:          cfg.Fetch.Timeout,
		Retries:          cfg.Fetch.Retries,
		Backoff:          cfg.Fetch.Backoff,
		Interval:         cfg.Fetch.Interval,
		Concurrency:      cfg.Fetch.Concurrency,
	})
	if cfg.Fetch.ArticleDir == "" {
		return rss
	}
	return feeds.Multi{rss, feeds.NewDirSource(cfg.Fetch.ArticleDir, cfg.Fetch.MinContentLength)}
}

// Close releases the index store and the Redis connection.
func (a *App) Close() error {
	var errs []error
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	return errors.Join(errs...)
}
