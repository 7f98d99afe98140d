// Package index holds the in-memory vector index that queries read from.
//
// Each build produces a complete, immutable snapshot which is persisted and
// then installed with a single atomic pointer swap. Readers load the pointer
// once per search, so a query running during a rebuild sees either the old
// snapshot or the new one and never a mix of the two.
package index

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/seanblong/newsrag/internal/ai"
	"github.com/seanblong/newsrag/internal/store"
	"github.com/seanblong/newsrag/pkg/models"
)

var (
	// ErrEmptyCorpus is returned by Build when there is nothing to index.
	ErrEmptyCorpus = errors.New("cannot build index from an empty corpus")
	// ErrDimensionMismatch is returned when a vector does not match the index dimension.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

const (
	DefaultBatchSize = 32
	DefaultWorkers   = 4
)

type Index struct {
	embedder  ai.Embedder
	store     store.IndexStore
	batchSize int
	workers   int

	current atomic.Pointer[models.IndexSnapshot]
}

type Option func(*Index)

// WithStore makes Build persist every new snapshot before installing it.
func WithStore(s store.IndexStore) Option {
	return func(ix *Index) { ix.store = s }
}

func WithBatchSize(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// WithWorkers bounds the number of embedding batches in flight.
func WithWorkers(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.workers = n
		}
	}
}

func New(embedder ai.Embedder, opts ...Option) *Index {
	ix := &Index{
		embedder:  embedder,
		batchSize: DefaultBatchSize,
		workers:   DefaultWorkers,
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Built reports whether a snapshot is installed.
func (ix *Index) Built() bool {
	return ix.current.Load() != nil
}

// Stats describes the installed snapshot. It is zero before the first build.
func (ix *Index) Stats() models.IndexStats {
	snap := ix.current.Load()
	if snap == nil {
		return models.IndexStats{}
	}
	return models.IndexStats{Articles: snap.Articles, Chunks: len(snap.Entries)}
}

// Build embeds every chunk and replaces the current snapshot. On any error the
// previous snapshot stays installed and nothing is written to the store.
func (ix *Index) Build(ctx context.Context, chunks []models.Chunk) (models.IndexStats, error) {
	if len(chunks) == 0 {
		return models.IndexStats{}, ErrEmptyCorpus
	}
	start := time.Now()

	vectors, err := ix.embedAll(ctx, chunks)
	if err != nil {
		return models.IndexStats{}, err
	}

	dim := ix.embedder.Dim()
	if dim <= 0 {
		dim = len(vectors[0])
	}
	snap := &models.IndexSnapshot{
		Dim:      dim,
		Articles: countArticles(chunks),
		BuiltAt:  time.Now().UTC(),
		Entries:  make([]models.IndexEntry, len(chunks)),
	}
	for i, ch := range chunks {
		if len(vectors[i]) != dim {
			return models.IndexStats{}, fmt.Errorf("%w: chunk %d has %d, want %d",
				ErrDimensionMismatch, i, len(vectors[i]), dim)
		}
		snap.Entries[i] = models.IndexEntry{
			Vector:   unit(vectors[i]),
			Text:     ch.Text,
			Metadata: ch.Metadata,
		}
	}

	if ix.store != nil {
		if err := ix.store.Save(ctx, snap); err != nil {
			return models.IndexStats{}, fmt.Errorf("persist index: %w", err)
		}
	}
	ix.current.Store(snap)

	stats := models.IndexStats{Articles: snap.Articles, Chunks: len(snap.Entries)}
	log.Info().
		Int("articles", stats.Articles).
		Int("chunks", stats.Chunks).
		Int("dim", dim).
		Dur("dur", time.Since(start)).
		Msg("index built")
	return stats, nil
}

// embedAll embeds chunk texts in batches, running up to ix.workers batches at once.
func (ix *Index) embedAll(ctx context.Context, chunks []models.Chunk) ([][]float32, error) {
	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.workers)

	for lo := 0; lo < len(chunks); lo += ix.batchSize {
		hi := min(lo+ix.batchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, hi-lo)
			for _, ch := range chunks[lo:hi] {
				texts = append(texts, ch.Text)
			}
			vs, err := ix.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("embed chunks %d-%d: %w", lo, hi-1, err)
			}
			if len(vs) != len(texts) {
				return fmt.Errorf("embed chunks %d-%d: got %d vectors for %d texts", lo, hi-1, len(vs), len(texts))
			}
			copy(vectors[lo:hi], vs)
			log.Debug().Int("from", lo).Int("to", hi).Msg("embedded batch")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// Search returns up to k entries ordered by descending cosine similarity, ties
// in insertion order. It returns nothing if no snapshot is installed.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	snap := ix.current.Load()
	if snap == nil || k <= 0 || len(snap.Entries) == 0 {
		return nil, nil
	}

	qv, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(qv) != snap.Dim {
		return nil, fmt.Errorf("%w: query has %d, index has %d", ErrDimensionMismatch, len(qv), snap.Dim)
	}
	qv = unit(qv)

	type scored struct {
		i     int
		score float64
	}
	all := make([]scored, len(snap.Entries))
	for i, e := range snap.Entries {
		all[i] = scored{i: i, score: dot(qv, e.Vector)}
	}
	slices.SortStableFunc(all, func(a, b scored) int {
		return cmp.Compare(b.score, a.score)
	})

	out := make([]models.SearchResult, 0, min(k, len(all)))
	for _, s := range all[:min(k, len(all))] {
		out = append(out, models.SearchResult{Entry: snap.Entries[s.i], Score: s.score})
	}
	return out, nil
}

// Load installs the persisted snapshot, if any. A snapshot whose dimension does
// not match the embedder was built by a different model; it is ignored so that
// the next rebuild replaces it.
func (ix *Index) Load(ctx context.Context) (bool, error) {
	if ix.store == nil {
		return false, nil
	}
	snap, err := ix.store.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load index: %w", err)
	}
	if dim := ix.embedder.Dim(); dim > 0 && snap.Dim != dim {
		log.Warn().
			Int("index_dim", snap.Dim).
			Int("embedder_dim", dim).
			Msg("persisted index was built with a different embedding model, ignoring it")
		return false, nil
	}
	for i, e := range snap.Entries {
		if len(e.Vector) != snap.Dim {
			return false, fmt.Errorf("%w: entry %d", ErrDimensionMismatch, i)
		}
	}
	ix.current.Store(snap)
	log.Info().Int("chunks", len(snap.Entries)).Time("built_at", snap.BuiltAt).Msg("loaded index")
	return true, nil
}

// Persist writes the installed snapshot to the store.
func (ix *Index) Persist(ctx context.Context) error {
	snap := ix.current.Load()
	if snap == nil {
		return errors.New("no index to persist")
	}
	if ix.store == nil {
		return errors.New("no index store configured")
	}
	return ix.store.Save(ctx, snap)
}

// countArticles counts distinct parent articles among chunks.
func countArticles(chunks []models.Chunk) int {
	seen := make(map[int]struct{})
	for _, ch := range chunks {
		seen[ch.Article] = struct{}{}
	}
	return len(seen)
}

// unit returns a normalized copy of v. The zero vector is returned as is.
func unit(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	copy(out, v)
	if sum == 0 {
		return out
	}
	n := math.Sqrt(sum)
	for i := range out {
		out[i] = float32(float64(out[i]) / n)
	}
	return out
}

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
