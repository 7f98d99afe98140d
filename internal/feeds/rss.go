package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/seanblong/newsrag/pkg/models"
)

const (
	DefaultItemLimit        = 20
	DefaultMinContentLength = 100
	DefaultTimeout          = 30 * time.Second
	DefaultInterval         = time.Second

	userAgent = "newsrag/1.0 (+https://github.com/seanblong/newsrag)"
)

// RSSConfig controls fetching. Retries, Backoff and Interval make up the
// per-feed retry policy.
type RSSConfig struct {
	Feeds            []string
	ItemLimit        int
	MinContentLength int
	Timeout          time.Duration
	Retries          int
	Backoff          time.Duration
	// Interval is the minimum gap between any two requests.
	Interval    time.Duration
	Concurrency int
	HTTPClient  *http.Client
}

// RSSSource reads a fixed list of RSS or Atom feeds.
type RSSSource struct {
	cfg     RSSConfig
	client  *http.Client
	limiter *rate.Limiter
	now     func() time.Time
}

func NewRSSSource(cfg RSSConfig) *RSSSource {
	if cfg.ItemLimit <= 0 {
		cfg.ItemLimit = DefaultItemLimit
	}
	if cfg.MinContentLength < 0 {
		cfg.MinContentLength = 0
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	return &RSSSource{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		now:     time.Now,
	}
}

func (s *RSSSource) Sources() []string {
	return append([]string(nil), s.cfg.Feeds...)
}

// FetchAll reads every feed, up to Concurrency at a time. Results keep the
// configured feed order.
func (s *RSSSource) FetchAll(ctx context.Context) ([]models.Article, error) {
	if len(s.cfg.Feeds) == 0 {
		return nil, nil
	}
	perFeed := make([][]models.Article, len(s.cfg.Feeds))
	var failed atomic.Int32
	var lastErr atomic.Value

	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, feedURL := range s.cfg.Feeds {
		g.Go(func() error {
			articles, err := s.fetchWithRetry(ctx, feedURL)
			if err != nil {
				log.Error().Err(err).Str("feed", feedURL).Msg("error fetching feed, skipping")
				failed.Add(1)
				lastErr.Store(err)
				return nil
			}
			log.Info().Str("feed", feedURL).Int("articles", len(articles)).Msg("fetched feed")
			perFeed[i] = articles
			return nil
		})
	}
	_ = g.Wait()

	if int(failed.Load()) == len(s.cfg.Feeds) {
		return nil, fmt.Errorf("%w: %v", ErrAllSourcesFailed, lastErr.Load())
	}
	var out []models.Article
	for _, a := range perFeed {
		out = append(out, a...)
	}
	log.Info().Int("articles", len(out)).Int("failed_feeds", int(failed.Load())).Msg("fetched all feeds")
	return out, nil
}

// errPermanent marks a failure that retrying cannot fix.
var errPermanent = errors.New("permanent failure")

func (s *RSSSource) fetchWithRetry(ctx context.Context, feedURL string) ([]models.Article, error) {
	var err error
	for attempt := 0; attempt <= s.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := s.cfg.Backoff << (attempt - 1)
			log.Debug().Str("feed", feedURL).Int("attempt", attempt).Dur("delay", delay).Msg("retrying feed")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		var articles []models.Article
		articles, err = s.fetch(ctx, feedURL)
		if err == nil {
			return articles, nil
		}
		if errors.Is(err, errPermanent) || ctx.Err() != nil {
			break
		}
	}
	return nil, err
}

func (s *RSSSource) fetch(ctx context.Context, feedURL string) ([]models.Article, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPermanent, err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("unexpected status %s", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return nil, fmt.Errorf("%w: %v", errPermanent, err)
		}
		return nil, err
	}

	feed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse feed: %v", errPermanent, err)
	}
	return s.articles(feedURL, feed), nil
}

// articles converts up to ItemLimit feed items, dropping ones with too little text.
func (s *RSSSource) articles(feedURL string, feed *gofeed.Feed) []models.Article {
	items := feed.Items
	if len(items) > s.cfg.ItemLimit {
		items = items[:s.cfg.ItemLimit]
	}
	source := SourceName(feedURL)
	var out []models.Article
	for _, item := range items {
		if item == nil {
			continue
		}
		raw := item.Content
		if raw == "" {
			raw = item.Description
		}
		content := CleanHTML(raw)
		if utf8.RuneCountInString(content) < s.cfg.MinContentLength {
			continue
		}
		out = append(out, models.Article{
			Title:     CleanHTML(item.Title),
			Content:   content,
			URL:       item.Link,
			Published: s.published(item),
			Source:    source,
		})
	}
	return out
}

func (s *RSSSource) published(item *gofeed.Item) string {
	switch {
	case item.PublishedParsed != nil:
		return item.PublishedParsed.UTC().Format(time.RFC3339)
	case item.Published != "":
		return item.Published
	case item.UpdatedParsed != nil:
		return item.UpdatedParsed.UTC().Format(time.RFC3339)
	default:
		return s.now().UTC().Format(time.RFC3339)
	}
}
