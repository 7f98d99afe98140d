// Package feeds fetches news articles from RSS/Atom feeds and local archives.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"

	"github.com/seanblong/newsrag/internal/ai"
	"github.com/seanblong/newsrag/pkg/models"
)

// ErrAllSourcesFailed is returned when not a single source could be read.
var ErrAllSourcesFailed = fmt.Errorf("all sources failed: %w", ai.ErrProviderUnavailable)

// Source yields articles. A failing feed is skipped; FetchAll only errors when
// nothing could be fetched at all.
type Source interface {
	FetchAll(ctx context.Context) ([]models.Article, error)
	Sources() []string
}

// Multi fetches from several sources in order and concatenates the results.
type Multi []Source

func (m Multi) FetchAll(ctx context.Context) ([]models.Article, error) {
	var out []models.Article
	var errs []error
	for _, s := range m {
		articles, err := s.FetchAll(ctx)
		if err != nil {
			log.Warn().Err(err).Strs("sources", s.Sources()).Msg("source failed, skipping")
			errs = append(errs, err)
			continue
		}
		out = append(out, articles...)
	}
	if len(m) > 0 && len(errs) == len(m) {
		return nil, fmt.Errorf("%w: %w", ErrAllSourcesFailed, errors.Join(errs...))
	}
	return out, nil
}

func (m Multi) Sources() []string {
	var out []string
	for _, s := range m {
		out = append(out, s.Sources()...)
	}
	return out
}

var sourceNames = []struct {
	needle, name string
}{
	{"reuters", "Reuters"},
	{"cnn", "CNN"},
	{"bbc", "BBC"},
	{"npr", "NPR"},
	{"washingtonpost", "Washington Post"},
	{"theguardian", "The Guardian"},
	{"abcnews", "ABC News"},
	{"foxnews", "Fox News"},
}

// SourceName maps a feed URL to the publisher's display name.
func SourceName(feedURL string) string {
	host := feedURL
	if u, err := url.Parse(feedURL); err == nil && u.Host != "" {
		host = u.Host
	}
	host = strings.ToLower(host)
	for _, s := range sourceNames {
		if strings.Contains(host, s.needle) {
			return s.name
		}
	}
	return "RSS Feed"
}

// CleanHTML returns the text content of an HTML fragment with all runs of
// whitespace collapsed to single spaces.
func CleanHTML(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	text := s
	if doc, err := goquery.NewDocumentFromReader(strings.NewReader(s)); err == nil {
		doc.Find("script, style").Remove()
		text = doc.Text()
	}
	return strings.Join(strings.Fields(text), " ")
}
