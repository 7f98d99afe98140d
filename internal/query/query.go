// Package query answers questions from the current news index.
//
// Ask never fails once the question is valid: when the index is missing or a
// provider errors it returns a fixed degraded answer instead.
package query

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/seanblong/newsrag/internal/answer"
	"github.com/seanblong/newsrag/pkg/models"
)

// ErrInvalidQuestion is returned for empty or whitespace-only questions.
var ErrInvalidQuestion = errors.New("question must not be empty")

const (
	DefaultTopK = 5

	snippetChars = 200
	contextSep   = "\n\n"
)

const (
	noIndexAnswer = "I understand you're asking about '%s'. However, the news database hasn't been built yet. " +
		"Please use the 'Rebuild Index' feature in the Sources page to process the latest news articles first."
	noResultsAnswer = "I couldn't find any relevant information in the current news database. " +
		"Please try rephrasing your question or check if the index has been built."
)

// Searcher is the read side of the vector index.
type Searcher interface {
	Built() bool
	Search(ctx context.Context, query string, k int) ([]models.SearchResult, error)
}

type Service struct {
	Index   Searcher
	Synth   answer.Synthesizer
	TopK    int
	sources []string
	now     func() time.Time
}

// NewService creates a query service. sources are the feed identifiers
// reported by Sources.
func NewService(ix Searcher, synth answer.Synthesizer, topK int, sources []string) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{
		Index:   ix,
		Synth:   synth,
		TopK:    topK,
		sources: append([]string(nil), sources...),
		now:     time.Now,
	}
}

// Sources lists the configured news sources.
func (s *Service) Sources() []string {
	return append([]string{}, s.sources...)
}

// Ask answers question from the top ranked chunks of the current index.
func (s *Service) Ask(ctx context.Context, question string) (models.Answer, error) {
	q := strings.TrimSpace(question)
	if q == "" {
		return models.Answer{}, ErrInvalidQuestion
	}
	start := time.Now()
	res := s.answer(ctx, q)
	res.ProcessingTime = time.Since(start).Seconds()
	return res, nil
}

func (s *Service) answer(ctx context.Context, q string) models.Answer {
	if !s.Index.Built() {
		return s.noIndex(q)
	}

	results, err := s.Index.Search(ctx, q, s.TopK)
	if err != nil {
		log.Warn().Err(err).Str("question", q).Msg("search failed, returning degraded answer")
		return s.noIndex(q)
	}
	if len(results) == 0 {
		return models.Answer{Answer: noResultsAnswer, Citations: []models.Citation{}}
	}

	passages := make([]string, len(results))
	for i, r := range results {
		passages[i] = r.Entry.Text
	}
	text, err := s.Synth.Synthesize(ctx, q, strings.Join(passages, contextSep))
	if err != nil {
		log.Warn().Err(err).Str("question", q).Msg("answer synthesis failed, returning degraded answer")
		return s.noIndex(q)
	}

	return models.Answer{Answer: text, Citations: s.Citations(results)}
}

// noIndex is the fixed answer used when there is nothing to search.
func (s *Service) noIndex(q string) models.Answer {
	return models.Answer{
		Answer: fmt.Sprintf(noIndexAnswer, q),
		Citations: []models.Citation{{
			ID:        "1",
			Title:     "Sample News Article",
			URL:       "#",
			Snippet:   "This is a sample citation. Build the index to see real news sources.",
			Timestamp: s.now().Format(time.RFC3339),
			Source:    "Mock Source",
		}},
	}
}

// Citations numbers results from 1 in rank order.
func (s *Service) Citations(results []models.SearchResult) []models.Citation {
	out := make([]models.Citation, 0, len(results))
	for i, r := range results {
		m := r.Entry.Metadata
		out = append(out, models.Citation{
			ID:        strconv.Itoa(i + 1),
			Title:     orDefault(m.Title, "Unknown Title"),
			URL:       orDefault(m.URL, "#"),
			Snippet:   Snippet(r.Entry.Text),
			Timestamp: orDefault(m.Published, s.now().Format(time.RFC3339)),
			Source:    orDefault(m.Source, "RSS Feed"),
		})
	}
	return out
}

// Snippet returns the first 200 characters of text, with "..." appended when
// anything was cut.
func Snippet(text string) string {
	n := 0
	for i := range text {
		if n == snippetChars {
			return text[:i] + "..."
		}
		n++
	}
	return text
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
