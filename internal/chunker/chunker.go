// Package chunker splits article text into overlapping pieces sized for embedding.
//
// Splitting is recursive: the text is cut on the first separator in the cascade
// that occurs in it, and any piece still larger than the target size is cut
// again with the remaining separators. Adjacent small pieces are then merged
// back together up to the target size, carrying a tail of the previous chunk
// forward as overlap. Sizes are measured in characters (runes).
package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/seanblong/newsrag/pkg/models"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators is the cascade: paragraph, line, sentence end, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

type Chunker struct {
	size       int
	overlap    int
	separators []string
}

// Option configures the chunker.
type Option func(*Chunker)

func WithChunkSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// WithSeparators replaces the cascade. The empty separator is always appended
// so that any text can be cut down to size.
func WithSeparators(seps ...string) Option {
	return func(c *Chunker) {
		if len(seps) == 0 {
			return
		}
		c.separators = append([]string(nil), seps...)
		if c.separators[len(c.separators)-1] != "" {
			c.separators = append(c.separators, "")
		}
	}
}

func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:       DefaultChunkSize,
		overlap:    DefaultChunkOverlap,
		separators: DefaultSeparators,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Split turns one article into chunks that all carry the article's metadata.
// Empty or whitespace-only content yields no chunks.
func (c *Chunker) Split(article models.Article) []models.Chunk {
	texts := c.SplitText(article.Content)
	if len(texts) == 0 {
		return nil
	}
	meta := article.Meta()
	chunks := make([]models.Chunk, 0, len(texts))
	for _, t := range texts {
		chunks = append(chunks, models.Chunk{Text: t, Metadata: meta})
	}
	return chunks
}

// SplitAll splits every article in order, tagging each chunk with the index
// of its article in articles.
func (c *Chunker) SplitAll(articles []models.Article) []models.Chunk {
	var out []models.Chunk
	for i, a := range articles {
		for _, ch := range c.Split(a) {
			ch.Article = i
			out = append(out, ch)
		}
	}
	return out
}

// SplitText returns the trimmed chunk texts for s, dropping blank ones.
func (c *Chunker) SplitText(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, sp := range c.spans(s) {
		if t := strings.TrimSpace(s[sp.start:sp.end]); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// span is a byte range [start, end) of the original text.
type span struct {
	start, end int
}

func (c *Chunker) spans(s string) []span {
	return c.split(s, span{0, len(s)}, c.separators)
}

func (c *Chunker) split(s string, whole span, seps []string) []span {
	text := s[whole.start:whole.end]

	sep, rest := "", []string(nil)
	for i, cand := range seps {
		if cand == "" || strings.Contains(text, cand) {
			sep, rest = cand, seps[i+1:]
			break
		}
	}

	var out, good []span
	for _, p := range cut(text, whole.start, sep) {
		if runeLen(s, p) <= c.size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, c.merge(s, good)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
			continue
		}
		out = append(out, c.split(s, p, rest)...)
	}
	if len(good) > 0 {
		out = append(out, c.merge(s, good)...)
	}
	return out
}

// merge packs contiguous pieces into chunks of at most size characters,
// starting each new chunk with up to overlap characters of the previous one.
func (c *Chunker) merge(s string, pieces []span) []span {
	var out []span
	var cur []span
	total := 0
	for _, p := range pieces {
		l := runeLen(s, p)
		if total+l > c.size && len(cur) > 0 {
			out = append(out, span{cur[0].start, cur[len(cur)-1].end})
			for total > c.overlap || (total+l > c.size && total > 0) {
				total -= runeLen(s, cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		total += l
	}
	if len(cur) > 0 {
		out = append(out, span{cur[0].start, cur[len(cur)-1].end})
	}
	return out
}

// cut splits text on sep, keeping each separator at the end of the piece it
// terminates so that pieces stay contiguous. An empty sep cuts every rune.
func cut(text string, offset int, sep string) []span {
	var out []span
	if sep == "" {
		for i := 0; i < len(text); {
			_, w := utf8.DecodeRuneInString(text[i:])
			out = append(out, span{offset + i, offset + i + w})
			i += w
		}
		return out
	}
	start := 0
	for {
		i := strings.Index(text[start:], sep)
		if i < 0 {
			break
		}
		end := start + i + len(sep)
		out = append(out, span{offset + start, offset + end})
		start = end
	}
	if start < len(text) {
		out = append(out, span{offset + start, offset + len(text)})
	}
	return out
}

func runeLen(s string, p span) int {
	return utf8.RuneCountInString(s[p.start:p.end])
}
