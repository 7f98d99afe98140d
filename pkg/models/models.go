package models

import "time"

// Article is a raw news item yielded by a document source.
type Article struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	URL       string `json:"url"`
	Published string `json:"published"`
	Source    string `json:"source"`
}

// Metadata is carried unchanged from an Article onto each of its chunks.
type Metadata struct {
	Title     string `json:"title"`
	URL       string `json:"url"`
	Published string `json:"published"`
	Source    string `json:"source"`
}

// Meta returns the article metadata without its content.
func (a Article) Meta() Metadata {
	return Metadata{Title: a.Title, URL: a.URL, Published: a.Published, Source: a.Source}
}

type Chunk struct {
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
	// Article is the ordinal of the parent article within one rebuild batch.
	Article int `json:"-"`
}

// IndexEntry is the persisted unit of the vector index.
type IndexEntry struct {
	Vector   []float32 `json:"vector"`
	Text     string    `json:"text"`
	Metadata Metadata  `json:"metadata"`
}

// IndexSnapshot is a complete, immutable index generation.
type IndexSnapshot struct {
	Dim      int          `json:"dim"`
	Articles int          `json:"articles"`
	BuiltAt  time.Time    `json:"built_at"`
	Entries  []IndexEntry `json:"entries"`
}

type IndexStats struct {
	Articles int `json:"articles"`
	Chunks   int `json:"chunks"`
}

type SearchResult struct {
	Entry IndexEntry `json:"entry"`
	Score float64    `json:"score"`
}

type Citation struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Snippet   string `json:"snippet"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source,omitempty"`
}

type Answer struct {
	Answer         string     `json:"answer"`
	Citations      []Citation `json:"citations"`
	ProcessingTime float64    `json:"processing_time"`
}

// RebuildStatus is the externally visible state of the index rebuild job.
type RebuildStatus struct {
	InProgress bool   `json:"in_progress"`
	Progress   int    `json:"progress"`
	Message    string `json:"message"`
	State      string `json:"state"`
	RunID      string `json:"run_id,omitempty"`
	Articles   *int   `json:"articles,omitempty"`
	Chunks     *int   `json:"chunks,omitempty"`
}
