package app

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/newsrag/internal/config"
	"github.com/seanblong/newsrag/internal/feeds"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

const feedXML = `<?xml version="1.0"?><rss version="2.0"><channel><title>T</title>
<item><title>Harbour reopens</title><link>https://example.com/harbour</link>
<description>%s</description></item></channel></rss>`

func newsServer(t *testing.T) *httptest.Server {
	t.Helper()
	body := fmt.Sprintf(feedXML, strings.Repeat("The harbour reopened after the storm passed. ", 5))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, feedURL string) config.Specification {
	t.Helper()
	return config.Specification{
		Provider:  "stub",
		Generator: "none",
		BatchSize: 8,
		LogLevel:  "info",
		Index: config.IndexSpecification{
			Store:        "file",
			Path:         filepath.Join(t.TempDir(), "index.gob"),
			ChunkSize:    1000,
			ChunkOverlap: 200,
		},
		Answer: config.AnswerSpecification{TopK: 5, MaxTokens: 500},
		Fetch: config.FetchSpecification{
			Feeds:            []string{feedURL},
			ItemLimit:        20,
			MinContentLength: 100,
			Timeout:          5 * time.Second,
			Backoff:          time.Millisecond,
			Concurrency:      1,
		},
	}
}

func TestNew_RebuildThenAsk(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t, newsServer(t).URL)

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	defer a.Close()

	assert.False(t, a.Index.Built())
	assert.Equal(t, cfg.Fetch.Feeds, a.Query.Sources())

	stats, err := a.Rebuild.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Articles)

	ans, err := a.Query.Ask(ctx, "When did the harbour reopen?")
	require.NoError(t, err)
	require.Len(t, ans.Citations, 1)
	assert.Equal(t, "Harbour reopens", ans.Citations[0].Title)
	assert.Contains(t, ans.Answer, "placeholder answer")

	// a second process over the same store starts with the index loaded
	b, err := New(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()
	assert.True(t, b.Index.Built())
	assert.Equal(t, stats, b.Index.Stats())
}

func TestNew_ArticleDir(t *testing.T) {
	dir := t.TempDir()
	content := strings.Repeat("Archived coverage of the regional election. ", 4)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"),
		[]byte(`{"title":"Archive","content":"`+content+`"}`), 0o644))

	cfg := testConfig(t, newsServer(t).URL)
	cfg.Fetch.ArticleDir = dir

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, ok := a.Source.(feeds.Multi)
	assert.True(t, ok)
	assert.Equal(t, []string{cfg.Fetch.Feeds[0], "file://" + dir}, a.Query.Sources())

	stats, err := a.Rebuild.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Articles)
}

func TestNew_RedisLock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfg := testConfig(t, newsServer(t).URL)
	cfg.Lock = config.LockSpecification{Backend: "redis", RedisURL: "redis://" + mr.Addr(), TTL: time.Minute}

	a, err := New(context.Background(), cfg)
	require.NoError(t, err)
	defer a.Close()

	_, err = a.Rebuild.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, mr.Keys(), "lock released after the run")
}

func TestNew_Errors(t *testing.T) {
	srv := newsServer(t)
	tests := []struct {
		name   string
		mutate func(*config.Specification)
	}{
		{"invalid config", func(c *config.Specification) { c.Index.ChunkSize = 0 }},
		{"unknown provider", func(c *config.Specification) { c.Provider = "carrier-pigeon" }},
		{"unknown generator", func(c *config.Specification) { c.Generator = "oracle" }},
		{"redis unreachable", func(c *config.Specification) {
			c.Lock = config.LockSpecification{Backend: "redis", RedisURL: "redis://127.0.0.1:1", TTL: time.Minute}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, srv.URL)
			tt.mutate(&cfg)
			_, err := New(context.Background(), cfg)
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger("WARN", &buf)
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, logger.GetLevel())

	_, err = NewLogger("loud", &buf)
	assert.Error(t, err)
}
