package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type Specification struct {
	Provider      string   `yaml:"provider"`
	Generator     string   `yaml:"generator"`
	APIKey        string   `yaml:"providerApiKey" envconfig:"PROVIDER_API_KEY"`
	BaseURL       string   `yaml:"providerBaseURL" envconfig:"PROVIDER_BASE_URL"`
	EmbedModel    string   `yaml:"providerEmbedModel" envconfig:"PROVIDER_EMBEDDING_MODEL"`
	GenerateModel string   `yaml:"generatorModel" envconfig:"GENERATOR_MODEL"`
	ProjectID     string   `yaml:"providerProjectID" envconfig:"PROVIDER_PROJECT_ID"`
	Location      string   `yaml:"providerLocation" envconfig:"PROVIDER_LOCATION"`
	Dim           int      `yaml:"embedDim" envconfig:"EMBED_DIM"`
	BatchSize     int      `yaml:"embedBatchSize" envconfig:"EMBED_BATCH_SIZE"`
	EmbedWorkers  int      `yaml:"embedWorkers" envconfig:"EMBED_WORKERS"`
	LogLevel      string   `yaml:"logLevel" split_words:"true"`
	Port          int      `yaml:"port" split_words:"true"`
	CORSOrigins   []string `yaml:"corsOrigins" envconfig:"CORS_ORIGINS"`

	Index  IndexSpecification  `yaml:"index"`
	Answer AnswerSpecification `yaml:"answer"`
	Fetch  FetchSpecification  `yaml:"fetch"`
	Lock   LockSpecification   `yaml:"lock"`

	flags *pflag.FlagSet `ignored:"true"`
}

type IndexSpecification struct {
	Store        string        `yaml:"store"`
	Path         string        `yaml:"path"`
	Database     string        `yaml:"database" envconfig:"DB_URL"`
	ChunkSize    int           `yaml:"chunkSize" split_words:"true"`
	ChunkOverlap int           `yaml:"chunkOverlap" split_words:"true"`
	StatusGrace  time.Duration `yaml:"statusGrace" split_words:"true"`
}

type AnswerSpecification struct {
	TopK        int     `yaml:"topK" envconfig:"TOP_K"`
	MaxTokens   int     `yaml:"maxTokens" split_words:"true"`
	Temperature float32 `yaml:"temperature"`
}

type FetchSpecification struct {
	Feeds            []string      `yaml:"feeds"`
	ArticleDir       string        `yaml:"articleDir" split_words:"true"`
	ItemLimit        int           `yaml:"itemLimit" split_words:"true"`
	MinContentLength int           `yaml:"minContentLength" split_words:"true"`
	Timeout          time.Duration `yaml:"timeout"`
	Retries          int           `yaml:"retries"`
	Backoff          time.Duration `yaml:"backoff"`
	Interval         time.Duration `yaml:"interval"`
	Concurrency      int           `yaml:"concurrency"`
}

type LockSpecification struct {
	Backend  string        `yaml:"backend"`
	RedisURL string        `yaml:"redisURL" envconfig:"REDIS_URL"`
	TTL      time.Duration `yaml:"ttl"`
}

const envPrefix = "NEWSRAG"

// DefaultFeeds are the news feeds ingested when none are configured.
var DefaultFeeds = []string{
	"https://feeds.reuters.com/reuters/topNews",
	"https://rss.cnn.com/rss/edition.rss",
	"https://feeds.bbci.co.uk/news/rss.xml",
	"https://feeds.npr.org/1001/rss.xml",
	"https://feeds.washingtonpost.com/rss/world",
	"https://www.theguardian.com/world/rss",
	"https://feeds.abcnews.go.com/abcnews/topstories",
	"https://feeds.foxnews.com/foxnews/latest",
}

func (s *Specification) Usage() {
	fmt.Fprint(os.Stderr, s.flags.FlagUsages())
}

// Load => defaults < YAML < env < flags.
// configPath may be ""; if so we auto-discover.
func Load(configPath string, fs *pflag.FlagSet) (Specification, error) {
	var cfg Specification

	// set defaults (lowest precedence)
	setDefaults(&cfg)
	bindFlags(fs, &cfg)

	// config file
	path := configPath
	if path == "" {
		if v := os.Getenv(envPrefix + "_CONFIG"); v != "" {
			path = v
		} else {
			for _, cand := range []string{
				"config/newsrag.yaml",
				"config/config.yaml",
				"./newsrag.yaml",
				"./config.yaml",
			} {
				if fileExists(cand) {
					path = cand
					break
				}
			}
		}
	}

	if path != "" {
		if !fileExists(path) {
			return Specification{}, fmt.Errorf("config file not found: %s", path)
		}
		if err := loadYAML(path, &cfg); err != nil {
			return Specification{}, fmt.Errorf("load yaml %s: %w", path, err)
		}
	}

	// env overrides config file
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Specification{}, fmt.Errorf("env override: %w", err)
	}

	// flags override everything
	if err := fs.Parse(os.Args[1:]); err != nil {
		return Specification{}, err
	}
	applyChangedFlags(fs, &cfg)

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
	}
	if err := cfg.Validate(); err != nil {
		return Specification{}, err
	}
	return cfg, nil
}

// Validate rejects combinations the rest of the system cannot run with.
func (s *Specification) Validate() error {
	if s.Index.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", s.Index.ChunkSize)
	}
	if s.Index.ChunkOverlap < 0 || s.Index.ChunkOverlap >= s.Index.ChunkSize {
		return fmt.Errorf("chunk overlap %d must be in [0, %d)", s.Index.ChunkOverlap, s.Index.ChunkSize)
	}
	if s.Answer.TopK <= 0 {
		return fmt.Errorf("topK must be positive, got %d", s.Answer.TopK)
	}
	switch strings.ToLower(s.Index.Store) {
	case "file", "sqlite":
		if strings.TrimSpace(s.Index.Path) == "" {
			return fmt.Errorf("index path is required for %s store", s.Index.Store)
		}
	case "postgres":
		if strings.TrimSpace(s.Index.Database) == "" {
			return fmt.Errorf("NEWSRAG_INDEX_DB_URL is required for postgres store (env/file/flag)")
		}
	default:
		return fmt.Errorf("unsupported index store: %s", s.Index.Store)
	}
	switch strings.ToLower(s.Lock.Backend) {
	case "", "none":
	case "redis":
		if strings.TrimSpace(s.Lock.RedisURL) == "" {
			return fmt.Errorf("redis lock requires a redis URL")
		}
	default:
		return fmt.Errorf("unsupported lock backend: %s", s.Lock.Backend)
	}
	return nil
}

// ---------- helpers ----------

func loadYAML(path string, into any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(b, into)
}

func fileExists(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && !fi.IsDir()
}

func bindFlags(fs *pflag.FlagSet, c *Specification) {
	fs.String("config", "", "Path to config file")

	// If --config is provided on the command line, capture it now so
	// config discovery (which runs before flags.Parse) can use it.
	for i, a := range os.Args {
		if a == "--config" {
			if i+1 < len(os.Args) && !strings.HasPrefix(os.Args[i+1], "-") {
				_ = os.Setenv(envPrefix+"_CONFIG", os.Args[i+1])
			}
		} else if strings.HasPrefix(a, "--config=") {
			parts := strings.SplitN(a, "=", 2)
			if len(parts) == 2 {
				_ = os.Setenv(envPrefix+"_CONFIG", parts[1])
			}
		}
	}

	fs.String("provider", c.Provider, "Embedding provider (stub, openai, google)")
	fs.String("generator", c.Generator, "Answer generation provider (none, openai, google)")
	fs.String("provider-api-key", c.APIKey, "Provider API key")
	fs.String("provider-base-url", c.BaseURL, "OpenAI-compatible API base URL")
	fs.String("provider-embedding-model", c.EmbedModel, "Provider embedding model")
	fs.String("generator-model", c.GenerateModel, "Generation model")
	fs.String("provider-project-id", c.ProjectID, "Provider project ID")
	fs.String("provider-location", c.Location, "Provider location/region")

	fs.Int("embed-dim", c.Dim, "Embedding dimensionality (0 = provider default)")
	fs.Int("embed-batch-size", c.BatchSize, "Texts per embedding request")
	fs.Int("embed-workers", c.EmbedWorkers, "Concurrent embedding requests during a rebuild")

	fs.String("index-store", c.Index.Store, "Index storage backend (file|sqlite|postgres)")
	fs.String("index-path", c.Index.Path, "Index file path for file and sqlite stores")
	fs.String("db-url", c.Index.Database, "Database URL (DSN) for the postgres store")
	fs.Int("chunk-size", c.Index.ChunkSize, "Maximum chunk size in characters")
	fs.Int("chunk-overlap", c.Index.ChunkOverlap, "Overlap between consecutive chunks in characters")
	fs.Duration("status-grace", c.Index.StatusGrace, "How long a finished rebuild stays visible")

	fs.Int("top-k", c.Answer.TopK, "Passages retrieved per question")
	fs.Int("max-tokens", c.Answer.MaxTokens, "Maximum generated answer tokens")
	fs.Float32("temperature", c.Answer.Temperature, "Generation temperature")

	fs.StringSlice("feeds", c.Fetch.Feeds, "RSS/Atom feed URLs")
	fs.String("article-dir", c.Fetch.ArticleDir, "Optional directory of JSON article files")
	fs.Int("feed-item-limit", c.Fetch.ItemLimit, "Maximum entries taken from each feed")
	fs.Int("min-content-length", c.Fetch.MinContentLength, "Skip entries with less cleaned text than this")
	fs.Duration("fetch-timeout", c.Fetch.Timeout, "Per-request feed fetch timeout")
	fs.Int("fetch-retries", c.Fetch.Retries, "Retries per feed after the first attempt")
	fs.Duration("fetch-backoff", c.Fetch.Backoff, "Initial backoff between feed retries")
	fs.Duration("fetch-interval", c.Fetch.Interval, "Minimum interval between feed requests")
	fs.Int("fetch-concurrency", c.Fetch.Concurrency, "Feeds fetched in parallel")

	fs.String("lock-backend", c.Lock.Backend, "Rebuild lock backend (none|redis)")
	fs.String("redis-url", c.Lock.RedisURL, "Redis URL for the rebuild lock")
	fs.Duration("lock-ttl", c.Lock.TTL, "Rebuild lock expiry")

	fs.StringSlice("cors-origins", c.CORSOrigins, "Allowed CORS origins")
	fs.String("log-level", c.LogLevel, "Log level (debug|info|warn|error)")
	fs.Int("port", c.Port, "API server port")

	// Used later for usage/help
	// create a shallow copy of fs (so Usage can be called safely without mutating caller)
	copied := pflag.NewFlagSet("temp", pflag.ContinueOnError)
	*copied = *fs
	c.flags = copied
}

func applyChangedFlags(fs *pflag.FlagSet, c *Specification) {
	setStr := func(name string, dst *string) {
		if fs.Changed(name) {
			v, _ := fs.GetString(name)
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if fs.Changed(name) {
			v, _ := fs.GetInt(name)
			*dst = v
		}
	}
	setDur := func(name string, dst *time.Duration) {
		if fs.Changed(name) {
			v, _ := fs.GetDuration(name)
			*dst = v
		}
	}
	setSlice := func(name string, dst *[]string) {
		if fs.Changed(name) {
			v, _ := fs.GetStringSlice(name)
			*dst = v
		}
	}

	// (We ignore --config here; it's for discovery.)
	setStr("provider", &c.Provider)
	setStr("generator", &c.Generator)
	setStr("provider-api-key", &c.APIKey)
	setStr("provider-base-url", &c.BaseURL)
	setStr("provider-embedding-model", &c.EmbedModel)
	setStr("generator-model", &c.GenerateModel)
	setStr("provider-project-id", &c.ProjectID)
	setStr("provider-location", &c.Location)

	setInt("embed-dim", &c.Dim)
	setInt("embed-batch-size", &c.BatchSize)
	setInt("embed-workers", &c.EmbedWorkers)

	setStr("index-store", &c.Index.Store)
	setStr("index-path", &c.Index.Path)
	setStr("db-url", &c.Index.Database)
	setInt("chunk-size", &c.Index.ChunkSize)
	setInt("chunk-overlap", &c.Index.ChunkOverlap)
	setDur("status-grace", &c.Index.StatusGrace)

	setInt("top-k", &c.Answer.TopK)
	setInt("max-tokens", &c.Answer.MaxTokens)
	if fs.Changed("temperature") {
		v, _ := fs.GetFloat32("temperature")
		c.Answer.Temperature = v
	}

	setSlice("feeds", &c.Fetch.Feeds)
	setStr("article-dir", &c.Fetch.ArticleDir)
	setInt("feed-item-limit", &c.Fetch.ItemLimit)
	setInt("min-content-length", &c.Fetch.MinContentLength)
	setDur("fetch-timeout", &c.Fetch.Timeout)
	setInt("fetch-retries", &c.Fetch.Retries)
	setDur("fetch-backoff", &c.Fetch.Backoff)
	setDur("fetch-interval", &c.Fetch.Interval)
	setInt("fetch-concurrency", &c.Fetch.Concurrency)

	setStr("lock-backend", &c.Lock.Backend)
	setStr("redis-url", &c.Lock.RedisURL)
	setDur("lock-ttl", &c.Lock.TTL)

	setSlice("cors-origins", &c.CORSOrigins)
	setStr("log-level", &c.LogLevel)
	setInt("port", &c.Port)
}

func setDefaults(c *Specification) {
	c.LogLevel = "info"
	c.Provider = "stub"
	c.Generator = "none"
	c.Location = "us-central1"
	c.Dim = 0
	c.BatchSize = 32
	c.EmbedWorkers = 4
	c.Port = 8000
	c.CORSOrigins = []string{"http://localhost:3000", "http://127.0.0.1:3000"}

	c.Index.Store = "file"
	c.Index.Path = "data/news_index.gob"
	c.Index.ChunkSize = 1000
	c.Index.ChunkOverlap = 200
	c.Index.StatusGrace = 5 * time.Second

	c.Answer.TopK = 5
	c.Answer.MaxTokens = 500
	c.Answer.Temperature = 0.3

	c.Fetch.Feeds = append([]string(nil), DefaultFeeds...)
	c.Fetch.ItemLimit = 20
	c.Fetch.MinContentLength = 100
	c.Fetch.Timeout = 30 * time.Second
	c.Fetch.Retries = 2
	c.Fetch.Backoff = 500 * time.Millisecond
	c.Fetch.Interval = time.Second
	c.Fetch.Concurrency = 4

	c.Lock.Backend = "none"
	c.Lock.TTL = 30 * time.Minute
}
