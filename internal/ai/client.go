package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// ErrProviderUnavailable wraps any failure talking to an embedding or generation provider.
var ErrProviderUnavailable = errors.New("provider unavailable")

// Embedder maps text to fixed-length vectors.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dim() int
}

// Generator produces free text from a prompt. A nil Generator means none is configured.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI   Provider = "openai"
	ProviderVertexAI Provider = "vertexai"
	ProviderStub     Provider = "stub"
	ProviderNone     Provider = "none"
)

// ParseProvider normalises a configured provider name.
func ParseProvider(s string) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "openai":
		return ProviderOpenAI, nil
	case "vertexai", "google", "gemini":
		return ProviderVertexAI, nil
	case "stub":
		return ProviderStub, nil
	case "", "none":
		return ProviderNone, nil
	default:
		return "", fmt.Errorf("unsupported provider: %s", s)
	}
}

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	APIKey        string
	BaseURL       string
	EmbedModel    string
	GenerateModel string
	Dim           int
	ProjectID     string
	Provider      Provider
	Location      string
}

// NewEmbedder creates the embedding provider named by config.
func NewEmbedder(ctx context.Context, config *ClientConfig) (Embedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	default:
		return nil, errors.New("unsupported embedding provider: " + string(config.Provider))
	}
}

// NewGenerator creates the generation provider named by config. ProviderNone
// yields a nil Generator and no error.
func NewGenerator(ctx context.Context, config *ClientConfig) (Generator, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}

	switch config.Provider {
	case ProviderNone:
		return nil, nil
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	default:
		return nil, errors.New("unsupported generation provider: " + string(config.Provider))
	}
}

// DefaultStubDim matches the small BGE models the stub stands in for.
const DefaultStubDim = 384

// StubClient is a deterministic, offline embedder. It hashes word tokens into a
// fixed number of buckets, so texts sharing words land close together.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = DefaultStubDim
	}
	return &StubClient{dim: dim}
}

// Embed implements the embedding functionality
func (s *StubClient) Embed(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, s.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		sign := float32(1)
		if sum&(1<<63) != 0 {
			sign = -1
		}
		v[sum%uint64(s.dim)] += sign
	}
	return normalize(v), nil
}

func (s *StubClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := s.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}
