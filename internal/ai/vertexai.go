package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	defaultVertexEmbedModel    = "text-embedding-005"
	defaultVertexGenerateModel = "gemini-2.0-flash"
	defaultVertexDim           = 768
	defaultVertexLocation      = "us-central1"

	// Task types tell the embedding model which side of retrieval a text is on.
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"
)

// genaiModels is the subset of *genai.Models used by VertexAIClient.
type genaiModels interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

type VertexAIClient struct {
	config *ClientConfig
	models genaiModels
}

// applyVertexDefaults fills in the models, dimension and location left empty
// in config.
func applyVertexDefaults(config *ClientConfig) {
	if config.EmbedModel == "" {
		config.EmbedModel = defaultVertexEmbedModel
	}
	if config.GenerateModel == "" {
		config.GenerateModel = defaultVertexGenerateModel
	}
	if config.Dim == 0 {
		config.Dim = defaultVertexDim
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = defaultVertexLocation
	}
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	applyVertexDefaults(config)

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		models: client.Models,
	}, nil
}

// Embed embeds a search query.
func (c *VertexAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds documents for indexing.
func (c *VertexAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return c.embed(ctx, texts, taskRetrievalDocument)
}

func (c *VertexAIClient) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if c.models == nil {
		return nil, fmt.Errorf("%w: client not initialized", ErrProviderUnavailable)
	}
	contents := make([]*genai.Content, 0, len(texts))
	for _, t := range texts {
		contents = append(contents, genai.Text(t)...)
	}

	res, err := c.models.EmbedContent(ctx, c.config.EmbedModel, contents, c.embedConfig(task))
	if err != nil {
		return nil, fmt.Errorf("%w: embedding failed: %v", ErrProviderUnavailable, err)
	}
	if res == nil || len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: no embedding returned", ErrProviderUnavailable)
	}

	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil {
			return nil, fmt.Errorf("%w: empty embedding at %d", ErrProviderUnavailable, i)
		}
		out[i] = e.Values
	}
	return out, nil
}

// embedConfig requests the configured dimension so every vector matches Dim.
func (c *VertexAIClient) embedConfig(task string) *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if c.config.Dim > 0 {
		dim := int32(c.config.Dim)
		cfg.OutputDimensionality = &dim
	}
	return cfg
}

// Generate runs a single Gemini generation with the news analyst system instruction.
func (c *VertexAIClient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	if c.models == nil {
		return "", fmt.Errorf("%w: client not initialized", ErrProviderUnavailable)
	}
	sys := genai.Text(systemPrompt)
	cfg := genai.GenerateContentConfig{
		Temperature:       &temperature,
		MaxOutputTokens:   int32(maxTokens),
		SystemInstruction: sys[0],
	}

	resp, err := c.models.GenerateContent(ctx, c.config.GenerateModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", fmt.Errorf("%w: generation failed: %v", ErrProviderUnavailable, err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%w: no answer returned", ErrProviderUnavailable)
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}
