package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"google.golang.org/genai"
)

// MockGenaiModels implements genaiModels for testing.
type MockGenaiModels struct {
	EmbedContentFunc    func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
	GenerateContentFunc func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

func (m *MockGenaiModels) EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return m.EmbedContentFunc(ctx, model, contents, config)
}

func (m *MockGenaiModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return m.GenerateContentFunc(ctx, model, contents, config)
}

// echoEmbeddings returns one vector of length dim per input content.
func echoEmbeddings(dim int) func(context.Context, string, []*genai.Content, *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	return func(_ context.Context, _ string, contents []*genai.Content, _ *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
		res := &genai.EmbedContentResponse{}
		for range contents {
			res.Embeddings = append(res.Embeddings, &genai.ContentEmbedding{Values: make([]float32, dim)})
		}
		return res, nil
	}
}

func TestNewVertexAIClient_NilConfig(t *testing.T) {
	_, err := NewVertexAIClient(context.Background(), nil)
	if err == nil {
		t.Fatal("Expected error for nil config")
	}
	if !strings.Contains(err.Error(), "config cannot be nil") {
		t.Errorf("Expected 'config cannot be nil' error, got: %v", err)
	}
}

// Test configuration defaults applied by NewVertexAIClient
func TestApplyVertexDefaults(t *testing.T) {
	tests := []struct {
		name                  string
		config                ClientConfig
		expectedEmbedModel    string
		expectedGenerateModel string
		expectedDim           int
		expectedLocation      string
	}{
		{
			name:                  "all defaults",
			config:                ClientConfig{},
			expectedEmbedModel:    "text-embedding-005",
			expectedGenerateModel: "gemini-2.0-flash",
			expectedDim:           768,
			expectedLocation:      "us-central1",
		},
		{
			name: "with all models specified",
			config: ClientConfig{
				APIKey:        "test-api-key",
				EmbedModel:    "custom-embed-model",
				GenerateModel: "custom-generate-model",
				Dim:           1024,
			},
			expectedEmbedModel:    "custom-embed-model",
			expectedGenerateModel: "custom-generate-model",
			expectedDim:           1024,
		},
		{
			name: "with empty embed model",
			config: ClientConfig{
				APIKey:        "test-api-key",
				GenerateModel: "custom-generate",
				Dim:           512,
			},
			expectedEmbedModel:    "text-embedding-005",
			expectedGenerateModel: "custom-generate",
			expectedDim:           512,
		},
		{
			name: "with empty generate model",
			config: ClientConfig{
				APIKey:     "test-api-key",
				EmbedModel: "custom-embed",
				Dim:        256,
			},
			expectedEmbedModel:    "custom-embed",
			expectedGenerateModel: "gemini-2.0-flash",
			expectedDim:           256,
		},
		{
			name:                  "api key leaves location unset",
			config:                ClientConfig{APIKey: "test-api-key"},
			expectedEmbedModel:    "text-embedding-005",
			expectedGenerateModel: "gemini-2.0-flash",
			expectedDim:           768,
		},
		{
			name:                  "whitespace api key gets default location",
			config:                ClientConfig{APIKey: "   "},
			expectedEmbedModel:    "text-embedding-005",
			expectedGenerateModel: "gemini-2.0-flash",
			expectedDim:           768,
			expectedLocation:      "us-central1",
		},
		{
			name:                  "explicit location kept",
			config:                ClientConfig{Location: "europe-west4"},
			expectedEmbedModel:    "text-embedding-005",
			expectedGenerateModel: "gemini-2.0-flash",
			expectedDim:           768,
			expectedLocation:      "europe-west4",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.config
			applyVertexDefaults(&cfg)

			if cfg.EmbedModel != tt.expectedEmbedModel {
				t.Errorf("Expected EmbedModel '%s', got '%s'", tt.expectedEmbedModel, cfg.EmbedModel)
			}
			if cfg.GenerateModel != tt.expectedGenerateModel {
				t.Errorf("Expected GenerateModel '%s', got '%s'", tt.expectedGenerateModel, cfg.GenerateModel)
			}
			if cfg.Dim != tt.expectedDim {
				t.Errorf("Expected Dim %d, got %d", tt.expectedDim, cfg.Dim)
			}
			if cfg.Location != tt.expectedLocation {
				t.Errorf("Expected Location '%s', got '%s'", tt.expectedLocation, cfg.Location)
			}
		})
	}
}

// Test Dim method with various configurations
func TestVertexAIClient_Dim(t *testing.T) {
	tests := []struct {
		name        string
		configDim   int
		expectedDim int
	}{
		{"default dimension", 768, 768},
		{"custom dimension", 1536, 1536},
		{"small dimension", 256, 256},
		{"zero dimension", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &VertexAIClient{config: &ClientConfig{Dim: tt.configDim}}
			if dim := client.Dim(); dim != tt.expectedDim {
				t.Errorf("Expected dimension %d, got %d", tt.expectedDim, dim)
			}
		})
	}
}

// Test interface compliance
func TestVertexAIClient_InterfaceCompliance(t *testing.T) {
	var _ Embedder = &VertexAIClient{}
	var _ Generator = &VertexAIClient{}
	var _ genaiModels = &genai.Models{}
}

func TestVertexAIClient_EmbedTaskTypes(t *testing.T) {
	tests := []struct {
		name     string
		dim      int
		call     func(c *VertexAIClient) error
		wantTask string
	}{
		{
			name: "query",
			dim:  256,
			call: func(c *VertexAIClient) error {
				_, err := c.Embed(context.Background(), "what happened in the election?")
				return err
			},
			wantTask: "RETRIEVAL_QUERY",
		},
		{
			name: "documents",
			dim:  768,
			call: func(c *VertexAIClient) error {
				_, err := c.EmbedBatch(context.Background(), []string{"first article", "second article"})
				return err
			},
			wantTask: "RETRIEVAL_DOCUMENT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotModel string
			var gotConfig *genai.EmbedContentConfig
			echo := echoEmbeddings(tt.dim)
			mock := &MockGenaiModels{
				EmbedContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
					gotModel, gotConfig = model, config
					return echo(ctx, model, contents, config)
				},
			}
			c := &VertexAIClient{
				config: &ClientConfig{EmbedModel: "text-embedding-005", Dim: tt.dim},
				models: mock,
			}

			if err := tt.call(c); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if gotModel != "text-embedding-005" {
				t.Errorf("Expected model text-embedding-005, got %s", gotModel)
			}
			if gotConfig == nil {
				t.Fatal("Expected an embed config")
			}
			if gotConfig.TaskType != tt.wantTask {
				t.Errorf("Expected task type %s, got %s", tt.wantTask, gotConfig.TaskType)
			}
			if gotConfig.OutputDimensionality == nil || int(*gotConfig.OutputDimensionality) != tt.dim {
				t.Errorf("Expected output dimensionality %d, got %v", tt.dim, gotConfig.OutputDimensionality)
			}
		})
	}
}

func TestVertexAIClient_EmbedConfigWithoutDim(t *testing.T) {
	c := &VertexAIClient{config: &ClientConfig{}}
	if cfg := c.embedConfig(taskRetrievalDocument); cfg.OutputDimensionality != nil {
		t.Errorf("Expected no output dimensionality, got %d", *cfg.OutputDimensionality)
	}
}

func TestVertexAIClient_EmbedBatch(t *testing.T) {
	tests := []struct {
		name      string
		texts     []string
		embed     func(context.Context, string, []*genai.Content, *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
		expectLen int
		expectErr bool
	}{
		{
			name:      "one vector per text",
			texts:     []string{"a", "b", "c"},
			embed:     echoEmbeddings(4),
			expectLen: 3,
		},
		{
			name:      "empty input skips the call",
			texts:     nil,
			embed:     nil,
			expectLen: 0,
		},
		{
			name:  "fewer vectors than texts",
			texts: []string{"a", "b"},
			embed: func(ctx context.Context, m string, c []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
				return &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{1}}}}, nil
			},
			expectErr: true,
		},
		{
			name:  "nil response",
			texts: []string{"a"},
			embed: func(ctx context.Context, m string, c []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
				return nil, nil
			},
			expectErr: true,
		},
		{
			name:  "api error",
			texts: []string{"a"},
			embed: func(ctx context.Context, m string, c []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
				return nil, errors.New("quota exceeded")
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &VertexAIClient{
				config: &ClientConfig{EmbedModel: "m", Dim: 4},
				models: &MockGenaiModels{EmbedContentFunc: tt.embed},
			}
			got, err := c.EmbedBatch(context.Background(), tt.texts)
			if tt.expectErr {
				if err == nil {
					t.Fatal("Expected error but got none")
				}
				if !errors.Is(err, ErrProviderUnavailable) {
					t.Errorf("Expected ErrProviderUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if len(got) != tt.expectLen {
				t.Errorf("Expected %d vectors, got %d", tt.expectLen, len(got))
			}
		})
	}
}

func TestVertexAIClient_Generate(t *testing.T) {
	var gotModel string
	var gotConfig *genai.GenerateContentConfig
	mock := &MockGenaiModels{
		GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
			gotModel, gotConfig = model, config
			return &genai.GenerateContentResponse{
				Candidates: []*genai.Candidate{{
					Content: &genai.Content{Parts: []*genai.Part{{Text: "The vote "}, {Text: "passed. "}}},
				}},
			}, nil
		},
	}
	c := &VertexAIClient{config: &ClientConfig{GenerateModel: "gemini-2.0-flash"}, models: mock}

	got, err := c.Generate(context.Background(), "Did the vote pass?", 500, 0.3)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if got != "The vote passed." {
		t.Errorf("Expected joined answer, got %q", got)
	}
	if gotModel != "gemini-2.0-flash" {
		t.Errorf("Expected model gemini-2.0-flash, got %s", gotModel)
	}
	if gotConfig.MaxOutputTokens != 500 {
		t.Errorf("Expected 500 max tokens, got %d", gotConfig.MaxOutputTokens)
	}
	if gotConfig.Temperature == nil || *gotConfig.Temperature != 0.3 {
		t.Errorf("Expected temperature 0.3, got %v", gotConfig.Temperature)
	}
	if gotConfig.SystemInstruction == nil || len(gotConfig.SystemInstruction.Parts) == 0 ||
		gotConfig.SystemInstruction.Parts[0].Text != systemPrompt {
		t.Error("Expected the news analyst system instruction")
	}
}

func TestVertexAIClient_GenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		resp *genai.GenerateContentResponse
		err  error
	}{
		{"api error", nil, errors.New("permission denied")},
		{"nil response", nil, nil},
		{"no candidates", &genai.GenerateContentResponse{}, nil},
		{"no parts", &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{}}}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &MockGenaiModels{
				GenerateContentFunc: func(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
					return tt.resp, tt.err
				},
			}
			c := &VertexAIClient{config: &ClientConfig{}, models: mock}
			if _, err := c.Generate(context.Background(), "q", 10, 0); !errors.Is(err, ErrProviderUnavailable) {
				t.Errorf("Expected ErrProviderUnavailable, got %v", err)
			}
		})
	}
}

func TestVertexAIClient_NilClient(t *testing.T) {
	c := &VertexAIClient{config: &ClientConfig{Dim: 8}}

	if _, err := c.Embed(context.Background(), "text"); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Embed: expected ErrProviderUnavailable, got %v", err)
	}
	if _, err := c.Generate(context.Background(), "prompt", 10, 0); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Generate: expected ErrProviderUnavailable, got %v", err)
	}
}
