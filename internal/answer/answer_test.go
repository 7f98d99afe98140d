package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seanblong/newsrag/internal/ai"
)

// MockGenerator implements ai.Generator for testing.
type MockGenerator struct {
	GenerateFunc func(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

func (m *MockGenerator) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	return m.GenerateFunc(ctx, prompt, maxTokens, temperature)
}

func TestNew_SelectsVariant(t *testing.T) {
	assert.IsType(t, Fallback{}, New(nil, 500, 0.3))

	s := New(&MockGenerator{}, 0, 0.3)
	require.IsType(t, &LLM{}, s)
	assert.Equal(t, DefaultMaxTokens, s.(*LLM).maxTokens)
}

func TestLLM_Synthesize(t *testing.T) {
	var gotPrompt string
	var gotTokens int
	var gotTemp float32
	gen := &MockGenerator{
		GenerateFunc: func(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
			gotPrompt, gotTokens, gotTemp = prompt, maxTokens, temperature
			return "  The storm made landfall on Monday.\n", nil
		},
	}

	out, err := New(gen, 500, 0.3).Synthesize(context.Background(), "When did the storm hit?", "Storm hit Monday.")
	require.NoError(t, err)
	assert.Equal(t, "The storm made landfall on Monday.", out)
	assert.Equal(t, 500, gotTokens)
	assert.InDelta(t, 0.3, gotTemp, 1e-6)
	assert.Contains(t, gotPrompt, "Question: When did the storm hit?\n\n")
	assert.Contains(t, gotPrompt, "News Context:\nStorm hit Monday.\n\n")
	assert.True(t, strings.HasSuffix(gotPrompt, "Answer:"))
}

func TestLLM_SynthesizeError(t *testing.T) {
	gen := &MockGenerator{
		GenerateFunc: func(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
			return "", ai.ErrProviderUnavailable
		},
	}
	_, err := New(gen, 500, 0.3).Synthesize(context.Background(), "q", "c")
	assert.True(t, errors.Is(err, ai.ErrProviderUnavailable))
}

func TestPrompt_Instructions(t *testing.T) {
	p := Prompt("q", "c")
	for _, want := range []string{
		"professional news tone",
		"- Provide a detailed, factual answer based on the context",
		"- Include specific details, dates, and figures when available",
		"- Maintain objectivity and cite information appropriately",
		"- If the context doesn't fully answer the question, acknowledge the limitations",
	} {
		assert.Contains(t, p, want)
	}
}

func TestFallback_Synthesize(t *testing.T) {
	ctx := context.Background()
	long := strings.Repeat("é", 400)

	out, err := Fallback{}.Synthesize(ctx, "What happened?", long)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "Based on the available news sources, here's what I found regarding 'What happened?': "))
	assert.Contains(t, out, strings.Repeat("é", 300)+"... ")
	assert.NotContains(t, out, strings.Repeat("é", 301))
	assert.Contains(t, out, "placeholder")

	again, _ := Fallback{}.Synthesize(ctx, "What happened?", long)
	assert.Equal(t, out, again, "fallback must be deterministic")

	short, err := Fallback{}.Synthesize(ctx, "q", "short context")
	require.NoError(t, err)
	assert.Contains(t, short, "short context... ")
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "", prefix("", 3))
	assert.Equal(t, "ab", prefix("ab", 3))
	assert.Equal(t, "abc", prefix("abcdef", 3))
	assert.Equal(t, "日本語", prefix("日本語の記事", 3))
}
