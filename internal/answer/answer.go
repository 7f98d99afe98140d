// Package answer turns a question and retrieved news context into answer text.
package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/seanblong/newsrag/internal/ai"
)

const (
	DefaultMaxTokens   = 500
	DefaultTemperature = 0.3

	// fallbackContextChars is how much context the placeholder answer echoes.
	fallbackContextChars = 300
)

// Synthesizer writes an answer for question grounded in context.
type Synthesizer interface {
	Synthesize(ctx context.Context, question, passages string) (string, error)
}

// New returns an LLM-backed synthesizer when gen is non-nil and the
// deterministic fallback otherwise.
func New(gen ai.Generator, maxTokens int, temperature float32) Synthesizer {
	if gen == nil {
		return Fallback{}
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &LLM{gen: gen, maxTokens: maxTokens, temperature: temperature}
}

// LLM asks a generative model to answer from the supplied articles.
type LLM struct {
	gen         ai.Generator
	maxTokens   int
	temperature float32
}

func (s *LLM) Synthesize(ctx context.Context, question, passages string) (string, error) {
	out, err := s.gen.Generate(ctx, Prompt(question, passages), s.maxTokens, s.temperature)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// Prompt builds the single user prompt sent to the model.
func Prompt(question, passages string) string {
	var b strings.Builder
	b.WriteString("Based on the following news articles, provide a comprehensive and accurate answer to the question. ")
	b.WriteString("Use specific information from the sources and maintain a professional news tone.\n\n")
	fmt.Fprintf(&b, "Question: %s\n\n", question)
	fmt.Fprintf(&b, "News Context:\n%s\n\n", passages)
	b.WriteString("Instructions:\n")
	b.WriteString("- Provide a detailed, factual answer based on the context\n")
	b.WriteString("- Include specific details, dates, and figures when available\n")
	b.WriteString("- Maintain objectivity and cite information appropriately\n")
	b.WriteString("- If the context doesn't fully answer the question, acknowledge the limitations\n\n")
	b.WriteString("Answer:")
	return b.String()
}

// Fallback answers without a model by echoing the question and the start of
// the retrieved context, marked as a placeholder.
type Fallback struct{}

func (Fallback) Synthesize(_ context.Context, question, passages string) (string, error) {
	return fmt.Sprintf(
		"Based on the available news sources, here's what I found regarding '%s': %s... "+
			"[This is a placeholder answer. Configure a language model to generate full answers.]",
		question, prefix(passages, fallbackContextChars),
	), nil
}

// prefix returns at most n runes of s.
func prefix(s string, n int) string {
	i := 0
	for j := range s {
		if i == n {
			return s[:j]
		}
		i++
	}
	return s
}
