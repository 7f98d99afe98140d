package ai

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const systemPrompt = "You are a professional news analyst providing accurate, well-sourced answers based on current news articles."

type OpenAIClient struct {
	config  *ClientConfig
	http    *http.Client
	retries int
}

func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	// Set default models if not provided
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com/v1"
	}
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-3-small"
	}
	if config.GenerateModel == "" {
		config.GenerateModel = "gpt-4o-mini"
	}
	if config.Dim == 0 {
		// Set default dimensions based on the embedding model
		switch config.EmbedModel {
		case "text-embedding-3-large":
			config.Dim = 3072
		default:
			config.Dim = 1536
		}
	}

	transport := &http.Transport{}

	// Check for environment variable to skip TLS verification (for corporate proxies, etc.)
	if skipTLS, _ := strconv.ParseBool(os.Getenv("NEWSRAG_SKIP_TLS_VERIFY")); skipTLS {
		transport.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: true,
		}
	}

	return &OpenAIClient{
		config:  config,
		http:    &http.Client{Timeout: 30 * time.Second, Transport: transport},
		retries: 2,
	}
}

// Embed implements the embedding functionality
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts in a single request. Results keep input order.
func (c *OpenAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("%w: PROVIDER_API_KEY unset", ErrProviderUnavailable)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	payload := map[string]any{
		"input": texts,
		"model": c.config.EmbedModel,
	}

	var out struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := c.post(ctx, "/embeddings", payload, &out); err != nil {
		return nil, err
	}
	if len(out.Data) != len(texts) {
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrProviderUnavailable, len(texts), len(out.Data))
	}

	sort.SliceStable(out.Data, func(i, j int) bool { return out.Data[i].Index < out.Data[j].Index })
	res := make([][]float32, len(out.Data))
	for i := range out.Data {
		res[i] = out.Data[i].Embedding
	}
	return res, nil
}

// Generate runs a single chat completion.
func (c *OpenAIClient) Generate(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	if c.config.APIKey == "" {
		return "", fmt.Errorf("%w: PROVIDER_API_KEY unset", ErrProviderUnavailable)
	}

	payload := map[string]any{
		"model": c.config.GenerateModel,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": prompt},
		},
		"temperature": temperature,
		"max_tokens":  maxTokens,
	}

	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.post(ctx, "/chat/completions", payload, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrProviderUnavailable)
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

func (c *OpenAIClient) Dim() int {
	return c.config.Dim
}

// post sends a JSON request, retrying throttled and 5xx responses.
func (c *OpenAIClient) post(ctx context.Context, path string, payload, into any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	url := strings.TrimRight(c.config.BaseURL, "/") + path

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(retryDelay(attempt - 1)):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ErrProviderUnavailable, ctx.Err())
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
		if err != nil {
			return err
		}
		c.setHeaders(req)

		retry, err := c.do(req, into)
		if err == nil {
			return nil
		}
		lastErr = err
		if !retry {
			break
		}
		log.Debug().Err(err).Str("path", path).Int("attempt", attempt+1).Msg("openai request failed, retrying")
	}
	return fmt.Errorf("%w: %v", ErrProviderUnavailable, lastErr)
}

func (c *OpenAIClient) do(req *http.Request, into any) (retry bool, err error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return true, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct{ Error struct{ Message string } }
		_ = json.NewDecoder(resp.Body).Decode(&e)
		retry = resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		if e.Error.Message != "" {
			return retry, errors.New(e.Error.Message)
		}
		return retry, errors.New(resp.Status)
	}
	return false, json.NewDecoder(resp.Body).Decode(into)
}

// setHeaders sets common headers for OpenAI requests
func (c *OpenAIClient) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	if strings.HasPrefix(c.config.APIKey, "sk-proj-") && c.config.ProjectID != "" {
		req.Header.Set("OpenAI-Project", c.config.ProjectID)
	}
}

// retryDelay is exponential from 200ms, capped at 5s.
func retryDelay(attempt int) time.Duration {
	d := 200 * time.Millisecond << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}
