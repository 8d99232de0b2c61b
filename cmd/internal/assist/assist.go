// Package assist proxies user questions to a text-generation inference API.
package assist

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrEmptyCompletion is returned when the inference API answers with no text.
var ErrEmptyCompletion = errors.New("assist: empty completion")

// Generator produces a completion for a question.
type Generator interface {
	Generate(ctx context.Context, question string) (string, error)
}

// HTTPGenerator calls a hosted text-generation endpoint. Instruct-style
// models echo the prompt at the head of the completion, so Generate trims
// the question prefix before returning.
type HTTPGenerator struct {
	client      *http.Client
	url         string
	apiKey      string
	temperature float64
	topP        float64
}

// GeneratorOption configures an HTTPGenerator.
type GeneratorOption func(*HTTPGenerator)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) GeneratorOption {
	return func(g *HTTPGenerator) {
		if c != nil {
			g.client = c
		}
	}
}

// WithSampling overrides the default sampling parameters.
func WithSampling(temperature, topP float64) GeneratorOption {
	return func(g *HTTPGenerator) {
		g.temperature = temperature
		g.topP = topP
	}
}

// NewHTTPGenerator constructs a generator for the model endpoint at url.
// apiKey may be empty for unauthenticated endpoints.
func NewHTTPGenerator(url, apiKey string, opts ...GeneratorOption) (*HTTPGenerator, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("assist: inference url required")
	}
	g := &HTTPGenerator{
		client:      &http.Client{Timeout: 30 * time.Second},
		url:         url,
		apiKey:      strings.TrimSpace(apiKey),
		temperature: 0.7,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

type generateRequest struct {
	Inputs     string             `json:"inputs"`
	Parameters generateParameters `json:"parameters"`
}

type generateParameters struct {
	Temperature float64 `json:"temperature"`
	TopP        float64 `json:"top_p"`
}

type generateResponse struct {
	GeneratedText string `json:"generated_text"`
}

// Generate asks the endpoint for a completion of question.
func (g *HTTPGenerator) Generate(ctx context.Context, question string) (string, error) {
	body, err := json.Marshal(generateRequest{
		Inputs: question,
		Parameters: generateParameters{
			Temperature: g.temperature,
			TopP:        g.topP,
		},
	})
	if err != nil {
		return "", fmt.Errorf("assist: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("assist: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("assist: call inference api: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("assist: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("assist: inference api status %d", resp.StatusCode)
	}

	text, err := decodeCompletion(raw)
	if err != nil {
		return "", err
	}
	if text == "" {
		return "", ErrEmptyCompletion
	}

	// Drop the echoed prompt so the caller only sees the answer.
	answer := strings.TrimPrefix(text, question)
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return "", ErrEmptyCompletion
	}
	return answer, nil
}

// decodeCompletion accepts both the bare-object and single-element-array
// response shapes hosted inference endpoints use.
func decodeCompletion(raw []byte) (string, error) {
	var list []generateResponse
	if err := json.Unmarshal(raw, &list); err == nil {
		if len(list) == 0 {
			return "", ErrEmptyCompletion
		}
		return list[0].GeneratedText, nil
	}

	var single generateResponse
	if err := json.Unmarshal(raw, &single); err != nil {
		return "", fmt.Errorf("assist: decode response: %w", err)
	}
	return single.GeneratedText, nil
}
