// Package llm wraps the Ollama structure collaborator. It turns OCR text
// into candidate resume records via a schema-pinning prompt, with retry on
// transport errors and a template-clone fallback on unparseable output.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"skilllab/internal/types"
)

// Client talks to an Ollama-compatible generation endpoint.
type Client struct {
	generateURL string
	model       string
	temperature float64
	maxTokens   int
	maxRetries  int
	client      *http.Client
	log         *zap.Logger
}

// Config holds the client construction parameters.
type Config struct {
	GenerateURL string
	Model       string
	Temperature float64
	MaxTokens   int
	MaxRetries  int
	Timeout     time.Duration
}

// NewClient creates a generation client with defaulted bounds.
func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.GenerateURL == "" {
		cfg.GenerateURL = "http://localhost:11434/api/generate"
	}
	if cfg.Model == "" {
		cfg.Model = "mistral:7b"
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		generateURL: cfg.GenerateURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		maxRetries:  cfg.MaxRetries,
		client:      &http.Client{Timeout: cfg.Timeout},
		log:         log.Named("llm"),
	}
}

type generateRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

// Generate sends one prompt and returns the raw model response. Transport
// errors and 5xx responses are retried with exponential backoff starting at
// 1s, bounded by the configured retry count and 60s total elapsed.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	var response string

	operation := func() error {
		body, err := json.Marshal(generateRequest{
			Model:       c.model,
			Prompt:      prompt,
			Stream:      false,
			Temperature: c.temperature,
			MaxTokens:   c.maxTokens,
		})
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to marshal request: %w", err))
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.generateURL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(types.Wrap(types.KindTimeout, err, "generation timed out"))
			}
			return types.Wrap(types.KindServiceUnavailable, err, "generation request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			data, _ := io.ReadAll(resp.Body)
			return types.E(types.KindServiceUnavailable,
				"generation endpoint returned status %d: %s", resp.StatusCode, string(data))
		}
		if resp.StatusCode != http.StatusOK {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(types.E(types.KindServiceUnavailable,
				"generation endpoint returned status %d: %s", resp.StatusCode, string(data)))
		}

		var gen generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&gen); err != nil {
			return backoff.Permanent(types.Wrap(types.KindSchemaFailure, err, "failed to decode generation response"))
		}
		response = gen.Response
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxElapsedTime = 60 * time.Second

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(c.maxRetries)), ctx))
	if err != nil {
		return "", err
	}
	return response, nil
}

// ListModels fetches the model listing from <base>/api/tags.
func (c *Client) ListModels(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tagsURL(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, types.Wrap(types.KindServiceUnavailable, err, "model listing failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, types.E(types.KindServiceUnavailable, "model listing returned status %d", resp.StatusCode)
	}

	var listing struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, types.Wrap(types.KindSchemaFailure, err, "failed to decode model listing")
	}

	names := make([]string, 0, len(listing.Models))
	for _, m := range listing.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Health probes the model listing endpoint.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	return err
}

// tagsURL derives the /api/tags endpoint from the generate URL.
func (c *Client) tagsURL() string {
	u, err := url.Parse(c.generateURL)
	if err != nil {
		return "http://localhost:11434/api/tags"
	}
	base := u.Scheme + "://" + u.Host
	return base + "/api/tags"
}

// healthRetryDelay is the pause before the single health-probe retry after
// a ServiceUnavailable result.
const healthRetryDelay = 2 * time.Second

// ProbeWithRetry checks the collaborator once, and once more after a short
// delay if the first probe reports the service unavailable.
func (c *Client) ProbeWithRetry(ctx context.Context) error {
	err := c.Health(ctx)
	if err == nil || !types.IsKind(err, types.KindServiceUnavailable) {
		return err
	}
	select {
	case <-ctx.Done():
		return types.Wrap(types.KindTimeout, ctx.Err(), "health probe cancelled")
	case <-time.After(healthRetryDelay):
	}
	return c.Health(ctx)
}

// ExtractJSON returns the first balanced {…} substring of the response
// parsed as a map, or false when none parses.
func ExtractJSON(response string) (map[string]any, bool) {
	start := strings.Index(response, "{")
	if start < 0 {
		return nil, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					var m map[string]any
					if err := json.Unmarshal([]byte(response[start:i+1]), &m); err != nil {
						return nil, false
					}
					return m, true
				}
			}
		}
	}
	return nil, false
}
