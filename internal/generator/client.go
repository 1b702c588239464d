package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jmorrow/paperquery/internal/config"
)

// ChatClient produces a completion for a system + user prompt pair.
type ChatClient interface {
	Complete(ctx context.Context, system, user string) (string, error)
	Model() string
}

// transientError marks a failure worth retrying: rate limits, server
// errors, network faults. Client-side errors (bad request, auth) are
// permanent and fail immediately.
type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// openAIClient speaks the OpenAI-compatible /chat/completions protocol.
type openAIClient struct {
	model       string
	apiKey      string
	baseURL     string
	maxTokens   int
	temperature float64
	maxRetries  int
	httpClient  *http.Client
}

// NewChatClient creates a chat-completion client from generation
// settings.
func NewChatClient(cfg config.GenerationConfig) (ChatClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("generation api key not set")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &openAIClient{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     cfg.BaseURL,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		maxRetries:  maxRetries,
		httpClient:  &http.Client{Timeout: timeout},
	}, nil
}

func (c *openAIClient) Model() string {
	return c.model
}

// Complete calls the completion endpoint, retrying transient failures
// with exponential backoff up to the configured budget.
func (c *openAIClient) Complete(ctx context.Context, system, user string) (string, error) {
	var lastErr error
	backoff := 250 * time.Millisecond

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		text, err := c.callAPI(ctx, system, user)
		if err == nil {
			return text, nil
		}
		lastErr = err

		var te *transientError
		if !errors.As(err, &te) {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if attempt < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
		}
	}
	return "", fmt.Errorf("completion failed after %d attempts: %w", c.maxRetries, lastErr)
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *openAIClient) callAPI(ctx context.Context, system, user string) (string, error) {
	reqBody := map[string]interface{}{
		"model": c.model,
		"messages": []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		"temperature": c.temperature,
	}
	if c.maxTokens > 0 {
		reqBody["max_tokens"] = c.maxTokens
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &transientError{err: fmt.Errorf("api call: %w", err)}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		apiErr := fmt.Errorf("api error %d: %s", resp.StatusCode, string(bodyBytes))
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return "", &transientError{err: apiErr}
		}
		return "", apiErr
	}

	var apiResp struct {
		Choices []struct {
			Message chatMessage `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return "", &transientError{err: fmt.Errorf("decode response: %w", err)}
	}
	if len(apiResp.Choices) == 0 {
		return "", &transientError{err: fmt.Errorf("empty choices in response")}
	}
	return apiResp.Choices[0].Message.Content, nil
}
