package yandexgpt

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

	"go.uber.org/zap"

	"prediction-api/internal/domain"
	"prediction-api/internal/logging"
)

const (
	defaultBaseURL   = "https://llm.api.cloud.yandex.net"
	defaultTimeout   = 60 * time.Second
	defaultMaxTokens = "2000"
)

// completionRequest is the request shape for the synchronous completion endpoint.
type completionRequest struct {
	ModelURI          string               `json:"modelUri"`
	CompletionOptions completionOptions    `json:"completionOptions"`
	Messages          []domain.ChatMessage `json:"messages"`
}

type completionOptions struct {
	Stream      bool    `json:"stream"`
	Temperature float64 `json:"temperature"`
	MaxTokens   string  `json:"maxTokens"`
}

// completionResponse is the minimal response shape of the completion endpoint.
type completionResponse struct {
	Result struct {
		Alternatives []struct {
			Message domain.ChatMessage `json:"message"`
		} `json:"alternatives"`
		ModelVersion string `json:"modelVersion"`
	} `json:"result"`
}

// HTTPStatusError captures non-2xx upstream responses.
type HTTPStatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("yandexgpt: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

// Client calls the Foundation Models text completion API.
type Client struct {
	baseURL    string
	folderID   string
	httpClient *http.Client
	keys       KeySource
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		if baseURL = strings.TrimSpace(baseURL); baseURL != "" {
			c.baseURL = baseURL
		}
	}
}

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout replaces the HTTP client with one using the given timeout.
// A zero timeout disables the client-side deadline.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient = &http.Client{Timeout: d}
	}
}

// NewClient creates a Client for the given cloud folder. Requests are
// authorised with the key returned by keys on each call.
func NewClient(keys KeySource, folderID string, opts ...Option) (*Client, error) {
	if keys == nil {
		return nil, errors.New("yandexgpt: key source must not be nil")
	}
	folderID = strings.TrimSpace(folderID)
	if folderID == "" {
		return nil, errors.New("yandexgpt: folder id must not be empty")
	}
	c := &Client{
		baseURL:    defaultBaseURL,
		folderID:   folderID,
		httpClient: &http.Client{Timeout: defaultTimeout},
		keys:       keys,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) resolvedHTTPClient() *http.Client {
	if c.httpClient != nil {
		return c.httpClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

func completionURL(baseURL string) string {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = defaultBaseURL
	}
	return base + "/foundationModels/v1/completion"
}

func (c *Client) modelURI(model string) string {
	return fmt.Sprintf("gpt://%s/%s/latest", c.folderID, model)
}

// Complete runs a synchronous completion and returns the text of the first
// alternative.
func (c *Client) Complete(ctx context.Context, model string, temperature float64, messages []domain.ChatMessage) (string, error) {
	if strings.TrimSpace(model) == "" {
		return "", errors.New("yandexgpt: model must not be empty")
	}

	apiKey, err := c.keys.APIKey(ctx)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(completionRequest{
		ModelURI: c.modelURI(model),
		CompletionOptions: completionOptions{
			Stream:      false,
			Temperature: temperature,
			MaxTokens:   defaultMaxTokens,
		},
		Messages: messages,
	})
	if err != nil {
		return "", fmt.Errorf("yandexgpt: marshal request: %w", err)
	}

	url := completionURL(c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("yandexgpt: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Api-Key "+apiKey)
	req.Header.Set("x-folder-id", c.folderID)

	raw, err := c.doJSONRequest(req, url)
	if err != nil {
		return "", fmt.Errorf("yandexgpt: request failed: %w", err)
	}

	var payload completionResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", fmt.Errorf("yandexgpt: decode response: %w", err)
	}
	if len(payload.Result.Alternatives) == 0 {
		return "", errors.New("yandexgpt: no alternatives in response")
	}
	logging.FromContext(ctx).Debug("completion received",
		zap.String("model_version", payload.Result.ModelVersion),
		zap.Int("alternatives", len(payload.Result.Alternatives)),
	)
	return payload.Result.Alternatives[0].Message.Text, nil
}

func (c *Client) doJSONRequest(req *http.Request, url string) ([]byte, error) {
	res, err := c.resolvedHTTPClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &HTTPStatusError{
			StatusCode: res.StatusCode,
			URL:        url,
			Body:       string(buf),
		}
	}

	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
