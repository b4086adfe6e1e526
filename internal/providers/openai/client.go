// Package openai is a thin chat-completions client with SSE streaming.
package openai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"server/internal/domain"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("openai: api key is required")

// Options configures the chat-completions client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	HTTPClient     *http.Client
	Logger         zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to an OpenAI-compatible chat completions API.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
	logger     zerolog.Logger
}

// ChatMessage is one turn sent to the model.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest carries the inputs for one completion call.
type ChatRequest struct {
	Messages    []ChatMessage
	Model       string
	MaxTokens   int
	Temperature float64
}

type completionBody struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type completionResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *apiError `json:"error"`
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 90 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gpt-4o-mini"
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		httpClient: httpClient,
		logger:     opts.Logger,
	}
}

// Model returns the configured default model identifier.
func (c *Client) Model() string {
	return c.model
}

// CountTokens estimates the token cost of a string. The heuristic is three
// characters per token, which overcounts for English and undercounts for
// dense CJK text but needs no tokenizer dependency.
func CountTokens(s string) int {
	return len(s) / 3
}

func (c *Client) newRequest(ctx context.Context, body completionBody) (*http.Request, error) {
	if c.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	if body.Model == "" {
		body.Model = c.model
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("openai: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// Complete performs a blocking, non-streaming completion call.
func (c *Client) Complete(ctx context.Context, req ChatRequest) (string, error) {
	httpReq, err := c.newRequest(ctx, completionBody{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("openai: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(data)).
			Msg("openai completion rejected")
		return "", fmt.Errorf("%w: status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	var parsed completionResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("openai: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("%w: %s", domain.ErrProviderFailure, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices", domain.ErrProviderFailure)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Stream starts a streaming completion. The caller owns the returned Stream
// and must Close it.
func (c *Client) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	httpReq, err := c.newRequest(ctx, completionBody{
		Model:       req.Model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      true,
	})
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		c.logger.Warn().
			Int("status", resp.StatusCode).
			Str("body", string(data)).
			Msg("openai stream rejected")
		return nil, fmt.Errorf("%w: status %d", domain.ErrProviderFailure, resp.StatusCode)
	}
	return &Stream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// Stream yields content fragments from an SSE completion. Recv returns
// io.EOF after the final chunk; any other error means the stream broke and
// text received so far is a partial answer.
type Stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

// Recv returns the next non-empty content fragment.
func (s *Stream) Recv() (string, error) {
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			s.done = true
			return "", io.EOF
		}
		var chunk streamChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return "", fmt.Errorf("openai: decode chunk: %w", err)
		}
		if chunk.Error != nil {
			s.done = true
			return "", fmt.Errorf("%w: %s", domain.ErrProviderFailure, chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		if fragment := chunk.Choices[0].Delta.Content; fragment != "" {
			return fragment, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrProviderFailure, err)
	}
	s.done = true
	return "", io.EOF
}

// Close releases the underlying connection.
func (s *Stream) Close() error {
	return s.body.Close()
}

// GenerateTitle asks the model for a short dialog title based on the first
// user message. Provider failure degrades to a localized default instead of
// an error, titles are cosmetic.
func (c *Client) GenerateTitle(ctx context.Context, firstMessage, lang string) string {
	fallback := "New dialog"
	if lang == "ru" {
		fallback = "Новый диалог"
	}
	prompt := "Come up with a short title (3-5 words) for a dialog that starts with this message. Reply with the title only, in the language of the message."
	title, err := c.Complete(ctx, ChatRequest{
		Messages: []ChatMessage{
			{Role: "system", Content: prompt},
			{Role: "user", Content: firstMessage},
		},
		MaxTokens:   16,
		Temperature: 0.7,
	})
	if err != nil {
		c.logger.Debug().Err(err).Msg("title generation failed, using fallback")
		return fallback
	}
	title = strings.Trim(strings.TrimSpace(title), `"«»`)
	if title == "" {
		return fallback
	}
	const maxTitle = 80
	if runes := []rune(title); len(runes) > maxTitle {
		title = string(runes[:maxTitle])
	}
	return title
}
