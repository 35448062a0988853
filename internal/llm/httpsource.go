package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	defaultHTTPModel       = "gpt-4o-mini"
	defaultHTTPTemperature = 0.3
	defaultHTTPMaxTokens   = 1024
	defaultHTTPTimeout     = 30 * time.Second
	httpSourceAttempts     = 2
	httpRetryBackoff       = 500 * time.Millisecond
)

// ChatMessage is one turn of an OpenAI-style chat request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

type chatErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// HTTPConfig configures the chat-completions source.
type HTTPConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// HTTPSource sends the rendered prompts to any OpenAI-compatible
// chat-completions endpoint and parses the contract JSON out of the reply.
type HTTPSource struct {
	endpoint    string
	apiKey      string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	log         zerolog.Logger
}

// NewHTTPSource builds the source, filling unset fields with defaults.
func NewHTTPSource(cfg HTTPConfig, log zerolog.Logger) *HTTPSource {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:8080/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = defaultHTTPModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultHTTPTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultHTTPMaxTokens
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	return &HTTPSource{
		endpoint:    cfg.BaseURL,
		apiKey:      cfg.APIKey,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		httpClient:  &http.Client{Timeout: cfg.Timeout},
		log:         log.With().Str("component", "llm_http").Logger(),
	}
}

func (s *HTTPSource) Name() string { return "http" }

// GenerateOpinion completes the prompts and parses the reply. Transport
// errors and 5xx answers are retried once; 4xx answers are not.
func (s *HTTPSource) GenerateOpinion(ctx context.Context, req OpinionRequest) (*OpinionDraft, error) {
	messages := []ChatMessage{
		{Role: "system", Content: req.SystemPrompt},
		{Role: "user", Content: req.UserPrompt},
	}

	var lastErr error
	for attempt := 1; attempt <= httpSourceAttempts; attempt++ {
		if attempt > 1 {
			s.log.Warn().Err(lastErr).Int("attempt", attempt).Msg("Retrying chat completion")
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(httpRetryBackoff):
			}
		}

		content, retryable, err := s.complete(ctx, messages)
		if err == nil {
			return ParseDraft(content)
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("chat completion failed after %d attempts: %w", httpSourceAttempts, lastErr)
}

func (s *HTTPSource) complete(ctx context.Context, messages []ChatMessage) (content string, retryable bool, err error) {
	body, err := json.Marshal(chatRequest{
		Model:       s.model,
		Messages:    messages,
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", false, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	start := time.Now()
	resp, err := s.httpClient.Do(httpReq)
	if err != nil {
		return "", true, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", true, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		var errResp chatErrorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error.Message != "" {
			return "", retryable, fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", retryable, fmt.Errorf("chat API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", false, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", false, fmt.Errorf("no choices in chat response")
	}

	s.log.Debug().
		Str("model", chatResp.Model).
		Int("prompt_tokens", chatResp.Usage.PromptTokens).
		Int("completion_tokens", chatResp.Usage.CompletionTokens).
		Dur("duration", time.Since(start)).
		Msg("Chat completion finished")

	return chatResp.Choices[0].Message.Content, false, nil
}
