// Package llm is the dialogue system's LLM collaborator client: a thin
// chat-completions wrapper over openai.Client with retry/backoff on
// transient failures. Errors are classified transient/permanent to
// decide whether a call is worth a second attempt.
package llm

import (
	"context"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// Message is one turn of chat context handed to the LLM.
type Message struct {
	Role    string // "system", "user", "assistant"
	Content string
}

// Service is the LLM collaborator contract the Dialogue Manager calls
// through.
type Service interface {
	Chat(ctx context.Context, messages []Message) (string, error)
}

// Config configures the chat-completions client. Provider selects a
// default base URL; an explicit BaseURL always wins.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int
	Temperature float32
	TimeoutSecs int
	MaxRetries  int // default 2
}

type service struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	timeout     time.Duration
	maxRetries  int
}

// providerBaseURLs maps a provider name to its default endpoint.
var providerBaseURLs = map[string]string{
	"deepseek":    "https://api.deepseek.com",
	"siliconflow": "https://api.siliconflow.cn/v1",
	"openrouter":  "https://openrouter.ai/api/v1",
	"ollama":      "http://localhost:11434",
}

// New constructs a Service from cfg.
func New(cfg Config) Service {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = providerBaseURLs[cfg.Provider]
	}
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}

	timeoutSecs := cfg.TimeoutSecs
	if timeoutSecs <= 0 {
		timeoutSecs = 120
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	return &service{
		client:      openai.NewClientWithConfig(clientConfig),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		timeout:     time.Duration(timeoutSecs) * time.Second,
		maxRetries:  maxRetries,
	}
}

// Chat performs a synchronous chat completion, retrying transient
// failures up to maxRetries times with exponential backoff.
func (s *service) Chat(ctx context.Context, messages []Message) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       s.model,
		MaxTokens:   s.maxTokens,
		Temperature: s.temperature,
		Messages:    convertMessages(messages),
	}

	var lastErr error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
			slog.Debug("llm: retrying chat completion", "attempt", attempt, "backoff", backoff)
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if isTransient(err) {
				continue
			}
			return "", errors.Wrap(err, "llm chat failed")
		}
		if len(resp.Choices) == 0 {
			lastErr = errors.New("empty response from LLM")
			continue
		}
		return resp.Choices[0].Message.Content, nil
	}
	return "", errors.Wrap(lastErr, "llm chat failed after retries")
}

// isTransient classifies an LLM call error as retryable:
// network-level errors and common
// rate-limit/timeout wording are transient; anything that looks like a
// client mistake (4xx: invalid/unauthorized/forbidden) is not.
func isTransient(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"invalid", "unauthorized", "forbidden", "not found", "required"} {
		if strings.Contains(msg, pattern) {
			return false
		}
	}
	for _, pattern := range []string{"timeout", "rate limit", "too many requests", "connection reset", "temporarily unavailable", "503", "502", "429"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		out[i] = openai.ChatCompletionMessage{Role: m.Role, Content: m.Content}
	}
	return out
}
