package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"biosummit.app/concierge/internal/model"
)

// Responder produces the free-conversation replies that the deterministic
// registration flow does not own.
type Responder interface {
	Reply(ctx context.Context, state *model.ConversationState, userText string) (string, error)
}

type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
}

type client struct {
	openai     openai.Client
	model      string
	timeout    time.Duration
	maxRetries int
}

func New(cfg Config) (Responder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	mdl := cfg.Model
	if mdl == "" {
		mdl = "gpt-4o-mini"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}

	return &client{
		openai:     openai.NewClient(opts...),
		model:      mdl,
		timeout:    timeout,
		maxRetries: maxRetries,
	}, nil
}

func (c *client) Reply(ctx context.Context, state *model.ConversationState, userText string) (string, error) {
	messages := buildMessages(state, userText)

	params := openai.ChatCompletionNewParams{
		Model:     c.model,
		Messages:  messages,
		MaxTokens: openai.Int(600),
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		reply, err := c.chat(ctx, params)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !IsRetryable(ctx, err) {
			return "", err
		}
		if attempt < c.maxRetries {
			sleepBackoff(ctx, attempt)
		}
	}

	return "", fmt.Errorf("llm reply after %d attempts: %w", c.maxRetries, lastErr)
}

func (c *client) chat(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.openai.Chat.Completions.New(attemptCtx, params)
	if err != nil {
		// A timed-out attempt is a transient failure as long as the
		// caller's context is still alive.
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", fmt.Errorf("openai chat timed out after %s", c.timeout)
		}
		return "", fmt.Errorf("openai chat: %w", err)
	}

	slog.DebugContext(ctx, "llm chat completed",
		"model", c.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens)

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func buildMessages(state *model.ConversationState, userText string) []openai.ChatCompletionMessageParamUnion {
	turns := state.RecentTurns(10)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+2)

	messages = append(messages, openai.SystemMessage(systemPrompt(state)))
	for _, turn := range turns {
		switch turn.Role {
		case model.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Text))
		default:
			messages = append(messages, openai.UserMessage(turn.Text))
		}
	}
	messages = append(messages, openai.UserMessage(userText))

	return messages
}

func sleepBackoff(ctx context.Context, attempt int) {
	delay := 500 * time.Millisecond << (attempt - 1)
	delay += time.Duration(rand.Int63n(int64(delay) / 2))
	select {
	case <-ctx.Done():
	case <-time.After(delay):
	}
}

// IsRetryable classifies LLM failures. Rate limits, server errors and
// network errors are worth retrying; client errors and cancelled contexts
// are not.
func IsRetryable(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.DebugContext(ctx, "llm error not retryable: context cancelled or deadline exceeded")
		return false
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			slog.WarnContext(ctx, "llm rate limited, will retry",
				"status_code", apiErr.StatusCode)
			return true
		case apiErr.StatusCode >= 500:
			slog.WarnContext(ctx, "llm server error, will retry",
				"status_code", apiErr.StatusCode)
			return true
		default:
			slog.ErrorContext(ctx, "llm client error, not retryable",
				"status_code", apiErr.StatusCode,
				"error_type", apiErr.Type,
				"error_code", apiErr.Code)
			return false
		}
	}

	// Network errors (no API response) are generally retryable
	slog.WarnContext(ctx, "llm network error, will retry", "error", err)
	return true
}
