package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpTransport struct {
	client  *http.Client
	baseURL string
	apiKey  string
}

// NewHTTP creates a Transport that posts outbound messages to the gateway's
// send endpoint.
func NewHTTP(cfg Config) (Transport, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("transport base URL is required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}

	return &httpTransport{
		client:  &http.Client{Timeout: timeout},
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}, nil
}

type sendTextRequest struct {
	ConversationID string `json:"conversation_id"`
	Text           string `json:"text"`
}

func (t *httpTransport) SendText(ctx context.Context, conversationID, text string) error {
	payload, err := json.Marshal(sendTextRequest{
		ConversationID: conversationID,
		Text:           text,
	})
	if err != nil {
		return fmt.Errorf("encoding outbound message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+"/messages", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building outbound request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	start := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending outbound message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("gateway rejected outbound message: status %d: %s", resp.StatusCode, body)
	}

	slog.DebugContext(ctx, "outbound message delivered",
		"conversation_id", conversationID,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}
