package llm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// ErrAudioTooLarge is returned when the audio payload exceeds the
// configured limit. Oversized media is not retried.
var ErrAudioTooLarge = errors.New("audio exceeds size limit")

// Transcriber converts voice messages into text. An empty transcript with a
// nil error means the audio carried no recognizable speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (string, error)
}

type TranscriberConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Timeout  time.Duration
	MaxBytes int64
}

type transcriber struct {
	openai   openai.Client
	http     *http.Client
	model    string
	maxBytes int64
}

func NewTranscriber(cfg TranscriberConfig) (Transcriber, error) {
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
		mdl = "whisper-1"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = 16 << 20
	}

	return &transcriber{
		openai:   openai.NewClient(opts...),
		http:     &http.Client{Timeout: timeout},
		model:    mdl,
		maxBytes: maxBytes,
	}, nil
}

func (t *transcriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	audio, err := t.download(ctx, audioURL)
	if err != nil {
		return "", err
	}

	start := time.Now()
	resp, err := t.openai.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		Model: openai.AudioModel(t.model),
		File:  openai.File(bytes.NewReader(audio), "voice-message.ogg", "audio/ogg"),
	})
	if err != nil {
		return "", fmt.Errorf("transcribing audio: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	slog.DebugContext(ctx, "audio transcribed",
		"model", t.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"bytes", len(audio),
		"empty", text == "")

	return text, nil
}

func (t *transcriber) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building audio request: %w", err)
	}

	resp, err := t.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching audio: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching audio: unexpected status %d", resp.StatusCode)
	}
	if resp.ContentLength > t.maxBytes {
		return nil, ErrAudioTooLarge
	}

	// Read one byte past the limit to detect oversized bodies that did not
	// declare a Content-Length.
	data, err := io.ReadAll(io.LimitReader(resp.Body, t.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading audio: %w", err)
	}
	if int64(len(data)) > t.maxBytes {
		return nil, ErrAudioTooLarge
	}

	return data, nil
}
