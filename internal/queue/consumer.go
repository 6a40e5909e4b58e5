package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"biosummit.app/concierge/common/logger"
)

type ConsumerConfig struct {
	Stream         string        // Redis stream name
	Group          string        // Redis consumer group name
	Consumer       string        // Redis consumer name
	DLQStream      string        // Dead letter queue stream for failed messages
	BatchSize      int64         // Number of messages to read per batch
	Block          time.Duration // How long to block/poll for new messages
	MaxAttempts    int           // Maximum retry attempts before moving to DLQ
	RetryBaseDelay time.Duration // Base delay for exponential backoff
}

// Message is a delivered job plus its queue bookkeeping.
type Message struct {
	ID      string // stream entry ID
	Job     Job
	Attempt int
	Raw     redis.XMessage
}

// MessageProcessor processes a queue message.
type MessageProcessor func(ctx context.Context, msg Message) error

type RedisConsumer struct {
	client *redis.Client
	cfg    ConsumerConfig
}

func NewRedisConsumer(client *redis.Client, cfg ConsumerConfig) (*RedisConsumer, error) {
	consumer := &RedisConsumer{
		client: client,
		cfg:    cfg,
	}

	if err := consumer.ensureGroup(context.Background()); err != nil { //nolint:contextcheck
		return nil, err
	}

	return consumer, nil
}

func (c *RedisConsumer) ensureGroup(ctx context.Context) error {
	// Consumer groups are just readers, messages live in the stream itself.
	// Starting from "0" instead of "$" means we don't lose messages that
	// arrived while no worker was running.
	if err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err(); err != nil && err.Error() != "BUSYGROUP Consumer Group name already exists" {
		return fmt.Errorf("creating consumer group: %w", err)
	}
	return nil
}

func (c *RedisConsumer) Read(ctx context.Context) ([]Message, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		Component: "concierge.queue.consumer",
	})

	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		// > = new messages not yet delivered to anyone. Unacked messages
		// are handled by the reclaimer on a different goroutine.
		Streams: []string{c.cfg.Stream, ">"},
		Count:   c.cfg.BatchSize,
		Block:   c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return []Message{}, nil
		}
		return nil, fmt.Errorf("reading from stream: %w", err)
	}

	var messages []Message
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			parsed, parseErr := ParseMessage(msg)
			if parseErr != nil {
				// Malformed payloads are fatal: archive and move on.
				slog.ErrorContext(ctx, "failed to parse message, sending to DLQ",
					"error", parseErr,
					"raw_message_id", msg.ID,
					"stream", c.cfg.Stream)
				_ = c.SendDLQ(ctx, Message{ID: msg.ID, Raw: msg}, parseErr.Error())
				continue
			}
			messages = append(messages, parsed)
		}
	}

	if len(messages) > 0 {
		slog.DebugContext(ctx, "read messages from stream",
			"count", len(messages),
			"stream", c.cfg.Stream,
			"consumer", c.cfg.Consumer)
	}

	return messages, nil
}

func (c *RedisConsumer) Ack(ctx context.Context, msg Message) error {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
		return fmt.Errorf("xack (stream=%s): %w", c.cfg.Stream, err)
	}

	slog.DebugContext(ctx, "message acknowledged", "stream", c.cfg.Stream)
	return nil
}

// Requeue redelivers a failed message, charging the retry budget.
func (c *RedisConsumer) Requeue(ctx context.Context, msg Message, errMsg string) error {
	return c.RequeueWithAttempt(ctx, msg, msg.Attempt+1, errMsg)
}

// RequeueNoCharge redelivers a message without consuming the retry budget.
// Used for lock contention, where the job itself did nothing wrong.
func (c *RedisConsumer) RequeueNoCharge(ctx context.Context, msg Message, errMsg string) error {
	return c.RequeueWithAttempt(ctx, msg, msg.Attempt, errMsg)
}

func (c *RedisConsumer) RequeueWithAttempt(ctx context.Context, msg Message, attempt int, errMsg string) error {
	if attempt <= 0 {
		attempt = msg.Attempt
		if attempt <= 0 {
			attempt = 1
		}
	}

	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for requeue: %w", err)
	}

	values := jobValues(msg.Job, attempt)
	if errMsg != "" {
		values["last_error"] = errMsg
	}

	if delay := RetryDelay(c.cfg.RetryBaseDelay, msg.Attempt); delay > 0 {
		time.Sleep(delay)
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd requeue: %w", err)
	}

	slog.InfoContext(ctx, "message requeued for retry",
		"next_attempt", attempt,
		"reason", errMsg)
	return nil
}

// SendDLQ moves a message to the failure archive.
func (c *RedisConsumer) SendDLQ(ctx context.Context, msg Message, errMsg string) error {
	if err := c.Ack(ctx, msg); err != nil {
		return fmt.Errorf("acking failed message for dlq: %w", err)
	}

	values := jobValues(msg.Job, msg.Attempt)
	values["error"] = errMsg

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.DLQStream,
		Values: values,
	}).Err(); err != nil {
		return fmt.Errorf("xadd dlq (stream=%s): %w", c.cfg.DLQStream, err)
	}

	slog.ErrorContext(ctx, "message sent to DLQ",
		"final_error", errMsg,
		"dlq_stream", c.cfg.DLQStream)
	return nil
}

// RetryDelay computes the redelivery delay for the given attempt:
// base * 2^(attempt-1), plus up to 50% jitter so synchronized retries
// spread out.
func RetryDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	backoff := base << uint(attempt-1)
	jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
	return backoff + jitter
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	jobKey, err := parseString(msg.Values, "job_key")
	if err != nil {
		return Message{}, err
	}
	conversationID, err := parseString(msg.Values, "conversation_id")
	if err != nil {
		return Message{}, err
	}
	messageID, err := parseString(msg.Values, "message_id")
	if err != nil {
		return Message{}, err
	}
	contentKind, err := parseString(msg.Values, "content_kind")
	if err != nil {
		return Message{}, err
	}

	sender := parseOptionalString(msg.Values, "sender")
	contentText := parseOptionalString(msg.Values, "content_text")
	contentAudioURL := parseOptionalString(msg.Values, "content_audio_url")

	content, err := contentFromValues(contentKind, contentText, contentAudioURL)
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	enqueuedAt := time.Now().UTC()
	if raw := parseOptionalString(msg.Values, "enqueued_at"); raw != "" {
		if ts, parseErr := time.Parse(time.RFC3339Nano, raw); parseErr == nil {
			enqueuedAt = ts
		}
	}

	return Message{
		ID: msg.ID,
		Job: Job{
			JobKey:         jobKey,
			ConversationID: conversationID,
			MessageID:      messageID,
			Sender:         sender,
			Content:        content,
			EnqueuedAt:     enqueuedAt,
		},
		Attempt: attempt,
		Raw:     msg,
	}, nil
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalString(values map[string]any, key string) string {
	raw, ok := values[key]
	if !ok {
		return ""
	}
	return fmt.Sprint(raw)
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}
