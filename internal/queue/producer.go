package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"biosummit.app/concierge/internal/model"
)

const admitKeyPrefix = "admit:"

// Producer admits inbound message jobs to the durable queue.
type Producer interface {
	// Enqueue submits a job. It returns admitted=false when the same job
	// key was already admitted within the admission window; the earlier
	// submission owns the work.
	Enqueue(ctx context.Context, job Job) (admitted bool, err error)
	Close() error
}

type redisProducer struct {
	client   *redis.Client
	stream   string
	admitTTL time.Duration
	logger   *slog.Logger
}

func NewRedisProducer(client *redis.Client, stream string, admitTTL time.Duration, logger *slog.Logger) Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &redisProducer{
		client:   client,
		stream:   stream,
		admitTTL: admitTTL,
		logger:   logger,
	}
}

func (p *redisProducer) Enqueue(ctx context.Context, job Job) (bool, error) {
	if job.JobKey == "" {
		job.JobKey = JobKey(job.MessageID, job.Content)
	}
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now().UTC()
	}

	// Admission is idempotent on the job key: resubmissions of the same
	// source message within the window collapse into the first job.
	ok, err := p.client.SetNX(ctx, admitKeyPrefix+job.JobKey, job.EnqueuedAt.Format(time.RFC3339Nano), p.admitTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claiming admission key: %w", err)
	}
	if !ok {
		p.logger.InfoContext(ctx, "job already admitted, skipping",
			"job_key", job.JobKey, "message_id", job.MessageID)
		return false, nil
	}

	// Stream entry IDs are monotonic in arrival time, so earlier messages
	// are delivered first within the bound of worker concurrency.
	if err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: jobValues(job, 1),
	}).Err(); err != nil {
		return false, fmt.Errorf("enqueue job: %w", err)
	}

	p.logger.InfoContext(ctx, "enqueued inbound message",
		"job_key", job.JobKey,
		"conversation_id", job.ConversationID,
		"message_id", job.MessageID,
		"content_kind", job.Content.Kind)
	return true, nil
}

func (p *redisProducer) Close() error {
	return p.client.Close()
}

func jobValues(job Job, attempt int) map[string]any {
	values := map[string]any{
		"job_key":         job.JobKey,
		"conversation_id": job.ConversationID,
		"message_id":      job.MessageID,
		"content_kind":    string(job.Content.Kind),
		"enqueued_at":     job.EnqueuedAt.UTC().Format(time.RFC3339Nano),
		"attempt":         attempt,
	}
	if job.Sender != "" {
		values["sender"] = job.Sender
	}
	if job.Content.Text != "" {
		values["content_text"] = job.Content.Text
	}
	if job.Content.AudioURL != "" {
		values["content_audio_url"] = job.Content.AudioURL
	}
	return values
}

func contentFromValues(kind, text, audioURL string) (model.MessageContent, error) {
	switch model.ContentKind(kind) {
	case model.ContentText:
		return model.TextContent(text), nil
	case model.ContentCaption:
		return model.CaptionContent(text), nil
	case model.ContentAudioRef:
		if audioURL == "" {
			return model.MessageContent{}, fmt.Errorf("audio content without audio_url")
		}
		return model.AudioContent(audioURL), nil
	default:
		return model.MessageContent{}, fmt.Errorf("unknown content kind %q", kind)
	}
}
