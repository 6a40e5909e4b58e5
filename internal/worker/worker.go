package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"biosummit.app/concierge/internal/queue"
	"biosummit.app/concierge/internal/session"
	"biosummit.app/concierge/internal/transport"
)

// MessageProcessor mirrors the pipeline entry point so tests can swap the
// whole pipeline.
type MessageProcessor interface {
	Process(ctx context.Context, msg queue.Message) error
}

// Consumer is the slice of the queue consumer the worker settles messages
// through.
type Consumer interface {
	Read(ctx context.Context) ([]queue.Message, error)
	Ack(ctx context.Context, msg queue.Message) error
	Requeue(ctx context.Context, msg queue.Message, errMsg string) error
	RequeueNoCharge(ctx context.Context, msg queue.Message, errMsg string) error
	SendDLQ(ctx context.Context, msg queue.Message, errMsg string) error
}

type Config struct {
	Concurrency int
	MaxAttempts int
	// ContentionMaxAge bounds how long a job may keep being redelivered on
	// lock contention; past it the contention is treated as a transient
	// failure and charged against the retry budget.
	ContentionMaxAge time.Duration
}

// Worker pulls message batches off the stream and runs them through the
// processor, at most Concurrency jobs in flight. Per-conversation ordering
// comes from the conversation lock, not from the worker.
type Worker struct {
	consumer  Consumer
	processor MessageProcessor
	transport transport.Transport
	cfg       Config

	sem       chan struct{}
	wg        sync.WaitGroup
	stopCh    chan struct{}
	stoppedCh chan struct{}
}

func New(consumer Consumer, processor MessageProcessor, tp transport.Transport, cfg Config) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.ContentionMaxAge <= 0 {
		cfg.ContentionMaxAge = 2 * time.Minute
	}
	return &Worker{
		consumer:  consumer,
		processor: processor,
		transport: tp,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.Concurrency),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

func (w *Worker) Run(ctx context.Context) error {
	defer close(w.stoppedCh)

	slog.InfoContext(ctx, "worker started", "concurrency", w.cfg.Concurrency)

	for {
		select {
		case <-ctx.Done():
			w.wg.Wait()
			return ctx.Err()
		case <-w.stopCh:
			slog.InfoContext(ctx, "worker stopping, draining in-flight jobs")
			w.wg.Wait()
			return nil
		default:
			if err := w.processOneBatch(ctx); err != nil {
				slog.ErrorContext(ctx, "batch processing error", "error", err)
				// Brief backoff on error
				time.Sleep(time.Second)
			}
		}
	}
}

func (w *Worker) Stop() {
	close(w.stopCh)
	<-w.stoppedCh
}

func (w *Worker) processOneBatch(ctx context.Context) error {
	messages, err := w.consumer.Read(ctx)
	if err != nil {
		return fmt.Errorf("reading from stream: %w", err)
	}

	for _, msg := range messages {
		w.wg.Add(1)
		go func(msg queue.Message) {
			defer w.wg.Done()
			w.Handle(ctx, msg)
		}(msg)
	}

	return nil
}

// Handle takes a concurrency slot, runs one message through the pipeline and
// settles it: ack on success, retry policy on failure. Exported so the
// reclaimer can reuse it for messages recovered from crashed consumers;
// reclaimed jobs count against the same ceiling.
func (w *Worker) Handle(ctx context.Context, msg queue.Message) {
	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	slog.InfoContext(ctx, "processing message",
		"job_id", msg.ID,
		"job_key", msg.Job.JobKey,
		"conversation_id", msg.Job.ConversationID,
		"content_kind", msg.Job.Content.Kind,
		"attempt", msg.Attempt)

	if err := w.processMessageSafe(ctx, msg); err != nil {
		w.handleFailedMessage(ctx, msg, err)
		return
	}
	if err := w.consumer.Ack(ctx, msg); err != nil {
		// Message will be reclaimed; the dedup window makes the
		// redelivery a no-op.
		slog.WarnContext(ctx, "failed to ACK message",
			"error", err,
			"job_id", msg.ID)
	}
}

func (w *Worker) processMessageSafe(ctx context.Context, msg queue.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic recovered in message processing",
				"panic", r,
				"job_id", msg.ID,
				"conversation_id", msg.Job.ConversationID)
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.processor.Process(ctx, msg)
}

// handleFailedMessage applies the retry policy: lock contention is
// redelivered without charging the budget until the job's age exceeds the
// contention bound, fatal errors and exhausted budgets go to the DLQ,
// everything else is a charged requeue.
func (w *Worker) handleFailedMessage(ctx context.Context, msg queue.Message, err error) {
	contended := errors.Is(err, session.ErrLockHeld)
	if contended && time.Since(msg.Job.EnqueuedAt) > w.cfg.ContentionMaxAge {
		slog.WarnContext(ctx, "lock contention exceeded wall-clock bound, charging retry budget",
			"job_id", msg.ID,
			"conversation_id", msg.Job.ConversationID,
			"enqueued_at", msg.Job.EnqueuedAt,
			"bound", w.cfg.ContentionMaxAge)
		contended = false
	}

	switch {
	case contended:
		if requeueErr := w.consumer.RequeueNoCharge(ctx, msg, err.Error()); requeueErr != nil {
			slog.ErrorContext(ctx, "failed to requeue contended message", "error", requeueErr)
		}

	case IsFatal(err):
		slog.ErrorContext(ctx, "fatal processing error, sending to DLQ",
			"job_id", msg.ID,
			"error", err)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}

	case msg.Attempt >= w.cfg.MaxAttempts:
		slog.ErrorContext(ctx, "max attempts reached, sending to DLQ",
			"job_id", msg.ID,
			"conversation_id", msg.Job.ConversationID,
			"attempts", msg.Attempt,
			"error", err)
		w.sendDegradedReply(ctx, msg)
		if dlqErr := w.consumer.SendDLQ(ctx, msg, err.Error()); dlqErr != nil {
			slog.ErrorContext(ctx, "failed to send to DLQ", "error", dlqErr)
		}

	default:
		slog.WarnContext(ctx, "requeuing failed message",
			"job_id", msg.ID,
			"conversation_id", msg.Job.ConversationID,
			"attempt", msg.Attempt,
			"error", err)
		if requeueErr := w.consumer.Requeue(ctx, msg, err.Error()); requeueErr != nil {
			slog.ErrorContext(ctx, "failed to requeue message", "error", requeueErr)
		}
	}
}

// sendDegradedReply tells the user processing gave up, best effort, so the
// conversation does not simply go silent when a job lands in the DLQ.
func (w *Worker) sendDegradedReply(ctx context.Context, msg queue.Message) {
	if w.transport == nil {
		return
	}
	if err := w.transport.SendText(ctx, msg.Job.ConversationID, DegradedReply); err != nil {
		slog.WarnContext(ctx, "degraded reply delivery failed", "error", err)
	}
}
