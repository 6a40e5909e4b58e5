package worker_test

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"biosummit.app/concierge/internal/model"
	"biosummit.app/concierge/internal/queue"
	"biosummit.app/concierge/internal/session"
	"biosummit.app/concierge/internal/worker"
)

var _ = Describe("Worker", func() {
	var (
		ctx      context.Context
		consumer *mockConsumer
		pipeline *mockPipeline
		tp       *mockTransport
	)

	message := func(id string, attempt int, enqueuedAt time.Time) queue.Message {
		return queue.Message{
			ID: id,
			Job: queue.Job{
				JobKey:         "job-" + id,
				ConversationID: "conv-1",
				MessageID:      "msg-" + id,
				Content:        model.TextContent("oi"),
				EnqueuedAt:     enqueuedAt,
			},
			Attempt: attempt,
		}
	}

	newWorker := func(cfg worker.Config) *worker.Worker {
		return worker.New(consumer, pipeline, tp, cfg)
	}

	BeforeEach(func() {
		ctx = context.Background()
		consumer = &mockConsumer{}
		pipeline = &mockPipeline{}
		tp = &mockTransport{}
	})

	It("acks a processed message", func() {
		w := newWorker(worker.Config{})

		w.Handle(ctx, message("1-1", 1, time.Now().UTC()))

		Expect(consumer.settled(&consumer.acked)).To(ConsistOf("1-1"))
		Expect(consumer.settled(&consumer.requeued)).To(BeEmpty())
	})

	It("redelivers fresh lock contention without charging the budget", func() {
		pipeline.processFn = func(_ context.Context, _ queue.Message) error {
			return session.ErrLockHeld
		}
		w := newWorker(worker.Config{MaxAttempts: 5})

		w.Handle(ctx, message("1-1", 1, time.Now().UTC()))

		Expect(consumer.settled(&consumer.noCharge)).To(ConsistOf("1-1"))
		Expect(consumer.settled(&consumer.requeued)).To(BeEmpty())
		Expect(consumer.settled(&consumer.dlq)).To(BeEmpty())
	})

	It("charges the budget once contention outlives the wall-clock bound", func() {
		pipeline.processFn = func(_ context.Context, _ queue.Message) error {
			return session.ErrLockHeld
		}
		w := newWorker(worker.Config{MaxAttempts: 5, ContentionMaxAge: time.Minute})

		w.Handle(ctx, message("1-1", 1, time.Now().UTC().Add(-10*time.Minute)))

		Expect(consumer.settled(&consumer.noCharge)).To(BeEmpty())
		Expect(consumer.settled(&consumer.requeued)).To(ConsistOf("1-1"))
	})

	It("archives long-contended jobs once the retry budget is spent", func() {
		pipeline.processFn = func(_ context.Context, _ queue.Message) error {
			return session.ErrLockHeld
		}
		w := newWorker(worker.Config{MaxAttempts: 5, ContentionMaxAge: time.Minute})

		w.Handle(ctx, message("1-1", 5, time.Now().UTC().Add(-10*time.Minute)))

		Expect(consumer.settled(&consumer.noCharge)).To(BeEmpty())
		Expect(consumer.settled(&consumer.dlq)).To(ConsistOf("1-1"))
	})

	It("sends fatal failures straight to the DLQ", func() {
		pipeline.processFn = func(_ context.Context, _ queue.Message) error {
			return worker.Fatal(errors.New("unknown content kind"))
		}
		w := newWorker(worker.Config{MaxAttempts: 5})

		w.Handle(ctx, message("1-1", 1, time.Now().UTC()))

		Expect(consumer.settled(&consumer.dlq)).To(ConsistOf("1-1"))
		Expect(consumer.settled(&consumer.requeued)).To(BeEmpty())
	})

	It("sends the degraded reply when the retry budget is exhausted", func() {
		pipeline.processFn = func(_ context.Context, _ queue.Message) error {
			return errors.New("llm unavailable")
		}
		w := newWorker(worker.Config{MaxAttempts: 3})

		w.Handle(ctx, message("1-1", 3, time.Now().UTC()))

		Expect(consumer.settled(&consumer.dlq)).To(ConsistOf("1-1"))
		sends := tp.sent()
		Expect(sends).To(HaveLen(1))
		Expect(sends[0].text).To(Equal(worker.DegradedReply))
	})

	It("requeues a panicking job as a transient failure", func() {
		pipeline.processFn = func(_ context.Context, _ queue.Message) error {
			panic("boom")
		}
		w := newWorker(worker.Config{MaxAttempts: 5})

		w.Handle(ctx, message("1-1", 1, time.Now().UTC()))

		Expect(consumer.settled(&consumer.requeued)).To(ConsistOf("1-1"))
	})

	It("caps in-flight jobs at the concurrency ceiling, reclaimed ones included", func() {
		started := make(chan string, 2)
		release := make(chan struct{})
		pipeline.processFn = func(_ context.Context, msg queue.Message) error {
			started <- msg.ID
			<-release
			return nil
		}
		w := newWorker(worker.Config{Concurrency: 1})

		go w.Handle(ctx, message("1-1", 1, time.Now().UTC()))
		go w.Handle(ctx, message("1-2", 1, time.Now().UTC()))

		Eventually(started).Should(Receive())
		Consistently(started, 100*time.Millisecond).ShouldNot(Receive())

		close(release)
		Eventually(started).Should(Receive())
		Eventually(func() []string {
			return consumer.settled(&consumer.acked)
		}).Should(ConsistOf("1-1", "1-2"))
	})
})
