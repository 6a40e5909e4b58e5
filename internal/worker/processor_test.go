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
	"biosummit.app/concierge/internal/store"
	"biosummit.app/concierge/internal/worker"
)

var _ = Describe("Processor", func() {
	var (
		ctx          context.Context
		deduper      *mockDeduper
		locker       *mockLocker
		sessions     *mockSessionStore
		participants *mockParticipantStore
		responder    *mockResponder
		transcriber  *mockTranscriber
		notifier     *mockNotifier
		tp           *mockTransport
		processor    *worker.Processor
	)

	textMessage := func(conversationID, messageID, text string) queue.Message {
		content := model.TextContent(text)
		return queue.Message{
			ID: "1-1",
			Job: queue.Job{
				JobKey:         queue.JobKey(messageID, content),
				ConversationID: conversationID,
				MessageID:      messageID,
				Content:        content,
				EnqueuedAt:     time.Now().UTC(),
			},
			Attempt: 1,
		}
	}

	audioMessage := func(conversationID, messageID, url string) queue.Message {
		content := model.AudioContent(url)
		return queue.Message{
			ID: "1-2",
			Job: queue.Job{
				JobKey:         queue.JobKey(messageID, content),
				ConversationID: conversationID,
				MessageID:      messageID,
				Content:        content,
				EnqueuedAt:     time.Now().UTC(),
			},
			Attempt: 1,
		}
	}

	BeforeEach(func() {
		ctx = context.Background()
		deduper = &mockDeduper{}
		locker = &mockLocker{}
		sessions = &mockSessionStore{}
		participants = &mockParticipantStore{}
		responder = &mockResponder{}
		transcriber = &mockTranscriber{}
		notifier = &mockNotifier{}
		tp = &mockTransport{}

		processor = worker.NewProcessor(deduper, locker, sessions, participants, responder, transcriber, notifier, tp)
	})

	Describe("free conversation", func() {
		It("replies via the LLM and persists the session", func() {
			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "qual a data do evento?"))

			Expect(err).NotTo(HaveOccurred())
			Expect(responder.calls).To(Equal(1))

			sends := tp.sent()
			Expect(sends).To(HaveLen(1))
			Expect(sends[0].conversationID).To(Equal("conv-1"))
			Expect(sends[0].text).To(Equal("resposta do modelo"))

			saved := sessions.lastSaved()
			Expect(saved).NotTo(BeNil())
			Expect(saved.History).To(HaveLen(2))
			Expect(saved.History[0].Role).To(Equal(model.RoleUser))
			Expect(saved.History[1].Role).To(Equal(model.RoleAssistant))

			Expect(deduper.marked).To(ConsistOf("msg-1"))
			Expect(locker.lease.released).To(BeTrue())
		})

		It("hands the model the history without the current message", func() {
			sessions.loadFn = func(_ context.Context, conversationID string) (*model.ConversationState, error) {
				state := model.NewConversationState(conversationID)
				state.AddTurn(model.RoleUser, "oi", time.Now().UTC())
				state.AddTurn(model.RoleAssistant, "olá!", time.Now().UTC())
				return state, nil
			}

			var historyAtReply []model.ChatTurn
			responder.replyFn = func(_ context.Context, state *model.ConversationState, userText string) (string, error) {
				historyAtReply = append([]model.ChatTurn(nil), state.History...)
				Expect(userText).To(Equal("qual a data do evento?"))
				return "6 e 7 de maio", nil
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "qual a data do evento?"))

			Expect(err).NotTo(HaveOccurred())
			// The current text reaches the model once, as the latest message,
			// never also as the tail of the history.
			Expect(historyAtReply).To(HaveLen(2))
			for _, turn := range historyAtReply {
				Expect(turn.Text).NotTo(Equal("qual a data do evento?"))
			}

			saved := sessions.lastSaved()
			Expect(saved.History).To(HaveLen(4))
			Expect(saved.History[2].Text).To(Equal("qual a data do evento?"))
			Expect(saved.History[3].Text).To(Equal("6 e 7 de maio"))
		})

		It("propagates LLM failure as a transient error without saving", func() {
			responder.replyFn = func(_ context.Context, _ *model.ConversationState, _ string) (string, error) {
				return "", errors.New("llm reply after 3 attempts: rate limited")
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "oi"))

			Expect(err).To(HaveOccurred())
			Expect(worker.IsFatal(err)).To(BeFalse())
			Expect(sessions.saved).To(BeEmpty())
			Expect(deduper.marked).To(BeEmpty())
			Expect(locker.lease.released).To(BeTrue())
		})
	})

	Describe("idempotence", func() {
		It("drops a message already inside the dedup window", func() {
			deduper.seenFn = func(_ context.Context, _ string) (bool, error) {
				return true, nil
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "oi"))

			Expect(err).NotTo(HaveOccurred())
			Expect(responder.calls).To(BeZero())
			Expect(tp.sent()).To(BeEmpty())
			Expect(sessions.saved).To(BeEmpty())
			Expect(locker.lease.released).To(BeTrue())
		})
	})

	Describe("mutual exclusion", func() {
		It("returns ErrLockHeld untouched when the conversation is busy", func() {
			locker.acquireFn = func(_ context.Context, _ string) (worker.Lease, error) {
				return nil, session.ErrLockHeld
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "oi"))

			Expect(err).To(MatchError(session.ErrLockHeld))
			Expect(responder.calls).To(BeZero())
			Expect(sessions.saved).To(BeEmpty())
			Expect(tp.sent()).To(BeEmpty())
		})
	})

	Describe("registration flow", func() {
		It("answers with the deterministic prompt instead of the LLM", func() {
			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "quero me inscrever"))

			Expect(err).NotTo(HaveOccurred())
			Expect(responder.calls).To(BeZero())

			sends := tp.sent()
			Expect(sends).To(HaveLen(1))
			Expect(sends[0].text).To(ContainSubstring("nome completo"))

			saved := sessions.lastSaved()
			Expect(saved.RegistrationStep).To(Equal(model.StepAskingName))
		})

		It("persists the participant and notifies on completion", func() {
			sessions.loadFn = func(_ context.Context, conversationID string) (*model.ConversationState, error) {
				state := model.NewConversationState(conversationID)
				state.RegistrationStep = model.StepConfirming
				state.RegistrationData = model.RegistrationData{
					FullName: "Maria da Silva",
					Email:    "maria@exemplo.com.br",
					CPF:      "12345678910",
					Phone:    "+55 41 99938-0969",
					City:     "Londrina",
					State:    "PR",
					Profile:  "Produtor rural",
				}
				return state, nil
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "sim"))

			Expect(err).NotTo(HaveOccurred())
			Expect(participants.created).To(HaveLen(1))
			Expect(participants.created[0].CPF).To(Equal("12345678910"))
			Expect(participants.created[0].Email).To(Equal("maria@exemplo.com.br"))
			Expect(notifier.sent).To(HaveLen(1))

			saved := sessions.lastSaved()
			Expect(saved.RegistrationStep).To(Equal(model.StepCompleted))

			sends := tp.sent()
			Expect(sends).To(HaveLen(1))
			Expect(sends[0].text).To(ContainSubstring("sucesso"))
		})

		It("tolerates a concurrent registration winning the unique constraint", func() {
			sessions.loadFn = func(_ context.Context, conversationID string) (*model.ConversationState, error) {
				state := model.NewConversationState(conversationID)
				state.RegistrationStep = model.StepConfirming
				state.RegistrationData = model.RegistrationData{
					FullName: "Maria da Silva",
					Email:    "maria@exemplo.com.br",
					CPF:      "12345678910",
				}
				return state, nil
			}
			participants.createFn = func(_ context.Context, _ *model.Participant) error {
				return store.ErrDuplicate
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "sim"))

			Expect(err).NotTo(HaveOccurred())
			Expect(notifier.sent).To(BeEmpty())
			Expect(tp.sent()).To(HaveLen(1))
		})

		It("keeps the job retryable when persistence fails", func() {
			sessions.loadFn = func(_ context.Context, conversationID string) (*model.ConversationState, error) {
				state := model.NewConversationState(conversationID)
				state.RegistrationStep = model.StepConfirming
				state.RegistrationData = model.RegistrationData{
					FullName: "Maria da Silva",
					Email:    "maria@exemplo.com.br",
					CPF:      "12345678910",
				}
				return state, nil
			}
			participants.createFn = func(_ context.Context, _ *model.Participant) error {
				return errors.New("connection refused")
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "sim"))

			Expect(err).To(HaveOccurred())
			Expect(worker.IsFatal(err)).To(BeFalse())
			Expect(sessions.saved).To(BeEmpty())
			Expect(deduper.marked).To(BeEmpty())
		})
	})

	Describe("audio messages", func() {
		It("transcribes and processes the transcript", func() {
			transcriber.transcribeFn = func(_ context.Context, _ string) (string, error) {
				return "quero me inscrever", nil
			}

			err := processor.Process(ctx, audioMessage("conv-1", "msg-1", "https://cdn.example/voice.ogg"))

			Expect(err).NotTo(HaveOccurred())
			Expect(transcriber.calls).To(Equal(1))

			saved := sessions.lastSaved()
			Expect(saved.RegistrationStep).To(Equal(model.StepAskingName))
			Expect(saved.History[0].Text).To(Equal("quero me inscrever"))
		})

		It("sends the fallback reply on an empty transcript", func() {
			err := processor.Process(ctx, audioMessage("conv-1", "msg-1", "https://cdn.example/voice.ogg"))

			Expect(err).NotTo(HaveOccurred())
			Expect(responder.calls).To(BeZero())

			sends := tp.sent()
			Expect(sends).To(HaveLen(1))
			Expect(sends[0].text).To(ContainSubstring("áudio"))

			Expect(sessions.saved).To(BeEmpty())
			Expect(deduper.marked).To(ConsistOf("msg-1"))
		})

		It("sends the fallback reply when transcription fails", func() {
			transcriber.transcribeFn = func(_ context.Context, _ string) (string, error) {
				return "", errors.New("whisper unavailable")
			}

			err := processor.Process(ctx, audioMessage("conv-1", "msg-1", "https://cdn.example/voice.ogg"))

			Expect(err).NotTo(HaveOccurred())
			Expect(tp.sent()).To(HaveLen(1))
			Expect(deduper.marked).To(ConsistOf("msg-1"))
		})
	})

	Describe("malformed content", func() {
		It("classifies an unknown content kind as fatal", func() {
			msg := textMessage("conv-1", "msg-1", "oi")
			msg.Job.Content = model.MessageContent{Kind: "video"}

			err := processor.Process(ctx, msg)

			Expect(err).To(HaveOccurred())
			Expect(worker.IsFatal(err)).To(BeTrue())
		})
	})

	Describe("reply ordering", func() {
		It("sends the reply before marking the dedup window", func() {
			tp.sendFn = func(_ context.Context, _, _ string) error {
				return errors.New("gateway 502")
			}

			err := processor.Process(ctx, textMessage("conv-1", "msg-1", "oi"))

			Expect(err).To(HaveOccurred())
			// A retry must not be dropped as a duplicate before the user
			// ever saw a reply.
			Expect(deduper.marked).To(BeEmpty())
			Expect(sessions.saved).To(BeEmpty())
		})
	})
})
