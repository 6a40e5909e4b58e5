package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"biosummit.app/concierge/common/logger"
	"biosummit.app/concierge/internal/llm"
	"biosummit.app/concierge/internal/model"
	"biosummit.app/concierge/internal/notify"
	"biosummit.app/concierge/internal/queue"
	"biosummit.app/concierge/internal/registration"
	"biosummit.app/concierge/internal/session"
	"biosummit.app/concierge/internal/store"
	"biosummit.app/concierge/internal/transport"
)

// Collaborator interfaces, narrowed to what the pipeline actually calls.
// Defined here so tests can swap fakes without touching Redis or Postgres.

type Deduper interface {
	Seen(ctx context.Context, messageID string) (bool, error)
	Mark(ctx context.Context, messageID string) error
}

type Lease interface {
	Release(ctx context.Context) error
}

type Locker interface {
	Acquire(ctx context.Context, conversationID string) (Lease, error)
}

type SessionStore interface {
	Load(ctx context.Context, conversationID string) (*model.ConversationState, error)
	Save(ctx context.Context, state *model.ConversationState) error
}

// NewSessionLocker adapts the concrete Redis locker to the pipeline's
// Locker interface.
func NewSessionLocker(l *session.Locker) Locker {
	return sessionLocker{inner: l}
}

type sessionLocker struct {
	inner *session.Locker
}

func (l sessionLocker) Acquire(ctx context.Context, conversationID string) (Lease, error) {
	lease, err := l.inner.Acquire(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return lease, nil
}

const (
	// audioFallbackReply is sent when a voice message cannot be understood.
	audioFallbackReply = "Desculpe, não consegui entender seu áudio. " +
		"Pode me enviar sua mensagem em texto, por favor?"

	// DegradedReply is the last-resort answer when the job's retry budget
	// is exhausted; the user still gets a response even though the job is
	// archived for the operators.
	DegradedReply = "Desculpe, estou com dificuldades técnicas no momento. " +
		"Por favor, tente novamente em alguns minutos."
)

// Processor runs the full pipeline for one inbound message: lock, dedup,
// content extraction, registration step or LLM chat, persistence, outbound
// delivery.
type Processor struct {
	deduper      Deduper
	locker       Locker
	sessions     SessionStore
	participants store.ParticipantStore
	responder    llm.Responder
	transcriber  llm.Transcriber
	notifier     notify.Notifier
	transport    transport.Transport
}

func NewProcessor(
	deduper Deduper,
	locker Locker,
	sessions SessionStore,
	participants store.ParticipantStore,
	responder llm.Responder,
	transcriber llm.Transcriber,
	notifier notify.Notifier,
	tp transport.Transport,
) *Processor {
	return &Processor{
		deduper:      deduper,
		locker:       locker,
		sessions:     sessions,
		participants: participants,
		responder:    responder,
		transcriber:  transcriber,
		notifier:     notifier,
		transport:    tp,
	}
}

// Process handles one delivered message. Returning session.ErrLockHeld
// signals contention; a fatal-wrapped error signals the DLQ; any other error
// is transient and charged against the retry budget.
func (p *Processor) Process(ctx context.Context, msg queue.Message) error {
	job := msg.Job
	ctx = logger.WithLogFields(ctx, logger.LogFields{
		ConversationID: &job.ConversationID,
		MessageID:      &job.MessageID,
		JobID:          &msg.ID,
		Attempt:        &msg.Attempt,
		Component:      "concierge.worker.processor",
	})

	lease, err := p.locker.Acquire(ctx, job.ConversationID)
	if err != nil {
		if errors.Is(err, session.ErrLockHeld) {
			slog.InfoContext(ctx, "conversation busy, will redeliver")
			return err
		}
		return fmt.Errorf("acquiring conversation lock: %w", err)
	}
	defer func() {
		if releaseErr := lease.Release(ctx); releaseErr != nil {
			slog.WarnContext(ctx, "lock release failed, lease will expire", "error", releaseErr)
		}
	}()

	// The dedup check runs under the lock, so concurrent deliveries of the
	// same message cannot both pass it.
	seen, err := p.deduper.Seen(ctx, job.MessageID)
	if err != nil {
		return fmt.Errorf("checking dedup window: %w", err)
	}
	if seen {
		slog.InfoContext(ctx, "duplicate delivery, dropping")
		return nil
	}

	text, handled, err := p.extractText(ctx, job)
	if err != nil {
		return err
	}
	if handled {
		// Audio that could not be understood: the fallback reply already
		// went out, nothing else to do.
		return p.finish(ctx, job.MessageID)
	}

	state, err := p.sessions.Load(ctx, job.ConversationID)
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}

	step := string(state.RegistrationStep)
	ctx = logger.WithLogFields(ctx, logger.LogFields{RegistrationStep: &step})

	result, err := registration.Step(ctx, state.RegistrationStep, state.RegistrationData, text, p.participants)
	if err != nil {
		return fmt.Errorf("registration step: %w", err)
	}

	state.RegistrationStep = result.Step
	state.RegistrationData = result.Data

	if result.Completed {
		if err := p.completeRegistration(ctx, state); err != nil {
			return err
		}
	}

	// The responder receives the text as the current message, so the user
	// turn is appended to history only after the reply is composed.
	reply := result.Reply
	if reply == "" {
		reply, err = p.responder.Reply(ctx, state, text)
		if err != nil {
			return fmt.Errorf("llm reply: %w", err)
		}
	}
	state.AddTurn(model.RoleUser, text, time.Now().UTC())
	state.AddTurn(model.RoleAssistant, reply, time.Now().UTC())

	if err := p.transport.SendText(ctx, job.ConversationID, reply); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}

	if err := p.sessions.Save(ctx, state); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	slog.InfoContext(ctx, "message processed",
		"registration_step", result.Step,
		"registration_completed", result.Completed)
	return p.finish(ctx, job.MessageID)
}

// extractText resolves the message content to plain text. For audio it
// transcribes; a failed or empty transcript is answered with a fallback
// reply and the message is considered handled (handled=true).
func (p *Processor) extractText(ctx context.Context, job queue.Job) (text string, handled bool, err error) {
	switch job.Content.Kind {
	case model.ContentText, model.ContentCaption:
		return job.Content.Text, false, nil

	case model.ContentAudioRef:
		transcript, trErr := p.transcriber.Transcribe(ctx, job.Content.AudioURL)
		if trErr != nil || transcript == "" {
			if trErr != nil {
				slog.WarnContext(ctx, "transcription failed, sending fallback reply", "error", trErr)
			} else {
				slog.InfoContext(ctx, "empty transcript, sending fallback reply")
			}
			if sendErr := p.transport.SendText(ctx, job.ConversationID, audioFallbackReply); sendErr != nil {
				return "", false, fmt.Errorf("sending audio fallback: %w", sendErr)
			}
			return "", true, nil
		}
		return transcript, false, nil

	default:
		return "", false, Fatal(fmt.Errorf("unknown content kind %q", job.Content.Kind))
	}
}

// completeRegistration persists the participant and sends the confirmation
// email. A duplicate row means a concurrent registration already won; that
// is not a failure.
func (p *Processor) completeRegistration(ctx context.Context, state *model.ConversationState) error {
	data := state.RegistrationData
	participant := &model.Participant{
		FullName: data.FullName,
		Email:    data.Email,
		CPF:      data.CPF,
	}
	if data.Phone != "" {
		participant.Phone = &data.Phone
	}
	if data.City != "" {
		participant.City = &data.City
	}
	if data.State != "" {
		participant.State = &data.State
	}
	if data.Profile != "" {
		participant.Profile = &data.Profile
	}

	if err := p.participants.Create(ctx, participant); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			slog.WarnContext(ctx, "participant already registered", "cpf_last2", last2(data.CPF))
			return nil
		}
		return fmt.Errorf("persisting participant: %w", err)
	}

	slog.InfoContext(ctx, "registration completed", "participant_id", participant.ID)

	// Confirmation email is best effort; the registration itself is the
	// durable fact.
	if err := p.notifier.SendConfirmation(ctx, participant); err != nil {
		slog.ErrorContext(ctx, "confirmation email failed", "error", err)
	}
	return nil
}

// finish marks the message as processed inside the dedup window. A failed
// mark is logged, not retried: the admission key and the lock already guard
// the common duplicate paths.
func (p *Processor) finish(ctx context.Context, messageID string) error {
	if err := p.deduper.Mark(ctx, messageID); err != nil {
		slog.WarnContext(ctx, "dedup mark failed", "error", err)
	}
	return nil
}

func last2(s string) string {
	if len(s) < 2 {
		return s
	}
	return s[len(s)-2:]
}
