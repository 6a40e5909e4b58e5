package worker_test

import (
	"context"
	"sync"

	"biosummit.app/concierge/internal/model"
	"biosummit.app/concierge/internal/queue"
	"biosummit.app/concierge/internal/worker"
)

type mockPipeline struct {
	processFn func(ctx context.Context, msg queue.Message) error
}

func (m *mockPipeline) Process(ctx context.Context, msg queue.Message) error {
	if m.processFn != nil {
		return m.processFn(ctx, msg)
	}
	return nil
}

type mockConsumer struct {
	mu       sync.Mutex
	acked    []string
	requeued []string
	noCharge []string
	dlq      []string
}

func (m *mockConsumer) record(dst *[]string, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*dst = append(*dst, id)
}

func (m *mockConsumer) Read(_ context.Context) ([]queue.Message, error) {
	return nil, nil
}

func (m *mockConsumer) Ack(_ context.Context, msg queue.Message) error {
	m.record(&m.acked, msg.ID)
	return nil
}

func (m *mockConsumer) Requeue(_ context.Context, msg queue.Message, _ string) error {
	m.record(&m.requeued, msg.ID)
	return nil
}

func (m *mockConsumer) RequeueNoCharge(_ context.Context, msg queue.Message, _ string) error {
	m.record(&m.noCharge, msg.ID)
	return nil
}

func (m *mockConsumer) SendDLQ(_ context.Context, msg queue.Message, _ string) error {
	m.record(&m.dlq, msg.ID)
	return nil
}

func (m *mockConsumer) settled(dst *[]string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(*dst))
	copy(out, *dst)
	return out
}

type mockDeduper struct {
	seenFn func(ctx context.Context, messageID string) (bool, error)
	markFn func(ctx context.Context, messageID string) error
	marked []string
}

func (m *mockDeduper) Seen(ctx context.Context, messageID string) (bool, error) {
	if m.seenFn != nil {
		return m.seenFn(ctx, messageID)
	}
	return false, nil
}

func (m *mockDeduper) Mark(ctx context.Context, messageID string) error {
	m.marked = append(m.marked, messageID)
	if m.markFn != nil {
		return m.markFn(ctx, messageID)
	}
	return nil
}

type mockLease struct {
	released bool
}

func (m *mockLease) Release(_ context.Context) error {
	m.released = true
	return nil
}

type mockLocker struct {
	acquireFn func(ctx context.Context, conversationID string) (worker.Lease, error)
	lease     *mockLease
	acquired  []string
}

func (m *mockLocker) Acquire(ctx context.Context, conversationID string) (worker.Lease, error) {
	m.acquired = append(m.acquired, conversationID)
	if m.acquireFn != nil {
		return m.acquireFn(ctx, conversationID)
	}
	if m.lease == nil {
		m.lease = &mockLease{}
	}
	return m.lease, nil
}

type mockSessionStore struct {
	mu     sync.Mutex
	loadFn func(ctx context.Context, conversationID string) (*model.ConversationState, error)
	saveFn func(ctx context.Context, state *model.ConversationState) error
	saved  []*model.ConversationState
}

func (m *mockSessionStore) Load(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	if m.loadFn != nil {
		return m.loadFn(ctx, conversationID)
	}
	return model.NewConversationState(conversationID), nil
}

func (m *mockSessionStore) Save(ctx context.Context, state *model.ConversationState) error {
	m.mu.Lock()
	m.saved = append(m.saved, state)
	m.mu.Unlock()
	if m.saveFn != nil {
		return m.saveFn(ctx, state)
	}
	return nil
}

func (m *mockSessionStore) lastSaved() *model.ConversationState {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.saved) == 0 {
		return nil
	}
	return m.saved[len(m.saved)-1]
}

type mockParticipantStore struct {
	createFn func(ctx context.Context, p *model.Participant) error
	existsFn func(ctx context.Context, cpf string) (bool, error)
	created  []*model.Participant
}

func (m *mockParticipantStore) Create(ctx context.Context, p *model.Participant) error {
	m.created = append(m.created, p)
	if m.createFn != nil {
		return m.createFn(ctx, p)
	}
	return nil
}

func (m *mockParticipantStore) ExistsByCPF(ctx context.Context, cpf string) (bool, error) {
	if m.existsFn != nil {
		return m.existsFn(ctx, cpf)
	}
	return false, nil
}

type mockResponder struct {
	replyFn func(ctx context.Context, state *model.ConversationState, userText string) (string, error)
	calls   int
}

func (m *mockResponder) Reply(ctx context.Context, state *model.ConversationState, userText string) (string, error) {
	m.calls++
	if m.replyFn != nil {
		return m.replyFn(ctx, state, userText)
	}
	return "resposta do modelo", nil
}

type mockTranscriber struct {
	transcribeFn func(ctx context.Context, audioURL string) (string, error)
	calls        int
}

func (m *mockTranscriber) Transcribe(ctx context.Context, audioURL string) (string, error) {
	m.calls++
	if m.transcribeFn != nil {
		return m.transcribeFn(ctx, audioURL)
	}
	return "", nil
}

type mockNotifier struct {
	sendFn func(ctx context.Context, p *model.Participant) error
	sent   []*model.Participant
}

func (m *mockNotifier) SendConfirmation(ctx context.Context, p *model.Participant) error {
	m.sent = append(m.sent, p)
	if m.sendFn != nil {
		return m.sendFn(ctx, p)
	}
	return nil
}

type sentText struct {
	conversationID string
	text           string
}

type mockTransport struct {
	mu     sync.Mutex
	sendFn func(ctx context.Context, conversationID, text string) error
	sends  []sentText
}

func (m *mockTransport) SendText(ctx context.Context, conversationID, text string) error {
	m.mu.Lock()
	m.sends = append(m.sends, sentText{conversationID: conversationID, text: text})
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(ctx, conversationID, text)
	}
	return nil
}

func (m *mockTransport) sent() []sentText {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]sentText, len(m.sends))
	copy(out, m.sends)
	return out
}
