package model

import "time"

// Chat roles as stored in session history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is a single message in a conversation's history, appended in
// strict arrival order.
type ChatTurn struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationState is everything the worker knows about one ongoing
// dialogue: recent history plus registration progress. It is loaded once per
// job, mutated only by the lock holder, and persisted back atomically.
type ConversationState struct {
	ConversationID   string           `json:"conversation_id"`
	History          []ChatTurn       `json:"history"`
	RegistrationStep RegistrationStep `json:"registration_step"`
	RegistrationData RegistrationData `json:"registration_data"`
}

// NewConversationState returns a fresh state at IDLE.
func NewConversationState(conversationID string) *ConversationState {
	return &ConversationState{
		ConversationID:   conversationID,
		RegistrationStep: StepIdle,
	}
}

// AddTurn appends a turn to the history.
func (s *ConversationState) AddTurn(role, text string, at time.Time) {
	s.History = append(s.History, ChatTurn{Role: role, Text: text, Timestamp: at})
}

// TrimHistory drops the oldest turns so that at most maxTurns remain.
func (s *ConversationState) TrimHistory(maxTurns int) {
	if maxTurns <= 0 || len(s.History) <= maxTurns {
		return
	}
	s.History = s.History[len(s.History)-maxTurns:]
}

// RecentTurns returns up to maxTurns of the most recent history, oldest
// first, for prompt construction.
func (s *ConversationState) RecentTurns(maxTurns int) []ChatTurn {
	if maxTurns <= 0 || len(s.History) <= maxTurns {
		return s.History
	}
	return s.History[len(s.History)-maxTurns:]
}
