package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"biosummit.app/concierge/internal/model"
)

const sessionKeyPrefix = "session:"

// Store persists serialized conversation state with a TTL that refreshes on
// every write. Only the conversation's lock holder may call Save.
type Store struct {
	client   *redis.Client
	ttl      time.Duration
	maxTurns int
}

func NewStore(client *redis.Client, ttl time.Duration, maxTurns int) *Store {
	return &Store{client: client, ttl: ttl, maxTurns: maxTurns}
}

// Load fetches the conversation state, or initializes a fresh one when the
// key is absent or expired.
func (s *Store) Load(ctx context.Context, conversationID string) (*model.ConversationState, error) {
	data, err := s.client.Get(ctx, sessionKeyPrefix+conversationID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return model.NewConversationState(conversationID), nil
		}
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var state model.ConversationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	if state.RegistrationStep == "" {
		state.RegistrationStep = model.StepIdle
	}

	slog.DebugContext(ctx, "session loaded",
		"conversation_id", conversationID,
		"turns", len(state.History),
		"registration_step", state.RegistrationStep)
	return &state, nil
}

// Save trims the history to the configured maximum, then persists the state,
// refreshing its TTL.
func (s *Store) Save(ctx context.Context, state *model.ConversationState) error {
	state.TrimHistory(s.maxTurns)

	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	if err := s.client.Set(ctx, sessionKeyPrefix+state.ConversationID, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}

	slog.DebugContext(ctx, "session saved",
		"conversation_id", state.ConversationID,
		"turns", len(state.History),
		"ttl", s.ttl)
	return nil
}
