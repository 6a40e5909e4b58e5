package store

import (
	"context"
	"errors"

	"biosummit.app/concierge/internal/model"
)

// ErrDuplicate is returned when a unique constraint rejects the write.
var ErrDuplicate = errors.New("store: duplicate")

// ParticipantStore persists confirmed event registrations.
type ParticipantStore interface {
	Create(ctx context.Context, p *model.Participant) error
	ExistsByCPF(ctx context.Context, cpf string) (bool, error)
}
