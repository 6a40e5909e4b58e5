package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"biosummit.app/concierge/common/id"
	"biosummit.app/concierge/core/db"
	"biosummit.app/concierge/internal/model"
)

type participantStore struct {
	db *db.DB
}

func NewParticipantStore(database *db.DB) ParticipantStore {
	return &participantStore{db: database}
}

func (s *participantStore) Create(ctx context.Context, p *model.Participant) error {
	if p.ID == 0 {
		p.ID = id.New()
	}

	row := s.db.Pool().QueryRow(ctx, `
		INSERT INTO participants (id, full_name, email, cpf, phone, city, state, profile)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		p.ID, p.FullName, p.Email, p.CPF, p.Phone, p.City, p.State, p.Profile,
	)
	if err := row.Scan(&p.CreatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("creating participant: %w", err)
	}
	return nil
}

func (s *participantStore) ExistsByCPF(ctx context.Context, cpf string) (bool, error) {
	var exists bool
	row := s.db.Pool().QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM participants WHERE cpf = $1)`, cpf)
	if err := row.Scan(&exists); err != nil {
		return false, fmt.Errorf("checking participant cpf: %w", err)
	}
	return exists, nil
}
