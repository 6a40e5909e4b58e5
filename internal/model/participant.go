package model

import "time"

// Participant is a completed event registration. Uniqueness is enforced by
// the store on CPF and email.
type Participant struct {
	ID        int64     `json:"id"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email"`
	CPF       string    `json:"cpf"`
	Phone     *string   `json:"phone,omitempty"`
	City      *string   `json:"city,omitempty"`
	State     *string   `json:"state,omitempty"`
	Profile   *string   `json:"profile,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
