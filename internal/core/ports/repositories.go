package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// RoomTx is the view of the store inside a transaction. Everything read or
// written through it commits atomically when the transaction function returns
// nil, and is discarded when it returns an error.
type RoomTx interface {
	GetRoom(id domain.RoomID) (*domain.Room, error)
	GetRoomByShareableID(id domain.ShareableID) (*domain.Room, error)
	GetParticipant(id domain.ParticipantID) (*domain.Participant, error)
	SaveRoom(room *domain.Room) error
	SaveParticipant(p *domain.Participant) error
}

type RoomRepository interface {
	GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error)
	GetRoomByShareableID(ctx context.Context, id domain.ShareableID) (*domain.Room, error)
	GetParticipant(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error)
	GetParticipantByConnection(ctx context.Context, id domain.ConnectionID) (*domain.Participant, error)
	SaveParticipant(ctx context.Context, p *domain.Participant) error

	// Transaction runs fn against a consistent snapshot and commits all
	// writes atomically. Transactions touching the same records are
	// serialized, so a check-then-act sequence (capacity check + roster
	// append) cannot interleave with a concurrent one.
	Transaction(ctx context.Context, fn func(tx RoomTx) error) error
}
