package ports

import (
	"context"

	"huddle/internal/core/domain"
)

// LeaveResult describes what a leave committed and who must be told about it.
type LeaveResult struct {
	RoomID domain.RoomID
	// RoomClosed is true when the leaving participant was the host; the
	// room is terminal from then on.
	RoomClosed bool
	// NotifyIDs lists the other members that must receive the
	// participant-left or room-closed broadcast.
	NotifyIDs []domain.ParticipantID
}

type RoomService interface {
	CreateRoom(ctx context.Context, participantID domain.ParticipantID) (*domain.Room, error)

	// JoinRoom returns the joined room together with the other members so
	// the caller can notify them.
	JoinRoom(ctx context.Context, participantID domain.ParticipantID, shareableID domain.ShareableID) (*domain.Room, []*domain.Participant, error)

	// Leave is idempotent: a second call for the same participant returns
	// an empty result and no error.
	Leave(ctx context.Context, participantID domain.ParticipantID) (*LeaveResult, error)
}
