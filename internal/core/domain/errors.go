package domain

import "errors"

var (
	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomClosed          = errors.New("room is closed")
	ErrRoomFull            = errors.New("room is full")
	ErrAlreadyInRoom       = errors.New("participant already in a room")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrDuplicateIdentity   = errors.New("duplicate participant identity")
)
