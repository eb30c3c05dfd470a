package domain

import "time"

type ParticipantID string

// ConnectionID identifies a single live websocket connection. It is assigned
// fresh on every connect, so a reconnecting client always gets a new
// participant record.
type ConnectionID string

type Participant struct {
	ID           ParticipantID
	ConnectionID ConnectionID
	IsActive     bool
	IsHost       bool
	RoomID       *RoomID
	JoinedAt     time.Time
}

// InRoom reports whether the participant currently occupies a room slot.
func (p *Participant) InRoom() bool {
	return p.RoomID != nil
}
