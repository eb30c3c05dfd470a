package domain

import "time"

type RoomID string

// ShareableID is the short public token used in invite links.
type ShareableID string

// RoomMaxCapacity bounds how many participants may occupy a room at once.
const RoomMaxCapacity = 4

type Room struct {
	ID          RoomID
	ShareableID ShareableID
	IsActive    bool
	// ParticipantIDs is ordered by join time. The host is always the first
	// entry while the room is active.
	ParticipantIDs []ParticipantID
	CreatedAt      time.Time
}

func (r *Room) IsFull() bool {
	return len(r.ParticipantIDs) >= RoomMaxCapacity
}

// HasParticipant reports whether the given participant occupies a slot.
func (r *Room) HasParticipant(id ParticipantID) bool {
	for _, pid := range r.ParticipantIDs {
		if pid == id {
			return true
		}
	}
	return false
}

// RemoveParticipant drops the participant from the roster, preserving the
// relative order of the remaining members.
func (r *Room) RemoveParticipant(id ParticipantID) {
	remaining := r.ParticipantIDs[:0]
	for _, pid := range r.ParticipantIDs {
		if pid != id {
			remaining = append(remaining, pid)
		}
	}
	r.ParticipantIDs = remaining
}
