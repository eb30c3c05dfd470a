// Package protocol defines the closed set of JSON envelopes exchanged over
// the relay websocket. The same definitions are used by the relay server and
// the client so the two ends cannot drift apart.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v3"

	"huddle/internal/core/domain"
)

type MessageType string

const (
	MessageCreateRoom        MessageType = "create-room"
	MessageJoinRoom          MessageType = "join-room"
	MessageParticipantJoined MessageType = "participant-joined"
	MessageParticipantLeft   MessageType = "participant-left"
	MessageRoomClosed        MessageType = "room-closed"
	MessageSDPDescription    MessageType = "sdp-description"
	MessageIceCandidate      MessageType = "ice-candidate"
)

// ReasonHostLeft is the room-closed reason sent when the host disconnects.
const ReasonHostLeft = "Host left."

// Message is the single wire envelope. Which fields are meaningful depends on
// Type; unused fields are omitted from the JSON encoding.
type Message struct {
	Type MessageType `json:"type"`

	// Room commands and responses.
	RoomID           string `json:"roomID,omitempty"`
	ParticipantID    string `json:"participantID,omitempty"`
	ParticipantCount int    `json:"participantCount,omitempty"`
	Error            string `json:"error,omitempty"`

	// Point-to-point negotiation messages carry the addressee on requests
	// and the originator on forwarded responses.
	DestinationID string                     `json:"destinationID,omitempty"`
	SenderID      string                     `json:"senderID,omitempty"`
	SDP           *webrtc.SessionDescription `json:"sdp,omitempty"`
	Candidate     *webrtc.ICECandidateInit   `json:"candidate,omitempty"`

	// Room-closed responses explain why.
	Reason string `json:"reason,omitempty"`
}

// Decode parses a wire envelope and rejects messages outside the closed
// type union.
func Decode(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("malformed message: %w", err)
	}

	switch msg.Type {
	case MessageCreateRoom, MessageJoinRoom, MessageParticipantJoined,
		MessageParticipantLeft, MessageRoomClosed,
		MessageSDPDescription, MessageIceCandidate:
		return &msg, nil
	default:
		return nil, fmt.Errorf("unknown message type: %q", msg.Type)
	}
}

func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

// ErrorText maps the user-facing room errors onto the strings clients show
// to people. Other errors never cross the relay boundary.
func ErrorText(err error) string {
	switch err {
	case domain.ErrRoomNotFound:
		return "Room not found."
	case domain.ErrRoomClosed:
		return "Room is closed."
	case domain.ErrRoomFull:
		return "Room is full."
	default:
		return "Internal error."
	}
}
