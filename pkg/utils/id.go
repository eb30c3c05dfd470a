package utils

import (
	"crypto/rand"

	"github.com/google/uuid"
)

// shareableAlphabet avoids characters that are easy to misread in an invite
// link typed by hand.
const shareableAlphabet = "abcdefghijkmnpqrstuvwxyz23456789"

const shareableIDLength = 8

// GenerateParticipantID returns a fresh opaque participant identity.
func GenerateParticipantID() string {
	return uuid.NewString()
}

// GenerateConnectionID returns the transient identity of a live connection.
func GenerateConnectionID() string {
	return uuid.NewString()
}

// GenerateRoomID returns the internal room identity.
func GenerateRoomID() string {
	return uuid.NewString()
}

// GenerateShareableID returns the short public token used in invite links.
func GenerateShareableID() string {
	b := make([]byte, shareableIDLength)
	rand.Read(b)
	for i := range b {
		b[i] = shareableAlphabet[int(b[i])%len(shareableAlphabet)]
	}
	return string(b)
}
