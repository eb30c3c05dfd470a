// Package validation holds the format checks applied to untrusted wire
// input before it reaches the store or the dialer.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
)

var (
	// shareableRoomIDRegex matches the short invite tokens handed out on
	// room creation.
	shareableRoomIDRegex = regexp.MustCompile(`^[a-z0-9]{1,64}$`)

	// participantIDRegex matches relay-assigned participant identifiers.
	participantIDRegex = regexp.MustCompile(`^[a-zA-Z0-9-]{1,100}$`)
)

// ValidateShareableRoomID checks the invite token a client presents when
// joining. Anything outside the generated format can never name a room.
func ValidateShareableRoomID(id string) error {
	if id == "" {
		return fmt.Errorf("room ID is required")
	}
	if !shareableRoomIDRegex.MatchString(id) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateParticipantID checks a destination identifier on a forwarded
// negotiation message.
func ValidateParticipantID(id string) error {
	if id == "" {
		return fmt.Errorf("participant ID is required")
	}
	if !participantIDRegex.MatchString(id) {
		return fmt.Errorf("invalid participant ID format")
	}
	return nil
}

// ValidateRelayURL checks a relay endpoint before dialing it.
func ValidateRelayURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay URL scheme must be ws or wss")
	}
	if u.Host == "" {
		return fmt.Errorf("relay URL must have a host")
	}
	return nil
}
