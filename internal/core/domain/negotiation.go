package domain

// PeerRole decides which side of a negotiation pair yields when both ends
// raise an offer at the same time ("perfect negotiation").
type PeerRole string

const (
	// RolePolite rolls back its own pending offer and accepts the remote one.
	RolePolite PeerRole = "polite"
	// RoleImpolite discards a colliding remote offer in favor of its own.
	RoleImpolite PeerRole = "impolite"
)

// NegotiationRole derives the role for the local side of a pair. Both peers
// compute this independently from the same two IDs, so no coordination
// message is needed: the lexicographically larger ID is impolite.
func NegotiationRole(self, remote ParticipantID) PeerRole {
	if self > remote {
		return RoleImpolite
	}
	return RolePolite
}
