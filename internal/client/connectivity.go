package client

import (
	"context"

	"github.com/pion/webrtc/v3"
)

// PeerConnection abstracts the connectivity layer driving one peer-to-peer
// transport. The negotiation engine only talks to this interface, so the
// perfect-negotiation logic is testable without a live transport.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddICECandidate(candidate webrtc.ICECandidateInit) error

	SignalingState() webrtc.SignalingState
	HasRemoteDescription() bool

	AddTrack(track webrtc.TrackLocal) error
	RemoveTracks() error

	// OnNegotiationNeeded fires whenever local media or transport state
	// requires a new offer.
	OnNegotiationNeeded(fn func())
	// OnICECandidate fires for every locally discovered candidate. A nil
	// candidate marks the end of gathering.
	OnICECandidate(fn func(candidate *webrtc.ICECandidateInit))
	// OnRemoteTrack fires when remote media arrives.
	OnRemoteTrack(fn func(track *webrtc.TrackRemote))

	Close() error
}

// LocalMedia holds the local capture tracks attached to every peer.
type LocalMedia struct {
	Video webrtc.TrackLocal
	Audio webrtc.TrackLocal
}

// MediaSource acquires local camera and microphone tracks. Device access is
// the application's concern; the engine only attaches whatever it is given.
type MediaSource interface {
	AcquireLocalTracks(ctx context.Context) (*LocalMedia, error)
}
