package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"
)

// PionPeerConnection adapts a pion *webrtc.PeerConnection to the
// PeerConnection interface consumed by the negotiation engine.
type PionPeerConnection struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	senders []*webrtc.RTPSender
}

func NewPionPeerConnection(stunServers []string) (*PionPeerConnection, error) {
	cfg := webrtc.Configuration{}
	if len(stunServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: stunServers}}
	}

	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}

	return &PionPeerConnection{pc: pc}, nil
}

func (c *PionPeerConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *PionPeerConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *PionPeerConnection) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *PionPeerConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *PionPeerConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(candidate)
}

func (c *PionPeerConnection) SignalingState() webrtc.SignalingState {
	return c.pc.SignalingState()
}

func (c *PionPeerConnection) HasRemoteDescription() bool {
	return c.pc.RemoteDescription() != nil
}

func (c *PionPeerConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.pc.AddTrack(track)
	if err != nil {
		return fmt.Errorf("add track: %w", err)
	}

	c.mu.Lock()
	c.senders = append(c.senders, sender)
	c.mu.Unlock()
	return nil
}

func (c *PionPeerConnection) RemoveTracks() error {
	c.mu.Lock()
	senders := c.senders
	c.senders = nil
	c.mu.Unlock()

	for _, sender := range senders {
		if err := c.pc.RemoveTrack(sender); err != nil {
			return fmt.Errorf("remove track: %w", err)
		}
	}
	return nil
}

func (c *PionPeerConnection) OnNegotiationNeeded(fn func()) {
	c.pc.OnNegotiationNeeded(fn)
}

func (c *PionPeerConnection) OnICECandidate(fn func(candidate *webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			fn(nil)
			return
		}
		init := candidate.ToJSON()
		fn(&init)
	})
}

func (c *PionPeerConnection) OnRemoteTrack(fn func(track *webrtc.TrackRemote)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(track)
	})
}

func (c *PionPeerConnection) Close() error {
	return c.pc.Close()
}
