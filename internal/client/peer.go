package client

import (
	"sync"

	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"huddle/internal/core/domain"
	"huddle/internal/protocol"
)

// SendFunc delivers a signaling message to the relay.
type SendFunc func(msg *protocol.Message) error

// Peer drives SDP and ICE exchange with one remote participant using the
// perfect-negotiation pattern: the polite side yields to a colliding remote
// offer, the impolite side discards it in favor of its own.
//
// All event handlers run under one mutex, so negotiation steps for the same
// peer never interleave. Peers for different remote participants are fully
// independent.
type Peer struct {
	RemoteParticipantID domain.ParticipantID

	mu   sync.Mutex
	role domain.PeerRole
	conn PeerConnection
	send SendFunc

	makingOffer       bool
	ignoreOffer       bool
	pendingCandidates []webrtc.ICECandidateInit
	destroyed         bool

	logger *zap.SugaredLogger
}

// NewPeer wires a negotiation engine to the connectivity layer for one
// remote participant. Both sides derive the same roles from the pair of IDs
// without exchanging a message.
func NewPeer(selfID, remoteID domain.ParticipantID, conn PeerConnection, send SendFunc, logger *zap.SugaredLogger) *Peer {
	p := &Peer{
		RemoteParticipantID: remoteID,
		role:                domain.NegotiationRole(selfID, remoteID),
		conn:                conn,
		send:                send,
		logger:              logger,
	}

	conn.OnNegotiationNeeded(p.handleNegotiationNeeded)
	conn.OnICECandidate(p.handleLocalCandidate)

	return p
}

func (p *Peer) Role() domain.PeerRole {
	return p.role
}

// OnRemoteTrack registers the remote-media-arrived callback for the
// consuming application.
func (p *Peer) OnRemoteTrack(fn func(track *webrtc.TrackRemote)) {
	p.conn.OnRemoteTrack(fn)
}

// SetLocalMedia replaces the tracks offered to the remote side. The
// connectivity layer raises negotiation-needed on its own afterwards.
func (p *Peer) SetLocalMedia(media *LocalMedia) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return nil
	}

	if err := p.conn.RemoveTracks(); err != nil {
		return err
	}
	if media.Video != nil {
		if err := p.conn.AddTrack(media.Video); err != nil {
			return err
		}
	}
	if media.Audio != nil {
		if err := p.conn.AddTrack(media.Audio); err != nil {
			return err
		}
	}
	return nil
}

// handleNegotiationNeeded produces and sends a local offer. makingOffer is
// cleared on every path out; leaving it stuck would permanently block
// renegotiation.
func (p *Peer) handleNegotiationNeeded() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}

	p.makingOffer = true
	defer func() { p.makingOffer = false }()

	offer, err := p.conn.CreateOffer()
	if err != nil {
		p.logger.Errorw("create offer failed",
			"remote_participant_id", p.RemoteParticipantID, "error", err,
		)
		return
	}
	if err := p.conn.SetLocalDescription(offer); err != nil {
		p.logger.Errorw("apply local offer failed",
			"remote_participant_id", p.RemoteParticipantID, "error", err,
		)
		return
	}

	if err := p.send(&protocol.Message{
		Type:          protocol.MessageSDPDescription,
		DestinationID: string(p.RemoteParticipantID),
		SDP:           &offer,
	}); err != nil {
		p.logger.Errorw("send offer failed",
			"remote_participant_id", p.RemoteParticipantID, "error", err,
		)
	}
}

// HandleRemoteDescription applies an incoming SDP description. A colliding
// offer is discarded on the impolite side; the polite side rolls back its
// own pending offer by applying the remote one.
func (p *Peer) HandleRemoteDescription(desc webrtc.SessionDescription) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}

	collision := desc.Type == webrtc.SDPTypeOffer &&
		(p.makingOffer || p.conn.SignalingState() != webrtc.SignalingStateStable)

	p.ignoreOffer = p.role == domain.RoleImpolite && collision
	if p.ignoreOffer {
		p.logger.Debugw("discarding colliding remote offer",
			"remote_participant_id", p.RemoteParticipantID,
		)
		return
	}

	if err := p.conn.SetRemoteDescription(desc); err != nil {
		p.logger.Errorw("apply remote description failed",
			"remote_participant_id", p.RemoteParticipantID, "error", err,
		)
		return
	}

	p.drainPendingCandidates()

	// An incoming offer requires our answer.
	if desc.Type == webrtc.SDPTypeOffer {
		answer, err := p.conn.CreateAnswer()
		if err != nil {
			p.logger.Errorw("create answer failed",
				"remote_participant_id", p.RemoteParticipantID, "error", err,
			)
			return
		}
		if err := p.conn.SetLocalDescription(answer); err != nil {
			p.logger.Errorw("apply local answer failed",
				"remote_participant_id", p.RemoteParticipantID, "error", err,
			)
			return
		}

		if err := p.send(&protocol.Message{
			Type:          protocol.MessageSDPDescription,
			DestinationID: string(p.RemoteParticipantID),
			SDP:           &answer,
		}); err != nil {
			p.logger.Errorw("send answer failed",
				"remote_participant_id", p.RemoteParticipantID, "error", err,
			)
		}
	}
}

// HandleRemoteCandidate applies an incoming ICE candidate, or queues it when
// no remote description has been applied yet. Queued candidates keep their
// arrival order.
func (p *Peer) HandleRemoteCandidate(candidate webrtc.ICECandidateInit) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}

	if !p.conn.HasRemoteDescription() {
		p.pendingCandidates = append(p.pendingCandidates, candidate)
		return
	}

	p.applyCandidate(candidate)
}

func (p *Peer) drainPendingCandidates() {
	for _, candidate := range p.pendingCandidates {
		p.applyCandidate(candidate)
	}
	p.pendingCandidates = nil
}

func (p *Peer) applyCandidate(candidate webrtc.ICECandidateInit) {
	err := p.conn.AddICECandidate(candidate)
	if err == nil {
		return
	}

	// Stray candidates belonging to an ignored offer are expected to fail
	// and stay quiet; anything else is a reportable negotiation error.
	if p.ignoreOffer {
		p.logger.Debugw("ignoring candidate from discarded offer",
			"remote_participant_id", p.RemoteParticipantID, "error", err,
		)
		return
	}
	p.logger.Errorw("apply ICE candidate failed",
		"remote_participant_id", p.RemoteParticipantID, "error", err,
	)
}

// handleLocalCandidate forwards locally discovered candidates immediately;
// they are never buffered on this side.
func (p *Peer) handleLocalCandidate(candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}

	if err := p.send(&protocol.Message{
		Type:          protocol.MessageIceCandidate,
		DestinationID: string(p.RemoteParticipantID),
		Candidate:     candidate,
	}); err != nil {
		p.logger.Errorw("send ICE candidate failed",
			"remote_participant_id", p.RemoteParticipantID, "error", err,
		)
	}
}

// Destroy detaches the peer from all event sources and closes the
// transport. Steps already started may finish but their results are
// discarded; nothing is sent or processed afterwards.
func (p *Peer) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.destroyed {
		return
	}
	p.destroyed = true
	p.pendingCandidates = nil

	p.conn.OnNegotiationNeeded(func() {})
	p.conn.OnICECandidate(func(*webrtc.ICECandidateInit) {})
	p.conn.OnRemoteTrack(func(*webrtc.TrackRemote) {})

	if err := p.conn.Close(); err != nil {
		p.logger.Debugw("closing peer connection failed",
			"remote_participant_id", p.RemoteParticipantID, "error", err,
		)
	}
}
