package client

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pion/webrtc/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"huddle/internal/core/domain"
	"huddle/internal/protocol"
)

func newTestPeer(t *testing.T, selfID, remoteID string) (*Peer, *fakeConn, *sentLog) {
	t.Helper()
	conn := newFakeConn()
	log := &sentLog{}
	p := NewPeer(domain.ParticipantID(selfID), domain.ParticipantID(remoteID),
		conn, log.send, zaptest.NewLogger(t).Sugar())
	return p, conn, log
}

func TestNegotiationNeededSendsOffer(t *testing.T) {
	p, conn, log := newTestPeer(t, "aaa", "bbb")

	p.handleNegotiationNeeded()

	require.Len(t, conn.localDescs, 1)
	assert.Equal(t, webrtc.SDPTypeOffer, conn.localDescs[0].Type)

	sent := log.all()
	require.Len(t, sent, 1)
	assert.Equal(t, protocol.MessageSDPDescription, sent[0].Type)
	assert.Equal(t, "bbb", sent[0].DestinationID)
	require.NotNil(t, sent[0].SDP)
	assert.Equal(t, webrtc.SDPTypeOffer, sent[0].SDP.Type)

	assert.False(t, p.makingOffer, "flag must be cleared once the offer is out")
}

func TestMakingOfferClearedOnFailure(t *testing.T) {
	p, conn, log := newTestPeer(t, "aaa", "bbb")
	conn.createOfferErr = errors.New("no transceivers")

	p.handleNegotiationNeeded()

	assert.Empty(t, log.all())
	assert.False(t, p.makingOffer, "a failed offer must not block future negotiation")

	// The next incoming offer must be treated as collision-free.
	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})
	assert.False(t, p.ignoreOffer)
	require.Len(t, conn.remoteDescs, 1)
}

func TestIncomingOfferIsAnswered(t *testing.T) {
	p, conn, log := newTestPeer(t, "aaa", "bbb")

	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})

	require.Len(t, conn.remoteDescs, 1)
	require.Len(t, conn.localDescs, 1)
	assert.Equal(t, webrtc.SDPTypeAnswer, conn.localDescs[0].Type)

	sent := log.all()
	require.Len(t, sent, 1)
	require.NotNil(t, sent[0].SDP)
	assert.Equal(t, webrtc.SDPTypeAnswer, sent[0].SDP.Type)
	assert.Equal(t, webrtc.SignalingStateStable, conn.SignalingState())
}

func TestIncomingAnswerCompletesExchange(t *testing.T) {
	p, conn, log := newTestPeer(t, "aaa", "bbb")

	p.handleNegotiationNeeded()
	require.Equal(t, webrtc.SignalingStateHaveLocalOffer, conn.SignalingState())

	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "remote-answer"})

	assert.Equal(t, webrtc.SignalingStateStable, conn.SignalingState())
	// Only the initial offer crossed the wire; an answer never answers back.
	assert.Len(t, log.all(), 1)
}

func TestImpoliteDiscardsCollidingOffer(t *testing.T) {
	// "bbb" > "aaa", so this side is impolite.
	p, conn, log := newTestPeer(t, "bbb", "aaa")
	require.Equal(t, domain.RoleImpolite, p.Role())

	p.handleNegotiationNeeded()
	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "colliding-offer"})

	assert.True(t, p.ignoreOffer)
	assert.Empty(t, conn.remoteDescs, "the colliding offer must not touch the connection")
	assert.Len(t, log.all(), 1, "no answer goes out for a discarded offer")
}

func TestPoliteYieldsToCollidingOffer(t *testing.T) {
	// "aaa" < "bbb", so this side is polite.
	p, conn, log := newTestPeer(t, "aaa", "bbb")
	require.Equal(t, domain.RolePolite, p.Role())

	p.handleNegotiationNeeded()
	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "colliding-offer"})

	assert.False(t, p.ignoreOffer)
	require.Len(t, conn.remoteDescs, 1, "the polite side abandons its own offer and takes the remote one")

	answers := log.ofType(protocol.MessageSDPDescription)
	require.Len(t, answers, 2)
	require.NotNil(t, answers[1].SDP)
	assert.Equal(t, webrtc.SDPTypeAnswer, answers[1].SDP.Type)
	assert.Equal(t, webrtc.SignalingStateStable, conn.SignalingState())
}

func TestGlareResolvesToSingleAnswer(t *testing.T) {
	polite, politeConn, politeLog := newTestPeer(t, "aaa", "bbb")
	impolite, impoliteConn, impoliteLog := newTestPeer(t, "bbb", "aaa")

	// Both sides offer at the same time; the messages cross in flight.
	polite.handleNegotiationNeeded()
	impolite.handleNegotiationNeeded()

	politeOffer := politeLog.all()[0].SDP
	impoliteOffer := impoliteLog.all()[0].SDP

	polite.HandleRemoteDescription(*impoliteOffer)
	impolite.HandleRemoteDescription(*politeOffer)

	// Exactly one answer exists, from the polite side, and delivering it
	// settles both connections.
	assert.True(t, impolite.ignoreOffer)
	politeSent := politeLog.all()
	require.Len(t, politeSent, 2)
	answer := politeSent[1].SDP
	require.NotNil(t, answer)
	require.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
	assert.Len(t, impoliteLog.all(), 1)

	impolite.HandleRemoteDescription(*answer)

	assert.Equal(t, webrtc.SignalingStateStable, politeConn.SignalingState())
	assert.Equal(t, webrtc.SignalingStateStable, impoliteConn.SignalingState())
}

func TestCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	p, conn, _ := newTestPeer(t, "aaa", "bbb")

	early := make([]webrtc.ICECandidateInit, 3)
	for i := range early {
		early[i] = webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate-%d", i)}
		p.HandleRemoteCandidate(early[i])
	}
	assert.Empty(t, conn.applied, "candidates must wait for the remote description")

	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "remote-offer"})
	require.Len(t, conn.applied, 3)
	assert.Equal(t, early, conn.applied, "queued candidates keep arrival order")

	// After the description, candidates apply immediately.
	late := webrtc.ICECandidateInit{Candidate: "candidate-late"}
	p.HandleRemoteCandidate(late)
	require.Len(t, conn.applied, 4)
	assert.Equal(t, late, conn.applied[3])
}

func TestCandidateFailureSuppressedWhileIgnoringOffer(t *testing.T) {
	p, conn, _ := newTestPeer(t, "bbb", "aaa")

	// Settle an initial exchange so later candidates apply directly.
	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "initial-offer"})

	// Provoke a collision the impolite side ignores.
	p.handleNegotiationNeeded()
	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "colliding-offer"})
	require.True(t, p.ignoreOffer)

	// Candidates for the discarded offer fail to apply. That is expected and
	// must not disturb the engine.
	conn.addCandidateErr = errors.New("unknown ufrag")
	p.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "stray-candidate"})
	assert.Equal(t, 1, conn.attempts)
	assert.Empty(t, conn.applied, "nothing applied past the ignored offer")
}

func TestLocalCandidatesForwardedImmediately(t *testing.T) {
	p, conn, log := newTestPeer(t, "aaa", "bbb")
	require.Equal(t, domain.RolePolite, p.Role())

	candidate := webrtc.ICECandidateInit{Candidate: "candidate-local"}
	conn.emitLocalCandidate(&candidate)

	sent := log.ofType(protocol.MessageIceCandidate)
	require.Len(t, sent, 1)
	assert.Equal(t, "bbb", sent[0].DestinationID)
	require.NotNil(t, sent[0].Candidate)
	assert.Equal(t, candidate.Candidate, sent[0].Candidate.Candidate)

	// End-of-gathering marker stays local.
	conn.emitLocalCandidate(nil)
	assert.Len(t, log.ofType(protocol.MessageIceCandidate), 1)
}

func TestDestroyStopsProcessing(t *testing.T) {
	p, conn, log := newTestPeer(t, "aaa", "bbb")

	p.Destroy()
	assert.True(t, conn.closed)

	p.handleNegotiationNeeded()
	p.HandleRemoteDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "late-offer"})
	p.HandleRemoteCandidate(webrtc.ICECandidateInit{Candidate: "late-candidate"})

	assert.Empty(t, log.all())
	assert.Empty(t, conn.remoteDescs)
	assert.Empty(t, conn.applied)

	// Destroy is idempotent.
	p.Destroy()
}

func TestSetLocalMediaReplacesTracks(t *testing.T) {
	p, conn, _ := newTestPeer(t, "aaa", "bbb")

	video, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "capture")
	require.NoError(t, err)
	audio, err := webrtc.NewTrackLocalStaticRTP(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", "capture")
	require.NoError(t, err)

	require.NoError(t, p.SetLocalMedia(&LocalMedia{Video: video, Audio: audio}))
	assert.Len(t, conn.tracks, 2)

	require.NoError(t, p.SetLocalMedia(&LocalMedia{Video: video}))
	assert.Len(t, conn.tracks, 1, "previous tracks are removed before the new set is attached")
}
