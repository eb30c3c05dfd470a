package client

import (
	"fmt"
	"sync"

	"github.com/pion/webrtc/v3"

	"huddle/internal/protocol"
)

// fakeConn is an in-memory PeerConnection with just enough signaling-state
// bookkeeping to exercise the negotiation engine.
type fakeConn struct {
	mu sync.Mutex

	state      webrtc.SignalingState
	remoteDesc *webrtc.SessionDescription

	localDescs  []webrtc.SessionDescription
	remoteDescs []webrtc.SessionDescription
	applied     []webrtc.ICECandidateInit
	attempts    int

	createOfferErr  error
	setLocalErr     error
	addCandidateErr error

	offerSeq  int
	answerSeq int

	negotiationNeeded func()
	onCandidate       func(*webrtc.ICECandidateInit)
	onTrack           func(*webrtc.TrackRemote)

	tracks []webrtc.TrackLocal
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		state:             webrtc.SignalingStateStable,
		negotiationNeeded: func() {},
		onCandidate:       func(*webrtc.ICECandidateInit) {},
		onTrack:           func(*webrtc.TrackRemote) {},
	}
}

func (f *fakeConn) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createOfferErr != nil {
		return webrtc.SessionDescription{}, f.createOfferErr
	}
	f.offerSeq++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  fmt.Sprintf("offer-%d", f.offerSeq),
	}, nil
}

func (f *fakeConn) CreateAnswer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.answerSeq++
	return webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  fmt.Sprintf("answer-%d", f.answerSeq),
	}, nil
}

func (f *fakeConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setLocalErr != nil {
		return f.setLocalErr
	}
	f.localDescs = append(f.localDescs, desc)
	if desc.Type == webrtc.SDPTypeOffer {
		f.state = webrtc.SignalingStateHaveLocalOffer
	} else {
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.remoteDescs = append(f.remoteDescs, desc)
	f.remoteDesc = &desc
	if desc.Type == webrtc.SDPTypeOffer {
		f.state = webrtc.SignalingStateHaveRemoteOffer
	} else {
		f.state = webrtc.SignalingStateStable
	}
	return nil
}

func (f *fakeConn) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.attempts++
	if f.addCandidateErr != nil {
		return f.addCandidateErr
	}
	f.applied = append(f.applied, candidate)
	return nil
}

func (f *fakeConn) SignalingState() webrtc.SignalingState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeConn) HasRemoteDescription() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.remoteDesc != nil
}

func (f *fakeConn) AddTrack(track webrtc.TrackLocal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = append(f.tracks, track)
	return nil
}

func (f *fakeConn) RemoveTracks() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracks = nil
	return nil
}

func (f *fakeConn) OnNegotiationNeeded(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.negotiationNeeded = fn
}

func (f *fakeConn) OnICECandidate(fn func(*webrtc.ICECandidateInit)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCandidate = fn
}

func (f *fakeConn) OnRemoteTrack(fn func(*webrtc.TrackRemote)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onTrack = fn
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) emitLocalCandidate(candidate *webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onCandidate
	f.mu.Unlock()
	fn(candidate)
}

func (f *fakeConn) fireNegotiationNeeded() {
	f.mu.Lock()
	fn := f.negotiationNeeded
	f.mu.Unlock()
	fn()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeConn) appliedCandidates() []webrtc.ICECandidateInit {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), f.applied...)
}

// sentLog captures every message a peer hands to the relay.
type sentLog struct {
	mu   sync.Mutex
	msgs []*protocol.Message
}

func (l *sentLog) send(msg *protocol.Message) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.msgs = append(l.msgs, msg)
	return nil
}

func (l *sentLog) all() []*protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*protocol.Message(nil), l.msgs...)
}

func (l *sentLog) ofType(t protocol.MessageType) []*protocol.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*protocol.Message
	for _, msg := range l.msgs {
		if msg.Type == t {
			out = append(out, msg)
		}
	}
	return out
}
