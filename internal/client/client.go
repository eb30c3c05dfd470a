package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"

	"huddle/internal/core/domain"
	"huddle/internal/protocol"
	"huddle/pkg/retry"
	"huddle/pkg/validation"
)

// ErrRoomRejected is returned when the relay answers a join request with a
// terminal error (room not found, closed, or full). The caller must detach.
var ErrRoomRejected = errors.New("room request rejected")

// Config wires a Client to its relay and connectivity layer.
type Config struct {
	RelayURL    string
	STUNServers []string

	// Media is optional; a headless client can participate in signaling
	// without publishing tracks.
	Media MediaSource

	// NewPeerConnection defaults to the pion adapter.
	NewPeerConnection func() (PeerConnection, error)
}

// Client holds one relay connection and one negotiation engine per remote
// participant in the joined room.
type Client struct {
	relayURL string
	media    MediaSource
	newConn  func() (PeerConnection, error)
	logger   *zap.SugaredLogger

	ws      *websocket.Conn
	writeMu sync.Mutex

	mu         sync.Mutex
	selfID     domain.ParticipantID
	peers      map[domain.ParticipantID]*Peer
	localMedia *LocalMedia
	onTrack    func(remote domain.ParticipantID, track *webrtc.TrackRemote)
	pending    map[protocol.MessageType]chan *protocol.Message

	done      chan struct{}
	closeOnce sync.Once
	closedErr error
}

func NewClient(cfg Config, logger *zap.SugaredLogger) *Client {
	newConn := cfg.NewPeerConnection
	if newConn == nil {
		stun := cfg.STUNServers
		newConn = func() (PeerConnection, error) {
			return NewPionPeerConnection(stun)
		}
	}

	return &Client{
		relayURL: cfg.RelayURL,
		media:    cfg.Media,
		newConn:  newConn,
		logger:   logger,
		peers:    make(map[domain.ParticipantID]*Peer),
		pending:  make(map[protocol.MessageType]chan *protocol.Message),
		done:     make(chan struct{}),
	}
}

// OnRemoteTrack registers the remote-media-arrived callback applied to every
// peer. Must be called before joining a room.
func (c *Client) OnRemoteTrack(fn func(remote domain.ParticipantID, track *webrtc.TrackRemote)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTrack = fn
}

// Dial connects to the relay, retrying with backoff, and starts the response
// loop.
func (c *Client) Dial(ctx context.Context) error {
	if err := validation.ValidateRelayURL(c.relayURL); err != nil {
		return err
	}

	err := retry.Retry(ctx, retry.DefaultConfig(), func() error {
		ws, _, err := websocket.DefaultDialer.DialContext(ctx, c.relayURL, nil)
		if err != nil {
			return fmt.Errorf("dial relay: %w", err)
		}
		c.ws = ws
		return nil
	})
	if err != nil {
		return err
	}

	go c.readLoop()
	return nil
}

// CreateRoom asks the relay for a new room with this client as host and
// returns the shareable room ID.
func (c *Client) CreateRoom(ctx context.Context) (string, error) {
	resp, err := c.request(ctx, &protocol.Message{Type: protocol.MessageCreateRoom})
	if err != nil {
		return "", err
	}

	return resp.RoomID, nil
}

// JoinRoom joins an existing room by its shareable ID and returns the
// current participant count. A response carrying an error is terminal.
func (c *Client) JoinRoom(ctx context.Context, roomID string) (int, error) {
	resp, err := c.request(ctx, &protocol.Message{
		Type:   protocol.MessageJoinRoom,
		RoomID: roomID,
	})
	if err != nil {
		return 0, err
	}
	if resp.Error != "" {
		err := fmt.Errorf("%w: %s", ErrRoomRejected, resp.Error)
		c.close(err)
		return 0, err
	}

	return resp.ParticipantCount, nil
}

// StartMedia acquires local tracks and attaches them to every current and
// future peer. A no-op when the client was built without a media source.
func (c *Client) StartMedia(ctx context.Context) error {
	if c.media == nil {
		return nil
	}

	media, err := c.media.AcquireLocalTracks(ctx)
	if err != nil {
		return fmt.Errorf("acquire local tracks: %w", err)
	}

	c.mu.Lock()
	c.localMedia = media
	peers := make([]*Peer, 0, len(c.peers))
	for _, p := range c.peers {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		if err := p.SetLocalMedia(media); err != nil {
			return err
		}
	}
	return nil
}

// Done is closed when the relay connection ends or the room closes.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the client stopped, once Done is closed.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closedErr
}

// Close detaches from the relay and destroys all peers.
func (c *Client) Close() {
	c.close(nil)
}

func (c *Client) request(ctx context.Context, msg *protocol.Message) (*protocol.Message, error) {
	ch := make(chan *protocol.Message, 1)

	c.mu.Lock()
	c.pending[msg.Type] = ch
	c.mu.Unlock()

	if err := c.sendMessage(msg); err != nil {
		return nil, err
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-c.done:
		return nil, errors.New("relay connection closed")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Client) readLoop() {
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.close(err)
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			c.logger.Warnw("dropping undecodable relay message", "error", err)
			continue
		}

		c.handleResponse(msg)
	}
}

func (c *Client) handleResponse(msg *protocol.Message) {
	switch msg.Type {
	case protocol.MessageCreateRoom, protocol.MessageJoinRoom:
		c.mu.Lock()
		// Record identity here rather than in the requesting goroutine:
		// an offer from an existing member can arrive right behind the
		// join response and needs selfID for role assignment.
		if msg.Error == "" && msg.ParticipantID != "" {
			c.selfID = domain.ParticipantID(msg.ParticipantID)
		}
		ch, waiting := c.pending[msg.Type]
		delete(c.pending, msg.Type)
		c.mu.Unlock()
		if waiting {
			ch <- msg
		}

	case protocol.MessageParticipantJoined:
		c.ensurePeer(domain.ParticipantID(msg.ParticipantID))

	case protocol.MessageSDPDescription:
		if msg.SDP == nil {
			c.logger.Warnw("sdp-description without sdp", "sender_id", msg.SenderID)
			return
		}
		peer := c.ensurePeer(domain.ParticipantID(msg.SenderID))
		if peer != nil {
			peer.HandleRemoteDescription(*msg.SDP)
		}

	case protocol.MessageIceCandidate:
		if msg.Candidate == nil {
			c.logger.Warnw("ice-candidate without candidate", "sender_id", msg.SenderID)
			return
		}
		peer := c.ensurePeer(domain.ParticipantID(msg.SenderID))
		if peer != nil {
			peer.HandleRemoteCandidate(*msg.Candidate)
		}

	case protocol.MessageParticipantLeft:
		c.destroyPeer(domain.ParticipantID(msg.ParticipantID))

	case protocol.MessageRoomClosed:
		c.logger.Infow("room closed by relay", "reason", msg.Reason)
		c.close(nil)
	}
}

// ensurePeer returns the negotiation engine for a remote participant,
// creating it on first contact. Existing members do not get a separate
// participant-joined notification when we join; their engines are created
// when their first offer or candidate arrives.
func (c *Client) ensurePeer(remoteID domain.ParticipantID) *Peer {
	if remoteID == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if peer, exists := c.peers[remoteID]; exists {
		return peer
	}

	conn, err := c.newConn()
	if err != nil {
		c.logger.Errorw("create peer connection failed",
			"remote_participant_id", remoteID, "error", err,
		)
		return nil
	}

	peer := NewPeer(c.selfID, remoteID, conn, c.sendMessage, c.logger)
	if c.onTrack != nil {
		onTrack := c.onTrack
		peer.OnRemoteTrack(func(track *webrtc.TrackRemote) {
			onTrack(remoteID, track)
		})
	}
	c.peers[remoteID] = peer

	c.logger.Infow("peer created",
		"remote_participant_id", remoteID, "role", peer.Role(),
	)

	if c.localMedia != nil {
		media := c.localMedia
		go func() {
			if err := peer.SetLocalMedia(media); err != nil {
				c.logger.Errorw("attach local media failed",
					"remote_participant_id", remoteID, "error", err,
				)
			}
		}()
	}

	return peer
}

func (c *Client) destroyPeer(remoteID domain.ParticipantID) {
	c.mu.Lock()
	peer, exists := c.peers[remoteID]
	delete(c.peers, remoteID)
	c.mu.Unlock()

	if exists {
		peer.Destroy()
		c.logger.Infow("peer destroyed", "remote_participant_id", remoteID)
	}
}

func (c *Client) sendMessage(msg *protocol.Message) error {
	data, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) close(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closedErr = err
		peers := make([]*Peer, 0, len(c.peers))
		for _, p := range c.peers {
			peers = append(peers, p)
		}
		c.peers = make(map[domain.ParticipantID]*Peer)
		c.mu.Unlock()

		for _, p := range peers {
			p.Destroy()
		}

		if c.ws != nil {
			c.ws.Close()
		}
		close(c.done)
	})
}
