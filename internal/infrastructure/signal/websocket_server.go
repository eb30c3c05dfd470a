package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/monitoring"
	"huddle/internal/protocol"
	"huddle/pkg/cache"
	"huddle/pkg/utils"
	"huddle/pkg/validation"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Should be configured properly for production
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Options tunes connection handling. Zero values fall back to the defaults
// below.
type Options struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Inbound message hardening, applied before dispatch.
	RateLimitEnabled  bool
	MessagesPerSecond float64
	Burst             int
	MaxMessageSize    int64
}

func (o *Options) applyDefaults() {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// connection pairs a live websocket with the participant identity assigned
// to it. Writes are serialized with a mutex because broadcasts and forwards
// originate from other participants' goroutines.
type connection struct {
	ws            *websocket.Conn
	connectionID  domain.ConnectionID
	participantID domain.ParticipantID

	writeMu sync.Mutex
}

// WebSocketServer is the signaling relay. It owns live connections, assigns
// participant identity, dispatches room commands to the room service, and
// forwards negotiation messages between connections. It never inspects SDP
// or candidate payloads.
type WebSocketServer struct {
	repo    ports.RoomRepository
	rooms   ports.RoomService
	metrics *monitoring.PrometheusCollector

	connections map[domain.ParticipantID]*connection
	mu          sync.RWMutex

	// roomLocks serializes a room mutation together with its broadcast, so
	// every member observes lifecycle events in commit order.
	roomLocks sync.Map

	// roomIDs caches the shareable-to-internal room ID mapping. The mapping
	// is immutable for the life of a room, so stale entries cannot occur.
	roomIDs *cache.Cache

	opts   Options
	logger *zap.SugaredLogger
	tracer trace.Tracer
}

func NewWebSocketServer(repo ports.RoomRepository, rooms ports.RoomService, metrics *monitoring.PrometheusCollector, opts Options, logger *zap.SugaredLogger) *WebSocketServer {
	opts.applyDefaults()

	return &WebSocketServer{
		repo:        repo,
		rooms:       rooms,
		metrics:     metrics,
		connections: make(map[domain.ParticipantID]*connection),
		roomIDs:     cache.New(time.Hour),
		opts:        opts,
		logger:      logger,
		tracer:      otel.Tracer("huddle/signal"),
	}
}

func (s *WebSocketServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	ctx := context.Background()

	conn, err := s.identify(ctx, ws)
	if err != nil {
		s.logger.Errorw("connection identification failed", "error", err)
		return
	}

	s.metrics.RecordParticipantConnected()
	s.logger.Infow("participant connected",
		"participant_id", conn.participantID,
		"connection_id", conn.connectionID,
	)

	s.serve(ctx, conn)

	s.mu.Lock()
	if s.connections[conn.participantID] == conn {
		delete(s.connections, conn.participantID)
	}
	s.mu.Unlock()

	s.handleDisconnect(ctx, conn)
	s.metrics.RecordParticipantDisconnected()

	s.logger.Infow("participant disconnected", "participant_id", conn.participantID)
}

// identify assigns a fresh participant identity to the connection and
// persists the backing record. An identity collision with an existing active
// participant signals an identity-generation bug and is fatal for the
// connection.
func (s *WebSocketServer) identify(ctx context.Context, ws *websocket.Conn) (*connection, error) {
	participantID := domain.ParticipantID(utils.GenerateParticipantID())
	connectionID := domain.ConnectionID(utils.GenerateConnectionID())

	existing, err := s.repo.GetParticipant(ctx, participantID)
	if err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
		return nil, err
	}
	if existing != nil && existing.IsActive {
		return nil, domain.ErrDuplicateIdentity
	}

	participant := &domain.Participant{
		ID:           participantID,
		ConnectionID: connectionID,
		IsActive:     true,
		JoinedAt:     time.Now(),
	}
	if err := s.repo.SaveParticipant(ctx, participant); err != nil {
		return nil, err
	}

	conn := &connection{
		ws:            ws,
		connectionID:  connectionID,
		participantID: participantID,
	}

	s.mu.Lock()
	s.connections[participantID] = conn
	s.mu.Unlock()

	return conn, nil
}

// serve processes the connection's inbound messages strictly in arrival
// order until the socket closes.
func (s *WebSocketServer) serve(ctx context.Context, conn *connection) {
	if s.opts.MaxMessageSize > 0 {
		conn.ws.SetReadLimit(s.opts.MaxMessageSize)
	}

	conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		return nil
	})

	pingTicker := time.NewTicker(s.opts.PingInterval)
	defer pingTicker.Stop()

	var limiter *rate.Limiter
	if s.opts.RateLimitEnabled {
		limiter = rate.NewLimiter(rate.Limit(s.opts.MessagesPerSecond), s.opts.Burst)
	}

	messageChan := make(chan []byte, 10)
	errorChan := make(chan error, 1)

	// done releases the reader if this loop exits first, via the ping-failure
	// branch, while the reader is blocked handing over a message.
	done := make(chan struct{})
	defer close(done)

	go s.readPump(conn, messageChan, errorChan, done)

	for {
		select {
		case data := <-messageChan:
			if limiter != nil && !limiter.Allow() {
				s.logger.Warnw("inbound message rate limit exceeded",
					"participant_id", conn.participantID,
				)
				continue
			}

			start := time.Now()
			s.handleMessage(ctx, conn, data)
			s.metrics.RecordMessageHandled(time.Since(start).Seconds())

		case <-pingTicker.C:
			conn.writeMu.Lock()
			conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
			err := conn.ws.WriteMessage(websocket.PingMessage, nil)
			conn.writeMu.Unlock()
			if err != nil {
				s.logger.Infow("error sending ping",
					"participant_id", conn.participantID, "error", err,
				)
				return
			}

		case err := <-errorChan:
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Infow("error reading message",
					"participant_id", conn.participantID, "error", err,
				)
			}
			return
		}
	}
}

// readPump reads inbound frames and hands them to the dispatch loop. It
// returns when the socket errors or when done closes.
func (s *WebSocketServer) readPump(conn *connection, messages chan<- []byte, errs chan<- error, done <-chan struct{}) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			errs <- err
			return
		}
		conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))

		select {
		case messages <- data:
		case <-done:
			return
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, conn *connection, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		s.logger.Warnw("dropping undecodable message",
			"participant_id", conn.participantID, "error", err,
		)
		return
	}

	ctx, span := s.tracer.Start(ctx, "signal."+string(msg.Type))
	defer span.End()

	// The sender is looked up by connection identity. No record means the
	// connection raced with cleanup; drop silently.
	sender, err := s.repo.GetParticipantByConnection(ctx, conn.connectionID)
	if err != nil {
		if !errors.Is(err, domain.ErrParticipantNotFound) {
			s.logger.Errorw("sender lookup failed",
				"participant_id", conn.participantID, "error", err,
			)
		}
		return
	}

	switch msg.Type {
	case protocol.MessageCreateRoom:
		s.handleCreateRoom(ctx, conn, sender)
	case protocol.MessageJoinRoom:
		s.handleJoinRoom(ctx, conn, sender, msg)
	case protocol.MessageSDPDescription, protocol.MessageIceCandidate:
		s.handleForward(ctx, sender, msg)
	default:
		// Remaining union members are server-to-client notifications.
		s.logger.Warnw("ignoring response-only message from client",
			"participant_id", conn.participantID, "type", msg.Type,
		)
	}
}

func (s *WebSocketServer) handleCreateRoom(ctx context.Context, conn *connection, sender *domain.Participant) {
	room, err := s.rooms.CreateRoom(ctx, sender.ID)
	if err != nil {
		s.logger.Errorw("create room failed",
			"participant_id", sender.ID, "error", err,
		)
		return
	}

	s.metrics.RecordRoomCreated()
	s.logger.Infow("room created",
		"room_id", room.ID,
		"shareable_id", room.ShareableID,
		"host_id", sender.ID,
	)

	s.send(conn, &protocol.Message{
		Type:          protocol.MessageCreateRoom,
		RoomID:        string(room.ShareableID),
		ParticipantID: string(sender.ID),
	})
}

func (s *WebSocketServer) handleJoinRoom(ctx context.Context, conn *connection, sender *domain.Participant, msg *protocol.Message) {
	// A token outside the generated format can never name a room; reject it
	// before touching the store.
	if err := validation.ValidateShareableRoomID(msg.RoomID); err != nil {
		s.rejectJoin(conn, sender.ID, domain.ErrRoomNotFound)
		return
	}
	shareableID := domain.ShareableID(msg.RoomID)

	// The internal room ID keys the per-room lock. It never changes for a
	// given shareable ID, so resolving it outside the lock is safe.
	roomID, err := s.resolveRoomID(ctx, shareableID)
	if err != nil {
		s.rejectJoin(conn, sender.ID, err)
		return
	}

	unlock := s.lockRoom(roomID)
	defer unlock()

	room, others, err := s.rooms.JoinRoom(ctx, sender.ID, shareableID)
	if err != nil {
		s.rejectJoin(conn, sender.ID, err)
		return
	}

	s.logger.Infow("participant joined room",
		"room_id", room.ID,
		"participant_id", sender.ID,
		"participant_count", len(room.ParticipantIDs),
	)

	s.send(conn, &protocol.Message{
		Type:             protocol.MessageJoinRoom,
		ParticipantID:    string(sender.ID),
		ParticipantCount: len(room.ParticipantIDs),
	})

	joined := &protocol.Message{
		Type:          protocol.MessageParticipantJoined,
		ParticipantID: string(sender.ID),
	}
	for _, other := range others {
		s.sendTo(other.ID, joined)
	}
	s.metrics.RecordBroadcast(string(protocol.MessageParticipantJoined))
}

func (s *WebSocketServer) rejectJoin(conn *connection, senderID domain.ParticipantID, err error) {
	switch {
	case errors.Is(err, domain.ErrRoomNotFound),
		errors.Is(err, domain.ErrRoomClosed),
		errors.Is(err, domain.ErrRoomFull):
		s.metrics.RecordJoinFailure(err.Error())
		s.logger.Infow("join rejected", "participant_id", senderID, "reason", err)
		s.send(conn, &protocol.Message{
			Type:  protocol.MessageJoinRoom,
			Error: protocol.ErrorText(err),
		})
	default:
		// AlreadyInRoom and store failures are defects of the caller or
		// the store, not user-facing room state.
		s.logger.Errorw("join failed", "participant_id", senderID, "error", err)
		s.send(conn, &protocol.Message{
			Type:  protocol.MessageJoinRoom,
			Error: protocol.ErrorText(err),
		})
	}
}

// handleForward relays an SDP description or ICE candidate to the addressed
// participant. A missing destination connection is expected when the other
// side already left, so it is dropped without notifying the sender.
func (s *WebSocketServer) handleForward(ctx context.Context, sender *domain.Participant, msg *protocol.Message) {
	if err := validation.ValidateParticipantID(msg.DestinationID); err != nil {
		s.logger.Warnw("forward with unusable destination",
			"participant_id", sender.ID, "type", msg.Type, "error", err,
		)
		return
	}
	dest := domain.ParticipantID(msg.DestinationID)

	s.mu.RLock()
	destConn, exists := s.connections[dest]
	s.mu.RUnlock()

	if !exists {
		s.metrics.RecordDroppedForward()
		s.logger.Debugw("dropping forward to unreachable destination",
			"sender_id", sender.ID, "destination_id", dest, "type", msg.Type,
		)
		return
	}

	s.send(destConn, &protocol.Message{
		Type:      msg.Type,
		SenderID:  string(sender.ID),
		SDP:       msg.SDP,
		Candidate: msg.Candidate,
	})
	s.metrics.RecordMessageForwarded(string(msg.Type))
}

// handleDisconnect runs the leave flow when a connection closes. Leave is
// idempotent, so a duplicate close event cannot double-broadcast.
func (s *WebSocketServer) handleDisconnect(ctx context.Context, conn *connection) {
	participant, err := s.repo.GetParticipantByConnection(ctx, conn.connectionID)
	if err != nil {
		if !errors.Is(err, domain.ErrParticipantNotFound) {
			s.logger.Errorw("disconnect lookup failed",
				"participant_id", conn.participantID, "error", err,
			)
		}
		return
	}

	var unlock func()
	if participant.RoomID != nil {
		unlock = s.lockRoom(*participant.RoomID)
		defer unlock()
	}

	result, err := s.rooms.Leave(ctx, participant.ID)
	if err != nil {
		s.logger.Errorw("leave failed", "participant_id", participant.ID, "error", err)
		return
	}
	if len(result.NotifyIDs) == 0 {
		return
	}

	var notification *protocol.Message
	if result.RoomClosed {
		s.metrics.RecordRoomClosed()
		notification = &protocol.Message{
			Type:   protocol.MessageRoomClosed,
			Reason: protocol.ReasonHostLeft,
		}
		s.logger.Infow("room closed", "room_id", result.RoomID, "host_id", participant.ID)
	} else {
		notification = &protocol.Message{
			Type:          protocol.MessageParticipantLeft,
			ParticipantID: string(participant.ID),
		}
	}

	for _, id := range result.NotifyIDs {
		s.sendTo(id, notification)
	}
	s.metrics.RecordBroadcast(string(notification.Type))
}

// resolveRoomID turns a shareable token into the internal room ID, caching
// hits. Lookups that fail are not cached; the room may be created later.
func (s *WebSocketServer) resolveRoomID(ctx context.Context, id domain.ShareableID) (domain.RoomID, error) {
	if cached, ok := s.roomIDs.Get(string(id)); ok {
		return cached.(domain.RoomID), nil
	}

	room, err := s.repo.GetRoomByShareableID(ctx, id)
	if err != nil {
		return "", err
	}
	s.roomIDs.Set(string(id), room.ID)
	return room.ID, nil
}

// lockRoom serializes room mutations and their broadcasts per room.
func (s *WebSocketServer) lockRoom(id domain.RoomID) func() {
	muIface, _ := s.roomLocks.LoadOrStore(id, &sync.Mutex{})
	mu := muIface.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// sendTo delivers a message to a participant's live connection. A missing
// connection is tolerated; the other side may itself be closing.
func (s *WebSocketServer) sendTo(id domain.ParticipantID, msg *protocol.Message) {
	s.mu.RLock()
	conn, exists := s.connections[id]
	s.mu.RUnlock()

	if !exists {
		s.logger.Debugw("no live connection for notification",
			"participant_id", id, "type", msg.Type,
		)
		return
	}
	s.send(conn, msg)
}

func (s *WebSocketServer) send(conn *connection, msg *protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		s.logger.Errorw("encode message failed", "type", msg.Type, "error", err)
		return
	}

	conn.writeMu.Lock()
	defer conn.writeMu.Unlock()

	conn.ws.SetWriteDeadline(time.Now().Add(s.opts.WriteTimeout))
	if err := conn.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		s.logger.Infow("write failed",
			"participant_id", conn.participantID, "type", msg.Type, "error", err,
		)
	}
}

// ConnectedParticipants reports how many participants currently hold a live
// connection.
func (s *WebSocketServer) ConnectedParticipants() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.connections)
}
