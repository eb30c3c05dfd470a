package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/circuitbreaker"
	"huddle/pkg/distributed"
)

const (
	roomKeyPrefix            = "huddle:room:"
	roomShareableKeyPrefix   = "huddle:room:shareable:"
	participantKeyPrefix     = "huddle:participant:"
	participantConnKeyPrefix = "huddle:participant:conn:"

	txLockKey = "huddle:room-store:tx"
	txLockTTL = 5 * time.Second
)

// RedisRoomRepository stores rooms and participants as JSON blobs. A
// Redis-backed lock serializes transactions so capacity checks stay atomic
// even with several relay processes pointed at the same store.
type RedisRoomRepository struct {
	client *redis.Client

	// breaker guards the transaction path. When the store is unreachable,
	// joins and leaves fail fast instead of waiting out the lock poll.
	breaker *circuitbreaker.CircuitBreaker
}

func NewRedisRoomRepository(client *redis.Client) *RedisRoomRepository {
	return &RedisRoomRepository{
		client:  client,
		breaker: circuitbreaker.New(circuitbreaker.DefaultConfig()),
	}
}

func (r *RedisRoomRepository) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	return r.loadRoom(ctx, id)
}

func (r *RedisRoomRepository) GetRoomByShareableID(ctx context.Context, id domain.ShareableID) (*domain.Room, error) {
	roomID, err := r.client.Get(ctx, roomShareableKeyPrefix+string(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room by shareable id: %w", err)
	}
	return r.loadRoom(ctx, domain.RoomID(roomID))
}

func (r *RedisRoomRepository) GetParticipant(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	return r.loadParticipant(ctx, id)
}

func (r *RedisRoomRepository) GetParticipantByConnection(ctx context.Context, id domain.ConnectionID) (*domain.Participant, error) {
	participantID, err := r.client.Get(ctx, participantConnKeyPrefix+string(id)).Result()
	if err == redis.Nil {
		return nil, domain.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant by connection: %w", err)
	}
	return r.loadParticipant(ctx, domain.ParticipantID(participantID))
}

func (r *RedisRoomRepository) SaveParticipant(ctx context.Context, p *domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.Set(ctx, participantKeyPrefix+string(p.ID), data, 0)
	if p.ConnectionID != "" {
		pipe.Set(ctx, participantConnKeyPrefix+string(p.ConnectionID), string(p.ID), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save participant: %w", err)
	}
	return nil
}

// Transaction serializes against other transactions via the store lock and
// commits all staged writes in a single MULTI/EXEC pipeline.
func (r *RedisRoomRepository) Transaction(ctx context.Context, fn func(tx ports.RoomTx) error) error {
	var txErr error
	err := r.breaker.Execute(ctx, func() error {
		txErr = r.runTransaction(ctx, fn)
		if isRoomStateError(txErr) {
			// The store answered; only infrastructure failures trip the
			// breaker.
			return nil
		}
		return txErr
	})
	if txErr != nil {
		return txErr
	}
	return err
}

func isRoomStateError(err error) bool {
	return errors.Is(err, domain.ErrRoomNotFound) ||
		errors.Is(err, domain.ErrRoomClosed) ||
		errors.Is(err, domain.ErrRoomFull) ||
		errors.Is(err, domain.ErrAlreadyInRoom) ||
		errors.Is(err, domain.ErrParticipantNotFound) ||
		errors.Is(err, domain.ErrDuplicateIdentity)
}

func (r *RedisRoomRepository) runTransaction(ctx context.Context, fn func(tx ports.RoomTx) error) error {
	lock := distributed.NewLock(r.client, txLockKey, txLockTTL)
	if err := lock.Acquire(ctx); err != nil {
		return err
	}
	defer lock.Release(context.WithoutCancel(ctx))

	tx := &redisTx{
		ctx:          ctx,
		repo:         r,
		rooms:        make(map[domain.RoomID]*domain.Room),
		participants: make(map[domain.ParticipantID]*domain.Participant),
	}

	if err := fn(tx); err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	for _, room := range tx.rooms {
		data, err := json.Marshal(room)
		if err != nil {
			return fmt.Errorf("marshal room: %w", err)
		}
		pipe.Set(ctx, roomKeyPrefix+string(room.ID), data, 0)
		pipe.Set(ctx, roomShareableKeyPrefix+string(room.ShareableID), string(room.ID), 0)
	}
	for _, p := range tx.participants {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("marshal participant: %w", err)
		}
		pipe.Set(ctx, participantKeyPrefix+string(p.ID), data, 0)
		if p.ConnectionID != "" {
			pipe.Set(ctx, participantConnKeyPrefix+string(p.ConnectionID), string(p.ID), 0)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *RedisRoomRepository) loadRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	data, err := r.client.Get(ctx, roomKeyPrefix+string(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get room: %w", err)
	}

	var room domain.Room
	if err := json.Unmarshal(data, &room); err != nil {
		return nil, fmt.Errorf("unmarshal room: %w", err)
	}
	return &room, nil
}

func (r *RedisRoomRepository) loadParticipant(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	data, err := r.client.Get(ctx, participantKeyPrefix+string(id)).Bytes()
	if err == redis.Nil {
		return nil, domain.ErrParticipantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get participant: %w", err)
	}

	var p domain.Participant
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("unmarshal participant: %w", err)
	}
	return &p, nil
}

// redisTx stages writes while the store lock is held. Reads prefer staged
// entities so a transaction observes its own writes.
type redisTx struct {
	ctx          context.Context
	repo         *RedisRoomRepository
	rooms        map[domain.RoomID]*domain.Room
	participants map[domain.ParticipantID]*domain.Participant
}

func (tx *redisTx) GetRoom(id domain.RoomID) (*domain.Room, error) {
	if room, staged := tx.rooms[id]; staged {
		return room, nil
	}
	return tx.repo.loadRoom(tx.ctx, id)
}

func (tx *redisTx) GetRoomByShareableID(id domain.ShareableID) (*domain.Room, error) {
	for _, room := range tx.rooms {
		if room.ShareableID == id {
			return room, nil
		}
	}
	return tx.repo.GetRoomByShareableID(tx.ctx, id)
}

func (tx *redisTx) GetParticipant(id domain.ParticipantID) (*domain.Participant, error) {
	if p, staged := tx.participants[id]; staged {
		return p, nil
	}
	return tx.repo.loadParticipant(tx.ctx, id)
}

func (tx *redisTx) SaveRoom(room *domain.Room) error {
	tx.rooms[room.ID] = room
	return nil
}

func (tx *redisTx) SaveParticipant(p *domain.Participant) error {
	tx.participants[p.ID] = p
	return nil
}
