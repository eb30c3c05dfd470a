package memory

import (
	"context"
	"sync"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
)

// MemoryRoomRepository keeps all rooms and participants in process memory.
// A single mutex serializes transactions, which is what gives concurrent
// joins against the same room an atomic capacity check.
type MemoryRoomRepository struct {
	mu sync.Mutex

	rooms              map[domain.RoomID]*domain.Room
	roomsByShareable   map[domain.ShareableID]domain.RoomID
	participants       map[domain.ParticipantID]*domain.Participant
	participantsByConn map[domain.ConnectionID]domain.ParticipantID
}

func NewMemoryRoomRepository() *MemoryRoomRepository {
	return &MemoryRoomRepository{
		rooms:              make(map[domain.RoomID]*domain.Room),
		roomsByShareable:   make(map[domain.ShareableID]domain.RoomID),
		participants:       make(map[domain.ParticipantID]*domain.Participant),
		participantsByConn: make(map[domain.ConnectionID]domain.ParticipantID),
	}
}

func (r *MemoryRoomRepository) GetRoom(ctx context.Context, id domain.RoomID) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getRoomLocked(id)
}

func (r *MemoryRoomRepository) GetRoomByShareableID(ctx context.Context, id domain.ShareableID) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomID, exists := r.roomsByShareable[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return r.getRoomLocked(roomID)
}

func (r *MemoryRoomRepository) GetParticipant(ctx context.Context, id domain.ParticipantID) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getParticipantLocked(id)
}

func (r *MemoryRoomRepository) GetParticipantByConnection(ctx context.Context, id domain.ConnectionID) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	participantID, exists := r.participantsByConn[id]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}
	return r.getParticipantLocked(participantID)
}

func (r *MemoryRoomRepository) SaveParticipant(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.saveParticipantLocked(p)
	return nil
}

// Transaction runs fn while holding the repository mutex. Writes go to a
// staging area and are applied only when fn returns nil.
func (r *MemoryRoomRepository) Transaction(ctx context.Context, fn func(tx ports.RoomTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx := &memoryTx{
		repo:         r,
		rooms:        make(map[domain.RoomID]*domain.Room),
		participants: make(map[domain.ParticipantID]*domain.Participant),
	}

	if err := fn(tx); err != nil {
		return err
	}

	for _, room := range tx.rooms {
		r.rooms[room.ID] = room
		r.roomsByShareable[room.ShareableID] = room.ID
	}
	for _, p := range tx.participants {
		r.saveParticipantLocked(p)
	}
	return nil
}

func (r *MemoryRoomRepository) getRoomLocked(id domain.RoomID) (*domain.Room, error) {
	room, exists := r.rooms[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return cloneRoom(room), nil
}

func (r *MemoryRoomRepository) getParticipantLocked(id domain.ParticipantID) (*domain.Participant, error) {
	p, exists := r.participants[id]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}
	return cloneParticipant(p), nil
}

func (r *MemoryRoomRepository) saveParticipantLocked(p *domain.Participant) {
	stored := cloneParticipant(p)
	r.participants[stored.ID] = stored
	if stored.ConnectionID != "" {
		r.participantsByConn[stored.ConnectionID] = stored.ID
	}
}

// memoryTx stages writes against the repository while the repository mutex
// is held. Reads prefer staged entities so a transaction observes its own
// writes.
type memoryTx struct {
	repo         *MemoryRoomRepository
	rooms        map[domain.RoomID]*domain.Room
	participants map[domain.ParticipantID]*domain.Participant
}

func (tx *memoryTx) GetRoom(id domain.RoomID) (*domain.Room, error) {
	if room, staged := tx.rooms[id]; staged {
		return cloneRoom(room), nil
	}
	return tx.repo.getRoomLocked(id)
}

func (tx *memoryTx) GetRoomByShareableID(id domain.ShareableID) (*domain.Room, error) {
	for _, room := range tx.rooms {
		if room.ShareableID == id {
			return cloneRoom(room), nil
		}
	}

	roomID, exists := tx.repo.roomsByShareable[id]
	if !exists {
		return nil, domain.ErrRoomNotFound
	}
	return tx.GetRoom(roomID)
}

func (tx *memoryTx) GetParticipant(id domain.ParticipantID) (*domain.Participant, error) {
	if p, staged := tx.participants[id]; staged {
		return cloneParticipant(p), nil
	}
	return tx.repo.getParticipantLocked(id)
}

func (tx *memoryTx) SaveRoom(room *domain.Room) error {
	tx.rooms[room.ID] = cloneRoom(room)
	return nil
}

func (tx *memoryTx) SaveParticipant(p *domain.Participant) error {
	tx.participants[p.ID] = cloneParticipant(p)
	return nil
}

func cloneRoom(room *domain.Room) *domain.Room {
	cloned := *room
	cloned.ParticipantIDs = append([]domain.ParticipantID(nil), room.ParticipantIDs...)
	return &cloned
}

func cloneParticipant(p *domain.Participant) *domain.Participant {
	cloned := *p
	if p.RoomID != nil {
		roomID := *p.RoomID
		cloned.RoomID = &roomID
	}
	return &cloned
}
