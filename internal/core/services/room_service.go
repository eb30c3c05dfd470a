package services

import (
	"context"
	"fmt"
	"time"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/pkg/utils"
)

type roomService struct {
	repo ports.RoomRepository
}

func NewRoomService(repo ports.RoomRepository) ports.RoomService {
	return &roomService{repo: repo}
}

func (s *roomService) CreateRoom(ctx context.Context, participantID domain.ParticipantID) (*domain.Room, error) {
	var room *domain.Room

	err := s.repo.Transaction(ctx, func(tx ports.RoomTx) error {
		participant, err := tx.GetParticipant(participantID)
		if err != nil {
			return err
		}
		if participant.InRoom() {
			return domain.ErrAlreadyInRoom
		}

		room = &domain.Room{
			ID:             domain.RoomID(utils.GenerateRoomID()),
			ShareableID:    domain.ShareableID(utils.GenerateShareableID()),
			IsActive:       true,
			ParticipantIDs: []domain.ParticipantID{participant.ID},
			CreatedAt:      time.Now(),
		}

		participant.IsHost = true
		participant.RoomID = &room.ID

		if err := tx.SaveRoom(room); err != nil {
			return err
		}
		return tx.SaveParticipant(participant)
	})
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	return room, nil
}

func (s *roomService) JoinRoom(ctx context.Context, participantID domain.ParticipantID, shareableID domain.ShareableID) (*domain.Room, []*domain.Participant, error) {
	var (
		room   *domain.Room
		others []*domain.Participant
	)

	err := s.repo.Transaction(ctx, func(tx ports.RoomTx) error {
		room = nil
		others = nil

		participant, err := tx.GetParticipant(participantID)
		if err != nil {
			return err
		}
		if participant.InRoom() {
			return domain.ErrAlreadyInRoom
		}

		room, err = tx.GetRoomByShareableID(shareableID)
		if err != nil {
			return err
		}
		if !room.IsActive {
			return domain.ErrRoomClosed
		}
		if room.IsFull() {
			return domain.ErrRoomFull
		}

		for _, id := range room.ParticipantIDs {
			other, err := tx.GetParticipant(id)
			if err != nil {
				return err
			}
			others = append(others, other)
		}

		room.ParticipantIDs = append(room.ParticipantIDs, participant.ID)
		participant.RoomID = &room.ID

		if err := tx.SaveRoom(room); err != nil {
			return err
		}
		return tx.SaveParticipant(participant)
	})
	if err != nil {
		return nil, nil, err
	}

	return room, others, nil
}

func (s *roomService) Leave(ctx context.Context, participantID domain.ParticipantID) (*ports.LeaveResult, error) {
	result := &ports.LeaveResult{}

	err := s.repo.Transaction(ctx, func(tx ports.RoomTx) error {
		*result = ports.LeaveResult{}

		participant, err := tx.GetParticipant(participantID)
		if err != nil {
			return err
		}

		// Duplicate close events land here with the room reference already
		// cleared, which keeps Leave idempotent.
		if !participant.InRoom() {
			participant.IsActive = false
			return tx.SaveParticipant(participant)
		}

		room, err := tx.GetRoom(*participant.RoomID)
		if err != nil {
			return err
		}

		result.RoomID = room.ID
		for _, id := range room.ParticipantIDs {
			if id != participant.ID {
				result.NotifyIDs = append(result.NotifyIDs, id)
			}
		}

		if participant.IsHost {
			// Host leaving closes the room for everyone. The roster is
			// cleared so no stale back-references survive.
			result.RoomClosed = true
			room.IsActive = false
			for _, id := range room.ParticipantIDs {
				member, err := tx.GetParticipant(id)
				if err != nil {
					return err
				}
				member.RoomID = nil
				if err := tx.SaveParticipant(member); err != nil {
					return err
				}
			}
			room.ParticipantIDs = nil
			participant.RoomID = nil
		} else {
			room.RemoveParticipant(participant.ID)
			participant.RoomID = nil
		}

		participant.IsActive = false
		if err := tx.SaveParticipant(participant); err != nil {
			return err
		}
		return tx.SaveRoom(room)
	})
	if err != nil {
		return nil, fmt.Errorf("leave room: %w", err)
	}

	return result, nil
}
