package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"huddle/internal/core/domain"
	"huddle/internal/core/ports"
	"huddle/internal/infrastructure/repositories/memory"
	"huddle/pkg/utils"
)

func newTestService(t *testing.T) (ports.RoomService, ports.RoomRepository) {
	t.Helper()
	repo := memory.NewMemoryRoomRepository()
	return NewRoomService(repo), repo
}

func addParticipant(t *testing.T, repo ports.RoomRepository) *domain.Participant {
	t.Helper()
	p := &domain.Participant{
		ID:           domain.ParticipantID(utils.GenerateParticipantID()),
		ConnectionID: domain.ConnectionID(utils.GenerateConnectionID()),
		IsActive:     true,
		JoinedAt:     time.Now(),
	}
	require.NoError(t, repo.SaveParticipant(context.Background(), p))
	return p
}

func TestCreateRoom(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)

	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	assert.True(t, room.IsActive)
	assert.NotEmpty(t, room.ShareableID)
	assert.Equal(t, []domain.ParticipantID{host.ID}, room.ParticipantIDs)

	stored, err := repo.GetParticipant(ctx, host.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsHost)
	require.NotNil(t, stored.RoomID)
	assert.Equal(t, room.ID, *stored.RoomID)
}

func TestCreateRoomAlreadyInRoom(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	_, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	_, err = svc.CreateRoom(ctx, host.ID)
	assert.ErrorIs(t, err, domain.ErrAlreadyInRoom)
}

func TestJoinRoom(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	guest := addParticipant(t, repo)
	joined, others, err := svc.JoinRoom(ctx, guest.ID, room.ShareableID)
	require.NoError(t, err)

	assert.Equal(t, room.ID, joined.ID)
	assert.Len(t, joined.ParticipantIDs, 2)
	require.Len(t, others, 1)
	assert.Equal(t, host.ID, others[0].ID)

	stored, err := repo.GetParticipant(ctx, guest.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsHost)
	require.NotNil(t, stored.RoomID)
	assert.Equal(t, room.ID, *stored.RoomID)
}

func TestJoinRoomNotFound(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	guest := addParticipant(t, repo)
	_, _, err := svc.JoinRoom(ctx, guest.ID, "nosuchroom")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	// A failed join must never leave a room association behind.
	stored, err := repo.GetParticipant(ctx, guest.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.RoomID)
}

func TestJoinRoomClosed(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	_, err = svc.Leave(ctx, host.ID)
	require.NoError(t, err)

	guest := addParticipant(t, repo)
	_, _, err = svc.JoinRoom(ctx, guest.ID, room.ShareableID)
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestJoinRoomFull(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	for i := 0; i < domain.RoomMaxCapacity-1; i++ {
		guest := addParticipant(t, repo)
		_, _, err := svc.JoinRoom(ctx, guest.ID, room.ShareableID)
		require.NoError(t, err)
	}

	late := addParticipant(t, repo)
	_, _, err = svc.JoinRoom(ctx, late.ID, room.ShareableID)
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	// The rejected join must not have mutated the roster.
	stored, err := repo.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ParticipantIDs, domain.RoomMaxCapacity)
	assert.False(t, stored.HasParticipant(late.ID))
}

func TestJoinRoomConcurrent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	const joiners = 10
	guests := make([]*domain.Participant, joiners)
	for i := range guests {
		guests[i] = addParticipant(t, repo)
	}

	var wg sync.WaitGroup
	results := make(chan error, joiners)
	for _, guest := range guests {
		wg.Add(1)
		go func(id domain.ParticipantID) {
			defer wg.Done()
			_, _, err := svc.JoinRoom(ctx, id, room.ShareableID)
			results <- err
		}(guest.ID)
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, domain.ErrRoomFull)
			rejected++
		}
	}

	assert.Equal(t, domain.RoomMaxCapacity-1, succeeded)
	assert.Equal(t, joiners-(domain.RoomMaxCapacity-1), rejected)

	stored, err := repo.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, stored.ParticipantIDs, domain.RoomMaxCapacity)
}

func TestLeaveNonHost(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	guest := addParticipant(t, repo)
	_, _, err = svc.JoinRoom(ctx, guest.ID, room.ShareableID)
	require.NoError(t, err)

	result, err := svc.Leave(ctx, guest.ID)
	require.NoError(t, err)

	assert.False(t, result.RoomClosed)
	assert.Equal(t, []domain.ParticipantID{host.ID}, result.NotifyIDs)

	stored, err := repo.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsActive)
	assert.Equal(t, []domain.ParticipantID{host.ID}, stored.ParticipantIDs)

	left, err := repo.GetParticipant(ctx, guest.ID)
	require.NoError(t, err)
	assert.False(t, left.IsActive)
	assert.Nil(t, left.RoomID)
}

func TestLeaveHostClosesRoom(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	var guestIDs []domain.ParticipantID
	for i := 0; i < 2; i++ {
		guest := addParticipant(t, repo)
		_, _, err := svc.JoinRoom(ctx, guest.ID, room.ShareableID)
		require.NoError(t, err)
		guestIDs = append(guestIDs, guest.ID)
	}

	result, err := svc.Leave(ctx, host.ID)
	require.NoError(t, err)

	assert.True(t, result.RoomClosed)
	assert.ElementsMatch(t, guestIDs, result.NotifyIDs)

	stored, err := repo.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
	assert.Empty(t, stored.ParticipantIDs)

	// Every former member's back-reference must be cleared.
	for _, id := range guestIDs {
		member, err := repo.GetParticipant(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, member.RoomID)
	}
}

func TestLeaveIdempotent(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	host := addParticipant(t, repo)
	room, err := svc.CreateRoom(ctx, host.ID)
	require.NoError(t, err)

	guest := addParticipant(t, repo)
	_, _, err = svc.JoinRoom(ctx, guest.ID, room.ShareableID)
	require.NoError(t, err)

	first, err := svc.Leave(ctx, guest.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, first.NotifyIDs)

	// A duplicate close event must not produce a second broadcast.
	second, err := svc.Leave(ctx, guest.ID)
	require.NoError(t, err)
	assert.Empty(t, second.NotifyIDs)
	assert.False(t, second.RoomClosed)
}

func TestLeaveWithoutRoom(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	p := addParticipant(t, repo)

	result, err := svc.Leave(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, result.NotifyIDs)

	stored, err := repo.GetParticipant(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsActive)
}
