package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNegotiationRole(t *testing.T) {
	assert.Equal(t, RoleImpolite, NegotiationRole("bbb", "aaa"))
	assert.Equal(t, RolePolite, NegotiationRole("aaa", "bbb"))
}

func TestNegotiationRoleSymmetry(t *testing.T) {
	pairs := [][2]ParticipantID{
		{"a", "b"},
		{"5f3c", "5f3d"},
		{"zzz", "aaa"},
	}

	// Exactly one side of every pair must end up impolite.
	for _, pair := range pairs {
		left := NegotiationRole(pair[0], pair[1])
		right := NegotiationRole(pair[1], pair[0])
		assert.NotEqual(t, left, right, "pair %v must split roles", pair)
	}
}
