package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/roundtable/relay/internal/mocks"
	"github.com/roundtable/relay/internal/model"
	"github.com/roundtable/relay/internal/protocol"
	"github.com/roundtable/relay/internal/registry"
	"github.com/roundtable/relay/internal/testutil"
)

func TestPresence_Roster_MergesStoreAndRegistry(t *testing.T) {
	reg := registry.New()
	bob, _ := register(reg, "bob")
	bob.PublicKey = "bob-jwk"
	bob.Info = model.Info{Name: "Bob", Username: "bob"}

	lastSeen := time.UnixMilli(5000)
	users := &mocks.UserStore{}
	users.On("List", mock.Anything).Return([]model.User{
		{UserID: "alice", Username: "alice", DisplayName: "Alice", PublicKey: "alice-jwk", LastSeen: lastSeen},
		{UserID: "bob", Username: "bob", DisplayName: "Bob", PublicKey: "bob-jwk"},
	}, nil)

	p := NewPresence(reg, users, testutil.MakeNoopLogger())
	roster, err := p.Roster(context.Background())
	require.NoError(t, err)
	require.Len(t, roster, 2)

	byID := make(map[string]model.Presence)
	for _, entry := range roster {
		byID[entry.UserID] = entry
	}

	alice := byID["alice"]
	assert.Equal(t, model.StatusOffline, alice.Status)
	assert.Equal(t, int64(5000), alice.LastSeen)
	assert.Equal(t, "alice-jwk", alice.PublicKey)

	online := byID["bob"]
	assert.Equal(t, model.StatusOnline, online.Status)
	assert.Equal(t, "bob-session", online.SessionID)
}

func TestPresence_Roster_IncludesUnpersistedOnlineUser(t *testing.T) {
	reg := registry.New()
	register(reg, "fresh")

	users := &mocks.UserStore{}
	users.On("List", mock.Anything).Return([]model.User{}, nil)

	p := NewPresence(reg, users, testutil.MakeNoopLogger())
	roster, err := p.Roster(context.Background())
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "fresh", roster[0].UserID)
	assert.Equal(t, model.StatusOnline, roster[0].Status)
}

func TestPresence_AnnounceConnected(t *testing.T) {
	reg := registry.New()
	alice, aliceConn := register(reg, "alice")
	_, bobConn := register(reg, "bob")

	users := &mocks.UserStore{}
	users.On("List", mock.Anything).Return([]model.User{}, nil)

	p := NewPresence(reg, users, testutil.MakeNoopLogger())
	p.AnnounceConnected(context.Background(), alice)

	var sawIncremental, sawRoster bool
	for _, event := range bobConn.sent() {
		switch event.(type) {
		case protocol.UserConnected:
			sawIncremental = true
		case protocol.UserList:
			sawRoster = true
		}
	}
	assert.True(t, sawIncremental, "others get the incremental user_connected")
	assert.True(t, sawRoster)

	for _, event := range aliceConn.sent() {
		_, isIncremental := event.(protocol.UserConnected)
		assert.False(t, isIncremental, "the connecting user is excluded from its own announcement")
	}
}

func TestPresence_AnnounceDisconnected_TouchesLastSeen(t *testing.T) {
	reg := registry.New()
	register(reg, "bob")

	at := time.UnixMilli(9000)
	users := &mocks.UserStore{}
	users.On("TouchLastSeen", mock.Anything, "alice", at).Return(nil)
	users.On("List", mock.Anything).Return([]model.User{}, nil)

	p := NewPresence(reg, users, testutil.MakeNoopLogger())
	p.now = func() time.Time { return at }

	p.AnnounceDisconnected(context.Background(), "alice")
	users.AssertExpectations(t)
}

func TestPresence_UpdateProfilePicture(t *testing.T) {
	reg := registry.New()
	alice, _ := register(reg, "alice")
	_, bobConn := register(reg, "bob")

	users := &mocks.UserStore{}
	users.On("SetProfilePicture", mock.Anything, "alice", "http://cdn/alice.png").Return(nil)
	users.On("List", mock.Anything).Return([]model.User{}, nil)

	p := NewPresence(reg, users, testutil.MakeNoopLogger())
	p.UpdateProfilePicture(context.Background(), alice, "http://cdn/alice.png")

	assert.Equal(t, "http://cdn/alice.png", alice.Info.ProfilePicture)

	var sawUpdate bool
	for _, event := range bobConn.sent() {
		if update, ok := event.(protocol.ProfilePictureUpdated); ok {
			sawUpdate = true
			assert.Equal(t, "alice", update.UserID)
			assert.True(t, update.Success)
		}
	}
	assert.True(t, sawUpdate)
}
