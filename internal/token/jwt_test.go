package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWT_SessionTokenRoundTrip(t *testing.T) {
	manager := NewJWT("secret")

	token, err := manager.GenerateSessionToken("alice")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	userID, err := manager.ParseSessionToken(token)
	require.NoError(t, err)
	assert.Equal(t, "alice", userID)
}

func TestJWT_WrongSecret(t *testing.T) {
	token, err := NewJWT("secret").GenerateSessionToken("alice")
	require.NoError(t, err)

	_, err = NewJWT("other").ParseSessionToken(token)
	assert.Error(t, err)
}

func TestJWT_Garbage(t *testing.T) {
	_, err := NewJWT("secret").ParseSessionToken("not.a.token")
	assert.Error(t, err)

	_, err = NewJWT("secret").ParseSessionToken("")
	assert.Error(t, err)
}
