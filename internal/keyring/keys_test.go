package keyring

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveIdentity_Deterministic(t *testing.T) {
	a, err := DeriveIdentity("alice", "correct horse")
	require.NoError(t, err)
	b, err := DeriveIdentity("alice", "correct horse")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey().Bytes(), b.PublicKey().Bytes())
}

func TestDeriveIdentity_UsernameNormalized(t *testing.T) {
	a, err := DeriveIdentity("Alice", "pw")
	require.NoError(t, err)
	b, err := DeriveIdentity("  alice  ", "pw")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey().Bytes(), b.PublicKey().Bytes())
}

func TestDeriveIdentity_DistinctCredentialsDiverge(t *testing.T) {
	a, err := DeriveIdentity("alice", "pw")
	require.NoError(t, err)
	b, err := DeriveIdentity("alice", "pw2")
	require.NoError(t, err)
	c, err := DeriveIdentity("bob", "pw")
	require.NoError(t, err)

	assert.NotEqual(t, a.PublicKey().Bytes(), b.PublicKey().Bytes())
	assert.NotEqual(t, a.PublicKey().Bytes(), c.PublicKey().Bytes())
}

func TestSharedSecret_Commutative(t *testing.T) {
	alice, err := DeriveIdentity("alice", "pw-a")
	require.NoError(t, err)
	bob, err := DeriveIdentity("bob", "pw-b")
	require.NoError(t, err)

	ab, err := alice.SharedSecret(bob.PublicKey())
	require.NoError(t, err)
	ba, err := bob.SharedSecret(alice.PublicKey())
	require.NoError(t, err)

	assert.Equal(t, ab, ba)
	assert.Len(t, ab, 32)
}

func TestSharedSecret_NilPeer(t *testing.T) {
	alice, err := DeriveIdentity("alice", "pw")
	require.NoError(t, err)

	_, err = alice.SharedSecret(nil)
	assert.ErrorIs(t, err, ErrNoPeerKey)
}

func TestPublicJWK_RoundTrip(t *testing.T) {
	alice, err := DeriveIdentity("alice", "pw")
	require.NoError(t, err)

	serialized, err := alice.PublicJWK("alice")
	require.NoError(t, err)
	require.NotEmpty(t, serialized)

	decoded, err := DecodePublicKey(serialized)
	require.NoError(t, err)
	assert.Equal(t, alice.PublicKey().Bytes(), decoded.Bytes())
}

func TestDecodePublicKey_Garbage(t *testing.T) {
	_, err := DecodePublicKey("not a key")
	assert.Error(t, err)

	_, err = DecodePublicKey("")
	assert.Error(t, err)
}

func TestDestroy_ZeroesIdentity(t *testing.T) {
	alice, err := DeriveIdentity("alice", "pw")
	require.NoError(t, err)
	bob, err := DeriveIdentity("bob", "pw")
	require.NoError(t, err)

	scalar := alice.scalar
	require.NotEmpty(t, scalar)

	alice.Destroy()
	_, err = alice.SharedSecret(bob.PublicKey())
	assert.Error(t, err)

	// The retained scalar slice itself is wiped, not a copy of it.
	assert.Equal(t, make([]byte, len(scalar)), scalar)
}
