package keyring

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/rakutentech/jwk-go/jwk"
	"golang.org/x/crypto/pbkdf2"
)

// Iterations is the PBKDF2 stretch count for identity derivation.
const Iterations = 100_000

// ErrNoPeerKey is returned when a shared secret is requested for a peer
// whose public key is not yet known.
var ErrNoPeerKey = errors.New("peer public key unavailable")

// Identity is a deterministic P-256 key pair derived from credentials.
// The same (username, password) yields byte-identical keys on any device;
// that is the mechanism for cross-device decryption without key escrow.
type Identity struct {
	priv *ecdh.PrivateKey
	// scalar is the raw private scalar the key was built from, retained
	// so Destroy has bytes it can actually wipe.
	scalar []byte
}

// DeriveIdentity derives the identity key pair for the given credentials.
// The username is lowercased before use as the PBKDF2 salt; skipping the
// normalization would make cross-case logins diverge into different keys.
func DeriveIdentity(username, password string) (*Identity, error) {
	salt := []byte(strings.ToLower(strings.TrimSpace(username)))
	seed := pbkdf2.Key([]byte(password), salt, Iterations, 32, sha256.New)

	priv, scalar, err := scalarFromSeed(seed)
	if err != nil {
		return nil, fmt.Errorf("deriving private scalar: %w", err)
	}

	return &Identity{priv: priv, scalar: scalar}, nil
}

// scalarFromSeed maps stretched bytes onto a valid P-256 private scalar.
// The raw 32 bytes are outside the group order with probability ~2^-32;
// rehashing until acceptance keeps the mapping deterministic.
func scalarFromSeed(seed []byte) (*ecdh.PrivateKey, []byte, error) {
	candidate := seed
	for i := 0; i < 128; i++ {
		priv, err := ecdh.P256().NewPrivateKey(candidate)
		if err == nil {
			return priv, candidate, nil
		}
		next := sha256.Sum256(candidate)
		candidate = next[:]
	}
	return nil, nil, errors.New("no valid scalar found")
}

// SharedSecret runs ECDH against the peer's public key. The 32-byte
// shared secret is used directly as the AES-256 key, mirroring the
// WebCrypto deriveKey behavior of the original clients. Commutative:
// SharedSecret(A, B.pub) == SharedSecret(B, A.pub).
func (id *Identity) SharedSecret(peer *ecdh.PublicKey) ([]byte, error) {
	if id == nil || id.priv == nil {
		return nil, errors.New("identity not derived")
	}
	if peer == nil {
		return nil, ErrNoPeerKey
	}
	secret, err := id.priv.ECDH(peer)
	if err != nil {
		return nil, fmt.Errorf("computing shared secret: %w", err)
	}
	return secret, nil
}

// PublicKey returns the identity's public key.
func (id *Identity) PublicKey() *ecdh.PublicKey {
	return id.priv.PublicKey()
}

// PublicJWK serializes the public key for transmission, tagged with the
// owner's id.
func (id *Identity) PublicJWK(keyID string) (string, error) {
	ecdsaPub, err := ecdsaPublic(id.priv.PublicKey())
	if err != nil {
		return "", err
	}
	return EncodePublicKey(ecdsaPub, keyID)
}

// Destroy zeroes the retained private scalar and drops the key. Must run
// on logout before any new identity derivation begins. crypto/ecdh keeps
// its own internal copy of the scalar that cannot be wiped; dropping the
// reference leaves that copy to the garbage collector.
func (id *Identity) Destroy() {
	if id == nil {
		return
	}
	for i := range id.scalar {
		id.scalar[i] = 0
	}
	id.priv = nil
}

// EncodePublicKey serializes an EC public key as a base64 JWK.
func EncodePublicKey(publicKey *ecdsa.PublicKey, keyID string) (string, error) {
	ks := jwk.NewSpec(publicKey)
	rawJWK, err := ks.ToJWK()
	if err != nil {
		return "", fmt.Errorf("creating JWK: %w", err)
	}

	rawJWK.Use = "enc"
	rawJWK.Alg = "ECDH-ES"
	rawJWK.Kid = keyID

	keyData, err := rawJWK.MarshalJSON()
	if err != nil {
		return "", fmt.Errorf("marshalling JWK: %w", err)
	}
	return base64.StdEncoding.EncodeToString(keyData), nil
}

// DecodePublicKey parses a base64 JWK back into an ECDH public key.
func DecodePublicKey(publicKey string) (*ecdh.PublicKey, error) {
	keyData, err := base64.StdEncoding.DecodeString(publicKey)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}

	keySpec, err := jwk.Parse(string(keyData))
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}

	ecdsaPub, ok := keySpec.Key.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected key type %T", keySpec.Key)
	}

	pub, err := ecdsaPub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}
	return pub, nil
}

// ecdsaPublic converts an ECDH public key to its ECDSA form for JWK
// serialization.
func ecdsaPublic(pub *ecdh.PublicKey) (*ecdsa.PublicKey, error) {
	raw := pub.Bytes()
	if len(raw) != 65 || raw[0] != 4 {
		return nil, errors.New("unexpected public key encoding")
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:65]),
	}, nil
}
