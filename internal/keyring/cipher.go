package keyring

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
)

const ivSize = 12

var (
	// ErrKeyUnavailable is returned when encryption is attempted without a
	// key. Senders must queue instead of degrading to plaintext.
	ErrKeyUnavailable = errors.New("encryption key unavailable")
	// ErrDecryptFailed is returned when GCM authentication fails, meaning
	// a wrong or stale key.
	ErrDecryptFailed = errors.New("decryption failed: authentication error")
	// ErrMalformedEnvelope is returned for structurally invalid input,
	// distinguishable from an authentication failure.
	ErrMalformedEnvelope = errors.New("malformed encrypted envelope")
)

// Envelope carries one encrypted message: a fresh 96-bit IV and the
// AES-GCM ciphertext (tag included).
type Envelope struct {
	IV     []byte
	Cipher []byte
}

// Encrypt seals plaintext under the shared key with a random IV. The IV
// is never reused for a given key.
func Encrypt(plaintext string, key []byte) (Envelope, error) {
	if len(key) == 0 {
		return Envelope{}, ErrKeyUnavailable
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return Envelope{}, fmt.Errorf("creating AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return Envelope{}, fmt.Errorf("creating GCM cipher: %w", err)
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Envelope{}, fmt.Errorf("generating IV: %w", err)
	}

	return Envelope{
		IV:     iv,
		Cipher: aesgcm.Seal(nil, iv, []byte(plaintext), nil),
	}, nil
}

// Decrypt opens an envelope. Authentication failures and malformed input
// produce distinguishable errors so callers can surface a placeholder
// without tearing down the conversation.
func Decrypt(env Envelope, key []byte) (string, error) {
	if len(key) == 0 {
		return "", ErrKeyUnavailable
	}
	if len(env.IV) != ivSize || len(env.Cipher) == 0 {
		return "", ErrMalformedEnvelope
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("creating AES cipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("creating GCM cipher: %w", err)
	}

	plaintext, err := aesgcm.Open(nil, env.IV, env.Cipher, nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}
