// Package crypto seals secrets before they are written to the store.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	keyBytes      = 32
	sealedVersion = "v1:"
)

var ErrCiphertext = errors.New("malformed ciphertext")

type Cipher interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Noop passes secrets through unchanged (dev/test mode).
type Noop struct{}

func (Noop) Seal(plaintext string) (string, error) { return plaintext, nil }
func (Noop) Open(sealed string) (string, error)    { return sealed, nil }

// AESGCM seals with AES-256-GCM. Sealed values carry a version prefix so
// values written before encryption was enabled are still readable.
type AESGCM struct {
	gcm cipher.AEAD
}

func NewAESGCM(hexKey string) (*AESGCM, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("invalid encryption key hex: %w", err)
	}
	if len(key) != keyBytes {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keyBytes, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &AESGCM{gcm: gcm}, nil
}

// New returns AESGCM for a configured key and Noop otherwise.
func New(hexKey string) (Cipher, error) {
	if hexKey == "" {
		return Noop{}, nil
	}
	return NewAESGCM(hexKey)
}

func (c *AESGCM) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// nonce || ciphertext || tag
	sealed := c.gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedVersion + hex.EncodeToString(sealed), nil
}

func (c *AESGCM) Open(sealed string) (string, error) {
	payload, ok := strings.CutPrefix(sealed, sealedVersion)
	if !ok {
		return sealed, nil
	}

	buffer, err := hex.DecodeString(payload)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCiphertext, err)
	}

	nonceSize := c.gcm.NonceSize()
	if len(buffer) < nonceSize {
		return "", fmt.Errorf("%w: too short", ErrCiphertext)
	}

	nonce, cipherBytes := buffer[:nonceSize], buffer[nonceSize:]
	plain, err := c.gcm.Open(nil, nonce, cipherBytes, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}

	return string(plain), nil
}
