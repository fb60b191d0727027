package session

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const sealerInfo = "courierlink-credentials-v1"

var errSealedTooShort = errors.New("sealed value too short")

// AESSealer seals values with AES-256-GCM under a key derived from a shared
// secret. The nonce is prepended to the ciphertext.
type AESSealer struct {
	aead cipher.AEAD
}

func NewAESSealer(secret string) (*AESSealer, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("credential secret is required")
	}
	key := make([]byte, 32)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte(sealerInfo))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive credential key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AESSealer{aead: aead}, nil
}

func (s *AESSealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *AESSealer) Open(sealed []byte) ([]byte, error) {
	size := s.aead.NonceSize()
	if len(sealed) < size {
		return nil, errSealedTooShort
	}
	return s.aead.Open(nil, sealed[:size], sealed[size:], nil)
}
