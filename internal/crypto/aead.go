// Package crypto holds the symmetric primitives used outside the routing
// stack, built on golang.org/x/crypto.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	KeySize   = chacha20poly1305.KeySize
	NonceSize = chacha20poly1305.NonceSize
	TagSize   = chacha20poly1305.Overhead
)

var ErrAuthentication = errors.New("aead: message authentication failed")

// AEADChaCha20Poly1305 encrypts msg and appends the 16 byte tag, or, when
// encrypt is false, verifies and strips the tag from msg. The result is
// appended to dst.
func AEADChaCha20Poly1305(dst, msg, ad, key, nonce []byte, encrypt bool) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("aead: %w", err)
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("aead: nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}

	if encrypt {
		return aead.Seal(dst, nonce, msg, ad), nil
	}
	out, err := aead.Open(dst, nonce, msg, ad)
	if err != nil {
		return nil, ErrAuthentication
	}
	return out, nil
}

// Sealer encrypts small records under a fixed key with a random nonce
// prepended to each ciphertext.
type Sealer struct {
	key [KeySize]byte
}

func NewSealer(key []byte) (*Sealer, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("sealer: key must be %d bytes, got %d", KeySize, len(key))
	}
	s := &Sealer{}
	copy(s.key[:], key)
	return s, nil
}

// Seal returns nonce || ciphertext || tag.
func (s *Sealer) Seal(plaintext, ad []byte) ([]byte, error) {
	nonce := make([]byte, NonceSize, NonceSize+len(plaintext)+TagSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("sealer: nonce: %w", err)
	}
	return AEADChaCha20Poly1305(nonce, plaintext, ad, s.key[:], nonce, true)
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, ad []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, ErrAuthentication
	}
	return AEADChaCha20Poly1305(nil, sealed[NonceSize:], ad, s.key[:], sealed[:NonceSize], false)
}
