// Package secret seals worker credentials at rest with NaCl secretbox.
package secret

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var (
	ErrBadKey   = errors.New("secret key must be 32 bytes of hex")
	ErrTampered = errors.New("sealed secret failed authentication")
	ErrTooShort = errors.New("sealed secret is too short")
	ErrMismatch = errors.New("credential mismatch")
)

// Box seals and opens short secrets with one symmetric key.
type Box struct {
	key [keySize]byte
}

// NewBox wraps a raw 32 byte key.
func NewBox(key []byte) (*Box, error) {
	if len(key) != keySize {
		return nil, ErrBadKey
	}
	b := &Box{}
	copy(b.key[:], key)
	return b, nil
}

// NewBoxFromHex decodes a 64 character hex key.
func NewBoxFromHex(s string) (*Box, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadKey, err)
	}
	return NewBox(key)
}

// Seal returns nonce || secretbox(plaintext).
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to read nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

// Open reverses Seal.
func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrTooShort
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrTampered
	}
	return out, nil
}

// Verify opens sealed and compares it with candidate in constant time.
func (b *Box) Verify(sealed []byte, candidate string) error {
	plain, err := b.Open(sealed)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare(plain, []byte(candidate)) != 1 {
		return ErrMismatch
	}
	return nil
}
