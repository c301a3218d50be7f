package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"io"
)

const (
	NonceSize = 12
	TagSize   = 16
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrDecryptionFailed   = errors.New("crypto: decryption failed")
)

// AEAD wraps AES-256-GCM with a random nonce per Seal.
// There is no counter and no nonce-reuse detection; at very high packet
// volumes under one key the 96-bit birthday bound applies.
// An AEAD is safe for concurrent use.
type AEAD struct {
	aead cipher.AEAD
}

// NewAEAD creates a new AES-256-GCM cipher from a 32-byte key.
func NewAEAD(key [KeySize]byte) (*AEAD, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &AEAD{aead: aead}, nil
}

// Seal encrypts and authenticates plaintext under a fresh random nonce.
// The returned ciphertext has the 16-byte tag appended.
func (a *AEAD) Seal(plaintext []byte) ([NonceSize]byte, []byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nonce, nil, err
	}
	return nonce, a.aead.Seal(nil, nonce[:], plaintext, nil), nil
}

// Open verifies and decrypts ciphertext (which includes the tag).
func (a *AEAD) Open(nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < a.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := a.aead.Open(nil, nonce[:], ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Overhead returns the authentication tag overhead.
func (a *AEAD) Overhead() int { return a.aead.Overhead() }

// Seal is a one-shot form of (*AEAD).Seal.
func Seal(key [KeySize]byte, plaintext []byte) ([NonceSize]byte, []byte, error) {
	a, err := NewAEAD(key)
	if err != nil {
		return [NonceSize]byte{}, nil, err
	}
	return a.Seal(plaintext)
}

// Open is a one-shot form of (*AEAD).Open.
func Open(key [KeySize]byte, nonce [NonceSize]byte, ciphertext []byte) ([]byte, error) {
	a, err := NewAEAD(key)
	if err != nil {
		return nil, err
	}
	return a.Open(nonce, ciphertext)
}
