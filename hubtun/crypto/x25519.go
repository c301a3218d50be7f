package crypto

import (
	"errors"

	"golang.org/x/crypto/curve25519"
)

const KeySize = 32

var (
	ErrInvalidPublicKey = errors.New("crypto: invalid X25519 public key")
)

// SharedSecret computes X25519(privateKey, peerPublicKey). Both sides of a
// static-static exchange arrive at the same 32 bytes, used as-is as the AEAD key.
func SharedSecret(privateKey, peerPublicKey [KeySize]byte) ([KeySize]byte, error) {
	var zero [KeySize]byte
	if peerPublicKey == zero {
		return zero, ErrInvalidPublicKey
	}
	// X25519 rejects low-order points (all-zero output).
	shared, err := curve25519.X25519(privateKey[:], peerPublicKey[:])
	if err != nil {
		return zero, errors.Join(ErrInvalidPublicKey, err)
	}
	var out [KeySize]byte
	copy(out[:], shared)
	return out, nil
}

// PublicKey returns the X25519 public point for privateKey.
func PublicKey(privateKey [KeySize]byte) ([KeySize]byte, error) {
	var out [KeySize]byte
	pub, err := curve25519.X25519(privateKey[:], curve25519.Basepoint)
	if err != nil {
		return out, err
	}
	copy(out[:], pub)
	return out, nil
}
