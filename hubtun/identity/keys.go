package identity

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/TheusHen/hubtun/hubtun/crypto"
)

var (
	ErrInvalidKey        = errors.New("identity: invalid key")
	ErrPublicKeyMismatch = errors.New("identity: public key does not match private key")
)

// KeyPair is a node's long-term X25519 identity. It is loaded from
// configuration and never regenerated while the process runs.
type KeyPair struct {
	PrivateKey [crypto.KeySize]byte
	PublicKey  [crypto.KeySize]byte
}

func GenerateKeyPair() (KeyPair, error) {
	var priv [crypto.KeySize]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return KeyPair{}, err
	}
	// Clamp per RFC 7748 so the stored scalar is canonical.
	priv[0] &= 248
	priv[31] &= 127
	priv[31] |= 64
	return KeyPairFromPrivate(priv)
}

func KeyPairFromPrivate(priv [crypto.KeySize]byte) (KeyPair, error) {
	pub, err := crypto.PublicKey(priv)
	if err != nil {
		return KeyPair{}, err
	}
	return KeyPair{PrivateKey: priv, PublicKey: pub}, nil
}

// ParseKeyPair decodes a base64 private/public pair and checks that they belong together.
func ParseKeyPair(privateKey, publicKey string) (KeyPair, error) {
	priv, err := ParseKey(privateKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("private key: %w", err)
	}
	kp, err := KeyPairFromPrivate(priv)
	if err != nil {
		return KeyPair{}, err
	}
	if publicKey == "" {
		return kp, nil
	}
	pub, err := ParseKey(publicKey)
	if err != nil {
		return KeyPair{}, fmt.Errorf("public key: %w", err)
	}
	if pub != kp.PublicKey {
		return KeyPair{}, ErrPublicKeyMismatch
	}
	return kp, nil
}

// SharedSecret derives the static session key with a peer.
func (kp KeyPair) SharedSecret(peer [crypto.KeySize]byte) ([crypto.KeySize]byte, error) {
	return crypto.SharedSecret(kp.PrivateKey, peer)
}

func (kp KeyPair) Fingerprint() string { return Fingerprint(kp.PublicKey) }

// ParseKey decodes a standard base64 32-byte key.
func ParseKey(s string) ([crypto.KeySize]byte, error) {
	var k [crypto.KeySize]byte
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(b) != crypto.KeySize {
		return k, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidKey, len(b), crypto.KeySize)
	}
	copy(k[:], b)
	return k, nil
}

func EncodeKey(k [crypto.KeySize]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}
