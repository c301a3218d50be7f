package identity

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is a short, log-friendly identifier for a public key:
// the first 8 bytes of SHA-256(publicKey), hex encoded.
func Fingerprint(publicKey [32]byte) string {
	sum := sha256.Sum256(publicKey[:])
	return hex.EncodeToString(sum[:8])
}
