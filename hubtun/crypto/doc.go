// Package crypto provides the primitives of the tunnel data plane.
//
//   - Static-static X25519 agreement; the raw shared point is used directly as the
//     AES-256 key, there is no KDF stage and no per-session ephemeral key
//   - AES-256-GCM with a fresh random 96-bit nonce per packet and a 128-bit tag
//   - HKDF-SHA256 for auxiliary key material (obfuscation keystreams)
//
// Nonces are random, not counters: no ordering or replay information is derived
// from them.
package crypto
