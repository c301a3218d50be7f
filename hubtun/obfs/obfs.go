// Package obfs disguises tunnel datagrams on the wire.
//
// Obfuscation is applied by the socket layer after encoding and removed
// before decoding; it does not add confidentiality and both ends must agree
// on the same Protocol (and key, where one is used).
package obfs

import (
	"errors"
	"fmt"
	"strings"
)

type Protocol string

const (
	ProtocolNone Protocol = "none"
	ProtocolXOR  Protocol = "xor"
	ProtocolDNS  Protocol = "dns"
	ProtocolICMP Protocol = "icmp"
)

var (
	ErrUnknownProtocol = errors.New("obfs: unknown protocol")
	ErrMalformed       = errors.New("obfs: malformed datagram")
	// ErrObfuscate means a datagram could not be transformed and must not be sent.
	ErrObfuscate = errors.New("obfs: obfuscation failed")
)

func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(strings.ToLower(strings.TrimSpace(s))); p {
	case "", ProtocolNone:
		return ProtocolNone, nil
	case ProtocolXOR, ProtocolDNS, ProtocolICMP:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownProtocol, s)
	}
}

// Obfuscator transforms datagrams. Deobfuscate(Obfuscate(b)) yields b.
// Obfuscate must not modify its input.
type Obfuscator interface {
	Protocol() Protocol
	Obfuscate(b []byte) ([]byte, error)
	Deobfuscate(b []byte) ([]byte, error)
}

// New returns the obfuscator for p. key is only used by ProtocolXOR; with
// an empty key XOR falls back to a single rotating byte.
func New(p Protocol, key []byte) (Obfuscator, error) {
	switch p {
	case "", ProtocolNone:
		return None{}, nil
	case ProtocolXOR:
		return NewXOR(key), nil
	case ProtocolDNS:
		return NewDNS(), nil
	case ProtocolICMP:
		return NewICMP(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProtocol, string(p))
	}
}

// None passes datagrams through unchanged.
type None struct{}

func (None) Protocol() Protocol { return ProtocolNone }

func (None) Obfuscate(b []byte) ([]byte, error) { return b, nil }

func (None) Deobfuscate(b []byte) ([]byte, error) { return b, nil }
