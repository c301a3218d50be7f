package obfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/rand"
)

const dnsHeaderSize = 12

// dnsTrailer is QTYPE=A, QCLASS=IN.
var dnsTrailer = []byte{0x00, 0x01, 0x00, 0x01}

// DNS wraps a datagram so it resembles a standard DNS query:
//
//	id (2, random) | flags 0x0100 | qdcount 1 | an/ns/ar counts 0 | payload | 00 01 00 01
type DNS struct{}

func NewDNS() DNS { return DNS{} }

func (DNS) Protocol() Protocol { return ProtocolDNS }

func (DNS) Obfuscate(b []byte) ([]byte, error) {
	out := make([]byte, dnsHeaderSize, dnsHeaderSize+len(b)+len(dnsTrailer))
	binary.BigEndian.PutUint16(out[0:2], uint16(rand.Uint32()))
	binary.BigEndian.PutUint16(out[2:4], 0x0100)
	binary.BigEndian.PutUint16(out[4:6], 1)
	out = append(out, b...)
	return append(out, dnsTrailer...), nil
}

func (DNS) Deobfuscate(b []byte) ([]byte, error) {
	if len(b) < dnsHeaderSize+len(dnsTrailer) {
		return nil, fmt.Errorf("%w: dns datagram is %d bytes", ErrMalformed, len(b))
	}
	if !bytes.Equal(b[len(b)-len(dnsTrailer):], dnsTrailer) {
		return nil, fmt.Errorf("%w: missing dns question trailer", ErrMalformed)
	}
	return b[dnsHeaderSize : len(b)-len(dnsTrailer)], nil
}
