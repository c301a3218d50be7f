package protocol

import (
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrMalformedPacket = errors.New("protocol: malformed packet")
	ErrInvalidAddress  = errors.New("protocol: handshake address must be IPv4")
	ErrUnknownMessage  = errors.New("protocol: unknown message")
)

// Message is one of Handshake, Data or Keepalive.
type Message interface {
	Type() MessageType
}

// Handshake carries a node's static public key and the internal address it
// requests (client to server) or echoes back (server to client).
type Handshake struct {
	PublicKey [KeySize]byte
	IP        netip.Addr
}

func (Handshake) Type() MessageType { return MessageTypeHandshake }

// Data is an AEAD-sealed IP packet. Ciphertext includes the trailing tag.
type Data struct {
	Nonce      [NonceSize]byte
	Ciphertext []byte
}

func (Data) Type() MessageType { return MessageTypeData }

// Keepalive has no payload.
type Keepalive struct{}

func (Keepalive) Type() MessageType { return MessageTypeKeepalive }

// Encode serializes m into a fresh buffer.
//
// Layout:
//
//	0 | public key (32) | IPv4 (4)
//	1 | nonce (12) | ciphertext || tag
//	2
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case Handshake:
		return encodeHandshake(&msg)
	case *Handshake:
		return encodeHandshake(msg)
	case Data:
		return encodeData(&msg), nil
	case *Data:
		return encodeData(msg), nil
	case Keepalive, *Keepalive:
		return []byte{byte(MessageTypeKeepalive)}, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownMessage, m)
	}
}

func encodeHandshake(h *Handshake) ([]byte, error) {
	if !h.IP.Is4() {
		return nil, ErrInvalidAddress
	}
	out := make([]byte, HandshakeSize)
	out[0] = byte(MessageTypeHandshake)
	copy(out[1:1+KeySize], h.PublicKey[:])
	ip := h.IP.As4()
	copy(out[1+KeySize:], ip[:])
	return out, nil
}

func encodeData(d *Data) []byte {
	out := make([]byte, 1+NonceSize+len(d.Ciphertext))
	out[0] = byte(MessageTypeData)
	copy(out[1:1+NonceSize], d.Nonce[:])
	copy(out[1+NonceSize:], d.Ciphertext)
	return out
}

// Decode parses a datagram. The returned Data.Ciphertext aliases b.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty datagram", ErrMalformedPacket)
	}
	switch t := MessageType(b[0]); t {
	case MessageTypeHandshake:
		if len(b) < HandshakeSize {
			return nil, fmt.Errorf("%w: handshake is %d bytes, need %d", ErrMalformedPacket, len(b), HandshakeSize)
		}
		var h Handshake
		copy(h.PublicKey[:], b[1:1+KeySize])
		h.IP = netip.AddrFrom4([4]byte(b[1+KeySize : HandshakeSize]))
		return h, nil
	case MessageTypeData:
		if len(b) < MinDataSize {
			return nil, fmt.Errorf("%w: data is %d bytes, need at least %d", ErrMalformedPacket, len(b), MinDataSize)
		}
		var d Data
		copy(d.Nonce[:], b[1:1+NonceSize])
		d.Ciphertext = b[1+NonceSize:]
		return d, nil
	case MessageTypeKeepalive:
		return Keepalive{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown header %d", ErrMalformedPacket, byte(t))
	}
}
