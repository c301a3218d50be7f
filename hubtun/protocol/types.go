package protocol

// MessageType is the leading header byte of every datagram.
type MessageType uint8

const (
	MessageTypeHandshake MessageType = 0
	MessageTypeData      MessageType = 1
	MessageTypeKeepalive MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case MessageTypeHandshake:
		return "HANDSHAKE"
	case MessageTypeData:
		return "DATA"
	case MessageTypeKeepalive:
		return "KEEPALIVE"
	default:
		return "UNKNOWN"
	}
}

// Label is the lower-case name used in metrics.
func (t MessageType) Label() string {
	switch t {
	case MessageTypeHandshake:
		return "handshake"
	case MessageTypeData:
		return "data"
	case MessageTypeKeepalive:
		return "keepalive"
	default:
		return "unknown"
	}
}

const (
	// KeySize is the size of an X25519 public key carried in a handshake.
	KeySize = 32
	// NonceSize is the AES-GCM nonce carried in a data packet.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag at the end of the ciphertext.
	TagSize = 16

	// HandshakeSize is header || public key || IPv4.
	HandshakeSize = 1 + KeySize + 4
	// MinDataSize is header || nonce || tag with an empty payload.
	MinDataSize = 1 + NonceSize + TagSize
	// KeepaliveSize is the bare header.
	KeepaliveSize = 1
)
