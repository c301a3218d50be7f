package session

import (
	"net/netip"
	"time"

	"github.com/TheusHen/hubtun/hubtun/crypto"
	"github.com/TheusHen/hubtun/hubtun/protocol"
)

// Peer is a live session: the internal address a remote node owns, the
// socket address it was last seen at and the static key shared with it.
//
// A Peer is a value; the table replaces it whole, so a reader never sees a
// remote address paired with another session's key.
type Peer struct {
	IP       netip.Addr
	Addr     netip.AddrPort
	Secret   [crypto.KeySize]byte
	LastSeen time.Time

	aead *crypto.AEAD
}

func NewPeer(ip netip.Addr, addr netip.AddrPort, secret [crypto.KeySize]byte, now time.Time) (Peer, error) {
	aead, err := crypto.NewAEAD(secret)
	if err != nil {
		return Peer{}, err
	}
	return Peer{
		IP:       ip.Unmap(),
		Addr:     unmap(addr),
		Secret:   secret,
		LastSeen: now,
		aead:     aead,
	}, nil
}

// Seal encrypts an IP packet for this peer.
func (p Peer) Seal(plaintext []byte) (protocol.Data, error) {
	if p.aead == nil {
		return protocol.Data{}, ErrNoActiveSession
	}
	nonce, ciphertext, err := p.aead.Seal(plaintext)
	if err != nil {
		return protocol.Data{}, err
	}
	return protocol.Data{Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Open decrypts a data packet from this peer. A failure leaves the session untouched.
func (p Peer) Open(d protocol.Data) ([]byte, error) {
	if p.aead == nil {
		return nil, ErrNoActiveSession
	}
	return p.aead.Open(d.Nonce, d.Ciphertext)
}

func unmap(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
