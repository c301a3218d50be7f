package session

import (
	"net/netip"
	"sync"
	"time"

	"github.com/TheusHen/hubtun/hubtun/crypto"
	"github.com/TheusHen/hubtun/hubtun/protocol"
)

// Channel is the client's single session with its server. It holds no key
// until the server's handshake response arrives; until then Seal and Open
// fail with ErrNoActiveSession.
type Channel struct {
	mu          sync.RWMutex
	peer        Peer
	installed   bool
	established chan struct{}
	once        sync.Once
}

func NewChannel() *Channel {
	return &Channel{established: make(chan struct{})}
}

// Install sets (or replaces) the shared secret used with the server at addr.
func (c *Channel) Install(ip netip.Addr, addr netip.AddrPort, secret [crypto.KeySize]byte) error {
	p, err := NewPeer(ip, addr, secret, time.Now())
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.peer = p
	c.installed = true
	c.mu.Unlock()
	c.once.Do(func() { close(c.established) })
	return nil
}

// Established is closed once the first secret is installed.
func (c *Channel) Established() <-chan struct{} { return c.established }

func (c *Channel) IsEstablished() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.installed
}

// Peer returns a copy of the current session.
func (c *Channel) Peer() (Peer, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.peer, c.installed
}

func (c *Channel) Seal(plaintext []byte) (protocol.Data, error) {
	p, ok := c.Peer()
	if !ok {
		return protocol.Data{}, ErrNoActiveSession
	}
	return p.Seal(plaintext)
}

func (c *Channel) Open(d protocol.Data) ([]byte, error) {
	p, ok := c.Peer()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return p.Open(d)
}

// Touch records activity from the server.
func (c *Channel) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.installed {
		c.peer.LastSeen = now
	}
}
