package tunnel

import (
	"errors"
	"net"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"github.com/TheusHen/hubtun/hubtun/protocol"
)

const waitTimeout = 2 * time.Second

// fakeNet is an in-memory datagram network. Writes to an address with no
// socket bound are lost, as UDP would lose them.
type fakeNet struct {
	mu    sync.Mutex
	conns map[netip.AddrPort]*fakeConn
}

func newFakeNet() *fakeNet {
	return &fakeNet{conns: make(map[netip.AddrPort]*fakeConn)}
}

func (n *fakeNet) bind(addr string) *fakeConn {
	c := &fakeConn{
		net:    n,
		addr:   netip.MustParseAddrPort(addr),
		in:     make(chan rawDatagram, 256),
		closed: make(chan struct{}),
	}
	n.mu.Lock()
	n.conns[c.addr] = c
	n.mu.Unlock()
	return c
}

type rawDatagram struct {
	b    []byte
	from netip.AddrPort
}

type fakeConn struct {
	net    *fakeNet
	addr   netip.AddrPort
	in     chan rawDatagram
	closed chan struct{}
	once   sync.Once
}

func (c *fakeConn) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-c.in:
		return copy(b, d.b), d.from, nil
	case <-c.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (c *fakeConn) WriteTo(b []byte, to netip.AddrPort) (int, error) {
	select {
	case <-c.closed:
		return 0, net.ErrClosed
	default:
	}
	c.net.mu.Lock()
	dst := c.net.conns[to]
	c.net.mu.Unlock()
	if dst == nil {
		return len(b), nil
	}
	select {
	case dst.in <- rawDatagram{b: append([]byte(nil), b...), from: c.addr}:
	default:
	}
	return len(b), nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// send encodes m and writes it to addr.
func (c *fakeConn) send(t *testing.T, m protocol.Message, to netip.AddrPort) {
	t.Helper()
	b, err := protocol.Encode(m)
	require.NoError(t, err)
	_, err = c.WriteTo(b, to)
	require.NoError(t, err)
}

// recv waits for the next datagram and decodes it.
func (c *fakeConn) recv(t *testing.T) (protocol.Message, netip.AddrPort) {
	t.Helper()
	select {
	case d := <-c.in:
		m, err := protocol.Decode(d.b)
		require.NoError(t, err)
		return m, d.from
	case <-time.After(waitTimeout):
		t.Fatalf("%s: no datagram received", c.addr)
		return nil, netip.AddrPort{}
	}
}

// recvData skips keepalives and handshakes until a data packet arrives.
func (c *fakeConn) recvData(t *testing.T) protocol.Data {
	t.Helper()
	for {
		m, _ := c.recv(t)
		if d, ok := m.(protocol.Data); ok {
			return d
		}
	}
}

func (c *fakeConn) expectNothing(t *testing.T) {
	t.Helper()
	select {
	case d := <-c.in:
		t.Fatalf("%s: unexpected datagram %x", c.addr, d.b)
	default:
	}
}

type fakeDevice struct {
	in      chan []byte
	out     chan []byte
	closed  chan struct{}
	once    sync.Once
	readErr error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		in:     make(chan []byte, 64),
		out:    make(chan []byte, 64),
		closed: make(chan struct{}),
	}
}

func (d *fakeDevice) Read(b []byte) (int, error) {
	if d.readErr != nil {
		return 0, d.readErr
	}
	select {
	case p := <-d.in:
		return copy(b, p), nil
	case <-d.closed:
		return 0, errors.New("device closed")
	}
}

func (d *fakeDevice) Write(b []byte) (int, error) {
	select {
	case d.out <- append([]byte(nil), b...):
		return len(b), nil
	case <-d.closed:
		return 0, errors.New("device closed")
	}
}

func (d *fakeDevice) Close() error {
	d.once.Do(func() { close(d.closed) })
	return nil
}

func (d *fakeDevice) isClosed() bool {
	select {
	case <-d.closed:
		return true
	default:
		return false
	}
}

func (d *fakeDevice) written(t *testing.T) []byte {
	t.Helper()
	select {
	case p := <-d.out:
		return p
	case <-time.After(waitTimeout):
		t.Fatal("nothing written to device")
		return nil
	}
}

func (d *fakeDevice) expectNothingWritten(t *testing.T) {
	t.Helper()
	select {
	case p := <-d.out:
		t.Fatalf("unexpected packet written to device: %x", p)
	default:
	}
}

// ipPacket builds an IPv4 packet carrying payload.
func ipPacket(t *testing.T, src, dst string, payload []byte) []byte {
	t.Helper()
	h := &ipv4.Header{
		Version:  ipv4.Version,
		Len:      ipv4.HeaderLen,
		TotalLen: ipv4.HeaderLen + len(payload),
		TTL:      64,
		Protocol: 17,
		Src:      net.ParseIP(src),
		Dst:      net.ParseIP(dst),
	}
	b, err := h.Marshal()
	require.NoError(t, err)
	return append(b, payload...)
}
