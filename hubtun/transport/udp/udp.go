// Package udp is the datagram socket shared by every tunnel flow. It applies
// the configured obfuscation on the way out and strips it on the way in.
package udp

import (
	"errors"
	"net"
	"net/netip"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/TheusHen/hubtun/hubtun/metrics"
	"github.com/TheusHen/hubtun/hubtun/obfs"
)

// MaxDatagramSize is the largest UDP payload the socket will read.
const MaxDatagramSize = 65535

type Conn struct {
	conn    *net.UDPConn
	obfs    obfs.Obfuscator
	readMu  sync.Mutex
	readBuf []byte
	log     *logrus.Entry
}

// Listen binds a UDP socket on addr ("host:port"; port 0 picks one).
// A nil obfuscator sends datagrams unchanged.
func Listen(addr string, o obfs.Obfuscator) (*Conn, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	if o == nil {
		o = obfs.None{}
	}
	c := &Conn{
		conn:    conn,
		obfs:    o,
		readBuf: make([]byte, MaxDatagramSize),
	}
	c.log = logrus.WithFields(logrus.Fields{
		"component": "udp",
		"local":     conn.LocalAddr().String(),
		"obfs":      string(o.Protocol()),
	})
	return c, nil
}

// ReadFrom blocks until a datagram that deobfuscates cleanly arrives and
// copies it into b. Datagrams that fail to deobfuscate are dropped and
// counted as malformed.
func (c *Conn) ReadFrom(b []byte) (int, netip.AddrPort, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		n, from, err := c.conn.ReadFromUDPAddrPort(c.readBuf)
		if err != nil {
			return 0, netip.AddrPort{}, err
		}
		from = netip.AddrPortFrom(from.Addr().Unmap(), from.Port())
		plain, err := c.obfs.Deobfuscate(c.readBuf[:n])
		if err != nil {
			metrics.Dropped(metrics.ReasonMalformed)
			c.log.WithFields(logrus.Fields{"from": from.String(), "error": err}).Debug("dropping datagram")
			continue
		}
		return copy(b, plain), from, nil
	}
}

// WriteTo obfuscates b and sends it to addr. If obfuscation fails nothing
// is sent and the error wraps obfs.ErrObfuscate.
func (c *Conn) WriteTo(b []byte, addr netip.AddrPort) (int, error) {
	wire, err := c.obfs.Obfuscate(b)
	if err != nil {
		return 0, err
	}
	if _, err := c.conn.WriteToUDPAddrPort(wire, addr); err != nil {
		return 0, err
	}
	return len(b), nil
}

func (c *Conn) LocalAddr() net.Addr { return c.conn.LocalAddr() }

// AddrPort is the bound local address.
func (c *Conn) AddrPort() netip.AddrPort {
	return c.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

func (c *Conn) Close() error {
	err := c.conn.Close()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
