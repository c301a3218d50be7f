// Package tunnel runs the flows that bridge a virtual network interface and a
// UDP socket: device reader, device writer, network reader, network writer,
// and keepalive emission. Flows talk to each other only through bounded
// queues; the session table is the one piece of shared state.
package tunnel

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"

	"github.com/TheusHen/hubtun/hubtun/metrics"
	"github.com/TheusHen/hubtun/hubtun/obfs"
	"github.com/TheusHen/hubtun/hubtun/protocol"
)

const (
	DefaultQueueSize = 1024
	DefaultMTU       = 1500

	maxDatagram = 65535
)

// ErrTransportIO marks a failed read or write on the device or socket. It
// stops the engine; the handles are not usable afterwards.
var ErrTransportIO = errors.New("tunnel: transport i/o error")

// Device is the virtual interface. Each Read returns one IP packet and each
// Write takes one.
type Device io.ReadWriteCloser

// PacketConn is the datagram socket. Obfuscation, if any, is applied below it.
type PacketConn interface {
	ReadFrom(b []byte) (int, netip.AddrPort, error)
	WriteTo(b []byte, addr netip.AddrPort) (int, error)
	Close() error
}

type datagram struct {
	payload []byte
	to      netip.AddrPort
	kind    protocol.MessageType
}

// bridge owns the device and the socket and the queues between them. Server
// and Client supply the per-role packet handlers.
type bridge struct {
	dev      Device
	conn     PacketConn
	mtu      int
	toDevice chan []byte
	toNet    chan datagram
	log      *logrus.Entry
}

func newBridge(dev Device, conn PacketConn, queueSize, mtu int, log *logrus.Entry) (*bridge, error) {
	if dev == nil {
		return nil, oops.In("tunnel").Errorf("device is required")
	}
	if conn == nil {
		return nil, oops.In("tunnel").Errorf("socket is required")
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if mtu <= 0 {
		mtu = DefaultMTU
	}
	return &bridge{
		dev:      dev,
		conn:     conn,
		mtu:      mtu,
		toDevice: make(chan []byte, queueSize),
		toNet:    make(chan datagram, queueSize),
		log:      log,
	}, nil
}

func ioError(flow string, err error) error {
	return oops.In("tunnel").With("flow", flow).Wrapf(fmt.Errorf("%w: %w", ErrTransportIO, err), "%s", flow)
}

// closeOnDone releases both handles once ctx ends, unblocking any flow parked
// in a read.
func (b *bridge) closeOnDone(ctx context.Context) error {
	<-ctx.Done()
	if err := errors.Join(b.dev.Close(), b.conn.Close()); err != nil {
		b.log.WithError(err).Debug("closing handles")
	}
	return nil
}

// send queues an encoded message for the network writer. It blocks while the
// queue is full and gives up when ctx ends.
func (b *bridge) send(ctx context.Context, m protocol.Message, to netip.AddrPort) bool {
	payload, err := protocol.Encode(m)
	if err != nil {
		b.log.WithError(err).Error("encoding message")
		return false
	}
	select {
	case b.toNet <- datagram{payload: payload, to: to, kind: m.Type()}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *bridge) deliver(ctx context.Context, packet []byte) bool {
	select {
	case b.toDevice <- packet:
		return true
	case <-ctx.Done():
		return false
	}
}

// readDevice hands each packet read from the device to handle. The buffer
// has one byte of slack so a packet larger than the MTU is seen as such and
// dropped instead of being forwarded truncated.
func (b *bridge) readDevice(ctx context.Context, handle func(context.Context, []byte)) error {
	buf := make([]byte, b.mtu+1)
	for {
		n, err := b.dev.Read(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return ioError("read device", err)
		}
		if n == 0 {
			continue
		}
		if n > b.mtu {
			metrics.Dropped(metrics.ReasonOversize)
			b.log.WithFields(logrus.Fields{"size": n, "mtu": b.mtu}).Warn("dropping packet larger than the mtu")
			continue
		}
		handle(ctx, buf[:n])
	}
}

func (b *bridge) writeDevice(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case packet := <-b.toDevice:
			if _, err := b.dev.Write(packet); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return ioError("write device", err)
			}
		}
	}
}

func (b *bridge) readNet(ctx context.Context, handle func(context.Context, protocol.Message, netip.AddrPort)) error {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := b.conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return ioError("read socket", err)
		}
		msg, err := protocol.Decode(buf[:n])
		if err != nil {
			metrics.Dropped(metrics.ReasonMalformed)
			b.log.WithFields(logrus.Fields{"from": from.String(), "error": err}).Debug("dropping malformed datagram")
			continue
		}
		metrics.Packet(metrics.DirectionIn, msg.Type().Label(), n)
		handle(ctx, msg, from)
	}
}

func (b *bridge) writeNet(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d := <-b.toNet:
			if _, err := b.conn.WriteTo(d.payload, d.to); err != nil {
				if errors.Is(err, obfs.ErrObfuscate) {
					metrics.Dropped(metrics.ReasonObfuscation)
					b.log.WithFields(logrus.Fields{"to": d.to.String(), "error": err}).Error("dropping datagram that failed to obfuscate")
					continue
				}
				if ctx.Err() != nil {
					return nil
				}
				return ioError("write socket", err)
			}
			metrics.Packet(metrics.DirectionOut, d.kind.Label(), len(d.payload))
		}
	}
}
