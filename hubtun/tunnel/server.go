package tunnel

import (
	"context"
	"errors"
	"net/netip"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/hubtun/hubtun/identity"
	"github.com/TheusHen/hubtun/hubtun/metrics"
	"github.com/TheusHen/hubtun/hubtun/protocol"
	"github.com/TheusHen/hubtun/hubtun/session"
)

// ipv4HeaderMin is the smallest IPv4 header; the destination sits at 16..19.
const ipv4HeaderMin = 20

type ServerOptions struct {
	Device    Device
	Conn      PacketConn
	Identity  identity.KeyPair
	AllowList *session.AllowList

	// BroadcastMode sends packets for unknown destinations to every session.
	BroadcastMode bool
	// Keepalive is the interval between keepalives to every session; 0 disables them.
	Keepalive time.Duration
	// HandshakeRate caps accepted handshakes per second; 0 disables the cap.
	HandshakeRate float64

	QueueSize int
	MTU       int
}

// Server is the hub: one socket, many sessions keyed by internal address.
type Server struct {
	*bridge
	opts      ServerOptions
	table     *session.Table
	responder *session.Responder
}

func NewServer(opts ServerOptions) (*Server, error) {
	log := logrus.WithFields(logrus.Fields{"component": "tunnel", "role": "server"})
	b, err := newBridge(opts.Device, opts.Conn, opts.QueueSize, opts.MTU, log)
	if err != nil {
		return nil, err
	}
	table := session.NewTable()
	return &Server{
		bridge:    b,
		opts:      opts,
		table:     table,
		responder: session.NewResponder(opts.Identity, opts.AllowList, table, opts.HandshakeRate),
	}, nil
}

// Table is the live session table.
func (s *Server) Table() *session.Table { return s.table }

// Run drives every flow until ctx is cancelled or a handle fails. Both
// handles are closed when it returns.
func (s *Server) Run(ctx context.Context) error {
	s.log.WithFields(logrus.Fields{
		"peers":     s.opts.AllowList.Len(),
		"broadcast": s.opts.BroadcastMode,
		"keepalive": s.opts.Keepalive,
	}).Info("server running")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.closeOnDone(ctx) })
	g.Go(func() error { return s.readDevice(ctx, s.egress) })
	g.Go(func() error { return s.writeDevice(ctx) })
	g.Go(func() error { return s.readNet(ctx, s.ingress) })
	g.Go(func() error { return s.writeNet(ctx) })
	if s.opts.Keepalive > 0 {
		g.Go(func() error { return s.keepalive(ctx) })
	}
	return g.Wait()
}

// egress routes a packet read from the device by its IPv4 destination.
func (s *Server) egress(ctx context.Context, packet []byte) {
	if len(packet) < ipv4HeaderMin || packet[0]>>4 != 4 {
		metrics.Dropped(metrics.ReasonNotIPv4)
		s.log.WithField("length", len(packet)).Trace("dropping non-IPv4 packet")
		return
	}
	dst := netip.AddrFrom4([4]byte(packet[16:20]))

	if peer, ok := s.table.LookupByIP(dst); ok {
		s.sealTo(ctx, peer, packet)
		return
	}
	if !s.opts.BroadcastMode {
		metrics.Dropped(metrics.ReasonNoRoute)
		s.log.WithField("destination", dst.String()).Trace("no session for destination")
		return
	}
	for _, peer := range s.table.All() {
		if !s.sealTo(ctx, peer, packet) {
			return
		}
	}
}

func (s *Server) sealTo(ctx context.Context, peer session.Peer, packet []byte) bool {
	data, err := peer.Seal(packet)
	if err != nil {
		s.log.WithError(err).WithField("peer", peer.IP.String()).Error("sealing packet")
		return true
	}
	return s.send(ctx, data, peer.Addr)
}

func (s *Server) ingress(ctx context.Context, msg protocol.Message, from netip.AddrPort) {
	switch m := msg.(type) {
	case protocol.Handshake:
		s.handleHandshake(ctx, m, from)
	case protocol.Data:
		peer, ok := s.table.LookupByAddr(from)
		if !ok {
			metrics.Dropped(metrics.ReasonUnknownPeer)
			s.log.WithField("from", from.String()).Debug("data from unknown address")
			return
		}
		plaintext, err := peer.Open(m)
		if err != nil {
			metrics.Dropped(metrics.ReasonDecrypt)
			s.log.WithFields(logrus.Fields{"from": from.String(), "peer": peer.IP.String()}).Warn("decryption failed, dropping packet")
			return
		}
		s.table.Touch(from, time.Now())
		s.deliver(ctx, plaintext)
	case protocol.Keepalive:
		s.table.Touch(from, time.Now())
	}
}

func (s *Server) handleHandshake(ctx context.Context, h protocol.Handshake, from netip.AddrPort) {
	resp, err := s.responder.HandleInit(h, from)
	switch {
	case errors.Is(err, session.ErrRateLimited):
		metrics.Handshake("rate_limited")
		return
	case err != nil:
		// Rejected handshakes get no reply.
		metrics.Handshake("rejected")
		return
	}
	metrics.Handshake("accepted")
	metrics.SetSessions(s.table.Len())
	s.send(ctx, resp, from)
}

func (s *Server) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(s.opts.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, peer := range s.table.All() {
				if !s.send(ctx, protocol.Keepalive{}, peer.Addr) {
					return nil
				}
			}
		}
	}
}
