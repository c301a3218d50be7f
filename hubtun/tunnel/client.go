package tunnel

import (
	"context"
	"net/netip"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/TheusHen/hubtun/hubtun/identity"
	"github.com/TheusHen/hubtun/hubtun/metrics"
	"github.com/TheusHen/hubtun/hubtun/protocol"
	"github.com/TheusHen/hubtun/hubtun/session"
)

const (
	DefaultHandshakeInterval = time.Second
	DefaultHandshakeAttempts = 10
)

type ClientOptions struct {
	Device   Device
	Conn     PacketConn
	Identity identity.KeyPair

	// RequestIP is the internal address this client claims.
	RequestIP netip.Addr
	ServerKey [protocol.KeySize]byte
	Endpoint  netip.AddrPort

	// Keepalive is the interval between keepalives to the server; 0 disables them.
	Keepalive time.Duration
	// HandshakeInterval is how long to wait for a response before resending.
	HandshakeInterval time.Duration
	// HandshakeAttempts bounds the number of handshakes sent before giving up.
	HandshakeAttempts int

	QueueSize int
	MTU       int
}

// Client holds a single session with one server endpoint.
type Client struct {
	*bridge
	opts      ClientOptions
	endpoint  netip.AddrPort
	channel   *session.Channel
	initiator *session.Initiator
}

func NewClient(opts ClientOptions) (*Client, error) {
	if !opts.RequestIP.Unmap().Is4() {
		return nil, oops.In("tunnel").Errorf("client address %s is not IPv4", opts.RequestIP)
	}
	if !opts.Endpoint.IsValid() {
		return nil, oops.In("tunnel").Errorf("server endpoint is required")
	}
	if opts.HandshakeInterval <= 0 {
		opts.HandshakeInterval = DefaultHandshakeInterval
	}
	if opts.HandshakeAttempts <= 0 {
		opts.HandshakeAttempts = DefaultHandshakeAttempts
	}
	endpoint := netip.AddrPortFrom(opts.Endpoint.Addr().Unmap(), opts.Endpoint.Port())

	log := logrus.WithFields(logrus.Fields{"component": "tunnel", "role": "client", "endpoint": endpoint.String()})
	b, err := newBridge(opts.Device, opts.Conn, opts.QueueSize, opts.MTU, log)
	if err != nil {
		return nil, err
	}
	return &Client{
		bridge:    b,
		opts:      opts,
		endpoint:  endpoint,
		channel:   session.NewChannel(),
		initiator: session.NewInitiator(opts.Identity, opts.RequestIP, opts.ServerKey),
	}, nil
}

// Channel is the client's session with the server.
func (c *Client) Channel() *session.Channel { return c.channel }

// Run handshakes with the server and bridges traffic until ctx is cancelled,
// a handle fails or the server never answers.
func (c *Client) Run(ctx context.Context) error {
	c.log.WithField("address", c.opts.RequestIP.String()).Info("client running")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.closeOnDone(ctx) })
	g.Go(func() error { return c.handshake(ctx) })
	g.Go(func() error { return c.readDevice(ctx, c.egress) })
	g.Go(func() error { return c.writeDevice(ctx) })
	g.Go(func() error { return c.readNet(ctx, c.ingress) })
	g.Go(func() error { return c.writeNet(ctx) })
	if c.opts.Keepalive > 0 {
		g.Go(func() error { return c.keepalive(ctx) })
	}
	return g.Wait()
}

// handshake resends the init until the server answers or attempts run out.
func (c *Client) handshake(ctx context.Context) error {
	hello := c.initiator.Init()
	ticker := time.NewTicker(c.opts.HandshakeInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		c.log.WithField("attempt", attempt).Debug("sending handshake")
		if !c.send(ctx, hello, c.endpoint) {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-c.channel.Established():
			c.log.Info("session established")
			return nil
		case <-ticker.C:
		}
		if attempt >= c.opts.HandshakeAttempts {
			// The response may have raced the final tick.
			if c.channel.IsEstablished() {
				c.log.Info("session established")
				return nil
			}
			metrics.Handshake("timeout")
			return oops.In("tunnel").
				With("attempts", attempt).
				Wrapf(session.ErrHandshakeTimeout, "no response from %s", c.endpoint)
		}
	}
}

func (c *Client) egress(ctx context.Context, packet []byte) {
	data, err := c.channel.Seal(packet)
	if err != nil {
		metrics.Dropped(metrics.ReasonNoSession)
		c.log.WithError(err).Trace("dropping outbound packet")
		return
	}
	c.send(ctx, data, c.endpoint)
}

func (c *Client) ingress(ctx context.Context, msg protocol.Message, from netip.AddrPort) {
	if from != c.endpoint {
		metrics.Dropped(metrics.ReasonUnexpected)
		c.log.WithField("from", from.String()).Debug("datagram from unexpected address")
		return
	}
	switch m := msg.(type) {
	case protocol.Handshake:
		secret, err := c.initiator.HandleResponse(m)
		if err != nil {
			metrics.Handshake("rejected")
			c.log.WithError(err).Warn("ignoring handshake response")
			return
		}
		if err := c.channel.Install(m.IP, from, secret); err != nil {
			c.log.WithError(err).Error("installing session")
			return
		}
		metrics.Handshake("accepted")
	case protocol.Data:
		plaintext, err := c.channel.Open(m)
		if err != nil {
			metrics.Dropped(metrics.ReasonDecrypt)
			c.log.WithError(err).Warn("decryption failed, dropping packet")
			return
		}
		c.channel.Touch(time.Now())
		c.deliver(ctx, plaintext)
	case protocol.Keepalive:
		c.channel.Touch(time.Now())
		c.log.Trace("keepalive from server")
	}
}

func (c *Client) keepalive(ctx context.Context) error {
	ticker := time.NewTicker(c.opts.Keepalive)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !c.channel.IsEstablished() {
				continue
			}
			if !c.send(ctx, protocol.Keepalive{}, c.endpoint) {
				return nil
			}
		}
	}
}
