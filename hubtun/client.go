package hubtun

import (
	"context"

	"github.com/samber/oops"

	"github.com/TheusHen/hubtun/hubtun/config"
	"github.com/TheusHen/hubtun/hubtun/transport/udp"
	"github.com/TheusHen/hubtun/hubtun/tunnel"
)

// Client is a spoke holding one session with its hub.
type Client struct {
	engine *tunnel.Client
	conn   *udp.Conn
}

// NewClient binds an ephemeral UDP port and prepares the engine around dev.
func NewClient(cfg *config.ClientConfig, dev tunnel.Device) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kp, err := cfg.KeyPair()
	if err != nil {
		return nil, err
	}
	serverKey, err := cfg.ServerKey()
	if err != nil {
		return nil, err
	}
	prefix, err := cfg.AddressPrefix()
	if err != nil {
		return nil, err
	}
	endpoint, err := cfg.Endpoint()
	if err != nil {
		return nil, err
	}
	o, err := cfg.Obfs.Obfuscator()
	if err != nil {
		return nil, err
	}

	conn, err := udp.Listen(":0", o)
	if err != nil {
		return nil, oops.Wrapf(err, "bind client socket")
	}
	engine, err := tunnel.NewClient(tunnel.ClientOptions{
		Device:            dev,
		Conn:              conn,
		Identity:          kp,
		RequestIP:         prefix.Addr(),
		ServerKey:         serverKey,
		Endpoint:          endpoint,
		Keepalive:         cfg.KeepaliveInterval(),
		HandshakeInterval: cfg.HandshakeInterval(),
		HandshakeAttempts: cfg.Handshake.Attempts,
		MTU:               cfg.MTU(),
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Client{engine: engine, conn: conn}, nil
}

// Run blocks until ctx ends, a handle fails or the hub never answers the handshake.
func (c *Client) Run(ctx context.Context) error { return c.engine.Run(ctx) }

func (c *Client) LocalAddr() string { return c.conn.LocalAddr().String() }

// Established is closed once the hub has answered the handshake.
func (c *Client) Established() <-chan struct{} { return c.engine.Channel().Established() }
