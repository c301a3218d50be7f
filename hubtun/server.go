package hubtun

import (
	"context"

	"github.com/samber/oops"

	"github.com/TheusHen/hubtun/hubtun/config"
	"github.com/TheusHen/hubtun/hubtun/session"
	"github.com/TheusHen/hubtun/hubtun/transport/udp"
	"github.com/TheusHen/hubtun/hubtun/tunnel"
)

// Server is a hub bound to its configured UDP address.
type Server struct {
	engine *tunnel.Server
	conn   *udp.Conn
}

// NewServer binds the socket described by cfg and prepares the engine
// around dev. The socket is owned by the Server and closed by Run.
func NewServer(cfg *config.ServerConfig, dev tunnel.Device) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	kp, err := cfg.KeyPair()
	if err != nil {
		return nil, err
	}
	entries, err := cfg.AllowEntries()
	if err != nil {
		return nil, err
	}
	allow, err := session.NewAllowList(entries)
	if err != nil {
		return nil, err
	}
	o, err := cfg.Obfs.Obfuscator()
	if err != nil {
		return nil, err
	}

	conn, err := udp.Listen(cfg.Interface.BindAddress, o)
	if err != nil {
		return nil, oops.With("address", cfg.Interface.BindAddress).Wrapf(err, "bind server socket")
	}
	engine, err := tunnel.NewServer(tunnel.ServerOptions{
		Device:        dev,
		Conn:          conn,
		Identity:      kp,
		AllowList:     allow,
		BroadcastMode: cfg.Interface.BroadcastMode,
		Keepalive:     cfg.KeepaliveInterval(),
		HandshakeRate: cfg.Interface.HandshakeRate,
		MTU:           cfg.MTU(),
	})
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return &Server{engine: engine, conn: conn}, nil
}

func (s *Server) Run(ctx context.Context) error { return s.engine.Run(ctx) }

// LocalAddr is the bound socket address, useful when the config asked for port 0.
func (s *Server) LocalAddr() string { return s.conn.LocalAddr().String() }

func (s *Server) Table() *session.Table { return s.engine.Table() }
