package config

import (
	"net/netip"
	"os"

	"github.com/samber/oops"
	"gopkg.in/yaml.v3"

	"github.com/TheusHen/hubtun/hubtun/identity"
	"github.com/TheusHen/hubtun/hubtun/obfs"
)

type ServerOptions struct {
	BindAddress     string
	InternalAddress string
	BroadcastMode   bool
	Keepalive       int
	Obfs            obfs.Protocol
	ObfsKey         string
	// MTU defaults to DefaultMTU.
	MTU int
}

// GenerateServer builds a server config with a fresh identity and no peers.
func GenerateServer(opts ServerOptions) (*ServerConfig, error) {
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, oops.Wrapf(err, "generate server key")
	}
	if opts.Obfs == "" {
		opts.Obfs = obfs.ProtocolNone
	}
	if opts.MTU == 0 {
		opts.MTU = DefaultMTU
	}
	cfg := &ServerConfig{
		Interface: InterfaceConfig{
			BindAddress:     opts.BindAddress,
			InternalAddress: opts.InternalAddress,
			PrivateKey:      identity.EncodeKey(kp.PrivateKey),
			PublicKey:       identity.EncodeKey(kp.PublicKey),
			BroadcastMode:   opts.BroadcastMode,
			Keepalive:       opts.Keepalive,
			MTU:             opts.MTU,
		},
		Peers: []PeerConfig{},
		Obfs:  ObfsConfig{Protocol: string(opts.Obfs), Key: opts.ObfsKey},
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

type PeerOptions struct {
	// Endpoint is the address the client dials. Ignored with GrabEndpoint.
	Endpoint string
	// GrabEndpoint copies the server's bind address as the endpoint. The
	// bind address must then name a concrete host.
	GrabEndpoint bool
	Keepalive    int
}

// AddPeer allocates the next free tunnel address in the hub's subnet,
// registers a fresh client key for it on s and returns the client's config.
func AddPeer(s *ServerConfig, opts PeerOptions) (*ClientConfig, error) {
	endpoint := opts.Endpoint
	if opts.GrabEndpoint {
		endpoint = s.Interface.BindAddress
	}
	if endpoint == "" {
		return nil, invalid("peer endpoint is required unless the server bind address is grabbed")
	}

	prefix, err := s.InternalPrefix()
	if err != nil {
		return nil, err
	}
	ip, err := nextAddress(s, prefix)
	if err != nil {
		return nil, err
	}
	kp, err := identity.GenerateKeyPair()
	if err != nil {
		return nil, oops.Wrapf(err, "generate peer key")
	}

	client := &ClientConfig{
		Client: ClientSection{
			PrivateKey: identity.EncodeKey(kp.PrivateKey),
			PublicKey:  identity.EncodeKey(kp.PublicKey),
			Address:    netip.PrefixFrom(ip, prefix.Bits()).String(),
			MTU:        s.MTU(),
		},
		Server: ServerSection{
			PublicKey: s.Interface.PublicKey,
			Endpoint:  endpoint,
			Keepalive: opts.Keepalive,
		},
		Obfs: s.Obfs,
		Handshake: HandshakeConfig{
			IntervalMS: DefaultHandshakeIntervalMS,
			Attempts:   DefaultHandshakeAttempts,
		},
	}
	if err := client.Validate(); err != nil {
		return nil, err
	}
	s.Peers = append(s.Peers, PeerConfig{PublicKey: client.Client.PublicKey, IP: ip.String()})
	return client, nil
}

// nextAddress is one past the highest address in use, counting the hub
// itself. The broadcast address (.255 in a /24) is never handed out.
func nextAddress(s *ServerConfig, prefix netip.Prefix) (netip.Addr, error) {
	highest := prefix.Addr()
	for _, p := range s.Peers {
		ip, err := netip.ParseAddr(p.IP)
		if err != nil || !prefix.Contains(ip) {
			continue
		}
		if ip.Compare(highest) > 0 {
			highest = ip
		}
	}
	next := highest.Next()
	if !next.IsValid() || !prefix.Contains(next) || !prefix.Contains(next.Next()) {
		return netip.Addr{}, invalid("no free address left in %s", prefix.Masked())
	}
	return next, nil
}

// Save writes v as YAML, readable only by the owner since it holds a private key.
func Save(path string, v any) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return oops.Wrapf(err, "encode %s", path)
	}
	if err := os.WriteFile(path, out, 0o600); err != nil {
		return oops.Wrapf(err, "write %s", path)
	}
	return nil
}
