// Package config loads, validates and generates the YAML files that describe
// a hub (server) and its peers (clients).
package config

import (
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/viper"

	"github.com/TheusHen/hubtun/hubtun/identity"
	"github.com/TheusHen/hubtun/hubtun/obfs"
	"github.com/TheusHen/hubtun/hubtun/session"
)

const (
	EnvPrefix = "HUBTUN"

	DefaultPrefixLen           = 24
	DefaultHandshakeIntervalMS = 1000
	DefaultHandshakeAttempts   = 10
	// DefaultMTU sizes both the TUN interface and the engine's read buffer.
	DefaultMTU = 1400

	minMTU = 68
	maxMTU = 65535
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type ServerConfig struct {
	Interface InterfaceConfig `mapstructure:"interface" yaml:"interface"`
	Peers     []PeerConfig    `mapstructure:"peers" yaml:"peers"`
	Obfs      ObfsConfig      `mapstructure:"obfs" yaml:"obfs"`
}

type InterfaceConfig struct {
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`
	// InternalAddress is the hub's tunnel address, "10.66.66.1" or "10.66.66.1/24".
	InternalAddress string  `mapstructure:"internal_address" yaml:"internal_address"`
	PrivateKey      string  `mapstructure:"private_key" yaml:"private_key"`
	PublicKey       string  `mapstructure:"public_key" yaml:"public_key"`
	BroadcastMode   bool    `mapstructure:"broadcast_mode" yaml:"broadcast_mode"`
	Keepalive       int     `mapstructure:"keepalive" yaml:"keepalive"`
	HandshakeRate   float64 `mapstructure:"handshake_rate" yaml:"handshake_rate,omitempty"`
	MTU             int     `mapstructure:"mtu" yaml:"mtu"`
}

type PeerConfig struct {
	PublicKey string `mapstructure:"public_key" yaml:"public_key"`
	IP        string `mapstructure:"ip" yaml:"ip"`
}

type ObfsConfig struct {
	Protocol string `mapstructure:"protocol" yaml:"protocol"`
	Key      string `mapstructure:"key" yaml:"key,omitempty"`
}

type ClientConfig struct {
	Client    ClientSection   `mapstructure:"client" yaml:"client"`
	Server    ServerSection   `mapstructure:"server" yaml:"server"`
	Obfs      ObfsConfig      `mapstructure:"obfs" yaml:"obfs"`
	Handshake HandshakeConfig `mapstructure:"handshake" yaml:"handshake"`
}

type ClientSection struct {
	PrivateKey string `mapstructure:"private_key" yaml:"private_key"`
	PublicKey  string `mapstructure:"public_key" yaml:"public_key"`
	// Address is the tunnel address the client requests, with optional prefix.
	Address string `mapstructure:"address" yaml:"address"`
	MTU     int    `mapstructure:"mtu" yaml:"mtu"`
}

type ServerSection struct {
	PublicKey string `mapstructure:"public_key" yaml:"public_key"`
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Keepalive int    `mapstructure:"keepalive" yaml:"keepalive"`
}

type HandshakeConfig struct {
	IntervalMS int `mapstructure:"interval_ms" yaml:"interval_ms"`
	Attempts   int `mapstructure:"attempts" yaml:"attempts"`
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadServer reads a server config. Any scalar key can be overridden from
// the environment, e.g. HUBTUN_INTERFACE_BIND_ADDRESS.
func LoadServer(path string) (*ServerConfig, error) {
	v := newViper(path)
	v.SetDefault("interface.bind_address", "0.0.0.0:8879")
	v.SetDefault("interface.internal_address", "10.66.66.1")
	v.SetDefault("interface.private_key", "")
	v.SetDefault("interface.public_key", "")
	v.SetDefault("interface.broadcast_mode", false)
	v.SetDefault("interface.keepalive", 0)
	v.SetDefault("interface.handshake_rate", 0)
	v.SetDefault("interface.mtu", DefaultMTU)
	v.SetDefault("obfs.protocol", string(obfs.ProtocolNone))
	v.SetDefault("obfs.key", "")

	if err := v.ReadInConfig(); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "read server config")
	}
	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "decode server config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "validate server config")
	}
	return &cfg, nil
}

// LoadClient reads a client config; see LoadServer for environment overrides.
func LoadClient(path string) (*ClientConfig, error) {
	v := newViper(path)
	v.SetDefault("client.private_key", "")
	v.SetDefault("client.public_key", "")
	v.SetDefault("client.address", "")
	v.SetDefault("client.mtu", DefaultMTU)
	v.SetDefault("server.public_key", "")
	v.SetDefault("server.endpoint", "")
	v.SetDefault("server.keepalive", 0)
	v.SetDefault("obfs.protocol", string(obfs.ProtocolNone))
	v.SetDefault("obfs.key", "")
	v.SetDefault("handshake.interval_ms", DefaultHandshakeIntervalMS)
	v.SetDefault("handshake.attempts", DefaultHandshakeAttempts)

	if err := v.ReadInConfig(); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "read client config")
	}
	var cfg ClientConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "decode client config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, oops.With("path", path).Wrapf(err, "validate client config")
	}
	return &cfg, nil
}

func invalid(format string, args ...any) error {
	return oops.Wrapf(ErrInvalidConfig, format, args...)
}

func (c *ServerConfig) Validate() error {
	if _, err := netip.ParseAddrPort(c.Interface.BindAddress); err != nil {
		return invalid("interface.bind_address %q: %v", c.Interface.BindAddress, err)
	}
	if _, err := c.InternalPrefix(); err != nil {
		return err
	}
	if _, err := c.KeyPair(); err != nil {
		return err
	}
	if c.Interface.Keepalive < 0 {
		return invalid("interface.keepalive must not be negative")
	}
	if c.Interface.HandshakeRate < 0 {
		return invalid("interface.handshake_rate must not be negative")
	}
	if err := checkMTU("interface.mtu", c.Interface.MTU); err != nil {
		return err
	}
	if _, err := c.AllowEntries(); err != nil {
		return err
	}
	if _, err := c.Obfs.Obfuscator(); err != nil {
		return err
	}
	return nil
}

// KeyPair parses the hub's identity.
func (c *ServerConfig) KeyPair() (identity.KeyPair, error) {
	kp, err := identity.ParseKeyPair(c.Interface.PrivateKey, c.Interface.PublicKey)
	if err != nil {
		return identity.KeyPair{}, oops.Wrapf(errors.Join(ErrInvalidConfig, err), "interface keys")
	}
	return kp, nil
}

// InternalPrefix is the hub's tunnel address and subnet.
func (c *ServerConfig) InternalPrefix() (netip.Prefix, error) {
	p, err := parsePrefix(c.Interface.InternalAddress)
	if err != nil {
		return netip.Prefix{}, invalid("interface.internal_address %q: %v", c.Interface.InternalAddress, err)
	}
	return p, nil
}

// AllowEntries converts peers into allow-list entries. Duplicate addresses
// are rejected: an address belongs to exactly one key.
func (c *ServerConfig) AllowEntries() ([]session.AllowEntry, error) {
	out := make([]session.AllowEntry, 0, len(c.Peers))
	seen := make(map[netip.Addr]struct{}, len(c.Peers))
	for i, p := range c.Peers {
		key, err := identity.ParseKey(p.PublicKey)
		if err != nil {
			return nil, invalid("peers[%d].public_key: %v", i, err)
		}
		ip, err := netip.ParseAddr(p.IP)
		if err != nil || !ip.Is4() {
			return nil, invalid("peers[%d].ip %q is not an IPv4 address", i, p.IP)
		}
		if _, dup := seen[ip]; dup {
			return nil, invalid("peers[%d].ip %s is assigned twice", i, ip)
		}
		seen[ip] = struct{}{}
		out = append(out, session.AllowEntry{PublicKey: key, IP: ip})
	}
	return out, nil
}

func (c *ServerConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.Interface.Keepalive) * time.Second
}

// MTU is the configured interface MTU, DefaultMTU when unset.
func (c *ServerConfig) MTU() int { return mtuOrDefault(c.Interface.MTU) }

func (c *ClientConfig) Validate() error {
	if _, err := c.KeyPair(); err != nil {
		return err
	}
	if _, err := c.AddressPrefix(); err != nil {
		return err
	}
	if _, err := c.ServerKey(); err != nil {
		return err
	}
	endpoint, err := c.Endpoint()
	if err != nil {
		return err
	}
	if endpoint.Addr().IsUnspecified() {
		return invalid("server.endpoint %s has no host to dial", endpoint)
	}
	if err := checkMTU("client.mtu", c.Client.MTU); err != nil {
		return err
	}
	if c.Server.Keepalive < 0 {
		return invalid("server.keepalive must not be negative")
	}
	if c.Handshake.IntervalMS < 0 || c.Handshake.Attempts < 0 {
		return invalid("handshake settings must not be negative")
	}
	if _, err := c.Obfs.Obfuscator(); err != nil {
		return err
	}
	return nil
}

func (c *ClientConfig) KeyPair() (identity.KeyPair, error) {
	kp, err := identity.ParseKeyPair(c.Client.PrivateKey, c.Client.PublicKey)
	if err != nil {
		return identity.KeyPair{}, oops.Wrapf(errors.Join(ErrInvalidConfig, err), "client keys")
	}
	return kp, nil
}

func (c *ClientConfig) ServerKey() ([32]byte, error) {
	k, err := identity.ParseKey(c.Server.PublicKey)
	if err != nil {
		return [32]byte{}, invalid("server.public_key: %v", err)
	}
	return k, nil
}

// AddressPrefix is the requested tunnel address and the subnet routed
// through the tunnel.
func (c *ClientConfig) AddressPrefix() (netip.Prefix, error) {
	p, err := parsePrefix(c.Client.Address)
	if err != nil {
		return netip.Prefix{}, invalid("client.address %q: %v", c.Client.Address, err)
	}
	return p, nil
}

func (c *ClientConfig) Endpoint() (netip.AddrPort, error) {
	ap, err := netip.ParseAddrPort(c.Server.Endpoint)
	if err != nil {
		return netip.AddrPort{}, invalid("server.endpoint %q: %v", c.Server.Endpoint, err)
	}
	return ap, nil
}

func (c *ClientConfig) KeepaliveInterval() time.Duration {
	return time.Duration(c.Server.Keepalive) * time.Second
}

func (c *ClientConfig) HandshakeInterval() time.Duration {
	return time.Duration(c.Handshake.IntervalMS) * time.Millisecond
}

func (c *ClientConfig) MTU() int { return mtuOrDefault(c.Client.MTU) }

// checkMTU accepts 0 (use the default) or a value an IPv4 link can carry.
func checkMTU(key string, mtu int) error {
	if mtu != 0 && (mtu < minMTU || mtu > maxMTU) {
		return invalid("%s %d is outside %d..%d", key, mtu, minMTU, maxMTU)
	}
	return nil
}

func mtuOrDefault(mtu int) int {
	if mtu == 0 {
		return DefaultMTU
	}
	return mtu
}

// Obfuscator builds the configured transform. The key, if any, is used as raw bytes.
func (o ObfsConfig) Obfuscator() (obfs.Obfuscator, error) {
	p, err := obfs.ParseProtocol(o.Protocol)
	if err != nil {
		return nil, oops.Wrapf(errors.Join(ErrInvalidConfig, err), "obfs.protocol")
	}
	var key []byte
	if o.Key != "" {
		key = []byte(o.Key)
	}
	return obfs.New(p, key)
}

// parsePrefix accepts "a.b.c.d" (assumed /24) or "a.b.c.d/n", IPv4 only.
func parsePrefix(s string) (netip.Prefix, error) {
	if strings.Contains(s, "/") {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			return netip.Prefix{}, err
		}
		if !p.Addr().Is4() {
			return netip.Prefix{}, errors.New("not IPv4")
		}
		return p, nil
	}
	ip, err := netip.ParseAddr(s)
	if err != nil {
		return netip.Prefix{}, err
	}
	if !ip.Is4() {
		return netip.Prefix{}, errors.New("not IPv4")
	}
	return netip.PrefixFrom(ip, DefaultPrefixLen), nil
}
