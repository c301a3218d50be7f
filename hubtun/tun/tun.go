// Package tun opens the virtual interface the tunnel bridges to and assigns
// its address. Routes beyond the interface subnet are left to the operator.
package tun

import (
	"bytes"
	"errors"
	"fmt"
	"net/netip"
	"os/exec"

	"github.com/sirupsen/logrus"
	"github.com/songgao/water"
)

var ErrUnsupported = errors.New("tun: platform not supported")

type Config struct {
	// Name requests an interface name; empty lets the OS pick one.
	Name string
	// Address is the interface address and subnet, e.g. 10.66.66.1/24.
	Address netip.Prefix
	MTU     int
}

// Device is an up and addressed TUN interface. Each Read returns one IP packet.
type Device struct {
	*water.Interface
}

// Open creates the interface and brings it up.
func Open(cfg Config) (*Device, error) {
	if !cfg.Address.IsValid() || !cfg.Address.Addr().Is4() {
		return nil, fmt.Errorf("tun: address %s is not an IPv4 prefix", cfg.Address)
	}
	ifce, err := create(cfg)
	if err != nil {
		return nil, fmt.Errorf("tun: failed creating TUN device: %w", err)
	}
	if err := configure(ifce.Name(), cfg); err != nil {
		_ = ifce.Close()
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"component": "tun",
		"name":      ifce.Name(),
		"address":   cfg.Address.String(),
		"mtu":       cfg.MTU,
	}).Info("interface up")
	return &Device{Interface: ifce}, nil
}

func runCmd(cmd *exec.Cmd) error {
	buf := new(bytes.Buffer)
	cmd.Stderr = buf
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("tun: %s failed (stderr: %s): %w", cmd.String(), buf.String(), err)
	}
	return nil
}
