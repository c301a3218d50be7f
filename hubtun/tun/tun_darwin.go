package tun

import (
	"net"
	"os/exec"
	"strconv"

	"github.com/songgao/water"
)

// utun names are assigned by the kernel; cfg.Name is ignored.
func create(Config) (*water.Interface, error) {
	return water.New(water.Config{DeviceType: water.TUN})
}

func configure(name string, cfg Config) error {
	ip := cfg.Address.Addr().String()
	mask := net.IP(net.CIDRMask(cfg.Address.Bits(), 32)).String()
	args := []string{name, "inet", ip, ip, "netmask", mask}
	if cfg.MTU > 0 {
		args = append(args, "mtu", strconv.Itoa(cfg.MTU))
	}
	if err := runCmd(exec.Command("ifconfig", append(args, "up")...)); err != nil {
		return err
	}
	return runCmd(exec.Command("route", "-q", "-n", "add", "-net", cfg.Address.Masked().String(), "-interface", name))
}
