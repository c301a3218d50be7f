package tun

import (
	"os/exec"
	"strconv"

	"github.com/songgao/water"
)

func create(cfg Config) (*water.Interface, error) {
	return water.New(water.Config{
		DeviceType:             water.TUN,
		PlatformSpecificParams: water.PlatformSpecificParams{Name: cfg.Name},
	})
}

func configure(name string, cfg Config) error {
	if err := runCmd(exec.Command("ip", "addr", "add", cfg.Address.String(), "dev", name)); err != nil {
		return err
	}
	if cfg.MTU > 0 {
		if err := runCmd(exec.Command("ip", "link", "set", "dev", name, "mtu", strconv.Itoa(cfg.MTU))); err != nil {
			return err
		}
	}
	return runCmd(exec.Command("ip", "link", "set", "dev", name, "up"))
}
