package main

import (
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/hubtun/hubtun"
	"github.com/TheusHen/hubtun/hubtun/config"
	"github.com/TheusHen/hubtun/hubtun/tun"
)

var (
	runConfig string
	tunName   string
	tunMTU    int
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadServer(runConfig)
		if err != nil {
			return err
		}
		if tunMTU > 0 {
			cfg.Interface.MTU = tunMTU
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		prefix, err := cfg.InternalPrefix()
		if err != nil {
			return err
		}
		dev, err := tun.Open(tun.Config{Name: tunName, Address: prefix, MTU: cfg.MTU()})
		if err != nil {
			return err
		}
		srv, err := hubtun.NewServer(cfg, dev)
		if err != nil {
			_ = dev.Close()
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		if err := startMetrics(ctx); err != nil {
			return err
		}
		log.WithFields(log.Fields{"address": srv.LocalAddr(), "interface": dev.Name()}).Info("hub listening")
		return srv.Run(ctx)
	},
}

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Connect to a hub",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient(runConfig)
		if err != nil {
			return err
		}
		if tunMTU > 0 {
			cfg.Client.MTU = tunMTU
			if err := cfg.Validate(); err != nil {
				return err
			}
		}
		prefix, err := cfg.AddressPrefix()
		if err != nil {
			return err
		}
		dev, err := tun.Open(tun.Config{Name: tunName, Address: prefix, MTU: cfg.MTU()})
		if err != nil {
			return err
		}
		cli, err := hubtun.NewClient(cfg, dev)
		if err != nil {
			_ = dev.Close()
			return err
		}

		ctx, stop := signalContext()
		defer stop()
		if err := startMetrics(ctx); err != nil {
			return err
		}
		log.WithFields(log.Fields{"endpoint": cfg.Server.Endpoint, "interface": dev.Name()}).Info("connecting")
		return cli.Run(ctx)
	},
}

func init() {
	for _, c := range []*cobra.Command{serverCmd, clientCmd} {
		rootCmd.AddCommand(c)
		c.Flags().StringVar(&runConfig, "config", "", "path to the YAML config")
		c.Flags().StringVar(&tunName, "tun-name", "tun0", "name of the TUN interface to create")
		c.Flags().IntVar(&tunMTU, "mtu", 0, "MTU of the TUN interface and tunnel, overriding the config")
		_ = c.MarkFlagRequired("config")
	}
}
