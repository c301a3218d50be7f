package main

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/hubtun/hubtun/config"
	"github.com/TheusHen/hubtun/hubtun/identity"
	"github.com/TheusHen/hubtun/hubtun/obfs"
)

var genConfigCmd = &cobra.Command{
	Use:   "gen-config",
	Short: "Write a new hub config with a fresh key",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
		bind, _ := cmd.Flags().GetString("bind-address")
		internal, _ := cmd.Flags().GetString("internal-address")
		broadcast, _ := cmd.Flags().GetBool("broadcast-mode")
		keepalive, _ := cmd.Flags().GetInt("keepalive")
		obfsType, _ := cmd.Flags().GetString("obfs-type")
		obfsKey, _ := cmd.Flags().GetString("obfs-key")
		mtu, _ := cmd.Flags().GetInt("mtu")

		p, err := obfs.ParseProtocol(obfsType)
		if err != nil {
			return err
		}
		cfg, err := config.GenerateServer(config.ServerOptions{
			BindAddress:     bind,
			InternalAddress: internal,
			BroadcastMode:   broadcast,
			Keepalive:       keepalive,
			Obfs:            p,
			ObfsKey:         obfsKey,
			MTU:             mtu,
		})
		if err != nil {
			return err
		}
		if err := config.Save(path, cfg); err != nil {
			return err
		}
		log.WithFields(log.Fields{"path": path, "public_key": cfg.Interface.PublicKey}).Info("server config written")
		return nil
	},
}

var newPeerCmd = &cobra.Command{
	Use:   "new-peer",
	Short: "Register a new peer on a hub config and write its client config",
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("config")
		peerPath, _ := cmd.Flags().GetString("peer-cfg")
		endpoint, _ := cmd.Flags().GetString("endpoint")
		grab, _ := cmd.Flags().GetBool("grab-endpoint")
		keepalive, _ := cmd.Flags().GetInt("keepalive")

		server, err := config.LoadServer(path)
		if err != nil {
			return err
		}
		peer, err := config.AddPeer(server, config.PeerOptions{Endpoint: endpoint, GrabEndpoint: grab, Keepalive: keepalive})
		if err != nil {
			return err
		}
		if err := config.Save(peerPath, peer); err != nil {
			return err
		}
		if err := config.Save(path, server); err != nil {
			return err
		}
		log.WithFields(log.Fields{"peer": peerPath, "address": peer.Client.Address}).Info("peer added")
		return nil
	},
}

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Print a new X25519 key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		kp, err := identity.GenerateKeyPair()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "private_key: %s\n", identity.EncodeKey(kp.PrivateKey))
		fmt.Fprintf(out, "public_key: %s\n", identity.EncodeKey(kp.PublicKey))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(genConfigCmd, newPeerCmd, keygenCmd)

	genConfigCmd.Flags().String("config", "", "path of the server config to create")
	genConfigCmd.Flags().String("bind-address", "0.0.0.0:8879", "ip:port the hub binds")
	genConfigCmd.Flags().String("internal-address", "10.66.66.1", "hub address inside the tunnel, optionally with /prefix")
	genConfigCmd.Flags().Bool("broadcast-mode", false, "forward packets for unknown destinations to every peer")
	genConfigCmd.Flags().Int("keepalive", 0, "keepalive interval in seconds, 0 disables")
	genConfigCmd.Flags().String("obfs-type", "none", "obfuscation: none, xor, dns or icmp")
	genConfigCmd.Flags().String("obfs-key", "", "key for the xor obfuscation")
	genConfigCmd.Flags().Int("mtu", config.DefaultMTU, "MTU of the tunnel interface, copied to new peers")
	_ = genConfigCmd.MarkFlagRequired("config")

	newPeerCmd.Flags().String("config", "", "path of the server config")
	newPeerCmd.Flags().String("peer-cfg", "", "path of the client config to write")
	newPeerCmd.Flags().String("endpoint", "", "ip:port clients dial")
	newPeerCmd.Flags().Bool("grab-endpoint", false, "use the server's bind address as the endpoint")
	newPeerCmd.Flags().Int("keepalive", 0, "client keepalive interval in seconds, 0 disables")
	_ = newPeerCmd.MarkFlagRequired("config")
	_ = newPeerCmd.MarkFlagRequired("peer-cfg")
}
