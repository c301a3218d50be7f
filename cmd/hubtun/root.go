package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/TheusHen/hubtun/hubtun/metrics"
)

var (
	logLevel       string
	logJSON        bool
	metricsAddress string
)

var rootCmd = &cobra.Command{
	Use:   "hubtun",
	Short: "Hub-and-spoke encrypted UDP tunnel",
	Long: `
hubtun joins peers to a hub over a single UDP socket. Peers are authenticated
with static X25519 keys listed in the hub's config, and every tunneled IP
packet is sealed with AES-256-GCM.
	`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(logLevel)
		if err != nil {
			return err
		}
		log.SetLevel(level)
		if logJSON {
			log.SetFormatter(&log.JSONFormatter{})
		} else {
			log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "log in JSON instead of text")
	rootCmd.PersistentFlags().StringVar(&metricsAddress, "metrics-address", "", "serve Prometheus metrics on this address, e.g. :9100")
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func startMetrics(ctx context.Context) error {
	if metricsAddress == "" {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return err
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	go func() {
		if err := metrics.Serve(ctx, metricsAddress, reg); err != nil {
			log.WithFields(log.Fields{"err": err, "address": metricsAddress}).Error("metrics endpoint failed")
		}
	}()
	return nil
}
