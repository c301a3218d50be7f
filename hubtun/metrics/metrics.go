// Package metrics exposes tunnel counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// Drop reasons.
const (
	ReasonMalformed   = "malformed"
	ReasonUnknownPeer = "unknown_peer"
	ReasonDecrypt     = "decrypt"
	ReasonNoRoute     = "no_route"
	ReasonNotIPv4     = "not_ipv4"
	ReasonOversize    = "oversize"
	ReasonObfuscation = "obfuscation"
	ReasonNoSession   = "no_session"
	ReasonUnexpected  = "unexpected"
)

var (
	packets = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubtun_packets_total",
		Help: "Datagrams sent or received on the tunnel socket, by message kind",
	}, []string{"direction", "kind"})
	bytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubtun_bytes_total",
		Help: "Encoded datagram bytes sent or received on the tunnel socket",
	}, []string{"direction"})
	dropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubtun_dropped_total",
		Help: "Packets discarded, by reason",
	}, []string{"reason"})
	handshakes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hubtun_handshakes_total",
		Help: "Handshakes processed, by result",
	}, []string{"result"})
	sessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "hubtun_sessions",
		Help: "Live sessions in the server table",
	})
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{packets, bytes, dropped, handshakes, sessions} {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}

func Packet(direction, kind string, size int) {
	packets.WithLabelValues(direction, kind).Inc()
	bytes.WithLabelValues(direction).Add(float64(size))
}

func Dropped(reason string) { dropped.WithLabelValues(reason).Inc() }

func Handshake(result string) { handshakes.WithLabelValues(result).Inc() }

func SetSessions(n int) { sessions.Set(float64(n)) }

// Serve exposes g on addr under /metrics until ctx is done.
func Serve(ctx context.Context, addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.WithFields(log.Fields{"address": addr, "endpoint": "/metrics"}).Info("prometheus metrics up")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
