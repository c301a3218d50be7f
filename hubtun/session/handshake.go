package session

import (
	"errors"
	"net/netip"
	"time"

	"github.com/samber/oops"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/TheusHen/hubtun/hubtun/identity"
	"github.com/TheusHen/hubtun/hubtun/protocol"
)

var (
	ErrHandshakeRejected = errors.New("session: handshake rejected")
	ErrRateLimited       = errors.New("session: handshake rate limited")
	ErrNoActiveSession   = errors.New("session: no active session")
	ErrHandshakeTimeout  = errors.New("session: handshake timed out")
	ErrUnexpectedServer  = errors.New("session: handshake from unexpected server key")
)

// Responder answers client handshakes on the server side.
//
// A handshake is accepted only when its (public key, requested address) pair
// is on the allow-list. Accepted handshakes install or replace the peer's
// session in the table; a known key arriving from a new address roams it.
type Responder struct {
	kp      identity.KeyPair
	allow   *AllowList
	table   *Table
	limiter *rate.Limiter
	now     func() time.Time
	log     *logrus.Entry
}

// NewResponder builds a responder. perSecond <= 0 disables rate limiting.
func NewResponder(kp identity.KeyPair, allow *AllowList, table *Table, perSecond float64) *Responder {
	r := &Responder{
		kp:    kp,
		allow: allow,
		table: table,
		now:   time.Now,
		log:   logrus.WithField("component", "handshake"),
	}
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return r
}

// HandleInit validates h received from addr. On success the returned
// handshake carries the server's public key and echoes the client's address.
func (r *Responder) HandleInit(h protocol.Handshake, from netip.AddrPort) (protocol.Handshake, error) {
	ip := h.IP.Unmap()
	fields := logrus.Fields{
		"function": "HandleInit",
		"from":     from.String(),
		"ip":       ip.String(),
		"peer":     identity.Fingerprint(h.PublicKey),
	}

	if !r.allow.Allowed(h.PublicKey, ip) {
		r.log.WithFields(fields).Warn("rejected handshake from unknown peer")
		return protocol.Handshake{}, oops.
			With("from", from.String(), "ip", ip.String()).
			Wrapf(ErrHandshakeRejected, "peer not in allow-list")
	}
	if r.limiter != nil && !r.limiter.Allow() {
		r.log.WithFields(fields).Debug("handshake rate limited")
		return protocol.Handshake{}, oops.Wrapf(ErrRateLimited, "handshake from %s", from)
	}

	secret, err := r.kp.SharedSecret(h.PublicKey)
	if err != nil {
		return protocol.Handshake{}, oops.Wrapf(errors.Join(ErrHandshakeRejected, err), "key agreement with %s", from)
	}
	peer, err := NewPeer(ip, from, secret, r.now())
	if err != nil {
		return protocol.Handshake{}, oops.Wrapf(err, "create session for %s", ip)
	}
	old, known := r.table.LookupByIP(ip)
	r.table.Upsert(peer)
	switch {
	case !known:
		r.log.WithFields(fields).Info("peer connected")
	case old.Addr != peer.Addr:
		r.log.WithFields(fields).WithField("previous", old.Addr.String()).Info("peer roamed to new address")
	default:
		r.log.WithFields(fields).Debug("peer re-keyed")
	}

	return protocol.Handshake{PublicKey: r.kp.PublicKey, IP: ip}, nil
}

// Initiator drives the client side of the handshake.
type Initiator struct {
	kp        identity.KeyPair
	requestIP netip.Addr
	serverKey [protocol.KeySize]byte
	log       *logrus.Entry
}

func NewInitiator(kp identity.KeyPair, requestIP netip.Addr, serverKey [protocol.KeySize]byte) *Initiator {
	return &Initiator{
		kp:        kp,
		requestIP: requestIP.Unmap(),
		serverKey: serverKey,
		log:       logrus.WithField("component", "handshake"),
	}
}

// Init returns the handshake the client sends to the server.
func (i *Initiator) Init() protocol.Handshake {
	return protocol.Handshake{PublicKey: i.kp.PublicKey, IP: i.requestIP}
}

// HandleResponse derives the session secret from the server's response.
// Responses carrying any key other than the configured server key are refused.
func (i *Initiator) HandleResponse(h protocol.Handshake) ([protocol.KeySize]byte, error) {
	if h.PublicKey != i.serverKey {
		return [protocol.KeySize]byte{}, oops.
			With("got", identity.Fingerprint(h.PublicKey)).
			Wrapf(ErrUnexpectedServer, "handshake response")
	}
	if h.IP.Unmap() != i.requestIP {
		i.log.WithFields(logrus.Fields{
			"requested": i.requestIP.String(),
			"echoed":    h.IP.String(),
		}).Warn("server echoed a different address")
	}
	secret, err := i.kp.SharedSecret(h.PublicKey)
	if err != nil {
		return [protocol.KeySize]byte{}, oops.Wrapf(err, "key agreement with server")
	}
	return secret, nil
}
