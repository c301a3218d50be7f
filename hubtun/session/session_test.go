package session

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/hubtun/hubtun/identity"
	"github.com/TheusHen/hubtun/hubtun/protocol"
)

func newKeyPair(t *testing.T) identity.KeyPair {
	t.Helper()
	kp, err := identity.GenerateKeyPair()
	require.NoError(t, err)
	return kp
}

func testPeer(t *testing.T, ip, addr string) Peer {
	t.Helper()
	var secret [32]byte
	secret[0] = 7
	p, err := NewPeer(netip.MustParseAddr(ip), netip.MustParseAddrPort(addr), secret, time.Unix(0, 0))
	require.NoError(t, err)
	return p
}

func TestTableLookup(t *testing.T) {
	tbl := NewTable()
	p := testPeer(t, "10.0.0.2", "1.2.3.4:5000")
	assert.False(t, tbl.Upsert(p))

	got, ok := tbl.LookupByIP(netip.MustParseAddr("10.0.0.2"))
	require.True(t, ok)
	assert.Equal(t, p.Addr, got.Addr)

	got, ok = tbl.LookupByAddr(netip.MustParseAddrPort("1.2.3.4:5000"))
	require.True(t, ok)
	assert.Equal(t, p.IP, got.IP)

	// IPv4-mapped forms resolve to the same session.
	_, ok = tbl.LookupByAddr(netip.MustParseAddrPort("[::ffff:1.2.3.4]:5000"))
	assert.True(t, ok)

	_, ok = tbl.LookupByIP(netip.MustParseAddr("10.0.0.3"))
	assert.False(t, ok)
	_, ok = tbl.LookupByAddr(netip.MustParseAddrPort("1.2.3.4:5001"))
	assert.False(t, ok)
	assert.Equal(t, 1, tbl.Len())
}

func TestTableRoaming(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(testPeer(t, "10.0.0.2", "1.2.3.4:5000"))
	assert.True(t, tbl.Upsert(testPeer(t, "10.0.0.2", "5.6.7.8:6000")))

	_, ok := tbl.LookupByAddr(netip.MustParseAddrPort("1.2.3.4:5000"))
	assert.False(t, ok, "old address must stop matching")

	got, ok := tbl.LookupByIP(netip.MustParseAddr("10.0.0.2"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("5.6.7.8:6000"), got.Addr)
	assert.Equal(t, 1, tbl.Len())
}

func TestTableAddressTakenOver(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(testPeer(t, "10.0.0.2", "1.2.3.4:5000"))
	// A second peer appears behind the same NAT mapping.
	tbl.Upsert(testPeer(t, "10.0.0.3", "1.2.3.4:5000"))

	got, ok := tbl.LookupByAddr(netip.MustParseAddrPort("1.2.3.4:5000"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.3"), got.IP)

	// The first peer roaming away must not unlink the second.
	tbl.Upsert(testPeer(t, "10.0.0.2", "9.9.9.9:1"))
	got, ok = tbl.LookupByAddr(netip.MustParseAddrPort("1.2.3.4:5000"))
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddr("10.0.0.3"), got.IP)
}

func TestTableTouchAndAll(t *testing.T) {
	tbl := NewTable()
	tbl.Upsert(testPeer(t, "10.0.0.2", "1.2.3.4:5000"))
	tbl.Upsert(testPeer(t, "10.0.0.3", "1.2.3.5:5000"))

	now := time.Unix(100, 0)
	assert.True(t, tbl.Touch(netip.MustParseAddrPort("1.2.3.4:5000"), now))
	assert.False(t, tbl.Touch(netip.MustParseAddrPort("1.2.3.6:5000"), now))

	p, _ := tbl.LookupByIP(netip.MustParseAddr("10.0.0.2"))
	assert.Equal(t, now, p.LastSeen)
	assert.Len(t, tbl.All(), 2)
}

func TestAllowList(t *testing.T) {
	a, b := newKeyPair(t), newKeyPair(t)
	list, err := NewAllowList([]AllowEntry{
		{PublicKey: a.PublicKey, IP: netip.MustParseAddr("10.0.0.2")},
		{PublicKey: b.PublicKey, IP: netip.MustParseAddr("10.0.0.3")},
	})
	require.NoError(t, err)

	assert.True(t, list.Allowed(a.PublicKey, netip.MustParseAddr("10.0.0.2")))
	assert.False(t, list.Allowed(a.PublicKey, netip.MustParseAddr("10.0.0.3")), "key is bound to one address")
	assert.False(t, list.Allowed(b.PublicKey, netip.MustParseAddr("10.0.0.2")))
	assert.Equal(t, 2, list.Len())
	assert.Len(t, list.Entries(), 2)

	var nilList *AllowList
	assert.False(t, nilList.Allowed(a.PublicKey, netip.MustParseAddr("10.0.0.2")))

	_, err = NewAllowList([]AllowEntry{{PublicKey: a.PublicKey, IP: netip.MustParseAddr("fd00::1")}})
	assert.Error(t, err)
}

func TestPeerSealOpen(t *testing.T) {
	p := testPeer(t, "10.0.0.2", "1.2.3.4:5000")
	d, err := p.Seal([]byte("packet"))
	require.NoError(t, err)
	assert.Len(t, d.Ciphertext, len("packet")+protocol.TagSize)

	pt, err := p.Open(d)
	require.NoError(t, err)
	assert.Equal(t, []byte("packet"), pt)

	// Replays are not detected.
	pt, err = p.Open(d)
	require.NoError(t, err)
	assert.Equal(t, []byte("packet"), pt)

	d.Ciphertext[0] ^= 1
	_, err = p.Open(d)
	assert.Error(t, err)

	_, err = Peer{}.Seal([]byte("x"))
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestChannel(t *testing.T) {
	c := NewChannel()
	assert.False(t, c.IsEstablished())
	_, err := c.Seal([]byte("x"))
	assert.ErrorIs(t, err, ErrNoActiveSession)
	_, err = c.Open(protocol.Data{})
	assert.ErrorIs(t, err, ErrNoActiveSession)

	var secret [32]byte
	secret[1] = 9
	require.NoError(t, c.Install(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddrPort("1.2.3.4:51820"), secret))

	select {
	case <-c.Established():
	default:
		t.Fatal("Established not closed after Install")
	}
	// A second install (re-handshake) must not panic on the closed channel.
	require.NoError(t, c.Install(netip.MustParseAddr("10.0.0.1"), netip.MustParseAddrPort("1.2.3.4:51820"), secret))

	d, err := c.Seal([]byte("hello"))
	require.NoError(t, err)
	pt, err := c.Open(d)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), pt)
}

func TestHandshakeRoundTrip(t *testing.T) {
	server, client := newKeyPair(t), newKeyPair(t)
	ip := netip.MustParseAddr("10.0.0.2")
	from := netip.MustParseAddrPort("1.2.3.4:5000")

	allow, err := NewAllowList([]AllowEntry{{PublicKey: client.PublicKey, IP: ip}})
	require.NoError(t, err)
	tbl := NewTable()
	resp := NewResponder(server, allow, tbl, 0)
	initiator := NewInitiator(client, ip, server.PublicKey)

	reply, err := resp.HandleInit(initiator.Init(), from)
	require.NoError(t, err)
	assert.Equal(t, server.PublicKey, reply.PublicKey)
	assert.Equal(t, ip, reply.IP)

	secret, err := initiator.HandleResponse(reply)
	require.NoError(t, err)

	p, ok := tbl.LookupByAddr(from)
	require.True(t, ok)
	assert.Equal(t, secret, p.Secret)

	// Client-sealed data opens on the server's session.
	ch := NewChannel()
	require.NoError(t, ch.Install(ip, from, secret))
	d, err := ch.Seal([]byte("ping"))
	require.NoError(t, err)
	pt, err := p.Open(d)
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), pt)
}

func TestHandshakeRejected(t *testing.T) {
	server, client, stranger := newKeyPair(t), newKeyPair(t), newKeyPair(t)
	allow, err := NewAllowList([]AllowEntry{{PublicKey: client.PublicKey, IP: netip.MustParseAddr("10.0.0.2")}})
	require.NoError(t, err)
	tbl := NewTable()
	resp := NewResponder(server, allow, tbl, 0)
	from := netip.MustParseAddrPort("1.2.3.4:5000")

	_, err = resp.HandleInit(protocol.Handshake{PublicKey: stranger.PublicKey, IP: netip.MustParseAddr("10.0.0.2")}, from)
	assert.ErrorIs(t, err, ErrHandshakeRejected)

	// Right key, wrong address.
	_, err = resp.HandleInit(protocol.Handshake{PublicKey: client.PublicKey, IP: netip.MustParseAddr("10.0.0.9")}, from)
	assert.ErrorIs(t, err, ErrHandshakeRejected)
	assert.Equal(t, 0, tbl.Len())
}

func TestHandshakeRateLimit(t *testing.T) {
	server, client := newKeyPair(t), newKeyPair(t)
	ip := netip.MustParseAddr("10.0.0.2")
	allow, err := NewAllowList([]AllowEntry{{PublicKey: client.PublicKey, IP: ip}})
	require.NoError(t, err)
	resp := NewResponder(server, allow, NewTable(), 1)
	h := protocol.Handshake{PublicKey: client.PublicKey, IP: ip}
	from := netip.MustParseAddrPort("1.2.3.4:5000")

	_, err = resp.HandleInit(h, from)
	require.NoError(t, err)
	_, err = resp.HandleInit(h, from)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestHandshakeRoaming(t *testing.T) {
	server, client := newKeyPair(t), newKeyPair(t)
	ip := netip.MustParseAddr("10.0.0.2")
	allow, err := NewAllowList([]AllowEntry{{PublicKey: client.PublicKey, IP: ip}})
	require.NoError(t, err)
	tbl := NewTable()
	resp := NewResponder(server, allow, tbl, 0)
	h := protocol.Handshake{PublicKey: client.PublicKey, IP: ip}

	_, err = resp.HandleInit(h, netip.MustParseAddrPort("1.2.3.4:5000"))
	require.NoError(t, err)
	_, err = resp.HandleInit(h, netip.MustParseAddrPort("5.6.7.8:7000"))
	require.NoError(t, err)

	p, ok := tbl.LookupByIP(ip)
	require.True(t, ok)
	assert.Equal(t, netip.MustParseAddrPort("5.6.7.8:7000"), p.Addr)
	_, ok = tbl.LookupByAddr(netip.MustParseAddrPort("1.2.3.4:5000"))
	assert.False(t, ok)
}

func TestInitiatorRejectsUnexpectedServer(t *testing.T) {
	server, client, other := newKeyPair(t), newKeyPair(t), newKeyPair(t)
	initiator := NewInitiator(client, netip.MustParseAddr("10.0.0.2"), server.PublicKey)
	_, err := initiator.HandleResponse(protocol.Handshake{PublicKey: other.PublicKey, IP: netip.MustParseAddr("10.0.0.2")})
	assert.ErrorIs(t, err, ErrUnexpectedServer)

	// A different echoed address is tolerated.
	_, err = initiator.HandleResponse(protocol.Handshake{PublicKey: server.PublicKey, IP: netip.MustParseAddr("10.0.0.7")})
	assert.NoError(t, err)
}
