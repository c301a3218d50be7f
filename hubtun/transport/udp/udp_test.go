package udp

import (
	"fmt"
	"net/netip"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheusHen/hubtun/hubtun/metrics"
	"github.com/TheusHen/hubtun/hubtun/obfs"
)

// failingObfs refuses to transform anything.
type failingObfs struct{ obfs.None }

func (failingObfs) Obfuscate([]byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: key schedule", obfs.ErrObfuscate)
}

func droppedMalformed(t *testing.T) float64 {
	t.Helper()
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "hubtun_dropped_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "reason" && l.GetValue() == metrics.ReasonMalformed {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}

func loopback(c *Conn) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr("127.0.0.1"), c.AddrPort().Port())
}

func TestSendReceive(t *testing.T) {
	for _, p := range []obfs.Protocol{obfs.ProtocolNone, obfs.ProtocolDNS, obfs.ProtocolICMP} {
		t.Run(string(p), func(t *testing.T) {
			o, err := obfs.New(p, nil)
			require.NoError(t, err)
			a, err := Listen("127.0.0.1:0", o)
			require.NoError(t, err)
			defer a.Close()
			b, err := Listen("127.0.0.1:0", o)
			require.NoError(t, err)
			defer b.Close()

			n, err := a.WriteTo([]byte{2}, loopback(b))
			require.NoError(t, err)
			assert.Equal(t, 1, n)

			buf := make([]byte, 1500)
			n, from, err := b.ReadFrom(buf)
			require.NoError(t, err)
			assert.Equal(t, []byte{2}, buf[:n])
			assert.Equal(t, loopback(a), from)
		})
	}
}

func TestDropsUndecodable(t *testing.T) {
	plain, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer plain.Close()
	dns, err := Listen("127.0.0.1:0", obfs.NewDNS())
	require.NoError(t, err)
	defer dns.Close()
	before := droppedMalformed(t)

	// Too short to carry a DNS header; the receiver must skip it.
	_, err = plain.WriteTo([]byte{1, 2, 3}, loopback(dns))
	require.NoError(t, err)
	_, err = dns.WriteTo([]byte{2}, loopback(dns))
	require.NoError(t, err)

	buf := make([]byte, 1500)
	n, _, err := dns.ReadFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{2}, buf[:n])
	assert.Equal(t, before+1, droppedMalformed(t))
}

func TestWriteRefusesUnobfuscated(t *testing.T) {
	src, err := Listen("127.0.0.1:0", failingObfs{})
	require.NoError(t, err)
	defer src.Close()
	dst, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer dst.Close()

	n, err := src.WriteTo([]byte{2}, loopback(dst))
	assert.ErrorIs(t, err, obfs.ErrObfuscate)
	assert.Zero(t, n)

	require.NoError(t, dst.conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = dst.ReadFrom(make([]byte, 16))
	assert.Error(t, err, "nothing may reach the wire")
}

func TestCloseUnblocksRead(t *testing.T) {
	c, err := Listen("127.0.0.1:0", nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, _, err := c.ReadFrom(make([]byte, 16))
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("ReadFrom did not return after Close")
	}
	assert.NoError(t, c.Close(), "second close is a no-op")
}
