package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterTwice(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestCounters(t *testing.T) {
	before := testutil.ToFloat64(packets.WithLabelValues(DirectionIn, "data"))
	beforeBytes := testutil.ToFloat64(bytes.WithLabelValues(DirectionIn))
	Packet(DirectionIn, "data", 100)
	assert.Equal(t, before+1, testutil.ToFloat64(packets.WithLabelValues(DirectionIn, "data")))
	assert.Equal(t, beforeBytes+100, testutil.ToFloat64(bytes.WithLabelValues(DirectionIn)))

	d := testutil.ToFloat64(dropped.WithLabelValues(ReasonDecrypt))
	Dropped(ReasonDecrypt)
	assert.Equal(t, d+1, testutil.ToFloat64(dropped.WithLabelValues(ReasonDecrypt)))

	SetSessions(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(sessions))
}
