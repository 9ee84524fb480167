package patcher

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestCounters_saturates(t *testing.T) {
	c, err := NewCounters()
	require.NoError(t, err)
	require.True(t, c.AllReleased())

	for _, phase := range []Phase{Bootstrapping, Mounting} {
		c.Decrease(`a`, phase)
		require.Equal(t, 0, c.Count(`a`, phase), phase.String())
		c.Increase(`a`, phase)
		require.False(t, c.AllReleased())
		require.True(t, c.Applied(`a`))
		c.Decrease(`a`, phase)
		c.Decrease(`a`, phase)
		require.Equal(t, 0, c.Count(`a`, phase), phase.String())
		require.True(t, c.AllReleased())
	}
}

func TestCounters_allApps(t *testing.T) {
	c, err := NewCounters()
	require.NoError(t, err)
	c.Increase(`a`, Bootstrapping)
	c.Increase(`b`, Mounting)
	c.Decrease(`a`, Bootstrapping)
	require.False(t, c.AllReleased())
	require.False(t, c.Applied(`a`))
	require.True(t, c.Applied(`b`))
	c.Decrease(`b`, Mounting)
	require.True(t, c.AllReleased())
}

func TestCounters_gauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewCounters(WithRegisterer(reg))
	require.NoError(t, err)

	c.Increase(`a`, Mounting)
	c.Increase(`a`, Mounting)
	c.Increase(`a`, Bootstrapping)
	require.Equal(t, float64(2), testutil.ToFloat64(c.gauge.WithLabelValues(`a`, `mounting`)))
	require.Equal(t, float64(1), testutil.ToFloat64(c.gauge.WithLabelValues(`a`, `bootstrapping`)))
	c.Decrease(`a`, Mounting)
	require.Equal(t, float64(1), testutil.ToFloat64(c.gauge.WithLabelValues(`a`, `mounting`)))
	require.Equal(t, 2, testutil.CollectAndCount(c.gauge))

	_, err = NewCounters(WithRegisterer(reg))
	require.Error(t, err)
}

func TestPhase_String(t *testing.T) {
	require.Equal(t, `bootstrapping`, Bootstrapping.String())
	require.Equal(t, `mounting`, Mounting.String())
	require.Equal(t, `Phase(7)`, Phase(7).String())
}
