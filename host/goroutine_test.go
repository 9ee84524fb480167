package host

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCurrentGoroutine(t *testing.T) {
	id := currentGoroutine()
	require.NotZero(t, id)
	require.Equal(t, id, currentGoroutine())

	other := make(chan uint64)
	go func() { other <- currentGoroutine() }()
	require.NotEqual(t, id, <-other)
}
