package surface

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBackoffGrowsToCap(t *testing.T) {
	b := newBackoff(time.Second, 8*time.Second, 2.0, 0)

	require.Equal(t, 1*time.Second, b.next())
	require.Equal(t, 2*time.Second, b.next())
	require.Equal(t, 4*time.Second, b.next())
	require.Equal(t, 8*time.Second, b.next())
	require.Equal(t, 8*time.Second, b.next(), "delay must stay at the cap")
}

func TestBackoffReset(t *testing.T) {
	b := newBackoff(time.Second, time.Minute, 2.0, 0)

	b.next()
	b.next()
	b.reset()

	require.Equal(t, time.Second, b.next(), "reset must restart from the initial delay")
}

func TestBackoffJitterStaysBounded(t *testing.T) {
	b := newBackoff(10*time.Second, time.Minute, 2.0, 0.2)

	for i := 0; i < 100; i++ {
		d := b.next()
		require.GreaterOrEqual(t, d, time.Duration(0))
		require.LessOrEqual(t, d, time.Minute, "jitter must never push past the cap")
		b.reset()
		// First attempt spreads within +/-20% of the initial delay
		require.GreaterOrEqual(t, d, 8*time.Second)
		require.LessOrEqual(t, d, 12*time.Second)
	}
}
