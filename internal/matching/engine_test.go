package matching

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/keppel-erp/keppel/internal/money"
)

func TestPOScoreZeroTotalUnscorable(t *testing.T) {
	_, _, ok := poScore(money.FromMinor(0), money.FromMinor(100), 5)
	require.False(t, ok)
}

func TestPOScoreBoundary(t *testing.T) {
	// exactly at tolerance: still included, strength 0
	variance, strength, ok := poScore(money.FromMinor(100000), money.FromMinor(95000), 5)
	require.True(t, ok)
	require.Equal(t, 5.0, variance)
	require.Equal(t, 0.0, strength)

	_, _, ok = poScore(money.FromMinor(100000), money.FromMinor(94999), 5)
	require.False(t, ok)
}

func TestGRNScoreClampsAtZero(t *testing.T) {
	variance, strength, ok := grnScore(money.FromMinor(100000), money.FromMinor(20000))
	require.True(t, ok)
	require.Equal(t, 80.0, variance)
	require.Equal(t, 0.0, strength)
}
