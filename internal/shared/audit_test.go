package shared

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeOrNowFillsZeroTime(t *testing.T) {
	before := time.Now()
	got := timeOrNow(time.Time{})
	require.False(t, got.Before(before))
	require.False(t, got.After(time.Now()))
}

func TestTimeOrNowKeepsExplicitTime(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.Equal(t, at, timeOrNow(at))
}
