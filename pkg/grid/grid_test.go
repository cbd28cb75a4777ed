package grid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAligned(t *testing.T) {
	s := Spec{BlockMinutes: 30, StartOffsets: []int{0, 30}, DayStartHour: 6}
	require.True(t, IsAligned(0, s))
	require.True(t, IsAligned(30*60000, s))
	require.False(t, IsAligned(15*60000, s))
	require.False(t, IsAligned(60000+1, s))
}

func TestBroadcastDayStartMs(t *testing.T) {
	s := Spec{BlockMinutes: 30, StartOffsets: []int{0, 30}, DayStartHour: 6}
	const hourMs = 3600 * 1000
	// 06:00 UTC on day 0 (epoch) is itself a day start.
	require.Equal(t, int64(6*hourMs), BroadcastDayStartMs(6*hourMs, s))
	// Just before 06:00 belongs to the previous broadcast day.
	require.Equal(t, int64(6*hourMs-24*hourMs), BroadcastDayStartMs(6*hourMs-1, s))
	// Mid-afternoon of the same day maps back to the same day start.
	require.Equal(t, int64(6*hourMs), BroadcastDayStartMs(18*hourMs, s))
}

func TestValidateRejectsBadSpec(t *testing.T) {
	require.Error(t, Spec{BlockMinutes: 0, StartOffsets: []int{0}}.Validate())
	require.Error(t, Spec{BlockMinutes: 30, StartOffsets: nil}.Validate())
	require.Error(t, Spec{BlockMinutes: 30, StartOffsets: []int{60}}.Validate())
	require.Error(t, Spec{BlockMinutes: 30, StartOffsets: []int{0}, DayStartHour: 25}.Validate())
	require.NoError(t, DefaultSpec.Validate())
}
