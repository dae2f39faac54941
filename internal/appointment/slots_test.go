package appointment

import (
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCandidateSlots(t *testing.T) {
	day := time.Date(2024, 3, 1, 14, 37, 0, 0, time.UTC)

	slots := CandidateSlots(day, time.UTC)

	require.Len(t, slots, SlotsPerDay)
	assert.Equal(t, 32, SlotsPerDay)
	assert.Equal(t, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), slots[0])
	assert.Equal(t, time.Date(2024, 3, 1, 16, 45, 0, 0, time.UTC), slots[len(slots)-1])
	for i := 1; i < len(slots); i++ {
		assert.Equal(t, SlotDuration, slots[i].Sub(slots[i-1]))
	}
}

func TestCandidateSlotsUsesCalendarDayOfLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:00 UTC on the 2nd is still the 1st in New York.
	day := time.Date(2024, 3, 2, 2, 0, 0, 0, time.UTC)
	slots := CandidateSlots(day, ny)

	require.Len(t, slots, SlotsPerDay)
	first := slots[0].In(ny)
	assert.Equal(t, 1, first.Day())
	assert.Equal(t, 9, first.Hour())
}

func TestDayBoundsAcrossDSTChange(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	start, next := DayBounds(time.Date(2024, 3, 10, 12, 0, 0, 0, ny), ny)

	assert.Equal(t, 23*time.Hour, next.Sub(start))
	assert.Equal(t, 0, next.In(ny).Hour())
}

func TestExcludeBooked(t *testing.T) {
	day := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	candidates := CandidateSlots(day, time.UTC)

	booked := []time.Time{
		time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		// same instant in another zone still matches
		time.Date(2024, 3, 1, 12, 30, 0, 0, time.FixedZone("CET", 3600)),
		// off grid, matches nothing
		time.Date(2024, 3, 1, 10, 0, 0, int(time.Millisecond), time.UTC),
	}

	free := ExcludeBooked(candidates, booked)

	require.Len(t, free, SlotsPerDay-2)
	for _, f := range free {
		assert.NotEqual(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), f)
		assert.False(t, f.Equal(time.Date(2024, 3, 1, 11, 30, 0, 0, time.UTC)))
	}
}

func TestOnGrid(t *testing.T) {
	tests := []struct {
		name string
		t    time.Time
		want bool
	}{
		{"opening", time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), true},
		{"last slot", time.Date(2024, 3, 1, 16, 45, 0, 0, time.UTC), true},
		{"closing", time.Date(2024, 3, 1, 17, 0, 0, 0, time.UTC), false},
		{"before opening", time.Date(2024, 3, 1, 8, 45, 0, 0, time.UTC), false},
		{"off quarter", time.Date(2024, 3, 1, 10, 10, 0, 0, time.UTC), false},
		{"seconds", time.Date(2024, 3, 1, 10, 15, 30, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OnGrid(tt.t, time.UTC))
		})
	}
}

func TestParseDay(t *testing.T) {
	d, err := ParseDay("2024-03-01", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	d, err = ParseDay("2024-03-01T15:04:05Z", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDay("", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ParseDay("yesterday", time.UTC)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
