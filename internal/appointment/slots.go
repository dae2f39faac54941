package appointment

import (
	"fmt"
	"time"
)

const (
	SlotDuration = 15 * time.Minute

	openingHour = 9
	closingHour = 17
)

// SlotsPerDay is the size of the daily candidate grid.
const SlotsPerDay = (closingHour - openingHour) * int(time.Hour/SlotDuration)

// DayBounds returns the start of the calendar day containing day in loc and
// the start of the following day.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// CandidateSlots returns every slot start from opening up to, but excluding,
// closing time on the calendar day containing day.
func CandidateSlots(day time.Time, loc *time.Location) []time.Time {
	start, _ := DayBounds(day, loc)

	slots := make([]time.Time, 0, SlotsPerDay)
	for hour := openingHour; hour < closingHour; hour++ {
		for minute := 0; minute < 60; minute += int(SlotDuration / time.Minute) {
			slots = append(slots, time.Date(start.Year(), start.Month(), start.Day(), hour, minute, 0, 0, loc))
		}
	}
	return slots
}

// ExcludeBooked drops every candidate whose millisecond timestamp equals a
// booked one. Order of candidates is kept.
func ExcludeBooked(candidates, booked []time.Time) []time.Time {
	taken := make(map[int64]struct{}, len(booked))
	for _, b := range booked {
		taken[b.UnixMilli()] = struct{}{}
	}

	free := make([]time.Time, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := taken[c.UnixMilli()]; ok {
			continue
		}
		free = append(free, c)
	}
	return free
}

// OnGrid reports whether t is one of the candidate slot starts of its day.
func OnGrid(t time.Time, loc *time.Location) bool {
	lt := t.In(loc)
	if lt.Hour() < openingHour || lt.Hour() >= closingHour {
		return false
	}
	return lt.Minute()%int(SlotDuration/time.Minute) == 0 && lt.Second() == 0 && lt.Nanosecond() == 0
}

// ParseDay reads a calendar date given as YYYY-MM-DD or as an RFC 3339
// timestamp. The returned time is midnight of that date in loc.
func ParseDay(raw string, loc *time.Location) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: date is required", ErrInvalidArgument)
	}
	if d, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return d, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be YYYY-MM-DD or RFC 3339", ErrInvalidArgument)
	}
	start, _ := DayBounds(t, loc)
	return start, nil
}
