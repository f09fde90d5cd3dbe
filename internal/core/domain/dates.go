package domain

import (
	"fmt"
	"time"
)

type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDate reads a YYYY-MM-DD date as midnight in loc. A nil loc means local time.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	t, err := time.ParseInLocation(DateLayout, s, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: expected YYYY-MM-DD, got %q", ErrInvalidDateRange, s)
	}
	return t, nil
}

func ParseDateRange(start, end string, loc *time.Location) (DateRange, error) {
	s, err := ParseDate(start, loc)
	if err != nil {
		return DateRange{}, err
	}
	e, err := ParseDate(end, loc)
	if err != nil {
		return DateRange{}, err
	}
	if s.After(e) {
		return DateRange{}, fmt.Errorf("%w: start date %s is after end date %s", ErrInvalidDateRange, start, end)
	}
	return DateRange{Start: s, End: e}, nil
}

func (r DateRange) UnixMillis() (int64, int64) {
	return r.Start.UnixMilli(), r.End.UnixMilli()
}
