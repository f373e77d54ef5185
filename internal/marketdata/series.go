package marketdata

import (
	"fmt"
	"time"
)

// GapError reports a historical series that cannot be trusted: duplicate
// dates, out-of-order dates, or bars on non-trading days. It is fatal to a
// simulation run and is never silently interpolated around.
type GapError struct {
	Symbol string
	Date   time.Time
	Reason string
}

func (e *GapError) Error() string {
	return fmt.Sprintf("series %s at %s: %s", e.Symbol, e.Date.Format("2006-01-02"), e.Reason)
}

// Series is an ordered, validated run of daily bars for one symbol.
// Construction validates once; afterwards lookups are O(1) and the
// underlying data is treated as read-only.
type Series struct {
	Symbol string
	Days   []Day

	byDate map[int64]int // unix day -> index into Days
}

func dateKey(t time.Time) int64 {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix()
}

// NewSeries validates and indexes a daily bar sequence. The input must be
// strictly ascending weekday bars; weekends and holidays are expected to be
// pre-excluded by the data collaborator.
func NewSeries(symbol string, days []Day) (*Series, error) {
	if len(days) == 0 {
		return nil, &GapError{Symbol: symbol, Reason: "empty series"}
	}

	byDate := make(map[int64]int, len(days))
	var prev time.Time
	for i, d := range days {
		wd := d.Date.UTC().Weekday()
		if wd == time.Saturday || wd == time.Sunday {
			return nil, &GapError{Symbol: symbol, Date: d.Date, Reason: "bar on a weekend"}
		}
		if i > 0 {
			if !d.Date.After(prev) {
				reason := "out-of-order date"
				if dateKey(d.Date) == dateKey(prev) {
					reason = "duplicate date"
				}
				return nil, &GapError{Symbol: symbol, Date: d.Date, Reason: reason}
			}
		}
		byDate[dateKey(d.Date)] = i
		prev = d.Date
	}

	return &Series{Symbol: symbol, Days: days, byDate: byDate}, nil
}

// Day returns the bar for the given date, if one exists. A missing bar is a
// normal negative result ("no trading possible that day"), not an error.
func (s *Series) Day(date time.Time) (Day, bool) {
	i, ok := s.byDate[dateKey(date)]
	if !ok {
		return Day{}, false
	}
	return s.Days[i], true
}

// History returns up to n bars ending at (and including) the given date.
// Returns nil when the date itself has no bar.
func (s *Series) History(date time.Time, n int) []Day {
	i, ok := s.byDate[dateKey(date)]
	if !ok {
		return nil
	}
	start := i - n + 1
	if start < 0 {
		start = 0
	}
	return s.Days[start : i+1]
}

// First and Last bound the series' date range.
func (s *Series) First() time.Time { return s.Days[0].Date }
func (s *Series) Last() time.Time  { return s.Days[len(s.Days)-1].Date }
