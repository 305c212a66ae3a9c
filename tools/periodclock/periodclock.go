package periodclock

import (
	"fmt"
	"time"
)

// Period is a half-open interval [From, To) aligned to hour boundaries in UTC.
type Period struct {
	From time.Time
	To   time.Time
}

// NewHour returns the one-hour period starting at from.
func NewHour(from time.Time) Period {
	from = from.UTC()
	return Period{From: from, To: from.Add(time.Hour)}
}

func (p Period) String() string {
	return fmt.Sprintf("[%s, %s)", p.From.UTC().Format(time.RFC3339), p.To.UTC().Format(time.RFC3339))
}

// LatestClosedHour returns the end of the latest fully-closed hour period.
// The current partial hour never counts as closed, so at 13:05 the result
// is 13:00 (the end of [12:00, 13:00)).
func LatestClosedHour(now time.Time) time.Time {
	return now.UTC().Truncate(time.Hour)
}

// MinutesUntilNextHour returns how many whole minutes remain until the next
// hour boundary. Exactly at a boundary it returns 60, one second past it 59.
func MinutesUntilNextHour(now time.Time) int {
	now = now.UTC()
	floor := now.Truncate(time.Hour)
	if now.Equal(floor) {
		return 60
	}
	return int(floor.Add(time.Hour).Sub(now) / time.Minute)
}
