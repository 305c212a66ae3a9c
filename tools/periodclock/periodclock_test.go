package periodclock_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gridcert/issuance-worker/tools/periodclock"
)

func TestMinutesUntilNextHour(t *testing.T) {
	cases := []struct {
		now      time.Time
		expected int
	}{
		{time.Date(2023, 1, 1, 22, 44, 0, 0, time.UTC), 16},
		{time.Date(2023, 1, 1, 22, 0, 0, 0, time.UTC), 60},
		{time.Date(2023, 1, 1, 22, 0, 1, 0, time.UTC), 59},
		{time.Date(2023, 1, 1, 22, 59, 0, 0, time.UTC), 1},
		{time.Date(2023, 1, 1, 22, 59, 30, 0, time.UTC), 0},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, periodclock.MinutesUntilNextHour(c.now), "now=%s", c.now)
	}
}

func TestLatestClosedHour(t *testing.T) {
	now := time.Date(2022, 3, 3, 13, 5, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2022, 3, 3, 13, 0, 0, 0, time.UTC), periodclock.LatestClosedHour(now))

	exact := time.Date(2022, 3, 3, 13, 0, 0, 0, time.UTC)
	assert.Equal(t, exact, periodclock.LatestClosedHour(exact))
}

func TestLatestClosedHour_NonUTCInput(t *testing.T) {
	loc := time.FixedZone("CET", 3600)
	now := time.Date(2022, 3, 3, 14, 5, 0, 0, loc) // 13:05 UTC

	assert.Equal(t, time.Date(2022, 3, 3, 13, 0, 0, 0, time.UTC), periodclock.LatestClosedHour(now))
}

func TestNewHour(t *testing.T) {
	from := time.Unix(1646308800, 0) // 2022-03-03T12:00:00Z

	p := periodclock.NewHour(from)

	assert.Equal(t, time.Date(2022, 3, 3, 12, 0, 0, 0, time.UTC), p.From)
	assert.Equal(t, time.Date(2022, 3, 3, 13, 0, 0, 0, time.UTC), p.To)
	assert.Equal(t, time.Hour, p.To.Sub(p.From))
}
