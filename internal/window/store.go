package window

import (
	"context"
	"time"
)

// Store tracks, per metering point, the exclusive end of the last period
// that was successfully committed for issuance. The cursor is monotonic:
// advancing to a time at or before the current cursor is a no-op, which
// makes replays of the same work item safe.
type Store interface {
	// GetCursor returns the current cursor for gsrn, creating it at
	// contractStart on first access.
	GetCursor(ctx context.Context, gsrn string, contractStart time.Time) (time.Time, error)

	// Advance moves the cursor forward. It succeeds silently without
	// changing state when newUntil is not strictly after the current value.
	Advance(ctx context.Context, gsrn string, newUntil time.Time) error
}
