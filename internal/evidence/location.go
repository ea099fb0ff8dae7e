package evidence

import (
	"context"
	"errors"
	"time"

	"iwitness/internal/platform/config"
	"iwitness/pkg/requestcontext"
)

// LocationProvider abstracts the platform location service. Implementations
// live at the transport edge (e.g. coordinates relayed by the client) or in
// tests.
type LocationProvider interface {
	CurrentPosition(ctx context.Context) (Coordinates, error)
}

// Provider error values. Anything else (including timeout) is treated as a
// denial; location is best-effort and never blocks session creation.
var (
	ErrLocationDenied       = errors.New("location permission denied")
	ErrLocationNotSupported = errors.New("location not supported")
)

// captureLocation requests a position with a bounded wait and degrades to a
// permission-status record on denial, absence, or timeout. The snapshot
// timestamp is truncated to microseconds; it is part of the founding hash
// and must survive a timestamptz round trip.
func captureLocation(ctx context.Context, provider LocationProvider) *LocationSnapshot {
	now := requestcontext.Now(ctx).UTC().Truncate(time.Microsecond)
	if provider == nil {
		return &LocationSnapshot{Timestamp: now, PermissionStatus: PermissionNotSupported}
	}

	ctx, cancel := context.WithTimeout(ctx, config.LocationTimeout)
	defer cancel()

	type result struct {
		coords Coordinates
		err    error
	}
	done := make(chan result, 1)
	go func() {
		coords, err := provider.CurrentPosition(ctx)
		done <- result{coords, err}
	}()

	select {
	case <-ctx.Done():
		return &LocationSnapshot{Timestamp: now, PermissionStatus: PermissionDenied}
	case res := <-done:
		switch {
		case errors.Is(res.err, ErrLocationNotSupported):
			return &LocationSnapshot{Timestamp: now, PermissionStatus: PermissionNotSupported}
		case res.err != nil:
			return &LocationSnapshot{Timestamp: now, PermissionStatus: PermissionDenied}
		default:
			coords := res.coords
			return &LocationSnapshot{
				Coordinates:      &coords,
				Timestamp:        now,
				PermissionStatus: PermissionGranted,
			}
		}
	}
}

// StaticProvider returns fixed coordinates; transport handlers use it to
// relay a client-captured position, and tests use it for determinism.
type StaticProvider struct {
	Coords Coordinates
	Err    error
	Delay  time.Duration
}

func (p StaticProvider) CurrentPosition(ctx context.Context) (Coordinates, error) {
	if p.Delay > 0 {
		select {
		case <-ctx.Done():
			return Coordinates{}, ctx.Err()
		case <-time.After(p.Delay):
		}
	}
	if p.Err != nil {
		return Coordinates{}, p.Err
	}
	return p.Coords, nil
}
