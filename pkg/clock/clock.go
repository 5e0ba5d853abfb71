// Package clock provides the two time sources phaselock relies on:
//
//	Monotonic: a tick that never jumps with wall-clock changes and that
//	           keeps counting across process restarts until the device
//	           reboots. Offsets are always relative to this clock.
//	Wall:      the ordinary wall clock, read only to detect reboots (the
//	           wall-monotonic delta moves when monotonic resets).
//
// All values are milliseconds. Sleep is part of the interface so loops that
// wait between rounds can be driven by Fake in tests.
package clock

import (
	"context"
	"time"
)

// Clock is the time source consumed by every component.
type Clock interface {
	// Monotonic returns milliseconds on the monotonic clock.
	Monotonic() int64
	// Wall returns Unix milliseconds.
	Wall() int64
	// Sleep blocks for d or until ctx is done, whichever comes first.
	Sleep(ctx context.Context, d time.Duration) error
}

// Delta returns wall minus monotonic. It is stable while the device stays
// up and the wall clock is not changed.
func Delta(c Clock) int64 { return c.Wall() - c.Monotonic() }

type system struct{}

// System returns the real clock of this machine.
func System() Clock { return system{} }

func (system) Monotonic() int64 { return monotonicMillis() }

func (system) Wall() int64 { return time.Now().UnixMilli() }

func (system) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ElapsedMod returns ((monotonicNow + offset - origin) mod period), always in
// [0, period). It is the play-position formula shared by every device.
func ElapsedMod(monotonicNow, offset, origin, period int64) int64 {
	if period <= 0 {
		return 0
	}
	v := (monotonicNow + offset - origin) % period
	if v < 0 {
		v += period
	}
	return v
}
