//go:build linux

package clock

import "golang.org/x/sys/unix"

// monotonicMillis reads CLOCK_BOOTTIME: monotonic, includes suspend, and
// resets only on reboot. That reset is what persisted offsets rely on.
func monotonicMillis() int64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_BOOTTIME, &ts); err != nil {
		return fallbackMillis()
	}
	return ts.Nano() / 1e6
}
