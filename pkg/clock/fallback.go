package clock

import "time"

var processStart = time.Now()

// fallbackMillis is process-relative. Persisted offsets written with it do
// not survive a restart, because the wall-monotonic delta moves.
func fallbackMillis() int64 { return time.Since(processStart).Milliseconds() + 1 }
