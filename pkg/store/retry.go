package store

import (
	"errors"
	"math/rand"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// backoff retries writes that lost a lock race with another process
// sharing the database file (the CLI next to a running player). WAL and
// busy_timeout absorb most waits; what still surfaces is retried here.
type backoff struct {
	attempts int           // total tries, first one included
	step     time.Duration // delay ceiling doubles from here
	ceiling  time.Duration
	sleep    func(time.Duration)
}

func defaultBackoff() backoff {
	return backoff{attempts: 4, step: 25 * time.Millisecond, ceiling: 250 * time.Millisecond, sleep: time.Sleep}
}

// do calls fn until it returns nil, a non-contention error, or the
// attempts run out. The last error is returned.
func (b backoff) do(fn func() error) error {
	err := fn()
	for try := 1; try < b.attempts && contended(err); try++ {
		b.sleep(b.delay(try))
		err = fn()
	}
	return err
}

// delay draws uniformly from [window/2, window], where window is step
// doubled per try and clamped to ceiling.
func (b backoff) delay(try int) time.Duration {
	window := b.ceiling
	if try < 16 {
		if w := b.step << uint(try-1); w > 0 && w < window {
			window = w
		}
	}
	half := window / 2
	if half <= 0 {
		return window
	}
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

// contended reports whether err is a lock conflict or short read that a
// later attempt can clear.
func contended(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		code := se.Code()
		switch code & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return code == sqlite3.SQLITE_IOERR_SHORT_READ
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}
