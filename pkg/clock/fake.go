package clock

import (
	"context"
	"sync"
	"time"
)

// Fake is a manually driven Clock for tests. Monotonic and Wall move
// together unless SetWall or Reboot is used.
//
// With AutoAdvance set, Sleep moves the clock forward by d and returns at
// once, so loops run in simulated time. Otherwise Sleep blocks until
// Advance has moved the clock past the deadline.
type Fake struct {
	mu          sync.Mutex
	mono        int64
	wall        int64
	autoAdvance bool
	waiters     []fakeWaiter
}

type fakeWaiter struct {
	until int64
	ch    chan struct{}
}

// NewFake returns a Fake starting at the given monotonic and wall times.
func NewFake(monotonic, wall int64) *Fake {
	return &Fake{mono: monotonic, wall: wall}
}

// NewAutoFake returns a Fake whose Sleep advances time instead of blocking.
func NewAutoFake(monotonic, wall int64) *Fake {
	return &Fake{mono: monotonic, wall: wall, autoAdvance: true}
}

func (f *Fake) Monotonic() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mono
}

func (f *Fake) Wall() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.wall
}

func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ms := d.Milliseconds()
	f.mu.Lock()
	if f.autoAdvance {
		f.advanceLocked(ms)
		f.mu.Unlock()
		return nil
	}
	w := fakeWaiter{until: f.mono + ms, ch: make(chan struct{})}
	if ms <= 0 {
		f.mu.Unlock()
		return nil
	}
	f.waiters = append(f.waiters, w)
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.ch:
		return nil
	}
}

// Advance moves both clocks forward and wakes sleepers whose deadline passed.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.advanceLocked(d.Milliseconds())
}

func (f *Fake) advanceLocked(ms int64) {
	f.mono += ms
	f.wall += ms
	kept := f.waiters[:0]
	for _, w := range f.waiters {
		if w.until <= f.mono {
			close(w.ch)
			continue
		}
		kept = append(kept, w)
	}
	f.waiters = kept
}

// SetWall changes only the wall clock, as a user adjusting the time would.
func (f *Fake) SetWall(wall int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wall = wall
}

// Reboot resets the monotonic clock to monotonic while wall keeps running.
func (f *Fake) Reboot(monotonic int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mono = monotonic
}

// Sleepers returns the number of goroutines blocked in Sleep.
func (f *Fake) Sleepers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.waiters)
}
