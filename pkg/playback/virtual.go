package playback

import (
	"context"
	"errors"
	"sync"

	"github.com/daviddao/phaselock/pkg/clock"
)

// ErrReleased is returned by a VirtualOutput used after Release.
var ErrReleased = errors.New("playback: output released")

// VirtualOutput is a silent looping output driven by a Clock. While started
// its position advances 1:1 with monotonic time and wraps at the loop
// length; seeks complete at once.
type VirtualOutput struct {
	clock  clock.Clock
	loopMs int64

	mu        sync.Mutex
	path      string
	basePos   int64
	baseMono  int64
	playing   bool
	released  bool
	left      float32
	right     float32
	seekCount int
}

func NewVirtualOutput(c clock.Clock, loopDurationMs int64) *VirtualOutput {
	return &VirtualOutput{clock: c, loopMs: loopDurationMs}
}

func (v *VirtualOutput) Prepare(path string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return ErrReleased
	}
	v.path = path
	return nil
}

func (v *VirtualOutput) CurrentPositionMs() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.positionLocked()
}

func (v *VirtualOutput) positionLocked() int64 {
	pos := v.basePos
	if v.playing {
		pos += v.clock.Monotonic() - v.baseMono
	}
	return wrap(pos, v.loopMs)
}

func (v *VirtualOutput) SeekTo(ctx context.Context, positionMs int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return ErrReleased
	}
	v.basePos = wrap(positionMs, v.loopMs)
	v.baseMono = v.clock.Monotonic()
	v.seekCount++
	return nil
}

func (v *VirtualOutput) SetVolume(left, right float32) {
	v.mu.Lock()
	v.left, v.right = left, right
	v.mu.Unlock()
}

// Volume returns the last volume set.
func (v *VirtualOutput) Volume() (left, right float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.left, v.right
}

func (v *VirtualOutput) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.released {
		return ErrReleased
	}
	if !v.playing {
		v.baseMono = v.clock.Monotonic()
		v.playing = true
	}
	return nil
}

func (v *VirtualOutput) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.basePos = v.positionLocked()
	v.playing = false
	return nil
}

func (v *VirtualOutput) Release() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.playing = false
	v.released = true
	return nil
}

// Playing reports whether the output is started and not released.
func (v *VirtualOutput) Playing() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.playing
}

// Released reports whether Release was called.
func (v *VirtualOutput) Released() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.released
}

// Seeks returns the number of completed seeks.
func (v *VirtualOutput) Seeks() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.seekCount
}

func wrap(pos, period int64) int64 {
	if period <= 0 {
		return pos
	}
	pos %= period
	if pos < 0 {
		pos += period
	}
	return pos
}
