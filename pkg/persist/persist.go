// Package persist keeps the single fallback offset slot.
//
// A slot is three KV keys written together: the offset, the monotonic time
// of the save, and the wall-monotonic delta at the save. Load trusts the slot
// only while it is younger than 48h and the delta has not moved by more than
// 100ms, which catches reboots and wall-clock changes.
package persist

import (
	"fmt"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
	"github.com/daviddao/phaselock/pkg/store"
)

// KV keys of the slot.
const (
	KeyOffset  = "offset.value"
	KeySavedAt = "offset.saved_at_monotonic"
	KeyDelta   = "offset.wall_monotonic_delta"
)

// Offsets reads and writes the slot. Writes replace the whole slot.
type Offsets struct {
	kv    store.KV
	clock clock.Clock
}

// New returns an Offsets backed by kv.
func New(kv store.KV, c clock.Clock) *Offsets {
	return &Offsets{kv: kv, clock: c}
}

// Save overwrites the slot with offsetMs stamped with the current clocks.
func (o *Offsets) Save(offsetMs int64) error {
	mono := o.clock.Monotonic()
	err := o.kv.PutLongs(map[string]int64{
		KeyOffset:  offsetMs,
		KeySavedAt: mono,
		KeyDelta:   o.clock.Wall() - mono,
	})
	if err != nil {
		return fmt.Errorf("save offset: %w", err)
	}
	return nil
}

// Peek returns the raw slot and whether anything was ever written.
func (o *Offsets) Peek() (model.PersistedOffset, bool) {
	p := model.PersistedOffset{
		OffsetMs:           o.kv.GetLong(KeyOffset, 0),
		SavedAtMonotonic:   o.kv.GetLong(KeySavedAt, 0),
		WallMonotonicDelta: o.kv.GetLong(KeyDelta, 0),
	}
	return p, p.SavedAtMonotonic > 0
}

// Valid reports whether the slot can be trusted right now.
func (o *Offsets) Valid() bool {
	p, ok := o.Peek()
	return ok && p.ValidAt(o.clock.Monotonic(), clock.Delta(o.clock))
}

// Load returns Saved{sourceID, offset} when the slot is valid, else Empty.
func (o *Offsets) Load(sourceID int) model.TimeReading {
	p, ok := o.Peek()
	if !ok || !p.ValidAt(o.clock.Monotonic(), clock.Delta(o.clock)) {
		return model.Empty()
	}
	return model.Saved(sourceID, p.OffsetMs)
}

// Forget clears the slot.
func (o *Offsets) Forget() error {
	if err := o.kv.Delete(KeyOffset, KeySavedAt, KeyDelta); err != nil {
		return fmt.Errorf("forget offset: %w", err)
	}
	return nil
}
