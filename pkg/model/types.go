// Package model defines the core domain types for phaselock.
//
// Phaselock lets disconnected devices agree on one virtual clock without
// talking to each other. Two ideas carry the design:
//
//   - Offset estimation: several independent probes (GPS, NTP, an HTTP echo
//     authority, a persisted cache) each estimate the difference between an
//     authoritative clock and the local monotonic clock. Every reading is
//     graded into an AccuracyLevel and the best one wins a round.
//
//   - Offset-derived playback: every device computes its play position in a
//     shared endless loop as (monotonic now + offset - schedule origin) mod
//     loop duration. Devices that agree on the offset play in phase.
package model

import (
	"fmt"
	"math"
)

// RawSample is one offset measurement produced by a probe attempt.
// Quality is a "badness" score: lower is better (round-trip latency in
// milliseconds, or the reported GPS accuracy radius in metres).
type RawSample struct {
	OffsetMs int64   `json:"offset_ms"`
	Quality  float64 `json:"quality"`
}

// ReadingKind discriminates the TimeReading variants.
type ReadingKind int

const (
	KindEmpty ReadingKind = iota
	KindFetched
	KindSaved
)

func (k ReadingKind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindFetched:
		return "fetched"
	case KindSaved:
		return "saved"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// TimeReading is the per-round output of a source. It is a closed sum
// type: construct it with Empty, Fetched or Saved and switch on Kind.
// Fields that do not belong to the variant are zero.
type TimeReading struct {
	Kind             ReadingKind `json:"kind"`
	SourceID         int         `json:"source_id"`
	OffsetMs         int64       `json:"offset_ms"`
	OffsetAccuracyMs int64       `json:"offset_accuracy_ms,omitempty"`
	ProbeCount       int         `json:"probe_count,omitempty"`
	SourceAccuracy   float64     `json:"source_accuracy,omitempty"`
}

// Empty returns the reading of a source that has nothing to say yet.
func Empty() TimeReading { return TimeReading{Kind: KindEmpty} }

// Fetched returns a refined live estimate.
func Fetched(sourceID int, offsetMs, offsetAccuracyMs int64, probeCount int, sourceAccuracy float64) TimeReading {
	return TimeReading{
		Kind:             KindFetched,
		SourceID:         sourceID,
		OffsetMs:         offsetMs,
		OffsetAccuracyMs: offsetAccuracyMs,
		ProbeCount:       probeCount,
		SourceAccuracy:   sourceAccuracy,
	}
}

// Saved returns a reading restored from the persisted offset slot.
func Saved(sourceID int, offsetMs int64) TimeReading {
	return TimeReading{Kind: KindSaved, SourceID: sourceID, OffsetMs: offsetMs}
}

// HasOffset reports whether the reading carries an offset (Fetched or Saved).
func (r TimeReading) HasOffset() bool { return r.Kind != KindEmpty }

func (r TimeReading) String() string {
	switch r.Kind {
	case KindFetched:
		return fmt.Sprintf("fetched{source=%d offset=%d acc=%d probes=%d src_acc=%.2f}",
			r.SourceID, r.OffsetMs, r.OffsetAccuracyMs, r.ProbeCount, r.SourceAccuracy)
	case KindSaved:
		return fmt.Sprintf("saved{source=%d offset=%d}", r.SourceID, r.OffsetMs)
	default:
		return "empty"
	}
}

// AccuracyLevel is a coarse confidence bucket. It is always derived from a
// reading with Level, never stored on its own.
type AccuracyLevel int

const (
	Bad AccuracyLevel = iota
	Good
	Perfect
)

func (l AccuracyLevel) String() string {
	switch l {
	case Bad:
		return "BAD"
	case Good:
		return "GOOD"
	case Perfect:
		return "PERFECT"
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// Grading thresholds for Fetched readings.
const (
	PerfectMinProbes   = 5
	PerfectMaxAccuracy = 10 // ms, exclusive
	GoodMinProbes      = 3
	GoodMaxAccuracy    = 50 // ms, exclusive
)

// Level grades a reading. Saved readings are trusted but never PERFECT.
func Level(r TimeReading) AccuracyLevel {
	switch r.Kind {
	case KindFetched:
		acc := r.OffsetAccuracyMs
		if acc < 0 {
			acc = -acc
		}
		switch {
		case r.ProbeCount >= PerfectMinProbes && acc < PerfectMaxAccuracy:
			return Perfect
		case r.ProbeCount >= GoodMinProbes && acc < GoodMaxAccuracy:
			return Good
		default:
			return Bad
		}
	case KindSaved:
		return Good
	default:
		return Bad
	}
}

// Priority ranks a reading for arbitration: level*100 + sourceID, and 0 for
// Empty. Among equal levels the higher source id wins.
func Priority(r TimeReading) int {
	if r.Kind == KindEmpty {
		return 0
	}
	return int(Level(r))*100 + r.SourceID
}

// PriorityLess reports whether a ranks strictly below b.
func PriorityLess(a, b TimeReading) bool {
	return Priority(a) < Priority(b)
}

// WithCorrection shifts a Fetched reading by a fixed calibration constant.
// Other variants are returned unchanged.
func (r TimeReading) WithCorrection(correctionMs int64) TimeReading {
	if r.Kind != KindFetched {
		return r
	}
	r.OffsetMs += correctionMs
	return r
}

// PersistedOffset is the single durable fallback slot. SavedAtMonotonic and
// WallMonotonicDelta are both in milliseconds of the clock that wrote them.
type PersistedOffset struct {
	OffsetMs           int64 `json:"offset_ms"`
	SavedAtMonotonic   int64 `json:"saved_at_monotonic_ms"`
	WallMonotonicDelta int64 `json:"wall_monotonic_delta_ms"`
}

// Validity limits for PersistedOffset.
const (
	PersistedMaxAgeMs      = 48 * 60 * 60 * 1000
	PersistedMaxDeltaDrift = 100
)

// ValidAt reports whether the slot can still be trusted given the current
// monotonic time and wall-monotonic delta. A moved delta means the device
// rebooted (monotonic reset) or the wall clock was changed.
func (p PersistedOffset) ValidAt(nowMonotonic, currentDelta int64) bool {
	if p.SavedAtMonotonic <= 0 {
		return false
	}
	age := nowMonotonic - p.SavedAtMonotonic
	if age < 0 || age >= PersistedMaxAgeMs {
		return false
	}
	return math.Abs(float64(currentDelta-p.WallMonotonicDelta)) <= PersistedMaxDeltaDrift
}

// PlaybackState is recomputed by the playback controller on every tick and
// handed to its observer. It is never persisted.
type PlaybackState struct {
	TargetPositionMs int64 `json:"target_position_ms"`
	ActualPositionMs int64 `json:"actual_position_ms"`
	DriftMs          int64 `json:"drift_ms"`
	IsSynchronizing  bool  `json:"is_synchronizing"`
	CorrectionBiasMs int64 `json:"correction_bias_ms"`
	Corrections      int64 `json:"corrections"`
}

// Status is the user-visible lifecycle of a playback session.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusPositioning Status = "positioning"
	StatusPlaying     Status = "playing"
)
