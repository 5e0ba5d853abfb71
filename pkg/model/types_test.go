package model

import "testing"

func TestLevel_Thresholds(t *testing.T) {
	cases := []struct {
		name   string
		r      TimeReading
		expect AccuracyLevel
	}{
		{"empty", Empty(), Bad},
		{"saved", Saved(3, 1234), Good},
		{"perfect", Fetched(1, 0, 8, 5, 10), Perfect},
		{"probe count boundary", Fetched(1, 0, 8, 4, 10), Good},
		{"accuracy boundary", Fetched(1, 0, 12, 5, 10), Good},
		{"accuracy exactly 10", Fetched(1, 0, 10, 9, 10), Good},
		{"negative accuracy uses magnitude", Fetched(1, 0, -8, 5, 10), Perfect},
		{"good lower bound", Fetched(1, 0, 49, 3, 10), Good},
		{"too few probes", Fetched(1, 0, 1, 2, 10), Bad},
		{"too inaccurate", Fetched(1, 0, 50, 10, 10), Bad},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Level(tc.r); got != tc.expect {
				t.Fatalf("Level(%v) = %v, want %v", tc.r, got, tc.expect)
			}
		})
	}
}

func TestPriority_EmptyIsZero(t *testing.T) {
	if p := Priority(Empty()); p != 0 {
		t.Fatalf("Priority(empty) = %d, want 0", p)
	}
}

func TestPriority_HigherSourceWinsOnEqualLevel(t *testing.T) {
	gps := Fetched(0, 100, 20, 4, 3)
	ntp := Fetched(1, 200, 20, 4, 30)
	if !PriorityLess(gps, ntp) {
		t.Fatalf("expected GPS(id=0,GOOD) < NTP(id=1,GOOD): %d vs %d", Priority(gps), Priority(ntp))
	}
}

func TestPriority_LevelDominatesSourceID(t *testing.T) {
	perfectGPS := Fetched(0, 100, 2, 8, 3)
	saved := Saved(3, 50)
	if !PriorityLess(saved, perfectGPS) {
		t.Fatalf("PERFECT id=0 should outrank GOOD id=3: %d vs %d", Priority(perfectGPS), Priority(saved))
	}
	if Priority(saved) != 103 {
		t.Fatalf("Priority(saved id=3) = %d, want 103", Priority(saved))
	}
}

func TestWithCorrection_OnlyFetched(t *testing.T) {
	f := Fetched(0, 100, 2, 8, 3).WithCorrection(20)
	if f.OffsetMs != 120 {
		t.Fatalf("corrected fetched offset = %d, want 120", f.OffsetMs)
	}
	s := Saved(3, 100).WithCorrection(20)
	if s.OffsetMs != 100 {
		t.Fatalf("saved reading must not be corrected, got %d", s.OffsetMs)
	}
	if e := Empty().WithCorrection(20); e.HasOffset() {
		t.Fatal("empty reading must stay empty")
	}
}

func TestPersistedOffset_ValidAt(t *testing.T) {
	const hour = int64(60 * 60 * 1000)
	base := int64(500 * hour)
	p := PersistedOffset{OffsetMs: 42, SavedAtMonotonic: base, WallMonotonicDelta: 1_000_000}

	cases := []struct {
		name   string
		now    int64
		delta  int64
		expect bool
	}{
		{"fresh", base + hour, 1_000_000, true},
		{"delta within 100ms", base + hour, 1_000_100, true},
		{"delta within -100ms", base + hour, 999_900, true},
		{"rebooted: delta moved", base + hour, 1_000_101, false},
		{"49 hours old", base + 49*hour, 1_000_000, false},
		{"exactly 48 hours", base + 48*hour, 1_000_000, false},
		{"monotonic went backwards", base - 1, 1_000_000, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := p.ValidAt(tc.now, tc.delta); got != tc.expect {
				t.Fatalf("ValidAt(%d, %d) = %v, want %v", tc.now, tc.delta, got, tc.expect)
			}
		})
	}
}

func TestPersistedOffset_ZeroSlotInvalid(t *testing.T) {
	var p PersistedOffset
	if p.ValidAt(1000, 0) {
		t.Fatal("never-written slot must be invalid")
	}
}

func TestReadingString(t *testing.T) {
	if s := Empty().String(); s != "empty" {
		t.Fatalf("Empty().String() = %q", s)
	}
	if s := Saved(3, 7).String(); s != "saved{source=3 offset=7}" {
		t.Fatalf("Saved.String() = %q", s)
	}
}
