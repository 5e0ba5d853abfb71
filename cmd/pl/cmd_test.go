package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/engine"
	"github.com/daviddao/phaselock/pkg/model"
	"github.com/daviddao/phaselock/pkg/persist"
	"github.com/daviddao/phaselock/pkg/session"
	"github.com/daviddao/phaselock/pkg/store"
)

// --- envOr tests ---

func TestEnvOr_EnvSet(t *testing.T) {
	t.Setenv("TEST_PL_ENV", "hello")
	if got := envOr("TEST_PL_ENV", "default"); got != "hello" {
		t.Fatalf("envOr with set env: got %q, want %q", got, "hello")
	}
}

func TestEnvOr_EnvUnset(t *testing.T) {
	if got := envOr("TEST_PL_UNSET_KEY_XYZ", "fallback"); got != "fallback" {
		t.Fatalf("envOr with unset env: got %q, want %q", got, "fallback")
	}
}

func TestEnvOr_EmptyEnv(t *testing.T) {
	t.Setenv("TEST_PL_EMPTY", "")
	if got := envOr("TEST_PL_EMPTY", "default"); got != "default" {
		t.Fatalf("envOr with empty env: got %q, want %q", got, "default")
	}
}

// --- logger tests ---

func TestNewLogger_Levels(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := newLogger(io.Discard, in).GetLevel(); got != want {
			t.Fatalf("newLogger(%q) level = %v, want %v", in, got, want)
		}
	}
}

func TestNewLogger_WritesConsoleLines(t *testing.T) {
	var buf bytes.Buffer
	log := newLogger(&buf, "info")
	log.Debug().Msg("hidden")
	log.Info().Int64("offset_ms", 42).Msg("visible")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug line leaked at info level: %q", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "offset_ms=42") {
		t.Fatalf("unexpected log output: %q", out)
	}
}

// --- app helpers ---

func newTestApp(t *testing.T, c clock.Clock) *app {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.New(dbPath)
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return &app{store: s, offsets: persist.New(s, c), clock: c, log: zerolog.Nop()}
}

func TestSourceFlags_NTPEnabled(t *testing.T) {
	cases := map[string]bool{"": false, "off": false, "pool.ntp.org": true}
	for host, want := range cases {
		if got := (sourceFlags{ntpHost: host}).ntpEnabled(); got != want {
			t.Fatalf("ntpEnabled(%q) = %v, want %v", host, got, want)
		}
	}
}

func TestBuildInputs(t *testing.T) {
	a := newTestApp(t, clock.NewFake(0, 0))
	cases := []struct {
		name string
		sf   sourceFlags
		want int
	}{
		{"cache only", sourceFlags{ntpHost: "off"}, 1},
		{"ntp", sourceFlags{ntpHost: "time.example"}, 2},
		{"echo", sourceFlags{timeURL: "http://127.0.0.1:8123/time"}, 2},
		{"all", sourceFlags{ntpHost: "time.example", timeURL: "http://127.0.0.1:8123/time"}, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			inputs, err := a.buildInputs(tc.sf)
			if err != nil {
				t.Fatalf("buildInputs: %v", err)
			}
			if len(inputs) != tc.want {
				t.Fatalf("got %d inputs, want %d", len(inputs), tc.want)
			}
		})
	}
}

// --- sync ---

func TestRunSync_ReportsCachedOffset(t *testing.T) {
	fake := clock.NewFake(10_000, 1_700_000_000_000)
	a := newTestApp(t, fake)
	if err := a.offsets.Save(5555); err != nil {
		t.Fatalf("Save: %v", err)
	}
	inputs, err := a.buildInputs(sourceFlags{})
	if err != nil {
		t.Fatalf("buildInputs: %v", err)
	}
	eng, err := engine.New(fake, a.offsets, engine.DefaultConfig(), inputs...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	var seen []model.TimeReading
	res, err := runSync(ctx, eng, func(r model.TimeReading) { seen = append(seen, r) })
	if err != nil {
		t.Fatalf("runSync: %v", err)
	}
	if res.Converged {
		t.Fatal("a cached offset alone never converges")
	}
	if res.Reading != model.Saved(3, 5555) || res.Level != "GOOD" {
		t.Fatalf("unexpected result %+v", res)
	}
	if len(seen) == 0 {
		t.Fatal("no reading reported")
	}
}

func TestRunSync_NoOffset(t *testing.T) {
	fake := clock.NewFake(10_000, 1_700_000_000_000)
	a := newTestApp(t, fake)
	inputs, _ := a.buildInputs(sourceFlags{})
	eng, err := engine.New(fake, a.offsets, engine.DefaultConfig(), inputs...)
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := runSync(ctx, eng, func(model.TimeReading) {}); err == nil {
		t.Fatal("expected an error without any offset")
	}
}

// --- status / forget ---

func TestStatus_NoSlot(t *testing.T) {
	a := newTestApp(t, clock.NewFake(1000, 1000))
	out := captureStdout(t, func() {
		if code := a.cmdStatus(nil); code != 0 {
			t.Fatalf("exit code %d", code)
		}
	})
	if !strings.Contains(out, "no persisted offset") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestStatus_JSON(t *testing.T) {
	fake := clock.NewFake(10_000, 1_700_000_000_000)
	a := newTestApp(t, fake)
	if err := a.offsets.Save(-1234); err != nil {
		t.Fatalf("Save: %v", err)
	}
	fake.Advance(time.Hour)

	out := captureStdout(t, func() { a.cmdStatus([]string{"--json"}) })
	var st offsetStatus
	if err := json.Unmarshal([]byte(out), &st); err != nil {
		t.Fatalf("unmarshal %q: %v", out, err)
	}
	if !st.Present || !st.Valid || st.Rebooted {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Slot.OffsetMs != -1234 || st.AgeMs != time.Hour.Milliseconds() {
		t.Fatalf("unexpected slot %+v age=%d", st.Slot, st.AgeMs)
	}
	if st.SavedAt.UnixMilli() != 1_700_000_000_000 {
		t.Fatalf("saved_at = %v", st.SavedAt)
	}
}

func TestStatus_DetectsReboot(t *testing.T) {
	fake := clock.NewFake(10_000_000, 1_700_000_000_000)
	a := newTestApp(t, fake)
	if err := a.offsets.Save(7); err != nil {
		t.Fatalf("Save: %v", err)
	}
	fake.Reboot(10_000_000 + 5_000)
	fake.Advance(time.Minute)

	st := a.offsetStatus()
	if st.Valid || !st.Rebooted {
		t.Fatalf("reboot not detected: %+v", st)
	}
	out := captureStdout(t, func() { a.cmdStatus(nil) })
	if !strings.Contains(out, "invalid") {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestForget(t *testing.T) {
	fake := clock.NewFake(10_000, 1_700_000_000_000)
	a := newTestApp(t, fake)
	if err := a.offsets.Save(99); err != nil {
		t.Fatalf("Save: %v", err)
	}
	captureStdout(t, func() {
		if code := a.cmdForget(nil); code != 0 {
			t.Fatalf("exit code %d", code)
		}
	})
	if _, ok := a.offsets.Peek(); ok {
		t.Fatal("slot still present after forget")
	}
}

// --- rendering ---

func TestRenderReading(t *testing.T) {
	out := renderReading(model.Fetched(2, 1_234_567, 4, 6, 12))
	for _, want := range []string{"1,234,567", "PERFECT", "echo", "±4 ms from 6 probes"} {
		if !strings.Contains(out, want) {
			t.Fatalf("renderReading missing %q: %q", want, out)
		}
	}
	if out := renderReading(model.Saved(3, 5)); !strings.Contains(out, "cache") || strings.Contains(out, "probes") {
		t.Fatalf("renderReading(saved) = %q", out)
	}
	if out := renderReading(model.Empty()); !strings.Contains(out, "no offset") {
		t.Fatalf("renderReading(empty) = %q", out)
	}
}

func TestRenderSnapshot(t *testing.T) {
	out := renderSnapshot(session.Snapshot{
		Status: model.StatusPlaying, HasOffset: true, OffsetMs: 1000,
		PositionMs: 123456, DriftMs: -3, PlaybackShiftMs: 25,
	})
	for _, want := range []string{"playing", "1,000", "2:03.456", "-3 ms", "+25 ms"} {
		if !strings.Contains(out, want) {
			t.Fatalf("renderSnapshot missing %q: %q", want, out)
		}
	}
	out = renderSnapshot(session.Snapshot{Status: model.StatusIdle, Error: true, ErrorMessage: "seek failed"})
	if !strings.Contains(out, "error") || !strings.Contains(out, "seek failed") {
		t.Fatalf("renderSnapshot(error) = %q", out)
	}
}

func TestFormatPosition(t *testing.T) {
	cases := map[int64]string{0: "0:00.000", 61_001: "1:01.001", 296_249: "4:56.249", -5: "0:00.000"}
	for in, want := range cases {
		if got := formatPosition(in); got != want {
			t.Fatalf("formatPosition(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestSnapshotPrinter_OnlyOnChange(t *testing.T) {
	p := newSnapshotPrinter(false)
	out := captureStdout(t, func() {
		s := session.Snapshot{Status: model.StatusPositioning}
		p.print(s)
		s.DriftMs = 5
		p.print(s)
		s.Status = model.StatusPlaying
		p.print(s)
	})
	if n := strings.Count(out, "\n"); n != 2 {
		t.Fatalf("printed %d lines, want 2: %q", n, out)
	}
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	fn()

	w.Close()
	os.Stdout = old
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}
