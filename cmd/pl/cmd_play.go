package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/daviddao/phaselock/pkg/engine"
	"github.com/daviddao/phaselock/pkg/metrics"
	"github.com/daviddao/phaselock/pkg/playback"
	"github.com/daviddao/phaselock/pkg/probe"
	"github.com/daviddao/phaselock/pkg/session"
)

func (a *app) cmdPlay(args []string) int {
	flags := flag.NewFlagSet("play", flag.ContinueOnError)
	timeURL := flags.String("time-url", envOr("PHASELOCK_TIME_URL", ""), "echo time authority URL")
	ntpHost := flags.String("ntp-host", envOr("PHASELOCK_NTP_HOST", probe.DefaultNTPHost), `NTP server ("off" disables)`)
	source := flags.String("source", "loop", "audio source handed to the output")
	origin := flags.Int64("origin", playback.DefaultScheduleOriginMs, "schedule origin (Unix ms)")
	loop := flags.Int64("loop", playback.DefaultLoopDurationMs, "loop duration (ms)")
	minThreshold := flags.Int64("min-threshold", 10, "drift (ms) to leave synchronization")
	maxThreshold := flags.Int64("max-threshold", 30, "drift (ms) to enter synchronization")
	duration := flags.Duration("for", 0, "stop after this long (0 plays until ctrl-c)")
	metricsAddr := flags.String("metrics", "", "serve Prometheus metrics on this address")
	jsonOut := flags.Bool("json", false, "JSON output (one snapshot per line)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	inputs, err := a.buildInputs(sourceFlags{timeURL: *timeURL, ntpHost: *ntpHost})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pl: play: %v\n", err)
		return 1
	}
	engCfg := engine.DefaultConfig()
	engCfg.Logger = a.log
	eng, err := engine.New(a.clock, a.offsets, engCfg, inputs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pl: play: %v\n", err)
		return 1
	}

	cfg := session.DefaultConfig()
	cfg.Logger = a.log
	cfg.Playback.Source = *source
	cfg.Playback.ScheduleOriginMs = *origin
	cfg.Playback.LoopDurationMs = *loop
	cfg.Playback.MinThresholdMs = *minThreshold
	cfg.Playback.MaxThresholdMs = *maxThreshold
	newOutput := func() playback.Output { return playback.NewVirtualOutput(a.clock, *loop) }
	mgr, err := session.New(eng, a.clock, newOutput, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pl: play: %v\n", err)
		return 1
	}
	defer mgr.Close()

	if *metricsAddr != "" {
		stopMetrics := a.serveMetrics(*metricsAddr, eng, mgr)
		defer stopMetrics()
	}

	printer := newSnapshotPrinter(*jsonOut)
	id := mgr.Subscribe(printer.print)
	defer mgr.Unsubscribe(id)

	ctx, stop := signalContext(*duration)
	defer stop()
	if err := mgr.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "pl: play: %v\n", err)
		return 1
	}

	select {
	case <-mgr.Done():
	case <-ctx.Done():
	}
	mgr.Stop()

	if s := mgr.Snapshot(); s.Error {
		fmt.Fprintf(os.Stderr, "pl: play: %s\n", s.ErrorMessage)
		return 1
	}
	return 0
}

// serveMetrics exposes /metrics and /health and returns the shutdown func.
func (a *app) serveMetrics(addr string, eng *engine.Engine, mgr *session.Manager) func() {
	m := metrics.New()
	obs := eng.AddObserver(func(int64) { m.ObserveReading(eng.LastReading()) })
	sub := mgr.Subscribe(m.ObserveSession)

	r := mux.NewRouter()
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Warn().Err(err).Str("addr", addr).Msg("metrics server")
		}
	}()
	a.log.Info().Str("addr", addr).Msg("metrics listening")

	return func() {
		eng.RemoveObserver(obs)
		mgr.Unsubscribe(sub)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// snapshotPrinter prints a line when the session's visible state changes,
// or every snapshot as JSON.
type snapshotPrinter struct {
	json bool

	mu   sync.Mutex
	last string
}

func newSnapshotPrinter(jsonOut bool) *snapshotPrinter {
	return &snapshotPrinter{json: jsonOut}
}

func (p *snapshotPrinter) print(s session.Snapshot) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.json {
		printJSONLine(s)
		return
	}
	key := fmt.Sprintf("%s|%t|%t|%d|%d", s.Status, s.Error, s.HasOffset, s.OffsetMs, s.Corrections)
	if key == p.last {
		return
	}
	p.last = key
	fmt.Println(renderSnapshot(s))
}
