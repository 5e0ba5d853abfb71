package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/daviddao/phaselock/pkg/engine"
	"github.com/daviddao/phaselock/pkg/model"
	"github.com/daviddao/phaselock/pkg/probe"
)

// syncResult is the --json output of sync.
type syncResult struct {
	Converged bool              `json:"converged"`
	HasOffset bool              `json:"has_offset"`
	Reading   model.TimeReading `json:"reading"`
	Level     string            `json:"level"`
}

func (a *app) cmdSync(args []string) int {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	timeURL := flags.String("time-url", envOr("PHASELOCK_TIME_URL", ""), "echo time authority URL")
	ntpHost := flags.String("ntp-host", envOr("PHASELOCK_NTP_HOST", probe.DefaultNTPHost), `NTP server ("off" disables)`)
	timeout := flags.Duration("timeout", 3*time.Minute, "give up after this long")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	inputs, err := a.buildInputs(sourceFlags{timeURL: *timeURL, ntpHost: *ntpHost})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pl: sync: %v\n", err)
		return 1
	}
	cfg := engine.DefaultConfig()
	cfg.Logger = a.log
	eng, err := engine.New(a.clock, a.offsets, cfg, inputs...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pl: sync: %v\n", err)
		return 1
	}

	ctx, stop := signalContext(*timeout)
	defer stop()
	res, err := runSync(ctx, eng, func(r model.TimeReading) {
		if !*jsonOut {
			fmt.Println(renderReading(r))
		}
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "pl: sync: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(res)
	} else if res.Converged {
		fmt.Println(perfectStyle.Render("converged"))
	} else {
		fmt.Println(badStyle.Render("stopped before convergence"))
	}
	return 0
}

// runSync runs eng until it converges or ctx ends, reporting every
// accepted reading. It fails only when no offset was found at all.
func runSync(ctx context.Context, eng *engine.Engine, onReading func(model.TimeReading)) (syncResult, error) {
	id := eng.AddObserver(func(int64) { onReading(eng.LastReading()) })
	defer eng.RemoveObserver(id)

	if err := eng.Start(ctx); err != nil {
		return syncResult{}, err
	}
	select {
	case <-eng.Done():
	case <-ctx.Done():
	}
	eng.Stop()

	r := eng.LastReading()
	res := syncResult{
		Converged: eng.Converged(),
		HasOffset: r.HasOffset(),
		Reading:   r,
		Level:     model.Level(r).String(),
	}
	if !res.HasOffset {
		return res, fmt.Errorf("no offset found")
	}
	return res, nil
}
