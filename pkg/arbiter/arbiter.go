// Package arbiter merges the readings of every offset source and selects
// the best one per round.
//
// Each input runs in its own goroutine and replaces its latest-value slot
// on every reading; a heartbeat keeps rounds going while no source has
// anything new. Rounds are serialized and paced: after a round the arbiter
// waits RoundInterval, and inputs that changed meanwhile are conflated.
//
// Only readings graded GOOD or better leave the arbiter. A selected PERFECT
// Fetched reading is persisted. StopAfter past the first PERFECT round the
// arbiter stops for good and the last emitted reading is final.
package arbiter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// Saver persists a trusted offset.
type Saver interface {
	Save(offsetMs int64) error
}

// Config tunes an Arbiter.
type Config struct {
	RoundInterval time.Duration // pause after every round
	Heartbeat     time.Duration // forced round period; 0 disables
	StopAfter     time.Duration // run time after the first PERFECT round
	Logger        zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		RoundInterval: time.Second,
		Heartbeat:     time.Second,
		StopAfter:     120 * time.Second,
		Logger:        zerolog.Nop(),
	}
}

func (c Config) Validate() error {
	if c.RoundInterval < 0 || c.Heartbeat < 0 {
		return fmt.Errorf("RoundInterval and Heartbeat must not be negative")
	}
	if c.StopAfter <= 0 {
		return fmt.Errorf("StopAfter required (must be > 0)")
	}
	return nil
}

type Arbiter struct {
	clock  clock.Clock
	saver  Saver
	cfg    Config
	log    zerolog.Logger
	inputs []Input
}

func New(c clock.Clock, saver Saver, cfg Config, inputs ...Input) (*Arbiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid arbiter config: %w", err)
	}
	return &Arbiter{
		clock:  c,
		saver:  saver,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "arbiter").Logger(),
		inputs: inputs,
	}, nil
}

// Run arbitrates until convergence or until ctx ends, calling emit with
// every accepted reading from the Run goroutine. It returns nil once
// converged and ctx.Err() when cancelled. Every input has stopped by the
// time Run returns.
func (a *Arbiter) Run(ctx context.Context, emit func(model.TimeReading)) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	slots := make([]atomic.Pointer[model.TimeReading], len(a.inputs))
	notify := make(chan struct{}, 1)
	poke := func() {
		select {
		case notify <- struct{}{}:
		default:
		}
	}

	g, gctx := errgroup.WithContext(runCtx)
	for i, in := range a.inputs {
		g.Go(func() error {
			for r := range in.Readings(gctx) {
				slots[i].Store(&r)
				poke()
			}
			return nil
		})
	}
	if a.cfg.Heartbeat > 0 {
		g.Go(func() error {
			for a.clock.Sleep(gctx, a.cfg.Heartbeat) == nil {
				poke()
			}
			return nil
		})
	}
	shutdown := func() {
		cancel()
		_ = g.Wait()
	}

	conv := NewConvergence(a.cfg.StopAfter)
	accepted := false
	for {
		select {
		case <-runCtx.Done():
			shutdown()
			return ctx.Err()
		case <-notify:
		}

		readings := make([]model.TimeReading, len(slots))
		for i := range slots {
			if r := slots[i].Load(); r != nil {
				readings[i] = *r
			}
		}
		best := Select(readings)
		level := model.Level(best)

		if conv.Observe(a.clock.Monotonic(), level) {
			a.log.Info().Stringer("reading", best).Msg("converged, arbitration finished")
			shutdown()
			return nil
		}
		a.log.Debug().Stringer("reading", best).Stringer("level", level).Msg("round")

		if level >= model.Good {
			if level == model.Perfect && best.Kind == model.KindFetched {
				if err := a.saver.Save(best.OffsetMs); err != nil {
					a.log.Warn().Err(err).Msg("persist offset")
				}
			}
			if !accepted {
				accepted = true
				a.log.Info().Stringer("reading", best).Msg("first offset accepted")
			}
			emit(best)
		}

		if err := a.clock.Sleep(runCtx, a.cfg.RoundInterval); err != nil {
			shutdown()
			return ctx.Err()
		}
	}
}

// Select returns the reading with the highest priority, Empty when there
// is none. Ties keep the earlier reading.
func Select(readings []model.TimeReading) model.TimeReading {
	best := model.Empty()
	for _, r := range readings {
		if model.PriorityLess(best, r) {
			best = r
		}
	}
	return best
}

// Convergence tracks the first PERFECT round and reports when arbitration
// should stop.
type Convergence struct {
	stopAfterMs  int64
	firstPerfect int64
	seen         bool
}

func NewConvergence(stopAfter time.Duration) *Convergence {
	return &Convergence{stopAfterMs: stopAfter.Milliseconds()}
}

// Observe records one round at monotonic time now and reports whether the
// run is over. The stop check runs before the round is recorded, so the
// round that first reaches PERFECT never stops the run.
func (c *Convergence) Observe(now int64, level model.AccuracyLevel) bool {
	if c.seen && now-c.firstPerfect > c.stopAfterMs {
		return true
	}
	if level == model.Perfect && !c.seen {
		c.firstPerfect, c.seen = now, true
	}
	return false
}

// Since returns when the first PERFECT round happened.
func (c *Convergence) Since() (int64, bool) { return c.firstPerfect, c.seen }
