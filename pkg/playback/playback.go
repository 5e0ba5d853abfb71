// Package playback keeps a looping audio output in phase with the shared
// virtual clock.
//
// The play position every device should be at is
//
//	(monotonic now + offset - ScheduleOriginMs) mod LoopDurationMs
//
// The controller compares it with the output's actual position once per
// tick and seeks when the drift leaves the hysteresis band: it enters
// synchronization past MaxThresholdMs and only leaves once the drift is
// within MinThresholdMs.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// ErrSeekFailed wraps an output seek failure. It ends the controller.
var ErrSeekFailed = errors.New("playback: seek failed")

// Output is the audio output engine.
type Output interface {
	Prepare(path string) error
	CurrentPositionMs() int64
	// SeekTo returns once the seek has completed or ctx ended.
	SeekTo(ctx context.Context, positionMs int64) error
	SetVolume(left, right float32)
	Start() error
	Stop() error
	Release() error
}

// Default schedule of the shared loop.
const (
	DefaultScheduleOriginMs = 1612384206341
	DefaultLoopDurationMs   = 296250
)

// Config tunes a Controller.
type Config struct {
	Source              string // passed to Output.Prepare
	ScheduleOriginMs    int64
	LoopDurationMs      int64
	MinThresholdMs      int64 // drift bound to leave synchronization
	MaxThresholdMs      int64 // drift bound to enter synchronization
	TickInterval        time.Duration
	SettleDelay         time.Duration // wait after a seek before measuring
	MaxCorrectionBiasMs int64         // bias magnitude that resets it to 0
	Logger              zerolog.Logger
}

func DefaultConfig() Config {
	return Config{
		ScheduleOriginMs:    DefaultScheduleOriginMs,
		LoopDurationMs:      DefaultLoopDurationMs,
		MinThresholdMs:      10,
		MaxThresholdMs:      30,
		TickInterval:        time.Second,
		SettleDelay:         time.Second,
		MaxCorrectionBiasMs: 1000,
		Logger:              zerolog.Nop(),
	}
}

func (c Config) Validate() error {
	if c.LoopDurationMs <= 0 {
		return fmt.Errorf("LoopDurationMs required (must be > 0)")
	}
	if c.MinThresholdMs < 0 || c.MinThresholdMs >= c.MaxThresholdMs {
		return fmt.Errorf("need 0 <= MinThresholdMs < MaxThresholdMs, got %d and %d", c.MinThresholdMs, c.MaxThresholdMs)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("TickInterval required (must be > 0)")
	}
	if c.SettleDelay < 0 {
		return fmt.Errorf("SettleDelay must not be negative")
	}
	if c.MaxCorrectionBiasMs <= 0 {
		return fmt.Errorf("MaxCorrectionBiasMs required (must be > 0)")
	}
	return nil
}

// Controller drives one Output. Run it once; SetOffset may be called from
// any goroutine at any time.
type Controller struct {
	out   Output
	clock clock.Clock
	cfg   Config
	log   zerolog.Logger

	offset atomic.Int64

	mu      sync.Mutex
	onState func(model.PlaybackState)
}

func New(out Output, c clock.Clock, cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid playback config: %w", err)
	}
	return &Controller{
		out:   out,
		clock: c,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "playback").Logger(),
	}, nil
}

// SetOffset replaces the clock offset used for the target position.
func (c *Controller) SetOffset(offsetMs int64) { c.offset.Store(offsetMs) }

func (c *Controller) Offset() int64 { return c.offset.Load() }

// OnState registers the per-tick observer. It runs on the Run goroutine.
func (c *Controller) OnState(fn func(model.PlaybackState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Target is the position the output should be at right now.
func (c *Controller) Target() int64 {
	return c.TargetAt(c.clock.Monotonic(), c.offset.Load())
}

// TargetAt is Target for an explicit monotonic time and offset.
func (c *Controller) TargetAt(monotonicNow, offsetMs int64) int64 {
	return clock.ElapsedMod(monotonicNow, offsetMs, c.cfg.ScheduleOriginMs, c.cfg.LoopDurationMs)
}

// Run prepares and starts the output, then corrects drift once per tick
// until ctx ends. The output is muted, stopped and released before Run
// returns. Cancellation returns ctx.Err(); an output failure returns the
// wrapped error.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.out.Prepare(c.cfg.Source); err != nil {
		c.release()
		return fmt.Errorf("prepare %q: %w", c.cfg.Source, err)
	}
	defer func() {
		c.out.SetVolume(0, 0)
		if stopErr := c.out.Stop(); stopErr != nil {
			c.log.Warn().Err(stopErr).Msg("stop output")
		}
		c.release()
	}()

	c.out.SetVolume(0, 0)
	if err := c.out.Start(); err != nil {
		return fmt.Errorf("start output: %w", err)
	}
	c.log.Info().Str("source", c.cfg.Source).Int64("offset_ms", c.Offset()).Msg("playback started")

	var (
		syncing     = true
		bias        int64
		corrections int64
	)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		target := c.Target()
		actual := c.out.CurrentPositionMs()
		drift := target - actual
		c.report(model.PlaybackState{
			TargetPositionMs: target,
			ActualPositionMs: actual,
			DriftMs:          drift,
			IsSynchronizing:  syncing,
			CorrectionBiasMs: bias,
			Corrections:      corrections,
		})

		if abs(drift) > c.cfg.MaxThresholdMs || (syncing && abs(drift) > c.cfg.MinThresholdMs) {
			syncing = true
			c.out.SetVolume(0, 0)

			seekTo := max(c.Target()+bias, 0)
			c.log.Info().Int64("drift_ms", drift).Int64("seek_to_ms", seekTo).Int64("bias_ms", bias).Msg("correcting drift")
			if err := c.out.SeekTo(ctx, seekTo); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("%w: %w", ErrSeekFailed, err)
			}
			corrections++

			if err := c.clock.Sleep(ctx, c.cfg.SettleDelay); err != nil {
				return err
			}
			bias += c.Target() - c.out.CurrentPositionMs()
			if abs(bias) > c.cfg.MaxCorrectionBiasMs {
				c.log.Warn().Int64("bias_ms", bias).Msg("correction bias ran away, reset")
				bias = 0
			}
			continue
		}

		if syncing {
			c.log.Info().Int64("drift_ms", drift).Msg("in sync")
		}
		syncing = false
		c.out.SetVolume(1, 1)
		if err := c.clock.Sleep(ctx, c.cfg.TickInterval); err != nil {
			return err
		}
	}
}

func (c *Controller) report(s model.PlaybackState) {
	c.log.Debug().
		Int64("target_ms", s.TargetPositionMs).
		Int64("actual_ms", s.ActualPositionMs).
		Int64("drift_ms", s.DriftMs).
		Bool("synchronizing", s.IsSynchronizing).
		Msg("tick")
	c.mu.Lock()
	fn := c.onState
	c.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (c *Controller) release() {
	if err := c.out.Release(); err != nil {
		c.log.Warn().Err(err).Msg("release output")
	}
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
