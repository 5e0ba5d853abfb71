package probe

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// Fix is one location update. TimeMs is the satellite time of the fix in
// Unix milliseconds; AccuracyM is the horizontal accuracy radius.
type Fix struct {
	TimeMs    int64
	AccuracyM float64
}

// LocationSource is the GPS transport. Ready reports whether the location
// permission has been granted; until then Subscribe is not attempted.
type LocationSource interface {
	Ready() bool
	Subscribe(onFix func(Fix)) (unsubscribe func(), err error)
}

// GPSConfig tunes a GPS sampler.
type GPSConfig struct {
	PollInterval time.Duration // readiness poll period
	Buffer       int           // fixes queued while the consumer is busy
	Logger       zerolog.Logger
}

// DefaultGPSConfig returns the production tuning.
func DefaultGPSConfig() GPSConfig {
	return GPSConfig{
		PollInterval: time.Second,
		Buffer:       16,
		Logger:       zerolog.Nop(),
	}
}

func (c GPSConfig) Validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("PollInterval required (must be > 0)")
	}
	if c.Buffer < 1 {
		return fmt.Errorf("Buffer must be >= 1, got %d", c.Buffer)
	}
	return nil
}

// GPS turns location fixes into samples with
// offset = fix time - monotonic now and Quality = accuracy radius.
type GPS struct {
	src   LocationSource
	clock clock.Clock
	cfg   GPSConfig
	log   zerolog.Logger

	lc lifecycle
}

func NewGPS(src LocationSource, c clock.Clock, cfg GPSConfig) (*GPS, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gps probe config: %w", err)
	}
	return &GPS{
		src:   src,
		clock: c,
		cfg:   cfg,
		log:   cfg.Logger.With().Str("probe", "gps").Logger(),
	}, nil
}

func (g *GPS) Start(ctx context.Context) (<-chan model.RawSample, error) {
	return g.lc.start(ctx, g.loop)
}

// Stop returns after the location listener has been deregistered.
func (g *GPS) Stop() { g.lc.stop() }

func (g *GPS) loop(ctx context.Context, out chan<- model.RawSample) {
	unsubscribe, fixes, ok := g.subscribe(ctx)
	if !ok {
		return
	}
	defer func() {
		unsubscribe()
		g.log.Debug().Msg("location listener removed")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case s := <-fixes:
			if !send(ctx, out, s) {
				return
			}
		}
	}
}

// subscribe waits for readiness, then registers the listener. A failed
// registration is retried on the next poll.
func (g *GPS) subscribe(ctx context.Context) (func(), <-chan model.RawSample, bool) {
	fixes := make(chan model.RawSample, g.cfg.Buffer)
	onFix := func(f Fix) {
		s := model.RawSample{
			OffsetMs: f.TimeMs - g.clock.Monotonic(),
			Quality:  f.AccuracyM,
		}
		select {
		case fixes <- s:
		default:
			g.log.Debug().Msg("fix dropped: consumer busy")
		}
	}

	for {
		if g.src.Ready() {
			unsubscribe, err := g.src.Subscribe(onFix)
			if err == nil {
				g.log.Debug().Msg("location listener registered")
				return unsubscribe, fixes, true
			}
			g.log.Debug().Err(err).Msg("subscribe failed")
		}
		if err := g.clock.Sleep(ctx, g.cfg.PollInterval); err != nil {
			return nil, nil, false
		}
	}
}
