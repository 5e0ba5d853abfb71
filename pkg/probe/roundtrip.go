package probe

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// Querier performs one request/response exchange with a time authority and
// turns it into a sample. Quality must be the round-trip time in ms.
type Querier interface {
	Query(ctx context.Context) (model.RawSample, error)
}

// RoundtripConfig tunes a Roundtrip sampler.
type RoundtripConfig struct {
	Name           string
	Attempts       int           // concurrent queries per round
	Interval       time.Duration // wait before every round
	Jitter         time.Duration // random extra wait in [0, Jitter)
	StartDelay     time.Duration // wait before the first round
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

// DefaultRoundtripConfig returns the production tuning.
func DefaultRoundtripConfig(name string) RoundtripConfig {
	return RoundtripConfig{
		Name:           name,
		Attempts:       3,
		Interval:       time.Second,
		Jitter:         time.Second,
		RequestTimeout: 10 * time.Second,
		Logger:         zerolog.Nop(),
	}
}

// Validate checks the tuning.
func (c RoundtripConfig) Validate() error {
	if c.Attempts < 1 {
		return fmt.Errorf("Attempts must be >= 1, got %d", c.Attempts)
	}
	if c.Interval < 0 || c.Jitter < 0 || c.StartDelay < 0 {
		return fmt.Errorf("Interval, Jitter and StartDelay must not be negative")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("RequestTimeout required (must be > 0)")
	}
	return nil
}

// Roundtrip is the NTP-like sampler: every round it fires Attempts
// concurrent queries, drops the failures and emits the sample with the
// lowest round-trip time. A round without any success emits nothing.
type Roundtrip struct {
	cfg     RoundtripConfig
	querier Querier
	clock   clock.Clock
	log     zerolog.Logger

	rngMu sync.Mutex
	rng   *rand.Rand

	lc lifecycle
}

// NewRoundtrip returns a sampler that queries q.
func NewRoundtrip(q Querier, c clock.Clock, cfg RoundtripConfig) (*Roundtrip, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid %s probe config: %w", cfg.Name, err)
	}
	return &Roundtrip{
		cfg:     cfg,
		querier: q,
		clock:   c,
		log:     cfg.Logger.With().Str("probe", cfg.Name).Logger(),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

func (r *Roundtrip) Start(ctx context.Context) (<-chan model.RawSample, error) {
	return r.lc.start(ctx, r.loop)
}

func (r *Roundtrip) Stop() { r.lc.stop() }

func (r *Roundtrip) loop(ctx context.Context, out chan<- model.RawSample) {
	r.log.Debug().Msg("probe started")
	defer r.log.Debug().Msg("probe stopped")

	if err := r.clock.Sleep(ctx, r.cfg.StartDelay); err != nil {
		return
	}
	for {
		if err := r.clock.Sleep(ctx, r.cfg.Interval+r.jitter()); err != nil {
			return
		}
		s, ok := r.Round(ctx)
		if !ok {
			continue
		}
		if !send(ctx, out, s) {
			return
		}
	}
}

func (r *Roundtrip) jitter() time.Duration {
	if r.cfg.Jitter <= 0 {
		return 0
	}
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return time.Duration(r.rng.Int63n(int64(r.cfg.Jitter)))
}

// Round runs one fan-out of concurrent queries and returns the best sample.
// All queries are joined before Round returns, so cancelling ctx aborts
// every in-flight request.
func (r *Roundtrip) Round(ctx context.Context) (model.RawSample, bool) {
	results := make([]model.RawSample, r.cfg.Attempts)
	okays := make([]bool, r.cfg.Attempts)

	var g errgroup.Group
	for i := 0; i < r.cfg.Attempts; i++ {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
			defer cancel()
			s, err := r.querier.Query(qctx)
			if err != nil {
				r.log.Debug().Err(err).Int("attempt", i).Msg("query failed")
				return nil
			}
			results[i], okays[i] = s, true
			return nil
		})
	}
	_ = g.Wait()

	best, found := model.RawSample{}, false
	for i, s := range results {
		if !okays[i] {
			continue
		}
		if !found || s.Quality < best.Quality {
			best, found = s, true
		}
	}
	if found {
		r.log.Debug().Int64("offset_ms", best.OffsetMs).Float64("rtt_ms", best.Quality).Msg("round best")
	} else if ctx.Err() == nil {
		r.log.Debug().Msg("round produced no sample")
	}
	return best, found
}
