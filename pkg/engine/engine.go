// Package engine owns the offset sources and republishes the arbitrated
// offset to registered observers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/phaselock/pkg/arbiter"
	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// ErrStopped is returned by EnsureOffset when the engine is not running
// and no offset is known.
var ErrStopped = errors.New("engine: stopped before an offset was known")

// Config tunes an Engine.
type Config struct {
	Arbiter arbiter.Config
	Logger  zerolog.Logger
}

func DefaultConfig() Config {
	return Config{Arbiter: arbiter.DefaultConfig(), Logger: zerolog.Nop()}
}

// Engine runs one arbitration at a time. The offset it publishes survives
// Stop and restarts; only the stream of updates ends.
type Engine struct {
	clock  clock.Clock
	saver  arbiter.Saver
	cfg    Config
	inputs []arbiter.Input
	log    zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	converged atomic.Bool

	latest      atomic.Pointer[model.TimeReading]
	first       chan struct{} // closed once firstOffset is set
	firstOnce   sync.Once
	firstOffset int64

	obsMu     sync.Mutex
	observers map[uuid.UUID]func(int64)
}

// New returns a stopped engine over inputs.
func New(c clock.Clock, saver arbiter.Saver, cfg Config, inputs ...arbiter.Input) (*Engine, error) {
	if err := cfg.Arbiter.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if cfg.Arbiter.Logger.GetLevel() == zerolog.Disabled {
		cfg.Arbiter.Logger = cfg.Logger
	}
	done := make(chan struct{})
	close(done)
	return &Engine{
		clock:     c,
		saver:     saver,
		cfg:       cfg,
		inputs:    inputs,
		log:       cfg.Logger.With().Str("component", "engine").Logger(),
		done:      done,
		first:     make(chan struct{}),
		observers: make(map[uuid.UUID]func(int64)),
	}, nil
}

// Start launches every source. It does nothing while a run is in progress
// and returns without waiting for the first offset.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	select {
	case <-e.done:
	default:
		return nil
	}

	a, err := arbiter.New(e.clock, e.saver, e.cfg.Arbiter, e.inputs...)
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	e.cancel, e.done = cancel, done
	e.converged.Store(false)

	e.log.Info().Int("sources", len(e.inputs)).Msg("sync started")
	go func() {
		defer close(done)
		defer cancel()
		err := a.Run(runCtx, e.publish)
		switch {
		case err == nil:
			e.converged.Store(true)
			e.log.Info().Msg("sync converged")
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			e.log.Info().Msg("sync stopped")
		default:
			e.log.Error().Err(err).Msg("sync failed")
		}
	}()
	return nil
}

// Stop cancels every source and returns once they have been released.
// Safe to call when the engine never started.
func (e *Engine) Stop() {
	e.mu.Lock()
	cancel, done := e.cancel, e.done
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
}

// Done is closed when the current run ends. It is already closed while the
// engine is stopped.
func (e *Engine) Done() <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.done
}

// Running reports whether a run is in progress.
func (e *Engine) Running() bool {
	select {
	case <-e.Done():
		return false
	default:
		return true
	}
}

// Converged reports whether the last run ended by convergence.
func (e *Engine) Converged() bool { return e.converged.Load() }

// Offset returns the latest accepted offset.
func (e *Engine) Offset() (int64, bool) {
	r := e.latest.Load()
	if r == nil {
		return 0, false
	}
	return r.OffsetMs, true
}

// LastReading returns the latest accepted reading, Empty before the first.
func (e *Engine) LastReading() model.TimeReading {
	if r := e.latest.Load(); r != nil {
		return *r
	}
	return model.Empty()
}

// EnsureOffset returns the first accepted offset, waiting for it if none
// has been accepted yet. Once known it is returned at once, even while the
// engine is stopped; Offset reports the latest one. Start must have been
// called; a run that ends without an offset yields ErrStopped.
func (e *Engine) EnsureOffset(ctx context.Context) (int64, error) {
	select {
	case <-e.first:
		return e.firstOffset, nil
	default:
	}
	select {
	case <-e.first:
		return e.firstOffset, nil
	case <-e.Done():
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case <-e.first:
		return e.firstOffset, nil
	default:
		return 0, ErrStopped
	}
}

// AddObserver registers fn for every accepted offset. fn runs on the
// arbitration goroutine and must not block.
func (e *Engine) AddObserver(fn func(offsetMs int64)) uuid.UUID {
	id := uuid.New()
	e.obsMu.Lock()
	e.observers[id] = fn
	e.obsMu.Unlock()
	return id
}

func (e *Engine) RemoveObserver(id uuid.UUID) {
	e.obsMu.Lock()
	delete(e.observers, id)
	e.obsMu.Unlock()
}

func (e *Engine) publish(r model.TimeReading) {
	e.latest.Store(&r)
	e.firstOnce.Do(func() {
		e.firstOffset = r.OffsetMs
		close(e.first)
	})

	e.obsMu.Lock()
	fns := make([]func(int64), 0, len(e.observers))
	for _, fn := range e.observers {
		fns = append(fns, fn)
	}
	e.obsMu.Unlock()

	for _, fn := range fns {
		fn(r.OffsetMs)
	}
}
