// Package session runs one playback session at a time on top of the clock
// sync engine and publishes its user-visible state.
//
// A session refreshes the offset, waits for the first one, then plays. It
// reports POSITIONING while waiting or correcting drift and PLAYING once
// in sync. When a session ends on its own the status goes back to IDLE
// with the error flag set; a stopped session is never an error.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
	"github.com/daviddao/phaselock/pkg/playback"
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("session: manager closed")

// Syncer is the clock sync engine as seen by a session.
type Syncer interface {
	Start(ctx context.Context) error
	Stop()
	EnsureOffset(ctx context.Context) (int64, error)
	AddObserver(fn func(offsetMs int64)) uuid.UUID
	RemoveObserver(id uuid.UUID)
}

// Snapshot is the published state of the manager.
type Snapshot struct {
	Status          model.Status `json:"status"`
	Error           bool         `json:"error"`
	ErrorMessage    string       `json:"error_message,omitempty"`
	HasOffset       bool         `json:"has_offset"`
	OffsetMs        int64        `json:"offset_ms"`
	PlaybackShiftMs int64        `json:"playback_shift_ms"`
	PositionMs      int64        `json:"position_ms"`
	DriftMs         int64        `json:"drift_ms"`
	IsSynchronizing bool         `json:"is_synchronizing"`
	Corrections     int64        `json:"corrections"`
}

// Config tunes a Manager.
type Config struct {
	Playback playback.Config
	Logger   zerolog.Logger
}

func DefaultConfig() Config {
	return Config{Playback: playback.DefaultConfig(), Logger: zerolog.Nop()}
}

type Manager struct {
	syncer    Syncer
	clock     clock.Clock
	newOutput func() playback.Output
	cfg       Config
	log       zerolog.Logger

	base       context.Context
	closeBase  context.CancelFunc
	closed     atomic.Bool
	mu         sync.Mutex
	cancel     context.CancelFunc
	done       chan struct{}
	snapMu     sync.Mutex
	snap       atomic.Pointer[Snapshot]
	subMu      sync.Mutex
	subscriber map[uuid.UUID]func(Snapshot)
}

// New returns an idle manager. newOutput is called once per session.
func New(s Syncer, c clock.Clock, newOutput func() playback.Output, cfg Config) (*Manager, error) {
	if err := cfg.Playback.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}
	if cfg.Playback.Logger.GetLevel() == zerolog.Disabled {
		cfg.Playback.Logger = cfg.Logger
	}
	base, closeBase := context.WithCancel(context.Background())
	done := make(chan struct{})
	close(done)
	m := &Manager{
		syncer:     s,
		clock:      c,
		newOutput:  newOutput,
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "session").Logger(),
		base:       base,
		closeBase:  closeBase,
		done:       done,
		subscriber: make(map[uuid.UUID]func(Snapshot)),
	}
	m.snap.Store(&Snapshot{Status: model.StatusIdle})
	return m, nil
}

// Start begins a session unless one is running. The sync engine is
// restarted so the offset is refreshed even when one is already known.
func (m *Manager) Start() error {
	if m.closed.Load() {
		return ErrClosed
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	select {
	case <-m.done:
	default:
		return nil
	}

	ctx, cancel := context.WithCancel(m.base)
	done := make(chan struct{})
	m.cancel, m.done = cancel, done

	m.update(func(s *Snapshot) {
		s.Status = model.StatusPositioning
		s.Error, s.ErrorMessage = false, ""
		s.PlaybackShiftMs, s.Corrections = 0, 0
	})

	m.syncer.Stop()
	if err := m.syncer.Start(m.base); err != nil {
		cancel()
		close(done)
		m.fail(err)
		return fmt.Errorf("start sync: %w", err)
	}

	go func() {
		defer close(done)
		defer cancel()
		m.finish(m.run(ctx))
	}()
	return nil
}

// Stop ends the running session and returns once the output is released.
// The sync engine keeps running.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel, done := m.cancel, m.done
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	<-done
}

// Close stops the session and the sync engine. The manager cannot be
// restarted afterwards.
func (m *Manager) Close() {
	m.closed.Store(true)
	m.Stop()
	m.syncer.Stop()
	m.closeBase()
}

// Done is closed when the current session ends.
func (m *Manager) Done() <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.done
}

func (m *Manager) Snapshot() Snapshot { return *m.snap.Load() }

// Subscribe registers fn for every published snapshot. fn may run on any
// session goroutine and must not call Stop or Close.
func (m *Manager) Subscribe(fn func(Snapshot)) uuid.UUID {
	id := uuid.New()
	m.subMu.Lock()
	m.subscriber[id] = fn
	m.subMu.Unlock()
	return id
}

func (m *Manager) Unsubscribe(id uuid.UUID) {
	m.subMu.Lock()
	delete(m.subscriber, id)
	m.subMu.Unlock()
}

func (m *Manager) run(ctx context.Context) error {
	offset, err := m.syncer.EnsureOffset(ctx)
	if err != nil {
		return fmt.Errorf("wait for offset: %w", err)
	}
	m.log.Info().Int64("offset_ms", offset).Msg("offset known, starting playback")

	ctl, err := playback.New(m.newOutput(), m.clock, m.cfg.Playback)
	if err != nil {
		return err
	}
	ctl.SetOffset(offset)
	m.update(func(s *Snapshot) {
		s.HasOffset, s.OffsetMs = true, offset
	})

	id := m.syncer.AddObserver(func(off int64) {
		ctl.SetOffset(off)
		m.update(func(s *Snapshot) {
			s.HasOffset, s.OffsetMs = true, off
			s.PlaybackShiftMs = off - offset
		})
	})
	defer m.syncer.RemoveObserver(id)

	ctl.OnState(func(ps model.PlaybackState) {
		m.update(func(s *Snapshot) {
			s.Status = model.StatusPlaying
			if ps.IsSynchronizing {
				s.Status = model.StatusPositioning
			}
			s.PositionMs = ps.ActualPositionMs
			s.DriftMs = ps.DriftMs
			s.IsSynchronizing = ps.IsSynchronizing
			s.Corrections = ps.Corrections
		})
	})
	return ctl.Run(ctx)
}

func (m *Manager) finish(err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		m.log.Info().Msg("session stopped")
		m.update(func(s *Snapshot) {
			s.Status = model.StatusIdle
			s.IsSynchronizing = false
		})
		return
	}
	m.fail(err)
}

func (m *Manager) fail(err error) {
	m.log.Error().Err(err).Msg("session failed")
	m.update(func(s *Snapshot) {
		s.Status = model.StatusIdle
		s.IsSynchronizing = false
		s.Error, s.ErrorMessage = true, err.Error()
	})
}

// update computes the next snapshot, publishes it, then notifies
// subscribers outside the lock.
func (m *Manager) update(fn func(*Snapshot)) {
	m.snapMu.Lock()
	next := *m.snap.Load()
	fn(&next)
	m.snap.Store(&next)
	m.snapMu.Unlock()

	m.subMu.Lock()
	fns := make([]func(Snapshot), 0, len(m.subscriber))
	for _, f := range m.subscriber {
		fns = append(fns, f)
	}
	m.subMu.Unlock()
	for _, f := range fns {
		f(next)
	}
}
