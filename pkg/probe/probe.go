// Package probe contains the independent offset estimators.
//
// A Sampler produces raw offset samples (authoritative time minus local
// monotonic time) until it is stopped. Transient failures never leave a
// sampler: a failed request or a missing fix just means no sample.
//
// Source ids are fixed so arbitration ties resolve the same way on every
// device: GPS 0, NTP 1, HTTP echo 2, persisted cache 3.
package probe

import (
	"context"
	"errors"
	"sync"

	"github.com/daviddao/phaselock/pkg/model"
)

// Well-known source ids.
const (
	SourceGPS   = 0
	SourceNTP   = 1
	SourceEcho  = 2
	SourceCache = 3
)

// ErrRunning is returned by Start on a sampler that is already running.
var ErrRunning = errors.New("probe: already running")

// Sampler is a live offset probe.
type Sampler interface {
	// Start begins sampling. The channel closes after the sampler stopped
	// and released its resources.
	Start(ctx context.Context) (<-chan model.RawSample, error)
	// Stop cancels sampling and waits for the release. Safe to call on a
	// sampler that never started.
	Stop()
}

// lifecycle implements the Start/Stop contract for samplers that run one
// loop goroutine.
type lifecycle struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func (l *lifecycle) start(ctx context.Context, loop func(ctx context.Context, out chan<- model.RawSample)) (<-chan model.RawSample, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done != nil {
		select {
		case <-l.done:
		default:
			return nil, ErrRunning
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	out := make(chan model.RawSample)
	done := make(chan struct{})
	l.cancel, l.done = cancel, done

	go func() {
		defer close(done)
		defer close(out)
		defer cancel()
		loop(runCtx, out)
	}()
	return out, nil
}

func (l *lifecycle) stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// send delivers s unless ctx ends first.
func send(ctx context.Context, out chan<- model.RawSample, s model.RawSample) bool {
	select {
	case out <- s:
		return true
	case <-ctx.Done():
		return false
	}
}
