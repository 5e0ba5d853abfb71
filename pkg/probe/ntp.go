package probe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/beevik/ntp"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// DefaultNTPHost is the public pool used when none is configured.
const DefaultNTPHost = "time.google.com"

// NTPQuerier asks an NTP server for the clock offset.
type NTPQuerier struct {
	Host  string
	Clock clock.Clock
}

// Query performs one SNTP exchange. The library reports the offset of the
// local wall clock; it is rebased onto the monotonic clock by reading both
// clocks right after the response.
//
// Cancelling ctx closes the UDP socket under the exchange, and Query returns
// only once the library call has unwound.
func (q *NTPQuerier) Query(ctx context.Context) (model.RawSample, error) {
	if err := ctx.Err(); err != nil {
		return model.RawSample{}, err
	}
	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
		if timeout <= 0 {
			return model.RawSample{}, context.DeadlineExceeded
		}
	}

	type result struct {
		resp *ntp.Response
		err  error
	}
	var sock udpSocket
	ch := make(chan result, 1)
	go func() {
		resp, err := ntp.QueryWithOptions(q.Host, ntp.QueryOptions{
			Timeout: timeout,
			Dialer:  sock.dialer(ctx),
		})
		ch <- result{resp, err}
	}()

	var res result
	select {
	case <-ctx.Done():
		sock.abort()
		<-ch
		return model.RawSample{}, ctx.Err()
	case res = <-ch:
	}
	if res.err != nil {
		return model.RawSample{}, fmt.Errorf("ntp %s: %w", q.Host, res.err)
	}
	if err := res.resp.Validate(); err != nil {
		return model.RawSample{}, fmt.Errorf("ntp %s: %w", q.Host, err)
	}
	return NTPSample(q.Clock.Monotonic(), q.Clock.Wall(), res.resp.ClockOffset, res.resp.RTT), nil
}

// udpSocket remembers the connection dialed for one exchange so a
// cancellation can close it from outside the library.
type udpSocket struct {
	mu      sync.Mutex
	conn    net.Conn
	aborted bool
}

func (u *udpSocket) dialer(ctx context.Context) func(localAddress, remoteAddress string) (net.Conn, error) {
	return func(localAddress, remoteAddress string) (net.Conn, error) {
		var d net.Dialer
		if localAddress != "" {
			d.LocalAddr = &net.UDPAddr{IP: net.ParseIP(localAddress)}
		}
		conn, err := d.DialContext(ctx, "udp", remoteAddress)
		if err != nil {
			return nil, err
		}
		u.mu.Lock()
		defer u.mu.Unlock()
		if u.aborted {
			conn.Close()
			return nil, net.ErrClosed
		}
		u.conn = conn
		return conn, nil
	}
}

func (u *udpSocket) abort() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.aborted = true
	if u.conn != nil {
		u.conn.Close()
	}
}

// NTPSample converts an NTP clock offset (true time minus local wall time)
// into a monotonic-relative sample.
func NTPSample(monotonic, wall int64, clockOffset, rtt time.Duration) model.RawSample {
	return model.RawSample{
		OffsetMs: wall + clockOffset.Milliseconds() - monotonic,
		Quality:  float64(rtt.Milliseconds()),
	}
}
