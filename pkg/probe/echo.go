package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/http2"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// maxEchoBody bounds the response body: a decimal int64 plus whitespace.
const maxEchoBody = 64

// NewHTTPClient builds the client used against the echo authority. HTTPS
// endpoints negotiate HTTP/2; plain http stays on HTTP/1.1. Keep-alives are
// on so later rounds skip the handshake and measure a tighter round trip.
func NewHTTPClient() (*http.Client, error) {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   8,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2: %w", err)
	}
	return &http.Client{Transport: transport}, nil
}

// HTTPQuerier asks an echo authority for its time. The response body is a
// plain-text decimal integer of milliseconds; nothing else is accepted.
type HTTPQuerier struct {
	URL    string
	Client *http.Client
	Clock  clock.Clock
}

// Query measures one exchange:
//
//	offset = server + (response - request)/2 - response
//
// with request and response read from the monotonic clock.
func (q *HTTPQuerier) Query(ctx context.Context) (model.RawSample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, q.URL, nil)
	if err != nil {
		return model.RawSample{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Cache-Control", "no-cache")

	requestAt := q.Clock.Monotonic()
	resp, err := q.Client.Do(req)
	if err != nil {
		return model.RawSample{}, fmt.Errorf("fetch %s: %w", q.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.RawSample{}, fmt.Errorf("fetch %s: status %d", q.URL, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody+1))
	if err != nil {
		return model.RawSample{}, fmt.Errorf("read body: %w", err)
	}
	responseAt := q.Clock.Monotonic()

	server, err := ParseTimestamp(body)
	if err != nil {
		return model.RawSample{}, err
	}
	return EchoSample(requestAt, responseAt, server), nil
}

// EchoSample applies the echo formula. Quality is the round-trip time.
func EchoSample(requestAt, responseAt, server int64) model.RawSample {
	rtt := responseAt - requestAt
	return model.RawSample{
		OffsetMs: server + rtt/2 - responseAt,
		Quality:  float64(rtt),
	}
}

// ParseTimestamp reads an echo response body.
func ParseTimestamp(body []byte) (int64, error) {
	if len(body) > maxEchoBody {
		return 0, fmt.Errorf("echo body too long (%d bytes)", len(body))
	}
	s := strings.TrimSpace(string(body))
	ts, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse echo timestamp %q: %w", s, err)
	}
	return ts, nil
}
