package probe

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

func TestEchoSample(t *testing.T) {
	s := EchoSample(100, 140, 5000)
	assert.Equal(t, model.RawSample{OffsetMs: 4880, Quality: 40}, s)
}

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		name    string
		body    string
		want    int64
		wantErr bool
	}{
		{"plain", "1700000000000", 1700000000000, false},
		{"trailing newline", "1700000000000\n", 1700000000000, false},
		{"surrounding spaces", "  42 ", 42, false},
		{"negative", "-5", -5, false},
		{"json is rejected", `{"t":1}`, 0, true},
		{"float is rejected", "1.5", 0, true},
		{"empty", "", 0, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseTimestamp([]byte(tc.body))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseTimestamp_TooLong(t *testing.T) {
	body := make([]byte, maxEchoBody+1)
	for i := range body {
		body[i] = '1'
	}
	_, err := ParseTimestamp(body)
	assert.Error(t, err)
}

func TestHTTPQuerier_Query(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, 1_700_000_000_000)
	}))
	defer srv.Close()

	client, err := NewHTTPClient()
	require.NoError(t, err)
	fake := clock.NewFake(10_000, 0)
	q := &HTTPQuerier{URL: srv.URL, Client: client, Clock: fake}

	s, err := q.Query(context.Background())
	require.NoError(t, err)
	// The fake clock does not move during the exchange, so rtt is zero.
	assert.Equal(t, int64(1_700_000_000_000-10_000), s.OffsetMs)
	assert.Equal(t, 0.0, s.Quality)
}

func TestHTTPQuerier_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	q := &HTTPQuerier{URL: srv.URL, Client: srv.Client(), Clock: clock.NewFake(0, 0)}
	_, err := q.Query(context.Background())
	assert.ErrorContains(t, err, "status 503")
}

func TestHTTPQuerier_CancelledRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	q := &HTTPQuerier{URL: srv.URL, Client: srv.Client(), Clock: clock.NewFake(0, 0)}
	_, err := q.Query(ctx)
	assert.Error(t, err)
}

func TestNTPSample(t *testing.T) {
	s := NTPSample(1000, 5000, 250*time.Millisecond, 30*time.Millisecond)
	assert.Equal(t, model.RawSample{OffsetMs: 4250, Quality: 30}, s)
}

func TestNTPQuerier_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := &NTPQuerier{Host: "127.0.0.1:1", Clock: clock.NewFake(0, 0)}
	_, err := q.Query(ctx)
	assert.Error(t, err)
}
