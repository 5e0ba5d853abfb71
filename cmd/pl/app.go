package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/daviddao/phaselock/pkg/arbiter"
	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/persist"
	"github.com/daviddao/phaselock/pkg/probe"
	"github.com/daviddao/phaselock/pkg/store"
)

const (
	defaultDir = ".phaselock"
	defaultDB  = defaultDir + "/phaselock.db"
)

// app holds shared state for all CLI subcommands.
type app struct {
	store   *store.Store
	offsets *persist.Offsets
	clock   clock.Clock
	log     zerolog.Logger
}

// newApp opens the database and the logger. Creates the .phaselock/
// directory if using the default DB path.
func newApp() (*app, error) {
	dbPath := envOr("PHASELOCK_DB", defaultDB)
	if dbPath == defaultDB {
		if err := os.MkdirAll(defaultDir, 0755); err != nil {
			return nil, fmt.Errorf("cannot create %s: %w", defaultDir, err)
		}
	}
	s, err := store.New(dbPath)
	if err != nil {
		return nil, fmt.Errorf("cannot open database %q: %w", dbPath, err)
	}
	c := clock.System()
	return &app{
		store:   s,
		offsets: persist.New(s, c),
		clock:   c,
		log:     newLogger(os.Stderr, envOr("PHASELOCK_LOG_LEVEL", "info")),
	}, nil
}

// Close releases the database connection.
func (a *app) Close() { a.store.Close() }

// newLogger returns a console logger at the named level. Unknown levels
// fall back to info.
func newLogger(w io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	out := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000", NoColor: !isTerminal(w)}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// sourceFlags selects the live offset sources.
type sourceFlags struct {
	timeURL string
	ntpHost string
}

func (sf sourceFlags) ntpEnabled() bool {
	return sf.ntpHost != "" && sf.ntpHost != "off"
}

// buildInputs wires the persisted cache and every configured live source.
func (a *app) buildInputs(sf sourceFlags) ([]arbiter.Input, error) {
	inputs := []arbiter.Input{arbiter.Cache(a.offsets)}

	if sf.ntpEnabled() {
		cfg := probe.DefaultRoundtripConfig("ntp")
		cfg.StartDelay = time.Second
		cfg.Logger = a.log
		rt, err := probe.NewRoundtrip(&probe.NTPQuerier{Host: sf.ntpHost, Clock: a.clock}, a.clock, cfg)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, arbiter.NTP(rt))
	}

	if sf.timeURL != "" {
		client, err := probe.NewHTTPClient()
		if err != nil {
			return nil, err
		}
		cfg := probe.DefaultRoundtripConfig("echo")
		cfg.Logger = a.log
		q := &probe.HTTPQuerier{URL: sf.timeURL, Client: client, Clock: a.clock}
		rt, err := probe.NewRoundtrip(q, a.clock, cfg)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, arbiter.Echo(rt))
	}
	return inputs, nil
}

// signalContext is cancelled on ctrl-c or SIGTERM and, when d > 0, after d.
func signalContext(d time.Duration) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if d <= 0 {
		return ctx, stop
	}
	tctx, cancel := context.WithTimeout(ctx, d)
	return tctx, func() {
		cancel()
		stop()
	}
}

// printJSON writes v to stdout as indented JSON.
func printJSON(v interface{}) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// printJSONLine writes v to stdout as one line of JSON.
func printJSONLine(v interface{}) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
