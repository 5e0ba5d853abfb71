package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/timeserver"
)

func cmdServeTime(args []string) int {
	flags := flag.NewFlagSet("serve-time", flag.ContinueOnError)
	addr := flags.String("addr", ":8123", "listen address")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	log := newLogger(os.Stderr, envOr("PHASELOCK_LOG_LEVEL", "info"))
	srv := &http.Server{
		Addr:              *addr,
		Handler:           timeserver.Handler(clock.System(), os.Stderr),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signalContext(0)
	defer stop()
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info().Str("addr", *addr).Str("path", timeserver.TimePath).Msg("time authority listening")

	select {
	case err := <-errc:
		fmt.Fprintf(os.Stderr, "pl: serve-time: %v\n", err)
		return 1
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		fmt.Fprintf(os.Stderr, "pl: serve-time: %v\n", err)
		return 1
	}
	log.Info().Msg("time authority stopped")
	return 0
}
