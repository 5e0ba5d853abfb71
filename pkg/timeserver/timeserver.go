// Package timeserver is the HTTP time authority queried by the echo probe.
//
// GET /time answers with the server's wall clock as a plain-text decimal
// integer of Unix milliseconds and nothing else.
package timeserver

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/daviddao/phaselock/pkg/clock"
)

// TimePath is where the authority serves the time.
const TimePath = "/time"

func NewRouter(c clock.Clock) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc(TimePath, timeHandler(c)).Methods(http.MethodGet)
	r.HandleFunc("/health", healthHandler).Methods(http.MethodGet)

	return r
}

// Handler wraps the router with request logging to logOut and panic
// recovery.
func Handler(c clock.Clock, logOut io.Writer) http.Handler {
	logged := handlers.CombinedLoggingHandler(logOut, NewRouter(c))
	return handlers.RecoveryHandler(handlers.PrintRecoveryStack(false))(logged)
}

func timeHandler(c clock.Clock) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, strconv.FormatInt(c.Wall(), 10))
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, "ok")
}
