// Command pl is the phaselock CLI: offset sync, phase-locked loop playback
// and the HTTP time authority the echo probe talks to.
package main

import (
	"fmt"
	"os"
)

const version = "0.1.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("pl", version)
		return
	case "serve-time":
		// The authority keeps no state.
		os.Exit(cmdServeTime(os.Args[2:]))
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}

	var code int
	switch os.Args[1] {
	case "sync":
		code = a.cmdSync(os.Args[2:])
	case "play":
		code = a.cmdPlay(os.Args[2:])
	case "status":
		code = a.cmdStatus(os.Args[2:])
	case "forget":
		code = a.cmdForget(os.Args[2:])

	default:
		fmt.Fprintf(os.Stderr, "pl: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'pl --help' for usage.")
		code = 1
	}
	a.Close()
	os.Exit(code)
}

func printUsage() {
	fmt.Print(`pl - phase-locked playback across disconnected devices

Every device estimates the offset between an authoritative clock and its
own monotonic clock, then plays a shared endless loop at
(monotonic now + offset - origin) mod loop length.

Usage:
  pl <command> [flags]

Commands:
  serve-time [--addr A]     Serve GET /time as plain-text Unix milliseconds
  sync [--timeout D]        Estimate the offset until it converges
  play [--for D]            Play the loop in phase (virtual output)
  status                    Show the persisted offset and its validity
  forget                    Clear the persisted offset

Environment:
  PHASELOCK_DB          SQLite database path (default: .phaselock/phaselock.db)
  PHASELOCK_TIME_URL    Echo time authority, e.g. http://host:8123/time
  PHASELOCK_NTP_HOST    NTP server (default: time.google.com, "off" disables)
  PHASELOCK_LOG_LEVEL   debug, info, warn, error (default: info)

sync, play and status support --json for machine-readable output.

Exit codes:
  0  success
  1  error
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "pl: "+format+"\n", args...)
	os.Exit(1)
}
