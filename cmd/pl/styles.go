package main

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/daviddao/phaselock/pkg/model"
	"github.com/daviddao/phaselock/pkg/probe"
	"github.com/daviddao/phaselock/pkg/session"
)

var (
	colorRed    = lipgloss.Color("#FF0000")
	colorGreen  = lipgloss.Color("#00FF00")
	colorYellow = lipgloss.Color("#FFFF00")
	colorCyan   = lipgloss.Color("#00FFFF")
	colorGray   = lipgloss.Color("#666666")
)

var (
	labelStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	valueStyle = lipgloss.NewStyle().
			Bold(true)

	perfectStyle = lipgloss.NewStyle().
			Foreground(colorGreen).
			Bold(true)

	goodStyle = lipgloss.NewStyle().
			Foreground(colorCyan)

	badStyle = lipgloss.NewStyle().
			Foreground(colorYellow)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)

func sourceName(id int) string {
	switch id {
	case probe.SourceGPS:
		return "gps"
	case probe.SourceNTP:
		return "ntp"
	case probe.SourceEcho:
		return "echo"
	case probe.SourceCache:
		return "cache"
	default:
		return fmt.Sprintf("source-%d", id)
	}
}

func renderLevel(l model.AccuracyLevel) string {
	switch l {
	case model.Perfect:
		return perfectStyle.Render(l.String())
	case model.Good:
		return goodStyle.Render(l.String())
	default:
		return badStyle.Render(l.String())
	}
}

func renderStatus(s model.Status, failed bool) string {
	if failed {
		return errorStyle.Render("error")
	}
	switch s {
	case model.StatusPlaying:
		return perfectStyle.Render(string(s))
	case model.StatusPositioning:
		return badStyle.Render(string(s))
	default:
		return labelStyle.Render(string(s))
	}
}

// renderReading is the one-line summary printed for every accepted offset.
func renderReading(r model.TimeReading) string {
	if !r.HasOffset() {
		return labelStyle.Render("no offset")
	}
	line := fmt.Sprintf("%s %s ms %s %s %s",
		labelStyle.Render("offset"), valueStyle.Render(humanize.Comma(r.OffsetMs)),
		renderLevel(model.Level(r)),
		labelStyle.Render("via"), sourceName(r.SourceID))
	if r.Kind == model.KindFetched {
		line += labelStyle.Render(fmt.Sprintf(" ±%d ms from %d probes", r.OffsetAccuracyMs, r.ProbeCount))
	}
	return line
}

// renderSnapshot is the status line printed when a session changes state.
func renderSnapshot(s session.Snapshot) string {
	line := renderStatus(s.Status, s.Error)
	if s.Error {
		return line + " " + s.ErrorMessage
	}
	if s.HasOffset {
		line += fmt.Sprintf(" %s %s ms", labelStyle.Render("offset"), humanize.Comma(s.OffsetMs))
	}
	if s.Status != model.StatusIdle {
		line += fmt.Sprintf(" %s %s %s %d ms",
			labelStyle.Render("position"), formatPosition(s.PositionMs),
			labelStyle.Render("drift"), s.DriftMs)
	}
	if s.PlaybackShiftMs != 0 {
		line += fmt.Sprintf(" %s %+d ms", labelStyle.Render("shift"), s.PlaybackShiftMs)
	}
	return line
}

// formatPosition renders a loop position as m:ss.mmm.
func formatPosition(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%d:%02d.%03d", ms/60000, (ms/1000)%60, ms%1000)
}
