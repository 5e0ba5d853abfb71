package main

import (
	"flag"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/daviddao/phaselock/pkg/clock"
	"github.com/daviddao/phaselock/pkg/model"
)

// offsetStatus describes the persisted slot.
type offsetStatus struct {
	Present  bool                   `json:"present"`
	Valid    bool                   `json:"valid"`
	Slot     *model.PersistedOffset `json:"slot,omitempty"`
	SavedAt  *time.Time             `json:"saved_at,omitempty"`
	AgeMs    int64                  `json:"age_ms,omitempty"`
	DeltaMs  int64                  `json:"delta_drift_ms,omitempty"`
	Rebooted bool                   `json:"rebooted"`
}

func (a *app) cmdStatus(args []string) int {
	flags := flag.NewFlagSet("status", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	st := a.offsetStatus()
	if *jsonOut {
		printJSON(st)
		return 0
	}

	if !st.Present {
		fmt.Println(labelStyle.Render("no persisted offset"))
		return 0
	}
	valid := perfectStyle.Render("valid")
	if !st.Valid {
		valid = badStyle.Render("invalid")
	}
	fmt.Printf("%s %s ms  %s\n", labelStyle.Render("offset:"), valueStyle.Render(humanize.Comma(st.Slot.OffsetMs)), valid)
	fmt.Printf("%s %s\n", labelStyle.Render("saved: "), humanize.Time(*st.SavedAt))
	if st.Rebooted {
		fmt.Printf("%s %s\n", labelStyle.Render("note:  "), fmt.Sprintf("clock moved by %s ms since the save (reboot or wall clock change)", humanize.Comma(st.DeltaMs)))
	}
	return 0
}

func (a *app) offsetStatus() offsetStatus {
	p, ok := a.offsets.Peek()
	if !ok {
		return offsetStatus{}
	}
	savedAt := time.UnixMilli(p.SavedAtMonotonic + p.WallMonotonicDelta)
	drift := clock.Delta(a.clock) - p.WallMonotonicDelta
	return offsetStatus{
		Present:  true,
		Valid:    a.offsets.Valid(),
		Slot:     &p,
		SavedAt:  &savedAt,
		AgeMs:    a.clock.Monotonic() - p.SavedAtMonotonic,
		DeltaMs:  drift,
		Rebooted: drift > model.PersistedMaxDeltaDrift || drift < -model.PersistedMaxDeltaDrift,
	}
}
