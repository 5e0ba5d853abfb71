// Package aggregate refines a probe's raw samples into graded readings.
//
// Each source keeps its last HistorySize samples. When the history
// overflows, the sample with the worst (highest) quality score is evicted.
// Every update then runs a two-pass trimmed mean:
//
//	mean      = avg(offset)
//	meanDev   = avg(|offset - mean|)
//	precise   = {s : |s.offset - mean| <= meanDev}
//	offset    = avg(precise.offset)
//	accuracy  = avg(|precise.offset - offset|)
//
// A single wild sample pulls the mean but lands outside meanDev and drops
// out of the second pass. The membership test is exact; the reported offset
// and accuracy are truncated to integer milliseconds.
package aggregate

import "github.com/daviddao/phaselock/pkg/model"

// HistorySize bounds the per-source history.
const HistorySize = 10

// History is the bounded, insertion-ordered sample history of one source.
// Not goroutine-safe; each source owns its History.
type History struct {
	sourceID int
	limit    int
	samples  []model.RawSample
}

// NewHistory returns an empty history for sourceID.
func NewHistory(sourceID int) *History {
	return &History{sourceID: sourceID, limit: HistorySize}
}

// Len returns the number of retained samples.
func (h *History) Len() int { return len(h.samples) }

// Samples returns a copy of the retained samples in insertion order.
func (h *History) Samples() []model.RawSample {
	out := make([]model.RawSample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Add inserts s, evicts the worst samples past the limit and returns the
// refined Fetched reading for the new history.
func (h *History) Add(s model.RawSample) model.TimeReading {
	h.samples = append(h.samples, s)
	for len(h.samples) > h.limit {
		h.evictWorst()
	}
	return Refine(h.sourceID, h.samples)
}

// evictWorst removes the sample with the highest quality score. On ties the
// oldest one goes.
func (h *History) evictWorst() {
	worst := 0
	for i, s := range h.samples {
		if s.Quality > h.samples[worst].Quality {
			worst = i
		}
	}
	h.samples = append(h.samples[:worst], h.samples[worst+1:]...)
}

// Refine runs the trimmed mean over samples. It returns Empty for an empty
// slice.
func Refine(sourceID int, samples []model.RawSample) model.TimeReading {
	if len(samples) == 0 {
		return model.Empty()
	}

	// Membership is decided on n-scaled offsets so the fractional mean and
	// mean deviation are compared exactly: |x - S/n| <= sum|x_j - S/n|/n
	// becomes n*|n*x - S| <= sum|n*x_j - S|.
	n := int64(len(samples))
	var sum int64
	for _, s := range samples {
		sum += s.OffsetMs
	}
	var devSum int64
	for _, s := range samples {
		devSum += abs(n*s.OffsetMs - sum)
	}

	precise := make([]model.RawSample, 0, len(samples))
	for _, s := range samples {
		if n*abs(n*s.OffsetMs-sum) <= devSum {
			precise = append(precise, s)
		}
	}
	if len(precise) == 0 {
		precise = samples
	}

	preciseMean := meanOffset(precise)
	var accSum int64
	var qualitySum float64
	for _, s := range precise {
		accSum += abs(s.OffsetMs - preciseMean)
		qualitySum += s.Quality
	}
	kept := len(precise)
	return model.Fetched(
		sourceID,
		preciseMean,
		accSum/int64(kept),
		kept,
		qualitySum/float64(kept),
	)
}

func meanOffset(samples []model.RawSample) int64 {
	var sum int64
	for _, s := range samples {
		sum += s.OffsetMs
	}
	return sum / int64(len(samples))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
