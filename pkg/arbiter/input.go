package arbiter

import (
	"context"
	"math"

	"github.com/daviddao/phaselock/pkg/aggregate"
	"github.com/daviddao/phaselock/pkg/model"
	"github.com/daviddao/phaselock/pkg/probe"
)

// Input is one arbitration source. Readings starts the source and returns
// its stream; the stream closes once ctx ends and the source has released
// its resources. Every call starts a fresh, independent run.
type Input interface {
	Readings(ctx context.Context) <-chan model.TimeReading
}

// Sampled refines a live sampler's raw samples into Fetched readings.
func Sampled(sourceID int, s probe.Sampler) Input {
	return &sampled{sourceID: sourceID, sampler: s}
}

type sampled struct {
	sourceID int
	sampler  probe.Sampler
}

func (in *sampled) Readings(ctx context.Context) <-chan model.TimeReading {
	out := make(chan model.TimeReading)
	raw, err := in.sampler.Start(ctx)
	if err != nil {
		close(out)
		return out
	}
	fetched := aggregate.Stream(ctx, in.sourceID, raw)
	go func() {
		defer close(out)
		defer in.sampler.Stop()
		for r := range fetched {
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// step transforms one reading; false drops it.
type step func(model.TimeReading) (model.TimeReading, bool)

// shaped applies a step to every reading of an Input. newStep is called
// once per run so stateful steps start clean.
type shaped struct {
	in      Input
	newStep func() step
}

func (s *shaped) Readings(ctx context.Context) <-chan model.TimeReading {
	out := make(chan model.TimeReading)
	src := s.in.Readings(ctx)
	apply := s.newStep()
	go func() {
		defer close(out)
		for r := range src {
			r, ok := apply(r)
			if !ok {
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				// Drain so the source can observe ctx and close.
				for range src {
				}
				return
			}
		}
	}()
	return out
}

// Correction adds a fixed calibration constant to Fetched readings.
func Correction(in Input, correctionMs int64) Input {
	return &shaped{in: in, newStep: func() step {
		return func(r model.TimeReading) (model.TimeReading, bool) {
			return r.WithCorrection(correctionMs), true
		}
	}}
}

// AcceptSourceAccuracy keeps Fetched readings whose SourceAccuracy lies
// strictly between min and max. Other variants pass through.
func AcceptSourceAccuracy(in Input, min, max float64) Input {
	return &shaped{in: in, newStep: func() step {
		return func(r model.TimeReading) (model.TimeReading, bool) {
			if r.Kind != model.KindFetched {
				return r, true
			}
			return r, r.SourceAccuracy > min && r.SourceAccuracy < max
		}
	}}
}

// DedupeSourceAccuracy drops a Fetched reading whose SourceAccuracy is
// within epsilon of the previous kept one. A location provider repeats
// its last fix; those repeats carry no new information.
func DedupeSourceAccuracy(in Input, epsilon float64) Input {
	return &shaped{in: in, newStep: func() step {
		var (
			last float64
			seen bool
		)
		return func(r model.TimeReading) (model.TimeReading, bool) {
			if r.Kind != model.KindFetched {
				return r, true
			}
			if seen && math.Abs(r.SourceAccuracy-last) < epsilon {
				return r, false
			}
			last, seen = r.SourceAccuracy, true
			return r, true
		}
	}}
}
