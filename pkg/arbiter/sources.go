package arbiter

import (
	"github.com/daviddao/phaselock/pkg/probe"
)

// Calibration and filtering of the built-in sources.
const (
	GPSCorrectionMs    = 20
	NTPCorrectionMs    = -30
	GPSMaxAccuracyM    = 6
	GPSAccuracyEpsilon = 0.01
)

// GPS wires a GPS sampler: fixes must report an accuracy radius in
// (0, GPSMaxAccuracyM), repeated fixes are dropped and the result is
// shifted by GPSCorrectionMs.
func GPS(s probe.Sampler) Input {
	in := Sampled(probe.SourceGPS, s)
	in = AcceptSourceAccuracy(in, 0, GPSMaxAccuracyM)
	in = DedupeSourceAccuracy(in, GPSAccuracyEpsilon)
	return Correction(in, GPSCorrectionMs)
}

func NTP(s probe.Sampler) Input {
	return Correction(Sampled(probe.SourceNTP, s), NTPCorrectionMs)
}

func Echo(s probe.Sampler) Input {
	return Sampled(probe.SourceEcho, s)
}

// Cache wires the persisted offset slot.
func Cache(l probe.Loader) Input {
	return probe.NewCached(l)
}
