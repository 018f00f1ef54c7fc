// Package risk folds a local root report and a decoded attestation verdict
// into one bounded score.
package risk

import (
	aho "github.com/petar-dambovaliev/aho-corasick"

	"github.com/aspect-build/veritas/internal/integrity"
)

const (
	MaxScore = 100

	RootedPoints          = 40
	DeviceIntegrityPoints = 40
	AppRecognitionPoints  = 20
	RootToolingPoints     = 10
)

// Signal names reported by Explain.
const (
	SignalRooted              = "rooted"
	SignalNoDeviceIntegrity   = "device_integrity_missing"
	SignalAppNotRecognized    = "app_not_recognized"
	SignalRootToolingDetected = "root_tooling_detected"
)

// RootToolingSignatures are matched case-insensitively as substrings of the
// triggered check labels.
var RootToolingSignatures = []string{"magisk", "su"}

var signatureMatcher = newSignatureMatcher(RootToolingSignatures)

func newSignatureMatcher(signatures []string) aho.AhoCorasick {
	builder := aho.NewAhoCorasickBuilder(aho.Opts{
		AsciiCaseInsensitive: true,
		MatchKind:            aho.LeftMostLongestMatch,
	})
	return builder.Build(signatures)
}

// Signal is one condition that contributed to a score.
type Signal struct {
	Name   string `json:"name"`
	Points int    `json:"points"`
	Detail string `json:"detail,omitempty"`
}

// Compute returns the risk score in [0, MaxScore]. Either input may be nil and
// then carries no signal. A verdict that is present but lists no device labels
// is treated as lacking device integrity.
func Compute(root *integrity.RootReport, v *integrity.Verdict) int {
	_, score := evaluate(root, v)
	return score
}

// Explain returns the signals behind Compute's result, in a fixed order,
// together with the clamped score.
func Explain(root *integrity.RootReport, v *integrity.Verdict) ([]Signal, int) {
	return evaluate(root, v)
}

func evaluate(root *integrity.RootReport, v *integrity.Verdict) ([]Signal, int) {
	signals := []Signal{}

	if root != nil && root.Rooted {
		signals = append(signals, Signal{Name: SignalRooted, Points: RootedPoints})
	}
	if v != nil && !v.MeetsDeviceIntegrity() {
		signals = append(signals, Signal{Name: SignalNoDeviceIntegrity, Points: DeviceIntegrityPoints})
	}
	// An absent app verdict adds nothing, unlike the device rule above.
	if label := v.AppRecognition(); label != "" && label != integrity.PlayRecognized {
		signals = append(signals, Signal{Name: SignalAppNotRecognized, Points: AppRecognitionPoints, Detail: label})
	}
	if root != nil {
		if check, ok := matchRootTooling(root.TriggeredChecks); ok {
			signals = append(signals, Signal{Name: SignalRootToolingDetected, Points: RootToolingPoints, Detail: check})
		}
	}

	sum := 0
	for _, s := range signals {
		sum += s.Points
	}
	return signals, min(sum, MaxScore)
}

func matchRootTooling(checks []string) (string, bool) {
	for _, c := range checks {
		if len(signatureMatcher.FindAll(c)) > 0 {
			return c, true
		}
	}
	return "", false
}
