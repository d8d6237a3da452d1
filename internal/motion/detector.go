// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "time"

// verdict is the detector's decision for one sample.
type verdict int

const (
	verdictNone        verdict = iota // below threshold or inside the candidate spacing
	verdictCalibrating                // sample went into the baseline
	verdictAccepted                   // confirmed step
	verdictRhythm                     // candidate breaks the recent cadence
	verdictVariability                // candidate after flat, low-variability samples
)

func (v verdict) String() string {
	switch v {
	case verdictCalibrating:
		return "calibrating"
	case verdictAccepted:
		return "accepted"
	case verdictRhythm:
		return "rhythm"
	case verdictVariability:
		return "variability"
	default:
		return "none"
	}
}

// detector turns magnitude samples into confirmed steps.
type detector struct {
	profile       Profile
	base          baseline
	window        sampleWindow
	lastCandidate time.Time
	history       []time.Time // confirmed steps, oldest first, at most HistorySize
}

func newDetector(p Profile) *detector {
	d := &detector{profile: p}
	d.reset()
	return d
}

func (d *detector) reset() {
	d.base = baseline{target: d.profile.CalibrationSamples}
	d.window.span = d.profile.SampleWindow
	d.window.reset()
	d.lastCandidate = time.Time{}
	d.history = d.history[:0]
}

func (d *detector) calibrated() bool { return d.base.calibrated() }

// observe feeds one sample through calibration or detection.
func (d *detector) observe(s sample) verdict {
	prior := d.window.stddevBefore(s.at, d.profile.VariabilityWindow)
	d.window.push(s)

	if !d.base.calibrated() {
		d.base.add(s.magnitude)
		return verdictCalibrating
	}

	if d.base.deviation(s.magnitude) <= d.profile.StepThreshold {
		return verdictNone
	}
	if !d.lastCandidate.IsZero() && s.at.Sub(d.lastCandidate) <= d.profile.MinStepInterval {
		return verdictNone
	}
	d.lastCandidate = s.at

	// A tap on a resting device has no motion around it.
	if prior < d.profile.MinVariability {
		return verdictVariability
	}
	if v := d.checkRhythm(s.at); v != verdictAccepted {
		return v
	}

	d.history = append(d.history, s.at)
	if over := len(d.history) - d.profile.HistorySize; over > 0 {
		d.history = append(d.history[:0], d.history[over:]...)
	}
	return verdictAccepted
}

// checkRhythm compares the candidate against the last accepted steps.
func (d *detector) checkRhythm(at time.Time) verdict {
	n := len(d.history)
	if n > 0 && at.Sub(d.history[n-1]) > d.profile.MaxStepInterval {
		// Idle gap: there is no rhythm left to compare against.
		d.history = d.history[:0]
		n = 0
	}
	if n < d.profile.BootstrapSteps {
		return verdictAccepted
	}

	// Candidate spacing and the gap reset keep interval inside
	// (MinStepInterval, MaxStepInterval].
	interval := at.Sub(d.history[n-1])

	tail := d.history[max(0, n-(d.profile.RhythmWindow-1)):]
	lo, hi := interval, interval
	for i := 1; i < len(tail); i++ {
		iv := tail[i].Sub(tail[i-1])
		lo = min(lo, iv)
		hi = max(hi, iv)
	}
	if hi-lo > d.profile.RhythmTolerance {
		return verdictRhythm
	}
	return verdictAccepted
}
