// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"math"
	"time"
)

// Reading is one raw accelerometer callback in m/s², gravity included.
// Axes the sensor did not report are NaN.
type Reading struct {
	Time    time.Time
	X, Y, Z float64
}

// Missing marks an axis the sensor did not report.
var Missing = math.NaN()

// Complete reports whether the reading carries a timestamp and all three axes.
func (r Reading) Complete() bool {
	if r.Time.IsZero() {
		return false
	}
	for _, v := range [3]float64{r.X, r.Y, r.Z} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Magnitude returns sqrt(x²+y²+z²). Direction is ignored because the
// device can be carried at any angle.
func (r Reading) Magnitude() float64 {
	return math.Sqrt(r.X*r.X + r.Y*r.Y + r.Z*r.Z)
}

type sample struct {
	magnitude float64
	at        time.Time
}

// sampleWindow keeps samples newer than span relative to the latest push.
type sampleWindow struct {
	span    time.Duration
	samples []sample
}

func (w *sampleWindow) push(s sample) {
	w.samples = append(w.samples, s)
	cutoff := s.at.Add(-w.span)
	i := 0
	for i < len(w.samples) && !w.samples[i].at.After(cutoff) {
		i++
	}
	if i > 0 {
		w.samples = w.samples[i:]
	}
}

// stddevBefore returns the standard deviation of magnitudes in (at-span, at).
func (w *sampleWindow) stddevBefore(at time.Time, span time.Duration) float64 {
	from := at.Add(-span)
	var n int
	var mean, m2 float64
	for _, s := range w.samples {
		if !s.at.After(from) || !s.at.Before(at) {
			continue
		}
		// Welford
		n++
		delta := s.magnitude - mean
		mean += delta / float64(n)
		m2 += delta * (s.magnitude - mean)
	}
	if n < 2 {
		return 0
	}
	return math.Sqrt(m2 / float64(n))
}

func (w *sampleWindow) len() int { return len(w.samples) }

func (w *sampleWindow) reset() { w.samples = nil }

// baseline is the running mean magnitude over the calibration phase.
type baseline struct {
	target int
	n      int
	mean   float64
}

func (b *baseline) add(magnitude float64) {
	b.n++
	b.mean += (magnitude - b.mean) / float64(b.n)
}

func (b *baseline) calibrated() bool { return b.n >= b.target }

func (b *baseline) deviation(magnitude float64) float64 {
	return math.Abs(magnitude - b.mean)
}
