// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import "time"

// Activity is the current classification.
type Activity int

const (
	Idle Activity = iota
	Walking
	Running
)

func (a Activity) String() string {
	switch a {
	case Walking:
		return "walking"
	case Running:
		return "running"
	default:
		return "idle"
	}
}

const (
	cadenceWindow   = time.Minute
	projectedWindow = 30 * time.Second
)

// cadence tracks confirmed steps over the trailing minute.
type cadence struct {
	steps []time.Time
}

func (c *cadence) add(at time.Time) { c.steps = append(c.steps, at) }

func (c *cadence) reset() { c.steps = c.steps[:0] }

// rate returns the effective cadence in steps/min at now: the larger of the
// trailing-minute rate and the 30s window's rate projected to a minute.
// Both are measured from step intervals, so a steady gait just under a
// cutoff never reads as the cutoff itself.
func (c *cadence) rate(now time.Time, minSteps int) float64 {
	cutoff := now.Add(-cadenceWindow)
	i := 0
	for i < len(c.steps) && !c.steps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		c.steps = append(c.steps[:0], c.steps[i:]...)
	}

	recentCutoff := now.Add(-projectedWindow)
	j := 0
	for j < len(c.steps) && !c.steps[j].After(recentCutoff) {
		j++
	}
	return max(perMinute(c.steps, minSteps), perMinute(c.steps[j:], minSteps))
}

// perMinute is the mean step rate across steps, or 0 with fewer than minSteps.
func perMinute(steps []time.Time, minSteps int) float64 {
	if len(steps) < max(minSteps, 2) {
		return 0
	}
	span := steps[len(steps)-1].Sub(steps[0])
	if span <= 0 {
		return 0
	}
	return float64(len(steps)-1) * float64(time.Minute) / float64(span)
}

// classify maps a cadence to an activity. No step within idleTimeout forces Idle.
func classify(rate float64, lastStep, now time.Time, p Profile) Activity {
	if lastStep.IsZero() || now.Sub(lastStep) > p.IdleTimeout {
		return Idle
	}
	switch {
	case rate >= p.RunningCadence:
		return Running
	case rate >= p.WalkingCadence:
		return Walking
	default:
		return Idle
	}
}
