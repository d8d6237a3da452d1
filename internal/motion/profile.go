// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"fmt"
	"time"
)

// Profile holds every tunable of the step detector and activity classifier.
// Thresholds vary with device, carry position and gait, so they are field
// calibrated against recorded traces (see internal/trace) instead of fixed.
type Profile struct {
	// Calibration
	CalibrationSamples int // samples averaged into the rest-state baseline

	// Step candidates
	StepThreshold   float64       // m/s² deviation from baseline
	MinStepInterval time.Duration // candidates closer than this are ignored
	MaxStepInterval time.Duration // longer gaps restart rhythm bootstrap

	// Rhythm gate
	BootstrapSteps    int           // steps accepted without rhythm history
	RhythmWindow      int           // accepted steps + candidate compared for consistency
	RhythmTolerance   time.Duration // max spread between largest and smallest interval
	VariabilityWindow time.Duration // samples preceding a candidate used for the stddev floor
	MinVariability    float64       // m/s² stddev floor

	// Buffers
	SampleWindow time.Duration // rolling sample retention
	HistorySize  int           // confirmed steps kept for rhythm validation

	// Classification
	WalkingCadence  float64 // steps/min
	RunningCadence  float64 // steps/min
	MinCadenceSteps int     // steps in the 30s window before its projected rate counts
	IdleTimeout     time.Duration

	// Sessions and notifications
	ActivityMinDuration time.Duration
	NotifyThrottle      time.Duration
}

// DefaultProfile returns the default tuning.
func DefaultProfile() Profile {
	return Profile{
		CalibrationSamples: 50,

		StepThreshold:   1.5,
		MinStepInterval: 250 * time.Millisecond,
		MaxStepInterval: 2 * time.Second,

		BootstrapSteps:    2,
		RhythmWindow:      4,
		RhythmTolerance:   400 * time.Millisecond,
		VariabilityWindow: time.Second,
		MinVariability:    0.15,

		SampleWindow: 10 * time.Second,
		HistorySize:  10,

		WalkingCadence:  100,
		RunningCadence:  160,
		MinCadenceSteps: 6,
		IdleTimeout:     15 * time.Second,

		ActivityMinDuration: 2 * time.Minute,
		NotifyThrottle:      5 * time.Minute,
	}
}

// Validate checks that the profile is internally consistent.
func (p Profile) Validate() error {
	if p.CalibrationSamples < 1 {
		return fmt.Errorf("calibration samples must be positive, got %d", p.CalibrationSamples)
	}
	if p.StepThreshold <= 0 {
		return fmt.Errorf("step threshold must be positive, got %.3f", p.StepThreshold)
	}
	if p.MinStepInterval <= 0 || p.MaxStepInterval <= 0 {
		return fmt.Errorf("step intervals must be positive (min=%s, max=%s)", p.MinStepInterval, p.MaxStepInterval)
	}
	if p.MinStepInterval >= p.MaxStepInterval {
		return fmt.Errorf("min step interval %s must be below max step interval %s", p.MinStepInterval, p.MaxStepInterval)
	}
	if p.BootstrapSteps < 1 {
		return fmt.Errorf("bootstrap steps must be at least 1, got %d", p.BootstrapSteps)
	}
	if p.RhythmWindow < 3 {
		return fmt.Errorf("rhythm window must be at least 3, got %d", p.RhythmWindow)
	}
	if p.HistorySize < p.RhythmWindow {
		return fmt.Errorf("history size %d must hold the rhythm window %d", p.HistorySize, p.RhythmWindow)
	}
	if p.RhythmTolerance < 0 {
		return fmt.Errorf("rhythm tolerance must not be negative, got %s", p.RhythmTolerance)
	}
	if p.VariabilityWindow <= 0 || p.SampleWindow < p.VariabilityWindow {
		return fmt.Errorf("sample window %s must cover variability window %s", p.SampleWindow, p.VariabilityWindow)
	}
	if p.MinVariability < 0 {
		return fmt.Errorf("min variability must not be negative, got %.3f", p.MinVariability)
	}
	if p.WalkingCadence <= 0 || p.RunningCadence <= p.WalkingCadence {
		return fmt.Errorf("cadences must satisfy 0 < walking (%.0f) < running (%.0f)", p.WalkingCadence, p.RunningCadence)
	}
	if p.MinCadenceSteps < 2 {
		return fmt.Errorf("min cadence steps must be at least 2, got %d", p.MinCadenceSteps)
	}
	if p.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got %s", p.IdleTimeout)
	}
	if p.ActivityMinDuration < 0 || p.NotifyThrottle < 0 {
		return fmt.Errorf("activity min duration and notify throttle must not be negative")
	}
	return nil
}
