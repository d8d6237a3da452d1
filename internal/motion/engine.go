// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

// Package motion implements on-device step counting and activity
// classification from raw accelerometer samples.
//
// Pipeline per sample: calibration (baseline) → candidate detection
// (deviation + spacing) → validation (variability floor + rhythm) →
// cadence classification (idle / walking / running) → session lifecycle.
package motion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Source is anything that delivers accelerometer readings. Subscribe must
// deliver readings one at a time, from a goroutine other than the caller's.
// Returning ErrUnsupported means the platform has no motion sensor.
type Source interface {
	Subscribe(handler func(Reading)) (cancel func(), err error)
}

// PermissionRequester asks the platform for access to a facility.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (bool, error)
}

// ActivityLogger persists qualifying sessions.
type ActivityLogger interface {
	LogActivity(ctx context.Context, rec ActivityRecord) error
}

// Notifier shows best-effort notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Snapshot is the observable engine state handed to listeners.
type Snapshot struct {
	Steps             int       `json:"steps"`
	IsWalking         bool      `json:"isWalking"`
	IsRunning         bool      `json:"isRunning"`
	LastActivityStart time.Time `json:"lastActivityStart"` // zero when no activity yet
}

// MarshalJSON writes a zero LastActivityStart as null.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	var start *string
	if !s.LastActivityStart.IsZero() {
		v := s.LastActivityStart.UTC().Format(isoMillis)
		start = &v
	}
	return json.Marshal(struct {
		Steps             int     `json:"steps"`
		IsWalking         bool    `json:"isWalking"`
		IsRunning         bool    `json:"isRunning"`
		LastActivityStart *string `json:"lastActivityStart"`
	}{s.Steps, s.IsWalking, s.IsRunning, start})
}

// UnmarshalJSON accepts null for LastActivityStart.
func (s *Snapshot) UnmarshalJSON(b []byte) error {
	var w struct {
		Steps             int        `json:"steps"`
		IsWalking         bool       `json:"isWalking"`
		IsRunning         bool       `json:"isRunning"`
		LastActivityStart *time.Time `json:"lastActivityStart"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = Snapshot{Steps: w.Steps, IsWalking: w.IsWalking, IsRunning: w.IsRunning}
	if w.LastActivityStart != nil {
		s.LastActivityStart = *w.LastActivityStart
	}
	return nil
}

// Activity returns the classification the snapshot encodes.
func (s Snapshot) Activity() Activity {
	switch {
	case s.IsRunning:
		return Running
	case s.IsWalking:
		return Walking
	default:
		return Idle
	}
}

// Listener receives a snapshot on every confirmed step and activity change.
type Listener func(Snapshot)

// ListenerID identifies a registered listener for RemoveListener.
type ListenerID uint64

// Option configures an Engine.
type Option func(*Engine)

// WithProfile replaces the default tuning. Invalid profiles are rejected
// by New with a log line and the default is kept.
func WithProfile(p Profile) Option { return func(e *Engine) { e.profile = p } }

// WithLogger sets the log entry used by the engine.
func WithLogger(l *logrus.Entry) Option { return func(e *Engine) { e.log = l } }

// WithActivityLogger sets the collaborator that persists sessions.
func WithActivityLogger(l ActivityLogger) Option { return func(e *Engine) { e.activityLog = l } }

// WithNotifier sets the notification facility.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithPermission sets the motion-sensor permission facility. Without one,
// access is assumed.
func WithPermission(p PermissionRequester) Option { return func(e *Engine) { e.permission = p } }

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option { return func(e *Engine) { e.metrics = m } }

// WithDeliveryTimeout bounds each activity-log and notification dispatch.
func WithDeliveryTimeout(d time.Duration) Option { return func(e *Engine) { e.deliveryTimeout = d } }

// Engine is the motion engine. Construct one per tracked device with New.
type Engine struct {
	source          Source
	profile         Profile
	log             *logrus.Entry
	activityLog     ActivityLogger
	notifier        Notifier
	permission      PermissionRequester
	metrics         *Metrics
	deliveryTimeout time.Duration

	// ingestMu serializes sample processing including listener delivery.
	ingestMu sync.Mutex

	mu                sync.Mutex
	running           bool
	generation        uint64
	cancel            func()
	detector          *detector
	cadence           cadence
	steps             int
	lastStep          time.Time
	lastSample        time.Time
	activity          Activity
	lastActivityStart time.Time
	session           *session
	throttle          *rate.Limiter

	current       atomic.Pointer[Snapshot]
	notifyGranted atomic.Bool

	lmu       sync.Mutex
	nextID    ListenerID
	listeners []registered

	wg sync.WaitGroup
}

type registered struct {
	id ListenerID
	fn Listener
}

// New creates an engine reading from source. A nil source makes Start
// return ErrUnsupported.
func New(source Source, opts ...Option) *Engine {
	e := &Engine{
		source:          source,
		profile:         DefaultProfile(),
		log:             logrus.WithField("component", "engine"),
		deliveryTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.profile.Validate(); err != nil {
		e.log.WithError(err).Warn("invalid profile, using defaults")
		e.profile = DefaultProfile()
	}
	e.detector = newDetector(e.profile)
	e.throttle = rate.NewLimiter(rate.Every(e.profile.NotifyThrottle), 1)
	if e.notifier != nil {
		if _, asks := e.notifier.(PermissionRequester); !asks {
			e.notifyGranted.Store(true)
		}
	}
	e.current.Store(&Snapshot{})
	return e
}

// Profile returns the tuning in use.
func (e *Engine) Profile() Profile { return e.profile }

// IsSupported reports whether a sample source is configured.
func (e *Engine) IsSupported() bool { return e.source != nil }

// Running reports whether the engine is subscribed to its source.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Start resets all state, begins calibration and subscribes to the source.
// It is a no-op while already running. A nil error is success; on error the
// engine stays inert. Stop during a pending permission request makes Start
// return ErrStopped and no tracking begins.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if e.source == nil {
		e.mu.Unlock()
		e.log.Warn("no motion source available")
		return ErrUnsupported
	}
	gen := e.generation
	e.mu.Unlock()

	if e.permission != nil {
		granted, err := e.permission.RequestPermission(ctx)
		if err != nil {
			e.log.WithError(err).Warn("motion permission request failed")
			if errors.Is(err, ErrUnsupported) {
				return ErrUnsupported
			}
			return ErrPermissionDenied
		}
		if !granted {
			e.log.Warn("motion permission denied")
			return ErrPermissionDenied
		}
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return nil
	}
	if e.generation != gen {
		e.mu.Unlock()
		e.log.Info("stopped while waiting for permission, not starting")
		return ErrStopped
	}
	e.resetLocked()
	e.running = true
	e.generation++
	gen = e.generation
	e.mu.Unlock()

	cancel, err := e.source.Subscribe(e.ingest)

	e.mu.Lock()
	defer e.mu.Unlock()
	if err != nil {
		if e.generation == gen {
			e.running = false
		}
		e.log.WithError(err).Warn("motion source subscribe failed")
		if errors.Is(err, ErrUnsupported) {
			return ErrUnsupported
		}
		return fmt.Errorf("motion: subscribe: %w", err)
	}
	if e.generation != gen {
		cancel()
		return ErrStopped
	}
	e.cancel = cancel
	e.log.WithField("calibration_samples", e.profile.CalibrationSamples).Info("motion tracking started")
	return nil
}

// Stop unsubscribes and resets counters, baseline, history and activity.
// An open session is discarded. Safe to call at any time.
func (e *Engine) Stop() {
	e.mu.Lock()
	e.generation++
	cancel := e.cancel
	e.cancel = nil
	wasRunning := e.running
	e.running = false
	if e.session != nil {
		e.log.Debug("discarding open session on stop")
	}
	e.resetLocked()
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if wasRunning {
		e.log.Info("motion tracking stopped")
	}
}

func (e *Engine) resetLocked() {
	e.detector.reset()
	e.cadence.reset()
	e.steps = 0
	e.lastStep = time.Time{}
	e.lastSample = time.Time{}
	e.activity = Idle
	e.lastActivityStart = time.Time{}
	e.session = nil
	e.current.Store(&Snapshot{})
}

// CurrentData returns the latest snapshot without blocking.
func (e *Engine) CurrentData() Snapshot {
	return *e.current.Load()
}

// AddListener registers fn. Listeners are called in registration order.
func (e *Engine) AddListener(fn Listener) ListenerID {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	e.nextID++
	e.listeners = append(e.listeners, registered{id: e.nextID, fn: fn})
	return e.nextID
}

// RemoveListener unregisters a listener. Unknown ids are ignored.
func (e *Engine) RemoveListener(id ListenerID) {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
			return
		}
	}
}

func (e *Engine) listenerSnapshot() []Listener {
	e.lmu.Lock()
	defer e.lmu.Unlock()
	out := make([]Listener, len(e.listeners))
	for i, l := range e.listeners {
		out[i] = l.fn
	}
	return out
}

// RequestNotificationPermission asks the notifier for permission. It
// returns false when no notification facility exists.
func (e *Engine) RequestNotificationPermission(ctx context.Context) bool {
	if e.notifier == nil {
		return false
	}
	asker, ok := e.notifier.(PermissionRequester)
	if !ok {
		return true
	}
	granted, err := asker.RequestPermission(ctx)
	if err != nil {
		e.log.WithError(err).Warn("notification permission request failed")
		granted = false
	}
	e.notifyGranted.Store(granted)
	return granted
}

// Wait blocks until in-flight activity-log and notification dispatches finish.
func (e *Engine) Wait() { e.wg.Wait() }

// ingest processes one reading. It is the Source handler.
func (e *Engine) ingest(r Reading) {
	e.ingestMu.Lock()
	defer e.ingestMu.Unlock()

	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	if !r.Complete() || (!e.lastSample.IsZero() && !r.Time.After(e.lastSample)) {
		e.metrics.sample(false)
		e.mu.Unlock()
		return
	}
	e.metrics.sample(true)
	e.lastSample = r.Time

	s := sample{magnitude: r.Magnitude(), at: r.Time}
	v := e.detector.observe(s)
	e.metrics.verdict(v)

	if v == verdictCalibrating {
		if e.detector.calibrated() {
			e.log.WithField("baseline", e.detector.base.mean).Debug("calibration complete")
		}
		e.mu.Unlock()
		return
	}

	changed := false
	if v == verdictAccepted {
		e.steps++
		e.lastStep = s.at
		e.cadence.add(s.at)
		changed = true
	} else if v != verdictNone {
		e.log.WithFields(logrus.Fields{"reason": v.String(), "at": s.at}).Trace("step candidate rejected")
	}

	var dispatches []func(context.Context)
	if e.reclassifyLocked(s.at, &dispatches) {
		changed = true
	}

	var snap Snapshot
	if changed {
		snap = e.snapshotLocked()
		e.current.Store(&snap)
	}
	e.mu.Unlock()

	if changed {
		for _, fn := range e.listenerSnapshot() {
			fn(snap)
		}
	}
	for _, d := range dispatches {
		e.dispatch(d)
	}
}

func (e *Engine) snapshotLocked() Snapshot {
	return Snapshot{
		Steps:             e.steps,
		IsWalking:         e.activity == Walking,
		IsRunning:         e.activity == Running,
		LastActivityStart: e.lastActivityStart,
	}
}

// reclassifyLocked updates the activity state at now and queues any
// resulting notifications or activity logs. It reports whether the state changed.
func (e *Engine) reclassifyLocked(now time.Time, out *[]func(context.Context)) bool {
	cad := e.cadence.rate(now, e.profile.MinCadenceSteps)
	next := classify(cad, e.lastStep, now, e.profile)
	e.metrics.state(next, cad)
	if next == e.activity {
		return false
	}

	prev := e.activity
	e.activity = next
	entry := e.log.WithFields(logrus.Fields{"from": prev.String(), "to": next.String(), "cadence": cad})

	switch {
	case prev == Idle:
		e.session = openSession(next, e.lastStep, e.steps-1)
		e.lastActivityStart = e.lastStep
		entry.Info("activity started")
		if e.throttle.AllowN(now, 1) {
			n := detectedNotification(next)
			*out = append(*out, func(ctx context.Context) { e.notify(ctx, n) })
		}

	case next == Idle:
		s := e.session
		e.session = nil
		if s == nil {
			break
		}
		rec, ok := s.close(e.lastStep, e.steps, e.profile.ActivityMinDuration)
		if !ok {
			entry.WithField("duration", e.lastStep.Sub(s.startedAt)).Info("activity too short, discarded")
			e.metrics.session("discarded")
			break
		}
		entry.WithFields(logrus.Fields{"type": rec.Type, "minutes": rec.DurationMinutes, "steps": rec.Steps}).Info("activity ended")
		*out = append(*out, func(ctx context.Context) { e.logActivity(ctx, rec) })

	default:
		if e.session != nil {
			e.session.switchTo(next, now)
		}
		entry.Info("activity changed")
	}
	return true
}

// dispatch runs fn off the sample path.
func (e *Engine) dispatch(fn func(context.Context)) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), e.deliveryTimeout)
		defer cancel()
		fn(ctx)
	}()
}

func (e *Engine) logActivity(ctx context.Context, rec ActivityRecord) {
	entry := e.log.WithFields(logrus.Fields{"id": rec.ID, "type": rec.Type, "minutes": rec.DurationMinutes})
	if e.activityLog == nil {
		entry.Debug("no activity logger configured, record dropped")
		return
	}
	if err := e.activityLog.LogActivity(ctx, rec); err != nil {
		entry.WithError(fmt.Errorf("%w: %w", ErrTransientLogging, err)).Warn("activity not logged")
		e.metrics.session("failed")
		return
	}
	e.metrics.session("logged")
	entry.Info("activity logged")
	e.notify(ctx, loggedNotification(rec))
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	if e.notifier == nil || !e.notifyGranted.Load() {
		return
	}
	if err := e.notifier.Notify(ctx, n); err != nil {
		e.log.WithError(err).WithField("tag", n.Tag).Debug("notification failed")
	}
}
