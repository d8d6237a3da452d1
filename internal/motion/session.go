// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package motion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// RecordSource tags every record produced by this engine.
const RecordSource = "device_motion"

const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// ActivityRecord is the payload handed to the activity-logging collaborator
// for one closed session that met the minimum duration.
type ActivityRecord struct {
	ID              string    `json:"id"`
	Type            string    `json:"type"` // "walk" or "run"
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	DurationMinutes int       `json:"durationMinutes"`
	Steps           int       `json:"steps"`
	Source          string    `json:"source"`
}

// MarshalJSON writes start/end as UTC ISO-8601 with millisecond precision.
func (r ActivityRecord) MarshalJSON() ([]byte, error) {
	type wire struct {
		ID              string `json:"id"`
		Type            string `json:"type"`
		Start           string `json:"start"`
		End             string `json:"end"`
		DurationMinutes int    `json:"durationMinutes"`
		Steps           int    `json:"steps"`
		Source          string `json:"source"`
	}
	return json.Marshal(wire{
		ID:              r.ID,
		Type:            r.Type,
		Start:           r.Start.UTC().Format(isoMillis),
		End:             r.End.UTC().Format(isoMillis),
		DurationMinutes: r.DurationMinutes,
		Steps:           r.Steps,
		Source:          r.Source,
	})
}

// Duration returns End-Start.
func (r ActivityRecord) Duration() time.Duration { return r.End.Sub(r.Start) }

func recordType(a Activity) string {
	if a == Running {
		return "run"
	}
	return "walk"
}

// session is an open bout of non-idle activity. Walking<->Running changes
// stay inside one session; the logged type is whichever lasted longer.
type session struct {
	startedAt  time.Time
	startSteps int // step count before the opening step
	opened     Activity

	current      Activity
	segmentStart time.Time
	spent        [3]time.Duration
}

func openSession(a Activity, at time.Time, stepsBefore int) *session {
	return &session{
		startedAt:    at,
		startSteps:   stepsBefore,
		opened:       a,
		current:      a,
		segmentStart: at,
	}
}

func (s *session) switchTo(a Activity, at time.Time) {
	if d := at.Sub(s.segmentStart); d > 0 {
		s.spent[s.current] += d
	}
	s.current = a
	if at.After(s.segmentStart) {
		s.segmentStart = at
	}
}

func (s *session) dominant() Activity {
	w, r := s.spent[Walking], s.spent[Running]
	switch {
	case w > r:
		return Walking
	case r > 0:
		return Running
	default:
		return s.opened
	}
}

// close ends the session at endedAt. ok is false when the bout was too short to log.
func (s *session) close(endedAt time.Time, steps int, minDuration time.Duration) (ActivityRecord, bool) {
	s.switchTo(Idle, endedAt)
	d := endedAt.Sub(s.startedAt)
	if d < minDuration {
		return ActivityRecord{}, false
	}
	return ActivityRecord{
		ID:              uuid.NewString(),
		Type:            recordType(s.dominant()),
		Start:           s.startedAt,
		End:             endedAt,
		DurationMinutes: int(d / time.Minute),
		Steps:           steps - s.startSteps,
		Source:          RecordSource,
	}, true
}

// Notification is a human-readable alert for the notification facility.
type Notification struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	Tag   string `json:"tag"`
}

func detectedNotification(a Activity) Notification {
	name := "Walking"
	if a == Running {
		name = "Running"
	}
	return Notification{
		Title: fmt.Sprintf("%s Detected!", name),
		Body:  fmt.Sprintf("Started tracking your %s activity. Keep it up!", a),
		Tag:   "motion-activity",
	}
}

func loggedNotification(r ActivityRecord) Notification {
	activity, title := "walking", "Walk Logged!"
	if r.Type == "run" {
		activity, title = "running", "Run Logged!"
	}
	return Notification{
		Title: title,
		Body:  fmt.Sprintf("%d minutes of %s has been added to your activity log.", r.DurationMinutes, activity),
		Tag:   "motion-activity-logged",
	}
}
