package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/bus"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// RunConsoleMQTT prints engine snapshots, logged sessions and
// notifications until ctx is cancelled.
func RunConsoleMQTT(ctx context.Context) error {
	cfg := config.Get()
	log := logrus.WithField("component", "console")

	client, err := bus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDConsole)
	if err != nil {
		return err
	}
	defer bus.Disconnect(client)

	if err := subscribeConsole(client, cfg, os.Stdout); err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// subscribeConsole prints every message on the state, activity and notify
// topics to w, one line each.
func subscribeConsole(sub bus.Subscriber, cfg *config.Config, w io.Writer) error {
	var mu sync.Mutex
	emit := func(line string) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintln(w, line)
	}
	if err := bus.SubscribeJSON(sub, cfg.TopicMotionState, func(s motion.Snapshot) { emit(formatSnapshot(s)) }); err != nil {
		return err
	}
	if err := bus.SubscribeJSON(sub, cfg.TopicActivity, func(r motion.ActivityRecord) { emit(formatRecord(r)) }); err != nil {
		return err
	}
	return bus.SubscribeJSON(sub, cfg.TopicNotify, func(n motion.Notification) { emit(formatNotification(n)) })
}

func formatSnapshot(s motion.Snapshot) string {
	since := "-"
	if !s.LastActivityStart.IsZero() {
		since = s.LastActivityStart.Local().Format(time.TimeOnly)
	}
	return fmt.Sprintf("[STATE] steps=%6d  activity=%-7s  since=%s", s.Steps, s.Activity(), since)
}

func formatRecord(r motion.ActivityRecord) string {
	return fmt.Sprintf("[LOG  ] %s %s-%s  %dmin  %d steps  id=%s",
		r.Type,
		r.Start.Local().Format(time.TimeOnly),
		r.End.Local().Format(time.TimeOnly),
		r.DurationMinutes, r.Steps, r.ID,
	)
}

func formatNotification(n motion.Notification) string {
	return fmt.Sprintf("[NOTE ] %s %s (%s)", n.Title, n.Body, n.Tag)
}
