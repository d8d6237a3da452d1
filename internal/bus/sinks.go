package bus

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// ActivityLogger publishes each logged session to a topic at QoS 1.
// It implements motion.ActivityLogger.
type ActivityLogger struct {
	pub   Publisher
	topic string
}

func NewActivityLogger(pub Publisher, topic string) *ActivityLogger {
	return &ActivityLogger{pub: pub, topic: topic}
}

func (l *ActivityLogger) LogActivity(ctx context.Context, rec motion.ActivityRecord) error {
	return publishJSON(ctx, l.pub, l.topic, 1, false, rec)
}

// Notifier publishes notifications for whatever UI shows them.
// It implements motion.Notifier.
type Notifier struct {
	pub   Publisher
	topic string
}

func NewNotifier(pub Publisher, topic string) *Notifier {
	return &Notifier{pub: pub, topic: topic}
}

func (n *Notifier) Notify(ctx context.Context, msg motion.Notification) error {
	return publishJSON(ctx, n.pub, n.topic, 0, false, msg)
}

// SnapshotPublisher mirrors engine state onto a retained topic so late
// subscribers see the current state immediately.
type SnapshotPublisher struct {
	pub   Publisher
	topic string
	log   *logrus.Entry
}

func NewSnapshotPublisher(pub Publisher, topic string) *SnapshotPublisher {
	return &SnapshotPublisher{
		pub:   pub,
		topic: topic,
		log:   logrus.WithFields(logrus.Fields{"component": "bus", "topic": topic}),
	}
}

// Listener returns an engine listener. It runs inside sample processing,
// so the broker acknowledgement is checked off that path.
func (p *SnapshotPublisher) Listener() motion.Listener {
	return func(s motion.Snapshot) {
		payload, err := json.Marshal(s)
		if err != nil {
			p.log.WithError(err).Warn("snapshot marshal error")
			return
		}
		tok := p.pub.Publish(p.topic, 0, true, payload)
		go func() {
			if tok.WaitTimeout(subscribeTimeout) && tok.Error() != nil {
				p.log.WithError(tok.Error()).Warn("snapshot publish failed")
			}
		}()
	}
}
