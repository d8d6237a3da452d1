package bus

import (
	"context"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// Source feeds the engine from accelerometer samples published on a topic.
// It implements motion.Source.
type Source struct {
	sub   Subscriber
	topic string
	log   *logrus.Entry
}

// NewSource reads imu.Accel payloads from topic.
func NewSource(sub Subscriber, topic string) *Source {
	return &Source{
		sub:   sub,
		topic: topic,
		log:   logrus.WithFields(logrus.Fields{"component": "bus", "topic": topic}),
	}
}

// Subscribe registers handler for every decoded sample. Paho delivers
// messages one at a time on its own goroutine.
func (s *Source) Subscribe(handler func(motion.Reading)) (func(), error) {
	tok := s.sub.Subscribe(s.topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		a, err := imu.Decode(msg.Payload())
		if err != nil {
			s.log.WithError(err).Debug("accel unmarshal error")
			return
		}
		handler(a.Reading())
	})
	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeout)
	defer cancel()
	if err := wait(ctx, tok); err != nil {
		return nil, fmt.Errorf("bus: subscribe %s: %w", s.topic, err)
	}
	s.log.Info("subscribed to accelerometer samples")

	return func() {
		if tok := s.sub.Unsubscribe(s.topic); tok.WaitTimeout(subscribeTimeout) && tok.Error() != nil {
			s.log.WithError(tok.Error()).Warn("unsubscribe failed")
		}
	}, nil
}

// AccelPublisher publishes local readings for remote trackers.
type AccelPublisher struct {
	pub    Publisher
	topic  string
	source string
}

// NewAccelPublisher tags every payload with source.
func NewAccelPublisher(pub Publisher, topic, source string) *AccelPublisher {
	return &AccelPublisher{pub: pub, topic: topic, source: source}
}

// Publish sends one reading at QoS 0.
func (p *AccelPublisher) Publish(ctx context.Context, r motion.Reading) error {
	return publishJSON(ctx, p.pub, p.topic, 0, false, imu.FromReading(p.source, r))
}
