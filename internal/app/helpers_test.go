package app

import (
	"io"
	"math"
	"os"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

func TestMain(m *testing.M) {
	logrus.SetOutput(io.Discard)
	os.Exit(m.Run())
}

const (
	restG = 9.8
	tick  = 25 * time.Millisecond
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// walkTrace is a 40Hz trace: calibration at rest, one heel strike per
// period for walk, then rest.
func walkTrace(period, walk, rest time.Duration) []motion.Reading {
	var out []motion.Reading
	at := t0
	emit := func(m float64) {
		at = at.Add(tick)
		out = append(out, motion.Reading{Time: at, Z: m})
	}
	for i := 0; i < motion.DefaultProfile().CalibrationSamples; i++ {
		emit(restG)
	}
	n := int(period / tick)
	for s := 0; s < int(walk/period); s++ {
		for k := 0; k < n; k++ {
			v := math.Sin(math.Pi + 2*math.Pi*float64(k)/float64(n))
			dev := 3.0 * v
			if v < 0 {
				dev = 0.8 * v
			}
			emit(restG + dev)
		}
	}
	for i := 0; i < int(rest/tick); i++ {
		emit(restG)
	}
	return out
}

// staticSource delivers its readings synchronously inside Subscribe.
type staticSource []motion.Reading

func (s staticSource) Subscribe(handler func(motion.Reading)) (func(), error) {
	for _, r := range s {
		handler(r)
	}
	return func() {}, nil
}

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

func (m message) Duplicate() bool   { return false }
func (m message) Qos() byte         { return 0 }
func (m message) Retained() bool    { return false }
func (m message) Topic() string     { return m.topic }
func (m message) MessageID() uint16 { return 0 }
func (m message) Payload() []byte   { return m.payload }
func (m message) Ack()              {}

type published struct {
	topic    string
	retained bool
	payload  []byte
}

// fakeBroker is an in-memory bus.Publisher and bus.Subscriber.
type fakeBroker struct {
	mu       sync.Mutex
	handlers map[string]mqtt.MessageHandler
	sent     []published
}

func newBroker() *fakeBroker { return &fakeBroker{handlers: map[string]mqtt.MessageHandler{}} }

func (b *fakeBroker) Publish(topic string, _ byte, retained bool, payload interface{}) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sent = append(b.sent, published{topic, retained, payload.([]byte)})
	return newToken(nil)
}

func (b *fakeBroker) Subscribe(topic string, _ byte, cb mqtt.MessageHandler) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = cb
	return newToken(nil)
}

func (b *fakeBroker) Unsubscribe(topics ...string) mqtt.Token {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range topics {
		delete(b.handlers, t)
	}
	return newToken(nil)
}

func (b *fakeBroker) deliver(topic, payload string) {
	b.mu.Lock()
	h := b.handlers[topic]
	b.mu.Unlock()
	if h != nil {
		h(nil, message{topic: topic, payload: []byte(payload)})
	}
}

func (b *fakeBroker) on(topic string) []published {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []published
	for _, p := range b.sent {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}
