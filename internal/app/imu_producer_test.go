package app

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// goSource delivers its readings from a goroutine, like a hardware source.
type goSource struct {
	readings []motion.Reading
	err      error
}

func (s goSource) Subscribe(handler func(motion.Reading)) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	go func() {
		for _, r := range s.readings {
			handler(r)
		}
	}()
	return func() {}, nil
}

type recordingPublisher struct {
	mu   sync.Mutex
	got  []motion.Reading
	err  error
	seen int
}

func (p *recordingPublisher) Publish(_ context.Context, r motion.Reading) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen++
	if p.err != nil {
		return p.err
	}
	p.got = append(p.got, r)
	return nil
}

func (p *recordingPublisher) count() (seen, ok int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen, len(p.got)
}

func TestProduceForwardsReadings(t *testing.T) {
	readings := walkTrace(500*time.Millisecond, time.Second, 0)[:40]
	pub := &recordingPublisher{}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- produce(ctx, goSource{readings: readings}, pub, logrus.NewEntry(logrus.New())) }()

	require.Eventually(t, func() bool { _, ok := pub.count(); return ok == 40 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)

	pub.mu.Lock()
	defer pub.mu.Unlock()
	assert.True(t, pub.got[0].Time.Equal(readings[0].Time))
	assert.True(t, pub.got[39].Time.Equal(readings[39].Time))
}

func TestProduceKeepsGoingOnPublishErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker gone")}
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		errc <- produce(ctx, goSource{readings: make([]motion.Reading, 10)}, pub, logrus.NewEntry(logrus.New()))
	}()

	require.Eventually(t, func() bool { seen, _ := pub.count(); return seen == 10 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)
	_, ok := pub.count()
	assert.Zero(t, ok)
}

func TestProduceSubscribeError(t *testing.T) {
	err := produce(context.Background(), goSource{err: motion.ErrUnsupported}, &recordingPublisher{}, logrus.NewEntry(logrus.New()))
	assert.ErrorIs(t, err, motion.ErrUnsupported)
}
