package motion

import (
	"context"
	"math"
	"sync"
	"time"
)

const (
	restG = 9.8
	tick  = 25 * time.Millisecond // 40Hz keeps 375/500/600/750ms periods whole
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// fakeSource hands readings to the subscribed handler synchronously.
type fakeSource struct {
	mu         sync.Mutex
	handler    func(Reading)
	err        error
	subscribed int
	cancelled  int
}

func (f *fakeSource) Subscribe(h func(Reading)) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.handler = h
	f.subscribed++
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.handler = nil
		f.cancelled++
	}, nil
}

func (f *fakeSource) push(r Reading) {
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	if h != nil {
		h(r)
	}
}

// feeder generates a synthetic trace on a fake clock, 40Hz unless tick is changed.
type feeder struct {
	src  *fakeSource
	at   time.Time
	tick time.Duration
}

func newFeeder(src *fakeSource) *feeder { return &feeder{src: src, at: t0, tick: tick} }

func (f *feeder) emit(magnitude float64) {
	f.at = f.at.Add(f.tick)
	f.src.push(Reading{Time: f.at, X: 0, Y: 0, Z: magnitude})
}

func (f *feeder) flat(n int, magnitude float64) {
	for i := 0; i < n; i++ {
		f.emit(magnitude)
	}
}

func (f *feeder) calibrate() { f.flat(DefaultProfile().CalibrationSamples, restG) }

func (f *feeder) rest(d time.Duration) { f.flat(int(d/f.tick), restG) }

// gait emits steps periods of a stride waveform. Each period opens with a
// small negative lobe (sway, below threshold) followed by a +3.0 m/s² heel
// strike lobe, so exactly one candidate falls in every period.
func (f *feeder) gait(period time.Duration, steps int) {
	n := int(period / f.tick)
	for s := 0; s < steps; s++ {
		for k := 0; k < n; k++ {
			v := math.Sin(math.Pi + 2*math.Pi*float64(k)/float64(n))
			dev := 3.0 * v
			if v < 0 {
				dev = 0.8 * v
			}
			f.emit(restG + dev)
		}
	}
}

func (f *feeder) walkFor(period, d time.Duration) { f.gait(period, int(d/period)) }

type recordingLogger struct {
	mu      sync.Mutex
	records []ActivityRecord
	err     error
}

func (l *recordingLogger) LogActivity(_ context.Context, rec ActivityRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *recordingLogger) all() []ActivityRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]ActivityRecord(nil), l.records...)
}

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []Notification
	grant bool
	asked int
}

func (n *recordingNotifier) Notify(_ context.Context, msg Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) tags() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, s := range n.sent {
		out = append(out, s.Tag)
	}
	return out
}

type askingNotifier struct {
	recordingNotifier
}

func (n *askingNotifier) RequestPermission(context.Context) (bool, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.asked++
	return n.grant, nil
}

type permissionFunc func(ctx context.Context) (bool, error)

func (f permissionFunc) RequestPermission(ctx context.Context) (bool, error) { return f(ctx) }

func grantAll() PermissionRequester {
	return permissionFunc(func(context.Context) (bool, error) { return true, nil })
}
