package trace

import (
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/buffer"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// sliceSource delivers its readings on a separate goroutine, then returns.
type sliceSource struct {
	readings []motion.Reading
	wg       sync.WaitGroup
}

func (s *sliceSource) Subscribe(handler func(motion.Reading)) (func(), error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, r := range s.readings {
			handler(r)
		}
	}()
	return func() {}, nil
}

var t0 = time.UnixMilli(1772352000000)

func readings() []motion.Reading {
	return []motion.Reading{
		{Time: t0, X: 0.1, Y: 0.2, Z: 9.8},
		{Time: t0.Add(20 * time.Millisecond), X: 0.3, Y: motion.Missing, Z: 9.7},
		{X: 1, Y: 1, Z: 1},
		{Time: t0.Add(60 * time.Millisecond), X: -0.4, Y: 0.0, Z: 10.9},
	}
}

func TestRecordAndReadBack(t *testing.T) {
	fw := buffer.NewBufferFile()
	src := &sliceSource{readings: readings()}
	rec, err := NewRecorder(fw, "wrist", src)
	require.NoError(t, err)

	var forwarded []motion.Reading
	_, err = rec.Subscribe(func(r motion.Reading) { forwarded = append(forwarded, r) })
	require.NoError(t, err)
	src.wg.Wait()

	assert.Len(t, forwarded, 4)
	assert.Equal(t, 4, rec.Rows())
	require.NoError(t, rec.Close())
	require.NoError(t, rec.Close(), "second close is a no-op")

	got, err := ReadAll(buffer.NewBufferFileFromBytes(fw.Bytes()))
	require.NoError(t, err)
	require.Len(t, got, 4)

	assert.True(t, got[0].Time.Equal(t0))
	assert.Equal(t, 9.8, got[0].Z)
	assert.True(t, math.IsNaN(got[1].Y))
	assert.Equal(t, 0.3, got[1].X)
	assert.True(t, got[2].Time.IsZero())
	assert.False(t, got[2].Complete())
	assert.Equal(t, 0.0, got[3].Y)
	assert.True(t, got[3].Complete())
}

func TestRecorderFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "walk.parquet")
	src := &sliceSource{readings: readings()}
	rec, err := Create(path, "wrist", src)
	require.NoError(t, err)
	_, err = rec.Subscribe(func(motion.Reading) {})
	require.NoError(t, err)
	src.wg.Wait()
	require.NoError(t, rec.Close())

	got, err := Open(path)
	require.NoError(t, err)
	assert.Len(t, got, 4)

	_, err = Open(filepath.Join(t.TempDir(), "missing.parquet"))
	assert.Error(t, err)
}

func TestReplayDeliversInOrder(t *testing.T) {
	p := NewReplay(readings(), 0)
	assert.Equal(t, 4, p.Len())

	var got []motion.Reading
	_, err := p.Subscribe(func(r motion.Reading) { got = append(got, r) })
	require.NoError(t, err)

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("replay did not finish")
	}
	require.Len(t, got, 4)
	assert.True(t, got[3].Time.Equal(t0.Add(60*time.Millisecond)))

	_, err = p.Subscribe(func(motion.Reading) {})
	assert.Error(t, err, "a replay plays once")
}

func TestReplayCancel(t *testing.T) {
	long := []motion.Reading{{Time: t0, Z: 9.8}, {Time: t0.Add(time.Hour), Z: 9.8}}
	p := NewReplay(long, 1)

	calls := 0
	cancel, err := p.Subscribe(func(motion.Reading) { calls++ })
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	cancel()
	cancel()

	select {
	case <-p.Done():
	case <-time.After(time.Second):
		t.Fatal("cancel did not stop the replay")
	}
	assert.Equal(t, 1, calls)
}

func TestReplayGap(t *testing.T) {
	p := NewReplay(nil, 2)
	assert.Equal(t, 50*time.Millisecond, p.gap(t0, t0.Add(100*time.Millisecond)))
	assert.Zero(t, p.gap(time.Time{}, t0))
	assert.Zero(t, p.gap(t0, t0.Add(-time.Second)))
	assert.Zero(t, NewReplay(nil, 0).gap(t0, t0.Add(time.Second)))
}
