package sensors

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/motion"
)

var fixed = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeAccel struct {
	x, y, z int16
	err     error
	reads   atomic.Int32
}

func (f *fakeAccel) GetAccelerationX() (int16, error) {
	f.reads.Add(1)
	return f.x, f.err
}
func (f *fakeAccel) GetAccelerationY() (int16, error) { return f.y, f.err }
func (f *fakeAccel) GetAccelerationZ() (int16, error) { return f.z, f.err }

func TestCountsToMS2(t *testing.T) {
	assert.InDelta(t, StandardGravity, CountsToMS2(16384, 0), 1e-9)
	assert.InDelta(t, StandardGravity, CountsToMS2(8192, 1), 1e-9)
	assert.InDelta(t, -StandardGravity, CountsToMS2(-4096, 2), 1e-9)
	assert.InDelta(t, -2*StandardGravity, CountsToMS2(-8192, 2), 1e-9)
	assert.InDelta(t, StandardGravity, CountsToMS2(2048, 3), 1e-9)
}

func TestNewIMUSourceWithoutHardware(t *testing.T) {
	cfg := config.Default()
	cfg.IMUCSPin = "NO_SUCH_PIN"
	src, err := NewIMUSource(cfg)
	assert.Error(t, err)
	assert.Nil(t, src)
}

func TestIMUSourceRead(t *testing.T) {
	dev := &fakeAccel{x: 0, y: 4096, z: 16384}
	src := newIMUSource("spi0", dev, 0, 10*time.Millisecond)
	src.now = func() time.Time { return fixed }

	r, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, fixed, r.Time)
	assert.InDelta(t, StandardGravity/4, r.Y, 1e-9)
	assert.InDelta(t, StandardGravity, r.Z, 1e-9)
	assert.True(t, r.Complete())

	dev.err = errors.New("spi timeout")
	_, err = src.Read()
	assert.ErrorContains(t, err, "spi timeout")
}

func TestIMUSourceSubscribe(t *testing.T) {
	dev := &fakeAccel{z: 16384}
	src := newIMUSource("spi0", dev, 0, 2*time.Millisecond)

	got := make(chan motion.Reading, 64)
	cancel, err := src.Subscribe(func(r motion.Reading) {
		select {
		case got <- r:
		default:
		}
	})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		select {
		case r := <-got:
			assert.InDelta(t, StandardGravity, r.Magnitude(), 1e-9)
		case <-time.After(time.Second):
			t.Fatal("no reading")
		}
	}
	cancel()
	cancel()

	time.Sleep(20 * time.Millisecond)
	after := dev.reads.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, dev.reads.Load(), "polling stops after cancel")
}

func TestParseACC(t *testing.T) {
	src := &SerialSource{now: func() time.Time { return fixed }, log: logrus.WithField("component", "serial")}

	r, ok := src.parseLine("$IMACC,0.12,-0.30,9.79*5D\r\n")
	require.True(t, ok)
	assert.Equal(t, fixed, r.Time)
	assert.Equal(t, 0.12, r.X)
	assert.Equal(t, -0.30, r.Y)
	assert.Equal(t, 9.79, r.Z)

	r, ok = src.parseLine("$IMACC,,0.5,9.8*6D")
	require.True(t, ok)
	assert.True(t, math.IsNaN(r.X))
	assert.False(t, r.Complete())

	for _, line := range []string{
		"",
		"garbage",
		"$IMACC,0.12,-0.30,9.79*00", // bad checksum
		"$IMACC,1.0,2.0*46",         // too few fields
		"$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70",
	} {
		_, ok := src.parseLine(line)
		assert.False(t, ok, line)
	}
}

func TestSerialSourceSubscribe(t *testing.T) {
	stream := strings.Join([]string{
		"$IMACC,0.0,0.0,9.8*" + checksum("IMACC,0.0,0.0,9.8"),
		"noise",
		"$IMACC,0.1,0.0,9.9*" + checksum("IMACC,0.1,0.0,9.9"),
	}, "\r\n") + "\r\n"

	src := &SerialSource{
		open: func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader(stream)), nil },
		now:  time.Now,
		log:  logrus.WithField("component", "serial"),
	}
	got := make(chan motion.Reading, 4)
	cancel, err := src.Subscribe(func(r motion.Reading) { got <- r })
	require.NoError(t, err)
	defer cancel()

	for _, z := range []float64{9.8, 9.9} {
		select {
		case r := <-got:
			assert.Equal(t, z, r.Z)
		case <-time.After(time.Second):
			t.Fatal("no reading")
		}
	}

	failing := &SerialSource{
		open: func() (io.ReadCloser, error) { return nil, errors.New("no such port") },
		log:  logrus.WithField("component", "serial"),
	}
	_, err = failing.Subscribe(func(motion.Reading) {})
	assert.Error(t, err)
}

func checksum(body string) string {
	var c byte
	for i := 0; i < len(body); i++ {
		c ^= body[i]
	}
	return fmt.Sprintf("%02X", c)
}
