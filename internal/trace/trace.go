// Package trace records accelerometer streams to parquet files and replays
// them through the engine.
package trace

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/relabs-tech/motion_tracker/internal/imu"
	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// Recorder passes readings from a source through unchanged and appends
// every one of them to a parquet file.
type Recorder struct {
	src  motion.Source
	name string
	file source.ParquetFile
	log  *logrus.Entry

	mu     sync.Mutex
	pw     *writer.ParquetWriter
	rows   int
	err    error
	closed bool
}

// Create records src into a new file at path.
func Create(path, name string, src motion.Source) (*Recorder, error) {
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("trace: create %s: %w", path, err)
	}
	return NewRecorder(fw, name, src)
}

// NewRecorder records src into fw, tagging rows with name.
func NewRecorder(fw source.ParquetFile, name string, src motion.Source) (*Recorder, error) {
	pw, err := writer.NewParquetWriter(fw, new(imu.Accel), 4)
	if err != nil {
		return nil, fmt.Errorf("trace: parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY
	return &Recorder{
		src:  src,
		name: name,
		file: fw,
		pw:   pw,
		log:  logrus.WithField("component", "trace"),
	}, nil
}

// Subscribe implements motion.Source.
func (r *Recorder) Subscribe(handler func(motion.Reading)) (func(), error) {
	return r.src.Subscribe(func(rd motion.Reading) {
		r.write(rd)
		handler(rd)
	})
}

func (r *Recorder) write(rd motion.Reading) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed || r.err != nil {
		return
	}
	if err := r.pw.Write(imu.FromReading(r.name, rd)); err != nil {
		r.err = err
		r.log.WithError(err).Error("trace write failed, recording stopped")
		return
	}
	r.rows++
}

// Rows returns the number of readings recorded so far.
func (r *Recorder) Rows() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rows
}

// Close flushes the footer and closes the file. Readings arriving after
// Close are forwarded but not recorded.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.pw.WriteStop()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	if err = errors.Join(r.err, err); err != nil {
		return fmt.Errorf("trace: close: %w", err)
	}
	r.log.WithField("rows", r.rows).Info("trace closed")
	return nil
}

// ReadAll loads every reading from a trace file.
func ReadAll(pf source.ParquetFile) ([]motion.Reading, error) {
	pr, err := reader.NewParquetReader(pf, new(imu.Accel), 4)
	if err != nil {
		return nil, fmt.Errorf("trace: parquet reader: %w", err)
	}
	defer pr.ReadStop()

	rows := make([]imu.Accel, int(pr.GetNumRows()))
	if err := pr.Read(&rows); err != nil {
		return nil, fmt.Errorf("trace: read: %w", err)
	}
	out := make([]motion.Reading, len(rows))
	for i, a := range rows {
		out[i] = a.Reading()
	}
	return out, nil
}

// Open loads the trace at path.
func Open(path string) ([]motion.Reading, error) {
	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("trace: open %s: %w", path, err)
	}
	defer fr.Close()
	return ReadAll(fr)
}

// Replay is a motion.Source that plays back recorded readings in order.
// Speed 1 keeps the recorded spacing, 2 plays twice as fast and 0 plays
// without pauses.
type Replay struct {
	readings []motion.Reading
	speed    float64
	done     chan struct{}
	once     sync.Once
}

func NewReplay(readings []motion.Reading, speed float64) *Replay {
	return &Replay{readings: readings, speed: speed, done: make(chan struct{})}
}

// Done is closed once the trace has been fully delivered or cancelled.
func (p *Replay) Done() <-chan struct{} { return p.done }

// Len returns the number of readings in the trace.
func (p *Replay) Len() int { return len(p.readings) }

// Subscribe implements motion.Source. A Replay plays once.
func (p *Replay) Subscribe(handler func(motion.Reading)) (func(), error) {
	stop := make(chan struct{})
	var stopOnce sync.Once
	started := false
	p.once.Do(func() { started = true })
	if !started {
		return nil, errors.New("trace: replay already played")
	}

	go func() {
		defer close(p.done)
		var prev time.Time
		for _, rd := range p.readings {
			if wait := p.gap(prev, rd.Time); wait > 0 {
				t := time.NewTimer(wait)
				select {
				case <-t.C:
				case <-stop:
					t.Stop()
					return
				}
			}
			select {
			case <-stop:
				return
			default:
			}
			handler(rd)
			if !rd.Time.IsZero() {
				prev = rd.Time
			}
		}
	}()
	return func() { stopOnce.Do(func() { close(stop) }) }, nil
}

func (p *Replay) gap(prev, next time.Time) time.Duration {
	if p.speed <= 0 || prev.IsZero() || next.IsZero() || !next.After(prev) {
		return 0
	}
	return time.Duration(float64(next.Sub(prev)) / p.speed)
}
