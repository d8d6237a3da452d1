package imu

import (
	"encoding/json"
	"math"
	"time"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// Accel is one accelerometer sample on the wire, in m/s² with gravity.
// A null axis means the sensor did not report it. The parquet tags make
// it the row type of recorded traces.
type Accel struct {
	Source string   `json:"source" parquet:"name=source, type=BYTE_ARRAY, convertedtype=UTF8, encoding=PLAIN_DICTIONARY"` // device or producer name
	X      *float64 `json:"x" parquet:"name=x, type=DOUBLE, repetitiontype=OPTIONAL"`
	Y      *float64 `json:"y" parquet:"name=y, type=DOUBLE, repetitiontype=OPTIONAL"`
	Z      *float64 `json:"z" parquet:"name=z, type=DOUBLE, repetitiontype=OPTIONAL"`
	TS     int64    `json:"ts" parquet:"name=ts, type=INT64, convertedtype=TIMESTAMP_MILLIS"` // unix milliseconds, 0 when unknown
}

// FromReading encodes r. NaN axes become null and a zero time becomes ts 0.
func FromReading(source string, r motion.Reading) Accel {
	axis := func(v float64) *float64 {
		if math.IsNaN(v) {
			return nil
		}
		return &v
	}
	a := Accel{Source: source, X: axis(r.X), Y: axis(r.Y), Z: axis(r.Z)}
	if !r.Time.IsZero() {
		a.TS = r.Time.UnixMilli()
	}
	return a
}

// Reading decodes a into an engine reading. A zero ts is left as a zero
// time so the engine drops the sample.
func (a Accel) Reading() motion.Reading {
	axis := func(v *float64) float64 {
		if v == nil {
			return motion.Missing
		}
		return *v
	}
	r := motion.Reading{X: axis(a.X), Y: axis(a.Y), Z: axis(a.Z)}
	if a.TS != 0 {
		r.Time = time.UnixMilli(a.TS)
	}
	return r
}

// Decode parses a JSON payload.
func Decode(payload []byte) (Accel, error) {
	var a Accel
	err := json.Unmarshal(payload, &a)
	return a, err
}
