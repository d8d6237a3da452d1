// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"

	nmea "github.com/adrianmo/go-nmea"
	serial "github.com/jacobsa/go-serial/serial"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// TypeACC is the sentence type of a serial accelerometer line:
//
//	$IMACC,<x>,<y>,<z>*CS
//
// with axes in m/s². An empty field is an axis the sensor did not report.
const TypeACC = "ACC"

// ACC is a parsed accelerometer sentence.
type ACC struct {
	nmea.BaseSentence
	X, Y, Z float64 // NaN when missing
}

func init() {
	nmea.MustRegisterParser(TypeACC, parseACC)
}

func parseACC(s nmea.BaseSentence) (nmea.Sentence, error) {
	if len(s.Fields) != 3 {
		return nil, fmt.Errorf("nmea: %s expects 3 fields, got %d", TypeACC, len(s.Fields))
	}
	p := nmea.NewParser(s)
	axis := func(i int, name string) float64 {
		if s.Fields[i] == "" {
			return math.NaN()
		}
		return p.Float64(i, name)
	}
	m := ACC{
		BaseSentence: s,
		X:            axis(0, "x"),
		Y:            axis(1, "y"),
		Z:            axis(2, "z"),
	}
	return m, p.Err()
}

// SerialSource reads ACC sentences from a serial accelerometer.
// It implements motion.Source.
type SerialSource struct {
	open func() (io.ReadCloser, error)
	now  func() time.Time
	log  *logrus.Entry
}

// NewSerialSource reads from the given port at baud.
func NewSerialSource(port string, baud int) *SerialSource {
	opts := serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(baud),
		DataBits:              8,
		StopBits:              1,
		MinimumReadSize:       1,
		ParityMode:            serial.PARITY_NONE,
		InterCharacterTimeout: 0,
	}
	return &SerialSource{
		open: func() (io.ReadCloser, error) {
			rwc, err := serial.Open(opts)
			if err != nil {
				return nil, err
			}
			return rwc, nil
		},
		now: time.Now,
		log: logrus.WithFields(logrus.Fields{"component": "serial", "port": port}),
	}
}

// Subscribe opens the port and delivers one reading per valid sentence
// until cancel is called or the port fails.
func (s *SerialSource) Subscribe(handler func(motion.Reading)) (func(), error) {
	port, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("serial: open: %w", err)
	}
	s.log.Info("serial port opened")

	var once sync.Once
	cancel := func() { once.Do(func() { port.Close() }) }

	go func() {
		defer cancel()
		reader := bufio.NewReader(port)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				if err != io.EOF {
					s.log.WithError(err).Debug("read stopped")
				}
				return
			}
			r, ok := s.parseLine(line)
			if ok {
				handler(r)
			}
		}
	}()
	return cancel, nil
}

// parseLine turns one line into a reading. Noise and other sentence types
// are skipped.
func (s *SerialSource) parseLine(line string) (motion.Reading, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return motion.Reading{}, false
	}
	sentence, err := nmea.Parse(line)
	if err != nil {
		s.log.WithError(err).Trace("unparseable sentence")
		return motion.Reading{}, false
	}
	acc, ok := sentence.(ACC)
	if !ok {
		return motion.Reading{}, false
	}
	return motion.Reading{Time: s.now(), X: acc.X, Y: acc.Y, Z: acc.Z}, true
}
