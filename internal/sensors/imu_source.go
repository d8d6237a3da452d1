// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/devices/v3/mpu9250"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// StandardGravity converts g to m/s².
const StandardGravity = 9.80665

// accelDevice is the part of the MPU9250 driver the source needs.
type accelDevice interface {
	GetAccelerationX() (int16, error)
	GetAccelerationY() (int16, error)
	GetAccelerationZ() (int16, error)
}

// IMUSource polls an MPU9250 accelerometer and serves readings in m/s².
// It implements motion.Source.
type IMUSource struct {
	name     string
	dev      accelDevice
	scale    float64 // m/s² per count
	interval time.Duration
	now      func() time.Time
	log      *logrus.Entry
}

// NewIMUSource initializes the MPU9250 named by IMU_SPI_DEVICE / IMU_CS_PIN.
func NewIMUSource(cfg *config.Config) (*IMUSource, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("imu: periph host init: %w", err)
	}

	cs := gpioreg.ByName(cfg.IMUCSPin)
	if cs == nil {
		return nil, fmt.Errorf("imu: CS pin %q not found", cfg.IMUCSPin)
	}

	tr, err := mpu9250.NewSpiTransport(cfg.IMUSPIDevice, cs)
	if err != nil {
		return nil, fmt.Errorf("imu: SPI transport (%s): %w", cfg.IMUSPIDevice, err)
	}

	dev, err := mpu9250.New(*tr)
	if err != nil {
		return nil, fmt.Errorf("imu: device creation: %w", err)
	}

	if err := dev.Init(); err != nil {
		return nil, fmt.Errorf("imu: initialization: %w", err)
	}

	log := logrus.WithField("component", "imu")
	if err := dev.SetAccelRange(cfg.IMUAccelRange); err != nil {
		return nil, fmt.Errorf("imu: set accel range: %w", err)
	}
	log.Infof("accelerometer range set to %d (±%dg)", cfg.IMUAccelRange, []int{2, 4, 8, 16}[cfg.IMUAccelRange])

	// Bias calibration needs the device at rest; a failure only costs accuracy.
	if err := dev.Calibrate(); err != nil {
		log.WithError(err).Warn("calibration failed")
	} else {
		log.Info("calibration complete")
	}

	return newIMUSource(cfg.IMUSPIDevice, dev, cfg.IMUAccelRange, time.Duration(cfg.IMUSampleInterval)*time.Millisecond), nil
}

func newIMUSource(name string, dev accelDevice, accelRange byte, interval time.Duration) *IMUSource {
	return &IMUSource{
		name:     name,
		dev:      dev,
		scale:    CountsToMS2(1, accelRange),
		interval: interval,
		now:      time.Now,
		log:      logrus.WithFields(logrus.Fields{"component": "imu", "device": name}),
	}
}

// CountsToMS2 converts a raw accelerometer count at the given full-scale
// range (0=±2g .. 3=±16g) to m/s².
func CountsToMS2(counts int16, accelRange byte) float64 {
	perG := float64(int(16384) >> accelRange)
	return float64(counts) / perG * StandardGravity
}

// Read takes one sample from the device.
func (s *IMUSource) Read() (motion.Reading, error) {
	ax, err := s.dev.GetAccelerationX()
	if err != nil {
		return motion.Reading{}, fmt.Errorf("imu accel X: %w", err)
	}
	ay, err := s.dev.GetAccelerationY()
	if err != nil {
		return motion.Reading{}, fmt.Errorf("imu accel Y: %w", err)
	}
	az, err := s.dev.GetAccelerationZ()
	if err != nil {
		return motion.Reading{}, fmt.Errorf("imu accel Z: %w", err)
	}
	return motion.Reading{
		Time: s.now(),
		X:    float64(ax) * s.scale,
		Y:    float64(ay) * s.scale,
		Z:    float64(az) * s.scale,
	}, nil
}

// Name identifies the device in payloads.
func (s *IMUSource) Name() string { return s.name }

// Subscribe polls the device every interval on its own goroutine until
// cancel is called. Read errors are logged and the tick skipped.
func (s *IMUSource) Subscribe(handler func(motion.Reading)) (func(), error) {
	stop := make(chan struct{})
	var once sync.Once

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				r, err := s.Read()
				if err != nil {
					s.log.WithError(err).Warn("read failed")
					continue
				}
				handler(r)
			}
		}
	}()

	return func() { once.Do(func() { close(stop) }) }, nil
}
