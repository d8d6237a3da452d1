package app

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/relabs-tech/motion_tracker/internal/bus"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/motion"
	"github.com/relabs-tech/motion_tracker/internal/sensors"
)

// RunIMUProducer samples the local MPU9250 and publishes every reading on
// the accelerometer topic for a remote tracker.
func RunIMUProducer(ctx context.Context) error {
	cfg := config.Get()
	log := logrus.WithField("component", "imu_producer")
	log.Info("starting accelerometer producer (IMU -> MQTT)")

	src, err := sensors.NewIMUSource(cfg)
	if err != nil {
		return err
	}

	client, err := bus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDProducer)
	if err != nil {
		return err
	}
	defer bus.Disconnect(client)

	log.Infof("publishing every %dms on %s", cfg.IMUSampleInterval, cfg.TopicAccel)
	return produce(ctx, src, bus.NewAccelPublisher(client, cfg.TopicAccel, src.Name()), log)
}

type accelPublisher interface {
	Publish(ctx context.Context, r motion.Reading) error
}

// produce forwards readings from src to pub until ctx is done. Readings
// that arrive while the broker is slow are dropped rather than queued.
func produce(ctx context.Context, src motion.Source, pub accelPublisher, log *logrus.Entry) error {
	readings := make(chan motion.Reading, 64)
	var dropped atomic.Int64
	cancel, err := src.Subscribe(func(r motion.Reading) {
		select {
		case readings <- r:
		default:
			dropped.Add(1)
		}
	})
	if err != nil {
		return err
	}
	defer cancel()

	warn := rate.Sometimes{First: 1, Interval: 10 * time.Second}
	var published int
	for {
		select {
		case <-ctx.Done():
			log.WithFields(logrus.Fields{"published": published, "dropped": dropped.Load()}).Info("producer stopped")
			return nil
		case r := <-readings:
			pubCtx, done := context.WithTimeout(ctx, time.Second)
			err := pub.Publish(pubCtx, r)
			done()
			if err != nil {
				warn.Do(func() { log.WithError(err).Warn("MQTT publish error (accel)") })
				continue
			}
			published++
			if published%1000 == 0 {
				log.WithField("published", published).Debug("producer tick")
			}
		}
	}
}
