// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/activitylog"
	"github.com/relabs-tech/motion_tracker/internal/bus"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/motion"
	"github.com/relabs-tech/motion_tracker/internal/sensors"
	"github.com/relabs-tech/motion_tracker/internal/trace"
)

// RunTracker runs the motion engine on the configured sample source until
// ctx is cancelled or a replayed trace ends.
func RunTracker(ctx context.Context) error {
	cfg := config.Get()
	log := logrus.WithField("component", "tracker")
	log.WithField("source", cfg.SampleSource).Info("starting motion tracker")

	client, err := bus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDTracker)
	if err != nil {
		return err
	}
	defer bus.Disconnect(client)

	src, err := openSource(cfg, client)
	if err != nil {
		return err
	}
	var done <-chan struct{}
	if replay, ok := src.(*trace.Replay); ok {
		done = replay.Done()
	}

	if cfg.TraceRecordPath != "" {
		rec, err := trace.Create(cfg.TraceRecordPath, cfg.SampleSource, src)
		if err != nil {
			return err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.WithError(err).Warn("trace not finalized")
			}
		}()
		log.WithField("path", cfg.TraceRecordPath).Info("recording trace")
		src = rec
	}

	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
	}

	reg := prometheus.NewRegistry()
	engine := newTrackerEngine(cfg, src, client, rdb, reg)

	if cfg.MetricsPort > 0 {
		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
			Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics listener failed")
			}
		}()
		defer srv.Close()
		log.Infof("metrics on %s/metrics", srv.Addr)
	}

	return runEngine(ctx, engine, done)
}

// openSource returns the sample source selected by SAMPLE_SOURCE.
func openSource(cfg *config.Config, sub bus.Subscriber) (motion.Source, error) {
	switch cfg.SampleSource {
	case config.SourceMQTT:
		return bus.NewSource(sub, cfg.TopicAccel), nil
	case config.SourceIMU:
		src, err := sensors.NewIMUSource(cfg)
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceSerial:
		return sensors.NewSerialSource(cfg.SerialPort, cfg.SerialBaudRate), nil
	case config.SourceReplay:
		readings, err := trace.Open(cfg.TraceReplayPath)
		if err != nil {
			return nil, err
		}
		return trace.NewReplay(idleTail(readings, cfg.Profile), 1), nil
	default:
		return nil, fmt.Errorf("tracker: unknown sample source %q", cfg.SampleSource)
	}
}

// newTrackerEngine wires the engine to its sinks: every session goes to the
// activity topic, and to Redis and the HTTP endpoint when configured.
func newTrackerEngine(cfg *config.Config, src motion.Source, pub bus.Publisher, rdb *redis.Client, reg prometheus.Registerer) *motion.Engine {
	loggers := activitylog.Multi{bus.NewActivityLogger(pub, cfg.TopicActivity)}
	if rdb != nil {
		loggers = append(loggers, activitylog.NewRedisLogger(rdb, cfg.RedisActivityKey))
	}
	if cfg.ActivityLogURL != "" {
		loggers = append(loggers, activitylog.NewHTTPLogger(cfg.ActivityLogURL))
	}

	engine := motion.New(src,
		motion.WithProfile(cfg.Profile),
		motion.WithActivityLogger(loggers),
		motion.WithNotifier(bus.NewNotifier(pub, cfg.TopicNotify)),
		motion.WithMetrics(motion.NewMetrics(reg)),
	)
	engine.AddListener(bus.NewSnapshotPublisher(pub, cfg.TopicMotionState).Listener())
	engine.AddListener(logActivityChanges(logrus.WithField("component", "tracker")))
	return engine
}

// logActivityChanges returns a listener that logs each classification change.
func logActivityChanges(log *logrus.Entry) motion.Listener {
	last := motion.Idle
	return func(s motion.Snapshot) {
		if a := s.Activity(); a != last {
			log.WithFields(logrus.Fields{"from": last, "to": a, "steps": s.Steps}).Info("activity changed")
			last = a
		}
	}
}

// runEngine starts engine and blocks until ctx is done or done is closed,
// then stops it and waits for pending deliveries.
func runEngine(ctx context.Context, engine *motion.Engine, done <-chan struct{}) error {
	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("tracker: start: %w", err)
	}
	select {
	case <-ctx.Done():
	case <-done:
	}
	engine.Stop()
	engine.Wait()
	return nil
}
