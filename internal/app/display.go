package app

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/devices/v3/ssd1306"
	"periph.io/x/devices/v3/ssd1306/image1bit"
	"periph.io/x/host/v3"

	"github.com/relabs-tech/motion_tracker/internal/bus"
	"github.com/relabs-tech/motion_tracker/internal/config"
	"github.com/relabs-tech/motion_tracker/internal/motion"
)

// DisplayData holds the latest data for display
type DisplayData struct {
	mu sync.RWMutex

	snapshot     motion.Snapshot
	haveSnapshot bool

	lastRecord motion.ActivityRecord
	haveRecord bool
}

func (d *DisplayData) setSnapshot(s motion.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.snapshot = s
	d.haveSnapshot = true
}

func (d *DisplayData) setRecord(r motion.ActivityRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastRecord = r
	d.haveRecord = true
}

// screen is a copy of DisplayData without the lock.
type screen struct {
	snapshot     motion.Snapshot
	haveSnapshot bool
	lastRecord   motion.ActivityRecord
	haveRecord   bool
}

func (d *DisplayData) screen() screen {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return screen{
		snapshot:     d.snapshot,
		haveSnapshot: d.haveSnapshot,
		lastRecord:   d.lastRecord,
		haveRecord:   d.haveRecord,
	}
}

// RunDisplay shows steps and activity on the SSD1306 until ctx is cancelled.
func RunDisplay(ctx context.Context) error {
	cfg := config.Get()
	log := logrus.WithField("component", "display")

	if _, err := host.Init(); err != nil {
		return fmt.Errorf("failed to initialize periph: %w", err)
	}

	i2cBus, err := i2creg.Open("")
	if err != nil {
		return fmt.Errorf("failed to open I2C bus: %w", err)
	}
	defer i2cBus.Close()

	dev, err := ssd1306.NewI2C(addrBus{Bus: i2cBus, addr: cfg.DisplayI2CAddr}, &ssd1306.DefaultOpts)
	if err != nil {
		return fmt.Errorf("failed to initialize display: %w", err)
	}
	defer dev.Halt()
	log.Infof("display initialized at 0x%02X", cfg.DisplayI2CAddr)

	if err := dev.Draw(dev.Bounds(), renderLines("Motion Tracker", "", "Calibrating..."), image.Point{}); err != nil {
		log.WithError(err).Warn("error showing splash")
	}

	client, err := bus.Connect(cfg.MQTTBroker, cfg.MQTTClientIDDisplay)
	if err != nil {
		return err
	}
	defer bus.Disconnect(client)

	data := &DisplayData{}
	if err := bus.SubscribeJSON(client, cfg.TopicMotionState, data.setSnapshot); err != nil {
		return err
	}
	if err := bus.SubscribeJSON(client, cfg.TopicActivity, data.setRecord); err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cfg.DisplayUpdateInterval) * time.Millisecond)
	defer ticker.Stop()

	log.Info("starting update loop")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := dev.Draw(dev.Bounds(), renderStatus(data.screen(), time.Now()), image.Point{}); err != nil {
				log.WithError(err).Warn("error updating display")
			}
		}
	}
}

// addrBus sends every transaction to addr. The ssd1306 driver always
// addresses 0x3C; panels strapped to 0x3D need the redirect.
type addrBus struct {
	i2c.Bus
	addr uint16
}

func (b addrBus) Tx(_ uint16, w, r []byte) error { return b.Bus.Tx(b.addr, w, r) }

// statusLines lays out the four text rows of the status screen.
func statusLines(s screen, now time.Time) []string {
	if !s.haveSnapshot {
		return []string{"Motion Tracker", "", "Waiting..."}
	}
	lines := []string{
		fmt.Sprintf("Steps: %d", s.snapshot.Steps),
		activityLabel(s.snapshot.Activity()),
	}
	if start := s.snapshot.LastActivityStart; !start.IsZero() && s.snapshot.Activity() != motion.Idle {
		lines = append(lines, fmt.Sprintf("For %s", now.Sub(start).Truncate(time.Second)))
	} else {
		lines = append(lines, "")
	}
	if s.haveRecord {
		lines = append(lines, fmt.Sprintf("Last: %s %dm", s.lastRecord.Type, s.lastRecord.DurationMinutes))
	}
	return lines
}

func activityLabel(a motion.Activity) string {
	switch a {
	case motion.Walking:
		return "WALKING"
	case motion.Running:
		return "RUNNING"
	default:
		return "Idle"
	}
}

func renderStatus(s screen, now time.Time) *image1bit.VerticalLSB {
	return renderLines(statusLines(s, now)...)
}

// renderLines draws up to four rows of 7x13 text on a 128x64 frame.
func renderLines(lines ...string) *image1bit.VerticalLSB {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, 128, 64))

	drawer := &font.Drawer{
		Dst:  img,
		Src:  &image.Uniform{image1bit.On},
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		if i == 4 {
			break
		}
		drawer.Dot = fixed.P(0, 13*(i+1))
		drawer.DrawString(line)
	}
	return img
}
