package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/i2c"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

func TestStatusLines(t *testing.T) {
	now := t0.Add(90 * time.Second)
	tests := []struct {
		name string
		in   screen
		want []string
	}{
		{
			name: "waiting",
			in:   screen{},
			want: []string{"Motion Tracker", "", "Waiting..."},
		},
		{
			name: "idle",
			in:   screen{snapshot: motion.Snapshot{Steps: 12}, haveSnapshot: true},
			want: []string{"Steps: 12", "Idle", ""},
		},
		{
			name: "walking",
			in: screen{
				snapshot:     motion.Snapshot{Steps: 230, IsWalking: true, LastActivityStart: t0},
				haveSnapshot: true,
			},
			want: []string{"Steps: 230", "WALKING", "For 1m30s"},
		},
		{
			name: "idle after a logged run",
			in: screen{
				snapshot:     motion.Snapshot{Steps: 900, LastActivityStart: t0},
				haveSnapshot: true,
				lastRecord:   motion.ActivityRecord{Type: "run", DurationMinutes: 7},
				haveRecord:   true,
			},
			want: []string{"Steps: 900", "Idle", "", "Last: run 7m"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusLines(tt.in, now))
		})
	}
}

func TestDisplayDataUpdates(t *testing.T) {
	d := &DisplayData{}
	d.setSnapshot(motion.Snapshot{Steps: 3, IsRunning: true})
	d.setRecord(motion.ActivityRecord{Type: "walk", DurationMinutes: 2})

	s := d.screen()
	assert.True(t, s.haveSnapshot)
	assert.True(t, s.haveRecord)
	assert.Equal(t, motion.Running, s.snapshot.Activity())
	assert.Equal(t, "walk", s.lastRecord.Type)
}

func lit(pix []byte) int {
	n := 0
	for _, b := range pix {
		for ; b != 0; b &= b - 1 {
			n++
		}
	}
	return n
}

func TestRenderLines(t *testing.T) {
	assert.Zero(t, lit(renderLines().Pix))

	one := lit(renderLines("Steps: 1").Pix)
	assert.Positive(t, one)

	img := renderStatus(screen{snapshot: motion.Snapshot{Steps: 1}, haveSnapshot: true}, t0)
	assert.Greater(t, lit(img.Pix), one)
	assert.Len(t, img.Pix, 128*64/8)

	five := renderLines("a", "b", "c", "d", "e")
	four := renderLines("a", "b", "c", "d")
	assert.Equal(t, four.Pix, five.Pix, "only four rows fit")
}

type txBus struct {
	i2c.Bus
	addrs []uint16
}

func (b *txBus) Tx(addr uint16, _, _ []byte) error {
	b.addrs = append(b.addrs, addr)
	return nil
}

func TestAddrBusRedirects(t *testing.T) {
	inner := &txBus{}
	b := addrBus{Bus: inner, addr: 0x3D}
	assert.NoError(t, b.Tx(0x3C, []byte{0}, nil))
	assert.Equal(t, []uint16{0x3D}, inner.addrs)
}
