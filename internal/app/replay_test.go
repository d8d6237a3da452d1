package app

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/motion_tracker/internal/motion"
)

func TestReplayLogsSession(t *testing.T) {
	readings := walkTrace(500*time.Millisecond, 3*time.Minute, 20*time.Second)
	res, err := Replay(context.Background(), readings, motion.DefaultProfile())
	require.NoError(t, err)

	assert.Equal(t, len(readings), res.Readings)
	assert.Equal(t, 360, res.Steps)
	assert.Equal(t, motion.Idle, res.Final)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "walk", res.Records[0].Type)
}

func TestReplayClosesSessionOpenAtTraceEnd(t *testing.T) {
	readings := walkTrace(500*time.Millisecond, 3*time.Minute, 0)
	res, err := Replay(context.Background(), readings, motion.DefaultProfile())
	require.NoError(t, err)

	assert.Equal(t, len(readings), res.Readings)
	assert.Equal(t, 360, res.Steps)
	assert.Equal(t, motion.Walking, res.Final, "activity at the last reading of the trace")
	require.Len(t, res.Records, 1)
	assert.Equal(t, "walk", res.Records[0].Type)
	assert.Equal(t, 2, res.Records[0].DurationMinutes)
}

func TestIdleTail(t *testing.T) {
	p := motion.DefaultProfile()
	readings := walkTrace(500*time.Millisecond, 10*time.Second, 0)
	out := idleTail(readings, p)

	last := readings[len(readings)-1]
	require.Len(t, out, len(readings)+int((p.IdleTimeout+time.Second)/tick))
	assert.Equal(t, readings, out[:len(readings)])
	for _, r := range out[len(readings):] {
		assert.InDelta(t, restG, r.Magnitude(), 1e-9)
	}
	assert.Equal(t, last.Time.Add(p.IdleTimeout+time.Second), out[len(out)-1].Time)

	assert.Len(t, idleTail(readings[:1], p), 1)
	assert.Empty(t, idleTail(nil, p))
}

func TestReplayEmptyTrace(t *testing.T) {
	res, err := Replay(context.Background(), nil, motion.DefaultProfile())
	require.NoError(t, err)
	assert.Zero(t, res.Readings)
	assert.Zero(t, res.Steps)
	assert.Equal(t, motion.Idle, res.Final)
}

func TestReplayProfileChangesOutcome(t *testing.T) {
	readings := walkTrace(500*time.Millisecond, 3*time.Minute, 20*time.Second)
	p := motion.DefaultProfile()
	p.ActivityMinDuration = 5 * time.Minute

	res, err := Replay(context.Background(), readings, p)
	require.NoError(t, err)
	assert.Equal(t, 360, res.Steps)
	assert.Empty(t, res.Records, "session shorter than the profile minimum")
}

func TestRunReplayPrintsSummary(t *testing.T) {
	path := writeTrace(t, walkTrace(500*time.Millisecond, 3*time.Minute, 20*time.Second))

	var out bytes.Buffer
	require.NoError(t, RunReplay(context.Background(), path, motion.DefaultProfile(), &out))
	assert.Contains(t, out.String(), "360 steps, ended idle")
	assert.Contains(t, out.String(), "TYPE")
	assert.Contains(t, out.String(), "walk")

	err := RunReplay(context.Background(), filepath.Join(t.TempDir(), "none.parquet"), motion.DefaultProfile(), &out)
	assert.Error(t, err)
}

func TestPrintReplayWithoutSessions(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printReplay(&out, "idle.parquet", ReplayResult{Readings: 10}))
	assert.Equal(t, "trace idle.parquet: 10 readings, 0 steps, ended idle\nno sessions logged\n", out.String())
}
