package app

import (
	"context"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relabs-tech/motion_tracker/internal/motion"
	"github.com/relabs-tech/motion_tracker/internal/trace"
)

// ReplayResult is what one trace produced under a profile.
type ReplayResult struct {
	Readings int
	Steps    int
	Final    motion.Activity
	Records  []motion.ActivityRecord
}

// collector is an ActivityLogger that keeps every record.
type collector struct {
	mu      sync.Mutex
	records []motion.ActivityRecord
}

func (c *collector) LogActivity(_ context.Context, rec motion.ActivityRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = append(c.records, rec)
	return nil
}

// Replay runs readings through a fresh engine tuned with profile, as fast
// as they can be processed, and collects the sessions it logs. The trace is
// followed by rest readings lasting past the idle timeout so a session still
// open at the end of the trace closes and is judged like a live one. Final is
// the activity at the last reading of the trace.
func Replay(ctx context.Context, readings []motion.Reading, profile motion.Profile) (ReplayResult, error) {
	sink := &collector{}
	var (
		engine *motion.Engine
		final  motion.Snapshot
	)
	src := &markedSource{
		Replay: trace.NewReplay(idleTail(readings, profile), 0),
		mark:   len(readings),
		atMark: func() { final = engine.CurrentData() },
	}
	engine = motion.New(src,
		motion.WithProfile(profile),
		motion.WithActivityLogger(sink),
		motion.WithLogger(logrus.WithField("component", "replay")),
	)

	if err := engine.Start(ctx); err != nil {
		return ReplayResult{}, fmt.Errorf("replay: start: %w", err)
	}
	select {
	case <-src.Done():
	case <-ctx.Done():
		engine.Stop()
		engine.Wait()
		return ReplayResult{}, ctx.Err()
	}
	engine.Stop()
	engine.Wait()

	sink.mu.Lock()
	defer sink.mu.Unlock()
	return ReplayResult{
		Readings: len(readings),
		Steps:    final.Steps,
		Final:    final.Activity(),
		Records:  append([]motion.ActivityRecord(nil), sink.records...),
	}, nil
}

// markedSource calls atMark after the engine has taken the first mark readings.
type markedSource struct {
	*trace.Replay
	mark   int
	atMark func()
}

func (s *markedSource) Subscribe(handler func(motion.Reading)) (func(), error) {
	n := 0
	if s.mark == 0 {
		s.atMark()
	}
	return s.Replay.Subscribe(func(r motion.Reading) {
		handler(r)
		if n++; n == s.mark {
			s.atMark()
		}
	})
}

// idleTail appends rest readings for one second past the idle timeout, at the
// trace's mean sample interval and calibrated rest magnitude.
func idleTail(readings []motion.Reading, p motion.Profile) []motion.Reading {
	if len(readings) < 2 {
		return readings
	}
	first, last := readings[0], readings[len(readings)-1]
	step := last.Time.Sub(first.Time) / time.Duration(len(readings)-1)
	if step <= 0 {
		return readings
	}

	calib := readings[:min(len(readings), p.CalibrationSamples)]
	var rest float64
	for _, r := range calib {
		rest += r.Magnitude()
	}
	rest /= float64(len(calib))

	out := append([]motion.Reading(nil), readings...)
	for at := last.Time.Add(step); at.Sub(last.Time) <= p.IdleTimeout+time.Second; at = at.Add(step) {
		out = append(out, motion.Reading{Time: at, Z: rest})
	}
	return out
}

// RunReplay replays the trace at path with profile and prints a summary.
func RunReplay(ctx context.Context, path string, profile motion.Profile, w io.Writer) error {
	readings, err := trace.Open(path)
	if err != nil {
		return err
	}
	res, err := Replay(ctx, readings, profile)
	if err != nil {
		return err
	}
	return printReplay(w, path, res)
}

func printReplay(w io.Writer, path string, res ReplayResult) error {
	fmt.Fprintf(w, "trace %s: %d readings, %d steps, ended %s\n", path, res.Readings, res.Steps, res.Final)
	if len(res.Records) == 0 {
		fmt.Fprintln(w, "no sessions logged")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tSTART\tEND\tMINUTES\tSTEPS")
	for _, r := range res.Records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n",
			r.Type,
			r.Start.UTC().Format(time.TimeOnly),
			r.End.UTC().Format(time.TimeOnly),
			r.DurationMinutes,
			r.Steps,
		)
	}
	return tw.Flush()
}
