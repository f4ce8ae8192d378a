package dashboard

import (
	"maps"
	"time"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/services/aggregation"
	"github.com/lcalzada-xor/chira/internal/core/services/liveness"
)

// State is everything the dashboard derives from the feed. It is owned by a
// single goroutine and replaced wholesale by Reduce.
type State struct {
	Robot    domain.RobotStatus
	Stats    domain.StatisticsSnapshot
	Cycles   domain.CycleStats
	Liveness domain.LivenessState

	Granularity domain.Granularity
	Generation  uint64
	SourcePath  string
	Counts      map[string]int64
	Series      domain.BucketedSeries

	Now       time.Time
	Threshold time.Duration
	Location  *time.Location

	// OfflineError marks Robot.Error as written by the liveness monitor
	// rather than reported by the arm.
	OfflineError bool
	// FeedErr holds the last transport error until a record arrives.
	FeedErr string
}

// NewState returns the state before any record has arrived.
func NewState(g domain.Granularity, threshold time.Duration, loc *time.Location, now time.Time) State {
	if loc == nil {
		loc = time.UTC
	}
	s := State{
		Robot:       domain.NewRobotStatus(),
		Granularity: g,
		Now:         now,
		Threshold:   threshold,
		Location:    loc,
	}
	s.SourcePath = aggregation.SourcePath(g, s.Reference())
	s.Series = aggregation.Empty(g, s.Reference())
	return s.evaluate()
}

// Reference is the local date the chart periods are computed against.
func (s State) Reference() time.Time {
	return s.Now.In(s.Location)
}

// Reduce applies one event. It performs no I/O.
func Reduce(s State, ev domain.Event) State {
	switch e := ev.(type) {
	case domain.StatusReceived:
		return s.onStatus(e)

	case domain.StatisticsReceived:
		s.Stats = s.Stats.Apply(e.Patch)
		return s

	case domain.CountsReceived:
		if e.Generation != s.Generation || (e.Path != "" && e.Path != s.SourcePath) {
			return s
		}
		s.Counts = maps.Clone(e.Counts)
		s.Series = aggregation.Aggregate(s.Counts, s.Granularity, s.Reference())
		return s

	case domain.TimerTick:
		if e.Now.After(s.Now) {
			s.Now = e.Now
		}
		return s.evaluate()

	case domain.GranularityChanged:
		if e.Now.After(s.Now) {
			s.Now = e.Now
		}
		s.Granularity = e.Granularity
		s.Generation = e.Generation
		s.SourcePath = e.Path
		if s.SourcePath == "" {
			s.SourcePath = aggregation.SourcePath(e.Granularity, s.Reference())
		}
		s.Counts = nil
		s.Series = aggregation.Empty(e.Granularity, s.Reference())
		return s

	case domain.FeedFailed:
		if e.At.After(s.Now) {
			s.Now = e.At
		}
		s.FeedErr = e.Err
		return s.evaluate()
	}
	return s
}

func (s State) onStatus(e domain.StatusReceived) State {
	if e.ReceivedAt.After(s.Now) {
		s.Now = e.ReceivedAt
	}

	patch := e.Patch
	if patch.Timestamp == nil {
		ts := float64(e.ReceivedAt.UnixMilli()) / 1000
		patch.Timestamp = &ts
	}

	if s.OfflineError && patch.Error == nil {
		cleared := ""
		patch.Error = &cleared
	}
	s.OfflineError = false
	s.FeedErr = ""

	prev := s.Robot.Status
	s.Robot = s.Robot.Apply(patch)
	if patch.Status != nil {
		s.Cycles = s.Cycles.Observe(prev, *patch.Status, *s.Robot.Timestamp)
	}
	return s.evaluate()
}

// evaluate re-derives liveness. Going offline forces the status sentinel and
// replaces the error with the reason; coming online leaves status alone.
func (s State) evaluate() State {
	lv := liveness.Evaluate(s.Robot.Timestamp, s.Now, s.Threshold)
	if s.FeedErr != "" {
		lv.IsOnline = false
		lv.Reason = s.FeedErr
	}

	if !lv.IsOnline {
		s.Robot.Status = domain.StateOffline
		s.Robot.Error = lv.Reason
		s.OfflineError = true
		s.Cycles.StartedAt = nil
	}
	s.Liveness = lv
	return s
}
