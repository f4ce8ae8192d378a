package domain

import "time"

// Event is an input of the dashboard reducer.
type Event interface {
	isEvent()
}

// StatusReceived is a robot_status record delivered by the feed.
type StatusReceived struct {
	Patch      StatusPatch
	ReceivedAt time.Time
}

// StatisticsReceived is a statistics record delivered by the feed.
type StatisticsReceived struct {
	Patch      StatisticsPatch
	ReceivedAt time.Time
}

// CountsReceived is a per-period count map delivered on the chart subscription
// identified by Generation.
type CountsReceived struct {
	Generation uint64
	Path       string
	Counts     map[string]int64
	ReceivedAt time.Time
}

// TimerTick is the periodic staleness re-evaluation.
type TimerTick struct {
	Now time.Time
}

// GranularityChanged selects a new chart resolution. Generation identifies the
// subscription that will feed it.
type GranularityChanged struct {
	Granularity Granularity
	Generation  uint64
	Path        string
	Now         time.Time
}

// FeedFailed reports a transport error on the status feed.
type FeedFailed struct {
	Err string
	At  time.Time
}

func (StatusReceived) isEvent()     {}
func (StatisticsReceived) isEvent() {}
func (CountsReceived) isEvent()     {}
func (TimerTick) isEvent()          {}
func (GranularityChanged) isEvent() {}
func (FeedFailed) isEvent()         {}
