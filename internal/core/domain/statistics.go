package domain

import (
	"fmt"
	"time"
)

// StatisticsSnapshot holds the cumulative pick counters published by the arm.
type StatisticsSnapshot struct {
	TotalPicked   int64 `json:"chili_picked_count"`
	TotalAttempts int64 `json:"total_picking_attempts"`
}

// StatisticsPatch carries the counters present in one statistics record.
type StatisticsPatch struct {
	TotalPicked   *int64
	TotalAttempts *int64
}

// Apply merges a patch, clamping counters at zero.
func (s StatisticsSnapshot) Apply(p StatisticsPatch) StatisticsSnapshot {
	if p.TotalPicked != nil {
		s.TotalPicked = max(*p.TotalPicked, 0)
	}
	if p.TotalAttempts != nil {
		s.TotalAttempts = max(*p.TotalAttempts, 0)
	}
	return s
}

// SuccessRate returns the pick success percentage of the snapshot.
func (s StatisticsSnapshot) SuccessRate() string {
	return SuccessRate(s.TotalPicked, s.TotalAttempts)
}

// SuccessRate formats picked/attempts*100 with two decimals.
// Zero attempts is a defined case and yields "0.00".
func SuccessRate(picked, attempts int64) string {
	if attempts <= 0 {
		return "0.00"
	}
	return fmt.Sprintf("%.2f", float64(picked)/float64(attempts)*100)
}

// CycleStats tracks how long the arm takes from leaving for an object to
// reporting it picked.
type CycleStats struct {
	Completed int           `json:"completed"`
	Total     time.Duration `json:"total"`
	// StartedAt is the publisher timestamp of the running cycle, nil when idle.
	StartedAt *float64 `json:"started_at,omitempty"`
}

// Observe advances the cycle tracker with a state reported at ts (epoch seconds).
func (c CycleStats) Observe(prev, next RobotState, ts float64) CycleStats {
	if next == prev {
		return c
	}
	switch next {
	case StateMovingToObject:
		start := ts
		c.StartedAt = &start
	case StatePicked:
		if c.StartedAt != nil && ts >= *c.StartedAt {
			c.Completed++
			c.Total += time.Duration((ts - *c.StartedAt) * float64(time.Second))
		}
		c.StartedAt = nil
	case StateOffline, StateIdle:
		c.StartedAt = nil
	}
	return c
}

// Average returns the mean cycle time, zero before the first completed cycle.
func (c CycleStats) Average() time.Duration {
	if c.Completed == 0 {
		return 0
	}
	return c.Total / time.Duration(c.Completed)
}

// FormatAverage renders the mean cycle time for the stat card.
func (c CycleStats) FormatAverage() string {
	if c.Completed == 0 {
		return "-"
	}
	return fmt.Sprintf("%.1fs", c.Average().Seconds())
}
