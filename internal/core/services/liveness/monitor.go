// Package liveness derives whether the status feed is reachable from the age
// of the newest record.
package liveness

import (
	"fmt"
	"math"
	"time"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

// DefaultThreshold is the staleness window used when none is configured.
const DefaultThreshold = 5 * time.Second

// Evaluate compares the newest record timestamp (epoch seconds) against now.
// A nil timestamp means no record has ever arrived.
func Evaluate(lastTimestamp *float64, now time.Time, threshold time.Duration) domain.LivenessState {
	if lastTimestamp == nil {
		return domain.LivenessState{Reason: domain.ReasonNoData}
	}

	seen := epochToTime(*lastTimestamp)
	state := domain.LivenessState{LastSeenAt: &seen}

	diff := now.UnixMilli() - epochMillis(*lastTimestamp)
	if diff > threshold.Milliseconds() {
		state.Reason = FormatElapsed(time.Duration(diff) * time.Millisecond)
		return state
	}

	state.IsOnline = true
	return state
}

// FormatElapsed renders an elapsed time the way the status toast shows it.
func FormatElapsed(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)

	switch {
	case total < 60:
		return plural(total, "second")
	case total < 3600:
		return plural(total/60, "minute") + " " + plural(total%60, "second")
	default:
		return plural(total/3600, "hour") + " " + plural((total%3600)/60, "minute")
	}
}

func plural(n int64, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", unit)
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

func epochMillis(sec float64) int64 {
	return int64(math.Round(sec * 1000))
}

func epochToTime(sec float64) time.Time {
	return time.UnixMilli(epochMillis(sec)).UTC()
}
