package domain

import (
	"errors"
	"strings"
	"time"
)

// ErrUnknownGranularity is returned for an unrecognised chart resolution.
var ErrUnknownGranularity = errors.New("unknown granularity")

// Granularity is the time-bucket resolution of the history chart.
type Granularity string

const (
	Hourly  Granularity = "hourly"
	Daily   Granularity = "daily"
	Monthly Granularity = "monthly"
)

// ParseGranularity accepts the canonical names and the dashboard selector
// values ("today", "this-month", "this-year").
func ParseGranularity(s string) (Granularity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly", "hour", "today":
		return Hourly, nil
	case "daily", "day", "this-month":
		return Daily, nil
	case "monthly", "month", "this-year":
		return Monthly, nil
	}
	return "", ErrUnknownGranularity
}

// Title is the heading shown above the chart.
func (g Granularity) Title() string {
	switch g {
	case Hourly:
		return "Today"
	case Daily:
		return "This Month"
	case Monthly:
		return "This Year"
	}
	return string(g)
}

// BucketCount is the canonical series length for g at reference date ref.
func BucketCount(g Granularity, ref time.Time) int {
	switch g {
	case Hourly:
		return 24
	case Daily:
		return DaysInMonth(ref)
	case Monthly:
		return 12
	}
	return 0
}

// DaysInMonth returns 28 to 31 for the month containing t.
func DaysInMonth(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}

// Bucket is one time slot of a series.
type Bucket struct {
	Label string `json:"label"`
	Value int64  `json:"value"`
}

// BucketedSeries is a dense, canonically ordered series.
type BucketedSeries struct {
	Granularity Granularity `json:"granularity"`
	Buckets     []Bucket    `json:"buckets"`
}

// Labels returns the bucket labels in order.
func (s BucketedSeries) Labels() []string {
	out := make([]string, len(s.Buckets))
	for i, b := range s.Buckets {
		out[i] = b.Label
	}
	return out
}

// Values returns the bucket values in order.
func (s BucketedSeries) Values() []int64 {
	out := make([]int64, len(s.Buckets))
	for i, b := range s.Buckets {
		out[i] = b.Value
	}
	return out
}

// Total sums every bucket.
func (s BucketedSeries) Total() int64 {
	var total int64
	for _, b := range s.Buckets {
		total += b.Value
	}
	return total
}
