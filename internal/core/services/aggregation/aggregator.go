// Package aggregation turns sparse per-period count maps into dense chart
// series.
package aggregation

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

var monthLabels = [12]string{
	"Jan", "Feb", "Mar", "Apr", "May", "Jun",
	"Jul", "Aug", "Sep", "Oct", "Nov", "Dec",
}

// Aggregate builds the canonical series for g. Buckets absent from raw are
// zero; keys outside the period are ignored. Output is ordered by bucket
// index, never by key or count.
func Aggregate(raw map[string]int64, g domain.Granularity, ref time.Time) domain.BucketedSeries {
	n := domain.BucketCount(g, ref)
	series := domain.BucketedSeries{
		Granularity: g,
		Buckets:     make([]domain.Bucket, n),
	}
	for i := range series.Buckets {
		series.Buckets[i].Label = label(g, i)
	}

	for key, count := range raw {
		idx, ok := bucketIndex(g, key, n)
		if !ok || count <= 0 {
			continue
		}
		series.Buckets[idx].Value += count
	}
	return series
}

// Empty is the zero-filled series for g.
func Empty(g domain.Granularity, ref time.Time) domain.BucketedSeries {
	return Aggregate(nil, g, ref)
}

// SourcePath is the feed path holding the counts for g in the period of ref.
func SourcePath(g domain.Granularity, ref time.Time) string {
	switch g {
	case domain.Hourly:
		return "hourly_chili_picks/" + ref.Format("2006-01-02")
	case domain.Daily:
		return "daily_chili_picks/" + ref.Format("2006-01")
	case domain.Monthly:
		return "monthly_chili_picks/" + ref.Format("2006")
	}
	return ""
}

// BucketKey is the zero-padded key a publisher uses for the bucket holding t.
func BucketKey(g domain.Granularity, t time.Time) string {
	switch g {
	case domain.Hourly:
		return fmt.Sprintf("%02d", t.Hour())
	case domain.Daily:
		return fmt.Sprintf("%02d", t.Day())
	case domain.Monthly:
		return fmt.Sprintf("%02d", int(t.Month()))
	}
	return ""
}

func label(g domain.Granularity, i int) string {
	switch g {
	case domain.Hourly:
		return fmt.Sprintf("%d:00", i)
	case domain.Daily:
		return strconv.Itoa(i + 1)
	case domain.Monthly:
		return monthLabels[i]
	}
	return ""
}

// bucketIndex maps a source key to its slot. Hours are 0-based, days and
// months 1-based.
func bucketIndex(g domain.Granularity, key string, n int) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(key))
	if err != nil {
		return 0, false
	}
	if g != domain.Hourly {
		v--
	}
	if v < 0 || v >= n {
		return 0, false
	}
	return v, true
}
