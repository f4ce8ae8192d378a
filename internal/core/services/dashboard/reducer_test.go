package dashboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/services/liveness"
)

func ptr[T any](v T) *T { return &v }

var t0 = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func epoch(t time.Time) float64 {
	return float64(t.UnixMilli()) / 1000
}

func newTestState(g domain.Granularity) State {
	return NewState(g, liveness.DefaultThreshold, time.UTC, t0)
}

func status(st domain.RobotState, ts time.Time) domain.StatusReceived {
	return domain.StatusReceived{
		Patch:      domain.StatusPatch{Status: ptr(st), Timestamp: ptr(epoch(ts))},
		ReceivedAt: ts,
	}
}

func TestNewState_StartsOfflineWithoutData(t *testing.T) {
	s := newTestState(domain.Hourly)

	assert.False(t, s.Liveness.IsOnline)
	assert.Equal(t, domain.ReasonNoData, s.Liveness.Reason)
	assert.Equal(t, domain.StateOffline, s.Robot.Status)
	assert.Equal(t, "hourly_chili_picks/2024-06-15", s.SourcePath)
	assert.Len(t, s.Series.Buckets, 24)
}

func TestReduce_StatusMakesRobotOnline(t *testing.T) {
	s := newTestState(domain.Hourly)

	s = Reduce(s, status(domain.StateGrabbing, t0))

	assert.True(t, s.Liveness.IsOnline)
	assert.Equal(t, domain.StateGrabbing, s.Robot.Status)
	assert.Empty(t, s.Robot.Error, "offline reason is cleared by a fresh record")
}

func TestReduce_TickPastThresholdForcesOffline(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, status(domain.StateMovingToObject, t0))
	require.True(t, s.Liveness.IsOnline)

	s = Reduce(s, domain.TimerTick{Now: t0.Add(5 * time.Second)})
	assert.True(t, s.Liveness.IsOnline, "exactly at the threshold is still online")

	s = Reduce(s, domain.TimerTick{Now: t0.Add(12 * time.Second)})
	assert.False(t, s.Liveness.IsOnline)
	assert.Equal(t, domain.StateOffline, s.Robot.Status)
	assert.Equal(t, "12 seconds", s.Robot.Error)
	assert.Equal(t, "12 seconds", s.Liveness.Reason)
}

func TestReduce_OnlineTransitionKeepsReportedStatus(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, status(domain.StateIdle, t0))
	s = Reduce(s, domain.TimerTick{Now: t0.Add(time.Minute)})
	require.Equal(t, domain.StateOffline, s.Robot.Status)

	// A record with only angles revives liveness but leaves the sentinel status.
	later := t0.Add(61 * time.Second)
	s = Reduce(s, domain.StatusReceived{
		Patch:      domain.StatusPatch{Joint1: ptr(45.0), Timestamp: ptr(epoch(later))},
		ReceivedAt: later,
	})

	assert.True(t, s.Liveness.IsOnline)
	assert.Equal(t, domain.StateOffline, s.Robot.Status)
	assert.Equal(t, 45.0, s.Robot.Joint1)
	assert.Empty(t, s.Robot.Error)
}

func TestReduce_ArmErrorSurvivesPartialUpdate(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, domain.StatusReceived{
		Patch:      domain.StatusPatch{Status: ptr(domain.StateGrabbing), Error: ptr("gripper slip"), Timestamp: ptr(epoch(t0))},
		ReceivedAt: t0,
	})
	next := t0.Add(time.Second)
	s = Reduce(s, domain.StatusReceived{
		Patch:      domain.StatusPatch{Joint2: ptr(10.0), Timestamp: ptr(epoch(next))},
		ReceivedAt: next,
	})

	assert.Equal(t, "gripper slip", s.Robot.Error)
}

func TestReduce_MissingTimestampIsStampedOnReceipt(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, domain.StatusReceived{
		Patch:      domain.StatusPatch{Status: ptr(domain.StateIdle)},
		ReceivedAt: t0,
	})

	require.NotNil(t, s.Robot.Timestamp)
	assert.InDelta(t, epoch(t0), *s.Robot.Timestamp, 0.001)
	assert.True(t, s.Liveness.IsOnline)
}

func TestReduce_FeedFailedForcesOfflineUntilNextRecord(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, status(domain.StateIdle, t0))

	s = Reduce(s, domain.FeedFailed{Err: "connection refused", At: t0.Add(time.Second)})
	assert.False(t, s.Liveness.IsOnline)
	assert.Equal(t, "connection refused", s.Robot.Error)

	s = Reduce(s, domain.TimerTick{Now: t0.Add(2 * time.Second)})
	assert.False(t, s.Liveness.IsOnline, "transport error persists across ticks")

	s = Reduce(s, status(domain.StateIdle, t0.Add(3*time.Second)))
	assert.True(t, s.Liveness.IsOnline)
	assert.Empty(t, s.FeedErr)
}

func TestReduce_StatisticsApplyPartially(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, domain.StatisticsReceived{Patch: domain.StatisticsPatch{TotalPicked: ptr(int64(8)), TotalAttempts: ptr(int64(10))}})
	s = Reduce(s, domain.StatisticsReceived{Patch: domain.StatisticsPatch{TotalAttempts: ptr(int64(16))}})

	assert.Equal(t, int64(8), s.Stats.TotalPicked)
	assert.Equal(t, int64(16), s.Stats.TotalAttempts)
	assert.Equal(t, "50.00", s.Stats.SuccessRate())
}

func TestReduce_CountsFromStaleGenerationAreIgnored(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, domain.GranularityChanged{Granularity: domain.Hourly, Generation: 1, Path: "hourly_chili_picks/2024-06-15", Now: t0})
	s = Reduce(s, domain.GranularityChanged{Granularity: domain.Monthly, Generation: 2, Path: "monthly_chili_picks/2024", Now: t0})

	s = Reduce(s, domain.CountsReceived{Generation: 1, Path: "hourly_chili_picks/2024-06-15", Counts: map[string]int64{"10": 7}})
	assert.Len(t, s.Series.Buckets, 12)
	assert.Equal(t, int64(0), s.Series.Total())

	s = Reduce(s, domain.CountsReceived{Generation: 2, Path: "monthly_chili_picks/2024", Counts: map[string]int64{"06": 40, "01": 2}})
	require.Len(t, s.Series.Buckets, 12)
	assert.Equal(t, int64(2), s.Series.Buckets[0].Value)
	assert.Equal(t, int64(40), s.Series.Buckets[5].Value)
	assert.Equal(t, "Jun", s.Series.Buckets[5].Label)
}

func TestReduce_GranularityChangeResetsSeries(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, domain.CountsReceived{Generation: 0, Path: s.SourcePath, Counts: map[string]int64{"09": 3}})
	require.Equal(t, int64(3), s.Series.Total())

	s = Reduce(s, domain.GranularityChanged{Granularity: domain.Daily, Generation: 1, Now: t0})

	assert.Equal(t, domain.Daily, s.Granularity)
	assert.Equal(t, "daily_chili_picks/2024-06", s.SourcePath)
	assert.Len(t, s.Series.Buckets, 30)
	assert.Equal(t, int64(0), s.Series.Total())
	assert.Nil(t, s.Counts)
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := newTestState(domain.Hourly)
	counts := map[string]int64{"01": 1}
	next := Reduce(s, domain.CountsReceived{Path: s.SourcePath, Counts: counts})

	counts["01"] = 99
	assert.Equal(t, int64(1), next.Series.Buckets[1].Value)
	assert.Nil(t, s.Counts)
}

func TestReduce_TracksCycleTime(t *testing.T) {
	s := newTestState(domain.Hourly)
	s = Reduce(s, status(domain.StateIdle, t0))
	s = Reduce(s, status(domain.StateMovingToObject, t0.Add(time.Second)))
	s = Reduce(s, status(domain.StateGrabbing, t0.Add(3*time.Second)))
	s = Reduce(s, status(domain.StatePicked, t0.Add(5*time.Second)))

	assert.Equal(t, 1, s.Cycles.Completed)
	assert.Equal(t, "4.0s", s.Cycles.FormatAverage())
}
