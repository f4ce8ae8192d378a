package mock

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/services/ingest"
)

type published struct {
	path    string
	payload []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (p *recordingPublisher) Publish(ctx context.Context, path string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{path: path, payload: payload})
	return nil
}

func (p *recordingPublisher) byPath(path string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []published
	for _, m := range p.msgs {
		if m.path == path {
			out = append(out, m)
		}
	}
	return out
}

func (p *recordingPublisher) last(path string) (published, bool) {
	msgs := p.byPath(path)
	if len(msgs) == 0 {
		return published{}, false
	}
	return msgs[len(msgs)-1], true
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

var start = time.Date(2024, 6, 15, 10, 30, 0, 0, time.UTC)

func newSim(t *testing.T, scenario Scenario, seed int64) (*RobotSimulator, *recordingPublisher, *clock) {
	t.Helper()
	pub := &recordingPublisher{}
	clk := &clock{t: start}
	sim := NewRobotSimulator(pub, scenario, nil, WithSeed(seed), WithClock(clk.Now), WithLocation(time.UTC))
	return sim, pub, clk
}

func counts(t *testing.T, msg published) map[string]int64 {
	t.Helper()
	m, err := ingest.DecodeCounts(msg.path, msg.payload)
	require.NoError(t, err)
	return m
}

func total(m map[string]int64) int64 {
	var n int64
	for _, v := range m {
		n += v
	}
	return n
}

func TestParseScenario(t *testing.T) {
	assert.Equal(t, ScenarioFaulty, ParseScenario("faulty"))
	assert.Equal(t, ScenarioFlaky, ParseScenario("flaky"))
	assert.Equal(t, ScenarioBasic, ParseScenario("basic"))
	assert.Equal(t, ScenarioBasic, ParseScenario("nonsense"))
}

func TestRobotSimulator_BackfillIsConsistent(t *testing.T) {
	sim, pub, _ := newSim(t, ScenarioBasic, 1)
	require.NoError(t, sim.Backfill(context.Background()))

	hourlyMsg, ok := pub.last("hourly_chili_picks/2024-06-15")
	require.True(t, ok)
	dailyMsg, ok := pub.last("daily_chili_picks/2024-06")
	require.True(t, ok)
	monthlyMsg, ok := pub.last("monthly_chili_picks/2024")
	require.True(t, ok)

	hourly, daily, monthly := counts(t, hourlyMsg), counts(t, dailyMsg), counts(t, monthlyMsg)

	for key := range hourly {
		assert.Less(t, key, "10", "no history after the current hour")
	}
	assert.Equal(t, total(hourly), daily["15"])
	assert.Equal(t, total(daily), monthly["06"])
	assert.Len(t, monthly, 6)

	statsMsg, ok := pub.last(domain.PathStatistics)
	require.True(t, ok)
	stats, err := ingest.DecodeStatistics(statsMsg.payload)
	require.NoError(t, err)
	require.NotNil(t, stats.TotalPicked)
	require.NotNil(t, stats.TotalAttempts)
	assert.Equal(t, total(monthly), *stats.TotalPicked)
	assert.GreaterOrEqual(t, *stats.TotalAttempts, *stats.TotalPicked)
}

func TestRobotSimulator_BasicCyclePicksChili(t *testing.T) {
	sim, pub, _ := newSim(t, ScenarioBasic, 42)
	ctx := context.Background()

	const steps = 120
	seen := map[domain.RobotState]bool{}
	for i := 0; i < steps; i++ {
		require.NoError(t, sim.Step(ctx))
		seen[sim.State()] = true
	}

	statuses := pub.byPath(domain.PathRobotStatus)
	assert.Len(t, statuses, steps, "basic scenario publishes every step")

	for _, st := range cycle {
		assert.True(t, seen[st], "state %s never visited", st)
	}
	assert.False(t, seen[domain.StateOffline])

	for _, m := range statuses {
		patch, err := ingest.DecodeStatus(m.payload)
		require.NoError(t, err)
		require.NotNil(t, patch.Status)
		require.NotNil(t, patch.Timestamp)
		assert.InDelta(t, float64(start.Unix()), *patch.Timestamp, 0.001)
		require.NotNil(t, patch.Error)
		assert.Empty(t, *patch.Error)
	}

	picked, attempts := sim.Totals()
	require.Positive(t, picked)
	assert.GreaterOrEqual(t, attempts, picked)

	hourlyMsg, ok := pub.last("hourly_chili_picks/2024-06-15")
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"10": picked}, counts(t, hourlyMsg))

	dailyMsg, _ := pub.last("daily_chili_picks/2024-06")
	assert.Equal(t, map[string]int64{"15": picked}, counts(t, dailyMsg))
}

func TestRobotSimulator_DetectedObjectOnlyDuringCycle(t *testing.T) {
	sim, pub, _ := newSim(t, ScenarioBasic, 7)
	for i := 0; i < 12; i++ {
		require.NoError(t, sim.Step(context.Background()))
	}

	for _, m := range pub.byPath(domain.PathRobotStatus) {
		patch, err := ingest.DecodeStatus(m.payload)
		require.NoError(t, err)
		switch *patch.Status {
		case domain.StateIdle:
			assert.True(t, patch.ClearObject, "idle arm reports no object")
		case domain.StateMovingToObject, domain.StateGrabbing:
			assert.NotNil(t, patch.DetectedObject)
		}
	}
}

func TestRobotSimulator_FaultyReportsErrors(t *testing.T) {
	sim, pub, _ := newSim(t, ScenarioFaulty, 3)
	for i := 0; i < 500; i++ {
		require.NoError(t, sim.Step(context.Background()))
	}

	var faulted bool
	for _, m := range pub.byPath(domain.PathRobotStatus) {
		patch, err := ingest.DecodeStatus(m.payload)
		require.NoError(t, err)
		if *patch.Status == domain.StateOffline {
			require.NotNil(t, patch.Error)
			assert.NotEmpty(t, *patch.Error)
			faulted = true
		}
	}
	assert.True(t, faulted, "faulty arm never raised a fault in 500 steps")

	picked, attempts := sim.Totals()
	assert.Greater(t, attempts, picked, "faulty arm misses some grabs")
}

func TestRobotSimulator_FlakyGoesSilent(t *testing.T) {
	sim, pub, _ := newSim(t, ScenarioFlaky, 5)
	const steps = 1000
	for i := 0; i < steps; i++ {
		require.NoError(t, sim.Step(context.Background()))
	}
	assert.Less(t, len(pub.byPath(domain.PathRobotStatus)), steps)
}

func TestRobotSimulator_PeriodRollover(t *testing.T) {
	sim, pub, clk := newSim(t, ScenarioBasic, 11)
	ctx := context.Background()
	require.NoError(t, sim.Backfill(ctx))

	clk.Set(time.Date(2024, 7, 1, 0, 5, 0, 0, time.UTC))
	before, _ := sim.Totals()
	for i := 0; i < 200; i++ {
		require.NoError(t, sim.Step(ctx))
		if p, _ := sim.Totals(); p > before {
			break
		}
	}
	after, _ := sim.Totals()
	require.Greater(t, after, before)

	hourlyMsg, ok := pub.last("hourly_chili_picks/2024-07-01")
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"00": after - before}, counts(t, hourlyMsg))

	dailyMsg, ok := pub.last("daily_chili_picks/2024-07")
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"01": after - before}, counts(t, dailyMsg))

	// Same year: the monthly map keeps its history
	monthlyMsg, ok := pub.last("monthly_chili_picks/2024")
	require.True(t, ok)
	monthly := counts(t, monthlyMsg)
	assert.Equal(t, after-before, monthly["07"])
	assert.Positive(t, monthly["06"])
}

func TestRobotSimulator_RunStopsOnCancel(t *testing.T) {
	pub := &recordingPublisher{}
	sim := NewRobotSimulator(pub, ScenarioBasic, nil, WithSeed(9))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return len(pub.byPath(domain.PathRobotStatus)) >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	for _, m := range pub.byPath(domain.PathRobotStatus) {
		var raw map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(m.payload, &raw))
		for _, key := range []string{"status", "sudut1", "sudut2", "sudut3", "ee_angle", "detected_object_cm", "error", "timestamp"} {
			assert.Contains(t, raw, key)
		}
		assert.False(t, strings.Contains(string(raw["status"]), "OFFLINE"))
	}
}

type failingPublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *failingPublisher) Publish(context.Context, string, []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return errors.New("broker gone")
}

func (p *failingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func TestRobotSimulator_RunSurvivesPublishFailures(t *testing.T) {
	pub := &failingPublisher{}
	sim := NewRobotSimulator(pub, ScenarioBasic, nil, WithSeed(3))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		sim.Run(ctx, 5*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return pub.count() >= 3 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.NotEqual(t, domain.StateOffline, sim.State())
}
