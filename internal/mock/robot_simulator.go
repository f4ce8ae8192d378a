// Package mock simulates a ChiRa arm so the dashboard can run without hardware.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
	"github.com/lcalzada-xor/chira/internal/core/services/aggregation"
)

// Scenario selects how well behaved the simulated arm is.
type Scenario string

const (
	// ScenarioBasic picks reliably and never goes quiet.
	ScenarioBasic Scenario = "basic"
	// ScenarioFaulty misses more grabs and occasionally faults.
	ScenarioFaulty Scenario = "faulty"
	// ScenarioFlaky drops off the feed for a while every so often.
	ScenarioFlaky Scenario = "flaky"
)

// ParseScenario maps a name to a Scenario, defaulting to basic.
func ParseScenario(s string) Scenario {
	switch Scenario(s) {
	case ScenarioFaulty, ScenarioFlaky:
		return Scenario(s)
	}
	return ScenarioBasic
}

// work cycle order; PICKED or a missed grab goes back to IDLE
var cycle = []domain.RobotState{
	domain.StateIdle,
	domain.StateObjectDetected,
	domain.StateMovingToObject,
	domain.StateGrabbing,
	domain.StateReturning,
	domain.StatePicked,
}

// joint targets per state, in degrees
var poses = map[domain.RobotState][4]float64{
	domain.StateIdle:           {90, 45, 30, 0},
	domain.StateObjectDetected: {90, 45, 30, 0},
	domain.StateMovingToObject: {120, 70, 55, 15},
	domain.StateGrabbing:       {135, 85, 70, 40},
	domain.StateReturning:      {100, 55, 40, 40},
	domain.StatePicked:         {90, 45, 30, 0},
	domain.StateOffline:        {0, 0, 0, 0},
}

var faults = []string{
	"Gripper torque limit exceeded",
	"Camera frame timeout",
	"Joint 2 encoder mismatch",
	"Emergency stop pressed",
}

type statusRecord struct {
	Status           string           `json:"status"`
	Sudut1           float64          `json:"sudut1"`
	Sudut2           float64          `json:"sudut2"`
	Sudut3           float64          `json:"sudut3"`
	EEAngle          float64          `json:"ee_angle"`
	DetectedObjectCM *domain.Position `json:"detected_object_cm"`
	Error            *string          `json:"error"`
	Timestamp        float64          `json:"timestamp"`
}

type statisticsRecord struct {
	ChiliPickedCount     int64 `json:"chili_picked_count"`
	TotalPickingAttempts int64 `json:"total_picking_attempts"`
}

// period holds the counts published under one source path.
type period struct {
	path   string
	counts map[string]int64
}

// RobotSimulator drives a fake arm through its work cycle and publishes
// what a real one would.
type RobotSimulator struct {
	pub      ports.Publisher
	scenario Scenario
	logger   *slog.Logger
	now      func() time.Time
	loc      *time.Location

	mu       sync.Mutex
	rand     *rand.Rand
	step     int
	state    domain.RobotState
	object   *domain.Position
	fault    string
	silent   int
	downFor  int
	picked   int64
	attempts int64
	periods  map[domain.Granularity]*period
}

// Option customises a RobotSimulator.
type Option func(*RobotSimulator)

// WithSeed makes the simulation reproducible.
func WithSeed(seed int64) Option {
	return func(s *RobotSimulator) { s.rand = rand.New(rand.NewSource(seed)) }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *RobotSimulator) { s.now = now }
}

// WithLocation sets the zone used for bucket keys and period paths.
func WithLocation(loc *time.Location) Option {
	return func(s *RobotSimulator) { s.loc = loc }
}

// NewRobotSimulator creates a simulator publishing to pub.
func NewRobotSimulator(pub ports.Publisher, scenario Scenario, logger *slog.Logger, opts ...Option) *RobotSimulator {
	if logger == nil {
		logger = slog.Default()
	}
	s := &RobotSimulator{
		pub:      pub,
		scenario: scenario,
		logger:   logger.With("component", "simulator", "scenario", string(scenario)),
		now:      time.Now,
		loc:      time.Local,
		rand:     rand.New(rand.NewSource(time.Now().UnixNano())),
		state:    domain.StateIdle,
		periods:  make(map[domain.Granularity]*period),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backfill invents plausible history for the current day, month and year
// and publishes it together with matching statistics.
func (s *RobotSimulator) Backfill(ctx context.Context) error {
	s.mu.Lock()
	now := s.now().In(s.loc)
	s.resetPeriods(now)

	hourly := s.periods[domain.Hourly].counts
	for h := 0; h < now.Hour(); h++ {
		hourly[fmt.Sprintf("%02d", h)] = int64(s.rand.Intn(30))
	}
	daily := s.periods[domain.Daily].counts
	for d := 1; d < now.Day(); d++ {
		daily[fmt.Sprintf("%02d", d)] = int64(100 + s.rand.Intn(200))
	}
	daily[aggregation.BucketKey(domain.Daily, now)] = sum(hourly)
	monthly := s.periods[domain.Monthly].counts
	for m := 1; m < int(now.Month()); m++ {
		monthly[fmt.Sprintf("%02d", m)] = int64(2000 + s.rand.Intn(4000))
	}
	monthly[aggregation.BucketKey(domain.Monthly, now)] = sum(daily)

	s.picked = sum(monthly)
	s.attempts = s.picked + s.picked/8
	picked, attempts := s.picked, s.attempts
	msgs := s.countsMessages()
	msgs = append(msgs, s.statisticsMessage())
	s.mu.Unlock()

	s.logger.Info("Backfilled history", "picked", picked, "attempts", attempts)
	return s.publishAll(ctx, msgs)
}

// Run steps the simulation every interval until ctx is cancelled. Publish
// failures are logged and the arm keeps moving.
func (s *RobotSimulator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Step(ctx); err != nil {
				s.logger.Warn("Publish failed", "error", err)
			}
		}
	}
}

// Step advances the arm by one state and publishes the resulting records.
// While the arm is silent nothing is published.
func (s *RobotSimulator) Step(ctx context.Context) error {
	s.mu.Lock()
	msgs := s.advance()
	s.mu.Unlock()
	return s.publishAll(ctx, msgs)
}

// State is the current simulated state.
func (s *RobotSimulator) State() domain.RobotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Totals returns picked and attempted counts so far.
func (s *RobotSimulator) Totals() (picked, attempts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.picked, s.attempts
}

type message struct {
	path    string
	payload interface{}
}

func (s *RobotSimulator) advance() []message {
	now := s.now().In(s.loc)
	if s.periods[domain.Hourly] == nil || s.periods[domain.Hourly].path != aggregation.SourcePath(domain.Hourly, now) {
		s.rollover(now)
	}

	if s.silent > 0 {
		s.silent--
		return nil
	}
	if s.scenario == ScenarioFlaky && s.rand.Float32() < 0.02 {
		// long enough to trip the default staleness window
		s.silent = 8 + s.rand.Intn(8)
		s.logger.Info("Going silent", "steps", s.silent)
		return nil
	}

	var msgs []message
	switch {
	case s.downFor > 0:
		s.downFor--
		if s.downFor == 0 {
			s.fault = ""
			s.state = domain.StateIdle
			s.step = 0
		}
	case s.scenario == ScenarioFaulty && s.rand.Float32() < 0.03:
		s.fault = faults[s.rand.Intn(len(faults))]
		s.state = domain.StateOffline
		s.object = nil
		s.downFor = 3 + s.rand.Intn(5)
		s.logger.Info("Fault raised", "error", s.fault)
	default:
		msgs = s.nextState(now)
	}

	return append([]message{{path: domain.PathRobotStatus, payload: s.statusRecord(now)}}, msgs...)
}

func (s *RobotSimulator) nextState(now time.Time) []message {
	if s.state == domain.StatePicked {
		s.step = 0
		s.state = domain.StateIdle
		s.object = nil
		return nil
	}

	s.step = (s.step + 1) % len(cycle)
	s.state = cycle[s.step]

	switch s.state {
	case domain.StateObjectDetected:
		s.object = &domain.Position{
			X: round2(5 + s.rand.Float64()*20),
			Y: round2(-10 + s.rand.Float64()*20),
			Z: round2(s.rand.Float64() * 5),
		}
	case domain.StatePicked:
		s.attempts++
		if s.rand.Float32() >= s.successRate() {
			// missed grab: back to idle without a pick
			s.state = domain.StateIdle
			s.step = 0
			s.object = nil
			return []message{s.statisticsMessage()}
		}
		s.picked++
		for g, p := range s.periods {
			p.counts[aggregation.BucketKey(g, now)]++
		}
		return append(s.countsMessages(), s.statisticsMessage())
	}
	return nil
}

func (s *RobotSimulator) successRate() float32 {
	if s.scenario == ScenarioFaulty {
		return 0.6
	}
	return 0.9
}

func (s *RobotSimulator) statusRecord(now time.Time) statusRecord {
	pose := poses[s.state]
	rec := statusRecord{
		Status:           string(s.state),
		Sudut1:           jitter(s.rand, pose[0]),
		Sudut2:           jitter(s.rand, pose[1]),
		Sudut3:           jitter(s.rand, pose[2]),
		EEAngle:          jitter(s.rand, pose[3]),
		DetectedObjectCM: s.object,
		Timestamp:        float64(now.UnixMilli()) / 1000,
	}
	if s.fault != "" {
		fault := s.fault
		rec.Error = &fault
	}
	return rec
}

func (s *RobotSimulator) statisticsMessage() message {
	return message{path: domain.PathStatistics, payload: statisticsRecord{
		ChiliPickedCount:     s.picked,
		TotalPickingAttempts: s.attempts,
	}}
}

func (s *RobotSimulator) countsMessages() []message {
	msgs := make([]message, 0, len(s.periods))
	for _, g := range []domain.Granularity{domain.Hourly, domain.Daily, domain.Monthly} {
		if p := s.periods[g]; p != nil {
			counts := make(map[string]int64, len(p.counts))
			for k, v := range p.counts {
				counts[k] = v
			}
			msgs = append(msgs, message{path: p.path, payload: counts})
		}
	}
	return msgs
}

// rollover starts fresh count maps for every period that changed.
func (s *RobotSimulator) rollover(now time.Time) {
	if len(s.periods) == 0 {
		s.resetPeriods(now)
		return
	}
	for g, p := range s.periods {
		if path := aggregation.SourcePath(g, now); path != p.path {
			s.logger.Info("Period rollover", "from", p.path, "to", path)
			s.periods[g] = &period{path: path, counts: make(map[string]int64)}
		}
	}
}

func (s *RobotSimulator) resetPeriods(now time.Time) {
	for _, g := range []domain.Granularity{domain.Hourly, domain.Daily, domain.Monthly} {
		s.periods[g] = &period{path: aggregation.SourcePath(g, now), counts: make(map[string]int64)}
	}
}

func (s *RobotSimulator) publishAll(ctx context.Context, msgs []message) error {
	for _, m := range msgs {
		payload, err := json.Marshal(m.payload)
		if err != nil {
			return fmt.Errorf("encode %s: %w", m.path, err)
		}
		if err := s.pub.Publish(ctx, m.path, payload); err != nil {
			return fmt.Errorf("publish %s: %w", m.path, err)
		}
	}
	return nil
}

func sum(m map[string]int64) int64 {
	var total int64
	for _, v := range m {
		total += v
	}
	return total
}

func jitter(r *rand.Rand, v float64) float64 {
	if v == 0 {
		return 0
	}
	return round2(v + r.Float64()*2 - 1)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
