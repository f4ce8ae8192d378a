// Package dashboard owns the dashboard state. Feed callbacks, the staleness
// timer and granularity commands are turned into events consumed by a single
// goroutine, which reduces them and publishes the assembled view.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
	"github.com/lcalzada-xor/chira/internal/core/services/aggregation"
	"github.com/lcalzada-xor/chira/internal/core/services/ingest"
	"github.com/lcalzada-xor/chira/internal/core/services/liveness"
	"github.com/lcalzada-xor/chira/internal/telemetry"
)

// ErrNotRunning is returned by commands issued while the loop is stopped.
var ErrNotRunning = errors.New("dashboard service is not running")

const (
	inboxSize          = 256
	unsubscribeTimeout = 2 * time.Second
	streamCounts       = "counts"
)

// Config tunes the service.
type Config struct {
	Threshold    time.Duration
	TickInterval time.Duration
	Granularity  domain.Granularity
	Location     *time.Location
	// Now is the clock, time.Now when nil.
	Now func() time.Time
}

func (c *Config) applyDefaults() {
	if c.Threshold <= 0 {
		c.Threshold = liveness.DefaultThreshold
	}
	if c.TickInterval <= 0 {
		c.TickInterval = time.Second
	}
	if c.Granularity == "" {
		c.Granularity = domain.Hourly
	}
	if c.Location == nil {
		c.Location = time.Local
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

type message interface{}

type eventMsg struct {
	event domain.Event
}

type subscribedMsg struct {
	generation uint64
	sub        ports.Subscription
	err        error
}

type granularityCmd struct {
	granularity domain.Granularity
	reply       chan error
}

// Service is the single consumer of the status feed.
type Service struct {
	feed   ports.Feed
	cfg    Config
	logger *slog.Logger

	publisher   ports.ViewPublisher
	reporters   []ports.LivenessReporter
	sink        ports.RecordSink
	transitions ports.TransitionRepository

	inbox   chan message
	done    chan struct{}
	running atomic.Bool
	runOnce sync.Once
	saves   sync.WaitGroup

	view        atomic.Pointer[domain.DashboardView]
	granularity atomic.Value

	// Every subscription not yet cancelled, so shutdown can release
	// subscriptions the loop never learned about.
	subsMu  sync.Mutex
	live    map[string]ports.Subscription
	stopped bool

	// Owned by the loop goroutine.
	state      State
	generation uint64
	countsSub  ports.Subscription
	restored   map[string]domain.FeedRecord
}

// NewService creates a stopped service. Call Run to start consuming.
func NewService(feed ports.Feed, cfg Config, logger *slog.Logger) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	s := &Service{
		feed:     feed,
		cfg:      cfg,
		logger:   logger.With("component", "dashboard"),
		inbox:    make(chan message, inboxSize),
		done:     make(chan struct{}),
		restored: make(map[string]domain.FeedRecord),
		live:     make(map[string]ports.Subscription),
	}
	s.state = NewState(cfg.Granularity, cfg.Threshold, cfg.Location, cfg.Now())
	s.granularity.Store(cfg.Granularity)
	s.storeView()
	return s
}

// SetPublisher sets where assembled views are pushed.
func (s *Service) SetPublisher(p ports.ViewPublisher) {
	s.publisher = p
}

// AddLivenessReporter registers a surface notified on online/offline changes.
func (s *Service) AddLivenessReporter(r ports.LivenessReporter) {
	s.reporters = append(s.reporters, r)
}

// SetRecordSink sets where received records are sent for persistence.
func (s *Service) SetRecordSink(sink ports.RecordSink) {
	s.sink = sink
}

// SetTransitionRepository sets where liveness changes are persisted.
func (s *Service) SetTransitionRepository(repo ports.TransitionRepository) {
	s.transitions = repo
}

// Restore seeds the service with last known records before Run. Restored
// status records keep their original timestamps, so liveness stays offline
// until a fresh record arrives.
func (s *Service) Restore(records ...domain.FeedRecord) {
	for _, r := range records {
		switch r.Path {
		case domain.PathRobotStatus:
			if ev, err := statusEvent(r); err == nil {
				s.state = Reduce(s.state, ev)
			}
		case domain.PathStatistics:
			if ev, err := statisticsEvent(r); err == nil {
				s.state = Reduce(s.state, ev)
			}
		default:
			s.restored[r.Path] = r
		}
	}
	s.state = Reduce(s.state, domain.TimerTick{Now: s.cfg.Now()})
	s.storeView()
}

// View returns the latest assembled view.
func (s *Service) View() domain.DashboardView {
	return *s.view.Load()
}

// Granularity returns the selected chart resolution.
func (s *Service) Granularity() domain.Granularity {
	return s.granularity.Load().(domain.Granularity)
}

// SetGranularity asks the loop to switch resolution and waits until the old
// subscription has been cancelled.
func (s *Service) SetGranularity(ctx context.Context, g domain.Granularity) error {
	g, err := domain.ParseGranularity(string(g))
	if err != nil {
		return fmt.Errorf("set granularity: %w", err)
	}
	if !s.running.Load() {
		return ErrNotRunning
	}

	cmd := granularityCmd{granularity: g, reply: make(chan error, 1)}
	if !s.enqueue(cmd) {
		return ErrNotRunning
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-s.done:
		return ErrNotRunning
	}
}

// Transitions lists persisted liveness changes, newest first.
func (s *Service) Transitions(ctx context.Context, limit int) ([]domain.LivenessTransition, error) {
	if s.transitions == nil {
		return []domain.LivenessTransition{}, nil
	}
	return s.transitions.ListTransitions(ctx, limit)
}

// Run subscribes to the feed and consumes events until ctx is cancelled.
// Feed failures are reported as offline state, never returned. Run returns
// only after pending transition saves have finished.
func (s *Service) Run(ctx context.Context) error {
	started := false
	s.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("dashboard service already ran")
	}

	s.running.Store(true)
	defer func() {
		s.running.Store(false)
		close(s.done)
		s.unsubscribeAll()
		s.saves.Wait()
	}()

	s.logger.Info("Dashboard service starting",
		"granularity", s.cfg.Granularity,
		"threshold", s.cfg.Threshold,
		"tick", s.cfg.TickInterval)

	s.subscribeStream(ctx, domain.PathRobotStatus, statusEvent)
	s.subscribeStream(ctx, domain.PathStatistics, statisticsEvent)
	s.switchGranularity(ctx, s.state.Granularity)
	s.replayRestoredCounts()
	s.reportLiveness(s.state.Liveness)
	s.publish()

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Dashboard service stopping")
			return nil

		case <-ticker.C:
			s.apply(domain.TimerTick{Now: s.cfg.Now()})
			s.checkRollover(ctx)
			s.publish()

		case msg := <-s.inbox:
			s.handle(ctx, msg)
		}
	}
}

func (s *Service) handle(ctx context.Context, msg message) {
	switch m := msg.(type) {
	case eventMsg:
		s.apply(m.event)
		s.publish()

	case subscribedMsg:
		switch {
		case m.err != nil:
			s.logger.Warn("Chart subscription failed", "generation", m.generation, "error", m.err)
		case m.generation != s.generation:
			telemetry.StaleResultsDiscarded.Inc()
			s.logger.Debug("Discarding stale chart subscription", "generation", m.generation, "current", s.generation)
			s.unsubscribe(m.sub)
		default:
			s.countsSub = m.sub
		}

	case granularityCmd:
		if m.granularity != s.state.Granularity {
			s.switchGranularity(ctx, m.granularity)
			s.publish()
		}
		m.reply <- nil
	}
}

// apply reduces one event and mirrors liveness changes.
func (s *Service) apply(ev domain.Event) {
	if c, ok := ev.(domain.CountsReceived); ok && c.Generation != s.generation {
		telemetry.StaleResultsDiscarded.Inc()
		return
	}

	prev := s.state.Liveness
	s.state = Reduce(s.state, ev)
	if prev.IsOnline != s.state.Liveness.IsOnline {
		s.reportLiveness(s.state.Liveness)
	}
}

func (s *Service) reportLiveness(lv domain.LivenessState) {
	for _, r := range s.reporters {
		r.ReportLiveness(lv.IsOnline)
	}
	if lv.IsOnline {
		s.logger.Info("Robot online")
	} else {
		s.logger.Warn("Robot offline", "reason", lv.Reason)
	}

	if s.transitions == nil {
		return
	}
	t := domain.LivenessTransition{Online: lv.IsOnline, Reason: lv.Reason, At: s.state.Now}
	s.saves.Add(1)
	go func() {
		defer s.saves.Done()
		ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
		defer cancel()
		if err := s.transitions.SaveTransition(ctx, t); err != nil {
			s.logger.Error("Failed to save liveness transition", "error", err)
		}
	}()
}

func (s *Service) publish() {
	view := s.storeView()
	if s.publisher != nil {
		s.publisher.PublishView(view)
		telemetry.ViewsPublished.Inc()
	}
}

func (s *Service) storeView() domain.DashboardView {
	view := Assemble(s.state)
	s.view.Store(&view)
	return view
}

// switchGranularity cancels the current chart subscription before opening the
// next one. The new subscription is made off the loop; its generation lets
// the loop drop it, and anything it delivers, if another switch happened
// meanwhile.
func (s *Service) switchGranularity(ctx context.Context, g domain.Granularity) {
	if s.countsSub != nil {
		s.unsubscribe(s.countsSub)
		s.countsSub = nil
	}

	s.generation++
	gen := s.generation
	now := s.cfg.Now()
	path := aggregation.SourcePath(g, now.In(s.cfg.Location))

	s.apply(domain.GranularityChanged{Granularity: g, Generation: gen, Path: path, Now: now})
	s.granularity.Store(g)
	s.logger.Info("Chart granularity selected", "granularity", g, "path", path, "generation", gen)

	go s.subscribeCounts(ctx, gen, path)
}

func (s *Service) subscribeCounts(ctx context.Context, gen uint64, path string) {
	onRecord := func(r domain.FeedRecord) {
		s.persist(r)
		counts, err := ingest.DecodeCounts(path, r.Payload)
		if err != nil {
			telemetry.DecodeFailures.WithLabelValues(streamCounts).Inc()
			s.logger.Warn("Dropping undecodable count record", "path", path, "error", err)
			return
		}
		telemetry.RecordsReceived.WithLabelValues(streamCounts).Inc()
		s.enqueue(eventMsg{domain.CountsReceived{
			Generation: gen,
			Path:       path,
			Counts:     counts,
			ReceivedAt: r.ReceivedAt,
		}})
	}
	onError := func(err error) {
		telemetry.FeedErrors.Inc()
		s.logger.Warn("Chart feed error", "path", path, "error", err)
	}

	sub, err := s.feed.Subscribe(ctx, path, onRecord, onError)
	if err == nil && !s.track(sub) {
		return
	}
	if !s.enqueue(subscribedMsg{generation: gen, sub: sub, err: err}) && sub != nil {
		s.unsubscribe(sub)
	}
}

type decodeFunc func(domain.FeedRecord) (domain.Event, error)

// subscribeStream opens a long-lived subscription whose errors mark the feed
// offline.
func (s *Service) subscribeStream(ctx context.Context, path string, decode decodeFunc) {
	onRecord := func(r domain.FeedRecord) {
		s.persist(r)
		ev, err := decode(r)
		if errors.Is(err, ingest.ErrEmptyRecord) && path == domain.PathRobotStatus {
			s.enqueue(eventMsg{domain.FeedFailed{Err: domain.ReasonNoData, At: r.ReceivedAt}})
			return
		}
		if err != nil {
			telemetry.DecodeFailures.WithLabelValues(path).Inc()
			s.logger.Warn("Dropping undecodable record", "path", path, "error", err)
			return
		}
		telemetry.RecordsReceived.WithLabelValues(path).Inc()
		s.enqueue(eventMsg{ev})
	}
	onError := func(err error) {
		telemetry.FeedErrors.Inc()
		s.logger.Warn("Feed error", "path", path, "error", err)
		s.enqueue(eventMsg{domain.FeedFailed{Err: err.Error(), At: s.cfg.Now()}})
	}

	sub, err := s.feed.Subscribe(ctx, path, onRecord, onError)
	if err != nil {
		onError(err)
		return
	}
	s.track(sub)
}

// checkRollover resubscribes when the chart period changed (new day, month or year).
func (s *Service) checkRollover(ctx context.Context) {
	path := aggregation.SourcePath(s.state.Granularity, s.state.Reference())
	if path != s.state.SourcePath {
		s.logger.Info("Chart period rolled over", "from", s.state.SourcePath, "to", path)
		s.switchGranularity(ctx, s.state.Granularity)
	}
}

func (s *Service) replayRestoredCounts() {
	r, ok := s.restored[s.state.SourcePath]
	if !ok {
		return
	}
	counts, err := ingest.DecodeCounts(r.Path, r.Payload)
	if err != nil {
		return
	}
	s.apply(domain.CountsReceived{Generation: s.generation, Path: r.Path, Counts: counts, ReceivedAt: r.ReceivedAt})
}

func (s *Service) persist(r domain.FeedRecord) {
	if s.sink != nil {
		s.sink.Persist(r)
	}
}

// enqueue hands a message to the loop, giving up once the loop has exited.
func (s *Service) enqueue(m message) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.inbox <- m:
		return true
	case <-s.done:
		return false
	}
}

// track records a new subscription. After shutdown it cancels sub instead
// and returns false.
func (s *Service) track(sub ports.Subscription) bool {
	s.subsMu.Lock()
	if !s.stopped {
		s.live[sub.ID()] = sub
		s.subsMu.Unlock()
		return true
	}
	s.subsMu.Unlock()
	s.unsubscribe(sub)
	return false
}

func (s *Service) unsubscribe(sub ports.Subscription) {
	s.subsMu.Lock()
	delete(s.live, sub.ID())
	s.subsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), unsubscribeTimeout)
	defer cancel()
	if err := sub.Unsubscribe(ctx); err != nil {
		s.logger.Warn("Unsubscribe failed", "path", sub.Path(), "error", err)
	}
}

func (s *Service) unsubscribeAll() {
	s.subsMu.Lock()
	s.stopped = true
	subs := make([]ports.Subscription, 0, len(s.live))
	for _, sub := range s.live {
		subs = append(subs, sub)
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		s.unsubscribe(sub)
	}
	s.countsSub = nil
}

func statusEvent(r domain.FeedRecord) (domain.Event, error) {
	patch, err := ingest.DecodeStatus(r.Payload)
	if err != nil {
		return nil, err
	}
	return domain.StatusReceived{Patch: patch, ReceivedAt: r.ReceivedAt}, nil
}

func statisticsEvent(r domain.FeedRecord) (domain.Event, error) {
	patch, err := ingest.DecodeStatistics(r.Payload)
	if err != nil {
		return nil, err
	}
	return domain.StatisticsReceived{Patch: patch, ReceivedAt: r.ReceivedAt}, nil
}
