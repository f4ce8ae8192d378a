// Package modbus polls the arm controller's holding registers over Modbus TCP
// and republishes them as robot_status and statistics records.
package modbus

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/goburrow/modbus"
	"github.com/google/uuid"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

// Register layout, offsets from Config.BaseAddress. Angles and coordinates
// are signed hundredths.
const (
	regStatus = iota
	regJoint1
	regJoint2
	regJoint3
	regEEAngle
	regObjectFlag
	regObjectX
	regObjectY
	regObjectZ
	regErrorCode
	regPickedHi
	regPickedLo
	regAttemptsHi
	regAttemptsLo

	registerCount
)

// statusCodes maps the controller's status register to robot states.
var statusCodes = []domain.RobotState{
	domain.StateOffline,
	domain.StateIdle,
	domain.StateObjectDetected,
	domain.StateMovingToObject,
	domain.StateGrabbing,
	domain.StateReturning,
	domain.StatePicked,
}

// Config holds controller connection settings.
type Config struct {
	Endpoint     string
	UnitID       byte
	Timeout      time.Duration
	PollInterval time.Duration
	BaseAddress  uint16
}

// registerReader is the subset of modbus.Client the feed needs.
type registerReader interface {
	ReadHoldingRegisters(address, quantity uint16) ([]byte, error)
}

// Feed implements ports.Feed for robot_status and statistics.
type Feed struct {
	cfg    Config
	logger *slog.Logger
	reader registerReader
	closer io.Closer
	now    func() time.Time

	mu      sync.Mutex
	subs    map[string]map[string]*subscription
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Dial prepares a Modbus TCP client. The connection is opened on the first
// poll and re-opened after failures.
func Dial(cfg Config, logger *slog.Logger) (*Feed, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("modbus feed: endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}

	h := modbus.NewTCPClientHandler(cfg.Endpoint)
	h.Timeout = cfg.Timeout
	h.SlaveId = cfg.UnitID

	return newFeed(cfg, modbus.NewClient(h), h, logger), nil
}

func newFeed(cfg Config, reader registerReader, closer io.Closer, logger *slog.Logger) *Feed {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed{
		cfg:    cfg,
		logger: logger.With("component", "modbus_feed", "endpoint", cfg.Endpoint),
		reader: reader,
		closer: closer,
		now:    time.Now,
		subs:   make(map[string]map[string]*subscription),
	}
}

// Subscribe registers handlers for robot_status or statistics. Other paths
// have no register mapping.
func (f *Feed) Subscribe(ctx context.Context, path string, onRecord ports.RecordHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	if path != domain.PathRobotStatus && path != domain.PathStatistics {
		return nil, &ports.FeedError{Op: "subscribe", Path: path, Err: ports.ErrUnsupportedPath}
	}

	sub := &subscription{id: uuid.NewString(), path: path, feed: f, onRecord: onRecord, onError: onError}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ports.ErrFeedClosed
	}
	if f.subs[path] == nil {
		f.subs[path] = make(map[string]*subscription)
	}
	f.subs[path][sub.id] = sub

	if !f.started {
		f.started = true
		pollCtx, cancel := context.WithCancel(context.Background())
		f.cancel = cancel
		f.wg.Add(1)
		go f.pollLoop(pollCtx)
	}
	return sub, nil
}

// Close stops polling and closes the connection.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.subs = make(map[string]map[string]*subscription)
	cancel := f.cancel
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	f.wg.Wait()

	if f.closer != nil {
		return f.closer.Close()
	}
	return nil
}

func (f *Feed) pollLoop(ctx context.Context) {
	defer f.wg.Done()

	ticker := time.NewTicker(f.cfg.PollInterval)
	defer ticker.Stop()

	f.pollOnce()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce()
		}
	}
}

func (f *Feed) pollOnce() {
	raw, err := f.reader.ReadHoldingRegisters(f.cfg.BaseAddress, registerCount)
	if err != nil {
		f.logger.Warn("Register poll failed", "error", err)
		f.broadcastError(&ports.FeedError{Op: "poll", Err: err})
		return
	}

	now := f.now()
	status, stats, err := decodeRegisters(raw, now)
	if err != nil {
		f.broadcastError(&ports.FeedError{Op: "poll", Err: err})
		return
	}

	f.deliver(domain.FeedRecord{Path: domain.PathRobotStatus, Payload: status, ReceivedAt: now})
	f.deliver(domain.FeedRecord{Path: domain.PathStatistics, Payload: stats, ReceivedAt: now})
}

func (f *Feed) targets(path string) []*subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*subscription, 0, len(f.subs[path]))
	for _, s := range f.subs[path] {
		out = append(out, s)
	}
	return out
}

func (f *Feed) deliver(rec domain.FeedRecord) {
	for _, s := range f.targets(rec.Path) {
		s.deliver(rec)
	}
}

func (f *Feed) broadcastError(err error) {
	for _, path := range []string{domain.PathRobotStatus, domain.PathStatistics} {
		for _, s := range f.targets(path) {
			s.fail(err)
		}
	}
}

func (f *Feed) remove(s *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[s.path], s.id)
}

type statusRecord struct {
	Status   domain.RobotState `json:"status"`
	Joint1   float64           `json:"sudut1"`
	Joint2   float64           `json:"sudut2"`
	Joint3   float64           `json:"sudut3"`
	EEAngle  float64           `json:"ee_angle"`
	Object   *domain.Position  `json:"detected_object_cm"`
	Error    *string           `json:"error"`
	Unixtime float64           `json:"timestamp"`
}

type statisticsRecord struct {
	Picked   uint32 `json:"chili_picked_count"`
	Attempts uint32 `json:"total_picking_attempts"`
}

// decodeRegisters converts a big-endian register block into feed payloads.
func decodeRegisters(raw []byte, now time.Time) (status, stats []byte, err error) {
	if len(raw) < registerCount*2 {
		return nil, nil, fmt.Errorf("short register block: got %d bytes, want %d", len(raw), registerCount*2)
	}
	reg := func(i int) uint16 { return binary.BigEndian.Uint16(raw[i*2:]) }
	hundredths := func(i int) float64 { return float64(int16(reg(i))) / 100 }

	code := int(reg(regStatus))
	if code >= len(statusCodes) {
		return nil, nil, fmt.Errorf("unknown status code %d", code)
	}

	rec := statusRecord{
		Status:   statusCodes[code],
		Joint1:   hundredths(regJoint1),
		Joint2:   hundredths(regJoint2),
		Joint3:   hundredths(regJoint3),
		EEAngle:  hundredths(regEEAngle),
		Unixtime: float64(now.UnixMilli()) / 1000,
	}
	if reg(regObjectFlag) != 0 {
		rec.Object = &domain.Position{
			X: hundredths(regObjectX),
			Y: hundredths(regObjectY),
			Z: hundredths(regObjectZ),
		}
	}
	if fault := reg(regErrorCode); fault != 0 {
		msg := fmt.Sprintf("controller fault %d", fault)
		rec.Error = &msg
	}

	counters := statisticsRecord{
		Picked:   uint32(reg(regPickedHi))<<16 | uint32(reg(regPickedLo)),
		Attempts: uint32(reg(regAttemptsHi))<<16 | uint32(reg(regAttemptsLo)),
	}

	if status, err = json.Marshal(rec); err != nil {
		return nil, nil, err
	}
	if stats, err = json.Marshal(counters); err != nil {
		return nil, nil, err
	}
	return status, stats, nil
}

type subscription struct {
	id       string
	path     string
	feed     *Feed
	onRecord ports.RecordHandler
	onError  ports.ErrorHandler

	mu   sync.Mutex
	done bool
	once sync.Once
}

func (s *subscription) ID() string   { return s.id }
func (s *subscription) Path() string { return s.path }

func (s *subscription) Unsubscribe(context.Context) error {
	s.once.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		s.feed.remove(s)
	})
	return nil
}

func (s *subscription) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}

func (s *subscription) deliver(rec domain.FeedRecord) {
	if s.onRecord != nil && s.live() {
		s.onRecord(rec)
	}
}

func (s *subscription) fail(err error) {
	if s.onError != nil && s.live() {
		s.onError(err)
	}
}
