// Package memory is an in-process feed. Records published to a path are
// retained and replayed to new subscribers, mirroring a realtime database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

// Feed implements ports.Feed and ports.Publisher.
type Feed struct {
	mu       sync.RWMutex
	retained map[string]domain.FeedRecord
	subs     map[string]map[string]*subscription
	closed   bool
	now      func() time.Time
}

// New creates an empty feed.
func New() *Feed {
	return &Feed{
		retained: make(map[string]domain.FeedRecord),
		subs:     make(map[string]map[string]*subscription),
		now:      time.Now,
	}
}

// SetClock overrides the receipt clock. Used in tests.
func (f *Feed) SetClock(now func() time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

// Subscribe registers handlers for path and replays the retained record.
func (f *Feed) Subscribe(ctx context.Context, path string, onRecord ports.RecordHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ports.FeedError{Op: "subscribe", Path: path, Err: err}
	}

	sub := &subscription{
		id:       uuid.NewString(),
		path:     path,
		feed:     f,
		onRecord: onRecord,
		onError:  onError,
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, ports.ErrFeedClosed
	}
	if f.subs[path] == nil {
		f.subs[path] = make(map[string]*subscription)
	}
	f.subs[path][sub.id] = sub
	rec, ok := f.retained[path]
	f.mu.Unlock()

	if ok {
		sub.deliver(rec)
	}
	return sub, nil
}

// Publish retains payload at path and pushes it to every subscriber.
func (f *Feed) Publish(ctx context.Context, path string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ports.ErrFeedClosed
	}
	rec := domain.FeedRecord{
		Path:       path,
		Payload:    append([]byte(nil), payload...),
		ReceivedAt: f.now(),
	}
	f.retained[path] = rec
	targets := f.snapshot(path)
	f.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(rec)
	}
	return nil
}

// Fail reports err to every subscriber, simulating a transport failure.
func (f *Feed) Fail(err error) {
	f.mu.RLock()
	var targets []*subscription
	for path := range f.subs {
		targets = append(targets, f.snapshot(path)...)
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.fail(&ports.FeedError{Op: "connect", Path: sub.path, Err: err})
	}
}

// Retained returns the last record published at path.
func (f *Feed) Retained(path string) (domain.FeedRecord, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	rec, ok := f.retained[path]
	return rec, ok
}

// Subscribers is the number of live subscriptions on path.
func (f *Feed) Subscribers(path string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs[path])
}

// Close drops every subscription. Further calls are no-ops.
func (f *Feed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.subs = make(map[string]map[string]*subscription)
	return nil
}

// snapshot must be called with f.mu held.
func (f *Feed) snapshot(path string) []*subscription {
	out := make([]*subscription, 0, len(f.subs[path]))
	for _, sub := range f.subs[path] {
		out = append(out, sub)
	}
	return out
}

func (f *Feed) remove(sub *subscription) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs[sub.path], sub.id)
	if len(f.subs[sub.path]) == 0 {
		delete(f.subs, sub.path)
	}
}

type subscription struct {
	id       string
	path     string
	feed     *Feed
	onRecord ports.RecordHandler
	onError  ports.ErrorHandler

	mu     sync.Mutex
	done   bool
	cancel sync.Once
}

func (s *subscription) ID() string   { return s.id }
func (s *subscription) Path() string { return s.path }

func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.cancel.Do(func() {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		s.feed.remove(s)
	})
	return nil
}

func (s *subscription) active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.done
}

func (s *subscription) deliver(rec domain.FeedRecord) {
	if s.onRecord != nil && s.active() {
		s.onRecord(rec)
	}
}

func (s *subscription) fail(err error) {
	if s.onError != nil && s.active() {
		s.onError(err)
	}
}
