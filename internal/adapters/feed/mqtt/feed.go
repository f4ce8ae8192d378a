// Package mqtt serves the status feed from an MQTT broker. Every feed path is
// a topic; publishers send retained messages so a new subscriber receives the
// latest record immediately.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

// Config holds connection settings.
type Config struct {
	BrokerURL string
	ClientID  string
	QoS       byte
	// KeepAlive in seconds.
	KeepAlive uint16
	// ConnectTimeout bounds each connection attempt.
	ConnectTimeout time.Duration
}

// Feed implements ports.Feed and ports.Publisher over autopaho.
type Feed struct {
	cfg    Config
	logger *slog.Logger
	cm     *autopaho.ConnectionManager
	now    func() time.Time

	connected atomic.Bool

	mu       sync.RWMutex
	topics   map[string]map[string]*subscription
	retained map[string]domain.FeedRecord
	closed   bool
}

// Dial starts a managed connection. It returns without waiting for the
// broker; subscriptions made while disconnected are sent once the connection
// comes up, and connection failures are reported to subscribers.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*Feed, error) {
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("parse broker url: %w", err)
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "chira-" + uuid.NewString()[:8]
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = 20
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	f := &Feed{
		cfg:      cfg,
		logger:   logger.With("component", "mqtt_feed", "broker", cfg.BrokerURL),
		now:      time.Now,
		topics:   make(map[string]map[string]*subscription),
		retained: make(map[string]domain.FeedRecord),
	}

	cliCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{u},
		KeepAlive:                     cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		ConnectTimeout:                cfg.ConnectTimeout,
		OnConnectionUp:                f.onConnectionUp,
		OnConnectError:                f.onConnectError,
		ClientConfig: paho.ClientConfig{
			ClientID:           cfg.ClientID,
			OnPublishReceived:  []func(paho.PublishReceived) (bool, error){f.onPublish},
			OnClientError:      f.onClientError,
			OnServerDisconnect: f.onServerDisconnect,
		},
	}

	cm, err := autopaho.NewConnection(ctx, cliCfg)
	if err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	f.cm = cm
	return f, nil
}

// AwaitConnection blocks until the broker accepted the connection.
func (f *Feed) AwaitConnection(ctx context.Context) error {
	return f.cm.AwaitConnection(ctx)
}

// Subscribe registers handlers for a topic. The broker subscription is shared
// between local subscribers of the same topic.
func (f *Feed) Subscribe(ctx context.Context, path string, onRecord ports.RecordHandler, onError ports.ErrorHandler) (ports.Subscription, error) {
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
	first := len(f.topics[path]) == 0
	if first {
		f.topics[path] = make(map[string]*subscription)
	}
	f.topics[path][sub.id] = sub
	rec, hasRetained := f.retained[path]
	f.mu.Unlock()

	if first && f.connected.Load() {
		if err := f.subscribeTopics(ctx, path); err != nil {
			f.remove(sub)
			return nil, &ports.FeedError{Op: "subscribe", Path: path, Err: err}
		}
	}
	if hasRetained {
		sub.deliver(rec)
	}

	f.logger.Debug("Subscribed", "topic", path, "id", sub.id)
	return sub, nil
}

// Publish sends a retained message.
func (f *Feed) Publish(ctx context.Context, path string, payload []byte) error {
	_, err := f.cm.Publish(ctx, &paho.Publish{
		QoS:     f.cfg.QoS,
		Topic:   path,
		Payload: payload,
		Retain:  true,
	})
	if err != nil {
		return &ports.FeedError{Op: "publish", Path: path, Err: err}
	}
	return nil
}

// Close disconnects from the broker. Further calls are no-ops.
func (f *Feed) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.topics = make(map[string]map[string]*subscription)
	f.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := f.cm.Disconnect(ctx); err != nil && !errors.Is(err, autopaho.ConnectionDownError) {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}

func (f *Feed) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	f.connected.Store(true)
	f.logger.Info("MQTT connection up")

	topics := f.activeTopics()
	if len(topics) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), f.cfg.ConnectTimeout)
		defer cancel()
		if err := f.subscribeTopics(ctx, topics...); err != nil {
			f.broadcastError(&ports.FeedError{Op: "subscribe", Err: err})
		}
	}()
}

func (f *Feed) onConnectError(err error) {
	f.connected.Store(false)
	f.logger.Warn("MQTT connection attempt failed", "error", err)
	f.broadcastError(&ports.FeedError{Op: "connect", Err: err})
}

func (f *Feed) onClientError(err error) {
	f.connected.Store(false)
	f.logger.Warn("MQTT client error", "error", err)
	f.broadcastError(&ports.FeedError{Op: "connect", Err: err})
}

func (f *Feed) onServerDisconnect(d *paho.Disconnect) {
	f.connected.Store(false)
	err := fmt.Errorf("server disconnected (reason %d)", d.ReasonCode)
	if d.Properties != nil && d.Properties.ReasonString != "" {
		err = fmt.Errorf("server disconnected: %s", d.Properties.ReasonString)
	}
	f.logger.Warn("MQTT server disconnect", "error", err)
	f.broadcastError(&ports.FeedError{Op: "connect", Err: err})
}

func (f *Feed) onPublish(pr paho.PublishReceived) (bool, error) {
	rec := domain.FeedRecord{
		Path:       pr.Packet.Topic,
		Payload:    pr.Packet.Payload,
		ReceivedAt: f.now(),
	}

	f.mu.Lock()
	f.retained[rec.Path] = rec
	targets := make([]*subscription, 0, len(f.topics[rec.Path]))
	for _, sub := range f.topics[rec.Path] {
		targets = append(targets, sub)
	}
	f.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(rec)
	}
	return len(targets) > 0, nil
}

func (f *Feed) subscribeTopics(ctx context.Context, topics ...string) error {
	req := &paho.Subscribe{}
	for _, t := range topics {
		req.Subscriptions = append(req.Subscriptions, paho.SubscribeOptions{Topic: t, QoS: f.cfg.QoS})
	}
	if _, err := f.cm.Subscribe(ctx, req); err != nil {
		return err
	}
	return nil
}

func (f *Feed) activeTopics() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]string, 0, len(f.topics))
	for t := range f.topics {
		out = append(out, t)
	}
	return out
}

func (f *Feed) broadcastError(err error) {
	f.mu.RLock()
	var targets []*subscription
	for _, subs := range f.topics {
		for _, sub := range subs {
			targets = append(targets, sub)
		}
	}
	f.mu.RUnlock()

	for _, sub := range targets {
		sub.fail(err)
	}
}

// remove drops sub and reports whether it was the last one on its topic.
func (f *Feed) remove(sub *subscription) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	subs, ok := f.topics[sub.path]
	if !ok {
		return false
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(f.topics, sub.path)
		delete(f.retained, sub.path)
		return true
	}
	return false
}

type subscription struct {
	id       string
	path     string
	feed     *Feed
	onRecord ports.RecordHandler
	onError  ports.ErrorHandler

	cancelled atomic.Bool
	once      sync.Once
	err       error
}

func (s *subscription) ID() string   { return s.id }
func (s *subscription) Path() string { return s.path }

// Unsubscribe sends UNSUBSCRIBE once the last local subscriber of the topic leaves.
func (s *subscription) Unsubscribe(ctx context.Context) error {
	s.once.Do(func() {
		s.cancelled.Store(true)
		if !s.feed.remove(s) || !s.feed.connected.Load() {
			return
		}
		if _, err := s.feed.cm.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{s.path}}); err != nil {
			s.err = &ports.FeedError{Op: "unsubscribe", Path: s.path, Err: err}
		}
	})
	return s.err
}

func (s *subscription) deliver(rec domain.FeedRecord) {
	if s.onRecord != nil && !s.cancelled.Load() {
		s.onRecord(rec)
	}
}

func (s *subscription) fail(err error) {
	if s.onError != nil && !s.cancelled.Load() {
		s.onError(err)
	}
}
