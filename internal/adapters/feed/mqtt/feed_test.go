package mqtt

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

func freeAddr(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())
	return addr
}

// startBroker spins up an in-process broker for the test.
func startBroker(t *testing.T) string {
	t.Helper()
	addr := freeAddr(t)

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "test",
		Address: addr,
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	return "mqtt://" + addr
}

func dial(t *testing.T, url, id string) *Feed {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f, err := Dial(context.Background(), Config{BrokerURL: url, ClientID: id, QoS: 1, ConnectTimeout: time.Second}, nil)
	require.NoError(t, err)
	require.NoError(t, f.AwaitConnection(ctx))
	t.Cleanup(func() { _ = f.Close() })
	return f
}

type sink struct {
	mu      sync.Mutex
	records []domain.FeedRecord
	errs    []error
}

func (s *sink) onRecord(r domain.FeedRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
}

func (s *sink) onError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *sink) count() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records), len(s.errs)
}

func (s *sink) last() domain.FeedRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[len(s.records)-1]
}

func TestFeed_RetainedRecordReachesLateSubscriber(t *testing.T) {
	url := startBroker(t)
	pub := dial(t, url, "publisher")
	feed := dial(t, url, "dashboard")
	ctx := context.Background()

	require.NoError(t, pub.Publish(ctx, domain.PathStatistics, []byte(`{"chili_picked_count":7}`)))

	var s sink
	sub, err := feed.Subscribe(ctx, domain.PathStatistics, s.onRecord, s.onError)
	require.NoError(t, err)

	require.Eventually(t, func() bool { n, _ := s.count(); return n >= 1 }, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, domain.PathStatistics, s.last().Path)
	assert.JSONEq(t, `{"chili_picked_count":7}`, string(s.last().Payload))

	require.NoError(t, pub.Publish(ctx, domain.PathStatistics, []byte(`{"chili_picked_count":8}`)))
	require.Eventually(t, func() bool { n, _ := s.count(); return n >= 2 }, 5*time.Second, 20*time.Millisecond)
	assert.JSONEq(t, `{"chili_picked_count":8}`, string(s.last().Payload))

	require.NoError(t, sub.Unsubscribe(ctx))
	require.NoError(t, sub.Unsubscribe(ctx))

	require.NoError(t, pub.Publish(ctx, domain.PathStatistics, []byte(`{"chili_picked_count":9}`)))
	time.Sleep(200 * time.Millisecond)
	n, _ := s.count()
	assert.Equal(t, 2, n, "no delivery after unsubscribe")
}

func TestFeed_TopicsAreIsolated(t *testing.T) {
	url := startBroker(t)
	feed := dial(t, url, "dashboard")
	ctx := context.Background()

	var hourly, daily sink
	_, err := feed.Subscribe(ctx, "hourly_chili_picks/2024-06-15", hourly.onRecord, nil)
	require.NoError(t, err)
	_, err = feed.Subscribe(ctx, "daily_chili_picks/2024-06", daily.onRecord, nil)
	require.NoError(t, err)

	require.NoError(t, feed.Publish(ctx, "daily_chili_picks/2024-06", []byte(`{"15":3}`)))

	require.Eventually(t, func() bool { n, _ := daily.count(); return n == 1 }, 5*time.Second, 20*time.Millisecond)
	n, _ := hourly.count()
	assert.Zero(t, n)
}

func TestFeed_UnreachableBrokerReportsErrors(t *testing.T) {
	f, err := Dial(context.Background(), Config{BrokerURL: "mqtt://" + freeAddr(t), ConnectTimeout: 200 * time.Millisecond}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	var s sink
	_, err = f.Subscribe(context.Background(), domain.PathRobotStatus, s.onRecord, s.onError)
	require.NoError(t, err, "subscribing while disconnected is deferred")

	require.Eventually(t, func() bool { _, e := s.count(); return e > 0 }, 10*time.Second, 50*time.Millisecond)

	s.mu.Lock()
	defer s.mu.Unlock()
	var feedErr *ports.FeedError
	assert.ErrorAs(t, s.errs[0], &feedErr)
	assert.Equal(t, "connect", feedErr.Op)
}

func TestDial_RejectsBadURL(t *testing.T) {
	_, err := Dial(context.Background(), Config{BrokerURL: "://nope"}, nil)
	assert.Error(t, err)
}

func TestFeed_ClosedRejectsSubscribe(t *testing.T) {
	url := startBroker(t)
	feed := dial(t, url, "dashboard")
	require.NoError(t, feed.Close())
	require.NoError(t, feed.Close())

	_, err := feed.Subscribe(context.Background(), domain.PathRobotStatus, nil, nil)
	assert.ErrorIs(t, err, ports.ErrFeedClosed)
}
