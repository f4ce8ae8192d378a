package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/lcalzada-xor/chira/internal/core/domain"
)

var (
	// ErrUnsupportedPath is returned by feeds that cannot serve a path.
	ErrUnsupportedPath = errors.New("feed path not supported")

	// ErrFeedClosed is returned when subscribing on a closed feed.
	ErrFeedClosed = errors.New("feed is closed")
)

// FeedError wraps transport failures with the operation and path involved.
type FeedError struct {
	Op   string // subscribe, unsubscribe, connect, poll
	Path string
	Err  error
}

func (e *FeedError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("feed %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("feed %s %s failed: %v", e.Op, e.Path, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// RecordHandler receives records pushed on a subscription.
type RecordHandler func(domain.FeedRecord)

// ErrorHandler receives transport errors affecting a subscription.
type ErrorHandler func(error)

// Feed is a push-based source of records keyed by path.
type Feed interface {
	// Subscribe registers handlers for path. The last retained record, if
	// any, may be delivered before or after Subscribe returns.
	Subscribe(ctx context.Context, path string, onRecord RecordHandler, onError ErrorHandler) (Subscription, error)

	// Close releases the transport. Live subscriptions stop receiving.
	Close() error
}

// Subscription is the cancellation handle of one Subscribe call.
type Subscription interface {
	ID() string
	Path() string
	// Unsubscribe stops delivery. Safe to call more than once; only the
	// first call has an effect.
	Unsubscribe(ctx context.Context) error
}

// Publisher writes records to a feed. Used by simulators.
type Publisher interface {
	Publish(ctx context.Context, path string, payload []byte) error
}
