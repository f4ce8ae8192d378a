package persistence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lcalzada-xor/chira/internal/core/domain"
	"github.com/lcalzada-xor/chira/internal/core/ports"
)

// PersistenceManager handles background batch writing of feed records to storage.
type PersistenceManager struct {
	storage     ports.RecordStore
	persistChan chan domain.FeedRecord
	batchSize   int
	interval    time.Duration
	enabled     bool
	logger      *slog.Logger
	mu          sync.RWMutex
	wg          sync.WaitGroup
}

// NewPersistenceManager creates a new manager.
func NewPersistenceManager(storage ports.RecordStore, bufferSize int, logger *slog.Logger) *PersistenceManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &PersistenceManager{
		storage:     storage,
		persistChan: make(chan domain.FeedRecord, bufferSize),
		batchSize:   100,
		interval:    5 * time.Second,
		enabled:     true,
		logger:      logger.With("component", "persistence"),
	}
}

// SetFlushInterval changes how often buffered records are written.
func (p *PersistenceManager) SetFlushInterval(d time.Duration) {
	if d > 0 {
		p.interval = d
	}
}

// Persist queues a record if enabled. A full queue drops the record rather
// than stall the feed.
func (p *PersistenceManager) Persist(record domain.FeedRecord) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if !p.enabled {
		return
	}
	select {
	case p.persistChan <- record:
	default:
		p.logger.Debug("Persistence queue full, dropping record", "path", record.Path)
	}
}

// IsEnabled returns the current persistence status.
func (p *PersistenceManager) IsEnabled() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.enabled
}

// SetEnabled toggles the persistence logic.
func (p *PersistenceManager) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enabled = enabled
}

// Start begins the persistence loop. Buffered records are flushed when ctx
// is cancelled; Wait blocks until that final flush is done.
func (p *PersistenceManager) Start(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	buffer := make(map[string]domain.FeedRecord)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				p.drain(buffer)
				p.flushBuffer(buffer)
				return
			case rec := <-p.persistChan:
				buffer[rec.Path] = rec
				if len(buffer) >= p.batchSize {
					p.flushBuffer(buffer)
					buffer = make(map[string]domain.FeedRecord)
				}
			case <-ticker.C:
				if len(buffer) > 0 {
					p.flushBuffer(buffer)
					buffer = make(map[string]domain.FeedRecord)
				}
			}
		}
	}()
}

// Wait blocks until the loop started by Start has exited.
func (p *PersistenceManager) Wait() {
	p.wg.Wait()
}

func (p *PersistenceManager) drain(buffer map[string]domain.FeedRecord) {
	for {
		select {
		case rec := <-p.persistChan:
			buffer[rec.Path] = rec
		default:
			return
		}
	}
}

func (p *PersistenceManager) flushBuffer(buffer map[string]domain.FeedRecord) {
	if len(buffer) == 0 || p.storage == nil {
		return
	}
	records := make([]domain.FeedRecord, 0, len(buffer))
	for _, r := range buffer {
		records = append(records, r)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.storage.SaveRecords(ctx, records); err != nil {
		p.logger.Error("Failed to batch save records", "count", len(records), "error", err)
	}
}

var _ ports.RecordSink = (*PersistenceManager)(nil)
