package device

import (
	"context"
	"sync"
	"time"
)

// StateHistoryEntry is one persisted table change.
//
// Entries give a local audit trail of what the cloud reported and what the
// bridge sent, even when the time-series database is unavailable.
type StateHistoryEntry struct {
	// ID is the auto-incremented primary key for the history row.
	ID int64 `json:"id"`

	// Topic is the Bemfa topic the change belongs to.
	Topic string `json:"topic"`

	// Type is the device class at the time of the change.
	Type Type `json:"type"`

	// RawState is the '#'-delimited payload after the change.
	RawState string `json:"raw_state"`

	// Online is the availability after the change.
	Online bool `json:"online"`

	// Source identifies what triggered the change (refresh, push, command, heartbeat).
	Source Source `json:"source"`

	// CreatedAt is the timestamp of the change (UTC).
	CreatedAt time.Time `json:"created_at"`
}

// StateHistoryRepository stores and retrieves table change history.
//
// Implementations must be thread-safe and use UTC timestamps.
type StateHistoryRepository interface {
	// RecordStateChange persists one change.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - rec: Record after the change
	//   - source: Origin of the change
	//
	// Returns:
	//   - error: nil on success, otherwise the underlying persistence error
	RecordStateChange(ctx context.Context, rec Record, source Source) error

	// GetHistory returns recent changes for a topic.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - topic: Bemfa topic
	//   - limit: Maximum entries to return (implementation may clamp bounds)
	//
	// Returns:
	//   - []StateHistoryEntry: Ordered newest-first history entries (may be empty)
	//   - error: nil on success, otherwise the underlying query error
	GetHistory(ctx context.Context, topic string, limit int) ([]StateHistoryEntry, error)
}

// HistoryLogger is the subset of the logger used by HistoryWriter.
type HistoryLogger interface {
	Warn(msg string, args ...any)
}

const (
	defaultHistoryQueue = 256
	historyWriteTimeout = 5 * time.Second
)

// HistoryWriter persists changes off the caller's goroutine.
//
// Thread Safety: Enqueue, Dropped and Stop may be called from any goroutine.
//
// Enqueue never blocks: when the queue is full the change is dropped and a
// warning is logged. The coordinator loop calls Enqueue from its
// subscriber fan-out, so it must not wait on disk.
type HistoryWriter struct {
	repo   StateHistoryRepository
	logger HistoryLogger
	queue  chan Change

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup

	mu      sync.Mutex
	dropped int64
}

// NewHistoryWriter creates a writer. Call Start to begin persisting.
//
// Parameters:
//   - repo: where entries are written
//   - logger: receives write failures and drop warnings
//   - queueSize: buffered changes before drops begin (0 selects a default)
//
// Returns:
//   - *HistoryWriter: idle until Start
func NewHistoryWriter(repo StateHistoryRepository, logger HistoryLogger, queueSize int) *HistoryWriter {
	if queueSize <= 0 {
		queueSize = defaultHistoryQueue
	}
	return &HistoryWriter{
		repo:   repo,
		logger: logger,
		queue:  make(chan Change, queueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the writer goroutine.
func (w *HistoryWriter) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.loop(ctx)
}

// Stop drains pending changes and waits for the writer to exit.
func (w *HistoryWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
	w.wg.Wait()
}

// Enqueue schedules a change for persistence.
func (w *HistoryWriter) Enqueue(change Change) {
	select {
	case <-w.done:
		return
	default:
	}

	select {
	case w.queue <- change:
	default:
		w.mu.Lock()
		w.dropped++
		w.mu.Unlock()
		if w.logger != nil {
			w.logger.Warn("state history queue full, dropping change", "topic", change.Record.Topic)
		}
	}
}

// Dropped returns the number of changes discarded because the queue was full.
func (w *HistoryWriter) Dropped() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *HistoryWriter) loop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case change := <-w.queue:
			w.write(ctx, change)
		case <-ctx.Done():
			return
		case <-w.done:
			for {
				select {
				case change := <-w.queue:
					w.write(ctx, change)
				default:
					return
				}
			}
		}
	}
}

func (w *HistoryWriter) write(ctx context.Context, change Change) {
	writeCtx, cancel := context.WithTimeout(ctx, historyWriteTimeout)
	defer cancel()

	if err := w.repo.RecordStateChange(writeCtx, change.Record, change.Source); err != nil && w.logger != nil {
		w.logger.Warn("failed to record state history",
			"topic", change.Record.Topic,
			"error", err,
		)
	}
}
