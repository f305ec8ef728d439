// Package audit buffers "what happened" events and writes them in
// batches, decoupled from the request path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"fieldsync-server/internal/dataset"
	"fieldsync-server/internal/model"
)

const (
	DefaultBufferSize = 25
	DefaultFlushDelay = 5 * time.Second
)

// Sink receives flushed batches; the data access collaborator satisfies it.
type Sink interface {
	Add(ctx context.Context, entity string, data any) (*dataset.Reply, error)
}

// Buffer queues audit records and flushes them as one batch insert when
// the queue overflows, a caller forces it, or the delay timer fires. The
// timer is cleared before the asynchronous insert starts, so a flush
// decision can never race a second one over the same records.
type Buffer struct {
	sink   Sink
	entity string
	delay  time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	size  int
	queue []model.AuditRecord
	timer *time.Timer
}

// Options tunes a single Record call.
type Options struct {
	BufferSize int
	Flush      bool
}

func New(sink Sink, size int, logger *slog.Logger) *Buffer {
	if size <= 0 {
		size = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		sink:   sink,
		entity: "ad_audits",
		delay:  DefaultFlushDelay,
		logger: logger,
		size:   size,
	}
}

// SetFlushDelay overrides the timer delay. Used by tests.
func (b *Buffer) SetFlushDelay(d time.Duration) {
	b.mu.Lock()
	b.delay = d
	b.mu.Unlock()
}

// Record appends one entry and decides whether to flush now, later, or
// not yet.
func (b *Buffer) Record(entry model.AuditRecord, opts ...Options) {
	forced := false
	b.mu.Lock()
	if len(opts) > 0 {
		if opts[0].BufferSize > 0 {
			b.size = opts[0].BufferSize
		}
		forced = opts[0].Flush
	}
	if entry.Date.IsZero() {
		entry.Date = time.Now()
	}
	b.queue = append(b.queue, entry)

	if len(b.queue) > b.size || forced {
		b.flushLocked()
	} else if b.timer == nil {
		b.timer = time.AfterFunc(b.delay, b.onTimer)
	}
	b.mu.Unlock()
}

// Flush writes out whatever is queued. Safe to call on shutdown.
func (b *Buffer) Flush() {
	b.mu.Lock()
	b.flushLocked()
	b.mu.Unlock()
}

// Len reports the number of queued records.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Buffer) onTimer() {
	b.mu.Lock()
	b.timer = nil
	b.flushLocked()
	b.mu.Unlock()
}

func (b *Buffer) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.queue) == 0 {
		return
	}
	batch := b.queue
	b.queue = nil

	go func() {
		records := make([]map[string]any, 0, len(batch))
		for _, entry := range batch {
			records = append(records, map[string]any{
				"fn_user":    entry.UserID,
				"d_date":     entry.Date.UTC().Format(time.RFC3339),
				"c_data":     entry.Data,
				"c_type":     entry.Type,
				"c_app_name": entry.AppName,
			})
		}
		if _, err := b.sink.Add(context.Background(), b.entity, records); err != nil {
			b.logger.Error("audit flush failed", "count", len(records), "err", err)
			return
		}
		b.logger.Debug("audit flushed", "count", len(records))
	}()
}
