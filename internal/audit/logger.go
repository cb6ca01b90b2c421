package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// LoggerConfig configures the async audit logger.
type LoggerConfig struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
}

// BatchWriter persists a batch of events.
type BatchWriter interface {
	WriteBatch(ctx context.Context, events []Event) error
}

// Retained reports whether an event must reach storage even when the
// buffer is full: impersonation events and access denials.
func Retained(action string) bool {
	return action == ActionAccessDenied || isImpersonation(action)
}

func isImpersonation(action string) bool {
	return strings.HasPrefix(action, "impersonation.")
}

// AsyncLogger implements Logger with a buffered channel and background
// worker. Impersonation events flush their batch immediately so an open
// session is on record before the next tick.
type AsyncLogger struct {
	ch      chan Event
	writer  BatchWriter
	cfg     LoggerConfig
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	dropped atomic.Int64
}

// NewAsyncLogger creates and starts an async audit logger.
func NewAsyncLogger(writer BatchWriter, cfg LoggerConfig) *AsyncLogger {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 4096
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	l := &AsyncLogger{
		ch:     make(chan Event, cfg.BufferSize),
		writer: writer,
		cfg:    cfg,
		cancel: cancel,
	}

	l.wg.Add(1)
	go l.worker(ctx)

	return l
}

// Log enqueues an audit event. When the buffer is full a retained event is
// written synchronously and any other event is dropped.
func (l *AsyncLogger) Log(_ context.Context, event Event) {
	select {
	case l.ch <- event:
		return
	default:
	}

	if Retained(event.Action) {
		l.flush([]Event{event})
		return
	}
	n := l.dropped.Add(1)
	slog.Warn("audit buffer full, dropping event", "action", event.Action, "dropped_total", n)
}

// Dropped returns how many events were shed because the buffer was full.
func (l *AsyncLogger) Dropped() int64 {
	return l.dropped.Load()
}

// Close flushes remaining events and stops the worker.
func (l *AsyncLogger) Close() error {
	l.cancel()
	l.wg.Wait()
	l.flush(l.drainAll())
	return nil
}

func (l *AsyncLogger) worker(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	var batch []Event

	for {
		select {
		case <-ctx.Done():
			batch = append(batch, l.drainAll()...)
			l.flush(batch)
			return

		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= l.cfg.BatchSize || isImpersonation(e.Action) {
				l.flush(batch)
				batch = nil
			}

		case <-ticker.C:
			if len(batch) > 0 {
				l.flush(batch)
				batch = nil
			}
		}
	}
}

func (l *AsyncLogger) flush(events []Event) {
	if len(events) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.writer.WriteBatch(ctx, events); err != nil {
		slog.Error("audit flush failed", "error", err, "count", len(events))
	}
}

func (l *AsyncLogger) drainAll() []Event {
	var events []Event
	for {
		select {
		case e := <-l.ch:
			events = append(events, e)
		default:
			return events
		}
	}
}
