// Package telemetry implements C9 Query Telemetry: a bounded, in-memory
// ring buffer of recent query timings with oldest-drop-on-overflow, a
// non-blocking slow-query advisory channel, and periodic persistence to the
// backing store (spec.md §4.9, §5).
package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kqlgateway/kqlgateway/internal/store"
)

// Entry is one recorded query's timing and size (spec.md §4.9).
type Entry struct {
	QueryHash       string `json:"queryHash"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	RecordsReturned int    `json:"recordsReturned"`
	Timestamp       int64  `json:"timestamp"`
}

// SlowQueryEvent is published when a query exceeds the configured
// slow-query threshold. Subscribers are advisory: the request path never
// waits on them (spec.md §4.9).
type SlowQueryEvent struct {
	QueryHash       string
	ExecutionTimeMs int64
	Timestamp       int64
}

// Recorder is the single-producer-per-request, single-consumer-flusher
// buffer described in spec.md §5's "Shared state" paragraph.
type Recorder struct {
	mu          sync.Mutex
	entries     []Entry
	capacity    int
	dropped     uint64
	thresholdMs int64
	slowCh      chan SlowQueryEvent
	logger      *slog.Logger
}

// NewRecorder constructs a Recorder with a fixed-capacity buffer and the
// given slow-query threshold in milliseconds (default 1000 per spec.md §6).
func NewRecorder(capacity int, thresholdMs int64, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		capacity:    capacity,
		thresholdMs: thresholdMs,
		slowCh:      make(chan SlowQueryEvent, 16),
		logger:      logger,
	}
}

// Record appends e to the buffer, dropping the oldest entry on overflow, and
// publishes a SlowQueryEvent without blocking when the threshold is
// exceeded.
func (r *Recorder) Record(e Entry) {
	r.mu.Lock()
	if len(r.entries) >= r.capacity {
		r.entries = r.entries[1:]
		r.dropped++
	}
	r.entries = append(r.entries, e)
	r.mu.Unlock()

	if r.thresholdMs > 0 && e.ExecutionTimeMs > r.thresholdMs {
		select {
		case r.slowCh <- SlowQueryEvent{QueryHash: e.QueryHash, ExecutionTimeMs: e.ExecutionTimeMs, Timestamp: e.Timestamp}:
		default:
			r.logger.Warn("telemetry: slow-query channel full, event dropped", "query_hash", e.QueryHash)
		}
	}
}

// Recent returns a snapshot of the current buffer contents, newest last,
// for the /telemetry/recent endpoint (SPEC_FULL.md A8).
func (r *Recorder) Recent() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// DroppedCount reports how many entries have been discarded for overflow.
func (r *Recorder) DroppedCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

// Subscribe returns the advisory slow-query channel. Handlers must not
// block; the channel is buffered and drops events rather than back up into
// Record.
func (r *Recorder) Subscribe() <-chan SlowQueryEvent {
	return r.slowCh
}

// drain removes and returns every currently buffered entry.
func (r *Recorder) drain() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.entries) == 0 {
		return nil
	}
	out := r.entries
	r.entries = nil
	return out
}

// Flusher periodically persists the Recorder's buffered entries to the
// backing store ("on rotation, persists the buffer to the backing store",
// spec.md §4.9).
type Flusher struct {
	recorder *Recorder
	pool     store.Pool
	interval time.Duration
	logger   *slog.Logger

	lastRunNano atomic.Int64
	lastErr     atomic.Pointer[string]
}

// NewFlusher constructs a Flusher that rotates the recorder's buffer into
// pool every interval.
func NewFlusher(recorder *Recorder, pool store.Pool, interval time.Duration, logger *slog.Logger) *Flusher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Flusher{recorder: recorder, pool: pool, interval: interval, logger: logger}
}

// Run blocks, flushing on each tick, until ctx is cancelled. Intended to run
// under an errgroup alongside the HTTP listener (SPEC_FULL.md §5).
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.flush(context.Background())
			return ctx.Err()
		case <-ticker.C:
			f.flush(ctx)
		}
	}
}

func (f *Flusher) flush(ctx context.Context) {
	defer f.lastRunNano.Store(time.Now().UnixNano())

	entries := f.recorder.drain()
	if len(entries) == 0 {
		f.lastErr.Store(nil)
		return
	}
	records := make([]store.TelemetryRecord, len(entries))
	for i, e := range entries {
		records[i] = store.TelemetryRecord{
			QueryHash:       e.QueryHash,
			ExecutionTimeMs: e.ExecutionTimeMs,
			RecordsReturned: e.RecordsReturned,
			Timestamp:       e.Timestamp,
		}
	}

	session, err := f.pool.Acquire(ctx)
	if err != nil {
		f.logger.Warn("telemetry: flush: acquire session failed", "error", err)
		f.storeErr(err)
		return
	}
	defer session.Release()

	if err := session.PersistTelemetry(ctx, records); err != nil {
		f.logger.Warn("telemetry: flush: persist failed", "error", err)
		f.storeErr(err)
		return
	}
	f.lastErr.Store(nil)
}

func (f *Flusher) storeErr(err error) {
	msg := err.Error()
	f.lastErr.Store(&msg)
}

// LastRun reports when the flusher's tick loop last completed a rotation
// (persisted or not), or the zero Time if it has never ticked. The health
// package uses this to detect a wedged flush loop (SPEC_FULL.md A4).
func (f *Flusher) LastRun() time.Time {
	nano := f.lastRunNano.Load()
	if nano == 0 {
		return time.Time{}
	}
	return time.Unix(0, nano)
}

// LastError returns the error from the most recent flush attempt, or nil if
// the last attempt (if any) succeeded.
func (f *Flusher) LastError() error {
	if msg := f.lastErr.Load(); msg != nil {
		return errors.New(*msg)
	}
	return nil
}

// Interval reports the configured rotation period.
func (f *Flusher) Interval() time.Duration {
	return f.interval
}
