// Package journal persists the append-only record of every decision cycle
// as one JSON object per line. Appends are serialized and, by default,
// fsynced before the cycle is allowed to report success; a failed write
// parks the record in a bounded in-memory buffer that is retried on the
// next append rather than failing the cycle.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"quorum-trader/pkg/models"
)

// ErrWriteFailed marks an append that could not be made durable. The record
// is parked for retry; the cycle that produced it is still valid.
var ErrWriteFailed = errors.New("journal write failed")

// maxPending bounds the retry buffer. Beyond it the oldest parked record is
// dropped and counted.
const maxPending = 1024

// Writer is the JSONL journal sink. One Writer owns the file handle; all
// appends are serialized through its mutex so file offsets reflect
// completion order.
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	path    string
	fsync   bool
	pending []models.JournalRecord
	dropped int64

	log     zerolog.Logger
	metrics *journalMetrics
}

// NewWriter opens (or creates) the journal file for appending. The parent
// directory is created if missing.
func NewWriter(path string, fsyncEachRecord bool, log zerolog.Logger) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal file: %w", err)
	}
	return &Writer{
		file:    file,
		path:    path,
		fsync:   fsyncEachRecord,
		log:     log.With().Str("component", "journal").Str("path", path).Logger(),
		metrics: getOrCreateJournalMetrics(),
	}, nil
}

// Path returns the journal file path.
func (w *Writer) Path() string { return w.path }

// Append writes one record as a JSON line. Any parked records are flushed
// first so the file keeps completion order as closely as the disk allows.
// On failure the record is parked and ErrWriteFailed is returned.
func (w *Writer) Append(ctx context.Context, rec *models.JournalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushPendingLocked(); err != nil {
		w.park(*rec)
		return fmt.Errorf("%w: %d records pending: %v", ErrWriteFailed, len(w.pending), err)
	}
	if err := w.writeLocked(rec); err != nil {
		w.park(*rec)
		return fmt.Errorf("%w: %v", ErrWriteFailed, err)
	}
	w.metrics.writes.Inc()
	return nil
}

// Pending returns the number of parked records awaiting retry.
func (w *Writer) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// Close flushes parked records best-effort and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.flushPendingLocked(); err != nil {
		w.log.Error().Err(err).Int("pending", len(w.pending)).Msg("Records lost at journal close")
	}
	return w.file.Close()
}

func (w *Writer) writeLocked(rec *models.JournalRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := w.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	if w.fsync {
		if err := w.file.Sync(); err != nil {
			return fmt.Errorf("fsync record: %w", err)
		}
	}
	return nil
}

func (w *Writer) flushPendingLocked() error {
	for len(w.pending) > 0 {
		if err := w.writeLocked(&w.pending[0]); err != nil {
			return err
		}
		w.pending = w.pending[1:]
		w.metrics.writes.Inc()
		w.metrics.pending.Set(float64(len(w.pending)))
	}
	return nil
}

func (w *Writer) park(rec models.JournalRecord) {
	if len(w.pending) >= maxPending {
		w.pending = w.pending[1:]
		w.dropped++
		w.metrics.droppedRecords.Inc()
		w.log.Error().Int64("dropped_total", w.dropped).Msg("Pending journal buffer full, oldest record dropped")
	}
	w.pending = append(w.pending, rec)
	w.metrics.writeFailures.Inc()
	w.metrics.pending.Set(float64(len(w.pending)))
	w.log.Warn().
		Str("cycle_id", rec.CycleID.String()).
		Int("pending", len(w.pending)).
		Msg("Journal record parked for retry")
}
