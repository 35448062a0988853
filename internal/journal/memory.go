package journal

import (
	"context"
	"sync"
	"time"

	"quorum-trader/pkg/models"
)

// Memory is an in-process journal used by tests and by deployments that run
// without a durable sink. Records are kept in append order.
type Memory struct {
	mu      sync.Mutex
	records []models.JournalRecord
}

// NewMemory returns an empty in-memory journal.
func NewMemory() *Memory {
	return &Memory{}
}

// Append stores a copy of the record.
func (m *Memory) Append(ctx context.Context, rec *models.JournalRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

// Records returns a copy of everything appended so far.
func (m *Memory) Records() []models.JournalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.JournalRecord, len(m.records))
	copy(out, m.records)
	return out
}

// Since returns records whose trigger fired at or after the given instant.
func (m *Memory) Since(since time.Time) []models.JournalRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.JournalRecord
	for _, rec := range m.records {
		if since.IsZero() || !rec.Trigger.FireTime.Before(since) {
			out = append(out, rec)
		}
	}
	return out
}

// Len returns the number of records appended.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
