package journal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"quorum-trader/pkg/models"
)

// ReadSince streams the journal file and returns every record whose trigger
// fired at or after since. A zero since returns everything. A torn final
// line (crash mid-append with fsync disabled) is skipped; malformed lines
// elsewhere are an error because appends never interleave.
func ReadSince(path string, since time.Time) ([]models.JournalRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	records, err := decode(file, since)
	if err != nil {
		return nil, fmt.Errorf("journal %s: %w", path, err)
	}
	return records, nil
}

// FileReader adapts ReadSince to the query shape the control-plane API
// consumes. A journal that has not been written to yet reads as empty, not
// as an error.
type FileReader struct {
	Path string
}

// Since returns every record whose trigger fired at or after since.
func (f FileReader) Since(since time.Time) ([]models.JournalRecord, error) {
	records, err := ReadSince(f.Path, since)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return records, err
}

func decode(r io.Reader, since time.Time) ([]models.JournalRecord, error) {
	var records []models.JournalRecord

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	var torn bool
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		if torn {
			return nil, fmt.Errorf("malformed record at line %d", line-1)
		}

		var rec models.JournalRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Only acceptable as the very last line.
			torn = true
			continue
		}
		if rec.V != models.JournalSchemaVersion {
			return nil, fmt.Errorf("line %d: unsupported schema version %d", line, rec.V)
		}
		if since.IsZero() || !rec.Trigger.FireTime.Before(since) {
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return records, nil
}
