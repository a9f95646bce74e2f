package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/andrew/chat-thread-search/pkg/models"
)

// maxLineSize bounds a single JSONL line; long forwarded messages exceed bufio's default
const maxLineSize = 4 * 1024 * 1024

// LoadStats describes what happened while reading an export
type LoadStats struct {
	Lines     int `json:"lines"`
	Kept      int `json:"kept"`
	Dropped   int `json:"dropped"`
	Malformed int `json:"malformed"`
}

// LoadFile reads a JSONL export from path
func LoadFile(path string, logger *zap.Logger) (*Store, LoadStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, LoadStats{}, fmt.Errorf("open corpus: %w", err)
	}
	defer f.Close()

	if logger == nil {
		logger = zap.NewNop()
	}
	return LoadJSONL(f, logger.With(zap.String("path", path)))
}

// LoadJSONL reads one message record per line. Blank lines are ignored and a
// malformed line is skipped without aborting the rest of the export.
func LoadJSONL(r io.Reader, logger *zap.Logger) (*Store, LoadStats, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		stats   LoadStats
		records []models.MessageRecord
	)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		stats.Lines++
		if line == "" {
			continue
		}

		var rec rawRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			stats.Malformed++
			logger.Warn("skipping malformed corpus line", zap.Int("line", stats.Lines), zap.Error(err))
			continue
		}
		records = append(records, rec.toRecord())
	}
	if err := scanner.Err(); err != nil {
		return nil, stats, fmt.Errorf("read corpus: %w", err)
	}

	store := New(records)
	stats.Kept = store.Len()
	stats.Dropped = len(records) - store.Len()

	logger.Info("corpus loaded",
		zap.Int("records", stats.Kept),
		zap.Int("dropped", stats.Dropped),
		zap.Int("malformed", stats.Malformed),
	)
	return store, stats, nil
}

// rawRecord ignores the persisted datetime value; ParsedTime is always
// derived from the raw date string.
type rawRecord struct {
	ID          string `json:"id"`
	DisplayName string `json:"user"`
	Handle      string `json:"username"`
	Timestamp   string `json:"date"`
	Text        string `json:"message"`
	ReplyTo     string `json:"reply_to"`
}

func (r rawRecord) toRecord() models.MessageRecord {
	return models.MessageRecord{
		ID:          r.ID,
		DisplayName: r.DisplayName,
		Handle:      r.Handle,
		Timestamp:   r.Timestamp,
		Text:        r.Text,
		ReplyTo:     r.ReplyTo,
	}
}
