package corpus

import (
	"strings"
	"time"

	"github.com/andrew/chat-thread-search/pkg/models"
)

// Store is the ordered set of parsed message records. Positions are stable
// and are used as row numbers by the vector index.
type Store struct {
	records []models.MessageRecord
	byID    map[string]int
}

// New builds a Store from records in corpus order, dropping records that carry
// neither a display name nor text and filling in ParsedTime where possible.
func New(records []models.MessageRecord) *Store {
	s := &Store{
		records: make([]models.MessageRecord, 0, len(records)),
		byID:    make(map[string]int),
	}
	for _, r := range records {
		r, ok := normalize(r)
		if !ok {
			continue
		}
		s.add(r)
	}
	return s
}

func (s *Store) add(r models.MessageRecord) {
	pos := len(s.records)
	s.records = append(s.records, r)
	if !r.HasID() {
		return
	}
	// duplicate ids keep the first occurrence
	if _, exists := s.byID[r.ID]; !exists {
		s.byID[r.ID] = pos
	}
}

// Len returns the number of records
func (s *Store) Len() int {
	return len(s.records)
}

// Records returns the records in corpus order. The slice must not be modified.
func (s *Store) Records() []models.MessageRecord {
	return s.records
}

// At returns the record at position i
func (s *Store) At(i int) models.MessageRecord {
	return s.records[i]
}

// Index returns the position of the first record with the given id
func (s *Store) Index(id string) (int, bool) {
	if id == "" {
		return 0, false
	}
	i, ok := s.byID[id]
	return i, ok
}

// normalize trims identity fields and resolves ParsedTime. It reports false
// for records that must be dropped. Text is kept as written.
func normalize(r models.MessageRecord) (models.MessageRecord, bool) {
	r.ID = strings.TrimSpace(r.ID)
	r.ReplyTo = strings.TrimSpace(r.ReplyTo)
	r.DisplayName = strings.TrimSpace(r.DisplayName)
	r.Handle = strings.TrimSpace(r.Handle)
	if r.DisplayName == "" && strings.TrimSpace(r.Text) == "" {
		return r, false
	}
	r.ParsedTime = nil
	if t, ok := ParseTimestamp(r.Timestamp); ok {
		r.ParsedTime = &t
	}
	return r, true
}

// ParseTimestamp parses an export timestamp. Exports sometimes append a UTC
// offset after the time ("2023-05-01 10:00:00 UTC+03:00"); only the leading
// date and time are used.
func ParseTimestamp(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(models.TimestampLayout, raw); err == nil {
		return t, true
	}
	if len(raw) > len(models.TimestampLayout) {
		if t, err := time.Parse(models.TimestampLayout, raw[:len(models.TimestampLayout)]); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
