package models

import "time"

// TimestampLayout is the layout used by chat exports for the "date" field
const TimestampLayout = "2006-01-02 15:04:05"

// MessageRecord represents a single message parsed from a chat export.
// Records are immutable once parsed; the persisted row table uses the json
// field names below.
type MessageRecord struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"user"`
	Handle      string     `json:"username"`
	Timestamp   string     `json:"date"`
	ParsedTime  *time.Time `json:"datetime"`
	Text        string     `json:"message"`
	ReplyTo     string     `json:"reply_to"`
}

// HasID reports whether the record can be referenced as a reply target
func (m MessageRecord) HasID() bool {
	return m.ID != ""
}

// IsReply reports whether the record answers another message
func (m MessageRecord) IsReply() bool {
	return m.ReplyTo != ""
}

// Sender formats the sender identity the way exports display it
func (m MessageRecord) Sender() string {
	if m.Handle == "" {
		return m.DisplayName
	}
	if m.DisplayName == "" {
		return m.Handle
	}
	return m.DisplayName + " (" + m.Handle + ")"
}
