package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl)
//   - "sqlite": SQLite database file
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SessionEvent records one lifecycle transition.
// Keep it compact and schema-stable.
type SessionEvent struct {
	At        time.Time `json:"at"`
	SessionID string    `json:"session_id"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Reason    string    `json:"reason,omitempty"`
}

// DispatchSummary records the counts of one finished dispatch. Recipient
// lists and message bodies are deliberately not persisted.
type DispatchSummary struct {
	At           time.Time `json:"at"`
	SessionID    string    `json:"session_id"`
	ReportID     string    `json:"report_id"`
	Total        int       `json:"total"`
	Sent         int       `json:"sent"`
	Failed       int       `json:"failed"`
	Unregistered int       `json:"unregistered"`
	TookMS       int64     `json:"took_ms"`
}
