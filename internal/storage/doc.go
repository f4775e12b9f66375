// Package storage provides optional audit persistence.
//
// It records session lifecycle transitions and dispatch count summaries.
// Message bodies and recipient lists are never persisted. Two drivers are
// available: an append-only JSON Lines file backend and SQLite.
package storage
