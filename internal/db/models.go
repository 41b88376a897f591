// Package db is the durable SQLite store for recording segments.
package db

import "time"

// Segment is the persisted metadata for one finalized chunk file.
type Segment struct {
	ID         int64
	FilePath   string
	StartedAt  time.Time
	Duration   time.Duration
	Synced     bool
	Transcript *string
}

// DurationMillis is the stored duration in milliseconds.
func (s Segment) DurationMillis() int64 {
	return s.Duration.Milliseconds()
}

// Op names a kind of store write.
type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
)

// Change is broadcast to subscribers after every successful write.
type Change struct {
	Op Op
	ID int64
}
