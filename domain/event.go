package domain

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// EventType is the kind of change carried by the realtime feed.
type EventType string

const (
	EventInsert EventType = "insert"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	// EventResync tells subscribers that events may have been missed and
	// the full state should be fetched again.
	EventResync EventType = "resync"
)

// ChangeEvent is a single notification on the realtime feed. Record holds
// the full record after the change; for deletes only the id is set.
type ChangeEvent struct {
	ID        string    `json:"id"`
	Table     string    `json:"table"`
	Type      EventType `json:"type"`
	Record    Task      `json:"record"`
	Timestamp int64     `json:"timestamp"`
}

// Subscription is a live change feed for one table and filter. Events is
// closed once the subscription ends.
type Subscription interface {
	Events() <-chan ChangeEvent
	Close() error
}

// NewChangeEvent stamps an event with a fresh id and a timestamp that is
// strictly increasing within the process.
func NewChangeEvent(table string, typ EventType, rec Task) ChangeEvent {
	return ChangeEvent{
		ID:        uuid.NewString(),
		Table:     table,
		Type:      typ,
		Record:    rec,
		Timestamp: nextTimestamp(),
	}
}

var lastTimestamp int64

func nextTimestamp() int64 {
	for {
		now := time.Now().UnixNano()
		last := atomic.LoadInt64(&lastTimestamp)
		if now <= last {
			now = last + 1
		}
		if atomic.CompareAndSwapInt64(&lastTimestamp, last, now) {
			return now
		}
	}
}
