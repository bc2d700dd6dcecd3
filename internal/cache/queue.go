// internal/cache/queue.go - Ring of recently created alerts for streaming consumers
package cache

import (
    "sync"
    "time"
)

const DefaultQueueSize = 100

// Record is the compact form of an alert handed to live consumers.
type Record struct {
    AlertID   string    `json:"alert_id"`
    DeviceID  string    `json:"device_id"`
    Device    string    `json:"device"`
    Severity  string    `json:"severity"`
    Type      string    `json:"type"`
    Message   string    `json:"message"`
    Timestamp time.Time `json:"timestamp"`
}

// Queue is a fixed-capacity ring; pushing into a full ring silently drops
// the oldest record.
type Queue struct {
    mu      sync.RWMutex
    records []Record
    head    int
    count   int
}

func NewQueue(size int) *Queue {
    if size <= 0 {
        size = DefaultQueueSize
    }
    return &Queue{records: make([]Record, size)}
}

func (q *Queue) Push(r Record) {
    q.mu.Lock()
    defer q.mu.Unlock()

    q.records[q.head] = r
    q.head = (q.head + 1) % len(q.records)
    if q.count < len(q.records) {
        q.count++
    }
}

// Latest returns the newest limit records in insertion order, newest last.
// A non-positive limit returns everything held.
func (q *Queue) Latest(limit int) []Record {
    q.mu.RLock()
    defer q.mu.RUnlock()

    all := q.snapshot()
    if limit > 0 && len(all) > limit {
        return all[len(all)-limit:]
    }
    return all
}

// PurgeDevice removes every record belonging to deviceID, keeping the order
// of the rest, and returns how many were removed.
func (q *Queue) PurgeDevice(deviceID string) int {
    q.mu.Lock()
    defer q.mu.Unlock()

    all := q.snapshot()
    kept := all[:0]
    for _, r := range all {
        if r.DeviceID != deviceID {
            kept = append(kept, r)
        }
    }
    removed := len(all) - len(kept)
    if removed == 0 {
        return 0
    }

    size := len(q.records)
    q.records = make([]Record, size)
    copy(q.records, kept)
    q.count = len(kept)
    q.head = q.count % size
    return removed
}

func (q *Queue) Len() int {
    q.mu.RLock()
    defer q.mu.RUnlock()
    return q.count
}

// snapshot copies the held records oldest first. Callers hold q.mu.
func (q *Queue) snapshot() []Record {
    size := len(q.records)
    out := make([]Record, q.count)
    start := 0
    if q.count == size {
        start = q.head
    }
    for i := 0; i < q.count; i++ {
        out[i] = q.records[(start+i)%size]
    }
    return out
}
