// internal/cache/status.go - Most recent status transition per device
package cache

import (
    "sync"
    "time"
)

type statusEntry struct {
    status     string
    recordedAt time.Time
}

// StatusCache remembers the last transition recorded for each device so a
// repeated signal for the same state is not treated as a new change.
type StatusCache struct {
    mu      sync.RWMutex
    entries map[string]statusEntry
    now     func() time.Time
}

func NewStatusCache() *StatusCache {
    return &StatusCache{
        entries: make(map[string]statusEntry),
        now:     time.Now,
    }
}

// Record stores status as the device's latest transition.
func (c *StatusCache) Record(deviceID, status string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    c.entries[deviceID] = statusEntry{status: status, recordedAt: c.now()}
}

// Last returns the most recently recorded status for a device.
func (c *StatusCache) Last(deviceID string) (string, bool) {
    c.mu.RLock()
    defer c.mu.RUnlock()
    e, ok := c.entries[deviceID]
    return e.status, ok
}

func (c *StatusCache) Evict(deviceID string) {
    c.mu.Lock()
    defer c.mu.Unlock()
    delete(c.entries, deviceID)
}

// Sweep drops entries recorded more than ttl ago and returns how many went.
func (c *StatusCache) Sweep(ttl time.Duration) int {
    c.mu.Lock()
    defer c.mu.Unlock()

    cutoff := c.now().Add(-ttl)
    removed := 0
    for id, e := range c.entries {
        if e.recordedAt.Before(cutoff) {
            delete(c.entries, id)
            removed++
        }
    }
    return removed
}

func (c *StatusCache) Len() int {
    c.mu.RLock()
    defer c.mu.RUnlock()
    return len(c.entries)
}
