// internal/notifications/throttle.go - Sliding-window notification rate limits
package notifications

import (
    "sync"
    "time"

    "netwatch/internal/config"
)

// Throttler limits notifications per device and in total within a window.
type Throttler struct {
    config       config.ThrottleConfig
    deviceCounts map[string][]time.Time
    totalCounts  []time.Time
    now          func() time.Time
    mu           sync.Mutex
}

func NewThrottler(cfg config.ThrottleConfig) *Throttler {
    return &Throttler{
        config:       cfg,
        deviceCounts: make(map[string][]time.Time),
        now:          time.Now,
    }
}

// Allow reports whether a notification for deviceID may go out now and,
// if so, records it.
func (t *Throttler) Allow(deviceID string) bool {
    if !t.config.Enabled {
        return true
    }

    t.mu.Lock()
    defer t.mu.Unlock()

    now := t.now()
    windowStart := now.Add(-t.config.Window)

    t.totalCounts = prune(t.totalCounts, windowStart)
    deviceTimes := prune(t.deviceCounts[deviceID], windowStart)
    if len(deviceTimes) == 0 {
        delete(t.deviceCounts, deviceID)
    } else {
        t.deviceCounts[deviceID] = deviceTimes
    }

    if t.config.MaxPerDevice > 0 && len(deviceTimes) >= t.config.MaxPerDevice {
        return false
    }
    if t.config.MaxTotal > 0 && len(t.totalCounts) >= t.config.MaxTotal {
        return false
    }

    t.deviceCounts[deviceID] = append(deviceTimes, now)
    t.totalCounts = append(t.totalCounts, now)
    return true
}

// Tracked returns how many devices still have notifications inside the window.
func (t *Throttler) Tracked() int {
    t.mu.Lock()
    defer t.mu.Unlock()
    t.cleanup(t.now().Add(-t.config.Window))
    return len(t.deviceCounts)
}

// cleanup expects t.mu to be held.
func (t *Throttler) cleanup(windowStart time.Time) {
    for deviceID, times := range t.deviceCounts {
        if kept := prune(times, windowStart); len(kept) == 0 {
            delete(t.deviceCounts, deviceID)
        } else {
            t.deviceCounts[deviceID] = kept
        }
    }
    t.totalCounts = prune(t.totalCounts, windowStart)
}

func prune(times []time.Time, windowStart time.Time) []time.Time {
    i := 0
    for i < len(times) && !times[i].After(windowStart) {
        i++
    }
    return times[i:]
}
