// internal/cache/history.go - Bounded per-device metric history
package cache

import "sync"

// DefaultHistorySize is the number of samples kept per device and metric.
const DefaultHistorySize = 10

// Metric kinds tracked per device.
const (
    KindPacketLoss = "packet_loss"
    KindJitter     = "jitter"
    KindLatency    = "latency"
)

// History keeps a fixed-size ring of samples for every (device, kind) pair.
type History struct {
    mu      sync.RWMutex
    size    int
    devices map[string]map[string]*ringBuffer
}

type ringBuffer struct {
    data  []float64
    head  int
    count int
}

func NewHistory(size int) *History {
    if size <= 0 {
        size = DefaultHistorySize
    }
    return &History{
        size:    size,
        devices: make(map[string]map[string]*ringBuffer),
    }
}

// Push appends a sample, evicting the oldest once the ring is full.
func (h *History) Push(deviceID, kind string, value float64) {
    h.mu.Lock()
    defer h.mu.Unlock()

    kinds, ok := h.devices[deviceID]
    if !ok {
        kinds = make(map[string]*ringBuffer)
        h.devices[deviceID] = kinds
    }
    ring, ok := kinds[kind]
    if !ok {
        ring = &ringBuffer{data: make([]float64, h.size)}
        kinds[kind] = ring
    }
    ring.push(value)
}

// Last returns up to n of the newest samples, oldest first.
func (h *History) Last(deviceID, kind string, n int) []float64 {
    h.mu.RLock()
    defer h.mu.RUnlock()

    ring, ok := h.devices[deviceID][kind]
    if !ok {
        return nil
    }
    return ring.last(n)
}

// Clear forgets every sample of a device.
func (h *History) Clear(deviceID string) {
    h.mu.Lock()
    defer h.mu.Unlock()
    delete(h.devices, deviceID)
}

func (r *ringBuffer) push(value float64) {
    r.data[r.head] = value
    r.head = (r.head + 1) % len(r.data)
    if r.count < len(r.data) {
        r.count++
    }
}

func (r *ringBuffer) last(n int) []float64 {
    if n <= 0 || r.count == 0 {
        return nil
    }
    if n > r.count {
        n = r.count
    }

    size := len(r.data)
    out := make([]float64, n)
    start := (r.head - n + size) % size
    for i := 0; i < n; i++ {
        out[i] = r.data[(start+i)%size]
    }
    return out
}
