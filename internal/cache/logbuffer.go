// internal/cache/logbuffer.go - Recent log lines with live followers
package cache

import (
    "strings"
    "sync"
    "time"

    "github.com/sirupsen/logrus"
)

const (
    DefaultLogLines = 500

    followerBuffer = 64
)

type LogLine struct {
    Timestamp time.Time `json:"timestamp"`
    Level     string    `json:"level"`
    Message   string    `json:"message"`
    Raw       string    `json:"raw"`
}

// LogBuffer keeps the most recent log lines and fans new ones out to
// followers. It is installed as a logrus hook, so it sees every entry that
// passes the logger's level.
type LogBuffer struct {
    mu        sync.RWMutex
    lines     []LogLine
    head      int
    count     int
    followers map[chan LogLine]struct{}
}

func NewLogBuffer(size int) *LogBuffer {
    if size < 1 {
        size = DefaultLogLines
    }
    return &LogBuffer{
        lines:     make([]LogLine, size),
        followers: make(map[chan LogLine]struct{}),
    }
}

func (b *LogBuffer) Levels() []logrus.Level {
    return logrus.AllLevels
}

func (b *LogBuffer) Fire(entry *logrus.Entry) error {
    raw, err := entry.String()
    if err != nil {
        raw = entry.Message
    }
    b.Append(LogLine{
        Timestamp: entry.Time,
        Level:     entry.Level.String(),
        Message:   entry.Message,
        Raw:       strings.TrimRight(raw, "\n"),
    })
    return nil
}

// Append stores a line and offers it to every follower. A follower that
// is not keeping up misses lines rather than blocking the logger.
func (b *LogBuffer) Append(line LogLine) {
    b.mu.Lock()
    defer b.mu.Unlock()

    b.lines[b.head] = line
    b.head = (b.head + 1) % len(b.lines)
    if b.count < len(b.lines) {
        b.count++
    }

    for ch := range b.followers {
        select {
        case ch <- line:
        default:
        }
    }
}

// Lines returns up to limit recent lines, oldest first. limit <= 0 returns
// everything buffered.
func (b *LogBuffer) Lines(limit int) []LogLine {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return b.snapshot(limit)
}

// Follow returns the buffered lines and a channel carrying every line
// appended afterwards, with no gap or overlap between the two. stop must
// be called to release the channel.
func (b *LogBuffer) Follow() ([]LogLine, <-chan LogLine, func()) {
    b.mu.Lock()
    defer b.mu.Unlock()

    ch := make(chan LogLine, followerBuffer)
    b.followers[ch] = struct{}{}

    var once sync.Once
    stop := func() {
        once.Do(func() {
            b.mu.Lock()
            delete(b.followers, ch)
            b.mu.Unlock()
        })
    }
    return b.snapshot(0), ch, stop
}

func (b *LogBuffer) Followers() int {
    b.mu.RLock()
    defer b.mu.RUnlock()
    return len(b.followers)
}

// snapshot expects the lock to be held.
func (b *LogBuffer) snapshot(limit int) []LogLine {
    n := b.count
    if limit > 0 && limit < n {
        n = limit
    }

    out := make([]LogLine, n)
    start := (b.head - n + len(b.lines)) % len(b.lines)
    for i := 0; i < n; i++ {
        out[i] = b.lines[(start+i)%len(b.lines)]
    }
    return out
}
