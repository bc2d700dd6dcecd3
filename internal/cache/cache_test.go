package cache

import (
    "bytes"
    "fmt"
    "sync"
    "testing"
    "time"

    "github.com/sirupsen/logrus"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestStatusCacheRecordAndSweep(t *testing.T) {
    c := NewStatusCache()
    now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
    c.now = func() time.Time { return now }

    _, ok := c.Last("a")
    assert.False(t, ok)

    c.Record("a", "offline")
    now = now.Add(4 * time.Minute)
    c.Record("b", "online")

    status, ok := c.Last("a")
    require.True(t, ok)
    assert.Equal(t, "offline", status)
    assert.Equal(t, 2, c.Len())

    now = now.Add(2 * time.Minute)
    assert.Equal(t, 1, c.Sweep(5*time.Minute))
    _, ok = c.Last("a")
    assert.False(t, ok)
    _, ok = c.Last("b")
    assert.True(t, ok)

    c.Evict("b")
    assert.Equal(t, 0, c.Len())
}

func TestHistoryRingKeepsNewest(t *testing.T) {
    h := NewHistory(3)

    assert.Nil(t, h.Last("dev", KindPacketLoss, 2))

    for _, v := range []float64{1, 2, 3, 4, 5} {
        h.Push("dev", KindPacketLoss, v)
    }
    h.Push("dev", KindJitter, 9)

    assert.Equal(t, []float64{3, 4, 5}, h.Last("dev", KindPacketLoss, 10))
    assert.Equal(t, []float64{4, 5}, h.Last("dev", KindPacketLoss, 2))
    assert.Equal(t, []float64{9}, h.Last("dev", KindJitter, 5))
    assert.Nil(t, h.Last("dev", KindLatency, 5))
    assert.Nil(t, h.Last("dev", KindPacketLoss, 0))

    h.Clear("dev")
    assert.Nil(t, h.Last("dev", KindPacketLoss, 3))
}

func TestHistoryConcurrentDevices(t *testing.T) {
    h := NewHistory(5)
    var wg sync.WaitGroup
    for i := 0; i < 10; i++ {
        wg.Add(1)
        go func(id string) {
            defer wg.Done()
            for j := 0; j < 100; j++ {
                h.Push(id, KindLatency, float64(j))
            }
        }(fmt.Sprintf("dev-%d", i))
    }
    wg.Wait()

    for i := 0; i < 10; i++ {
        assert.Equal(t, []float64{95, 96, 97, 98, 99}, h.Last(fmt.Sprintf("dev-%d", i), KindLatency, 5))
    }
}

func rec(alertID, deviceID string) Record {
    return Record{AlertID: alertID, DeviceID: deviceID}
}

func ids(records []Record) []string {
    out := make([]string, len(records))
    for i, r := range records {
        out[i] = r.AlertID
    }
    return out
}

func TestQueueEvictsOldest(t *testing.T) {
    q := NewQueue(3)
    assert.Empty(t, q.Latest(10))

    for i := 1; i <= 5; i++ {
        q.Push(rec(fmt.Sprintf("a%d", i), "d"))
    }

    assert.Equal(t, 3, q.Len())
    assert.Equal(t, []string{"a3", "a4", "a5"}, ids(q.Latest(0)))
    assert.Equal(t, []string{"a4", "a5"}, ids(q.Latest(2)))
    assert.Equal(t, []string{"a3", "a4", "a5"}, ids(q.Latest(50)))
}

func TestQueuePurgeDevice(t *testing.T) {
    q := NewQueue(4)
    q.Push(rec("a1", "x"))
    q.Push(rec("a2", "y"))
    q.Push(rec("a3", "x"))
    q.Push(rec("a4", "y"))
    q.Push(rec("a5", "x"))

    assert.Equal(t, 2, q.PurgeDevice("x"))
    assert.Equal(t, []string{"a2", "a4"}, ids(q.Latest(0)))
    assert.Equal(t, 0, q.PurgeDevice("missing"))

    // Ring continues correctly after a purge.
    q.Push(rec("a6", "z"))
    q.Push(rec("a7", "z"))
    q.Push(rec("a8", "z"))
    assert.Equal(t, []string{"a4", "a6", "a7", "a8"}, ids(q.Latest(0)))
}

func TestQueueDefaultSize(t *testing.T) {
    q := NewQueue(0)
    for i := 0; i < 150; i++ {
        q.Push(rec(fmt.Sprint(i), "d"))
    }
    assert.Equal(t, DefaultQueueSize, q.Len())
    assert.Equal(t, "149", q.Latest(1)[0].AlertID)
}

func TestKeyedMutexSerialisesPerKey(t *testing.T) {
    km := NewKeyedMutex()
    counters := map[string]int{"a": 0, "b": 0}
    var mapMu sync.Mutex

    var wg sync.WaitGroup
    for i := 0; i < 50; i++ {
        for _, key := range []string{"a", "b"} {
            wg.Add(1)
            go func(key string) {
                defer wg.Done()
                unlock := km.Lock(key)
                defer unlock()

                mapMu.Lock()
                v := counters[key]
                mapMu.Unlock()
                time.Sleep(time.Microsecond)
                mapMu.Lock()
                counters[key] = v + 1
                mapMu.Unlock()
            }(key)
        }
    }
    wg.Wait()

    assert.Equal(t, 50, counters["a"])
    assert.Equal(t, 50, counters["b"])
    assert.Empty(t, km.locks)
}

func TestLogBufferKeepsNewest(t *testing.T) {
    buf := NewLogBuffer(3)
    for i := 1; i <= 5; i++ {
        buf.Append(LogLine{Message: fmt.Sprintf("line %d", i)})
    }

    lines := buf.Lines(0)
    require.Len(t, lines, 3)
    assert.Equal(t, "line 3", lines[0].Message)
    assert.Equal(t, "line 5", lines[2].Message)

    recent := buf.Lines(2)
    require.Len(t, recent, 2)
    assert.Equal(t, "line 4", recent[0].Message)
}

func TestLogBufferFollow(t *testing.T) {
    buf := NewLogBuffer(10)
    buf.Append(LogLine{Message: "before"})

    backlog, ch, stop := buf.Follow()
    require.Len(t, backlog, 1)
    assert.Equal(t, "before", backlog[0].Message)
    assert.Equal(t, 1, buf.Followers())

    buf.Append(LogLine{Message: "after"})
    select {
    case line := <-ch:
        assert.Equal(t, "after", line.Message)
    case <-time.After(time.Second):
        t.Fatal("follower did not receive the new line")
    }

    stop()
    stop()
    assert.Equal(t, 0, buf.Followers())
}

func TestLogBufferSlowFollowerDoesNotBlock(t *testing.T) {
    buf := NewLogBuffer(10)
    _, _, stop := buf.Follow()
    defer stop()

    done := make(chan struct{})
    go func() {
        for i := 0; i < followerBuffer*3; i++ {
            buf.Append(LogLine{Message: "spam"})
        }
        close(done)
    }()

    select {
    case <-done:
    case <-time.After(time.Second):
        t.Fatal("append blocked on an unread follower")
    }
}

func TestLogBufferAsLogrusHook(t *testing.T) {
    buf := NewLogBuffer(10)
    logger := logrus.New()
    logger.SetOutput(&bytes.Buffer{})
    logger.SetFormatter(&logrus.TextFormatter{DisableColors: true, DisableTimestamp: true})
    logger.SetLevel(logrus.InfoLevel)
    logger.AddHook(buf)

    logger.Debug("hidden")
    logger.WithField("device", "router").Warn("device offline")

    lines := buf.Lines(0)
    require.Len(t, lines, 1)
    assert.Equal(t, "warning", lines[0].Level)
    assert.Equal(t, "device offline", lines[0].Message)
    assert.Contains(t, lines[0].Raw, "device=router")
    assert.NotContains(t, lines[0].Raw, "\n")
}
