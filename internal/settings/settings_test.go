package settings

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type fakeSource struct {
    mu      sync.Mutex
    values  map[string]string
    listErr error
    lists   int
    upserts int
}

func (f *fakeSource) ListSettings(ctx context.Context) (map[string]string, error) {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.lists++
    if f.listErr != nil {
        return nil, f.listErr
    }
    out := make(map[string]string, len(f.values))
    for k, v := range f.values {
        out[k] = v
    }
    return out, nil
}

func (f *fakeSource) UpsertSetting(ctx context.Context, key, value, description string) error {
    f.mu.Lock()
    defer f.mu.Unlock()
    f.upserts++
    if f.values == nil {
        f.values = make(map[string]string)
    }
    f.values[key] = value
    return nil
}

func TestParseDefaults(t *testing.T) {
    snap, errs := Parse(map[string]string{})
    assert.Empty(t, errs)
    assert.Equal(t, time.Second, snap.PingTimeout)
    assert.Equal(t, 5*time.Second, snap.RetryInterval)
    assert.Equal(t, 3, snap.MaxRetries)
    assert.Equal(t, 60*time.Second, snap.CheckInterval)
    assert.Equal(t, 4, snap.PingCount)
    assert.True(t, snap.ParallelPings)
    assert.Equal(t, 300*time.Second, snap.CacheTTL)
    assert.Equal(t, "INFO", snap.LogLevel)
}

func TestParseCoercion(t *testing.T) {
    tests := []struct {
        name    string
        raw     map[string]string
        check   func(t *testing.T, s Snapshot)
        badKeys []string
    }{
        {
            name: "valid values",
            raw:  map[string]string{KeyMaxRetries: "5", KeyCheckInterval: " 30 ", KeyParallelPings: "FALSE"},
            check: func(t *testing.T, s Snapshot) {
                assert.Equal(t, 5, s.MaxRetries)
                assert.Equal(t, 30*time.Second, s.CheckInterval)
                assert.False(t, s.ParallelPings)
            },
        },
        {
            name: "bool is case insensitive",
            raw:  map[string]string{KeyParallelPings: "True"},
            check: func(t *testing.T, s Snapshot) {
                assert.True(t, s.ParallelPings)
            },
        },
        {
            name: "malformed integer falls back",
            raw:  map[string]string{KeyPingCount: "four"},
            check: func(t *testing.T, s Snapshot) {
                assert.Equal(t, 4, s.PingCount)
            },
            badKeys: []string{KeyPingCount},
        },
        {
            name: "zero is rejected",
            raw:  map[string]string{KeyMaxRetries: "0", KeyPingTimeout: "-2"},
            check: func(t *testing.T, s Snapshot) {
                assert.Equal(t, 3, s.MaxRetries)
                assert.Equal(t, time.Second, s.PingTimeout)
            },
            badKeys: []string{KeyPingTimeout, KeyMaxRetries},
        },
        {
            name: "bool other than true/false falls back",
            raw:  map[string]string{KeyParallelPings: "yes"},
            check: func(t *testing.T, s Snapshot) {
                assert.True(t, s.ParallelPings)
            },
            badKeys: []string{KeyParallelPings},
        },
        {
            name: "log level normalised",
            raw:  map[string]string{KeyLogLevel: "debug"},
            check: func(t *testing.T, s Snapshot) {
                assert.Equal(t, "DEBUG", s.LogLevel)
            },
        },
    }

    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            snap, errs := Parse(tt.raw)
            tt.check(t, snap)
            var keys []string
            for _, e := range errs {
                keys = append(keys, e.Key)
            }
            assert.ElementsMatch(t, tt.badKeys, keys)
        })
    }
}

func TestCacheSeedsEmptyStoreOnce(t *testing.T) {
    src := &fakeSource{}
    cache := NewCache(src)

    snap := cache.Get(context.Background(), false)
    assert.Equal(t, DefaultSnapshot().CheckInterval, snap.CheckInterval)
    assert.Equal(t, len(Defaults), src.upserts)
    assert.Equal(t, DefaultValues(), src.values)

    cache.Get(context.Background(), true)
    assert.Equal(t, len(Defaults), src.upserts, "defaults must be persisted exactly once")
}

func TestCacheTTL(t *testing.T) {
    src := &fakeSource{values: map[string]string{KeyCacheTTL: "10", KeyMaxRetries: "2"}}
    cache := NewCache(src)
    now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
    cache.now = func() time.Time { return now }

    assert.Equal(t, 2, cache.Get(context.Background(), false).MaxRetries)
    assert.Equal(t, 1, src.lists)

    src.values[KeyMaxRetries] = "7"
    now = now.Add(5 * time.Second)
    assert.Equal(t, 2, cache.Get(context.Background(), false).MaxRetries)
    assert.Equal(t, 1, src.lists)

    assert.Equal(t, 7, cache.Get(context.Background(), true).MaxRetries)
    assert.Equal(t, 2, src.lists)

    src.values[KeyMaxRetries] = "9"
    now = now.Add(11 * time.Second)
    assert.Equal(t, 9, cache.Get(context.Background(), false).MaxRetries)
}

func TestCacheInvalidate(t *testing.T) {
    src := &fakeSource{values: map[string]string{KeyMaxRetries: "2"}}
    cache := NewCache(src)

    cache.Get(context.Background(), false)
    src.values[KeyMaxRetries] = "6"
    cache.Invalidate()
    assert.Equal(t, 6, cache.Get(context.Background(), false).MaxRetries)
}

func TestCacheStoreFailureReturnsDefaults(t *testing.T) {
    src := &fakeSource{listErr: errors.New("db locked")}
    cache := NewCache(src)

    snap := cache.Get(context.Background(), false)
    assert.Equal(t, DefaultSnapshot().MaxRetries, snap.MaxRetries)
    assert.Equal(t, 0, src.upserts)

    // Failure is not cached: the next call retries the store.
    src.listErr = nil
    src.values = map[string]string{KeyMaxRetries: "8"}
    assert.Equal(t, 8, cache.Get(context.Background(), false).MaxRetries)
}

func TestCacheConcurrentGet(t *testing.T) {
    src := &fakeSource{values: map[string]string{KeyMaxRetries: "4"}}
    cache := NewCache(src)

    var wg sync.WaitGroup
    for i := 0; i < 20; i++ {
        wg.Add(1)
        go func() {
            defer wg.Done()
            assert.Equal(t, 4, cache.Get(context.Background(), false).MaxRetries)
        }()
    }
    wg.Wait()
    require.LessOrEqual(t, src.lists, 20)
}
