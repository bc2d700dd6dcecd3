// internal/settings/cache.go - TTL cache in front of the settings store
package settings

import (
    "context"
    "sync"
    "time"

    "github.com/sirupsen/logrus"
    "golang.org/x/sync/singleflight"
)

// Source is the part of the store the cache reads and seeds.
type Source interface {
    ListSettings(ctx context.Context) (map[string]string, error)
    UpsertSetting(ctx context.Context, key, value, description string) error
}

// Cache serves settings snapshots, reloading from the Source once the
// current snapshot is older than its own cache_ttl.
type Cache struct {
    source Source
    group  singleflight.Group
    now    func() time.Time

    mu     sync.RWMutex
    cached *Snapshot
    warned map[string]string
}

func NewCache(source Source) *Cache {
    return &Cache{
        source: source,
        now:    time.Now,
        warned: make(map[string]string),
    }
}

// Get returns the cached snapshot, or reloads it when stale, cold or forced.
// It never fails: an unreachable store yields the defaults.
func (c *Cache) Get(ctx context.Context, forceRefresh bool) Snapshot {
    if !forceRefresh {
        c.mu.RLock()
        cached := c.cached
        c.mu.RUnlock()
        if cached != nil && c.now().Sub(cached.LoadedAt) < cached.CacheTTL {
            return *cached
        }
    }

    v, _, _ := c.group.Do("settings", func() (interface{}, error) {
        return c.load(ctx), nil
    })
    return v.(Snapshot)
}

// Invalidate drops the cached snapshot so the next Get reloads.
func (c *Cache) Invalidate() {
    c.mu.Lock()
    c.cached = nil
    c.mu.Unlock()
}

func (c *Cache) load(ctx context.Context) Snapshot {
    raw, err := c.source.ListSettings(ctx)
    if err != nil {
        logrus.WithError(err).Error("Failed to load settings, using defaults")
        snap := DefaultSnapshot()
        snap.LoadedAt = c.now()
        return snap
    }

    if len(raw) == 0 {
        raw = c.seed(ctx)
    }

    snap, errs := Parse(raw)
    c.reportParseErrors(errs)
    snap.LoadedAt = c.now()

    c.mu.Lock()
    c.cached = &snap
    c.mu.Unlock()

    logrus.WithFields(logrus.Fields{
        "check_interval": snap.CheckInterval,
        "ping_count":     snap.PingCount,
        "max_retries":    snap.MaxRetries,
        "parallel_pings": snap.ParallelPings,
    }).Debug("Settings loaded")

    return snap
}

func (c *Cache) seed(ctx context.Context) map[string]string {
    logrus.Info("Settings store is empty, seeding defaults")

    for _, d := range Defaults {
        if err := c.source.UpsertSetting(ctx, d.Key, d.Value, d.Description); err != nil {
            logrus.WithError(err).WithField("key", d.Key).Error("Failed to seed default setting")
        }
    }
    return DefaultValues()
}

// reportParseErrors logs each bad key/value pair once.
func (c *Cache) reportParseErrors(errs []ParseError) {
    if len(errs) == 0 {
        return
    }

    c.mu.Lock()
    defer c.mu.Unlock()

    for _, e := range errs {
        if c.warned[e.Key] == e.Value {
            continue
        }
        c.warned[e.Key] = e.Value
        logrus.WithFields(logrus.Fields{
            "key":     e.Key,
            "value":   e.Value,
            "default": defaultValue(e.Key),
        }).WithError(e.Err).Warn("Invalid setting, falling back to default")
    }
}
