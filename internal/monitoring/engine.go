// internal/monitoring/engine.go
package monitoring

import (
    "context"
    "fmt"
    "sync"
    "time"

    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/database"
    "netwatch/internal/metrics"
    "netwatch/internal/probe"
    "netwatch/internal/settings"
)

const (
    DefaultPollInterval = time.Second
    DefaultCycleBackoff = 5 * time.Second
    MaxWorkers          = 10
)

// Prober reduces a burst of probes against one address to a Result.
type Prober interface {
    Probe(ctx context.Context, address string, opts probe.Options) probe.Result
}

// SettingsProvider hands out the current operational settings.
type SettingsProvider interface {
    Get(ctx context.Context, forceRefresh bool) settings.Snapshot
}

// StatusTracker remembers the last recorded transition per device.
type StatusTracker interface {
    Record(deviceID, status string)
    Last(deviceID string) (string, bool)
    Evict(deviceID string)
    Sweep(ttl time.Duration) int
}

// MetricsHistory is the bounded per-device sample store used for trends.
type MetricsHistory interface {
    Push(deviceID, kind string, value float64)
    Last(deviceID, kind string, n int) []float64
    Clear(deviceID string)
}

// AlertQueue holds recently raised alerts for live consumers.
type AlertQueue interface {
    Push(r cache.Record)
    Latest(limit int) []cache.Record
    PurgeDevice(deviceID string) int
}

// Notifier receives every newly raised alert. Implementations must not block.
type Notifier interface {
    Notify(r cache.Record)
}

type Options struct {
    PollInterval time.Duration
    CycleBackoff time.Duration
    MaxWorkers   int

    // Nil containers are replaced with in-memory defaults.
    Status  StatusTracker
    History MetricsHistory
    Queue   AlertQueue

    Notifier Notifier
    Metrics  *metrics.Collector
}

type Engine struct {
    store    database.Store
    settings SettingsProvider
    prober   Prober

    status   StatusTracker
    history  MetricsHistory
    queue    AlertQueue
    notifier Notifier
    metrics  *metrics.Collector
    locks    *cache.KeyedMutex

    pollInterval time.Duration
    cycleBackoff time.Duration
    maxWorkers   int
    now          func() time.Time

    mu       sync.Mutex
    running  bool
    cancel   context.CancelFunc
    stopping <-chan struct{} // closed once the running loop was told to exit
    done     chan struct{}
    cycles   uint64
}

func NewEngine(store database.Store, settingsProvider SettingsProvider, prober Prober, opts Options) *Engine {
    if opts.PollInterval <= 0 {
        opts.PollInterval = DefaultPollInterval
    }
    if opts.CycleBackoff <= 0 {
        opts.CycleBackoff = DefaultCycleBackoff
    }
    if opts.MaxWorkers <= 0 || opts.MaxWorkers > MaxWorkers {
        opts.MaxWorkers = MaxWorkers
    }
    if opts.Status == nil {
        opts.Status = cache.NewStatusCache()
    }
    if opts.History == nil {
        opts.History = cache.NewHistory(cache.DefaultHistorySize)
    }
    if opts.Queue == nil {
        opts.Queue = cache.NewQueue(cache.DefaultQueueSize)
    }

    done := make(chan struct{})
    close(done)

    return &Engine{
        store:        store,
        settings:     settingsProvider,
        prober:       prober,
        status:       opts.Status,
        history:      opts.History,
        queue:        opts.Queue,
        notifier:     opts.Notifier,
        metrics:      opts.Metrics,
        locks:        cache.NewKeyedMutex(),
        pollInterval: opts.PollInterval,
        cycleBackoff: opts.CycleBackoff,
        maxWorkers:   opts.MaxWorkers,
        now:          time.Now,
        done:         done,
    }
}

// Start spawns the monitoring loop. Calling it while the loop runs is a
// no-op; a loop that is still winding down after Stop is waited for first.
func (e *Engine) Start(ctx context.Context) {
    e.mu.Lock()
    defer e.mu.Unlock()

    for e.running && isClosed(e.stopping) {
        previous := e.done
        e.mu.Unlock()
        <-previous
        e.mu.Lock()
    }
    if e.running {
        return
    }

    loopCtx, cancel := context.WithCancel(ctx)
    e.running = true
    e.cancel = cancel
    e.stopping = loopCtx.Done()
    e.done = make(chan struct{})

    logrus.Info("Starting monitoring engine")
    go e.run(loopCtx, e.done)
}

// Stop asks the loop to exit after the work in flight. It does not wait;
// use Done for that.
func (e *Engine) Stop() {
    e.mu.Lock()
    defer e.mu.Unlock()

    if !e.running {
        return
    }

    logrus.Info("Stopping monitoring engine")
    e.cancel()
}

func isClosed(ch <-chan struct{}) bool {
    select {
    case <-ch:
        return true
    default:
        return false
    }
}

// Done is closed once the loop has exited.
func (e *Engine) Done() <-chan struct{} {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.done
}

func (e *Engine) Running() bool {
    e.mu.Lock()
    defer e.mu.Unlock()
    return e.running
}

// LatestAlerts returns up to limit recently raised alerts, newest last.
func (e *Engine) LatestAlerts(limit int) []cache.Record {
    return e.queue.Latest(limit)
}

func (e *Engine) LoadSettings(ctx context.Context, forceRefresh bool) settings.Snapshot {
    return e.settings.Get(ctx, forceRefresh)
}

// History returns up to n samples of a metric kind for a device, oldest first.
func (e *Engine) History(deviceID, kind string, n int) []float64 {
    return e.history.Last(deviceID, kind, n)
}

func (e *Engine) AcknowledgeAlert(ctx context.Context, id string) (*database.Alert, error) {
    alert, err := e.store.UpdateAlertStatus(ctx, id, database.AlertAcknowledged)
    if err != nil {
        return nil, fmt.Errorf("failed to acknowledge alert %s: %w", id, err)
    }
    logrus.WithField("alert_id", id).Info("Alert acknowledged")
    return alert, nil
}

func (e *Engine) ResolveAlert(ctx context.Context, id string) (*database.Alert, error) {
    alert, err := e.store.UpdateAlertStatus(ctx, id, database.AlertResolved)
    if err != nil {
        return nil, fmt.Errorf("failed to resolve alert %s: %w", id, err)
    }
    logrus.WithFields(logrus.Fields{
        "alert_id": id,
        "duration": alert.Duration,
    }).Info("Alert resolved by operator")
    return alert, nil
}

// ForgetDevice drops in-memory state held for a deleted device.
func (e *Engine) ForgetDevice(device *database.Device) {
    unlock := e.locks.Lock(device.ID)
    defer unlock()

    e.status.Evict(device.ID)
    e.history.Clear(device.ID)
    e.queue.PurgeDevice(device.ID)
    e.metrics.ForgetDevice(device.ID, device.Name)
}

// SyncDevices registers configured devices whose address is not yet known.
// Existing rows are left alone so API edits survive restarts.
func (e *Engine) SyncDevices(ctx context.Context, devices []database.Device) (int, error) {
    created := 0
    for i := range devices {
        device := devices[i]

        _, err := e.store.GetDeviceByAddress(ctx, device.Address)
        if err == nil {
            continue
        }
        if !isNotFound(err) {
            return created, fmt.Errorf("failed to look up device %s: %w", device.Address, err)
        }

        if err := e.store.CreateDevice(ctx, &device); err != nil {
            logrus.WithError(err).WithField("device", device.Name).Error("Failed to create device")
            continue
        }
        created++
        logrus.WithFields(logrus.Fields{
            "device_id": device.ID,
            "device":    device.Name,
            "address":   device.Address,
        }).Info("Registered configured device")
    }
    return created, nil
}
