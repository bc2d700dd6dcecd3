// internal/notifications/dispatcher.go - Best-effort fan-out of new alerts to notification sinks
package notifications

import (
    "context"
    "sync/atomic"
    "time"

    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/config"
    "netwatch/internal/database"
    "netwatch/internal/metrics"
)

// Sink delivers one alert record to an external channel.
type Sink interface {
    Name() string
    Send(ctx context.Context, record cache.Record) error
}

// Dispatcher buffers alert records and hands them to every sink from a
// single goroutine. Notify never blocks: a full buffer drops the record.
type Dispatcher struct {
    events      chan cache.Record
    sinks       []Sink
    throttler   *Throttler
    metrics     *metrics.Collector
    sendTimeout time.Duration

    delivered atomic.Int64
    dropped   atomic.Int64
    throttled atomic.Int64
    failed    atomic.Int64
}

type Stats struct {
    Sinks     []string `json:"sinks"`
    Pending   int      `json:"pending"`
    Delivered int64    `json:"delivered"`
    Dropped   int64    `json:"dropped"`
    Throttled int64    `json:"throttled"`
    Failed    int64    `json:"failed"`
}

func NewDispatcher(cfg config.NotificationConfig, collector *metrics.Collector, sinks ...Sink) *Dispatcher {
    size := cfg.QueueSize
    if size <= 0 {
        size = 64
    }
    timeout := cfg.SendTimeout
    if timeout <= 0 {
        timeout = 10 * time.Second
    }

    d := &Dispatcher{
        events:      make(chan cache.Record, size),
        sinks:       sinks,
        metrics:     collector,
        sendTimeout: timeout,
    }
    if cfg.Throttle.Enabled {
        d.throttler = NewThrottler(cfg.Throttle)
    }

    names := make([]string, 0, len(sinks))
    for _, s := range sinks {
        names = append(names, s.Name())
    }
    logrus.WithFields(logrus.Fields{
        "sinks":            names,
        "queue_size":       size,
        "throttle_enabled": cfg.Throttle.Enabled,
    }).Info("Notification dispatcher initialized")

    return d
}

func (d *Dispatcher) Notify(record cache.Record) {
    select {
    case d.events <- record:
    default:
        d.dropped.Add(1)
        d.metrics.RecordNotificationDropped()
        logrus.WithFields(logrus.Fields{
            "alert_id":  record.AlertID,
            "device_id": record.DeviceID,
        }).Warn("Notification buffer full, dropping alert")
    }
}

// Run consumes buffered records until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
    for {
        select {
        case <-ctx.Done():
            return
        case record := <-d.events:
            d.deliver(ctx, record)
        }
    }
}

func (d *Dispatcher) deliver(ctx context.Context, record cache.Record) {
    if d.throttler != nil && !d.throttler.Allow(record.DeviceID) {
        d.throttled.Add(1)
        logrus.WithFields(logrus.Fields{
            "device": record.Device,
            "type":   record.Type,
        }).Debug("Notification throttled")
        return
    }

    for _, sink := range d.sinks {
        sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
        err := sink.Send(sendCtx, record)
        cancel()

        if err != nil {
            d.failed.Add(1)
            logrus.WithError(err).WithFields(logrus.Fields{
                "sink":     sink.Name(),
                "alert_id": record.AlertID,
            }).Error("Failed to send notification")
            continue
        }
        d.delivered.Add(1)
    }
}

func (d *Dispatcher) Stats() Stats {
    names := make([]string, 0, len(d.sinks))
    for _, s := range d.sinks {
        names = append(names, s.Name())
    }
    return Stats{
        Sinks:     names,
        Pending:   len(d.events),
        Delivered: d.delivered.Load(),
        Dropped:   d.dropped.Load(),
        Throttled: d.throttled.Load(),
        Failed:    d.failed.Load(),
    }
}

// SendTest pushes a synthetic record straight through every sink.
func (d *Dispatcher) SendTest(ctx context.Context) error {
    record := cache.Record{
        AlertID:   "test",
        DeviceID:  "test",
        Device:    "NetWatch",
        Severity:  database.SeverityInfo,
        Type:      "Test",
        Message:   "Test notification from NetWatch",
        Timestamp: time.Now(),
    }
    for _, sink := range d.sinks {
        sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
        err := sink.Send(sendCtx, record)
        cancel()
        if err != nil {
            return err
        }
    }
    return nil
}
