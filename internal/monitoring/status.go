// internal/monitoring/status.go - Device status state machine
package monitoring

import (
    "context"
    "fmt"
    "time"

    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/database"
    "netwatch/internal/probe"
    "netwatch/internal/settings"
)

const (
    AlertTypeConnectivity = "Connectivity"
    AlertTypePerformance  = "Performance"

    // PacketLossThreshold is the loss percentage above which a sustained
    // or worsening trend raises a Performance warning.
    PacketLossThreshold = 10.0

    AutoResolveNote = "device is back online"
)

// Update applies one probe result to a device: status transition, metrics,
// uptime, alert creation and auto-resolution, then a single commit.
// Updates of the same device are serialised.
func (e *Engine) Update(ctx context.Context, device database.Device, result probe.Result, snap settings.Snapshot) (*database.Device, error) {
    unlock := e.locks.Lock(device.ID)
    defer unlock()

    now := e.now()
    previous := device.Status
    current := database.StatusOffline
    if result.Online {
        current = database.StatusOnline
    }

    changed := previous != current
    if last, ok := e.status.Last(device.ID); ok && last == current {
        changed = false
    }
    if changed {
        e.status.Record(device.ID, current)
    }

    // Trend comparison needs the samples recorded before this one.
    priorLoss := e.history.Last(device.ID, cache.KindPacketLoss, 2)

    device.PacketLoss = result.LossPct
    device.Jitter = result.JitterMs
    device.LastChecked = now
    e.history.Push(device.ID, cache.KindPacketLoss, result.LossPct)
    e.history.Push(device.ID, cache.KindJitter, result.JitterMs)
    if result.Online {
        e.history.Push(device.ID, cache.KindLatency, result.AvgLatencyMs())
    }

    var resolved []database.Alert
    switch current {
    case database.StatusOnline:
        device.Uptime += snap.CheckInterval.Hours()
        if previous == database.StatusOffline {
            var err error
            resolved, err = e.resolveActive(ctx, device.ID, now)
            if err != nil {
                logrus.WithError(err).WithField("device_id", device.ID).Error("Failed to collect alerts to auto-resolve")
            }
        }
    case database.StatusOffline:
        if previous == database.StatusOnline {
            device.Uptime = 0
        }
    }
    device.Status = current

    fields := logrus.Fields{
        "device_id": device.ID,
        "device":    device.Name,
        "status":    current,
        "loss_pct":  result.LossPct,
        "jitter_ms": result.JitterMs,
    }

    // New alerts are written with the device row and published only once
    // that commit succeeds.
    var created []*database.Alert
    if changed {
        logrus.WithFields(fields).WithField("previous", previous).Info("Device status changed")

        if current == database.StatusOffline {
            message := fmt.Sprintf("%s (%s) is offline", device.Name, device.Address)
            description := fmt.Sprintf("No reply from %s after %d probes and %d retries", device.Address, snap.PingCount, result.Retries)
            alert, _, err := e.prepareAlert(ctx, &device, database.SeverityCritical, AlertTypeConnectivity, message, description)
            if err != nil {
                logrus.WithError(err).WithFields(fields).Error("Failed to create connectivity alert")
            } else if alert != nil {
                created = append(created, alert)
            }
        }
    }

    if current == database.StatusOnline && result.LossPct > PacketLossThreshold {
        if len(priorLoss) >= 2 && result.LossPct >= priorLoss[len(priorLoss)-1] {
            message := fmt.Sprintf("High packet loss on %s", device.Name)
            description := fmt.Sprintf("Packet loss is %.1f%% (previous sample %.1f%%)", result.LossPct, priorLoss[len(priorLoss)-1])
            alert, _, err := e.prepareAlert(ctx, &device, database.SeverityWarning, AlertTypePerformance, message, description)
            if err != nil {
                logrus.WithError(err).WithFields(fields).Error("Failed to create performance alert")
            } else if alert != nil {
                created = append(created, alert)
            }
        }
    }

    commit := &database.DeviceCommit{Device: &device, Created: created, Resolved: resolved}
    if err := e.store.CommitDeviceUpdate(ctx, commit); err != nil {
        if changed {
            e.status.Evict(device.ID)
        }
        logrus.WithError(err).WithFields(fields).Error("Failed to persist device update")
        return nil, fmt.Errorf("failed to persist device %s: %w", device.ID, err)
    }

    for _, alert := range created {
        e.publishAlert(&device, alert)
    }

    resolved = commit.Resolved
    if len(resolved) > 0 {
        e.metrics.RecordAlertsResolved(len(resolved))
        for _, a := range resolved {
            logrus.WithFields(logrus.Fields{
                "device_id": device.ID,
                "alert_id":  a.ID,
                "duration":  a.Duration,
            }).Info("Alert auto-resolved")
        }
    }

    logrus.WithFields(fields).Debug("Device updated")
    return &device, nil
}

// AutoResolve closes every active alert of a device as recovered and
// commits them with the device row.
func (e *Engine) AutoResolve(ctx context.Context, device *database.Device) (int, error) {
    unlock := e.locks.Lock(device.ID)
    defer unlock()

    resolved, err := e.resolveActive(ctx, device.ID, e.now())
    if err != nil {
        return 0, err
    }
    if len(resolved) == 0 {
        return 0, nil
    }
    commit := &database.DeviceCommit{Device: device, Resolved: resolved}
    if err := e.store.CommitDeviceUpdate(ctx, commit); err != nil {
        return 0, fmt.Errorf("failed to persist resolved alerts: %w", err)
    }
    e.metrics.RecordAlertsResolved(len(commit.Resolved))
    return len(commit.Resolved), nil
}

// resolveActive marks the device's active alerts resolved in memory and
// drops its queued notifications. The caller persists the returned alerts.
func (e *Engine) resolveActive(ctx context.Context, deviceID string, now time.Time) ([]database.Alert, error) {
    active, err := e.store.GetAlerts(ctx, database.AlertFilters{
        DeviceID: deviceID,
        Status:   database.AlertActive,
    })
    if err != nil {
        return nil, fmt.Errorf("failed to list active alerts: %w", err)
    }

    for i := range active {
        resolvedAt := now
        active[i].Status = database.AlertResolved
        active[i].ResolvedAt = &resolvedAt
        active[i].Duration = database.FormatDuration(now.Sub(active[i].CreatedAt))
        active[i].ResolutionNote = AutoResolveNote
    }

    if purged := e.queue.PurgeDevice(deviceID); purged > 0 {
        logrus.WithFields(logrus.Fields{
            "device_id": deviceID,
            "entries":   purged,
        }).Debug("Dropped queued alerts of recovered device")
    }

    return active, nil
}
