// internal/monitoring/alerts.go
package monitoring

import (
    "context"
    "errors"
    "fmt"

    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/database"
)

// CreateAlert raises an alert unless an active one with the same type and
// message already exists for the device. It reports whether a new alert
// was stored; when not, the existing alert is returned.
func (e *Engine) CreateAlert(ctx context.Context, device *database.Device, severity, alertType, message, description string) (*database.Alert, bool, error) {
    unlock := e.locks.Lock(device.ID)
    defer unlock()
    return e.createAlert(ctx, device, severity, alertType, message, description)
}

// createAlert expects the device lock to be held.
func (e *Engine) createAlert(ctx context.Context, device *database.Device, severity, alertType, message, description string) (*database.Alert, bool, error) {
    alert, existing, err := e.prepareAlert(ctx, device, severity, alertType, message, description)
    if err != nil || existing != nil {
        return existing, false, err
    }
    if err := e.store.CreateAlert(ctx, alert); err != nil {
        return nil, false, fmt.Errorf("failed to store alert: %w", err)
    }
    e.publishAlert(device, alert)
    return alert, true, nil
}

// prepareAlert builds a new alert, or returns the active alert that already
// matches its type and message. Nothing is stored.
func (e *Engine) prepareAlert(ctx context.Context, device *database.Device, severity, alertType, message, description string) (*database.Alert, *database.Alert, error) {
    existing, err := e.store.GetAlerts(ctx, database.AlertFilters{
        DeviceID: device.ID,
        Status:   database.AlertActive,
        Type:     alertType,
    })
    if err != nil {
        return nil, nil, fmt.Errorf("failed to check for duplicate alert: %w", err)
    }
    for i := range existing {
        if existing[i].Message == message {
            logrus.WithFields(logrus.Fields{
                "device_id": device.ID,
                "alert_id":  existing[i].ID,
                "type":      alertType,
            }).Debug("Matching alert already active, skipping")
            return nil, &existing[i], nil
        }
    }

    return &database.Alert{
        DeviceID:    device.ID,
        Severity:    severity,
        Type:        alertType,
        Message:     message,
        Description: description,
        Status:      database.AlertActive,
        CreatedAt:   e.now(),
    }, nil, nil
}

// publishAlert fans a stored alert out to the queue, notifier and metrics.
func (e *Engine) publishAlert(device *database.Device, alert *database.Alert) {
    e.status.Evict(device.ID)

    record := cache.Record{
        AlertID:   alert.ID,
        DeviceID:  device.ID,
        Device:    device.Name,
        Severity:  alert.Severity,
        Type:      alert.Type,
        Message:   alert.Message,
        Timestamp: alert.CreatedAt,
    }
    e.queue.Push(record)
    if e.notifier != nil {
        e.notifier.Notify(record)
    }
    e.metrics.RecordAlert(alert.Severity, alert.Type)

    logrus.WithFields(logrus.Fields{
        "device_id": device.ID,
        "device":    device.Name,
        "alert_id":  alert.ID,
        "severity":  alert.Severity,
        "type":      alert.Type,
    }).Warn(alert.Message)
}

func isNotFound(err error) bool {
    return errors.Is(err, database.ErrNotFound)
}
