// internal/monitoring/alert_manager.go - Alert retention and orphan cleanup
package monitoring

import (
    "context"
    "fmt"
    "strings"
    "time"

    "github.com/sirupsen/logrus"

    "netwatch/internal/database"
)

const DefaultAlertRetention = 30 * 24 * time.Hour

// PurgeResult counts what one purge pass removed.
type PurgeResult struct {
    ResolvedAlerts int `json:"resolved_alerts"`
    OrphanedAlerts int `json:"orphaned_alerts"`
}

// AlertManager keeps the alert bucket from growing without bound.
type AlertManager struct {
    store     database.ExtendedStore
    retention time.Duration
    now       func() time.Time
}

func NewAlertManager(store database.ExtendedStore, retention time.Duration) *AlertManager {
    if retention <= 0 {
        retention = DefaultAlertRetention
    }
    return &AlertManager{
        store:     store,
        retention: retention,
        now:       time.Now,
    }
}

// PurgeResolved removes resolved alerts created before the retention window.
func (am *AlertManager) PurgeResolved(ctx context.Context) (int, error) {
    cutoff := am.now().Add(-am.retention)
    removed, err := am.store.DeleteAlertsBefore(ctx, cutoff)
    if err != nil {
        return 0, fmt.Errorf("failed to delete resolved alerts: %w", err)
    }
    if removed > 0 {
        logrus.WithFields(logrus.Fields{
            "removed": removed,
            "cutoff":  cutoff,
        }).Info("Purged resolved alerts")
    }
    return removed, nil
}

// PurgeOrphaned removes alerts whose device no longer exists.
func (am *AlertManager) PurgeOrphaned(ctx context.Context) (int, error) {
    devices, err := am.store.ListDevices(ctx)
    if err != nil {
        return 0, fmt.Errorf("failed to list devices: %w", err)
    }
    known := make(map[string]bool, len(devices))
    for _, d := range devices {
        known[d.ID] = true
    }

    alerts, err := am.store.GetAlerts(ctx, database.AlertFilters{})
    if err != nil {
        return 0, fmt.Errorf("failed to list alerts: %w", err)
    }

    orphans := make(map[string]bool)
    for _, a := range alerts {
        if !known[a.DeviceID] {
            orphans[a.DeviceID] = true
        }
    }

    removed := 0
    for deviceID := range orphans {
        n, err := am.store.DeleteAlertsForDevice(ctx, deviceID)
        if err != nil {
            logrus.WithError(err).WithField("device_id", deviceID).Error("Failed to delete orphaned alerts")
            continue
        }
        removed += n
    }

    if removed > 0 {
        logrus.WithField("removed", removed).Info("Purged alerts of deleted devices")
    }
    return removed, nil
}

// PurgeAll runs every purge pass and joins their errors.
func (am *AlertManager) PurgeAll(ctx context.Context) (PurgeResult, error) {
    var result PurgeResult
    var errs []string

    n, err := am.PurgeResolved(ctx)
    if err != nil {
        errs = append(errs, err.Error())
    }
    result.ResolvedAlerts = n

    n, err = am.PurgeOrphaned(ctx)
    if err != nil {
        errs = append(errs, err.Error())
    }
    result.OrphanedAlerts = n

    if len(errs) > 0 {
        return result, fmt.Errorf("purge completed with errors: %s", strings.Join(errs, "; "))
    }
    return result, nil
}

// SchedulePeriodicPurge purges once now and then every interval until ctx ends.
func (am *AlertManager) SchedulePeriodicPurge(ctx context.Context, interval time.Duration) {
    go func() {
        if _, err := am.PurgeAll(ctx); err != nil {
            logrus.WithError(err).Error("Initial purge failed")
        }
    }()

    ticker := time.NewTicker(interval)
    go func() {
        defer ticker.Stop()

        for {
            select {
            case <-ctx.Done():
                logrus.Debug("Stopping periodic purge scheduler")
                return
            case <-ticker.C:
                if _, err := am.PurgeAll(ctx); err != nil {
                    logrus.WithError(err).Error("Scheduled purge failed")
                }
            }
        }
    }()

    logrus.WithFields(logrus.Fields{
        "interval":  interval,
        "retention": am.retention,
    }).Info("Scheduled periodic alert purging")
}
