// internal/database/store_extensions.go - Extended store interface for alert retention
package database

import (
    "context"
    "time"
)

// ExtendedStore extends the basic Store interface with purging operations
type ExtendedStore interface {
    Store

    // DeleteAlertsBefore removes resolved alerts created before cutoffTime.
    DeleteAlertsBefore(ctx context.Context, cutoffTime time.Time) (int, error)
    DeleteAlertsForDevice(ctx context.Context, deviceID string) (int, error)

    // Data cleanup operations
    CompactDatabase(ctx context.Context) error
    GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)
}

// DatabaseStats provides information about database size and health
type DatabaseStats struct {
    TotalDevices       int       `json:"total_devices"`
    TotalAlerts        int       `json:"total_alerts"`
    ActiveAlerts       int       `json:"active_alerts"`
    TotalSettings      int       `json:"total_settings"`
    DatabaseSize       int64     `json:"database_size_bytes"`
    OldestAlert        time.Time `json:"oldest_alert"`
    NewestAlert        time.Time `json:"newest_alert"`
}
