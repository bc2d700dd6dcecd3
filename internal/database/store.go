// internal/database/store.go
package database

import (
    "context"
    "errors"
)

var (
    ErrNotFound          = errors.New("not found")
    ErrInvalidTransition = errors.New("invalid alert status transition")
)

// DeviceCommit is the outcome of one device check. Only the measured fields
// of Device (status, loss, jitter, uptime, last check) are written; the
// operator-owned fields keep their stored values. Resolved alerts that are
// no longer active in the store are skipped.
//
// On success Device holds the merged row, Created carries assigned ids and
// Resolved is trimmed to the alerts actually written.
type DeviceCommit struct {
    Device   *Device
    Created  []*Alert
    Resolved []Alert
}

// Store defines the interface for database operations
type Store interface {
    // Device operations
    ListDevices(ctx context.Context) ([]Device, error)
    GetDevice(ctx context.Context, id string) (*Device, error)
    GetDeviceByAddress(ctx context.Context, address string) (*Device, error)
    CreateDevice(ctx context.Context, device *Device) error
    SaveDevice(ctx context.Context, device *Device) error
    DeleteDevice(ctx context.Context, id string) error

    // CommitDeviceUpdate persists one device check in a single transaction.
    CommitDeviceUpdate(ctx context.Context, commit *DeviceCommit) error

    // Setting operations
    ListSettings(ctx context.Context) (map[string]string, error)
    GetSettings(ctx context.Context) ([]Setting, error)
    UpsertSetting(ctx context.Context, key, value, description string) error

    // Alert operations
    CreateAlert(ctx context.Context, alert *Alert) error
    GetAlert(ctx context.Context, id string) (*Alert, error)
    GetAlerts(ctx context.Context, filters AlertFilters) ([]Alert, error)
    UpdateAlertStatus(ctx context.Context, id, status string) (*Alert, error)
    CountAlertsBySeverity(ctx context.Context, status string) (map[string]int, error)

    // Close the database connection
    Close() error
}
