// internal/database/models.go
package database

import (
    "fmt"
    "time"
)

// Device status values.
const (
    StatusUnknown = "unknown"
    StatusOnline  = "online"
    StatusOffline = "offline"
)

// Alert severities.
const (
    SeverityCritical = "critical"
    SeverityWarning  = "warning"
    SeverityInfo     = "info"
)

// Alert lifecycle states.
const (
    AlertActive       = "active"
    AlertAcknowledged = "acknowledged"
    AlertResolved     = "resolved"
)

type Device struct {
    ID           string    `json:"id"`
    Name         string    `json:"name"`
    Address      string    `json:"address"`
    Type         string    `json:"type"`
    MACAddress   string    `json:"mac_address,omitempty"`
    Owner        string    `json:"owner,omitempty"`
    Status       string    `json:"status"`
    PacketLoss   float64   `json:"packet_loss"`
    Jitter       float64   `json:"jitter"`
    Uptime       float64   `json:"uptime"`
    CustomAlerts []string  `json:"custom_alerts,omitempty"`
    LastChecked  time.Time `json:"last_checked"`
    CreatedAt    time.Time `json:"created_at"`
    UpdatedAt    time.Time `json:"updated_at"`
}

type Alert struct {
    ID             string     `json:"id"`
    DeviceID       string     `json:"device_id"`
    Severity       string     `json:"severity"`
    Type           string     `json:"type"`
    Message        string     `json:"message"`
    Description    string     `json:"description,omitempty"`
    Status         string     `json:"status"`
    CreatedAt      time.Time  `json:"created_at"`
    ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
    Duration       string     `json:"duration,omitempty"`
    ResolutionNote string     `json:"resolution_note,omitempty"`
}

type Setting struct {
    Key         string    `json:"key"`
    Value       string    `json:"value"`
    Description string    `json:"description"`
    UpdatedAt   time.Time `json:"updated_at"`
}

// AlertFilters narrows GetAlerts. Zero values match everything.
type AlertFilters struct {
    DeviceID string
    Status   string
    Severity string
    Type     string
    Skip     int
    Limit    int
}

// Matches reports whether an alert passes the filter (pagination excluded).
func (f AlertFilters) Matches(a *Alert) bool {
    if f.DeviceID != "" && a.DeviceID != f.DeviceID {
        return false
    }
    if f.Status != "" && a.Status != f.Status {
        return false
    }
    if f.Severity != "" && a.Severity != f.Severity {
        return false
    }
    if f.Type != "" && a.Type != f.Type {
        return false
    }
    return true
}

// ValidAlertTransition reports whether an alert may move from one status to another.
func ValidAlertTransition(from, to string) bool {
    switch from {
    case AlertActive:
        return to == AlertAcknowledged || to == AlertResolved
    case AlertAcknowledged:
        return to == AlertResolved
    }
    return false
}

// FormatDuration renders d as "Hh Mm Ss". Negative durations render as zero.
func FormatDuration(d time.Duration) string {
    if d < 0 {
        d = 0
    }
    total := int64(d / time.Second)
    hours := total / 3600
    minutes := (total % 3600) / 60
    seconds := total % 60
    return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
}
