// internal/web/handlers.go - REST handlers for devices, settings, alerts and status
package web

import (
    "context"
    "errors"
    "net/http"
    "strconv"
    "strings"

    "github.com/gin-gonic/gin"
    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/database"
    "netwatch/internal/settings"
)

const (
    latestAlertsDefault = 20
    alertsPageDefault   = 100
    alertsPageMax       = 1000
)

type DeviceRequest struct {
    Name         string   `json:"name" binding:"required"`
    Address      string   `json:"address" binding:"required"`
    Type         string   `json:"type"`
    MACAddress   string   `json:"mac_address"`
    Owner        string   `json:"owner"`
    CustomAlerts []string `json:"custom_alerts"`
}

// StatusSummary counts devices by their last known status.
type StatusSummary struct {
    Total   int `json:"total"`
    Online  int `json:"online"`
    Offline int `json:"offline"`
    Unknown int `json:"unknown"`
}

// GET /api/devices
func (s *Server) getDevices(c *gin.Context) {
    devices, err := s.store.ListDevices(c.Request.Context())
    if err != nil {
        logrus.WithError(err).Error("Failed to list devices")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get devices"})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "data":  devices,
        "count": len(devices),
    })
}

// GET /api/devices/:id
func (s *Server) getDevice(c *gin.Context) {
    device, err := s.store.GetDevice(c.Request.Context(), c.Param("id"))
    if err != nil {
        respondStoreError(c, err, "Device not found", "Failed to get device")
        return
    }
    c.JSON(http.StatusOK, gin.H{"data": device})
}

// POST /api/devices
func (s *Server) createDevice(c *gin.Context) {
    var req DeviceRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    ctx := c.Request.Context()
    if _, err := s.store.GetDeviceByAddress(ctx, req.Address); err == nil {
        c.JSON(http.StatusConflict, gin.H{"error": "A device with this address already exists"})
        return
    } else if !errors.Is(err, database.ErrNotFound) {
        logrus.WithError(err).Error("Failed to check device address")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create device"})
        return
    }

    device := &database.Device{
        Name:         req.Name,
        Address:      req.Address,
        Type:         defaultString(req.Type, "host"),
        MACAddress:   req.MACAddress,
        Owner:        req.Owner,
        CustomAlerts: req.CustomAlerts,
    }
    if err := s.store.CreateDevice(ctx, device); err != nil {
        logrus.WithError(err).Error("Failed to create device")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create device"})
        return
    }

    logrus.WithFields(logrus.Fields{
        "device_id": device.ID,
        "device":    device.Name,
        "address":   device.Address,
    }).Info("Device created")
    c.JSON(http.StatusCreated, gin.H{"data": device})
}

// PUT /api/devices/:id
func (s *Server) updateDevice(c *gin.Context) {
    var req DeviceRequest
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }

    ctx := c.Request.Context()
    device, err := s.store.GetDevice(ctx, c.Param("id"))
    if err != nil {
        respondStoreError(c, err, "Device not found", "Failed to get device")
        return
    }

    if req.Address != device.Address {
        if other, err := s.store.GetDeviceByAddress(ctx, req.Address); err == nil && other.ID != device.ID {
            c.JSON(http.StatusConflict, gin.H{"error": "A device with this address already exists"})
            return
        }
    }

    device.Name = req.Name
    device.Address = req.Address
    device.Type = defaultString(req.Type, device.Type)
    device.MACAddress = req.MACAddress
    device.Owner = req.Owner
    device.CustomAlerts = req.CustomAlerts

    if err := s.store.SaveDevice(ctx, device); err != nil {
        respondStoreError(c, err, "Device not found", "Failed to update device")
        return
    }
    c.JSON(http.StatusOK, gin.H{"data": device})
}

// DELETE /api/devices/:id
func (s *Server) deleteDevice(c *gin.Context) {
    ctx := c.Request.Context()
    device, err := s.store.GetDevice(ctx, c.Param("id"))
    if err != nil {
        respondStoreError(c, err, "Device not found", "Failed to get device")
        return
    }

    if err := s.store.DeleteDevice(ctx, device.ID); err != nil {
        respondStoreError(c, err, "Device not found", "Failed to delete device")
        return
    }
    s.engine.ForgetDevice(device)

    logrus.WithFields(logrus.Fields{
        "device_id": device.ID,
        "device":    device.Name,
    }).Info("Device deleted")
    c.JSON(http.StatusOK, gin.H{"message": "Device deleted successfully"})
}

// GET /api/devices/:id/history?n=10
func (s *Server) getDeviceHistory(c *gin.Context) {
    device, err := s.store.GetDevice(c.Request.Context(), c.Param("id"))
    if err != nil {
        respondStoreError(c, err, "Device not found", "Failed to get device")
        return
    }

    n := queryInt(c, "n", cache.DefaultHistorySize)
    c.JSON(http.StatusOK, gin.H{
        "data": gin.H{
            "device_id":   device.ID,
            "packet_loss": nonNil(s.engine.History(device.ID, cache.KindPacketLoss, n)),
            "jitter":      nonNil(s.engine.History(device.ID, cache.KindJitter, n)),
            "latency":     nonNil(s.engine.History(device.ID, cache.KindLatency, n)),
        },
    })
}

// GET /api/settings
func (s *Server) getSettings(c *gin.Context) {
    ctx := c.Request.Context()
    rows, err := s.store.GetSettings(ctx)
    if err != nil {
        logrus.WithError(err).Error("Failed to get settings")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get settings"})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "data":      rows,
        "effective": s.engine.LoadSettings(ctx, false),
    })
}

// POST /api/settings validates every value before writing any of them.
func (s *Server) updateSettings(c *gin.Context) {
    var req map[string]string
    if err := c.ShouldBindJSON(&req); err != nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
        return
    }
    if len(req) == 0 {
        c.JSON(http.StatusBadRequest, gin.H{"error": "No settings provided"})
        return
    }

    for key := range req {
        if settings.DescriptionFor(key) == "" {
            c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown setting: " + key})
            return
        }
    }

    if errs := settings.Validate(req); len(errs) > 0 {
        details := make([]string, 0, len(errs))
        for _, e := range errs {
            details = append(details, e.Error())
        }
        c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid settings", "details": details})
        return
    }

    ctx := c.Request.Context()
    for key, value := range req {
        if err := s.store.UpsertSetting(ctx, key, value, settings.DescriptionFor(key)); err != nil {
            logrus.WithError(err).WithField("key", key).Error("Failed to update setting")
            c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update settings"})
            return
        }
    }

    snap := s.engine.LoadSettings(ctx, true)
    if level, err := logrus.ParseLevel(strings.ToLower(snap.LogLevel)); err == nil {
        logrus.SetLevel(level)
    }

    logrus.WithField("keys", len(req)).Info("Settings updated")
    c.JSON(http.StatusOK, gin.H{"data": snap})
}

// GET /api/alerts?status=&device_id=&severity=&type=&skip=&limit=
func (s *Server) getAlerts(c *gin.Context) {
    limit := queryInt(c, "limit", alertsPageDefault)
    if limit > alertsPageMax {
        limit = alertsPageMax
    }

    filters := database.AlertFilters{
        DeviceID: c.Query("device_id"),
        Status:   c.Query("status"),
        Severity: c.Query("severity"),
        Type:     c.Query("type"),
        Skip:     queryInt(c, "skip", 0),
        Limit:    limit,
    }

    alerts, err := s.store.GetAlerts(c.Request.Context(), filters)
    if err != nil {
        logrus.WithError(err).Error("Failed to get alerts")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alerts"})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "data":  alerts,
        "count": len(alerts),
    })
}

// GET /api/alerts/summary counts active alerts per severity.
func (s *Server) getAlertSummary(c *gin.Context) {
    counts, err := s.store.CountAlertsBySeverity(c.Request.Context(), database.AlertActive)
    if err != nil {
        logrus.WithError(err).Error("Failed to count alerts")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get alert summary"})
        return
    }

    summary := map[string]int{
        database.SeverityCritical: counts[database.SeverityCritical],
        database.SeverityWarning:  counts[database.SeverityWarning],
        database.SeverityInfo:     counts[database.SeverityInfo],
    }
    total := 0
    for _, n := range counts {
        total += n
    }
    summary["total"] = total

    c.JSON(http.StatusOK, gin.H{"data": summary})
}

// GET /api/alerts/latest?limit=20 serves the in-memory ring, newest last.
func (s *Server) getLatestAlerts(c *gin.Context) {
    records := s.engine.LatestAlerts(queryInt(c, "limit", latestAlertsDefault))
    if records == nil {
        records = []cache.Record{}
    }
    c.JSON(http.StatusOK, gin.H{
        "data":  records,
        "count": len(records),
    })
}

// GET /api/alerts/:id
func (s *Server) getAlert(c *gin.Context) {
    alert, err := s.store.GetAlert(c.Request.Context(), c.Param("id"))
    if err != nil {
        respondStoreError(c, err, "Alert not found", "Failed to get alert")
        return
    }
    c.JSON(http.StatusOK, gin.H{"data": alert})
}

func (s *Server) acknowledgeAlert(c *gin.Context) {
    s.transitionAlert(c, s.engine.AcknowledgeAlert)
}

func (s *Server) resolveAlert(c *gin.Context) {
    s.transitionAlert(c, s.engine.ResolveAlert)
}

func (s *Server) transitionAlert(c *gin.Context, apply func(context.Context, string) (*database.Alert, error)) {
    alert, err := apply(c.Request.Context(), c.Param("id"))
    switch {
    case err == nil:
        c.JSON(http.StatusOK, gin.H{"data": alert})
    case errors.Is(err, database.ErrNotFound):
        c.JSON(http.StatusNotFound, gin.H{"error": "Alert not found"})
    case errors.Is(err, database.ErrInvalidTransition):
        c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
    default:
        logrus.WithError(err).Error("Failed to update alert")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update alert"})
    }
}

// GET /api/status
func (s *Server) getStatus(c *gin.Context) {
    counts, err := s.statusCounts(c.Request.Context())
    if err != nil {
        logrus.WithError(err).Error("Failed to compute status")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get status"})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "data":           counts,
        "engine_running": s.engine.Running(),
    })
}

func (s *Server) statusCounts(ctx context.Context) (StatusSummary, error) {
    devices, err := s.store.ListDevices(ctx)
    if err != nil {
        return StatusSummary{}, err
    }

    summary := StatusSummary{Total: len(devices)}
    for _, d := range devices {
        switch d.Status {
        case database.StatusOnline:
            summary.Online++
        case database.StatusOffline:
            summary.Offline++
        default:
            summary.Unknown++
        }
    }
    return summary, nil
}

func respondStoreError(c *gin.Context, err error, notFound, failed string) {
    if errors.Is(err, database.ErrNotFound) {
        c.JSON(http.StatusNotFound, gin.H{"error": notFound})
        return
    }
    logrus.WithError(err).Error(failed)
    c.JSON(http.StatusInternalServerError, gin.H{"error": failed})
}

func queryInt(c *gin.Context, key string, fallback int) int {
    v := c.Query(key)
    if v == "" {
        return fallback
    }
    n, err := strconv.Atoi(v)
    if err != nil || n < 0 {
        return fallback
    }
    return n
}

func defaultString(v, fallback string) string {
    if v == "" {
        return fallback
    }
    return v
}

func nonNil(values []float64) []float64 {
    if values == nil {
        return []float64{}
    }
    return values
}
