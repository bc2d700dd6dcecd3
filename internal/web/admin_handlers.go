// internal/web/admin_handlers.go - Maintenance endpoints: purge, compaction, statistics
package web

import (
    "context"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/sirupsen/logrus"
)

const adminTimeout = 30 * time.Second

// POST /api/admin/purge removes old resolved alerts and alerts whose device is gone.
func (s *Server) purgeAlerts(c *gin.Context) {
    ctx, cancel := context.WithTimeout(c.Request.Context(), adminTimeout)
    defer cancel()

    result, err := s.alertManager.PurgeAll(ctx)
    if err != nil {
        logrus.WithError(err).Error("Failed to purge alerts")
        c.JSON(http.StatusInternalServerError, gin.H{
            "error":  "Failed to purge alerts",
            "result": result,
        })
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "message":   "Alerts purged successfully",
        "result":    result,
        "timestamp": time.Now(),
    })
}

// POST /api/admin/compact
func (s *Server) compactDatabase(c *gin.Context) {
    ctx, cancel := context.WithTimeout(c.Request.Context(), adminTimeout)
    defer cancel()

    if err := s.store.CompactDatabase(ctx); err != nil {
        logrus.WithError(err).Error("Failed to compact database")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compact database"})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "message":   "Database compacted successfully",
        "timestamp": time.Now(),
    })
}

// GET /api/admin/stats
func (s *Server) getAdminStats(c *gin.Context) {
    ctx := c.Request.Context()

    dbStats, err := s.store.GetDatabaseStats(ctx)
    if err != nil {
        logrus.WithError(err).Error("Failed to get database stats")
        c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get database stats"})
        return
    }

    stats := gin.H{
        "database":          dbStats,
        "engine_running":    s.engine.Running(),
        "settings":          s.engine.LoadSettings(ctx, false),
        "latest_alerts":     len(s.engine.LatestAlerts(0)),
        "websocket_clients": s.hub.size(),
        "uptime":            time.Since(s.startedAt).String(),
    }
    if s.notifications != nil {
        stats["notifications"] = s.notifications.Stats()
    }

    c.JSON(http.StatusOK, gin.H{"data": stats})
}

// POST /api/admin/notifications/test
func (s *Server) sendTestNotification(c *gin.Context) {
    if s.notifications == nil {
        c.JSON(http.StatusBadRequest, gin.H{"error": "Notifications are disabled"})
        return
    }

    ctx, cancel := context.WithTimeout(c.Request.Context(), adminTimeout)
    defer cancel()

    if err := s.notifications.SendTest(ctx); err != nil {
        logrus.WithError(err).Error("Failed to send test notification")
        c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
        return
    }

    c.JSON(http.StatusOK, gin.H{
        "message":   "Test notification sent successfully",
        "timestamp": time.Now(),
    })
}
