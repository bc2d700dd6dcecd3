// internal/web/server.go
package web

import (
    "context"
    "errors"
    "net/http"
    "sync"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promhttp"
    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/config"
    "netwatch/internal/database"
    "netwatch/internal/metrics"
    "netwatch/internal/monitoring"
    "netwatch/internal/notifications"
)

const statusBroadcastInterval = 5 * time.Second

// Dependencies are the collaborators the HTTP layer serves from. Only
// Store and Engine are required.
type Dependencies struct {
    Store         database.ExtendedStore
    Engine        *monitoring.Engine
    AlertManager  *monitoring.AlertManager
    Notifications *notifications.Dispatcher
    Metrics       *metrics.Collector
    Gatherer      prometheus.Gatherer
    Logs          *cache.LogBuffer
}

type Server struct {
    config        *config.Config
    store         database.ExtendedStore
    engine        *monitoring.Engine
    alertManager  *monitoring.AlertManager
    notifications *notifications.Dispatcher
    metrics       *metrics.Collector
    gatherer      prometheus.Gatherer
    logs          *cache.LogBuffer
    router        *gin.Engine
    hub           *hub
    server        *http.Server
    startedAt     time.Time
    quit          chan struct{}
    quitOnce      sync.Once
}

func NewServer(cfg *config.Config, deps Dependencies) *Server {
    if cfg.Logging.Level != "debug" {
        gin.SetMode(gin.ReleaseMode)
    }

    router := gin.New()
    router.Use(requestLogger())
    router.Use(gin.Recovery())
    router.Use(corsMiddleware())

    alertManager := deps.AlertManager
    if alertManager == nil {
        alertManager = monitoring.NewAlertManager(deps.Store, cfg.Database.AlertRetention)
    }

    logs := deps.Logs
    if logs == nil {
        logs = cache.NewLogBuffer(cache.DefaultLogLines)
    }

    server := &Server{
        config:        cfg,
        store:         deps.Store,
        engine:        deps.Engine,
        alertManager:  alertManager,
        notifications: deps.Notifications,
        metrics:       deps.Metrics,
        gatherer:      deps.Gatherer,
        logs:          logs,
        router:        router,
        hub:           newHub(deps.Metrics),
        startedAt:     time.Now(),
        quit:          make(chan struct{}),
    }

    server.setupRoutes()
    return server
}

// Start serves HTTP in the background and streams status to websocket
// clients until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
    s.server = &http.Server{
        Addr:         s.config.Server.Port,
        Handler:      s.router,
        ReadTimeout:  s.config.Server.ReadTimeout,
        WriteTimeout: s.config.Server.WriteTimeout,
    }

    logrus.WithField("port", s.config.Server.Port).Info("Starting web server")

    go s.broadcastRoutine(ctx)
    go s.forwardLogs(ctx)

    go func() {
        if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logrus.WithError(err).Fatal("Failed to start server")
        }
    }()

    return nil
}

func (s *Server) Stop(ctx context.Context) error {
    s.quitOnce.Do(func() { close(s.quit) })
    s.hub.closeAll()
    if s.server != nil {
        return s.server.Shutdown(ctx)
    }
    return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
    return s.router
}

func (s *Server) setupRoutes() {
    api := s.router.Group("/api")
    {
        api.GET("/health", s.healthCheck)
        api.GET("/version", s.getBuildInfo)

        api.GET("/devices", s.getDevices)
        api.GET("/devices/:id", s.getDevice)
        api.POST("/devices", s.createDevice)
        api.PUT("/devices/:id", s.updateDevice)
        api.DELETE("/devices/:id", s.deleteDevice)
        api.GET("/devices/:id/history", s.getDeviceHistory)

        api.GET("/settings", s.getSettings)
        api.POST("/settings", s.updateSettings)

        api.GET("/alerts", s.getAlerts)
        api.GET("/alerts/summary", s.getAlertSummary)
        api.GET("/alerts/latest", s.getLatestAlerts)
        api.GET("/alerts/:id", s.getAlert)
        api.PUT("/alerts/:id/acknowledge", s.acknowledgeAlert)
        api.PUT("/alerts/:id/resolve", s.resolveAlert)

        api.GET("/status", s.getStatus)
        api.GET("/logs", s.getLogs)
    }

    admin := api.Group("/admin")
    {
        admin.POST("/purge", s.purgeAlerts)
        admin.POST("/compact", s.compactDatabase)
        admin.GET("/stats", s.getAdminStats)
        admin.POST("/notifications/test", s.sendTestNotification)
    }

    s.router.GET("/ws", s.handleWebSocket)
    s.router.GET("/stream", s.streamLogs)

    if s.config.Prometheus.Enabled {
        handler := promhttp.Handler()
        if s.gatherer != nil {
            handler = promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
        }
        s.router.GET(s.config.Prometheus.MetricsPath, gin.WrapH(handler))
    }
}

func (s *Server) healthCheck(c *gin.Context) {
    c.JSON(http.StatusOK, gin.H{
        "status":         "healthy",
        "timestamp":      time.Now(),
        "version":        Version,
        "engine_running": s.engine.Running(),
        "uptime":         database.FormatDuration(time.Since(s.startedAt)),
    })
}

func (s *Server) broadcastRoutine(ctx context.Context) {
    ticker := time.NewTicker(statusBroadcastInterval)
    defer ticker.Stop()

    for {
        select {
        case <-ctx.Done():
            return
        case <-ticker.C:
            s.publishSnapshot(ctx)
        }
    }
}

func (s *Server) publishSnapshot(ctx context.Context) {
    if s.hub.size() == 0 {
        return
    }

    s.hub.broadcast(WSMessage{Type: "alerts", Data: s.engine.LatestAlerts(latestAlertsDefault)})

    counts, err := s.statusCounts(ctx)
    if err != nil {
        logrus.WithError(err).Error("Failed to compute status for websocket clients")
        return
    }
    s.hub.broadcast(WSMessage{Type: "status", Data: counts})
}

func requestLogger() gin.HandlerFunc {
    return func(c *gin.Context) {
        start := time.Now()
        c.Next()

        logrus.WithFields(logrus.Fields{
            "method":   c.Request.Method,
            "path":     c.FullPath(),
            "status":   c.Writer.Status(),
            "duration": time.Since(start),
            "client":   c.ClientIP(),
        }).Debug("HTTP request")
    }
}

func corsMiddleware() gin.HandlerFunc {
    return func(c *gin.Context) {
        c.Header("Access-Control-Allow-Origin", "*")
        c.Header("Access-Control-Allow-Credentials", "true")
        c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
        c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

        if c.Request.Method == http.MethodOptions {
            c.AbortWithStatus(http.StatusNoContent)
            return
        }

        c.Next()
    }
}
