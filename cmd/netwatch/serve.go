// cmd/netwatch/serve.go - Wires the store, engine, notifications and web server together
package main

import (
    "context"
    "fmt"
    "os"
    "os/signal"
    "syscall"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/sirupsen/logrus"
    "github.com/spf13/cobra"

    "netwatch/internal/cache"
    "netwatch/internal/config"
    "netwatch/internal/database"
    "netwatch/internal/metrics"
    "netwatch/internal/monitoring"
    "netwatch/internal/notifications"
    "netwatch/internal/probe"
    "netwatch/internal/settings"
    "netwatch/internal/web"
)

var serveCmd = &cobra.Command{
    Use:   "serve",
    Short: "Run the monitoring engine and HTTP API",
    RunE: func(cmd *cobra.Command, args []string) error {
        return serve(configFile)
    },
}

func serve(configPath string) error {
    cfg, err := config.Load(configPath)
    if err != nil {
        return fmt.Errorf("failed to load config: %w", err)
    }
    logs, closeLog, err := setupLogging(cfg.Logging)
    if err != nil {
        return err
    }
    defer closeLog()

    logrus.WithFields(logrus.Fields{
        "config_file": configPath,
        "port":        cfg.Server.Port,
        "workers":     cfg.Monitoring.MaxWorkers,
        "prober":      cfg.Monitoring.Prober,
    }).Info("Starting NetWatch")

    store, err := database.NewBoltStore(cfg.Database.Path)
    if err != nil {
        return fmt.Errorf("failed to initialize database: %w", err)
    }
    defer store.Close()

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()

    registry := prometheus.NewRegistry()
    registry.MustRegister(
        collectors.NewGoCollector(),
        collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
    )
    collector := metrics.NewCollector(registry, store)

    settingsCache := settings.NewCache(store)
    snap := settingsCache.Get(ctx, true)
    setLogLevel(snap.LogLevel)

    dispatcher, closeSinks, err := buildNotifications(cfg.Notifications, collector)
    if err != nil {
        return err
    }
    defer closeSinks()

    engine := newEngine(cfg, store, settingsCache, collector, dispatcher)

    created, err := engine.SyncDevices(ctx, cfg.SeedDevices())
    if err != nil {
        return fmt.Errorf("failed to register configured devices: %w", err)
    }
    if created > 0 {
        logrus.WithField("count", created).Info("Registered devices from configuration")
    }

    if dispatcher != nil {
        go dispatcher.Run(ctx)
    }
    engine.Start(ctx)

    alertManager := monitoring.NewAlertManager(store, cfg.Database.AlertRetention)
    alertManager.SchedulePeriodicPurge(ctx, cfg.Database.CleanupInterval)

    server := web.NewServer(cfg, web.Dependencies{
        Store:         store,
        Engine:        engine,
        AlertManager:  alertManager,
        Notifications: dispatcher,
        Metrics:       collector,
        Gatherer:      registry,
        Logs:          logs,
    })
    if err := server.Start(ctx); err != nil {
        return fmt.Errorf("failed to start web server: %w", err)
    }

    sigChan := make(chan os.Signal, 1)
    signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
    sig := <-sigChan
    logrus.WithField("signal", sig).Info("Received shutdown signal")

    engine.Stop()
    shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
    defer shutdownCancel()

    select {
    case <-engine.Done():
    case <-shutdownCtx.Done():
        logrus.Warn("Monitoring engine did not stop before the shutdown timeout")
    }
    if err := server.Stop(shutdownCtx); err != nil {
        logrus.WithError(err).Error("Web server shutdown failed")
    }
    cancel()

    logrus.Info("Shutdown complete")
    return nil
}

func newEngine(cfg *config.Config, store database.Store, provider monitoring.SettingsProvider, collector *metrics.Collector, dispatcher *notifications.Dispatcher) *monitoring.Engine {
    opts := monitoring.Options{
        PollInterval: cfg.Monitoring.PollInterval,
        CycleBackoff: cfg.Monitoring.CycleBackoff,
        MaxWorkers:   cfg.Monitoring.MaxWorkers,
        History:      cache.NewHistory(cfg.Monitoring.HistorySize),
        Queue:        cache.NewQueue(cfg.Monitoring.QueueSize),
        Metrics:      collector,
    }
    if dispatcher != nil {
        opts.Notifier = dispatcher
    }
    return monitoring.NewEngine(store, provider, newProber(cfg.Monitoring), opts)
}

func newProber(cfg config.MonitoringConfig) *probe.Prober {
    if cfg.Prober == config.ProberExec {
        return probe.NewProber(probe.NewExecPinger(cfg.PingPath))
    }
    return probe.NewProber(probe.NewICMPPinger(cfg.Privileged))
}

// buildNotifications returns a nil dispatcher when notifications are off.
func buildNotifications(cfg config.NotificationConfig, collector *metrics.Collector) (*notifications.Dispatcher, func(), error) {
    noop := func() {}
    if !cfg.Enabled {
        return nil, noop, nil
    }

    var sinks []notifications.Sink
    var mqttSink *notifications.MQTTSink

    if cfg.MQTT.Enabled {
        sink, err := notifications.NewMQTTSink(cfg.MQTT)
        if err != nil {
            return nil, noop, fmt.Errorf("failed to initialize MQTT notifications: %w", err)
        }
        mqttSink = sink
        sinks = append(sinks, sink)
    }
    if cfg.Pushover.Enabled {
        sink, err := notifications.NewPushoverSink(cfg.Pushover, nil)
        if err != nil {
            return nil, noop, fmt.Errorf("failed to initialize Pushover notifications: %w", err)
        }
        sinks = append(sinks, sink)
    }

    if len(sinks) == 0 {
        logrus.Warn("Notifications enabled but no sink is configured")
        return nil, noop, nil
    }

    closer := func() {
        if mqttSink != nil {
            mqttSink.Close()
        }
    }
    return notifications.NewDispatcher(cfg, collector, sinks...), closer, nil
}
