// cmd/netwatch/check.go - One-shot monitoring cycle
package main

import (
    "context"
    "encoding/json"
    "fmt"
    "os"
    "os/signal"
    "syscall"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/sirupsen/logrus"
    "github.com/spf13/cobra"

    "netwatch/internal/config"
    "netwatch/internal/database"
    "netwatch/internal/metrics"
    "netwatch/internal/settings"
)

// checkTimeout bounds a one-shot cycle.
const checkTimeout = 5 * time.Minute

var checkCmd = &cobra.Command{
    Use:   "check",
    Short: "Probe every device once and print the cycle report",
    Long: `Run a single monitoring cycle against the configured store and print the
report as JSON. Alerts are raised and device rows updated exactly as the
scheduled loop would, but notifications are not sent.`,
    RunE: func(cmd *cobra.Command, args []string) error {
        return check(configFile)
    },
}

func check(configPath string) error {
    cfg, err := config.Load(configPath)
    if err != nil {
        return fmt.Errorf("failed to load config: %w", err)
    }
    // One-off runs keep stdout for the report and leave the service's log
    // file alone.
    logCfg := cfg.Logging
    logCfg.File = ""
    if _, _, err := setupLogging(logCfg); err != nil {
        return err
    }
    logrus.SetOutput(os.Stderr)

    store, err := database.NewBoltStore(cfg.Database.Path)
    if err != nil {
        return fmt.Errorf("failed to initialize database: %w", err)
    }
    defer store.Close()

    ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
    defer stop()
    ctx, cancel := context.WithTimeout(ctx, checkTimeout)
    defer cancel()

    collector := metrics.NewCollector(prometheus.NewRegistry(), store)
    engine := newEngine(cfg, store, settings.NewCache(store), collector, nil)

    if _, err := engine.SyncDevices(ctx, cfg.SeedDevices()); err != nil {
        return fmt.Errorf("failed to register configured devices: %w", err)
    }

    report, err := engine.RunCycle(ctx)
    if err != nil {
        return err
    }

    enc := json.NewEncoder(os.Stdout)
    enc.SetIndent("", "  ")
    return enc.Encode(report)
}
