// cmd/netwatch/main.go - NetWatch network monitoring service
package main

import (
    "fmt"
    "io"
    "os"
    "path/filepath"
    "runtime"
    "strings"

    "github.com/sirupsen/logrus"
    "github.com/spf13/cobra"

    "netwatch/internal/cache"
    "netwatch/internal/config"
    "netwatch/internal/web"
)

var configFile string

var rootCmd = &cobra.Command{
    Use:   "netwatch",
    Short: "Ping-based network device monitor",
    Long: `NetWatch probes registered devices with ICMP echo on a fixed cadence,
tracks their availability and packet loss, and raises alerts when a device
goes offline or its loss keeps climbing.`,
    SilenceUsage: true,
}

var versionCmd = &cobra.Command{
    Use:   "version",
    Short: "Show version information",
    Run: func(cmd *cobra.Command, args []string) {
        fmt.Printf("NetWatch %s\nCommit: %s\nBuilt: %s\nGo: %s %s/%s\n",
            web.Version, web.GitCommit, web.BuildTime, runtime.Version(), runtime.GOOS, runtime.GOARCH)
    },
}

func init() {
    rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file path")
    rootCmd.AddCommand(serveCmd, checkCmd, versionCmd)
}

func main() {
    if err := rootCmd.Execute(); err != nil {
        os.Exit(1)
    }
}

// setupLogging configures the standard logger. Output goes to stdout and,
// when configured, to a log file truncated on every start. Recent lines are
// kept in the returned buffer for the log API and stream.
func setupLogging(cfg config.LoggingConfig) (*cache.LogBuffer, func(), error) {
    setLogLevel(cfg.Level)

    if cfg.Format == "json" {
        logrus.SetFormatter(&logrus.JSONFormatter{})
    } else {
        logrus.SetFormatter(&logrus.TextFormatter{
            FullTimestamp: true,
        })
    }

    closer := func() {}
    logrus.SetOutput(os.Stdout)
    if cfg.File != "" {
        if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
            return nil, closer, fmt.Errorf("failed to create log directory: %w", err)
        }
        file, err := os.Create(cfg.File)
        if err != nil {
            return nil, closer, fmt.Errorf("failed to open log file: %w", err)
        }
        logrus.SetOutput(io.MultiWriter(os.Stdout, file))
        closer = func() {
            logrus.SetOutput(os.Stdout)
            file.Close()
        }
    }

    logs := cache.NewLogBuffer(cfg.BufferLines)
    logrus.AddHook(logs)
    return logs, closer, nil
}

// setLogLevel accepts both logrus names and the upper-case names used by
// the log_level setting.
func setLogLevel(name string) {
    level, err := logrus.ParseLevel(strings.ToLower(name))
    if err != nil {
        level = logrus.InfoLevel
    }
    logrus.SetLevel(level)
}
