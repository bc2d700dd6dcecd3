// internal/config/config.go - Process configuration: YAML file, includes and environment overrides
package config

import (
    "fmt"
    "os"
    "path/filepath"
    "sort"
    "strconv"
    "strings"
    "time"

    "github.com/joho/godotenv"
    "gopkg.in/yaml.v3"

    "netwatch/internal/database"
)

type Config struct {
    Server        ServerConfig       `yaml:"server"`
    Database      DatabaseConfig     `yaml:"database"`
    Prometheus    PrometheusConfig   `yaml:"prometheus"`
    Monitoring    MonitoringConfig   `yaml:"monitoring"`
    Logging       LoggingConfig      `yaml:"logging"`
    Notifications NotificationConfig `yaml:"notifications"`
    Devices       []DeviceConfig     `yaml:"devices"`
    Include       IncludeConfig      `yaml:"include"`
}

type IncludeConfig struct {
    Directory string `yaml:"directory"`
    Pattern   string `yaml:"pattern"`
    Enabled   bool   `yaml:"enabled"`
}

type ServerConfig struct {
    Port            string        `yaml:"port"`
    ReadTimeout     time.Duration `yaml:"read_timeout"`
    WriteTimeout    time.Duration `yaml:"write_timeout"`
    ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type DatabaseConfig struct {
    Path            string        `yaml:"path"`
    CleanupInterval time.Duration `yaml:"cleanup_interval"`
    AlertRetention  time.Duration `yaml:"alert_retention"`
}

type PrometheusConfig struct {
    Enabled     bool   `yaml:"enabled"`
    MetricsPath string `yaml:"metrics_path"`
}

// MonitoringConfig sizes the in-process engine. The operational knobs
// (intervals, retries, sample counts) live in the settings store instead.
type MonitoringConfig struct {
    HistorySize  int           `yaml:"history_size"`
    QueueSize    int           `yaml:"queue_size"`
    MaxWorkers   int           `yaml:"max_workers"`
    PollInterval time.Duration `yaml:"poll_interval"`
    CycleBackoff time.Duration `yaml:"cycle_backoff"`
    Prober       string        `yaml:"prober"`     // icmp or exec
    Privileged   bool          `yaml:"privileged"` // raw ICMP sockets
    PingPath     string        `yaml:"ping_path"`
}

type LoggingConfig struct {
    Level       string `yaml:"level"`
    Format      string `yaml:"format"`
    File        string `yaml:"file"` // truncated on startup, empty disables
    BufferLines int    `yaml:"buffer_lines"`
}

type DeviceConfig struct {
    Name       string `yaml:"name"`
    Address    string `yaml:"address"`
    Type       string `yaml:"type"`
    MACAddress string `yaml:"mac_address,omitempty"`
    Owner      string `yaml:"owner,omitempty"`
}

// PartialConfig is the shape of an include file.
type PartialConfig struct {
    Devices []DeviceConfig `yaml:"devices,omitempty"`
}

const (
    ProberICMP = "icmp"
    ProberExec = "exec"

    maxWorkers = 10
)

func Load(filename string) (*Config, error) {
    // A missing .env is normal; only the process environment is used then.
    _ = godotenv.Load(filepath.Join(filepath.Dir(filename), ".env"))

    config, err := loadConfigFile(filename)
    if err != nil {
        return nil, fmt.Errorf("failed to load main config file: %w", err)
    }

    if config.Include.Enabled && config.Include.Directory != "" {
        if err := loadIncludes(config, filepath.Dir(filename)); err != nil {
            return nil, fmt.Errorf("failed to load includes: %w", err)
        }
    }

    applyEnv(config)
    setDefaults(config)

    if err := validate(config); err != nil {
        return nil, fmt.Errorf("invalid configuration: %w", err)
    }

    return config, nil
}

func loadConfigFile(filename string) (*Config, error) {
    data, err := os.ReadFile(filename)
    if err != nil {
        return nil, fmt.Errorf("failed to read config file: %w", err)
    }

    var config Config
    if err := yaml.Unmarshal(data, &config); err != nil {
        return nil, fmt.Errorf("failed to parse YAML: %w", err)
    }

    return &config, nil
}

func loadIncludes(config *Config, baseDir string) error {
    includeDir := config.Include.Directory
    if !filepath.IsAbs(includeDir) {
        includeDir = filepath.Join(baseDir, includeDir)
    }

    if _, err := os.Stat(includeDir); os.IsNotExist(err) {
        return fmt.Errorf("include directory does not exist: %s", includeDir)
    }

    pattern := config.Include.Pattern
    if pattern == "" {
        pattern = "*.yaml"
    }

    matches, err := filepath.Glob(filepath.Join(includeDir, pattern))
    if err != nil {
        return fmt.Errorf("failed to glob include pattern: %w", err)
    }
    if pattern == "*.yaml" {
        ymlMatches, err := filepath.Glob(filepath.Join(includeDir, "*.yml"))
        if err != nil {
            return fmt.Errorf("failed to glob .yml files: %w", err)
        }
        matches = append(matches, ymlMatches...)
    }

    sort.Slice(matches, func(i, j int) bool {
        return filepath.Base(matches[i]) < filepath.Base(matches[j])
    })

    for _, match := range matches {
        if err := loadAndMergeInclude(config, match); err != nil {
            return fmt.Errorf("failed to load include file %s: %w", match, err)
        }
    }

    return nil
}

func loadAndMergeInclude(config *Config, filename string) error {
    data, err := os.ReadFile(filename)
    if err != nil {
        return fmt.Errorf("failed to read include file: %w", err)
    }

    var partial PartialConfig
    if err := yaml.Unmarshal(data, &partial); err != nil {
        return fmt.Errorf("failed to parse include file YAML: %w", err)
    }

    config.Devices = append(config.Devices, partial.Devices...)
    return nil
}

// applyEnv lets deployment secrets and paths come from the environment.
func applyEnv(cfg *Config) {
    if port := getEnv("NETWATCH_PORT", ""); port != "" {
        if !strings.Contains(port, ":") {
            port = ":" + port
        }
        cfg.Server.Port = port
    }
    cfg.Database.Path = getEnv("NETWATCH_DB_PATH", cfg.Database.Path)
    cfg.Logging.Level = getEnv("NETWATCH_LOG_LEVEL", cfg.Logging.Level)
    cfg.Logging.File = getEnv("NETWATCH_LOG_FILE", cfg.Logging.File)

    mqtt := &cfg.Notifications.MQTT
    mqtt.Broker = getEnv("NETWATCH_MQTT_BROKER", mqtt.Broker)
    mqtt.Username = getEnv("NETWATCH_MQTT_USERNAME", mqtt.Username)
    mqtt.Password = getEnv("NETWATCH_MQTT_PASSWORD", mqtt.Password)

    pushover := &cfg.Notifications.Pushover
    pushover.APIToken = getEnv("NETWATCH_PUSHOVER_TOKEN", pushover.APIToken)
    pushover.UserKey = getEnv("NETWATCH_PUSHOVER_USER", pushover.UserKey)

    if v := getEnv("NETWATCH_PROMETHEUS_ENABLED", ""); v != "" {
        if enabled, err := strconv.ParseBool(v); err == nil {
            cfg.Prometheus.Enabled = enabled
        }
    }
}

func getEnv(key, defaultValue string) string {
    if value := os.Getenv(key); value != "" {
        return value
    }
    return defaultValue
}

func setDefaults(cfg *Config) {
    if cfg.Server.Port == "" {
        cfg.Server.Port = ":8000"
    }
    if cfg.Server.ReadTimeout == 0 {
        cfg.Server.ReadTimeout = 15 * time.Second
    }
    if cfg.Server.WriteTimeout == 0 {
        cfg.Server.WriteTimeout = 15 * time.Second
    }
    if cfg.Server.ShutdownTimeout == 0 {
        cfg.Server.ShutdownTimeout = 10 * time.Second
    }

    if cfg.Database.Path == "" {
        cfg.Database.Path = "./data/netwatch.db"
    }
    if cfg.Database.CleanupInterval == 0 {
        cfg.Database.CleanupInterval = 6 * time.Hour
    }
    if cfg.Database.AlertRetention == 0 {
        cfg.Database.AlertRetention = 30 * 24 * time.Hour
    }

    if cfg.Prometheus.MetricsPath == "" {
        cfg.Prometheus.MetricsPath = "/metrics"
    }

    if cfg.Monitoring.HistorySize == 0 {
        cfg.Monitoring.HistorySize = 10
    }
    if cfg.Monitoring.QueueSize == 0 {
        cfg.Monitoring.QueueSize = 100
    }
    if cfg.Monitoring.MaxWorkers == 0 {
        cfg.Monitoring.MaxWorkers = maxWorkers
    }
    if cfg.Monitoring.PollInterval == 0 {
        cfg.Monitoring.PollInterval = time.Second
    }
    if cfg.Monitoring.CycleBackoff == 0 {
        cfg.Monitoring.CycleBackoff = 5 * time.Second
    }
    if cfg.Monitoring.Prober == "" {
        cfg.Monitoring.Prober = ProberICMP
    }

    if cfg.Logging.Level == "" {
        cfg.Logging.Level = "info"
    }
    if cfg.Logging.Format == "" {
        cfg.Logging.Format = "text"
    }
    if cfg.Logging.BufferLines == 0 {
        cfg.Logging.BufferLines = 500
    }

    if cfg.Include.Pattern == "" {
        cfg.Include.Pattern = "*.yaml"
    }

    for i := range cfg.Devices {
        if cfg.Devices[i].Name == "" {
            cfg.Devices[i].Name = cfg.Devices[i].Address
        }
        if cfg.Devices[i].Type == "" {
            cfg.Devices[i].Type = "host"
        }
    }

    setNotificationDefaults(&cfg.Notifications)
}

func validate(cfg *Config) error {
    if cfg.Monitoring.MaxWorkers < 1 || cfg.Monitoring.MaxWorkers > maxWorkers {
        return fmt.Errorf("monitoring.max_workers must be between 1 and %d", maxWorkers)
    }
    if cfg.Monitoring.HistorySize < 2 {
        return fmt.Errorf("monitoring.history_size must be at least 2")
    }
    if cfg.Monitoring.QueueSize < 1 {
        return fmt.Errorf("monitoring.queue_size must be at least 1")
    }
    if cfg.Monitoring.PollInterval <= 0 {
        return fmt.Errorf("monitoring.poll_interval must be positive")
    }
    if cfg.Monitoring.CycleBackoff <= 0 {
        return fmt.Errorf("monitoring.cycle_backoff must be positive")
    }
    if cfg.Monitoring.Prober != ProberICMP && cfg.Monitoring.Prober != ProberExec {
        return fmt.Errorf("monitoring.prober must be %q or %q", ProberICMP, ProberExec)
    }

    if cfg.Database.CleanupInterval < 0 || cfg.Database.AlertRetention < 0 {
        return fmt.Errorf("database intervals must be positive")
    }

    if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
        return fmt.Errorf("logging.format must be text or json")
    }
    if cfg.Logging.BufferLines < 1 {
        return fmt.Errorf("logging.buffer_lines must be at least 1")
    }

    if cfg.Include.Enabled {
        if cfg.Include.Directory == "" {
            return fmt.Errorf("include.directory must be specified when include.enabled is true")
        }
        if !isValidGlobPattern(cfg.Include.Pattern) {
            return fmt.Errorf("include.pattern contains invalid glob pattern: %s", cfg.Include.Pattern)
        }
    }

    addresses := make(map[string]bool)
    for _, device := range cfg.Devices {
        if device.Address == "" {
            return fmt.Errorf("device %q has no address", device.Name)
        }
        if addresses[device.Address] {
            return fmt.Errorf("duplicate device address: %s", device.Address)
        }
        addresses[device.Address] = true
    }

    if err := cfg.Notifications.Validate(); err != nil {
        return err
    }

    return nil
}

// SeedDevices converts configured devices into store rows.
func (c *Config) SeedDevices() []database.Device {
    devices := make([]database.Device, 0, len(c.Devices))
    for _, d := range c.Devices {
        devices = append(devices, database.Device{
            Name:       d.Name,
            Address:    d.Address,
            Type:       d.Type,
            MACAddress: d.MACAddress,
            Owner:      d.Owner,
        })
    }
    return devices
}

func isValidGlobPattern(pattern string) bool {
    if strings.Contains(pattern, "/") || strings.Contains(pattern, "\\") {
        return false
    }
    _, err := filepath.Match(pattern, "test.yaml")
    return err == nil
}
