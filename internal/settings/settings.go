// internal/settings/settings.go - Typed operational settings parsed from the store
package settings

import (
    "fmt"
    "strconv"
    "strings"
    "time"
)

// Setting keys as stored in the settings bucket.
const (
    KeyPingTimeout   = "ping_timeout"
    KeyRetryInterval = "retry_interval"
    KeyMaxRetries    = "max_retries"
    KeyCheckInterval = "check_interval"
    KeyPingCount     = "ping_count"
    KeyParallelPings = "parallel_pings"
    KeyCacheTTL      = "cache_ttl"
    KeyLogLevel      = "log_level"
)

// Default describes one seeded setting.
type Default struct {
    Key         string
    Value       string
    Description string
}

// Defaults is the set written to an empty store.
var Defaults = []Default{
    {KeyPingTimeout, "1", "Seconds to wait for each echo reply"},
    {KeyRetryInterval, "5", "Seconds between retry probes when a device does not answer"},
    {KeyMaxRetries, "3", "Total probe attempts before a device is declared offline"},
    {KeyCheckInterval, "60", "Seconds between monitoring cycles"},
    {KeyPingCount, "4", "Echo requests sent per device per cycle"},
    {KeyParallelPings, "true", "Probe devices concurrently (true) or one after another (false)"},
    {KeyCacheTTL, "300", "Seconds settings and status cache entries stay fresh"},
    {KeyLogLevel, "INFO", "Log verbosity: DEBUG, INFO, WARNING or ERROR"},
}

// Snapshot is one consistent view of the operational settings.
type Snapshot struct {
    PingTimeout   time.Duration `json:"ping_timeout"`
    RetryInterval time.Duration `json:"retry_interval"`
    MaxRetries    int           `json:"max_retries"`
    CheckInterval time.Duration `json:"check_interval"`
    PingCount     int           `json:"ping_count"`
    ParallelPings bool          `json:"parallel_pings"`
    CacheTTL      time.Duration `json:"cache_ttl"`
    LogLevel      string        `json:"log_level"`
    LoadedAt      time.Time     `json:"loaded_at"`
}

// ParseError records a value that could not be coerced and fell back to its default.
type ParseError struct {
    Key   string
    Value string
    Err   error
}

func (e ParseError) Error() string {
    return fmt.Sprintf("setting %s=%q: %v", e.Key, e.Value, e.Err)
}

// DefaultSnapshot returns the snapshot built purely from Defaults.
func DefaultSnapshot() Snapshot {
    snap, _ := Parse(DefaultValues())
    return snap
}

// DefaultValues returns Defaults as a raw key/value map.
func DefaultValues() map[string]string {
    values := make(map[string]string, len(Defaults))
    for _, d := range Defaults {
        values[d.Key] = d.Value
    }
    return values
}

// Parse coerces raw values into a Snapshot. Missing keys take their default
// silently; malformed ones take their default and are reported.
func Parse(raw map[string]string) (Snapshot, []ParseError) {
    p := &parser{raw: raw}

    snap := Snapshot{
        PingTimeout:   p.seconds(KeyPingTimeout),
        RetryInterval: p.seconds(KeyRetryInterval),
        MaxRetries:    p.positiveInt(KeyMaxRetries),
        CheckInterval: p.seconds(KeyCheckInterval),
        PingCount:     p.positiveInt(KeyPingCount),
        ParallelPings: p.boolean(KeyParallelPings),
        CacheTTL:      p.seconds(KeyCacheTTL),
        LogLevel:      p.logLevel(KeyLogLevel),
    }

    return snap, p.errs
}

// Validate checks raw values the way Parse would, without falling back.
func Validate(raw map[string]string) []ParseError {
    _, errs := Parse(raw)
    return errs
}

type parser struct {
    raw  map[string]string
    errs []ParseError
}

func (p *parser) lookup(key string) (string, bool) {
    v, ok := p.raw[key]
    if !ok {
        return defaultValue(key), false
    }
    return strings.TrimSpace(v), true
}

func (p *parser) fail(key, value string, err error) {
    p.errs = append(p.errs, ParseError{Key: key, Value: value, Err: err})
}

func (p *parser) positiveInt(key string) int {
    v, present := p.lookup(key)
    n, err := strconv.Atoi(v)
    if err == nil && n < 1 {
        err = fmt.Errorf("must be at least 1")
    }
    if err != nil {
        if present {
            p.fail(key, v, err)
        }
        n, _ = strconv.Atoi(defaultValue(key))
    }
    return n
}

func (p *parser) seconds(key string) time.Duration {
    return time.Duration(p.positiveInt(key)) * time.Second
}

func (p *parser) boolean(key string) bool {
    v, present := p.lookup(key)
    switch strings.ToLower(v) {
    case "true":
        return true
    case "false":
        return false
    }
    if present {
        p.fail(key, v, fmt.Errorf("expected true or false"))
    }
    return strings.EqualFold(defaultValue(key), "true")
}

func (p *parser) logLevel(key string) string {
    v, present := p.lookup(key)
    level := strings.ToUpper(v)
    switch level {
    case "DEBUG", "INFO", "WARNING", "WARN", "ERROR":
        return level
    }
    if present {
        p.fail(key, v, fmt.Errorf("unknown log level"))
    }
    return defaultValue(key)
}

func defaultValue(key string) string {
    for _, d := range Defaults {
        if d.Key == key {
            return d.Value
        }
    }
    return ""
}

// DescriptionFor returns the documented description of a key.
func DescriptionFor(key string) string {
    for _, d := range Defaults {
        if d.Key == key {
            return d.Description
        }
    }
    return ""
}
