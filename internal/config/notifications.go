// internal/config/notifications.go - Alert notification settings
package config

import (
    "fmt"
    "strings"
    "text/template"
    "time"
)

type NotificationConfig struct {
    Enabled     bool           `yaml:"enabled"`
    QueueSize   int            `yaml:"queue_size"`
    SendTimeout time.Duration  `yaml:"send_timeout"`
    Throttle    ThrottleConfig `yaml:"throttle"`
    MQTT        MQTTConfig     `yaml:"mqtt"`
    Pushover    PushoverConfig `yaml:"pushover"`
}

// ThrottleConfig caps notifications per device and overall inside a window.
type ThrottleConfig struct {
    Enabled      bool          `yaml:"enabled"`
    Window       time.Duration `yaml:"window"`
    MaxPerDevice int           `yaml:"max_per_device"`
    MaxTotal     int           `yaml:"max_total"`
}

type MQTTConfig struct {
    Enabled        bool          `yaml:"enabled"`
    Broker         string        `yaml:"broker"`
    ClientID       string        `yaml:"client_id"`
    Username       string        `yaml:"username"`
    Password       string        `yaml:"password"`
    Topic          string        `yaml:"topic"` // {device_id} is replaced per alert
    QoS            byte          `yaml:"qos"`
    Retained       bool          `yaml:"retained"`
    ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

type PushoverConfig struct {
    Enabled      bool     `yaml:"enabled"`
    APIToken     string   `yaml:"api_token"`
    UserKey      string   `yaml:"user_key"`
    APIURL       string   `yaml:"api_url"`
    Priority     int      `yaml:"priority"` // -2 (silent) .. 2 (emergency)
    Retry        int      `yaml:"retry"`    // emergency priority only, seconds
    Expire       int      `yaml:"expire"`   // emergency priority only, seconds
    Sound        string   `yaml:"sound"`
    Device       string   `yaml:"device"`
    Title        string   `yaml:"title"`
    Template     string   `yaml:"template"`
    OnlySeverity []string `yaml:"only_severity"`
}

func setNotificationDefaults(n *NotificationConfig) {
    if n.QueueSize == 0 {
        n.QueueSize = 64
    }
    if n.SendTimeout == 0 {
        n.SendTimeout = 10 * time.Second
    }

    if n.Throttle.Window == 0 {
        n.Throttle.Window = 15 * time.Minute
    }
    if n.Throttle.MaxPerDevice == 0 {
        n.Throttle.MaxPerDevice = 5
    }
    if n.Throttle.MaxTotal == 0 {
        n.Throttle.MaxTotal = 20
    }

    if n.MQTT.ClientID == "" {
        n.MQTT.ClientID = "netwatch"
    }
    if n.MQTT.Topic == "" {
        n.MQTT.Topic = "netwatch/alerts/{device_id}"
    }
    if n.MQTT.ConnectTimeout == 0 {
        n.MQTT.ConnectTimeout = 10 * time.Second
    }

    if n.Pushover.APIURL == "" {
        n.Pushover.APIURL = "https://api.pushover.net/1/messages.json"
    }
    if n.Pushover.Title == "" {
        n.Pushover.Title = "NetWatch: {{.Device}}"
    }
    if n.Pushover.Template == "" {
        n.Pushover.Template = "[{{.Severity}}] {{.Type}}: {{.Message}}"
    }
    if n.Pushover.Sound == "" {
        n.Pushover.Sound = "pushover"
    }
}

func (n *NotificationConfig) Validate() error {
    if !n.Enabled {
        return nil
    }
    if n.QueueSize < 1 {
        return fmt.Errorf("notifications.queue_size must be at least 1")
    }
    if n.Throttle.Enabled && n.Throttle.Window <= 0 {
        return fmt.Errorf("notifications.throttle.window must be positive")
    }
    if err := n.MQTT.Validate(); err != nil {
        return err
    }
    return n.Pushover.Validate()
}

func (m *MQTTConfig) Validate() error {
    if !m.Enabled {
        return nil
    }
    if m.Broker == "" {
        return fmt.Errorf("notifications.mqtt.broker is required when MQTT is enabled")
    }
    if m.QoS > 2 {
        return fmt.Errorf("notifications.mqtt.qos must be 0, 1 or 2")
    }
    if strings.ContainsAny(m.Topic, "+#") {
        return fmt.Errorf("notifications.mqtt.topic cannot contain wildcards")
    }
    return nil
}

func (p *PushoverConfig) Validate() error {
    if !p.Enabled {
        return nil
    }
    if p.APIToken == "" {
        return fmt.Errorf("notifications.pushover.api_token is required when Pushover is enabled")
    }
    if p.UserKey == "" {
        return fmt.Errorf("notifications.pushover.user_key is required when Pushover is enabled")
    }
    if p.Priority < -2 || p.Priority > 2 {
        return fmt.Errorf("notifications.pushover.priority must be between -2 and 2")
    }
    if p.Priority == 2 {
        if p.Retry < 30 {
            return fmt.Errorf("notifications.pushover.retry must be at least 30 seconds for emergency priority")
        }
        if p.Expire < 60 || p.Expire > 10800 {
            return fmt.Errorf("notifications.pushover.expire must be between 60 and 10800 seconds for emergency priority")
        }
    }
    if _, err := template.New("title").Parse(p.Title); err != nil {
        return fmt.Errorf("invalid pushover title template: %w", err)
    }
    if _, err := template.New("message").Parse(p.Template); err != nil {
        return fmt.Errorf("invalid pushover message template: %w", err)
    }
    return nil
}
