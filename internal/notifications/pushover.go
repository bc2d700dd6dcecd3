// internal/notifications/pushover.go - Pushover notification sink
package notifications

import (
    "bytes"
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "text/template"
    "time"

    "github.com/sirupsen/logrus"

    "netwatch/internal/cache"
    "netwatch/internal/config"
    "netwatch/internal/database"
)

const UserAgent = "NetWatch Network Monitor/1.0"

type PushoverSink struct {
    config     config.PushoverConfig
    httpClient *http.Client
    title      *template.Template
    message    *template.Template
}

// PushoverMessage represents a message sent to Pushover API
type PushoverMessage struct {
    Token     string `json:"token"`
    User      string `json:"user"`
    Message   string `json:"message"`
    Title     string `json:"title,omitempty"`
    Priority  int    `json:"priority,omitempty"`
    Retry     int    `json:"retry,omitempty"`
    Expire    int    `json:"expire,omitempty"`
    Sound     string `json:"sound,omitempty"`
    Device    string `json:"device,omitempty"`
    Timestamp int64  `json:"timestamp,omitempty"`
}

// PushoverResponse represents the API response
type PushoverResponse struct {
    Status int      `json:"status"`
    Errors []string `json:"errors,omitempty"`
}

func NewPushoverSink(cfg config.PushoverConfig, httpClient *http.Client) (*PushoverSink, error) {
    if httpClient == nil {
        httpClient = &http.Client{Timeout: 30 * time.Second}
    }

    title, err := template.New("title").Parse(cfg.Title)
    if err != nil {
        return nil, fmt.Errorf("failed to parse title template: %w", err)
    }
    message, err := template.New("message").Parse(cfg.Template)
    if err != nil {
        return nil, fmt.Errorf("failed to parse message template: %w", err)
    }

    return &PushoverSink{
        config:     cfg,
        httpClient: httpClient,
        title:      title,
        message:    message,
    }, nil
}

func (s *PushoverSink) Name() string { return "pushover" }

func (s *PushoverSink) Send(ctx context.Context, record cache.Record) error {
    if !s.shouldNotify(record) {
        logrus.WithFields(logrus.Fields{
            "device":   record.Device,
            "severity": record.Severity,
        }).Debug("Skipping Pushover notification based on severity filter")
        return nil
    }

    msg, err := s.buildMessage(record)
    if err != nil {
        return fmt.Errorf("failed to build message: %w", err)
    }
    return s.post(ctx, msg)
}

func (s *PushoverSink) shouldNotify(record cache.Record) bool {
    if len(s.config.OnlySeverity) == 0 {
        return true
    }
    for _, severity := range s.config.OnlySeverity {
        if severity == record.Severity {
            return true
        }
    }
    return false
}

func (s *PushoverSink) buildMessage(record cache.Record) (*PushoverMessage, error) {
    var title, body bytes.Buffer
    if err := s.title.Execute(&title, record); err != nil {
        return nil, fmt.Errorf("failed to render title: %w", err)
    }
    if err := s.message.Execute(&body, record); err != nil {
        return nil, fmt.Errorf("failed to render message: %w", err)
    }

    msg := &PushoverMessage{
        Token:     s.config.APIToken,
        User:      s.config.UserKey,
        Title:     title.String(),
        Message:   severityEmoji(record.Severity) + " " + body.String(),
        Priority:  s.config.Priority,
        Sound:     s.config.Sound,
        Device:    s.config.Device,
        Timestamp: record.Timestamp.Unix(),
    }
    if s.config.Priority == 2 {
        msg.Retry = s.config.Retry
        msg.Expire = s.config.Expire
    }
    return msg, nil
}

func (s *PushoverSink) post(ctx context.Context, message *PushoverMessage) error {
    jsonData, err := json.Marshal(message)
    if err != nil {
        return fmt.Errorf("failed to marshal message: %w", err)
    }

    req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewBuffer(jsonData))
    if err != nil {
        return fmt.Errorf("failed to create request: %w", err)
    }
    req.Header.Set("Content-Type", "application/json")
    req.Header.Set("User-Agent", UserAgent)

    resp, err := s.httpClient.Do(req)
    if err != nil {
        return fmt.Errorf("failed to send request: %w", err)
    }
    defer resp.Body.Close()

    var pushoverResp PushoverResponse
    if err := json.NewDecoder(resp.Body).Decode(&pushoverResp); err != nil {
        return fmt.Errorf("failed to decode response (HTTP %d): %w", resp.StatusCode, err)
    }
    if pushoverResp.Status != 1 {
        return fmt.Errorf("pushover API error: %v", pushoverResp.Errors)
    }

    logrus.WithFields(logrus.Fields{
        "title":    message.Title,
        "priority": message.Priority,
    }).Info("Pushover notification sent successfully")
    return nil
}

func severityEmoji(severity string) string {
    switch severity {
    case database.SeverityCritical:
        return "🔴"
    case database.SeverityWarning:
        return "🟡"
    default:
        return "🔵"
    }
}
