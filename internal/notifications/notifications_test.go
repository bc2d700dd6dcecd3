package notifications

import (
    "context"
    "encoding/json"
    "errors"
    "net/http"
    "net/http/httptest"
    "sync"
    "testing"
    "time"

    mqtt "github.com/eclipse/paho.mqtt.golang"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "netwatch/internal/cache"
    "netwatch/internal/config"
)

type recordingSink struct {
    mu      sync.Mutex
    records []cache.Record
    err     error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, r cache.Record) error {
    s.mu.Lock()
    defer s.mu.Unlock()
    s.records = append(s.records, r)
    return s.err
}

func (s *recordingSink) count() int {
    s.mu.Lock()
    defer s.mu.Unlock()
    return len(s.records)
}

func sampleRecord(deviceID string) cache.Record {
    return cache.Record{
        AlertID:   "a-" + deviceID,
        DeviceID:  deviceID,
        Device:    "router",
        Severity:  "critical",
        Type:      "Connectivity",
        Message:   "router (10.0.0.1) is offline",
        Timestamp: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
    }
}

func TestDispatcherDeliversToSinks(t *testing.T) {
    sink := &recordingSink{}
    d := NewDispatcher(config.NotificationConfig{QueueSize: 4}, nil, sink)

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    go d.Run(ctx)

    d.Notify(sampleRecord("d1"))
    d.Notify(sampleRecord("d2"))

    require.Eventually(t, func() bool { return sink.count() == 2 }, time.Second, 5*time.Millisecond)
    assert.Equal(t, int64(2), d.Stats().Delivered)
}

func TestDispatcherDropsWhenFull(t *testing.T) {
    d := NewDispatcher(config.NotificationConfig{QueueSize: 1}, nil, &recordingSink{})

    d.Notify(sampleRecord("d1"))
    d.Notify(sampleRecord("d2"))

    stats := d.Stats()
    assert.Equal(t, int64(1), stats.Dropped)
    assert.Equal(t, 1, stats.Pending)
}

func TestDispatcherCountsFailures(t *testing.T) {
    sink := &recordingSink{err: errors.New("unreachable")}
    d := NewDispatcher(config.NotificationConfig{}, nil, sink)

    d.deliver(context.Background(), sampleRecord("d1"))
    assert.Equal(t, int64(1), d.Stats().Failed)
    assert.Equal(t, int64(0), d.Stats().Delivered)
}

func TestDispatcherThrottles(t *testing.T) {
    sink := &recordingSink{}
    d := NewDispatcher(config.NotificationConfig{
        Throttle: config.ThrottleConfig{Enabled: true, Window: time.Minute, MaxPerDevice: 1, MaxTotal: 10},
    }, nil, sink)

    d.deliver(context.Background(), sampleRecord("d1"))
    d.deliver(context.Background(), sampleRecord("d1"))
    d.deliver(context.Background(), sampleRecord("d2"))

    assert.Equal(t, 2, sink.count())
    assert.Equal(t, int64(1), d.Stats().Throttled)
}

func TestThrottlerWindow(t *testing.T) {
    now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
    th := NewThrottler(config.ThrottleConfig{Enabled: true, Window: time.Minute, MaxPerDevice: 2, MaxTotal: 3})
    th.now = func() time.Time { return now }

    assert.True(t, th.Allow("a"))
    assert.True(t, th.Allow("a"))
    assert.False(t, th.Allow("a"), "per-device cap")
    assert.True(t, th.Allow("b"))
    assert.False(t, th.Allow("c"), "total cap")

    now = now.Add(61 * time.Second)
    assert.True(t, th.Allow("a"))
    assert.Equal(t, 1, th.Tracked())
}

func TestThrottlerDisabled(t *testing.T) {
    th := NewThrottler(config.ThrottleConfig{MaxPerDevice: 1})
    for i := 0; i < 5; i++ {
        assert.True(t, th.Allow("a"))
    }
}

type fakeToken struct {
    err  error
    done chan struct{}
}

func newFakeToken(err error) *fakeToken {
    done := make(chan struct{})
    close(done)
    return &fakeToken{err: err, done: done}
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakePublisher struct {
    topic    string
    qos      byte
    retained bool
    payload  []byte
    err      error
    closed   bool
}

func (p *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
    p.topic = topic
    p.qos = qos
    p.retained = retained
    p.payload = payload.([]byte)
    return newFakeToken(p.err)
}

func (p *fakePublisher) Disconnect(uint) { p.closed = true }

func TestMQTTSinkPublishes(t *testing.T) {
    pub := &fakePublisher{}
    sink := newMQTTSink(pub, config.MQTTConfig{Topic: "netwatch/alerts/{device_id}", QoS: 1})

    require.NoError(t, sink.Send(context.Background(), sampleRecord("dev-7")))
    assert.Equal(t, "netwatch/alerts/dev-7", pub.topic)
    assert.Equal(t, byte(1), pub.qos)

    var decoded map[string]interface{}
    require.NoError(t, json.Unmarshal(pub.payload, &decoded))
    assert.Equal(t, "a-dev-7", decoded["alert_id"])
    assert.Equal(t, "netwatch", decoded["source"])

    sink.Close()
    assert.True(t, pub.closed)
}

func TestMQTTSinkPublishError(t *testing.T) {
    pub := &fakePublisher{err: errors.New("not connected")}
    sink := newMQTTSink(pub, config.MQTTConfig{Topic: "alerts"})

    err := sink.Send(context.Background(), sampleRecord("d1"))
    require.Error(t, err)
    assert.Contains(t, err.Error(), "not connected")
}

func TestFormatTopic(t *testing.T) {
    assert.Equal(t, "a/x/b", formatTopic("a/{device_id}/b", "x"))
    assert.Equal(t, "a/unknown", formatTopic("a/{device_id}", ""))
    assert.Equal(t, "static", formatTopic("static", "x"))
}

func pushoverConfig(url string) config.PushoverConfig {
    return config.PushoverConfig{
        Enabled:  true,
        APIToken: "token",
        UserKey:  "user",
        APIURL:   url,
        Title:    "NetWatch: {{.Device}}",
        Template: "[{{.Severity}}] {{.Type}}: {{.Message}}",
    }
}

func TestPushoverSinkSends(t *testing.T) {
    var got PushoverMessage
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
        assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
        _, _ = w.Write([]byte(`{"status":1}`))
    }))
    defer server.Close()

    sink, err := NewPushoverSink(pushoverConfig(server.URL), server.Client())
    require.NoError(t, err)

    require.NoError(t, sink.Send(context.Background(), sampleRecord("d1")))
    assert.Equal(t, "NetWatch: router", got.Title)
    assert.Contains(t, got.Message, "[critical] Connectivity: router (10.0.0.1) is offline")
    assert.Equal(t, "token", got.Token)
}

func TestPushoverSinkAPIError(t *testing.T) {
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        w.WriteHeader(http.StatusBadRequest)
        _, _ = w.Write([]byte(`{"status":0,"errors":["user identifier is invalid"]}`))
    }))
    defer server.Close()

    sink, err := NewPushoverSink(pushoverConfig(server.URL), server.Client())
    require.NoError(t, err)

    err = sink.Send(context.Background(), sampleRecord("d1"))
    require.Error(t, err)
    assert.Contains(t, err.Error(), "user identifier is invalid")
}

func TestPushoverSeverityFilter(t *testing.T) {
    called := false
    server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        called = true
        _, _ = w.Write([]byte(`{"status":1}`))
    }))
    defer server.Close()

    cfg := pushoverConfig(server.URL)
    cfg.OnlySeverity = []string{"critical"}
    sink, err := NewPushoverSink(cfg, server.Client())
    require.NoError(t, err)

    warning := sampleRecord("d1")
    warning.Severity = "warning"
    require.NoError(t, sink.Send(context.Background(), warning))
    assert.False(t, called)
}
