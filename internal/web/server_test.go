package web

import (
    "bufio"
    "bytes"
    "context"
    "encoding/json"
    "net/http"
    "net/http/httptest"
    "path/filepath"
    "strings"
    "testing"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/gorilla/websocket"
    "github.com/prometheus/client_golang/prometheus"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "netwatch/internal/cache"
    "netwatch/internal/config"
    "netwatch/internal/database"
    "netwatch/internal/metrics"
    "netwatch/internal/monitoring"
    "netwatch/internal/probe"
    "netwatch/internal/settings"
)

type stubProber struct{}

func (stubProber) Probe(ctx context.Context, address string, opts probe.Options) probe.Result {
    return probe.Result{Online: true, Latencies: []time.Duration{time.Millisecond}}
}

type testServer struct {
    server *Server
    store  *database.BoltStore
    engine *monitoring.Engine
    logs   *cache.LogBuffer
}

func newTestServer(t *testing.T) *testServer {
    t.Helper()
    gin.SetMode(gin.TestMode)

    store, err := database.NewBoltStore(filepath.Join(t.TempDir(), "netwatch.db"))
    require.NoError(t, err)
    t.Cleanup(func() { store.Close() })

    registry := prometheus.NewRegistry()
    collector := metrics.NewCollector(registry, store)
    engine := monitoring.NewEngine(store, settings.NewCache(store), stubProber{}, monitoring.Options{Metrics: collector})

    cfg := &config.Config{
        Prometheus: config.PrometheusConfig{Enabled: true, MetricsPath: "/metrics"},
        Logging:    config.LoggingConfig{Level: "info"},
        Database:   config.DatabaseConfig{AlertRetention: 24 * time.Hour},
    }

    logs := cache.NewLogBuffer(50)
    server := NewServer(cfg, Dependencies{
        Store:    store,
        Engine:   engine,
        Metrics:  collector,
        Gatherer: registry,
        Logs:     logs,
    })
    return &testServer{server: server, store: store, engine: engine, logs: logs}
}

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
    t.Helper()
    var reader *bytes.Reader
    if body != nil {
        data, err := json.Marshal(body)
        require.NoError(t, err)
        reader = bytes.NewReader(data)
    } else {
        reader = bytes.NewReader(nil)
    }

    req := httptest.NewRequest(method, path, reader)
    req.Header.Set("Content-Type", "application/json")
    w := httptest.NewRecorder()
    ts.server.Handler().ServeHTTP(w, req)
    return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
    t.Helper()
    var out map[string]interface{}
    require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
    return out
}

func (ts *testServer) createDevice(t *testing.T, name, address string) *database.Device {
    t.Helper()
    device := &database.Device{Name: name, Address: address}
    require.NoError(t, ts.store.CreateDevice(context.Background(), device))
    return device
}

func TestHealthAndVersion(t *testing.T) {
    ts := newTestServer(t)

    w := ts.do(t, http.MethodGet, "/api/health", nil)
    require.Equal(t, http.StatusOK, w.Code)
    assert.Equal(t, "healthy", decode(t, w)["status"])

    w = ts.do(t, http.MethodGet, "/api/version", nil)
    require.Equal(t, http.StatusOK, w.Code)
    data := decode(t, w)["data"].(map[string]interface{})
    assert.Equal(t, Version, data["version"])
}

func TestDeviceCRUD(t *testing.T) {
    ts := newTestServer(t)

    w := ts.do(t, http.MethodPost, "/api/devices", DeviceRequest{Name: "router", Address: "10.0.0.1"})
    require.Equal(t, http.StatusCreated, w.Code)
    created := decode(t, w)["data"].(map[string]interface{})
    id := created["id"].(string)
    assert.Equal(t, "host", created["type"])
    assert.Equal(t, database.StatusUnknown, created["status"])

    w = ts.do(t, http.MethodPost, "/api/devices", DeviceRequest{Name: "dup", Address: "10.0.0.1"})
    assert.Equal(t, http.StatusConflict, w.Code)

    w = ts.do(t, http.MethodPost, "/api/devices", map[string]string{"address": "10.0.0.9"})
    assert.Equal(t, http.StatusBadRequest, w.Code)

    w = ts.do(t, http.MethodPut, "/api/devices/"+id, DeviceRequest{Name: "core-router", Address: "10.0.0.1", Owner: "netops"})
    require.Equal(t, http.StatusOK, w.Code)

    w = ts.do(t, http.MethodGet, "/api/devices/"+id, nil)
    require.Equal(t, http.StatusOK, w.Code)
    got := decode(t, w)["data"].(map[string]interface{})
    assert.Equal(t, "core-router", got["name"])
    assert.Equal(t, "netops", got["owner"])

    w = ts.do(t, http.MethodGet, "/api/devices", nil)
    assert.Equal(t, float64(1), decode(t, w)["count"])

    w = ts.do(t, http.MethodDelete, "/api/devices/"+id, nil)
    require.Equal(t, http.StatusOK, w.Code)

    w = ts.do(t, http.MethodGet, "/api/devices/"+id, nil)
    assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUpdateSettings(t *testing.T) {
    ts := newTestServer(t)
    ts.engine.LoadSettings(context.Background(), true) // seeds defaults

    w := ts.do(t, http.MethodPost, "/api/settings", map[string]string{settings.KeyPingCount: "zero"})
    assert.Equal(t, http.StatusBadRequest, w.Code)

    w = ts.do(t, http.MethodPost, "/api/settings", map[string]string{"colour": "blue"})
    assert.Equal(t, http.StatusBadRequest, w.Code)

    w = ts.do(t, http.MethodPost, "/api/settings", map[string]string{
        settings.KeyPingCount:     "6",
        settings.KeyParallelPings: "false",
    })
    require.Equal(t, http.StatusOK, w.Code)

    snap := ts.engine.LoadSettings(context.Background(), false)
    assert.Equal(t, 6, snap.PingCount)
    assert.False(t, snap.ParallelPings)

    w = ts.do(t, http.MethodGet, "/api/settings", nil)
    require.Equal(t, http.StatusOK, w.Code)
    rows := decode(t, w)["data"].([]interface{})
    assert.Len(t, rows, len(settings.Defaults))
}

func TestAlertEndpoints(t *testing.T) {
    ts := newTestServer(t)
    ctx := context.Background()
    device := ts.createDevice(t, "router", "10.0.0.1")

    alert, created, err := ts.engine.CreateAlert(ctx, device, database.SeverityCritical, monitoring.AlertTypeConnectivity, "router (10.0.0.1) is offline", "")
    require.NoError(t, err)
    require.True(t, created)

    w := ts.do(t, http.MethodGet, "/api/alerts?status=active&device_id="+device.ID, nil)
    require.Equal(t, http.StatusOK, w.Code)
    assert.Equal(t, float64(1), decode(t, w)["count"])

    w = ts.do(t, http.MethodGet, "/api/alerts/summary", nil)
    summary := decode(t, w)["data"].(map[string]interface{})
    assert.Equal(t, float64(1), summary["critical"])
    assert.Equal(t, float64(1), summary["total"])

    w = ts.do(t, http.MethodGet, "/api/alerts/latest?limit=5", nil)
    assert.Equal(t, float64(1), decode(t, w)["count"])

    w = ts.do(t, http.MethodGet, "/api/alerts/"+alert.ID, nil)
    require.Equal(t, http.StatusOK, w.Code)

    w = ts.do(t, http.MethodPut, "/api/alerts/"+alert.ID+"/acknowledge", nil)
    require.Equal(t, http.StatusOK, w.Code)

    w = ts.do(t, http.MethodPut, "/api/alerts/"+alert.ID+"/acknowledge", nil)
    assert.Equal(t, http.StatusConflict, w.Code)

    w = ts.do(t, http.MethodPut, "/api/alerts/"+alert.ID+"/resolve", nil)
    require.Equal(t, http.StatusOK, w.Code)
    resolved := decode(t, w)["data"].(map[string]interface{})
    assert.Equal(t, database.AlertResolved, resolved["status"])

    w = ts.do(t, http.MethodPut, "/api/alerts/missing/resolve", nil)
    assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStatusCounts(t *testing.T) {
    ts := newTestServer(t)
    ctx := context.Background()

    online := ts.createDevice(t, "a", "10.0.0.1")
    online.Status = database.StatusOnline
    require.NoError(t, ts.store.SaveDevice(ctx, online))
    offline := ts.createDevice(t, "b", "10.0.0.2")
    offline.Status = database.StatusOffline
    require.NoError(t, ts.store.SaveDevice(ctx, offline))
    ts.createDevice(t, "c", "10.0.0.3")

    w := ts.do(t, http.MethodGet, "/api/status", nil)
    require.Equal(t, http.StatusOK, w.Code)
    data := decode(t, w)["data"].(map[string]interface{})
    assert.Equal(t, float64(3), data["total"])
    assert.Equal(t, float64(1), data["online"])
    assert.Equal(t, float64(1), data["offline"])
    assert.Equal(t, float64(1), data["unknown"])
}

func TestDeviceHistoryAfterCycle(t *testing.T) {
    ts := newTestServer(t)
    device := ts.createDevice(t, "router", "10.0.0.1")

    _, err := ts.engine.RunCycle(context.Background())
    require.NoError(t, err)

    w := ts.do(t, http.MethodGet, "/api/devices/"+device.ID+"/history", nil)
    require.Equal(t, http.StatusOK, w.Code)
    data := decode(t, w)["data"].(map[string]interface{})
    assert.Equal(t, []interface{}{float64(0)}, data["packet_loss"])
    assert.Len(t, data["latency"], 1)
}

func TestAdminEndpoints(t *testing.T) {
    ts := newTestServer(t)

    w := ts.do(t, http.MethodPost, "/api/admin/purge", nil)
    require.Equal(t, http.StatusOK, w.Code)

    w = ts.do(t, http.MethodGet, "/api/admin/stats", nil)
    require.Equal(t, http.StatusOK, w.Code)
    data := decode(t, w)["data"].(map[string]interface{})
    assert.Contains(t, data, "database")
    assert.NotContains(t, data, "notifications")

    w = ts.do(t, http.MethodPost, "/api/admin/notifications/test", nil)
    assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestMetricsEndpoint(t *testing.T) {
    ts := newTestServer(t)
    ts.createDevice(t, "router", "10.0.0.1")
    _, err := ts.engine.RunCycle(context.Background())
    require.NoError(t, err)

    w := ts.do(t, http.MethodGet, "/metrics", nil)
    require.Equal(t, http.StatusOK, w.Code)
    assert.Contains(t, w.Body.String(), "netwatch_device_status")
}

func TestWebSocketGreetsWithAlerts(t *testing.T) {
    ts := newTestServer(t)
    httpServer := httptest.NewServer(ts.server.Handler())
    defer httpServer.Close()

    url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
    conn, _, err := websocket.DefaultDialer.Dial(url, nil)
    require.NoError(t, err)
    defer conn.Close()

    require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
    var msg WSMessage
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "alerts", msg.Type)

    require.Eventually(t, func() bool { return ts.server.hub.size() == 1 }, time.Second, 10*time.Millisecond)

    ts.server.publishSnapshot(context.Background())
    for _, want := range []string{"alerts", "status"} {
        require.NoError(t, conn.ReadJSON(&msg))
        assert.Equal(t, want, msg.Type)
    }
}

func TestWebSocketRefusedAfterShutdown(t *testing.T) {
    ts := newTestServer(t)
    httpServer := httptest.NewServer(ts.server.Handler())
    defer httpServer.Close()

    require.NoError(t, ts.server.Stop(context.Background()))

    url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
    conn, _, err := websocket.DefaultDialer.Dial(url, nil)
    require.NoError(t, err)
    defer conn.Close()

    require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
    var msg WSMessage
    err = conn.ReadJSON(&msg)
    require.Error(t, err)
    assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
    assert.Zero(t, ts.server.hub.size())
}

func TestHubRejectsClientsOnceClosed(t *testing.T) {
    h := newHub(nil)
    open := &WSClient{send: make(chan WSMessage, 1), hub: h}
    require.True(t, h.register(open))

    h.closeAll()
    _, ok := <-open.send
    assert.False(t, ok, "send of a registered client is closed")

    late := &WSClient{send: make(chan WSMessage, 1), hub: h}
    late.send <- WSMessage{Type: "alerts"}
    assert.False(t, h.register(late))
    assert.Zero(t, h.size())

    // The queued greeting is still readable; nothing closed the channel.
    msg := <-late.send
    assert.Equal(t, "alerts", msg.Type)
}

func TestGetLogs(t *testing.T) {
    ts := newTestServer(t)
    for _, m := range []string{"first", "second", "third"} {
        ts.logs.Append(cache.LogLine{Level: "info", Message: m, Raw: "level=info msg=" + m})
    }

    w := ts.do(t, http.MethodGet, "/api/logs", nil)
    require.Equal(t, http.StatusOK, w.Code)
    body := decode(t, w)
    assert.Equal(t, float64(3), body["count"])

    w = ts.do(t, http.MethodGet, "/api/logs?limit=2", nil)
    require.Equal(t, http.StatusOK, w.Code)
    data := decode(t, w)["data"].([]interface{})
    require.Len(t, data, 2)
    assert.Equal(t, "second", data[0].(map[string]interface{})["message"])
    assert.Equal(t, "third", data[1].(map[string]interface{})["message"])
}

func TestStreamSendsBacklogThenFollows(t *testing.T) {
    ts := newTestServer(t)
    ts.logs.Append(cache.LogLine{Raw: "level=info msg=starting"})
    ts.logs.Append(cache.LogLine{Raw: "level=info msg=ready"})

    httpServer := httptest.NewServer(ts.server.Handler())
    defer httpServer.Close()

    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    req, err := http.NewRequestWithContext(ctx, http.MethodGet, httpServer.URL+"/stream", nil)
    require.NoError(t, err)
    resp, err := http.DefaultClient.Do(req)
    require.NoError(t, err)
    defer resp.Body.Close()
    require.Equal(t, http.StatusOK, resp.StatusCode)
    assert.Contains(t, resp.Header.Get("Content-Type"), "text/plain")

    lines := make(chan string, 10)
    go func() {
        scanner := bufio.NewScanner(resp.Body)
        for scanner.Scan() {
            lines <- scanner.Text()
        }
        close(lines)
    }()

    next := func() string {
        t.Helper()
        select {
        case line := <-lines:
            return line
        case <-time.After(2 * time.Second):
            t.Fatal("no line received from the stream")
            return ""
        }
    }

    assert.Equal(t, "level=info msg=starting", next())
    assert.Equal(t, "level=info msg=ready", next())

    ts.logs.Append(cache.LogLine{Raw: "level=warning msg=\"router offline\""})
    assert.Equal(t, `level=warning msg="router offline"`, next())

    cancel()
    require.Eventually(t, func() bool { return ts.logs.Followers() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestLogLinesForwardedToWebSocket(t *testing.T) {
    ts := newTestServer(t)
    ctx, cancel := context.WithCancel(context.Background())
    defer cancel()
    go ts.server.forwardLogs(ctx)
    require.Eventually(t, func() bool { return ts.logs.Followers() == 1 }, time.Second, 10*time.Millisecond)

    httpServer := httptest.NewServer(ts.server.Handler())
    defer httpServer.Close()

    url := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
    conn, _, err := websocket.DefaultDialer.Dial(url, nil)
    require.NoError(t, err)
    defer conn.Close()

    require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
    var greeting WSMessage
    require.NoError(t, conn.ReadJSON(&greeting))
    require.Equal(t, "alerts", greeting.Type)

    ts.logs.Append(cache.LogLine{Level: "error", Message: "disk full", Raw: "level=error msg=\"disk full\""})

    var msg struct {
        Type string        `json:"type"`
        Data cache.LogLine `json:"data"`
    }
    require.NoError(t, conn.ReadJSON(&msg))
    assert.Equal(t, "log", msg.Type)
    assert.Equal(t, "disk full", msg.Data.Message)
    assert.Equal(t, "error", msg.Data.Level)
}
