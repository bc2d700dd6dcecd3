// internal/metrics/prometheus.go
package metrics

import (
    "context"
    "time"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/promauto"

    "netwatch/internal/database"
)

// Collector owns every netwatch metric. All methods are safe on a nil
// receiver so callers can run without metrics.
type Collector struct {
    store database.Store

    deviceStatus   *prometheus.GaugeVec
    packetLoss     *prometheus.GaugeVec
    jitter         *prometheus.GaugeVec
    probeDuration  *prometheus.HistogramVec
    cyclesTotal    *prometheus.CounterVec
    cycleDuration  prometheus.Histogram
    alertsTotal    *prometheus.CounterVec
    alertsResolved prometheus.Counter
    notifyDropped  prometheus.Counter
    wsConnections  prometheus.Gauge
    activeDevices  prometheus.Gauge
    databaseOps    *prometheus.CounterVec
}

// NewCollector registers the metrics with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func NewCollector(reg prometheus.Registerer, store database.Store) *Collector {
    factory := promauto.With(reg)

    return &Collector{
        store: store,

        deviceStatus: factory.NewGaugeVec(
            prometheus.GaugeOpts{
                Name: "netwatch_device_status",
                Help: "Current device status (0=offline, 1=online)",
            },
            []string{"device_id", "device"},
        ),
        packetLoss: factory.NewGaugeVec(
            prometheus.GaugeOpts{
                Name: "netwatch_packet_loss_percent",
                Help: "Packet loss measured in the last cycle",
            },
            []string{"device_id", "device"},
        ),
        jitter: factory.NewGaugeVec(
            prometheus.GaugeOpts{
                Name: "netwatch_jitter_ms",
                Help: "Latency standard deviation measured in the last cycle",
            },
            []string{"device_id", "device"},
        ),
        probeDuration: factory.NewHistogramVec(
            prometheus.HistogramOpts{
                Name:    "netwatch_probe_duration_seconds",
                Help:    "Time spent probing one device, retries included",
                Buckets: prometheus.DefBuckets,
            },
            []string{"status"},
        ),
        cyclesTotal: factory.NewCounterVec(
            prometheus.CounterOpts{
                Name: "netwatch_cycles_total",
                Help: "Monitoring cycles run, by result",
            },
            []string{"result"},
        ),
        cycleDuration: factory.NewHistogram(
            prometheus.HistogramOpts{
                Name:    "netwatch_cycle_duration_seconds",
                Help:    "Wall time of a full monitoring cycle",
                Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
            },
        ),
        alertsTotal: factory.NewCounterVec(
            prometheus.CounterOpts{
                Name: "netwatch_alerts_total",
                Help: "Alerts created",
            },
            []string{"severity", "type"},
        ),
        alertsResolved: factory.NewCounter(
            prometheus.CounterOpts{
                Name: "netwatch_alerts_resolved_total",
                Help: "Alerts resolved automatically",
            },
        ),
        notifyDropped: factory.NewCounter(
            prometheus.CounterOpts{
                Name: "netwatch_notifications_dropped_total",
                Help: "Notifications dropped because the dispatcher was saturated",
            },
        ),
        wsConnections: factory.NewGauge(
            prometheus.GaugeOpts{
                Name: "netwatch_websocket_connections_active",
                Help: "Number of active WebSocket connections",
            },
        ),
        activeDevices: factory.NewGauge(
            prometheus.GaugeOpts{
                Name: "netwatch_active_devices_total",
                Help: "Number of registered devices",
            },
        ),
        databaseOps: factory.NewCounterVec(
            prometheus.CounterOpts{
                Name: "netwatch_database_operations_total",
                Help: "Database operations performed by the metrics refresher",
            },
            []string{"operation", "status"},
        ),
    }
}

func (c *Collector) RecordProbe(deviceID, device string, online bool, lossPct, jitterMs float64, duration time.Duration) {
    if c == nil {
        return
    }
    status := "offline"
    value := 0.0
    if online {
        status = "online"
        value = 1
    }
    c.deviceStatus.WithLabelValues(deviceID, device).Set(value)
    c.packetLoss.WithLabelValues(deviceID, device).Set(lossPct)
    c.jitter.WithLabelValues(deviceID, device).Set(jitterMs)
    c.probeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// ForgetDevice drops the per-device series of a removed device.
func (c *Collector) ForgetDevice(deviceID, device string) {
    if c == nil {
        return
    }
    c.deviceStatus.DeleteLabelValues(deviceID, device)
    c.packetLoss.DeleteLabelValues(deviceID, device)
    c.jitter.DeleteLabelValues(deviceID, device)
}

func (c *Collector) RecordCycle(result string, duration time.Duration) {
    if c == nil {
        return
    }
    c.cyclesTotal.WithLabelValues(result).Inc()
    c.cycleDuration.Observe(duration.Seconds())
}

func (c *Collector) RecordAlert(severity, alertType string) {
    if c == nil {
        return
    }
    c.alertsTotal.WithLabelValues(severity, alertType).Inc()
}

func (c *Collector) RecordAlertsResolved(n int) {
    if c == nil || n <= 0 {
        return
    }
    c.alertsResolved.Add(float64(n))
}

func (c *Collector) RecordNotificationDropped() {
    if c == nil {
        return
    }
    c.notifyDropped.Inc()
}

func (c *Collector) RecordWebSocketConnection(delta int) {
    if c == nil {
        return
    }
    c.wsConnections.Add(float64(delta))
}

// UpdateSystemMetrics refreshes gauges derived from the store.
func (c *Collector) UpdateSystemMetrics(ctx context.Context) error {
    if c == nil || c.store == nil {
        return nil
    }

    devices, err := c.store.ListDevices(ctx)
    if err != nil {
        c.databaseOps.WithLabelValues("list_devices", "error").Inc()
        return err
    }
    c.databaseOps.WithLabelValues("list_devices", "success").Inc()
    c.activeDevices.Set(float64(len(devices)))

    return nil
}
