// internal/monitoring/fanout.go - Runs the prober across every device of a cycle
package monitoring

import (
    "context"
    "fmt"
    "sync/atomic"
    "time"

    "github.com/sirupsen/logrus"

    "netwatch/internal/database"
    "netwatch/internal/probe"
    "netwatch/internal/settings"
)

// CycleReport summarises one pass over all registered devices.
type CycleReport struct {
    Cycle    uint64          `json:"cycle"`
    Parallel bool            `json:"parallel"`
    Devices  int             `json:"devices"`
    Checked  int             `json:"checked"`
    Online   int             `json:"online"`
    Offline  int             `json:"offline"`
    Failures []DeviceFailure `json:"failures,omitempty"`
    Duration time.Duration   `json:"duration"`
}

type DeviceFailure struct {
    DeviceID string `json:"device_id"`
    Device   string `json:"device"`
    Error    string `json:"error"`
}

type deviceOutcome struct {
    device *database.Device
    err    error
}

// RunCycle probes every registered device once and applies the results.
// Only failing to load the device list is returned as an error; per-device
// failures are collected in the report.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
    start := time.Now()
    snap := e.settings.Get(ctx, false)

    devices, err := e.store.ListDevices(ctx)
    if err != nil {
        return nil, fmt.Errorf("failed to load devices: %w", err)
    }

    report := &CycleReport{
        Cycle:    atomic.AddUint64(&e.cycles, 1),
        Parallel: snap.ParallelPings,
        Devices:  len(devices),
    }

    if swept := e.status.Sweep(snap.CacheTTL); swept > 0 {
        logrus.WithField("entries", swept).Debug("Evicted stale status cache entries")
    }

    if len(devices) == 0 {
        logrus.WithField("cycle", report.Cycle).Info("No devices registered, nothing to probe")
        report.Duration = time.Since(start)
        e.metrics.RecordCycle("empty", report.Duration)
        return report, nil
    }

    var outcomes []deviceOutcome
    if snap.ParallelPings {
        outcomes = e.runParallel(ctx, devices, snap)
    } else {
        outcomes = e.runSequential(ctx, devices, snap)
    }

    for _, out := range outcomes {
        if out.err != nil {
            report.Failures = append(report.Failures, DeviceFailure{
                DeviceID: out.device.ID,
                Device:   out.device.Name,
                Error:    out.err.Error(),
            })
            continue
        }
        report.Checked++
        if out.device.Status == database.StatusOnline {
            report.Online++
        } else {
            report.Offline++
        }
    }

    if err := e.metrics.UpdateSystemMetrics(ctx); err != nil {
        logrus.WithError(err).Warn("Failed to refresh device metrics")
    }

    report.Duration = time.Since(start)
    e.metrics.RecordCycle("success", report.Duration)

    logrus.WithFields(logrus.Fields{
        "cycle":    report.Cycle,
        "devices":  report.Devices,
        "online":   report.Online,
        "offline":  report.Offline,
        "failures": len(report.Failures),
        "parallel": report.Parallel,
        "duration": report.Duration,
    }).Info("Monitoring cycle completed")

    return report, nil
}

// runSequential checks devices in registration order.
func (e *Engine) runSequential(ctx context.Context, devices []database.Device, snap settings.Snapshot) []deviceOutcome {
    outcomes := make([]deviceOutcome, 0, len(devices))
    for i := range devices {
        if ctx.Err() != nil {
            logrus.WithField("remaining", len(devices)-i).Debug("Cycle cancelled, skipping remaining devices")
            break
        }
        outcomes = append(outcomes, e.checkDevice(ctx, devices[i], snap))
    }
    return outcomes
}

// runParallel feeds devices to a pool of min(len(devices), maxWorkers)
// workers and gathers outcomes in completion order.
func (e *Engine) runParallel(ctx context.Context, devices []database.Device, snap settings.Snapshot) []deviceOutcome {
    workerCount := e.maxWorkers
    if len(devices) < workerCount {
        workerCount = len(devices)
    }

    jobs := make(chan database.Device)
    results := make(chan deviceOutcome, len(devices))

    for i := 0; i < workerCount; i++ {
        go func() {
            for device := range jobs {
                results <- e.checkDevice(ctx, device, snap)
            }
        }()
    }

    submitted := 0
    for _, device := range devices {
        if ctx.Err() != nil {
            break
        }
        jobs <- device
        submitted++
    }
    close(jobs)

    outcomes := make([]deviceOutcome, 0, submitted)
    for i := 0; i < submitted; i++ {
        outcomes = append(outcomes, <-results)
    }
    return outcomes
}

// checkDevice probes one device and applies the result. A panic is turned
// into a failure for this device only.
func (e *Engine) checkDevice(ctx context.Context, device database.Device, snap settings.Snapshot) (out deviceOutcome) {
    out.device = &device

    defer func() {
        if r := recover(); r != nil {
            out.err = fmt.Errorf("panic while checking device: %v", r)
            logrus.WithFields(logrus.Fields{
                "device_id": device.ID,
                "device":    device.Name,
            }).Error(out.err)
        }
    }()

    start := time.Now()
    result := e.prober.Probe(ctx, device.Address, probe.Options{
        Timeout:       snap.PingTimeout,
        Samples:       snap.PingCount,
        MaxRetries:    snap.MaxRetries,
        RetryInterval: snap.RetryInterval,
    })
    if result.Err != nil {
        out.err = fmt.Errorf("probe interrupted: %w", result.Err)
        return out
    }
    e.metrics.RecordProbe(device.ID, device.Name, result.Online, result.LossPct, result.JitterMs, time.Since(start))

    updated, err := e.Update(ctx, device, result, snap)
    if err != nil {
        out.err = err
        return out
    }
    out.device = updated
    return out
}
