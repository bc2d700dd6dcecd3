// internal/monitoring/scheduler.go - Repeating cycle loop with bounded shutdown latency
package monitoring

import (
    "context"
    "fmt"
    "time"

    "github.com/sirupsen/logrus"
)

func (e *Engine) run(ctx context.Context, done chan struct{}) {
    defer func() {
        e.mu.Lock()
        e.running = false
        e.mu.Unlock()
        close(done)
        logrus.Info("Monitoring loop stopped")
    }()

    logrus.WithFields(logrus.Fields{
        "poll_interval": e.pollInterval,
        "cycle_backoff": e.cycleBackoff,
    }).Info("Monitoring loop started")

    for ctx.Err() == nil {
        next := e.runScheduledCycle(ctx)
        if !e.wait(ctx, next) {
            return
        }
    }
}

// runScheduledCycle runs one cycle and returns how long to wait before the
// next. Any failure, panics included, yields the fixed backoff.
func (e *Engine) runScheduledCycle(ctx context.Context) (next time.Duration) {
    start := time.Now()

    defer func() {
        if r := recover(); r != nil {
            logrus.WithField("panic", fmt.Sprint(r)).Error("Monitoring cycle panicked")
            e.metrics.RecordCycle("error", time.Since(start))
            next = e.cycleBackoff
        }
    }()

    if _, err := e.RunCycle(ctx); err != nil {
        if ctx.Err() != nil {
            return 0
        }
        logrus.WithError(err).WithField("backoff", e.cycleBackoff).Error("Monitoring cycle failed")
        e.metrics.RecordCycle("error", time.Since(start))
        return e.cycleBackoff
    }

    return e.settings.Get(ctx, false).CheckInterval
}

// wait sleeps for d in pollInterval slices and reports whether the loop
// should keep going.
func (e *Engine) wait(ctx context.Context, d time.Duration) bool {
    for d > 0 {
        step := e.pollInterval
        if d < step {
            step = d
        }

        timer := time.NewTimer(step)
        select {
        case <-ctx.Done():
            timer.Stop()
            return false
        case <-timer.C:
        }
        d -= step
    }
    return ctx.Err() == nil
}
