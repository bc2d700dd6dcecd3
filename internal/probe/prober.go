// internal/probe/prober.go - Sampling, loss/jitter reduction and the liveness retry path
package probe

import (
    "context"
    "errors"
    "math"
    "time"

    "github.com/sirupsen/logrus"
)

// DegradedLossPct is reported when a device only answered during the retry
// path. It marks the device as flaky rather than measuring it.
const DegradedLossPct = 75.0

// ErrTimeout is returned by a Pinger when no reply arrived in time.
var ErrTimeout = errors.New("probe timed out")

// Pinger performs a single reachability check.
type Pinger interface {
    Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error)
}

// Options controls one Probe call.
type Options struct {
    Timeout       time.Duration
    Samples       int
    MaxRetries    int
    RetryInterval time.Duration
}

// Result is the reduction of one device's samples.
type Result struct {
    Online    bool
    Latencies []time.Duration
    LossPct   float64
    JitterMs  float64
    Retries   int
    Err       error
}

// AvgLatencyMs returns the mean successful latency in milliseconds.
func (r Result) AvgLatencyMs() float64 {
    if len(r.Latencies) == 0 {
        return 0
    }
    var sum float64
    for _, l := range r.Latencies {
        sum += toMs(l)
    }
    return sum / float64(len(r.Latencies))
}

type Prober struct {
    pinger Pinger
    sleep  func(ctx context.Context, d time.Duration) error
}

func NewProber(pinger Pinger) *Prober {
    return &Prober{pinger: pinger, sleep: sleepContext}
}

// Probe sends opts.Samples echo requests. When none succeed it falls back to
// up to opts.MaxRetries-1 single attempts spaced by opts.RetryInterval.
func (p *Prober) Probe(ctx context.Context, address string, opts Options) Result {
    samples := opts.Samples
    if samples < 1 {
        samples = 1
    }

    var latencies []time.Duration
    for i := 0; i < samples; i++ {
        if err := ctx.Err(); err != nil {
            return Result{LossPct: 100, Err: err}
        }
        latency, err := p.pinger.Ping(ctx, address, opts.Timeout)
        if err != nil {
            p.logMiss(address, err)
            continue
        }
        latencies = append(latencies, latency)
    }

    if len(latencies) > 0 {
        return Result{
            Online:    true,
            Latencies: latencies,
            LossPct:   LossPct(samples, len(latencies)),
            JitterMs:  Jitter(latencies),
        }
    }

    return p.retry(ctx, address, opts)
}

func (p *Prober) retry(ctx context.Context, address string, opts Options) Result {
    attempts := 0
    for attempt := 1; attempt < opts.MaxRetries; attempt++ {
        if err := p.sleep(ctx, opts.RetryInterval); err != nil {
            return Result{LossPct: 100, Retries: attempts, Err: err}
        }
        attempts++

        logrus.WithFields(logrus.Fields{
            "address": address,
            "attempt": attempt,
        }).Debug("Device not answering, retrying")

        latency, err := p.pinger.Ping(ctx, address, opts.Timeout)
        if err != nil {
            p.logMiss(address, err)
            continue
        }

        return Result{
            Online:    true,
            Latencies: []time.Duration{latency},
            LossPct:   DegradedLossPct,
            JitterMs:  0,
            Retries:   attempts,
        }
    }

    return Result{Online: false, LossPct: 100, JitterMs: 0, Retries: attempts}
}

func (p *Prober) logMiss(address string, err error) {
    if errors.Is(err, ErrTimeout) {
        return
    }
    logrus.WithError(err).WithField("address", address).Debug("Probe failed")
}

// LossPct is (samples - successes) * (100 / samples).
func LossPct(samples, successes int) float64 {
    if samples <= 0 {
        return 100
    }
    return float64(samples-successes) * (100 / float64(samples))
}

// Jitter is the population standard deviation of latencies in milliseconds,
// zero with fewer than two samples.
func Jitter(latencies []time.Duration) float64 {
    if len(latencies) < 2 {
        return 0
    }

    var mean float64
    for _, l := range latencies {
        mean += toMs(l)
    }
    mean /= float64(len(latencies))

    var variance float64
    for _, l := range latencies {
        d := toMs(l) - mean
        variance += d * d
    }
    variance /= float64(len(latencies))

    return math.Sqrt(variance)
}

func toMs(d time.Duration) float64 {
    return float64(d) / float64(time.Millisecond)
}

func sleepContext(ctx context.Context, d time.Duration) error {
    if d <= 0 {
        return ctx.Err()
    }
    timer := time.NewTimer(d)
    defer timer.Stop()

    select {
    case <-ctx.Done():
        return ctx.Err()
    case <-timer.C:
        return nil
    }
}
