package probe

import (
    "context"
    "errors"
    "sync"
    "testing"
    "time"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

// scriptedPinger replays a fixed sequence of outcomes; a zero duration
// means a lost reply.
type scriptedPinger struct {
    mu      sync.Mutex
    replies []time.Duration
    calls   int
}

func (s *scriptedPinger) Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
    s.mu.Lock()
    defer s.mu.Unlock()
    i := s.calls
    s.calls++
    if i >= len(s.replies) || s.replies[i] == 0 {
        return 0, ErrTimeout
    }
    return s.replies[i], nil
}

func newTestProber(p Pinger) (*Prober, *[]time.Duration) {
    var slept []time.Duration
    prober := NewProber(p)
    prober.sleep = func(ctx context.Context, d time.Duration) error {
        slept = append(slept, d)
        return ctx.Err()
    }
    return prober, &slept
}

func ms(n float64) time.Duration {
    return time.Duration(n * float64(time.Millisecond))
}

var defaultOpts = Options{
    Timeout:       time.Second,
    Samples:       4,
    MaxRetries:    3,
    RetryInterval: 5 * time.Second,
}

func TestProbeAllReplies(t *testing.T) {
    pinger := &scriptedPinger{replies: []time.Duration{ms(10), ms(12), ms(11), ms(13)}}
    prober, slept := newTestProber(pinger)

    res := prober.Probe(context.Background(), "192.0.2.1", defaultOpts)

    assert.True(t, res.Online)
    assert.Equal(t, 0.0, res.LossPct)
    assert.InDelta(t, 1.118, res.JitterMs, 0.001)
    assert.InDelta(t, 11.5, res.AvgLatencyMs(), 0.001)
    assert.Equal(t, 0, res.Retries)
    assert.Empty(t, *slept)
    assert.Equal(t, 4, pinger.calls)
}

func TestProbePartialLoss(t *testing.T) {
    pinger := &scriptedPinger{replies: []time.Duration{ms(10), 0, ms(12), 0}}
    prober, _ := newTestProber(pinger)

    res := prober.Probe(context.Background(), "192.0.2.1", defaultOpts)

    assert.True(t, res.Online)
    assert.Equal(t, 50.0, res.LossPct)
    assert.InDelta(t, 1.0, res.JitterMs, 0.001)
    assert.Len(t, res.Latencies, 2)
}

func TestProbeSingleReplyHasNoJitter(t *testing.T) {
    pinger := &scriptedPinger{replies: []time.Duration{0, 0, ms(30), 0}}
    prober, _ := newTestProber(pinger)

    res := prober.Probe(context.Background(), "192.0.2.1", defaultOpts)

    assert.True(t, res.Online)
    assert.Equal(t, 75.0, res.LossPct)
    assert.Equal(t, 0.0, res.JitterMs)
}

func TestProbeRecoversDuringRetry(t *testing.T) {
    // Four lost samples, first retry lost, second retry answers.
    pinger := &scriptedPinger{replies: []time.Duration{0, 0, 0, 0, 0, ms(20)}}
    prober, slept := newTestProber(pinger)

    res := prober.Probe(context.Background(), "192.0.2.1", defaultOpts)

    assert.True(t, res.Online)
    assert.Equal(t, DegradedLossPct, res.LossPct)
    assert.Equal(t, 0.0, res.JitterMs)
    assert.Equal(t, 2, res.Retries)
    assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, *slept)
}

func TestProbeOffline(t *testing.T) {
    pinger := &scriptedPinger{}
    prober, slept := newTestProber(pinger)

    res := prober.Probe(context.Background(), "192.0.2.1", defaultOpts)

    assert.False(t, res.Online)
    assert.Equal(t, 100.0, res.LossPct)
    assert.Equal(t, 0.0, res.JitterMs)
    assert.NoError(t, res.Err)
    assert.Len(t, *slept, 2)
    assert.Equal(t, 6, pinger.calls, "4 samples plus max_retries-1 retries")
}

func TestProbeSingleRetryBudgetSkipsRetries(t *testing.T) {
    pinger := &scriptedPinger{}
    prober, slept := newTestProber(pinger)

    opts := defaultOpts
    opts.MaxRetries = 1
    res := prober.Probe(context.Background(), "192.0.2.1", opts)

    assert.False(t, res.Online)
    assert.Empty(t, *slept)
    assert.Equal(t, 4, pinger.calls)
}

func TestProbeCancelled(t *testing.T) {
    ctx, cancel := context.WithCancel(context.Background())
    cancel()

    prober, _ := newTestProber(&scriptedPinger{})
    res := prober.Probe(ctx, "192.0.2.1", defaultOpts)

    require.Error(t, res.Err)
    assert.True(t, errors.Is(res.Err, context.Canceled))
    assert.False(t, res.Online)
}

func TestLossPct(t *testing.T) {
    assert.Equal(t, 0.0, LossPct(4, 4))
    assert.Equal(t, 25.0, LossPct(4, 3))
    assert.Equal(t, 100.0, LossPct(4, 0))
    assert.Equal(t, 100.0, LossPct(0, 0))
}

func TestJitter(t *testing.T) {
    assert.Equal(t, 0.0, Jitter(nil))
    assert.Equal(t, 0.0, Jitter([]time.Duration{ms(5)}))
    assert.Equal(t, 0.0, Jitter([]time.Duration{ms(5), ms(5), ms(5)}))
    assert.InDelta(t, 2.0, Jitter([]time.Duration{ms(2), ms(4), ms(4), ms(4), ms(5), ms(5), ms(7), ms(9)}), 0.0001)
}

func TestParseRTT(t *testing.T) {
    out := "PING 192.0.2.1 (192.0.2.1) 56(84) bytes of data.\n64 bytes from 192.0.2.1: icmp_seq=1 ttl=64 time=0.524 ms\n"
    d, err := parseRTT(out)
    require.NoError(t, err)
    assert.Equal(t, 524*time.Microsecond, d)

    d, err = parseRTT("64 bytes from 10.0.0.1: icmp_seq=1 ttl=64 time<1 ms")
    require.NoError(t, err)
    assert.Equal(t, time.Millisecond, d)

    _, err = parseRTT("100% packet loss")
    assert.Error(t, err)
}
