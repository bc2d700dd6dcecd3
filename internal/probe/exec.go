// internal/probe/exec.go - Pinger backed by the system ping binary
package probe

import (
    "context"
    "fmt"
    "math"
    "os/exec"
    "regexp"
    "strconv"
    "time"
)

var rttRegex = regexp.MustCompile(`time[=<]([\d.]+) ?ms`)

// ExecPinger shells out to ping(8) for hosts where ICMP sockets are not
// available to the process.
type ExecPinger struct {
    path string
}

func NewExecPinger(path string) *ExecPinger {
    if path == "" {
        path = "ping"
    }
    return &ExecPinger{path: path}
}

func (p *ExecPinger) Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
    if address == "" {
        return 0, fmt.Errorf("no address configured")
    }

    waitSecs := int(math.Ceil(timeout.Seconds()))
    if waitSecs < 1 {
        waitSecs = 1
    }

    // ping's own -W governs the reply wait; the context only guards a hung process.
    cmdCtx, cancel := context.WithTimeout(ctx, time.Duration(waitSecs)*time.Second+time.Second)
    defer cancel()

    cmd := exec.CommandContext(cmdCtx, p.path, "-n", "-c", "1", "-W", strconv.Itoa(waitSecs), address)
    output, err := cmd.Output()
    if err != nil {
        if ctx.Err() != nil {
            return 0, ctx.Err()
        }
        return 0, ErrTimeout
    }

    return parseRTT(string(output))
}

func parseRTT(output string) (time.Duration, error) {
    matches := rttRegex.FindStringSubmatch(output)
    if len(matches) < 2 {
        return 0, fmt.Errorf("no round-trip time in ping output")
    }

    ms, err := strconv.ParseFloat(matches[1], 64)
    if err != nil {
        return 0, fmt.Errorf("invalid round-trip time %q: %w", matches[1], err)
    }
    return time.Duration(math.Round(ms*1000)) * time.Microsecond, nil
}
