// internal/probe/icmp.go - ICMP echo pinger
package probe

import (
    "context"
    "fmt"
    "net"
    "os"
    "sync/atomic"
    "time"

    "golang.org/x/net/icmp"
    "golang.org/x/net/ipv4"
)

const protocolICMP = 1

var echoPayload = []byte("netwatch-probe")

// ICMPPinger sends one echo request per Ping. Unprivileged mode uses
// datagram ICMP sockets (net.ipv4.ping_group_range must allow the process);
// privileged mode uses raw sockets.
type ICMPPinger struct {
    privileged bool
    id         int
    seq        uint32
}

func NewICMPPinger(privileged bool) *ICMPPinger {
    return &ICMPPinger{
        privileged: privileged,
        id:         os.Getpid() & 0xffff,
    }
}

func (p *ICMPPinger) Ping(ctx context.Context, address string, timeout time.Duration) (time.Duration, error) {
    ip, err := resolveIPv4(ctx, address)
    if err != nil {
        return 0, err
    }

    network := "udp4"
    var dst net.Addr = &net.UDPAddr{IP: ip}
    if p.privileged {
        network = "ip4:icmp"
        dst = &net.IPAddr{IP: ip}
    }

    conn, err := icmp.ListenPacket(network, "0.0.0.0")
    if err != nil {
        return 0, fmt.Errorf("failed to open icmp socket: %w", err)
    }
    defer conn.Close()

    // Unblock the read if the caller gives up first.
    stop := make(chan struct{})
    defer close(stop)
    go func() {
        select {
        case <-ctx.Done():
            conn.Close()
        case <-stop:
        }
    }()

    seq := int(atomic.AddUint32(&p.seq, 1) & 0xffff)
    msg := icmp.Message{
        Type: ipv4.ICMPTypeEcho,
        Code: 0,
        Body: &icmp.Echo{ID: p.id, Seq: seq, Data: echoPayload},
    }
    wb, err := msg.Marshal(nil)
    if err != nil {
        return 0, fmt.Errorf("failed to marshal echo request: %w", err)
    }

    deadline := time.Now().Add(timeout)
    if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
        deadline = d
    }
    if err := conn.SetDeadline(deadline); err != nil {
        return 0, err
    }

    start := time.Now()
    if _, err := conn.WriteTo(wb, dst); err != nil {
        return 0, fmt.Errorf("failed to send echo request: %w", err)
    }

    rb := make([]byte, 1500)
    for {
        n, _, err := conn.ReadFrom(rb)
        if err != nil {
            if ctx.Err() != nil {
                return 0, ctx.Err()
            }
            if ne, ok := err.(net.Error); ok && ne.Timeout() {
                return 0, ErrTimeout
            }
            return 0, fmt.Errorf("failed to read echo reply: %w", err)
        }

        rm, err := icmp.ParseMessage(protocolICMP, rb[:n])
        if err != nil || rm.Type != ipv4.ICMPTypeEchoReply {
            continue
        }
        echo, ok := rm.Body.(*icmp.Echo)
        if !ok || echo.Seq != seq {
            continue
        }
        // The kernel rewrites the ID of datagram sockets.
        if p.privileged && echo.ID != p.id {
            continue
        }

        return time.Since(start), nil
    }
}

func resolveIPv4(ctx context.Context, address string) (net.IP, error) {
    if ip := net.ParseIP(address); ip != nil {
        if v4 := ip.To4(); v4 != nil {
            return v4, nil
        }
        return nil, fmt.Errorf("address %s is not IPv4", address)
    }

    addrs, err := net.DefaultResolver.LookupIPAddr(ctx, address)
    if err != nil {
        return nil, fmt.Errorf("failed to resolve %s: %w", address, err)
    }
    for _, a := range addrs {
        if v4 := a.IP.To4(); v4 != nil {
            return v4, nil
        }
    }
    return nil, fmt.Errorf("no IPv4 address for %s", address)
}
