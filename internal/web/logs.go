// internal/web/logs.go - Recent log lines over REST, a plain-text stream and the websocket hub
package web

import (
    "context"
    "fmt"
    "io"
    "net/http"
    "time"

    "github.com/gin-gonic/gin"
    "github.com/sirupsen/logrus"
)

const logLinesDefault = 100

// GET /api/logs
func (s *Server) getLogs(c *gin.Context) {
    lines := s.logs.Lines(queryInt(c, "limit", logLinesDefault))
    c.JSON(http.StatusOK, gin.H{
        "data":  lines,
        "count": len(lines),
    })
}

// GET /stream writes the buffered lines, then follows new ones until the
// client goes away or the server stops.
func (s *Server) streamLogs(c *gin.Context) {
    backlog, lines, stop := s.logs.Follow()
    defer stop()

    // The stream outlives the server write timeout.
    if err := http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{}); err != nil {
        logrus.WithError(err).Debug("Log stream is bound by the server write timeout")
    }

    c.Header("Content-Type", "text/plain; charset=utf-8")
    c.Header("Cache-Control", "no-cache")
    c.Header("X-Accel-Buffering", "no")
    c.Status(http.StatusOK)

    for _, line := range backlog {
        fmt.Fprintln(c.Writer, line.Raw)
    }
    c.Writer.Flush()

    ctx := c.Request.Context()
    c.Stream(func(w io.Writer) bool {
        select {
        case line := <-lines:
            fmt.Fprintln(w, line.Raw)
            return true
        case <-ctx.Done():
            return false
        case <-s.quit:
            return false
        }
    })
}

// forwardLogs pushes every new log line to websocket clients as a "log"
// message.
func (s *Server) forwardLogs(ctx context.Context) {
    _, lines, stop := s.logs.Follow()
    defer stop()

    for {
        select {
        case <-ctx.Done():
            return
        case <-s.quit:
            return
        case line := <-lines:
            if s.hub.size() > 0 {
                s.hub.broadcast(WSMessage{Type: "log", Data: line})
            }
        }
    }
}
