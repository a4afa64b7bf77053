package probe

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/uptimerhq/uptimer/internal/db"
)

// TCPExecutor probes TCP monitors by establishing a connection and closing
// it immediately. No payload is ever sent.
type TCPExecutor struct {
	policy TargetPolicy
}

func NewTCPExecutor(policy TargetPolicy) *TCPExecutor {
	return &TCPExecutor{policy: policy}
}

func (e *TCPExecutor) Probe(ctx context.Context, m db.Monitor) Outcome {
	cfg := m.Config
	if cfg.Host == "" || cfg.Port < 1 || cfg.Port > 65535 {
		return down(ErrBadConfig)
	}
	if err := e.policy.ValidateHost(cfg.Host); err != nil {
		return down(ErrBlockedTarget)
	}

	timeout := time.Duration(m.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dialer := &net.Dialer{Control: e.policy.DialControl}
	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))

	start := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return downWithLatency(classifyHTTPError(err), latency)
	}
	_ = conn.Close()
	return up(latency)
}
