package probe

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/uptimerhq/uptimer/internal/db"
)

func tcpMonitor(host string, port int) db.Monitor {
	return db.Monitor{
		ID: "m1", Name: "tcp", Type: db.MonitorTypeTCP, Active: true,
		IntervalSec: 60, TimeoutMs: 1000,
		Config: db.MonitorConfig{Host: host, Port: port},
	}
}

func TestTCPProbeUp(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	defer func() { _ = ln.Close() }()

	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	exec := NewTCPExecutor(TargetPolicy{AllowPrivate: true})
	out := exec.Probe(context.Background(), tcpMonitor(host, port))
	if out.Status != OutcomeUp {
		t.Fatalf("expected up, got %s (%s)", out.Status, out.Error)
	}
}

func TestTCPProbeRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)
	_ = ln.Close()

	exec := NewTCPExecutor(TargetPolicy{AllowPrivate: true})
	out := exec.Probe(context.Background(), tcpMonitor(host, port))
	if out.Status != OutcomeDown {
		t.Fatalf("expected down, got %s", out.Status)
	}
}

func TestTCPProbeBadConfig(t *testing.T) {
	exec := NewTCPExecutor(TargetPolicy{AllowPrivate: true})

	if out := exec.Probe(context.Background(), tcpMonitor("", 80)); out.Error != ErrBadConfig {
		t.Errorf("missing host: got %s", out.Error)
	}
	if out := exec.Probe(context.Background(), tcpMonitor("example.com", 0)); out.Error != ErrBadConfig {
		t.Errorf("port 0: got %s", out.Error)
	}
	if out := exec.Probe(context.Background(), tcpMonitor("example.com", 70000)); out.Error != ErrBadConfig {
		t.Errorf("port out of range: got %s", out.Error)
	}
}

func TestTCPProbeBlockedTarget(t *testing.T) {
	exec := NewTCPExecutor(TargetPolicy{})
	out := exec.Probe(context.Background(), tcpMonitor("127.0.0.1", 9))
	if out.Status != OutcomeDown || out.Error != ErrBlockedTarget {
		t.Errorf("expected down/blocked_target, got %s/%s", out.Status, out.Error)
	}
}
