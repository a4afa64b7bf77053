// Package probe holds the stateless check primitives. An executor takes a
// monitor config and returns a typed outcome; no failure ever escapes as an
// error outside the contract.
package probe

import (
	"context"

	"github.com/uptimerhq/uptimer/internal/db"
)

// Outcome statuses mirror the raw probe vocabulary.
const (
	OutcomeUp   = db.StatusUp
	OutcomeDown = db.StatusDown
)

// Short error reasons recorded on failed probes.
const (
	ErrTimeout         = "timeout"
	ErrConnectRefused  = "connect_refused"
	ErrDNS             = "dns_error"
	ErrTLS             = "tls_error"
	ErrAssertionFailed = "assertion_failed"
	ErrBlockedTarget   = "blocked_target"
	ErrBadConfig       = "bad_config"
	ErrNetwork         = "network_error"
)

// Outcome is the result of one probe.
type Outcome struct {
	Status    string // up | down
	LatencyMs int64
	Error     string // short reason when down
}

func up(latencyMs int64) Outcome {
	return Outcome{Status: OutcomeUp, LatencyMs: latencyMs}
}

func down(reason string) Outcome {
	return Outcome{Status: OutcomeDown, Error: reason}
}

func downWithLatency(reason string, latencyMs int64) Outcome {
	return Outcome{Status: OutcomeDown, Error: reason, LatencyMs: latencyMs}
}

// Executor runs one check against a monitor's config. Implementations are
// stateless and safe for concurrent use.
type Executor interface {
	Probe(ctx context.Context, m db.Monitor) Outcome
}
