package probe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/uptimerhq/uptimer/internal/db"
)

// Response bodies are only read for keyword assertions; cap how much we pull.
const maxAssertionBody = 1 << 20 // 1 MiB

// HTTPExecutor probes HTTP(S) monitors.
type HTTPExecutor struct {
	policy    TargetPolicy
	transport *http.Transport
}

func NewHTTPExecutor(policy TargetPolicy) *HTTPExecutor {
	dialer := &net.Dialer{Control: policy.DialControl}
	return &HTTPExecutor{
		policy: policy,
		transport: &http.Transport{
			DialContext: dialer.DialContext,
			// One-shot probes; a pooled connection would hide connect
			// failures from subsequent checks.
			DisableKeepAlives:   true,
			DisableCompression:  true,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}

// Probe issues one request per the monitor config. The configured timeout is
// a hard deadline spanning DNS, connect, TLS, send, and read.
func (e *HTTPExecutor) Probe(ctx context.Context, m db.Monitor) Outcome {
	cfg := m.Config
	if cfg.URL == "" {
		return down(ErrBadConfig)
	}
	if err := e.policy.ValidateURL(cfg.URL); err != nil {
		return down(ErrBlockedTarget)
	}

	timeout := time.Duration(m.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if cfg.Body != "" {
		body = strings.NewReader(cfg.Body)
	}
	req, err := http.NewRequestWithContext(ctx, method, cfg.URL, body)
	if err != nil {
		return down(ErrBadConfig)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	// Bypass every cache between us and the target; a cached 200 is not a
	// live signal.
	req.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept-Encoding", "identity")
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", "uptimer/1.0")
	}

	client := &http.Client{Transport: e.transport}
	if !cfg.FollowRedirects {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return downWithLatency(classifyHTTPError(err), time.Since(start).Milliseconds())
	}
	defer func() { _ = resp.Body.Close() }()

	// Latency stops at headers unless the assertion needs the body.
	latency := time.Since(start).Milliseconds()

	if !statusExpected(resp.StatusCode, cfg.ExpectedStatus) {
		return downWithLatency(fmt.Sprintf("http_%d", resp.StatusCode), latency)
	}

	if cfg.Keyword != "" {
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxAssertionBody))
		latency = time.Since(start).Milliseconds()
		if err != nil {
			return downWithLatency(classifyHTTPError(err), latency)
		}
		if !strings.Contains(string(data), cfg.Keyword) {
			return downWithLatency(ErrAssertionFailed, latency)
		}
	}

	return up(latency)
}

// statusExpected defaults to any 2xx when no set is configured.
func statusExpected(code int, expected []int) bool {
	if len(expected) == 0 {
		return code >= 200 && code < 300
	}
	for _, want := range expected {
		if code == want {
			return true
		}
	}
	return false
}

func classifyHTTPError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrDNS
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrConnectRefused
	}
	var certErr *tls.CertificateVerificationError
	var hostErr x509.HostnameError
	var unknownAuthErr x509.UnknownAuthorityError
	if errors.As(err, &certErr) || errors.As(err, &hostErr) || errors.As(err, &unknownAuthErr) {
		return ErrTLS
	}
	var recordErr tls.RecordHeaderError
	if errors.As(err, &recordErr) || strings.Contains(err.Error(), "tls:") {
		return ErrTLS
	}
	return ErrNetwork
}
