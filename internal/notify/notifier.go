package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/uptimerhq/uptimer/internal/db"
	"github.com/uptimerhq/uptimer/internal/logging"
)

// Event types dispatched to webhook channels.
const (
	EventIncidentCreated    = "incident.created"
	EventIncidentUpdated    = "incident.updated"
	EventIncidentResolved   = "incident.resolved"
	EventMaintenanceStarted = "maintenance.started"
	EventMaintenanceEnded   = "maintenance.ended"
	EventTestPing           = "test.ping"
)

const defaultChannelTimeoutMs = 5000

// Event is one notification to fan out. Key is the idempotency key: exactly
// one delivery row per (Key, channel) ever dispatches.
type Event struct {
	Type    string
	Key     string
	Payload map[string]any
}

// SecretResolver looks up a signing secret by its reference. Secrets live in
// the process environment, never in the database, and are resolved per call.
type SecretResolver func(ref string) (string, bool)

// Notifier dispatches events to every configured webhook channel with
// at-most-once-per-(event, channel) semantics backed by the delivery ledger.
type Notifier struct {
	store       *db.Store
	concurrency int
	resolve     SecretResolver
	client      *http.Client
	log         *log.Logger

	nowFn func() int64
}

func NewNotifier(store *db.Store, concurrency int) *Notifier {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Notifier{
		store:       store,
		concurrency: concurrency,
		resolve:     os.LookupEnv,
		client:      &http.Client{},
		log:         logging.New("notifier"),
		nowFn:       func() int64 { return time.Now().Unix() },
	}
}

// Dispatch fans the event out to all channels. Per-channel failures are
// aggregated, never fatal to the other channels; a channel that already
// holds a delivery row for the event key is skipped silently.
func (n *Notifier) Dispatch(ctx context.Context, ev Event) error {
	channels, err := n.store.GetChannels()
	if err != nil {
		return fmt.Errorf("load channels: %w", err)
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
		wg   sync.WaitGroup
	)
	sem := make(chan struct{}, n.concurrency)

	for _, ch := range channels {
		if !channelWantsEvent(ch, ev.Type) {
			continue
		}
		wg.Add(1)
		go func(ch db.NotificationChannel) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := n.dispatchToChannel(ctx, ch, ev); err != nil {
				n.log.Printf("delivery %s -> channel %s (%s): %v", ev.Key, ch.Name, ch.ID, err)
				mu.Lock()
				errs = multierror.Append(errs, err)
				mu.Unlock()
			}
		}(ch)
	}
	wg.Wait()
	return errs.ErrorOrNil()
}

// channelWantsEvent applies the channel's enabled_events filter. test.ping
// bypasses the filter so operators can always exercise a channel.
func channelWantsEvent(ch db.NotificationChannel, eventType string) bool {
	if eventType == EventTestPing {
		return true
	}
	if len(ch.Config.EnabledEvents) == 0 {
		return true
	}
	for _, e := range ch.Config.EnabledEvents {
		if e == eventType {
			return true
		}
	}
	return false
}

func (n *Notifier) dispatchToChannel(ctx context.Context, ch db.NotificationChannel, ev Event) error {
	now := n.nowFn()

	// The unique (event_key, channel_id) claim is the at-most-once gate:
	// losing it means another dispatch already handled or is handling this
	// pair.
	if err := n.store.ClaimDelivery(ev.Key, ch.ID, now); err != nil {
		if errors.Is(err, db.ErrDeliveryExists) {
			return nil
		}
		return fmt.Errorf("claim delivery: %w", err)
	}

	status, httpStatus, sendErr := n.send(ctx, ch, ev)

	var errMsg string
	if sendErr != nil {
		errMsg = sendErr.Error()
	}
	if err := n.store.FinalizeDelivery(ev.Key, ch.ID, status, httpStatus, errMsg, n.nowFn()); err != nil {
		return fmt.Errorf("finalize delivery: %w", err)
	}
	if sendErr != nil {
		return fmt.Errorf("channel %s: %w", ch.ID, sendErr)
	}
	return nil
}

// send builds and performs the webhook request. It returns the delivery
// status to record, the HTTP status if a response was received, and the
// failure reason.
func (n *Notifier) send(ctx context.Context, ch db.NotificationChannel, ev Event) (string, *int, error) {
	cfg := ch.Config
	if cfg.URL == "" {
		return db.DeliveryFailed, nil, errors.New("channel has no url")
	}

	vars := templateVars(ch, ev, n.nowFn())

	message := cfg.MessageTemplate
	if message == "" {
		message = defaultMessageTemplate(ev.Type)
	}
	message = RenderString(message, vars)

	payload, err := n.buildPayload(cfg, ev, vars, message)
	if err != nil {
		return db.DeliveryFailed, nil, err
	}

	method := strings.ToUpper(cfg.Method)
	if method == "" {
		method = http.MethodPost
	}

	payloadType := db.ParsePayloadType(cfg.PayloadType)
	if !methodCarriesBody(method) {
		payloadType = db.PayloadParam
	}

	targetURL := cfg.URL
	var body []byte
	contentType := ""

	switch payloadType {
	case db.PayloadJSON:
		body, err = json.Marshal(payload)
		if err != nil {
			return db.DeliveryFailed, nil, err
		}
		contentType = "application/json"
	case db.PayloadForm:
		body = []byte(flattenParams(payload).Encode())
		contentType = "application/x-www-form-urlencoded"
	case db.PayloadParam:
		u, err := url.Parse(cfg.URL)
		if err != nil {
			return db.DeliveryFailed, nil, fmt.Errorf("invalid channel url: %w", err)
		}
		q := u.Query()
		for k, vs := range flattenParams(payload) {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		targetURL = u.String()
	}

	timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = defaultChannelTimeoutMs * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, targetURL, reader)
	if err != nil {
		return db.DeliveryFailed, nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	if cfg.Signing != nil && cfg.Signing.Enabled {
		secret, ok := n.resolve(cfg.Signing.SecretRef)
		if !ok || secret == "" {
			return db.DeliveryFailed, nil, fmt.Errorf("signing secret %q not resolvable", cfg.Signing.SecretRef)
		}
		ts := n.nowFn()
		req.Header.Set(HeaderTimestamp, fmt.Sprintf("%d", ts))
		req.Header.Set(HeaderSignature, Sign(secret, ts, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return db.DeliveryFailed, nil, errors.New("timeout")
		}
		return db.DeliveryFailed, nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	code := resp.StatusCode
	if code >= 200 && code < 300 {
		return db.DeliverySuccess, &code, nil
	}
	return db.DeliveryFailed, &code, fmt.Errorf("HTTP %d", code)
}

func (n *Notifier) buildPayload(cfg db.ChannelConfig, ev Event, vars map[string]string, message string) (any, error) {
	if len(cfg.PayloadTemplate) > 0 {
		return RenderJSON(cfg.PayloadTemplate, vars)
	}
	payload := map[string]any{
		"event":     ev.Type,
		"event_id":  vars["event_id"],
		"timestamp": vars["timestamp"],
		"message":   message,
	}
	for k, v := range ev.Payload {
		payload[k] = v
	}
	return payload, nil
}

// templateVars flattens the event payload into string substitution
// variables plus the standard channel/event fields.
func templateVars(ch db.NotificationChannel, ev Event, now int64) map[string]string {
	vars := map[string]string{
		"channel":   ch.Name,
		"event":     ev.Type,
		"event_id":  uuid.NewString(),
		"timestamp": fmt.Sprintf("%d", now),
	}
	for k, v := range ev.Payload {
		vars[k] = coerceString(v)
	}
	return vars
}

func coerceString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}

// flattenParams converts a payload tree into flat string-coerced form
// values. Nested structures are JSON-encoded under their key.
func flattenParams(payload any) url.Values {
	values := url.Values{}
	m, ok := payload.(map[string]any)
	if !ok {
		data, _ := json.Marshal(payload)
		values.Set("payload", string(data))
		return values
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			values.Set(k, v)
		case nil:
			// skip
		case map[string]any, []any:
			data, _ := json.Marshal(v)
			values.Set(k, string(data))
		default:
			values.Set(k, coerceString(v))
		}
	}
	return values
}

func methodCarriesBody(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodDelete:
		return false
	default:
		return true
	}
}

func defaultMessageTemplate(eventType string) string {
	switch eventType {
	case "monitor.down":
		return "Monitor {monitor_name} is down: {error}"
	case "monitor.up":
		return "Monitor {monitor_name} is up again"
	case EventIncidentCreated:
		return "Incident opened: {title}"
	case EventIncidentUpdated:
		return "Incident update: {title} ({status})"
	case EventIncidentResolved:
		return "Incident resolved: {title}"
	case EventMaintenanceStarted:
		return "Maintenance started: {title}"
	case EventMaintenanceEnded:
		return "Maintenance ended: {title}"
	case EventTestPing:
		return "Test notification from Uptimer"
	default:
		return "{event}"
	}
}

// TestPing sends a synthetic event through the full delivery path. The key
// embeds a fresh id so repeated pings are not deduplicated away.
func (n *Notifier) TestPing(ctx context.Context) error {
	return n.Dispatch(ctx, Event{
		Type: EventTestPing,
		Key:  fmt.Sprintf("%s:%s", EventTestPing, uuid.NewString()),
		Payload: map[string]any{
			"message": "Test notification from Uptimer",
		},
	})
}
